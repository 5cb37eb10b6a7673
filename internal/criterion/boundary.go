package criterion

import (
	"fmt"
	"math"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// BoundaryBCE is class-balanced binary cross entropy for the single-channel
// boundary head. Positive pixels are weighted by the negative fraction and
// vice versa. Targets other than 0 or 1 carry zero weight.
type BoundaryBCE struct{}

// NewBoundaryBCE builds the boundary loss.
func NewBoundaryBCE() *BoundaryBCE { return &BoundaryBCE{} }

func (b *BoundaryBCE) Name() string { return "boundary-bce" }

func (b *BoundaryBCE) Forward(logits *tensor.Dense, target *tensor.Ints, grad *tensor.Dense) (float64, error) {
	n, k, plane, err := checkShapes(logits, target, grad)
	if err != nil {
		return 0, err
	}
	if k != 1 {
		return 0, fmt.Errorf("criterion: boundary logits must have 1 channel, got %d", k)
	}
	grad.Zero()

	var pos, neg int
	for _, t := range target.Data {
		switch t {
		case 1:
			pos++
		case 0:
			neg++
		}
	}
	total := pos + neg
	if total == 0 || pos == 0 || neg == 0 {
		// No positives or no negatives puts zero weight on every pixel.
		return 0, nil
	}
	wPos := float64(neg) / float64(total)
	wNeg := float64(pos) / float64(total)
	inv := 1 / float64(n*plane)

	var loss float64
	for bb := 0; bb < n; bb++ {
		for i := 0; i < plane; i++ {
			t := target.Data[bb*plane+i]
			var w, tv float64
			switch t {
			case 1:
				w, tv = wPos, 1
			case 0:
				w, tv = wNeg, 0
			default:
				continue
			}
			x := float64(logits.Data[bb*plane+i])
			// log(1+exp(-|x|)) keeps the BCE stable for large logits.
			l := math.Max(x, 0) - x*tv + math.Log1p(math.Exp(-math.Abs(x)))
			loss += w * l
			sig := 1 / (1 + math.Exp(-x))
			grad.Data[bb*plane+i] = float32(w * (sig - tv) * inv)
		}
	}
	return loss * inv, nil
}
