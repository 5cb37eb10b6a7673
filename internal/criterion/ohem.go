package criterion

import (
	"sort"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// Ohem is online hard example mining over cross entropy. Only pixels whose
// predicted probability of the true class falls below a threshold are
// counted; the threshold is raised when fewer than minKept pixels would
// qualify. The result is the plain mean over kept pixels.
type Ohem struct {
	ce      *CrossEntropy
	thres   float64
	minKept int
}

// NewOhem builds an OHEM loss around the given cross entropy settings.
func NewOhem(ignore int32, weights []float32, thres float64, minKept int) *Ohem {
	return &Ohem{ce: NewCrossEntropy(ignore, weights), thres: thres, minKept: minKept}
}

func (o *Ohem) Name() string { return "ohem" }

func (o *Ohem) Forward(logits *tensor.Dense, target *tensor.Ints, grad *tensor.Dense) (float64, error) {
	n, k, plane, err := checkShapes(logits, target, grad)
	if err != nil {
		return 0, err
	}
	probs, err := tensor.SoftmaxChannel(logits)
	if err != nil {
		return 0, err
	}
	grad.Zero()

	type pix struct {
		b, i int
		y    int32
		prob float32
	}
	var valid []pix
	for b := 0; b < n; b++ {
		for i := 0; i < plane; i++ {
			y := target.Data[b*plane+i]
			if y == o.ce.ignore || y < 0 || y >= int32(k) {
				continue
			}
			valid = append(valid, pix{b: b, i: i, y: y, prob: probs.Data[(b*k+int(y))*plane+i]})
		}
	}
	if len(valid) == 0 {
		return 0, nil
	}

	sorted := make([]float32, len(valid))
	for i, p := range valid {
		sorted[i] = p.prob
	}
	sort.Slice(sorted, func(a, b int) bool { return sorted[a] < sorted[b] })
	idx := o.minKept
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	threshold := o.thres
	if mv := float64(sorted[idx]); mv > threshold {
		threshold = mv
	}

	kept := valid[:0]
	for _, p := range valid {
		if float64(p.prob) < threshold {
			kept = append(kept, p)
		}
	}
	// A uniformly confident batch can leave nothing below the threshold.
	if len(kept) == 0 {
		kept = valid
	}

	var loss float64
	inv := float32(1) / float32(len(kept))
	for _, p := range kept {
		wy := o.ce.classWeight(p.y)
		loss += float64(wy) * -safeLog(p.prob)
		for cc := 0; cc < k; cc++ {
			g := probs.Data[(p.b*k+cc)*plane+p.i]
			if int32(cc) == p.y {
				g -= 1
			}
			grad.Data[(p.b*k+cc)*plane+p.i] = wy * g * inv
		}
	}
	return loss / float64(len(kept)), nil
}
