package criterion

import (
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// Dice is a multiclass soft dice loss over softmax probabilities,
// averaged across classes. Ignored pixels are left out of both the
// numerator and the denominator.
type Dice struct {
	ignore int32
}

// NewDice builds a dice loss.
func NewDice(ignore int32) *Dice { return &Dice{ignore: ignore} }

func (d *Dice) Name() string { return "dice" }

const diceSmooth = 1.0

func (d *Dice) Forward(logits *tensor.Dense, target *tensor.Ints, grad *tensor.Dense) (float64, error) {
	n, k, plane, err := checkShapes(logits, target, grad)
	if err != nil {
		return 0, err
	}
	probs, err := tensor.SoftmaxChannel(logits)
	if err != nil {
		return 0, err
	}
	grad.Zero()

	inter := make([]float64, k)
	probSum := make([]float64, k)
	targetSum := make([]float64, k)
	anyValid := false
	for b := 0; b < n; b++ {
		for i := 0; i < plane; i++ {
			y := target.Data[b*plane+i]
			if y == d.ignore || y < 0 || y >= int32(k) {
				continue
			}
			anyValid = true
			for cc := 0; cc < k; cc++ {
				p := float64(probs.Data[(b*k+cc)*plane+i])
				probSum[cc] += p
				if int32(cc) == y {
					inter[cc] += p
					targetSum[cc]++
				}
			}
		}
	}
	if !anyValid {
		return 0, nil
	}

	loss := 1.0
	num := make([]float64, k)
	den := make([]float64, k)
	for c := 0; c < k; c++ {
		num[c] = 2*inter[c] + diceSmooth
		den[c] = probSum[c] + targetSum[c] + diceSmooth
		loss -= num[c] / den[c] / float64(k)
	}

	// dL/dp per pixel, then through the softmax jacobian.
	dp := make([]float64, k)
	for b := 0; b < n; b++ {
		for i := 0; i < plane; i++ {
			y := target.Data[b*plane+i]
			if y == d.ignore || y < 0 || y >= int32(k) {
				continue
			}
			var dot float64
			for cc := 0; cc < k; cc++ {
				t := 0.0
				if int32(cc) == y {
					t = 1
				}
				dp[cc] = -(2*t*den[cc] - num[cc]) / (den[cc] * den[cc]) / float64(k)
				dot += dp[cc] * float64(probs.Data[(b*k+cc)*plane+i])
			}
			for cc := 0; cc < k; cc++ {
				p := float64(probs.Data[(b*k+cc)*plane+i])
				grad.Data[(b*k+cc)*plane+i] = float32(p * (dp[cc] - dot))
			}
		}
	}
	return loss, nil
}
