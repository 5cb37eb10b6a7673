package criterion

import (
	"math"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// Focal is cross entropy scaled per pixel by (1-p)^gamma, down-weighting
// pixels the model already gets right.
type Focal struct {
	ignore  int32
	weights []float32
	gamma   float64
}

// NewFocal builds a focal loss with the given focusing exponent.
func NewFocal(ignore int32, weights []float32, gamma float64) *Focal {
	return &Focal{ignore: ignore, weights: weights, gamma: gamma}
}

func (f *Focal) Name() string { return "focal" }

func (f *Focal) classWeight(y int32) float64 {
	if f.weights == nil {
		return 1
	}
	return float64(f.weights[y])
}

func (f *Focal) Forward(logits *tensor.Dense, target *tensor.Ints, grad *tensor.Dense) (float64, error) {
	n, k, plane, err := checkShapes(logits, target, grad)
	if err != nil {
		return 0, err
	}
	probs, err := tensor.SoftmaxChannel(logits)
	if err != nil {
		return 0, err
	}
	grad.Zero()
	var loss, wsum float64
	for b := 0; b < n; b++ {
		for i := 0; i < plane; i++ {
			y := target.Data[b*plane+i]
			if y == f.ignore || y < 0 || y >= int32(k) {
				continue
			}
			wy := f.classWeight(y)
			py := float64(probs.Data[(b*k+int(y))*plane+i])
			if py < minProb {
				py = minProb
			}
			q := 1 - py
			if q < minProb {
				q = minProb
			}
			logp := math.Log(py)
			loss += wy * math.Pow(q, f.gamma) * -logp
			wsum += wy

			// d/dp of -w (1-p)^g log p, then through the softmax.
			dfdp := wy*f.gamma*math.Pow(q, f.gamma-1)*logp - wy*math.Pow(q, f.gamma)/py
			for cc := 0; cc < k; cc++ {
				pc := float64(probs.Data[(b*k+cc)*plane+i])
				delta := 0.0
				if int32(cc) == y {
					delta = 1
				}
				grad.Data[(b*k+cc)*plane+i] = float32(dfdp * py * (delta - pc))
			}
		}
	}
	if wsum == 0 {
		grad.Zero()
		return 0, nil
	}
	grad.Scale(float32(1 / wsum))
	return loss / wsum, nil
}
