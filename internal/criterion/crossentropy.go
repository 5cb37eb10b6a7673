package criterion

import (
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// CrossEntropy is softmax cross entropy with optional per-class weights.
// The loss is normalized by the summed weights of the counted pixels, so
// with unit weights it is the mean over valid pixels.
type CrossEntropy struct {
	ignore  int32
	weights []float32
}

// NewCrossEntropy builds a plain weighted cross entropy loss.
func NewCrossEntropy(ignore int32, weights []float32) *CrossEntropy {
	return &CrossEntropy{ignore: ignore, weights: weights}
}

func (c *CrossEntropy) Name() string { return "ce" }

func (c *CrossEntropy) classWeight(y int32) float32 {
	if c.weights == nil {
		return 1
	}
	return c.weights[y]
}

func (c *CrossEntropy) Forward(logits *tensor.Dense, target *tensor.Ints, grad *tensor.Dense) (float64, error) {
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
			if y == c.ignore || y < 0 || y >= int32(k) {
				continue
			}
			wy := c.classWeight(y)
			loss += float64(wy) * -safeLog(probs.Data[(b*k+int(y))*plane+i])
			wsum += float64(wy)
			for cc := 0; cc < k; cc++ {
				g := probs.Data[(b*k+cc)*plane+i]
				if int32(cc) == y {
					g -= 1
				}
				grad.Data[(b*k+cc)*plane+i] = wy * g
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
