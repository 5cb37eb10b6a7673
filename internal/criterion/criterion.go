// Package criterion implements the segmentation losses. Every loss returns
// a scalar and fills the caller's gradient buffer with dLoss/dLogits, so
// the model's backward pass only has to chain from the logits down.
package criterion

import (
	"fmt"
	"math"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// Loss scores NCHW logits against NHW integer targets. Forward overwrites
// grad, which must share the logits' shape.
type Loss interface {
	Name() string
	Forward(logits *tensor.Dense, target *tensor.Ints, grad *tensor.Dense) (float64, error)
}

// Config selects the semantic loss. The flags are checked in order: OHEM
// wins over dice, dice over focal, and plain cross entropy is the fallback.
type Config struct {
	NumClasses   int
	IgnoreLabel  int32
	ClassWeights []float64
	UseOhem      bool
	OhemThres    float64
	OhemKeep     int
	UseDice      bool
	UseFocal     bool
	FocalGamma   float64
}

// FromConfig builds the configured semantic loss.
func FromConfig(cfg Config) (Loss, error) {
	if cfg.NumClasses < 2 {
		return nil, fmt.Errorf("criterion: need at least 2 classes, got %d", cfg.NumClasses)
	}
	var weights []float32
	if len(cfg.ClassWeights) > 0 {
		if len(cfg.ClassWeights) != cfg.NumClasses {
			return nil, fmt.Errorf("criterion: %d class weights for %d classes", len(cfg.ClassWeights), cfg.NumClasses)
		}
		weights = make([]float32, len(cfg.ClassWeights))
		for i, w := range cfg.ClassWeights {
			weights[i] = float32(w)
		}
	}
	ce := &CrossEntropy{ignore: cfg.IgnoreLabel, weights: weights}
	switch {
	case cfg.UseOhem:
		thres := cfg.OhemThres
		if thres <= 0 {
			thres = 0.9
		}
		return &Ohem{ce: ce, thres: thres, minKept: cfg.OhemKeep}, nil
	case cfg.UseDice:
		return &Dice{ignore: cfg.IgnoreLabel}, nil
	case cfg.UseFocal:
		gamma := cfg.FocalGamma
		if gamma <= 0 {
			gamma = 2
		}
		return &Focal{ignore: cfg.IgnoreLabel, weights: weights, gamma: gamma}, nil
	default:
		return ce, nil
	}
}

const minProb = 1e-12

func safeLog(p float32) float64 {
	v := float64(p)
	if v < minProb {
		v = minProb
	}
	return math.Log(v)
}

func checkShapes(logits *tensor.Dense, target *tensor.Ints, grad *tensor.Dense) (n, k, plane int, err error) {
	if len(logits.Shape) != 4 {
		return 0, 0, 0, fmt.Errorf("criterion: logits must be NCHW, got %v", logits.Shape)
	}
	n, k = logits.Shape[0], logits.Shape[1]
	h, w := logits.Shape[2], logits.Shape[3]
	if len(target.Shape) != 3 || target.Shape[0] != n || target.Shape[1] != h || target.Shape[2] != w {
		return 0, 0, 0, fmt.Errorf("criterion: target shape %v does not match logits %v", target.Shape, logits.Shape)
	}
	if !tensor.SameShape(grad.Shape, logits.Shape) {
		return 0, 0, 0, fmt.Errorf("criterion: grad shape %v does not match logits %v", grad.Shape, logits.Shape)
	}
	return n, k, h * w, nil
}
