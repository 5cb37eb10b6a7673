// Package optim implements the gradient descent optimizers used by the
// training loop. Optimizer state is addressable by parameter name so it
// survives a checkpoint round trip.
package optim

import (
	"fmt"
	"strings"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// Optimizer applies one update step to a parameter set.
type Optimizer interface {
	Name() string
	Step(params []tensor.Param) error
	LR() float64
	SetLR(lr float64)
	State() State
	LoadState(s State) error
}

// Config selects and tunes an optimizer.
type Config struct {
	Name        string
	LR          float64
	Momentum    float64
	WeightDecay float64
	Nesterov    bool
}

// New builds the optimizer named in cfg. Anything other than sgd or adam
// is rejected.
func New(cfg Config) (Optimizer, error) {
	switch strings.ToLower(cfg.Name) {
	case "sgd":
		return NewSGD(cfg.LR, cfg.Momentum, cfg.WeightDecay, cfg.Nesterov), nil
	case "adam":
		return NewAdam(cfg.LR, cfg.WeightDecay), nil
	default:
		return nil, fmt.Errorf("optim: unsupported optimizer %q, only sgd and adam", cfg.Name)
	}
}

// State is a serializable snapshot of an optimizer's buffers. Buffer maps
// are keyed by parameter name.
type State struct {
	Name     string               `json:"name"`
	LR       float64              `json:"lr"`
	Step     int64                `json:"step,omitempty"`
	Momentum map[string][]float32 `json:"momentum,omitempty"`
	M        map[string][]float32 `json:"m,omitempty"`
	V        map[string][]float32 `json:"v,omitempty"`
}

func cloneSlots(src map[string][]float32) map[string][]float32 {
	if src == nil {
		return nil
	}
	dst := make(map[string][]float32, len(src))
	for k, v := range src {
		c := make([]float32, len(v))
		copy(c, v)
		dst[k] = c
	}
	return dst
}
