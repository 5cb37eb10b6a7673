// Package seg defines the segmentation model contract and the lightnet
// reference network. Models own their parameters and gradient buffers;
// the optimizer and checkpoint layers address both by name.
package seg

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// Output carries the three head outputs of one forward pass. Semantic and
// Aux are NKHW class logits, Boundary is an N1HW edge logit map.
type Output struct {
	Semantic *tensor.Dense
	Aux      *tensor.Dense
	Boundary *tensor.Dense
}

// Model is a trainable segmentation network.
type Model interface {
	Name() string
	NumClasses() int
	// Forward keeps the activations it needs for the next Backward.
	Forward(x *tensor.Dense) (*Output, error)
	// Backward accumulates parameter gradients from per-head logit
	// gradients. Any head gradient may be nil to skip that head.
	Backward(gradSem, gradAux, gradBd *tensor.Dense) error
	Params() []tensor.Param
	ZeroGrad()
	StateMap() map[string][]float32
	LoadStateMap(state map[string][]float32) error
	// Complexity reports parameter count and forward FLOPs for one image
	// of the given size.
	Complexity(h, w int) (params, flops int64)
}

// Config selects and sizes a model.
type Config struct {
	Name       string
	InChannels int
	Hidden     int
	NumClasses int
}

// Preset widths for the named variants; an explicit Hidden wins.
var presetHidden = map[string]int{
	"lightnet":   32,
	"lightnet-s": 16,
	"lightnet-m": 32,
	"lightnet-l": 64,
}

// New builds the model named in cfg, initialized from rng.
func New(cfg Config, rng *rand.Rand) (Model, error) {
	name := strings.ToLower(cfg.Name)
	if name == "" {
		name = "lightnet"
	}
	hidden, ok := presetHidden[name]
	if !ok {
		return nil, fmt.Errorf("seg: unknown model %q", cfg.Name)
	}
	if cfg.Hidden > 0 {
		hidden = cfg.Hidden
	}
	return newLightNet(name, cfg.InChannels, hidden, cfg.NumClasses, rng)
}
