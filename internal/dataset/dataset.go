// Package dataset resolves split descriptors into segmentation datasets
// and implements the sample transforms applied before batching. Two kinds
// of dataset exist: the generated synthshift domains used for self-
// contained runs, and list-file datasets reading PNG pairs from disk.
package dataset

import (
	"fmt"
	"strings"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// Sample is one image with its optional ground truth. Image is CHW and
// normalized; Label and Boundary are HW and nil on unlabeled domains.
type Sample struct {
	Name     string
	Image    *tensor.Dense
	Label    *tensor.Ints
	Boundary *tensor.Ints
}

// Clone deep-copies a sample.
func (s *Sample) Clone() *Sample {
	out := &Sample{Name: s.Name, Image: s.Image.Clone()}
	if s.Label != nil {
		out.Label = s.Label.Clone()
	}
	if s.Boundary != nil {
		out.Boundary = s.Boundary.Clone()
	}
	return out
}

// Dataset is an indexable collection of raw samples. Sample must be safe
// for concurrent callers and deterministic per index.
type Dataset interface {
	Name() string
	Len() int
	Sample(idx int) (*Sample, error)
}

// Weighter is implemented by datasets that carry per-class loss weights.
type Weighter interface {
	ClassWeights() []float64
}

// Config carries the dataset tree of the run configuration.
type Config struct {
	Root        string
	NumClasses  int
	IgnoreLabel int32
	ClassesFile string
	Mean        [3]float32
	Std         [3]float32
	Seed        int64

	SynthTrainLen int
	SynthValLen   int
	SynthHeight   int
	SynthWidth    int

	CacheSize int
}

// DefaultMean and DefaultStd are the usual ImageNet normalization values.
var (
	DefaultMean = [3]float32{0.485, 0.456, 0.406}
	DefaultStd  = [3]float32{0.229, 0.224, 0.225}
)

func (c Config) withDefaults() Config {
	if c.Mean == ([3]float32{}) {
		c.Mean = DefaultMean
	}
	if c.Std == ([3]float32{}) {
		c.Std = DefaultStd
	}
	if c.SynthTrainLen <= 0 {
		c.SynthTrainLen = 64
	}
	if c.SynthValLen <= 0 {
		c.SynthValLen = 16
	}
	if c.SynthHeight <= 0 {
		c.SynthHeight = 64
	}
	if c.SynthWidth <= 0 {
		c.SynthWidth = 64
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 128
	}
	return c
}

// Open resolves a split descriptor. Descriptors of the form
// "synthshift/<split>" select a generated domain; anything else is read
// as a list file under the dataset root.
func Open(cfg Config, descriptor string) (Dataset, error) {
	if descriptor == "" {
		return nil, fmt.Errorf("dataset: empty split descriptor")
	}
	if cfg.NumClasses < 2 {
		return nil, fmt.Errorf("dataset: need at least 2 classes, got %d", cfg.NumClasses)
	}
	cfg = cfg.withDefaults()
	if split, ok := strings.CutPrefix(descriptor, "synthshift/"); ok {
		return newSynthShift(cfg, split)
	}
	return openListFile(cfg, descriptor)
}
