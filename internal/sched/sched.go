// Package sched computes learning-rate schedules as pure functions of the
// epoch (or iteration) index, so the training loop stays trivially testable.
package sched

import (
	"fmt"
	"math"
)

// Schedule yields the learning rate to apply for a given epoch.
type Schedule interface {
	Name() string
	LR(epoch int) float64
}

// Constant keeps the base learning rate for every epoch.
type Constant struct{ Base float64 }

func (c Constant) Name() string         { return "constant" }
func (c Constant) LR(epoch int) float64 { return c.Base }

// WarmupCosine ramps linearly for the first WarmupEpochs, then follows cosine
// annealing from Base down to MinLR over EndEpoch-WarmupEpochs epochs.
type WarmupCosine struct {
	Base         float64
	MinLR        float64
	WarmupEpochs int
	EndEpoch     int
}

// NewWarmupCosine validates the horizon and returns the schedule.
func NewWarmupCosine(base, minLR float64, warmupEpochs, endEpoch int) (WarmupCosine, error) {
	if endEpoch <= warmupEpochs {
		return WarmupCosine{}, fmt.Errorf("sched: end epoch %d must exceed warmup %d", endEpoch, warmupEpochs)
	}
	if base <= 0 {
		return WarmupCosine{}, fmt.Errorf("sched: base lr %g must be positive", base)
	}
	return WarmupCosine{Base: base, MinLR: minLR, WarmupEpochs: warmupEpochs, EndEpoch: endEpoch}, nil
}

func (s WarmupCosine) Name() string { return "warmup-cosine" }

// LR returns the warm-up ramp for the first WarmupEpochs epochs, then the
// annealed rate. The annealing step count is clamped to the horizon so the
// last epoch lands exactly on MinLR.
func (s WarmupCosine) LR(epoch int) float64 {
	if s.WarmupEpochs > 0 && epoch < s.WarmupEpochs {
		return s.Base * float64(epoch+1) / float64(s.WarmupEpochs)
	}
	tmax := s.EndEpoch - s.WarmupEpochs
	t := epoch - s.WarmupEpochs + 1
	if t > tmax {
		t = tmax
	}
	return s.MinLR + (s.Base-s.MinLR)*(1+math.Cos(math.Pi*float64(t)/float64(tmax)))/2
}

// InWarmup reports whether the epoch is still in the linear ramp.
func (s WarmupCosine) InWarmup(epoch int) bool {
	return s.WarmupEpochs > 0 && epoch < s.WarmupEpochs
}

// Poly is the polynomial decay schedule applied per iteration.
type Poly struct {
	Base    float64
	MaxIter int
	Power   float64
}

func (p Poly) Name() string { return "poly" }

// LR treats the argument as a global iteration index.
func (p Poly) LR(iter int) float64 {
	if p.MaxIter <= 0 {
		return p.Base
	}
	frac := 1 - float64(iter)/float64(p.MaxIter)
	if frac < 0 {
		frac = 0
	}
	power := p.Power
	if power == 0 {
		power = 0.9
	}
	return p.Base * math.Pow(frac, power)
}
