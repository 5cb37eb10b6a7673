// Package trainer runs the joint supervised + domain-adaptation loop: a
// labeled source domain trains the model directly while the unlabeled target
// domain contributes through pseudo-labeled class mixing. The trainer owns
// the epoch loop, validation cadence, checkpointing, and the live stats view
// served over the stats socket.
package trainer

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/ckpt"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/config"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/loader"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/optim"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/sched"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/seg"
)

// ScalarSink receives the per-step scalar stream.
type ScalarSink interface {
	Add(sc *run.Scalar)
}

// EpochSink receives one summary per finished epoch.
type EpochSink interface {
	InsertEpochSummary(es *run.EpochSummary) error
}

// Options bundles the trainer's collaborators. Scalars, Epochs, and Ckpts
// are optional; a nil sink is skipped.
type Options struct {
	Config    *config.Config
	Model     *seg.FullModel
	Optimizer optim.Optimizer
	Schedule  sched.Schedule
	Pairs     *loader.PairLoader
	Val       *loader.Loader
	Run       run.Run
	Scalars   ScalarSink
	Epochs    EpochSink
	Ckpts     *ckpt.Manager
}

// Trainer drives one training run.
type Trainer struct {
	cfg     *config.Config
	model   *seg.FullModel
	opt     optim.Optimizer
	sched   sched.Schedule
	pairs   *loader.PairLoader
	val     *loader.Loader
	meta    run.Run
	scalars ScalarSink
	epochs  EpochSink
	ckpts   *ckpt.Manager

	live *liveStats

	numParams int64
	flops     int64

	bestIoU    float64
	startEpoch int
	resumed    bool

	trainStep int64
	valStep   int64
}

// New wires a trainer from its collaborators.
func New(opts Options) (*Trainer, error) {
	switch {
	case opts.Config == nil:
		return nil, fmt.Errorf("trainer: nil config")
	case opts.Model == nil:
		return nil, fmt.Errorf("trainer: nil model")
	case opts.Optimizer == nil:
		return nil, fmt.Errorf("trainer: nil optimizer")
	case opts.Schedule == nil:
		return nil, fmt.Errorf("trainer: nil schedule")
	case opts.Pairs == nil:
		return nil, fmt.Errorf("trainer: nil pair loader")
	case opts.Val == nil:
		return nil, fmt.Errorf("trainer: nil validation loader")
	}

	params, flops := opts.Model.Net.Complexity(opts.Config.Train.ImageHeight, opts.Config.Train.ImageWidth)

	t := &Trainer{
		cfg:       opts.Config,
		model:     opts.Model,
		opt:       opts.Optimizer,
		sched:     opts.Schedule,
		pairs:     opts.Pairs,
		val:       opts.Val,
		meta:      opts.Run,
		scalars:   opts.Scalars,
		epochs:    opts.Epochs,
		ckpts:     opts.Ckpts,
		numParams: params,
		flops:     flops,
	}
	t.live = newLiveStats(opts.Run, opts.Config.RealEnd())
	return t, nil
}

// Stats returns the live view served to dashboards.
func (t *Trainer) Stats() run.StatsQuerier { return t.live }

// BestIoU reports the best validation score seen so far.
func (t *Trainer) BestIoU() float64 { return t.bestIoU }

// Complexity reports the model's parameter count and forward FLOPs at the
// training resolution.
func (t *Trainer) Complexity() (params, flops int64) { return t.numParams, t.flops }

// emit sends one scalar to the sink and the live view.
func (t *Trainer) emit(phase, name string, step int64, epoch int, value float64) {
	sc := run.Scalar{
		RunID:      t.meta.ID,
		Phase:      phase,
		Name:       name,
		Step:       step,
		Epoch:      epoch,
		Value:      value,
		RecordedAt: time.Now().UTC(),
	}
	if t.scalars != nil {
		t.scalars.Add(&sc)
	}
	t.live.recordScalar(sc)
}

// stepSeed derives the deterministic rng seed for one training step.
func (t *Trainer) stepSeed(epoch, step int) int64 {
	return t.meta.Seed ^ (int64(epoch)+1)*0x9E3779B97F4A7C15 ^ (int64(step)+1)*0xBF58476D1CE4E5B9
}

func (t *Trainer) stepRNG(epoch, step int) *rand.Rand {
	return rand.New(rand.NewSource(t.stepSeed(epoch, step)))
}
