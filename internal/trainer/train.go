package trainer

import (
	"context"
	"fmt"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/loader"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/metrics"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
)

// EpochLosses carries the averaged loss terms of one training epoch.
type EpochLosses struct {
	Source float64
	Target float64
	Total  float64
}

// TrainEpoch runs one pass over the paired loaders. Each step trains on a
// labeled source batch and on a class-mixed target batch built from the
// model's own pseudo-labels, then applies a single optimizer update.
func (t *Trainer) TrainEpoch(ctx context.Context, epoch int) (EpochLosses, error) {
	var srcMeter, tgtMeter, totMeter metrics.AverageMeter

	epochCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pairs, wait := t.pairs.Epoch(epochCtx, epoch)
	var stepErr error
	for p := range pairs {
		if stepErr != nil {
			continue // drain so wait can return
		}
		srcLoss, tgtLoss, err := t.trainStepPair(epoch, p)
		if err != nil {
			stepErr = fmt.Errorf("trainer: epoch %d step %d: %w", epoch, p.Step, err)
			cancel()
			continue
		}

		srcMeter.Update(srcLoss)
		tgtMeter.Update(tgtLoss)
		totMeter.Update(srcLoss + tgtLoss)

		step := t.trainStep
		t.trainStep++
		t.emit(run.PhaseTrain, "loss/source", step, epoch, srcLoss)
		t.emit(run.PhaseTrain, "loss/target", step, epoch, tgtLoss)
		t.emit(run.PhaseTrain, "loss/total", step, epoch, srcLoss+tgtLoss)
	}
	if err := wait(); err != nil && stepErr == nil {
		stepErr = err
	}
	if stepErr != nil {
		return EpochLosses{}, stepErr
	}
	return EpochLosses{
		Source: srcMeter.Average(),
		Target: tgtMeter.Average(),
		Total:  totMeter.Average(),
	}, nil
}

// trainStepPair performs the supervised pass, the pseudo-labeled mixed pass,
// and one optimizer step. Gradients from both passes accumulate before the
// update, so the step sees the combined loss surface.
func (t *Trainer) trainStepPair(epoch int, p *loader.Pair) (srcLoss, tgtLoss float64, err error) {
	rng := t.stepRNG(epoch, p.Step)
	t.model.Net.ZeroGrad()

	// Pseudo-labels come from the current weights before they move this step.
	pseudo, confident, err := t.pseudoLabels(p.Target.Images)
	if err != nil {
		return 0, 0, fmt.Errorf("pseudo-label pass: %w", err)
	}

	_, srcParts, err := t.model.ForwardLoss(p.Source.Images, p.Source.Labels, p.Source.Boundaries, 1)
	if err != nil {
		return 0, 0, fmt.Errorf("source pass: %w", err)
	}

	mixImages, mixLabels, err := classMix(p.Source, p.Target.Images, pseudo, int32(t.cfg.Dataset.IgnoreLabel), rng)
	if err != nil {
		return 0, 0, err
	}
	t.augmentMixed(mixImages, rng)

	// Pseudo-label edges are unreliable, so the mixed pass carries no
	// boundary target. Its weight shrinks with the confident fraction.
	scale := t.cfg.Train.DACS.UnsupWeight * confident
	if scale > 0 {
		_, mixParts, ferr := t.model.ForwardLoss(mixImages, mixLabels, nil, scale)
		if ferr != nil {
			return 0, 0, fmt.Errorf("mixed pass: %w", ferr)
		}
		tgtLoss = scale * mixParts.Total
	}

	if err := t.opt.Step(t.model.Net.Params()); err != nil {
		return 0, 0, fmt.Errorf("optimizer step: %w", err)
	}
	return srcParts.Total, tgtLoss, nil
}
