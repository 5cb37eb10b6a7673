package trainer

import (
	"context"
	"fmt"
	"time"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/metrics"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// ValResult summarizes one validation pass.
type ValResult struct {
	Loss    float64
	Results metrics.Results
	// InferMS is the mean scoring time per image in milliseconds.
	InferMS float64
}

// Validate scores the held-out target split. It never touches gradients, so
// a validation pass cannot bleed into the next training step.
func (t *Trainer) Validate(ctx context.Context, epoch int) (ValResult, error) {
	cm := metrics.NewConfusionMatrix(t.cfg.Dataset.NumClasses, int32(t.cfg.Dataset.IgnoreLabel))
	var lossMeter metrics.AverageMeter
	var inferTotal time.Duration
	var images int

	valCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches, wait := t.val.Epoch(valCtx, epoch)
	var stepErr error
	for b := range batches {
		if stepErr != nil {
			continue // drain so wait can return
		}
		start := time.Now()
		out, parts, err := t.model.Score(b.Images, b.Labels, b.Boundaries)
		if err != nil {
			stepErr = fmt.Errorf("trainer: validate batch %d: %w", b.Index, err)
			cancel()
			continue
		}
		inferTotal += time.Since(start)
		images += b.Size()

		pred, _, err := tensor.ArgmaxChannel(out.Semantic)
		if err != nil {
			stepErr = fmt.Errorf("trainer: validate batch %d: %w", b.Index, err)
			cancel()
			continue
		}
		if err := cm.Update(pred, b.Labels); err != nil {
			stepErr = fmt.Errorf("trainer: validate batch %d: %w", b.Index, err)
			cancel()
			continue
		}
		lossMeter.Update(parts.Total)
	}
	if err := wait(); err != nil && stepErr == nil {
		stepErr = err
	}
	if stepErr != nil {
		return ValResult{}, stepErr
	}

	vr := ValResult{Loss: lossMeter.Average(), Results: cm.Results()}
	if images > 0 {
		vr.InferMS = float64(inferTotal.Nanoseconds()) / 1e6 / float64(images)
	}

	step := t.valStep
	t.valStep++
	t.emit(run.PhaseVal, "loss", step, epoch, vr.Loss)
	t.emit(run.PhaseVal, "miou", step, epoch, vr.Results.MeanIoU)
	t.emit(run.PhaseVal, "pixel_acc", step, epoch, vr.Results.PixelAcc)
	t.emit(run.PhaseVal, "mean_acc", step, epoch, vr.Results.MeanAcc)
	return vr, nil
}
