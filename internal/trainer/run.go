package trainer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/ckpt"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
)

// Run executes the full epoch loop: resume, per-epoch LR scheduling,
// training, cadenced validation, and checkpointing. It returns the first
// error that stops the loop; context cancellation stops it between steps.
func (t *Trainer) Run(ctx context.Context) error {
	start := time.Now()

	if err := t.resume(); err != nil {
		return err
	}
	t.live.setStatus(run.StatusRunning)

	realEnd := t.cfg.RealEnd()
	denseStart := realEnd - t.cfg.Train.ValDenseWindow

	for epoch := t.startEpoch; epoch < realEnd; epoch++ {
		if err := ctx.Err(); err != nil {
			t.live.setStatus(run.StatusStopped)
			return err
		}
		epochStart := time.Now()

		lr := t.sched.LR(epoch)
		t.opt.SetLR(lr)
		t.emit(run.PhaseTrain, "lr", t.trainStep, epoch, lr)

		losses, err := t.TrainEpoch(ctx, epoch)
		if err != nil {
			t.live.setStatus(run.StatusStopped)
			return err
		}
		log.Printf("Epoch %d/%d - Source Loss: %.3f, Target Loss: %.3f",
			epoch+1, realEnd, losses.Source, losses.Target)

		// A resumed run validates immediately so best-mIoU tracking picks up
		// where the interrupted run left off. Near the end every epoch is
		// validated; before that only every val-interval epochs.
		doVal := t.resumed ||
			(t.cfg.Train.ValInterval > 0 && epoch%t.cfg.Train.ValInterval == 0 && epoch < denseStart) ||
			epoch >= denseStart
		t.resumed = false

		es := run.EpochSummary{
			RunID:      t.meta.ID,
			Epoch:      epoch,
			SourceLoss: losses.Source,
			TargetLoss: losses.Target,
			TotalLoss:  losses.Total,
			LR:         lr,
		}

		if doVal {
			vr, err := t.Validate(ctx, epoch)
			if err != nil {
				t.live.setStatus(run.StatusStopped)
				return err
			}
			if vr.Results.MeanIoU > t.bestIoU {
				t.bestIoU = vr.Results.MeanIoU
				t.saveBest(ctx, epoch)
			}
			log.Printf("Loss: %.3f, Mean IoU: %.4f, Best mIoU: %.4f, Inference: %.2f ms/image",
				vr.Loss, vr.Results.MeanIoU, t.bestIoU, vr.InferMS)
			log.Printf("Per-class IoU: %s", formatIoU(vr.Results.IoU))

			es.Validated = true
			es.MeanIoU = vr.Results.MeanIoU
			es.PixelAcc = vr.Results.PixelAcc
			es.MeanAcc = vr.Results.MeanAcc
		}
		es.BestIoU = t.bestIoU
		es.Duration = time.Since(epochStart)
		es.RecordedAt = time.Now().UTC()

		if t.epochs != nil {
			if err := t.epochs.InsertEpochSummary(&es); err != nil {
				log.Printf("trainer: record epoch %d summary: %v", epoch, err)
			}
		}
		t.live.recordEpoch(es)

		if t.ckpts != nil {
			if err := t.ckpts.SaveRolling(ctx, t.checkpointState(epoch+1, true)); err != nil {
				return fmt.Errorf("trainer: save checkpoint after epoch %d: %w", epoch, err)
			}
		}
	}

	if t.ckpts != nil {
		if err := t.ckpts.SaveFinal(ctx, t.checkpointState(realEnd, false)); err != nil {
			log.Printf("trainer: save final state: %v", err)
		}
	}
	t.live.setStatus(run.StatusFinished)
	log.Printf("hours: %d, done", int(time.Since(start).Hours()))
	return nil
}

// resume restores model and optimizer state from the rolling checkpoint when
// the config asks for it. A missing checkpoint is a fresh start, not an error.
func (t *Trainer) resume() error {
	if !t.cfg.Train.Resume || t.ckpts == nil {
		return nil
	}
	st, err := t.ckpts.LoadRolling()
	if err != nil {
		return fmt.Errorf("trainer: resume: %w", err)
	}
	if st == nil {
		return nil
	}
	if err := t.model.Net.LoadStateMap(st.Model); err != nil {
		return fmt.Errorf("trainer: resume: %w", err)
	}
	if st.Optimizer != nil {
		if err := t.opt.LoadState(*st.Optimizer); err != nil {
			return fmt.Errorf("trainer: resume: %w", err)
		}
	}
	t.bestIoU = st.BestIoU
	t.startEpoch = st.Epoch
	t.resumed = true
	log.Printf("loaded checkpoint (epoch %d)", st.Epoch)
	return nil
}

func (t *Trainer) saveBest(ctx context.Context, epoch int) {
	if t.ckpts == nil {
		return
	}
	if err := t.ckpts.SaveBest(ctx, t.checkpointState(epoch+1, false)); err != nil {
		log.Printf("trainer: save best model: %v", err)
	}
}

// checkpointState captures the trainer at a point where nextEpoch is the
// epoch a resumed run would execute first.
func (t *Trainer) checkpointState(nextEpoch int, withOptimizer bool) *ckpt.State {
	st := &ckpt.State{
		Epoch:     nextEpoch,
		BestIoU:   t.bestIoU,
		Flops:     t.flops,
		NumParams: t.numParams,
		RunID:     t.meta.ID,
		RunName:   t.meta.Name,
		Seed:      t.meta.Seed,
		SavedAt:   time.Now().UTC(),
		Model:     t.model.Net.StateMap(),
	}
	if withOptimizer {
		os := t.opt.State()
		st.Optimizer = &os
	}
	return st
}

func formatIoU(ious []float64) string {
	parts := make([]string, len(ious))
	for i, v := range ious {
		parts[i] = fmt.Sprintf("%.3f", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
