package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/ckpt"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/config"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/criterion"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/dataset"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/device"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/loader"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/metrics"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/seg"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// runEval scores one checkpoint on the labeled target test split and prints
// the same summary the training loop logs after a validation pass.
func runEval(cfg *config.Config, ckptPath string) error {
	dev, err := device.Setup(cfg.Devices)
	if err != nil {
		return fmt.Errorf("failed to set up devices: %w", err)
	}
	log.Printf("evaluating on %s", dev)

	if ckptPath == "" {
		ckptPath = filepath.Join(cfg.CheckpointDir(), ckpt.BestFile)
	}
	st, err := ckpt.Load(ckptPath)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint %s: %w", ckptPath, err)
	}

	// Synthetic splits are generated from the seed, so scoring against the
	// split a run trained on needs that run's seed.
	if cfg.Seed <= 0 {
		if st.Seed > 0 {
			cfg.Seed = st.Seed
		} else {
			cfg.Seed = run.DefaultSeed
		}
	}
	log.Printf("seeding with %d", cfg.Seed)

	model, valLd, err := buildEval(cfg)
	if err != nil {
		return err
	}
	if err := model.Net.LoadStateMap(st.Model); err != nil {
		return fmt.Errorf("failed to apply checkpoint weights: %w", err)
	}
	log.Printf("loaded checkpoint (epoch %d)", st.Epoch)

	res, err := evaluate(context.Background(), cfg, model, valLd)
	if err != nil {
		return err
	}

	fmt.Printf("Loss: %.3f, Mean IoU: %.4f, Pixel Acc: %.4f, Mean Acc: %.4f, Inference: %.2f ms/image\n",
		res.Loss, res.Results.MeanIoU, res.Results.PixelAcc, res.Results.MeanAcc, res.InferMS)
	fmt.Printf("Per-class IoU: %s\n", formatIoU(res.Results.IoU))
	return nil
}

func buildEval(cfg *config.Config) (*seg.FullModel, *loader.Loader, error) {
	dsCfg := dataset.Config{
		Root:        cfg.Dataset.Root,
		NumClasses:  cfg.Dataset.NumClasses,
		IgnoreLabel: int32(cfg.Dataset.IgnoreLabel),
		ClassesFile: cfg.Dataset.ClassesFile,
		Seed:        cfg.Seed,
	}

	valDesc := cfg.Dataset.Target.TestList
	if valDesc == "" {
		if !strings.HasPrefix(cfg.Dataset.Target.Name, "synthshift/") {
			return nil, nil, fmt.Errorf("config: dataset.target.test-list is required for target %q", cfg.Dataset.Target.Name)
		}
		valDesc = "synthshift/val"
	}
	valDS, err := dataset.Open(dsCfg, valDesc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open validation dataset: %w", err)
	}

	evalTf := &dataset.EvalTransform{
		Height:      cfg.Test.ImageHeight,
		Width:       cfg.Test.ImageWidth,
		IgnoreLabel: int32(cfg.Dataset.IgnoreLabel),
		EdgeRadius:  1,
	}
	valLd, err := loader.New(valDS, evalTf, loader.Config{
		BatchSize: cfg.TestBatch(),
		Workers:   cfg.Workers,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build validation loader: %w", err)
	}

	net, err := seg.New(seg.Config{
		Name:       cfg.Model.Name,
		InChannels: cfg.Model.InChannels,
		Hidden:     cfg.Model.Hidden,
		NumClasses: cfg.Dataset.NumClasses,
	}, rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		return nil, nil, err
	}

	// Class-balance weights come from the source split, which evaluation
	// never opens; the reported loss is unweighted.
	full := &seg.FullModel{
		Net:       net,
		Sem:       criterion.NewCrossEntropy(int32(cfg.Dataset.IgnoreLabel), nil),
		Bd:        criterion.NewBoundaryBCE(),
		AuxWeight: cfg.Model.AuxWeight,
		BdWeight:  cfg.Model.BoundaryWeight,
	}
	return full, valLd, nil
}

type evalResult struct {
	Loss    float64
	Results metrics.Results
	// InferMS is the mean scoring time per image in milliseconds.
	InferMS float64
}

func evaluate(ctx context.Context, cfg *config.Config, model *seg.FullModel, val *loader.Loader) (evalResult, error) {
	cm := metrics.NewConfusionMatrix(cfg.Dataset.NumClasses, int32(cfg.Dataset.IgnoreLabel))
	var lossMeter metrics.AverageMeter
	var inferTotal time.Duration
	var images int

	evalCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches, wait := val.Epoch(evalCtx, 0)
	var stepErr error
	for b := range batches {
		if stepErr != nil {
			continue // drain so wait can return
		}
		start := time.Now()
		out, parts, err := model.Score(b.Images, b.Labels, b.Boundaries)
		if err != nil {
			stepErr = fmt.Errorf("eval batch %d: %w", b.Index, err)
			cancel()
			continue
		}
		inferTotal += time.Since(start)
		images += b.Size()

		pred, _, err := tensor.ArgmaxChannel(out.Semantic)
		if err != nil {
			stepErr = fmt.Errorf("eval batch %d: %w", b.Index, err)
			cancel()
			continue
		}
		if err := cm.Update(pred, b.Labels); err != nil {
			stepErr = fmt.Errorf("eval batch %d: %w", b.Index, err)
			cancel()
			continue
		}
		lossMeter.Update(parts.Total)
	}
	if err := wait(); err != nil && stepErr == nil {
		stepErr = err
	}
	if stepErr != nil {
		return evalResult{}, stepErr
	}

	res := evalResult{Loss: lossMeter.Average(), Results: cm.Results()}
	if images > 0 {
		res.InferMS = float64(inferTotal.Nanoseconds()) / 1e6 / float64(images)
	}
	return res, nil
}

func formatIoU(ious []float64) string {
	parts := make([]string, len(ious))
	for i, v := range ious {
		parts[i] = fmt.Sprintf("%.3f", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
