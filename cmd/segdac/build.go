package main

import (
	"fmt"
	"log"
	"math/rand"
	"strings"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/ckpt"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/config"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/criterion"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/dataset"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/loader"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/optim"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/sched"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/seg"
)

// collaborators bundles the pieces the trainer consumes beyond the metrics
// pipeline: model, optimizer, schedule, and the three data loaders.
type collaborators struct {
	model     *seg.FullModel
	optimizer optim.Optimizer
	schedule  sched.Schedule
	pairs     *loader.PairLoader
	val       *loader.Loader
}

func buildCollaborators(cfg *config.Config) (*collaborators, error) {
	dsCfg := dataset.Config{
		Root:        cfg.Dataset.Root,
		NumClasses:  cfg.Dataset.NumClasses,
		IgnoreLabel: int32(cfg.Dataset.IgnoreLabel),
		ClassesFile: cfg.Dataset.ClassesFile,
		Seed:        cfg.Seed,
	}

	srcDS, err := dataset.Open(dsCfg, splitDescriptor(cfg.Dataset.Source.Name, cfg.Dataset.Source.TrainList))
	if err != nil {
		return nil, fmt.Errorf("failed to open source dataset: %w", err)
	}
	tgtDS, err := dataset.Open(dsCfg, splitDescriptor(cfg.Dataset.Target.Name, cfg.Dataset.Target.TrainList))
	if err != nil {
		return nil, fmt.Errorf("failed to open target dataset: %w", err)
	}
	valDesc, err := valDescriptor(cfg.Dataset.Target)
	if err != nil {
		return nil, err
	}
	valDS, err := dataset.Open(dsCfg, valDesc)
	if err != nil {
		return nil, fmt.Errorf("failed to open validation dataset: %w", err)
	}

	model, err := buildModel(cfg, srcDS)
	if err != nil {
		return nil, err
	}

	trainTf := &dataset.TrainTransform{
		CropH:       cfg.Train.ImageHeight,
		CropW:       cfg.Train.ImageWidth,
		IgnoreLabel: int32(cfg.Dataset.IgnoreLabel),
		EdgeRadius:  1,
	}
	evalTf := &dataset.EvalTransform{
		Height:      cfg.Test.ImageHeight,
		Width:       cfg.Test.ImageWidth,
		IgnoreLabel: int32(cfg.Dataset.IgnoreLabel),
		EdgeRadius:  1,
	}

	srcLd, err := loader.New(srcDS, trainTf, loader.Config{
		BatchSize: cfg.TrainBatch(),
		Shuffle:   cfg.Train.Shuffle,
		DropLast:  true,
		Workers:   cfg.Workers,
		Seed:      cfg.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build source loader: %w", err)
	}
	// Offset seed keeps the target shuffle decorrelated from the source.
	tgtLd, err := loader.New(tgtDS, trainTf, loader.Config{
		BatchSize: cfg.TrainBatch(),
		Shuffle:   cfg.Train.Shuffle,
		DropLast:  true,
		Workers:   cfg.Workers,
		Seed:      cfg.Seed + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build target loader: %w", err)
	}
	valLd, err := loader.New(valDS, evalTf, loader.Config{
		BatchSize: cfg.TestBatch(),
		Workers:   cfg.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build validation loader: %w", err)
	}

	opt, err := optim.New(optim.Config{
		Name:        cfg.Train.Optimizer,
		LR:          cfg.Train.LR,
		Momentum:    cfg.Train.Momentum,
		WeightDecay: cfg.Train.WeightDecay,
		Nesterov:    cfg.Train.Nesterov,
	})
	if err != nil {
		return nil, err
	}

	schedule, err := buildSchedule(cfg)
	if err != nil {
		return nil, err
	}

	return &collaborators{
		model:     model,
		optimizer: opt,
		schedule:  schedule,
		pairs:     loader.NewPair(srcLd, tgtLd),
		val:       valLd,
	}, nil
}

func buildModel(cfg *config.Config, srcDS dataset.Dataset) (*seg.FullModel, error) {
	net, err := seg.New(seg.Config{
		Name:       cfg.Model.Name,
		InChannels: cfg.Model.InChannels,
		Hidden:     cfg.Model.Hidden,
		NumClasses: cfg.Dataset.NumClasses,
	}, rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		return nil, err
	}

	if cfg.Model.Pretrained != "" {
		st, err := ckpt.Load(cfg.Model.Pretrained)
		if err != nil {
			return nil, fmt.Errorf("failed to load pretrained weights: %w", err)
		}
		if err := net.LoadStateMap(st.Model); err != nil {
			return nil, fmt.Errorf("failed to apply pretrained weights: %w", err)
		}
		log.Printf("loaded pretrained weights from %s", cfg.Model.Pretrained)
	}

	var weights []float64
	if cfg.Loss.ClassBalance {
		if w, ok := srcDS.(dataset.Weighter); ok {
			weights = w.ClassWeights()
		}
	}

	sem, err := criterion.FromConfig(criterion.Config{
		NumClasses:   cfg.Dataset.NumClasses,
		IgnoreLabel:  int32(cfg.Dataset.IgnoreLabel),
		ClassWeights: weights,
		UseOhem:      cfg.Loss.UseOhem,
		OhemThres:    cfg.Loss.OhemThres,
		OhemKeep:     cfg.Loss.OhemKeep,
		UseDice:      cfg.Loss.UseDice,
		UseFocal:     cfg.Loss.UseFocal,
		FocalGamma:   cfg.Loss.FocalGamma,
	})
	if err != nil {
		return nil, err
	}

	return &seg.FullModel{
		Net:       net,
		Sem:       sem,
		Bd:        criterion.NewBoundaryBCE(),
		AuxWeight: cfg.Model.AuxWeight,
		BdWeight:  cfg.Model.BoundaryWeight,
	}, nil
}

func buildSchedule(cfg *config.Config) (sched.Schedule, error) {
	if !cfg.Train.Scheduler {
		return sched.Constant{Base: cfg.Train.LR}, nil
	}
	wc, err := sched.NewWarmupCosine(cfg.Train.LR, cfg.Train.MinLR, cfg.Train.WarmupEpochs, cfg.Train.EndEpoch)
	if err != nil {
		return nil, err
	}
	return wc, nil
}

// splitDescriptor prefers an explicit list file over the split name.
func splitDescriptor(name, list string) string {
	if list != "" {
		return list
	}
	return name
}

// valDescriptor resolves the labeled target split used for validation. The
// generated domains ship a val split; file-backed targets must name a test
// list.
func valDescriptor(t config.Target) (string, error) {
	if t.TestList != "" {
		return t.TestList, nil
	}
	if strings.HasPrefix(t.Name, "synthshift/") {
		return "synthshift/val", nil
	}
	return "", fmt.Errorf("config: dataset.target.test-list is required for target %q", t.Name)
}
