package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != 4 {
		t.Errorf("workers = %d, want 4", cfg.Workers)
	}
	if cfg.Train.LR != 0.01 {
		t.Errorf("train.lr = %g, want 0.01", cfg.Train.LR)
	}
	if cfg.Train.Optimizer != "sgd" {
		t.Errorf("train.optimizer = %q, want sgd", cfg.Train.Optimizer)
	}
	if cfg.Train.DACS.Confidence != 0.968 {
		t.Errorf("dacs.confidence = %g, want 0.968", cfg.Train.DACS.Confidence)
	}
	if cfg.Train.WarmupEpochs != 5 {
		t.Errorf("warmup-epochs = %d, want 5", cfg.Train.WarmupEpochs)
	}
	if cfg.RunName != "run" {
		t.Errorf("run-name = %q, want run", cfg.RunName)
	}
	if got, want := cfg.Metrics.DBPath, filepath.Join("output", "run", "metrics.duckdb"); got != want {
		t.Errorf("metrics.db-path = %q, want %q", got, want)
	}
	if cfg.API.Addr != "127.0.0.1:3000" {
		t.Errorf("api.addr = %q, want 127.0.0.1:3000", cfg.API.Addr)
	}
	if len(cfg.Devices) != 1 || cfg.Devices[0] != 0 {
		t.Errorf("devices = %v, want [0]", cfg.Devices)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "shift_large.yaml")
	body := `
output-dir: /tmp/seg-out
train:
  lr: 0.02
  end-epoch: 40
  dacs:
    confidence: 0.9
dataset:
  num-classes: 11
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OutputDir != "/tmp/seg-out" {
		t.Errorf("output-dir = %q", cfg.OutputDir)
	}
	if cfg.Train.LR != 0.02 {
		t.Errorf("train.lr = %g, want 0.02", cfg.Train.LR)
	}
	if cfg.Train.EndEpoch != 40 {
		t.Errorf("train.end-epoch = %d, want 40", cfg.Train.EndEpoch)
	}
	if cfg.Train.DACS.Confidence != 0.9 {
		t.Errorf("dacs.confidence = %g, want 0.9", cfg.Train.DACS.Confidence)
	}
	if cfg.Dataset.NumClasses != 11 {
		t.Errorf("num-classes = %d, want 11", cfg.Dataset.NumClasses)
	}
	// Untouched keys keep their defaults.
	if cfg.Train.Momentum != 0.9 {
		t.Errorf("momentum = %g, want default 0.9", cfg.Train.Momentum)
	}
	// Run name comes from the config file name.
	if cfg.RunName != "shift_large" {
		t.Errorf("run-name = %q, want shift_large", cfg.RunName)
	}
}

func TestLoadMissingFileTolerated(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "absent.yaml")
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Train.LR != 0.01 {
		t.Errorf("train.lr = %g, want default", cfg.Train.LR)
	}
	if cfg.RunName != "absent" {
		t.Errorf("run-name = %q, want absent", cfg.RunName)
	}
}

func TestLoadOverridesWinOverFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "exp.yaml")
	if err := os.WriteFile(path, []byte("train:\n  lr: 0.02\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, []string{"train.lr=0.05", "train.end-epoch=30", "train.nesterov=true"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Train.LR != 0.05 {
		t.Errorf("train.lr = %g, want override 0.05", cfg.Train.LR)
	}
	if cfg.Train.EndEpoch != 30 {
		t.Errorf("train.end-epoch = %d, want 30", cfg.Train.EndEpoch)
	}
	if !cfg.Train.Nesterov {
		t.Error("train.nesterov not applied")
	}
}

func TestLoadBadOverride(t *testing.T) {
	t.Parallel()

	if _, err := Load("", []string{"train.lr"}); err == nil {
		t.Error("want error for token without =")
	}
	if _, err := Load("", []string{"=0.05"}); err == nil {
		t.Error("want error for empty key")
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("SEGDAC_TRAIN_LR", "0.2")
	t.Setenv("SEGDAC_OUTPUT_DIR", "/tmp/from-env")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Train.LR != 0.2 {
		t.Errorf("train.lr = %g, want env 0.2", cfg.Train.LR)
	}
	if cfg.OutputDir != "/tmp/from-env" {
		t.Errorf("output-dir = %q, want env value", cfg.OutputDir)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		override string
	}{
		{"zero end epoch", "train.end-epoch=0"},
		{"stop past end", "train.stop-epoch=500"},
		{"bad api port", "api.port=70000"},
		{"bad confidence", "train.dacs.confidence=1.5"},
		{"bad optimizer lr", "train.lr=0"},
		{"warmup past end", "train.warmup-epochs=200"},
		{"tiny image", "train.image-width=2"},
		{"zero workers", "workers=0"},
		{"ignore label in class range", "dataset.ignore-label=3"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Load("", []string{tc.override}); err == nil {
				t.Errorf("Load with %q: want error", tc.override)
			}
		})
	}
}

func TestEffectiveYAML(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", []string{"train.lr=0.05"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	out, err := cfg.EffectiveYAML()
	if err != nil {
		t.Fatalf("EffectiveYAML: %v", err)
	}
	text := string(out)
	if !strings.Contains(text, "lr: \"0.05\"") && !strings.Contains(text, "lr: 0.05") {
		t.Errorf("dump missing overridden lr:\n%s", text)
	}
	if !strings.Contains(text, "confidence: 0.968") {
		t.Errorf("dump missing default confidence:\n%s", text)
	}
}

func TestDerivedHelpers(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", []string{"devices=0,1", "train.batch-size-per-device=3", "train.stop-epoch=21"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.TrainBatch(); got != 6 {
		t.Errorf("TrainBatch = %d, want 6", got)
	}
	if got := cfg.RealEnd(); got != 21 {
		t.Errorf("RealEnd = %d, want 21", got)
	}
	cfg.Train.StopEpoch = 0
	if got := cfg.RealEnd(); got != cfg.Train.EndEpoch {
		t.Errorf("RealEnd = %d, want end-epoch %d", got, cfg.Train.EndEpoch)
	}
	if got, want := cfg.CheckpointDir(), cfg.RunDir(); got != want {
		t.Errorf("CheckpointDir = %q, want run dir %q", got, want)
	}
	cfg.Checkpoint.Dir = "/tmp/elsewhere"
	if got := cfg.CheckpointDir(); got != "/tmp/elsewhere" {
		t.Errorf("CheckpointDir = %q, want explicit dir", got)
	}
}

func TestQueryTimeoutDefault(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.QueryTimeout != 30*time.Second {
		t.Errorf("api.query-timeout = %s, want 30s", cfg.API.QueryTimeout)
	}
}
