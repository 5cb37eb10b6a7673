package ckpt

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/optim"
)

func testState(epoch int) *State {
	return &State{
		Epoch:     epoch,
		BestIoU:   0.57,
		Flops:     123456,
		NumParams: 7890,
		RunID:     "r1",
		RunName:   "shift_small",
		Seed:      304,
		SavedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Model: map[string][]float32{
			"stem.weight":  {0.1, -0.2, 0.3},
			"stem.bias":    {0.01},
			"head.weight":  {1, 2, 3, 4},
			"seghead.bias": {-0.5, 0.5},
		},
		Optimizer: &optim.State{
			Name: "sgd",
			LR:   0.01,
			Momentum: map[string][]float32{
				"stem.weight": {0.001, 0.002, 0.003},
			},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ckpt", RollingFile)
	want := testState(7)
	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Epoch != 7 || got.BestIoU != 0.57 {
		t.Errorf("header = epoch %d best %v, want epoch 7 best 0.57", got.Epoch, got.BestIoU)
	}
	if got.RunName != "shift_small" || got.Seed != 304 {
		t.Errorf("metadata = %q/%d, want shift_small/304", got.RunName, got.Seed)
	}
	if len(got.Model) != 4 {
		t.Fatalf("len(Model) = %d, want 4", len(got.Model))
	}
	w := got.Model["stem.weight"]
	if len(w) != 3 || w[1] != -0.2 {
		t.Errorf("stem.weight = %v, want [0.1 -0.2 0.3]", w)
	}
	if got.Optimizer == nil || got.Optimizer.Name != "sgd" {
		t.Fatalf("Optimizer = %+v, want sgd state", got.Optimizer)
	}
	if mom := got.Optimizer.Momentum["stem.weight"]; len(mom) != 3 {
		t.Errorf("momentum = %v, want 3 values", mom)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := Save(filepath.Join(dir, RollingFile), testState(1)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != RollingFile {
		t.Errorf("dir contents = %v, want only %s", entries, RollingFile)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.json.zlib"))
	if !os.IsNotExist(err) {
		t.Errorf("err = %v, want os.IsNotExist", err)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "garbage.json.zlib")
	if err := os.WriteFile(path, []byte("not a zlib stream"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load on garbage succeeded, want error")
	}
}

func TestFileIsCompressed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), RollingFile)
	st := testState(1)
	// Large repetitive tensor so compression visibly shrinks the file.
	big := make([]float32, 8192)
	st.Model["backbone.weight"] = big
	if err := Save(path, st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	// 8192 zeros serialize to >16KB of JSON; compressed they fit in a fraction.
	if info.Size() > 8*1024 {
		t.Errorf("checkpoint is %d bytes, want compressed output well under the raw JSON size", info.Size())
	}
}
