package ckpt

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(t.TempDir(), "ckpt")
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func archiveNames(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, archivePrefix+"*.json.zlib"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = filepath.Base(m)
	}
	sort.Strings(names)
	return names
}

func TestManagerRequiresDir(t *testing.T) {
	t.Parallel()

	if _, err := NewManager(Config{}); err == nil {
		t.Fatal("NewManager with empty dir succeeded, want error")
	}
}

func TestLoadRollingFreshStart(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Config{})
	st, err := m.LoadRolling()
	if err != nil {
		t.Fatalf("LoadRolling: %v", err)
	}
	if st != nil {
		t.Errorf("LoadRolling on empty dir = %+v, want nil", st)
	}
}

func TestSaveRollingRoundTrip(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Config{})
	ctx := context.Background()

	if err := m.SaveRolling(ctx, testState(4)); err != nil {
		t.Fatalf("SaveRolling: %v", err)
	}
	if err := m.SaveRolling(ctx, testState(5)); err != nil {
		t.Fatalf("SaveRolling (overwrite): %v", err)
	}

	st, err := m.LoadRolling()
	if err != nil {
		t.Fatalf("LoadRolling: %v", err)
	}
	if st == nil || st.Epoch != 5 {
		t.Errorf("resumed state = %+v, want epoch 5", st)
	}
}

func TestSaveRollingArchivesOnInterval(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Config{ArchiveInterval: 2, KeepEpochs: 10})
	ctx := context.Background()

	// Finished epochs 0..5; interval 2 archives after epochs 1, 3, 5.
	for epoch := 0; epoch < 6; epoch++ {
		if err := m.SaveRolling(ctx, testState(epoch+1)); err != nil {
			t.Fatalf("SaveRolling(%d): %v", epoch, err)
		}
	}

	got := archiveNames(t, m.Dir())
	want := []string{"epoch-000001.json.zlib", "epoch-000003.json.zlib", "epoch-000005.json.zlib"}
	if len(got) != len(want) {
		t.Fatalf("archives = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("archives[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestArchivePruningKeepsNewest(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Config{ArchiveInterval: 1, KeepEpochs: 2})
	ctx := context.Background()

	for epoch := 0; epoch < 5; epoch++ {
		if err := m.SaveRolling(ctx, testState(epoch+1)); err != nil {
			t.Fatalf("SaveRolling(%d): %v", epoch, err)
		}
	}

	got := archiveNames(t, m.Dir())
	want := []string{"epoch-000003.json.zlib", "epoch-000004.json.zlib"}
	if len(got) != len(want) {
		t.Fatalf("archives after prune = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("archives[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBestAndFinalSnapshots(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Config{})
	ctx := context.Background()

	best := &State{BestIoU: 0.61, Model: map[string][]float32{"head.weight": {1, 2}}}
	if err := m.SaveBest(ctx, best); err != nil {
		t.Fatalf("SaveBest: %v", err)
	}
	final := &State{Model: map[string][]float32{"head.weight": {3, 4}}}
	if err := m.SaveFinal(ctx, final); err != nil {
		t.Fatalf("SaveFinal: %v", err)
	}

	gotBest, err := Load(filepath.Join(m.Dir(), BestFile))
	if err != nil {
		t.Fatalf("Load best: %v", err)
	}
	if gotBest.BestIoU != 0.61 || gotBest.Model["head.weight"][0] != 1 {
		t.Errorf("best = %+v, want score 0.61 with original tensors", gotBest)
	}

	gotFinal, err := Load(filepath.Join(m.Dir(), FinalFile))
	if err != nil {
		t.Fatalf("Load final: %v", err)
	}
	if gotFinal.Model["head.weight"][1] != 4 {
		t.Errorf("final tensors = %v, want the last saved values", gotFinal.Model["head.weight"])
	}

	// Rolling checkpoint was never written in this test.
	if _, err := os.Stat(m.RollingPath()); !os.IsNotExist(err) {
		t.Errorf("rolling checkpoint exists, want absent")
	}
}
