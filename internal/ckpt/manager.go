package ckpt

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// File names under the checkpoint directory. The rolling checkpoint is
// rewritten every epoch; best and final are model-only snapshots.
const (
	RollingFile = "checkpoint.json.zlib"
	BestFile    = "best.json.zlib"
	FinalFile   = "final_state.json.zlib"

	archivePrefix = "epoch-"
)

// Config tunes checkpoint retention and optional remote upload.
type Config struct {
	Dir             string
	KeepEpochs      int // archives kept on disk, 0 keeps all
	ArchiveInterval int // archive every N epochs, 0 disables archives

	S3 S3Config // remote upload, active when S3.BucketURL is set
}

// Manager writes a run's checkpoint family and prunes epoch archives.
type Manager struct {
	conf     Config
	uploader *S3Uploader
}

// NewManager prepares the checkpoint directory and, when a bucket URL is set,
// the S3 uploader.
func NewManager(cfg Config) (*Manager, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("ckpt: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("ckpt: create dir: %w", err)
	}

	m := &Manager{conf: cfg}
	if strings.TrimSpace(cfg.S3.BucketURL) != "" {
		u, err := NewS3Uploader(cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("ckpt: init s3 uploader: %w", err)
		}
		m.uploader = u
	}
	return m, nil
}

// Dir returns the checkpoint directory.
func (m *Manager) Dir() string {
	return m.conf.Dir
}

// RollingPath is the location of the rolling checkpoint.
func (m *Manager) RollingPath() string {
	return filepath.Join(m.conf.Dir, RollingFile)
}

// SaveRolling rewrites the rolling checkpoint and, when the archive interval
// is due, keeps an immutable per-epoch copy. st.Epoch is the next epoch to
// run, so the archive is named after the epoch just finished.
func (m *Manager) SaveRolling(ctx context.Context, st *State) error {
	if err := Save(m.RollingPath(), st); err != nil {
		return err
	}

	finished := st.Epoch - 1
	if m.conf.ArchiveInterval <= 0 || finished < 0 || (finished+1)%m.conf.ArchiveInterval != 0 {
		return nil
	}

	archive := filepath.Join(m.conf.Dir, fmt.Sprintf("%s%06d.json.zlib", archivePrefix, finished))
	if err := Save(archive, st); err != nil {
		return fmt.Errorf("ckpt: archive epoch %d: %w", finished, err)
	}
	if err := m.pruneArchives(); err != nil {
		return err
	}
	m.upload(ctx, archive)
	return nil
}

// LoadRolling reads the rolling checkpoint. A missing file is a fresh start
// and returns (nil, nil).
func (m *Manager) LoadRolling() (*State, error) {
	st, err := Load(m.RollingPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	return st, err
}

// SaveBest records the model tensors that produced a new best score.
func (m *Manager) SaveBest(ctx context.Context, st *State) error {
	path := filepath.Join(m.conf.Dir, BestFile)
	if err := Save(path, st); err != nil {
		return err
	}
	m.upload(ctx, path)
	return nil
}

// SaveFinal records the model tensors at the end of training.
func (m *Manager) SaveFinal(ctx context.Context, st *State) error {
	path := filepath.Join(m.conf.Dir, FinalFile)
	if err := Save(path, st); err != nil {
		return err
	}
	m.upload(ctx, path)
	return nil
}

func (m *Manager) upload(ctx context.Context, path string) {
	if m.uploader == nil {
		return
	}
	if err := m.uploader.UploadFile(ctx, path); err != nil {
		log.Printf("ckpt: upload %s failed: %v", filepath.Base(path), err)
		return
	}
	log.Printf("ckpt: uploaded %s", filepath.Base(path))
}

func (m *Manager) pruneArchives() error {
	if m.conf.KeepEpochs <= 0 {
		return nil
	}

	matches, err := filepath.Glob(filepath.Join(m.conf.Dir, archivePrefix+"*.json.zlib"))
	if err != nil {
		return err
	}

	// Epoch numbers are zero-padded, so lexical order is chronological.
	slices.Sort(matches)
	if excess := len(matches) - m.conf.KeepEpochs; excess > 0 {
		for _, stale := range matches[:excess] {
			if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}
