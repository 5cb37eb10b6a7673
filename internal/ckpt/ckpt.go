// Package ckpt serializes training state to zlib-compressed JSON files and
// restores it on resume. A checkpoint carries the header the trainer needs to
// pick up where it stopped plus the named model tensors and optimizer state.
package ckpt

import (
	"compress/zlib"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/optim"
)

// State is everything a checkpoint file holds. Epoch is the next epoch to
// run, not the last finished one. Best and final snapshots carry only the
// model tensors.
type State struct {
	Epoch     int                  `json:"epoch"`
	BestIoU   float64              `json:"best_miou"`
	Flops     int64                `json:"flops"`
	NumParams int64                `json:"num_params"`
	RunID     string               `json:"run_id,omitempty"`
	RunName   string               `json:"run_name,omitempty"`
	Seed      int64                `json:"seed,omitempty"`
	SavedAt   time.Time            `json:"saved_at"`
	Model     map[string][]float32 `json:"state_dict"`
	Optimizer *optim.State         `json:"optimizer,omitempty"`
}

// Save writes st to path atomically. The file is zlib-compressed JSON,
// staged next to its destination and renamed into place so readers never
// see a half-written checkpoint.
func Save(path string, st *State) error {
	if st == nil {
		return fmt.Errorf("ckpt: nil state")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("ckpt: create dir: %w", err)
	}

	staging := path + ".staging"
	f, err := os.OpenFile(staging, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("ckpt: create temp file: %w", err)
	}

	zw := zlib.NewWriter(f)
	if err := json.NewEncoder(zw).Encode(st); err != nil {
		f.Close()
		os.Remove(staging)
		return fmt.Errorf("ckpt: encode: %w", err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(staging)
		return fmt.Errorf("ckpt: close compressor: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(staging)
		return fmt.Errorf("ckpt: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(staging)
		return fmt.Errorf("ckpt: close temp file: %w", err)
	}
	if err := os.Rename(staging, path); err != nil {
		os.Remove(staging)
		return fmt.Errorf("ckpt: rename into place: %w", err)
	}
	return nil
}

// Load reads a checkpoint file written by Save. Callers that treat a missing
// file as a fresh start should check os.IsNotExist on the returned error.
func Load(path string) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zlib.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("ckpt: open compressed stream: %w", err)
	}
	defer zr.Close()

	var st State
	if err := json.NewDecoder(zr).Decode(&st); err != nil {
		return nil, fmt.Errorf("ckpt: decode %s: %w", filepath.Base(path), err)
	}
	return &st, nil
}
