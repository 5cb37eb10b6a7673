// Package journal gives the metrics pipeline a durable append-only log.
// Scalars are journaled before they reach the store and committed once the
// store flush lands, so a crash between flushes loses nothing on resume.
package journal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
)

// record is the on-disk line format: one JSON object per scalar.
type record struct {
	Seq    uint64     `json:"seq"`
	Scalar run.Scalar `json:"scalar"`
}

// Journal is an append-only JSONL scalar log. The highest flushed sequence
// lives in a sidecar file next to the log; everything above it is replayed
// on the next start.
type Journal struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	committed uint64
	next      uint64
}

func commitPath(path string) string { return path + ".commit" }

// Open opens or creates the journal at path. Entries at or below the
// committed watermark are dropped from the file, and a torn trailing line
// left by a crash is discarded.
func Open(path string) (*Journal, error) {
	if path = strings.TrimSpace(path); path == "" {
		return nil, errors.New("journal: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}

	committed, err := loadWatermark(commitPath(path))
	if err != nil {
		return nil, err
	}

	var survivors [][]byte
	var lastSeq uint64
	err = walkRecords(path, func(line []byte, rec *record) {
		if rec.Seq > lastSeq {
			lastSeq = rec.Seq
		}
		if rec.Seq > committed {
			survivors = append(survivors, line)
		}
	})
	if err != nil {
		return nil, err
	}

	// Rewrite the log with only the uncommitted tail. The run may have
	// appended for hours; the tail is bounded by one flush interval.
	var buf bytes.Buffer
	for _, line := range survivors {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := atomicWrite(path, buf.Bytes()); err != nil {
		return nil, fmt.Errorf("journal: compact: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("journal: open log: %w", err)
	}

	return &Journal{
		path:      path,
		file:      f,
		committed: committed,
		next:      max(lastSeq, committed) + 1,
	}, nil
}

// Append persists one scalar and returns its sequence number. The write is
// synced before returning; a scalar the buffer accepted survives a crash.
func (j *Journal) Append(s *run.Scalar) (uint64, error) {
	if s == nil {
		return 0, errors.New("journal: nil scalar")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	rec := record{Seq: j.next, Scalar: *s}
	line, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("journal: encode: %w", err)
	}
	if _, err = j.file.Write(append(line, '\n')); err != nil {
		return 0, fmt.Errorf("journal: append: %w", err)
	}
	if err = j.file.Sync(); err != nil {
		return 0, fmt.Errorf("journal: sync: %w", err)
	}
	j.next++
	return rec.Seq, nil
}

// Commit advances the watermark to seq. Lower or repeated values are no-ops,
// so flushes may commit out of order.
func (j *Journal) Commit(seq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.committed >= seq {
		return nil
	}
	payload := strconv.FormatUint(seq, 10) + "\n"
	if err := atomicWrite(commitPath(j.path), []byte(payload)); err != nil {
		return fmt.Errorf("journal: commit: %w", err)
	}
	j.committed = seq
	return nil
}

// Committed reports the current watermark.
func (j *Journal) Committed() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.committed
}

// Replay invokes fn for every entry above the watermark, in sequence order.
func (j *Journal) Replay(fn func(seq uint64, s *run.Scalar) error) error {
	if fn == nil {
		return errors.New("journal: nil replay func")
	}

	j.mu.Lock()
	logPath, floor := j.path, j.committed
	j.mu.Unlock()

	var replayErr error
	err := walkRecords(logPath, func(line []byte, rec *record) {
		if replayErr != nil || rec.Seq <= floor {
			return
		}
		s := rec.Scalar
		replayErr = fn(rec.Seq, &s)
	})
	if err != nil {
		return err
	}
	return replayErr
}

// Close closes the journal file. The watermark stays on disk.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	f := j.file
	j.file = nil
	if f == nil {
		return nil
	}
	return f.Close()
}

// loadWatermark reads the committed sequence from the sidecar file. A
// missing or empty sidecar means nothing has been committed yet.
func loadWatermark(path string) (uint64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("journal: read watermark: %w", err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("journal: parse watermark: %w", err)
	}
	return v, nil
}

// walkRecords reads the whole log and visits each complete, well-formed
// line. A file that does not end in a newline was torn mid-append; the
// unterminated tail is skipped. A line that fails to decode ends the walk,
// since everything after it has unknown provenance.
func walkRecords(path string, visit func(line []byte, rec *record)) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("journal: read log: %w", err)
	}

	lines := bytes.Split(raw, []byte{'\n'})
	// After splitting, a clean file yields a trailing empty element. A
	// non-empty final element is the torn tail.
	if n := len(lines); n > 0 {
		lines = lines[:n-1]
	}
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil
		}
		visit(line, &rec)
	}
	return nil
}

// atomicWrite lands data at path via a synced temp file and rename.
func atomicWrite(path string, data []byte) error {
	staging := path + ".tmp"
	f, err := os.OpenFile(staging, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(staging, path)
	}
	if err != nil {
		os.Remove(staging)
	}
	return err
}
