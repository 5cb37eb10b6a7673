package mstore

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
)

// timeoutCtx caps a single statement at the store's configured timeout.
func (s *Store) timeoutCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}

// read runs fn under the shared lock with a bounded context.
func (s *Store) read(fn func(ctx context.Context) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, cancel := s.timeoutCtx()
	defer cancel()
	return fn(ctx)
}

// write is the exclusive-lock counterpart of read.
func (s *Store) write(fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := s.timeoutCtx()
	defer cancel()
	return fn(ctx)
}

// collect drains rows, skipping any row that fails to scan.
func collect[T any](rows *sql.Rows, scan func(*sql.Rows) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			log.Printf("mstore: scan: %v", err)
			continue
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Column lists shared between queries and their scan functions.
const (
	runCols = `id, name, config_yaml, seed, started_at, status`

	epochCols = `run_id, epoch, source_loss, target_loss, total_loss, lr, validated,
	mean_iou, best_iou, pixel_acc, mean_acc, duration_ms, recorded_at`

	scalarCols = `run_id, phase, name, step, epoch, value, recorded_at`
)

// InsertRun records a new training run.
func (s *Store) InsertRun(r *run.Run) error {
	return s.write(func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO runs (`+runCols+`) VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, r.Name, r.ConfigYAML, r.Seed, r.StartedAt, r.Status)
		if err != nil {
			return fmt.Errorf("mstore: insert run: %w", err)
		}
		return nil
	})
}

// UpdateRunStatus moves a run to a new status.
func (s *Store) UpdateRunStatus(id, status string) error {
	return s.write(func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ? WHERE id = ?`, status, id); err != nil {
			return fmt.Errorf("mstore: update run status: %w", err)
		}
		return nil
	})
}

// GetRun fetches one run by id. The sql error passes through unchanged so
// callers can test for sql.ErrNoRows.
func (s *Store) GetRun(id string) (run.Run, error) {
	var r run.Run
	err := s.read(func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx,
			`SELECT `+runCols+` FROM runs WHERE id = ?`, id).
			Scan(&r.ID, &r.Name, &r.ConfigYAML, &r.Seed, &r.StartedAt, &r.Status)
	})
	if err != nil {
		return run.Run{}, err
	}
	return r, nil
}

// LatestRun fetches the most recently started run.
func (s *Store) LatestRun() (run.Run, error) {
	var r run.Run
	err := s.read(func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx,
			`SELECT `+runCols+` FROM runs ORDER BY started_at DESC LIMIT 1`).
			Scan(&r.ID, &r.Name, &r.ConfigYAML, &r.Seed, &r.StartedAt, &r.Status)
	})
	if err != nil {
		return run.Run{}, err
	}
	return r, nil
}

// Runs lists runs newest first.
func (s *Store) Runs(limit int) ([]run.Run, error) {
	var results []run.Run
	err := s.read(func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+runCols+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
		if err != nil {
			return err
		}
		results, err = collect(rows, scanRun)
		return err
	})
	return results, err
}

// InsertEpochSummary upserts one epoch row. A resumed run repeats its last
// epoch, so the primary key replaces rather than duplicates.
func (s *Store) InsertEpochSummary(es *run.EpochSummary) error {
	return s.write(func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO epochs (`+epochCols+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			es.RunID, es.Epoch, es.SourceLoss, es.TargetLoss, es.TotalLoss, es.LR, es.Validated,
			es.MeanIoU, es.BestIoU, es.PixelAcc, es.MeanAcc, es.Duration.Milliseconds(), es.RecordedAt)
		if err != nil {
			return fmt.Errorf("mstore: insert epoch summary: %w", err)
		}
		return nil
	})
}

// EpochSummaries returns the last limit epochs of a run in ascending epoch order.
func (s *Store) EpochSummaries(runID string, limit int) ([]run.EpochSummary, error) {
	var results []run.EpochSummary
	err := s.read(func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+epochCols+` FROM epochs WHERE run_id = ? ORDER BY epoch DESC LIMIT ?`,
			runID, limit)
		if err != nil {
			return err
		}
		results, err = collect(rows, scanEpoch)
		return err
	})
	slices.Reverse(results)
	return results, err
}

// ScalarSeries returns the last limit points of one scalar stream in ascending
// step order.
func (s *Store) ScalarSeries(runID, phase, name string, limit int) ([]run.Scalar, error) {
	var results []run.Scalar
	err := s.read(func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+scalarCols+` FROM scalars
			 WHERE run_id = ? AND phase = ? AND name = ?
			 ORDER BY step DESC LIMIT ?`, runID, phase, name, limit)
		if err != nil {
			return err
		}
		results, err = collect(rows, scanScalar)
		return err
	})
	slices.Reverse(results)
	return results, err
}

// ScalarNames lists the distinct scalar streams recorded for a run.
func (s *Store) ScalarNames(runID string) ([]string, error) {
	var names []string
	err := s.read(func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT DISTINCT phase, name FROM scalars WHERE run_id = ? ORDER BY phase, name`, runID)
		if err != nil {
			return err
		}
		names, err = collect(rows, func(rows *sql.Rows) (string, error) {
			var phase, name string
			err := rows.Scan(&phase, &name)
			return phase + "/" + name, err
		})
		return err
	})
	return names, err
}

// ScalarCount returns the number of scalar rows stored for a run.
func (s *Store) ScalarCount(runID string) (int64, error) {
	var count int64
	err := s.read(func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM scalars WHERE run_id = ?`, runID).Scan(&count)
	})
	return count, err
}

func scanRun(rows *sql.Rows) (run.Run, error) {
	var r run.Run
	err := rows.Scan(&r.ID, &r.Name, &r.ConfigYAML, &r.Seed, &r.StartedAt, &r.Status)
	return r, err
}

func scanEpoch(rows *sql.Rows) (run.EpochSummary, error) {
	var es run.EpochSummary
	var durationMS int64
	err := rows.Scan(&es.RunID, &es.Epoch, &es.SourceLoss, &es.TargetLoss, &es.TotalLoss,
		&es.LR, &es.Validated, &es.MeanIoU, &es.BestIoU, &es.PixelAcc, &es.MeanAcc,
		&durationMS, &es.RecordedAt)
	es.Duration = time.Duration(durationMS) * time.Millisecond
	return es, err
}

func scanScalar(rows *sql.Rows) (run.Scalar, error) {
	var sc run.Scalar
	err := rows.Scan(&sc.RunID, &sc.Phase, &sc.Name, &sc.Step, &sc.Epoch, &sc.Value, &sc.RecordedAt)
	return sc, err
}
