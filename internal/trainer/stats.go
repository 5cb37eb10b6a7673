package trainer

import (
	"sync"
	"time"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
)

// liveStats is the in-memory view of the current run. It feeds the stats
// socket without touching the store, so dashboards stay responsive while
// DuckDB is busy flushing.
type liveStats struct {
	mu      sync.RWMutex
	snap    run.Snapshot
	epochs  []run.EpochSummary
	series  map[string][]run.Scalar
	history int
}

func newLiveStats(r run.Run, endEpoch int) *liveStats {
	return &liveStats{
		snap: run.Snapshot{
			Run:      r,
			EndEpoch: endEpoch,
		},
		series:  make(map[string][]run.Scalar),
		history: run.DefaultHistory,
	}
}

func seriesKey(phase, name string) string { return phase + "/" + name }

func (s *liveStats) recordScalar(sc run.Scalar) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := seriesKey(sc.Phase, sc.Name)
	ring := append(s.series[key], sc)
	if len(ring) > s.history {
		ring = ring[len(ring)-s.history:]
	}
	s.series[key] = ring

	s.snap.UpdatedAt = sc.RecordedAt
	s.snap.Epoch = sc.Epoch
	if sc.Phase == run.PhaseTrain {
		if sc.Step > s.snap.TrainStep {
			s.snap.TrainStep = sc.Step
		}
		switch sc.Name {
		case "loss/source":
			s.snap.SourceLoss = sc.Value
		case "loss/target":
			s.snap.TargetLoss = sc.Value
		case "loss/total":
			s.snap.TotalLoss = sc.Value
		case "lr":
			s.snap.LR = sc.Value
		}
	} else if sc.Phase == run.PhaseVal {
		if sc.Step > s.snap.ValStep {
			s.snap.ValStep = sc.Step
		}
		if sc.Name == "miou" {
			s.snap.MeanIoU = sc.Value
		}
	}
}

func (s *liveStats) recordEpoch(es run.EpochSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epochs = append(s.epochs, es)
	if len(s.epochs) > s.history {
		s.epochs = s.epochs[len(s.epochs)-s.history:]
	}

	s.snap.Epoch = es.Epoch
	s.snap.SourceLoss = es.SourceLoss
	s.snap.TargetLoss = es.TargetLoss
	s.snap.TotalLoss = es.TotalLoss
	s.snap.LR = es.LR
	s.snap.BestIoU = es.BestIoU
	if es.Validated {
		s.snap.MeanIoU = es.MeanIoU
	}
	s.snap.UpdatedAt = time.Now().UTC()
}

func (s *liveStats) setStatus(status string) {
	s.mu.Lock()
	s.snap.Run.Status = status
	s.snap.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
}

// Snapshot implements run.StatsQuerier.
func (s *liveStats) Snapshot() (run.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap, nil
}

// EpochSummaries implements run.StatsQuerier, newest-last.
func (s *liveStats) EpochSummaries(limit int) ([]run.EpochSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.epochs) {
		limit = len(s.epochs)
	}
	out := make([]run.EpochSummary, limit)
	copy(out, s.epochs[len(s.epochs)-limit:])
	return out, nil
}

// ScalarSeries implements run.StatsQuerier, newest-last.
func (s *liveStats) ScalarSeries(phase, name string, limit int) ([]run.Scalar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ring := s.series[seriesKey(phase, name)]
	if limit <= 0 || limit > len(ring) {
		limit = len(ring)
	}
	out := make([]run.Scalar, limit)
	copy(out, ring[len(ring)-limit:])
	return out, nil
}
