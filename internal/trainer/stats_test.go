package trainer

import (
	"testing"
	"time"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
)

func testLive() *liveStats {
	return newLiveStats(run.Run{ID: "r1", Name: "shift_test", Seed: 304, Status: run.StatusRunning}, 10)
}

func trainScalar(name string, step int64, epoch int, value float64) run.Scalar {
	return run.Scalar{
		RunID: "r1", Phase: run.PhaseTrain, Name: name,
		Step: step, Epoch: epoch, Value: value, RecordedAt: time.Now().UTC(),
	}
}

func TestLiveStatsSnapshotFollowsScalars(t *testing.T) {
	t.Parallel()
	s := testLive()
	s.recordScalar(trainScalar("loss/source", 5, 1, 1.5))
	s.recordScalar(trainScalar("loss/target", 5, 1, 0.5))
	s.recordScalar(trainScalar("lr", 5, 1, 0.05))
	sc := trainScalar("miou", 0, 1, 0.42)
	sc.Phase = run.PhaseVal
	s.recordScalar(sc)

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Run.ID != "r1" || snap.EndEpoch != 10 {
		t.Fatalf("run identity lost: %+v", snap)
	}
	if snap.TrainStep != 5 || snap.Epoch != 1 {
		t.Fatalf("progress = step %d epoch %d", snap.TrainStep, snap.Epoch)
	}
	if snap.SourceLoss != 1.5 || snap.TargetLoss != 0.5 || snap.LR != 0.05 {
		t.Fatalf("losses = %+v", snap)
	}
	if snap.MeanIoU != 0.42 {
		t.Fatalf("mean IoU = %v", snap.MeanIoU)
	}
}

func TestLiveStatsSeriesKeepsTrailingWindow(t *testing.T) {
	t.Parallel()
	s := testLive()
	for i := 0; i < run.DefaultHistory+50; i++ {
		s.recordScalar(trainScalar("loss/total", int64(i), i/10, float64(i)))
	}

	all, err := s.ScalarSeries(run.PhaseTrain, "loss/total", 0)
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if len(all) != run.DefaultHistory {
		t.Fatalf("ring holds %d, want %d", len(all), run.DefaultHistory)
	}
	if all[0].Step != 50 || all[len(all)-1].Step != int64(run.DefaultHistory+49) {
		t.Fatalf("window = [%d, %d]", all[0].Step, all[len(all)-1].Step)
	}

	tail, err := s.ScalarSeries(run.PhaseTrain, "loss/total", 10)
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if len(tail) != 10 || tail[0].Step != int64(run.DefaultHistory+40) {
		t.Fatalf("tail window starts at %d", tail[0].Step)
	}

	none, err := s.ScalarSeries(run.PhaseVal, "miou", 10)
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("unknown series returned %d entries", len(none))
	}
}

func TestLiveStatsEpochSummaries(t *testing.T) {
	t.Parallel()
	s := testLive()
	for e := 0; e < 5; e++ {
		s.recordEpoch(run.EpochSummary{
			RunID: "r1", Epoch: e, SourceLoss: float64(10 - e), BestIoU: 0.1 * float64(e),
			Validated: e%2 == 0, MeanIoU: 0.1 * float64(e),
		})
	}

	sums, err := s.EpochSummaries(3)
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(sums) != 3 || sums[0].Epoch != 2 || sums[2].Epoch != 4 {
		t.Fatalf("window = %+v", sums)
	}

	snap, _ := s.Snapshot()
	if snap.Epoch != 4 || snap.BestIoU != 0.4 {
		t.Fatalf("snapshot = epoch %d best %v", snap.Epoch, snap.BestIoU)
	}
	// Epoch 4 validated, so the snapshot mIoU tracks it.
	if snap.MeanIoU != 0.4 {
		t.Fatalf("mean IoU = %v", snap.MeanIoU)
	}

	s.recordEpoch(run.EpochSummary{RunID: "r1", Epoch: 5, Validated: false, MeanIoU: 0.9})
	snap, _ = s.Snapshot()
	if snap.MeanIoU != 0.4 {
		t.Fatalf("unvalidated epoch moved mean IoU to %v", snap.MeanIoU)
	}
}

func TestLiveStatsStatusTransitions(t *testing.T) {
	t.Parallel()
	s := testLive()
	s.setStatus(run.StatusFinished)
	snap, _ := s.Snapshot()
	if snap.Run.Status != run.StatusFinished {
		t.Fatalf("status = %s", snap.Run.Status)
	}
}
