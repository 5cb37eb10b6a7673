// Package run holds the record types shared across the trainer, the metrics
// store, the stats socket, and the dashboards. It is the canonical vocabulary
// for everything a training run reports about itself.
package run

import "time"

// Phases partition scalar streams the way the writers emit them.
const (
	PhaseTrain = "train"
	PhaseVal   = "val"
)

// Statuses a run moves through.
const (
	StatusRunning  = "running"
	StatusStopped  = "stopped"
	StatusFinished = "finished"
)

// Run identifies one training run and the configuration it resolved.
type Run struct {
	ID         string
	Name       string
	ConfigYAML string
	Seed       int64
	StartedAt  time.Time
	Status     string
}

// Scalar is a single logged measurement. Step counts grow monotonically per
// phase; Epoch is the epoch the measurement was taken in.
type Scalar struct {
	RunID      string
	Phase      string
	Name       string
	Step       int64
	Epoch      int
	Value      float64
	RecordedAt time.Time
}

// EpochSummary aggregates one finished epoch.
type EpochSummary struct {
	RunID      string
	Epoch      int
	SourceLoss float64
	TargetLoss float64
	TotalLoss  float64
	LR         float64
	Validated  bool
	MeanIoU    float64
	BestIoU    float64
	PixelAcc   float64
	MeanAcc    float64
	Duration   time.Duration
	RecordedAt time.Time
}

// Snapshot is the live view the stats socket serves to dashboards.
type Snapshot struct {
	Run        Run
	Epoch      int
	EndEpoch   int
	TrainStep  int64
	ValStep    int64
	LR         float64
	SourceLoss float64
	TargetLoss float64
	TotalLoss  float64
	MeanIoU    float64
	BestIoU    float64
	UpdatedAt  time.Time
}

// StatsQuerier is the read side the trainer exposes to dashboards, local or
// over the stats socket.
type StatsQuerier interface {
	Snapshot() (Snapshot, error)
	EpochSummaries(limit int) ([]EpochSummary, error)
	ScalarSeries(phase, name string, limit int) ([]Scalar, error)
}
