package run

// ScalarWriter provides append-oriented write operations for scalar batches.
type ScalarWriter interface {
	InsertScalarBatch(scalars []*Scalar) error
}

// MetricsQuerier provides read-only queries on stored training metrics.
// The HTTP API and evaluation tooling consume this contract.
type MetricsQuerier interface {
	GetRun(id string) (Run, error)
	LatestRun() (Run, error)
	Runs(limit int) ([]Run, error)
	EpochSummaries(runID string, limit int) ([]EpochSummary, error)
	ScalarSeries(runID, phase, name string, limit int) ([]Scalar, error)
	ScalarCount(runID string) (int64, error)
}
