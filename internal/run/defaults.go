package run

import "time"

// Shared defaults used by the trainer and dashboard binaries.
const (
	DefaultSeed           = 304
	DefaultUpdateInterval = 2 * time.Second
	DefaultHistory        = 200
)
