package metrics

// AverageMeter tracks a running average of a scalar, typically a loss.
type AverageMeter struct {
	val   float64
	sum   float64
	count int
}

// Update records one observation.
func (m *AverageMeter) Update(v float64) {
	m.val = v
	m.sum += v
	m.count++
}

// Value returns the most recent observation.
func (m *AverageMeter) Value() float64 { return m.val }

// Average returns the mean of all observations, zero before the first.
func (m *AverageMeter) Average() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// Count returns how many observations were recorded.
func (m *AverageMeter) Count() int { return m.count }

// Reset clears the meter.
func (m *AverageMeter) Reset() { *m = AverageMeter{} }
