package dispatch

import (
	"sync/atomic"
	"time"
)

// Metrics tracks dispatcher throughput. All counters are updated atomically
// so workers never contend on a lock to record a result.
type Metrics struct {
	submitted     atomic.Int64
	duplicates    atomic.Int64
	completed     atomic.Int64
	failed        atomic.Int64
	abandoned     atomic.Int64
	transformed   atomic.Int64
	passedThrough atomic.Int64
	bytes         atomic.Int64
	totalNanos    atomic.Int64
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{}
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Submitted       int64         `json:"submitted" yaml:"submitted"`
	Duplicates      int64         `json:"duplicates" yaml:"duplicates"`
	Completed       int64         `json:"completed" yaml:"completed"`
	Failed          int64         `json:"failed" yaml:"failed"`
	Abandoned       int64         `json:"abandoned" yaml:"abandoned"`
	Transformed     int64         `json:"transformed" yaml:"transformed"`
	PassedThrough   int64         `json:"passed_through" yaml:"passed_through"`
	BytesProcessed  int64         `json:"bytes_processed" yaml:"bytes_processed"`
	TotalDuration   time.Duration `json:"total_duration" yaml:"total_duration"`
	AverageDuration time.Duration `json:"average_duration" yaml:"average_duration"`
}

// RecordSubmitted counts an accepted submission.
func (m *Metrics) RecordSubmitted() {
	m.submitted.Add(1)
}

// RecordDuplicate counts a submission rejected because the path was in flight.
func (m *Metrics) RecordDuplicate() {
	m.duplicates.Add(1)
}

// RecordAbandoned counts a queued task dropped by a forced shutdown.
func (m *Metrics) RecordAbandoned() {
	m.abandoned.Add(1)
}

// RecordTask records the result of one finished task.
func (m *Metrics) RecordTask(outcome Outcome, err error, duration time.Duration) {
	m.totalNanos.Add(int64(duration))
	if err != nil {
		m.failed.Add(1)
		return
	}
	m.completed.Add(1)
	m.bytes.Add(outcome.Bytes)
	if outcome.Transformed {
		m.transformed.Add(1)
	} else {
		m.passedThrough.Add(1)
	}
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Submitted:      m.submitted.Load(),
		Duplicates:     m.duplicates.Load(),
		Completed:      m.completed.Load(),
		Failed:         m.failed.Load(),
		Abandoned:      m.abandoned.Load(),
		Transformed:    m.transformed.Load(),
		PassedThrough:  m.passedThrough.Load(),
		BytesProcessed: m.bytes.Load(),
		TotalDuration:  time.Duration(m.totalNanos.Load()),
	}
	if finished := snap.Completed + snap.Failed; finished > 0 {
		snap.AverageDuration = snap.TotalDuration / time.Duration(finished)
	}
	return snap
}

// SuccessRate returns the share of finished tasks that succeeded, as a
// percentage.
func (s MetricsSnapshot) SuccessRate() float64 {
	finished := s.Completed + s.Failed
	if finished == 0 {
		return 0.0
	}
	return float64(s.Completed) / float64(finished) * 100.0
}

// Reset zeroes all counters
func (m *Metrics) Reset() {
	m.submitted.Store(0)
	m.duplicates.Store(0)
	m.completed.Store(0)
	m.failed.Store(0)
	m.abandoned.Store(0)
	m.transformed.Store(0)
	m.passedThrough.Store(0)
	m.bytes.Store(0)
	m.totalNanos.Store(0)
}
