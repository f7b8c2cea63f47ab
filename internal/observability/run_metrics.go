package observability

import (
	"sync/atomic"
	"time"
)

// RunMetrics are in-process counters for the collector runner, reported on
// its health endpoint.
type RunMetrics struct {
	runs        atomic.Uint64
	failed      atomic.Uint64
	republished atomic.Uint64
	retained    atomic.Uint64

	// duration stats (nanoseconds)
	durationCount atomic.Uint64
	durationTotal atomic.Int64
	durationMax   atomic.Int64

	lastSuccess atomic.Int64 // unix nanos
}

func NewRunMetrics() *RunMetrics {
	return &RunMetrics{}
}

func (m *RunMetrics) IncRuns() {
	m.runs.Add(1)
}

func (m *RunMetrics) IncFailed() {
	m.failed.Add(1)
}

func (m *RunMetrics) AddRepublished(n int) {
	if n > 0 {
		m.republished.Add(uint64(n))
	}
}

func (m *RunMetrics) AddRetained(n int) {
	if n > 0 {
		m.retained.Add(uint64(n))
	}
}

func (m *RunMetrics) MarkSuccess(at time.Time) {
	m.lastSuccess.Store(at.UnixNano())
}

func (m *RunMetrics) ObserveDuration(d time.Duration) {
	ns := d.Nanoseconds()
	m.durationCount.Add(1)
	m.durationTotal.Add(ns)

	for {
		curr := m.durationMax.Load()

		if ns <= curr {
			return
		}

		if m.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type RunMetricsSnapshot struct {
	Runs            uint64        `json:"runs"`
	Failed          uint64        `json:"failed"`
	Republished     uint64        `json:"republished"`
	Retained        uint64        `json:"retained"`
	AverageDuration time.Duration `json:"averageDurationNs"`
	MaxDuration     time.Duration `json:"maxDurationNs"`
	LastSuccess     *time.Time    `json:"lastSuccess,omitempty"`
}

func (m *RunMetrics) Snapshot() RunMetricsSnapshot {
	count := m.durationCount.Load()
	total := m.durationTotal.Load()

	var avg time.Duration

	if count > 0 {
		avg = time.Duration(total / int64(count))
	}

	s := RunMetricsSnapshot{
		Runs:            m.runs.Load(),
		Failed:          m.failed.Load(),
		Republished:     m.republished.Load(),
		Retained:        m.retained.Load(),
		AverageDuration: avg,
		MaxDuration:     time.Duration(m.durationMax.Load()),
	}

	if ns := m.lastSuccess.Load(); ns > 0 {
		t := time.Unix(0, ns).UTC()
		s.LastSuccess = &t
	}
	return s
}
