package observability

import (
	"log/slog"
	"math"
	"time"
)

// Record stores a named observation. It never fails the caller: values that
// cannot be represented are logged and dropped.
func (p *Prom) Record(name string, value float64, ts time.Time) {
	if name == "" || math.IsNaN(value) || math.IsInf(value, 0) {
		slog.Default().Warn("metric.dropped", "name", name, "value", value, "ts", ts)
		return
	}

	p.Observation.WithLabelValues(name).Set(value)
	if value >= 0 {
		p.ObservationsTotal.WithLabelValues(name).Add(value)
	}
}

// InFlightEvent tracks one event being republished; call the returned func when done.
func (p *Prom) InFlightEvent() func() {
	p.EventsInFlight.Inc()
	return p.EventsInFlight.Dec
}
