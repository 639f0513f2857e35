package container

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the optional Prometheus instrumentation spec §6 mentions in
// passing ("may expose counters for resolve attempts/retries/failures and a
// gauge for the active module count"). A nil *Metrics (the zero value of
// Container.Metrics) makes every method below a no-op, so instrumentation
// stays entirely opt-in.
type Metrics struct {
	resolveAttempts prometheus.Counter
	resolveRetries  prometheus.Counter
	resolveFailures prometheus.Counter
	activeModules   prometheus.Gauge
}

// NewMetrics registers container counters/gauges against reg and returns a
// Metrics ready to pass to Container.Metrics. NewMetrics always registers,
// so reg must be non-nil; a nil *Metrics is what disables instrumentation.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolveAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modwire_resolve_attempts_total",
			Help: "Resolve passes attempted, including retries after a timestamp conflict.",
		}),
		resolveRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modwire_resolve_retries_total",
			Help: "Resolve passes restarted due to a concurrent database mutation.",
		}),
		resolveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modwire_resolve_failures_total",
			Help: "Resolve passes that returned a terminal error.",
		}),
		activeModules: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modwire_active_modules",
			Help: "Modules currently in the ACTIVE state.",
		}),
	}
	reg.MustRegister(m.resolveAttempts, m.resolveRetries, m.resolveFailures, m.activeModules)
	return m
}

func (m *Metrics) incAttempts() {
	if m != nil {
		m.resolveAttempts.Inc()
	}
}

func (m *Metrics) incRetries() {
	if m != nil {
		m.resolveRetries.Inc()
	}
}

func (m *Metrics) incFailures() {
	if m != nil {
		m.resolveFailures.Inc()
	}
}

func (m *Metrics) setActiveModules(n int) {
	if m != nil {
		m.activeModules.Set(float64(n))
	}
}
