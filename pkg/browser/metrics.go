package browser

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "browseruse"

// Metrics counts acquisitions, close failures and reaped resources.
type Metrics struct {
	acquisitions        *prometheus.CounterVec
	acquisitionFailures *prometheus.CounterVec
	closeStepFailures   *prometheus.CounterVec
	processesKilled     prometheus.Counter
	clientsReaped       prometheus.Counter
	browsersReady       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered. Registering twice on the same registry reuses
// the collectors already there, so many Browsers can share one registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		acquisitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "acquisitions_total",
				Help:      "Total number of successful browser acquisitions",
			},
			[]string{"strategy"},
		),
		acquisitionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "acquisition_failures_total",
				Help:      "Total number of failed browser acquisitions",
			},
			[]string{"strategy"},
		),
		closeStepFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "close_step_failures_total",
				Help:      "Total number of close steps that failed and were skipped",
			},
			[]string{"step"},
		),
		processesKilled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "processes_killed_total",
				Help:      "Total number of browser processes killed on close",
			},
		),
		clientsReaped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "clients_reaped_total",
				Help:      "Total number of outbound clients closed by the reaper",
			},
		),
		browsersReady: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "browsers_ready",
				Help:      "Number of browsers currently initialized",
			},
		),
	}

	if reg != nil {
		m.acquisitions = register(reg, m.acquisitions)
		m.acquisitionFailures = register(reg, m.acquisitionFailures)
		m.closeStepFailures = register(reg, m.closeStepFailures)
		m.processesKilled = register(reg, m.processesKilled)
		m.clientsReaped = register(reg, m.clientsReaped)
		m.browsersReady = register(reg, m.browsersReady)
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Acquired records a successful acquisition.
func (m *Metrics) Acquired(strategy string) {
	m.acquisitions.WithLabelValues(strategy).Inc()
	m.browsersReady.Inc()
}

// AcquireFailed records a failed acquisition.
func (m *Metrics) AcquireFailed(strategy string) {
	m.acquisitionFailures.WithLabelValues(strategy).Inc()
}

// Released records a Browser leaving the Ready state.
func (m *Metrics) Released() {
	m.browsersReady.Dec()
}

// CloseStepFailed records a close step that failed.
func (m *Metrics) CloseStepFailed(step string) {
	m.closeStepFailures.WithLabelValues(step).Inc()
}

// ProcessesKilled adds n killed processes.
func (m *Metrics) ProcessesKilled(n int) {
	m.processesKilled.Add(float64(n))
}

// ClientsReaped adds n reaped clients.
func (m *Metrics) ClientsReaped(n int) {
	m.clientsReaped.Add(float64(n))
}
