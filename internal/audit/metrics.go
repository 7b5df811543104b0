package audit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricSecurityEventsTotal  = "security_events_total"
	MetricAuditRecordsTotal    = "audit_records_total"
	MetricAuditPersistFailures = "audit_persist_failures_total"
)

// Metrics contains Prometheus metrics for the audit pipeline.
// All operations are thread-safe.
type Metrics struct {
	securityEvents  *prometheus.CounterVec
	records         prometheus.Counter
	persistFailures prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		securityEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSecurityEventsTotal,
				Help: "Total number of classified security events by type",
			},
			[]string{"type"},
		),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditRecordsTotal,
			Help: "Total number of audit records submitted for persistence",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditPersistFailures,
			Help: "Total number of audit record persistence failures (absorbed locally)",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.securityEvents,
		m.records,
		m.persistFailures,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveSecurityEvent increments the counter for one security event type.
func (m *Metrics) ObserveSecurityEvent(eventType EventType) {
	if m == nil {
		return
	}
	m.securityEvents.WithLabelValues(string(eventType)).Inc()
}

// ObserveRecord increments the audit record counter.
func (m *Metrics) ObserveRecord() {
	if m == nil {
		return
	}
	m.records.Inc()
}

// ObservePersistFailure increments the persistence failure counter.
func (m *Metrics) ObservePersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}
