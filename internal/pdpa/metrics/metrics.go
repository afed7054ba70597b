package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for ledger operations.
type Metrics struct {
	ConsentsCreated    *prometheus.CounterVec
	ConsentsWithdrawn  *prometheus.CounterVec
	ConsentCheckPassed *prometheus.CounterVec
	ConsentCheckFailed *prometheus.CounterVec
	ProcessingRecorded *prometheus.CounterVec
	RightsRequested    *prometheus.CounterVec
	RightsProcessed    *prometheus.CounterVec
	CleanupRemoved     *prometheus.CounterVec
	AuditEvicted       prometheus.Counter
	OperationLatency   *prometheus.HistogramVec
}

// New registers collectors with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers collectors with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration panics.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConsentsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zynx_consents_created_total",
			Help: "Total number of consents created, labeled by purpose",
		}, []string{"purpose"}),
		ConsentsWithdrawn: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zynx_consents_withdrawn_total",
			Help: "Total number of consents withdrawn, labeled by purpose",
		}, []string{"purpose"}),
		ConsentCheckPassed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zynx_consent_checks_passed_total",
			Help: "Total number of consent checks that found a valid consent, labeled by purpose",
		}, []string{"purpose"}),
		ConsentCheckFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zynx_consent_checks_failed_total",
			Help: "Total number of consent checks without a valid consent, labeled by purpose",
		}, []string{"purpose"}),
		ProcessingRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zynx_processing_records_total",
			Help: "Total number of data processing records, labeled by purpose",
		}, []string{"purpose"}),
		RightsRequested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zynx_rights_requests_total",
			Help: "Total number of user rights requests, labeled by type",
		}, []string{"type"}),
		RightsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zynx_rights_requests_processed_total",
			Help: "Total number of rights request transitions, labeled by resulting status",
		}, []string{"status"}),
		CleanupRemoved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zynx_cleanup_removed_total",
			Help: "Records removed by retention cleanup, labeled by kind",
		}, []string{"kind"}),
		AuditEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "zynx_audit_entries_evicted_total",
			Help: "Audit entries evicted from the bounded in-memory log",
		}),
		OperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zynx_ledger_operation_latency_seconds",
			Help:    "Latency of ledger operations in seconds",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncrementConsentsCreated(purpose string) {
	m.ConsentsCreated.WithLabelValues(purpose).Inc()
}

func (m *Metrics) IncrementConsentsWithdrawn(purpose string) {
	m.ConsentsWithdrawn.WithLabelValues(purpose).Inc()
}

func (m *Metrics) IncrementConsentCheck(purpose string, passed bool) {
	if passed {
		m.ConsentCheckPassed.WithLabelValues(purpose).Inc()
		return
	}
	m.ConsentCheckFailed.WithLabelValues(purpose).Inc()
}

func (m *Metrics) IncrementProcessingRecorded(purpose string) {
	m.ProcessingRecorded.WithLabelValues(purpose).Inc()
}

func (m *Metrics) IncrementRightsRequested(requestType string) {
	m.RightsRequested.WithLabelValues(requestType).Inc()
}

func (m *Metrics) IncrementRightsProcessed(status string) {
	m.RightsProcessed.WithLabelValues(status).Inc()
}

// AddCleanupRemoved records removals by kind ("consent" or "processing").
func (m *Metrics) AddCleanupRemoved(kind string, count int) {
	if count > 0 {
		m.CleanupRemoved.WithLabelValues(kind).Add(float64(count))
	}
}

func (m *Metrics) IncrementAuditEvicted() {
	m.AuditEvicted.Inc()
}

// ObserveOperationLatency records the latency of a ledger operation.
func (m *Metrics) ObserveOperationLatency(operation string, durationSeconds float64) {
	m.OperationLatency.WithLabelValues(operation).Observe(durationSeconds)
}
