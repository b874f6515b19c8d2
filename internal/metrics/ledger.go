package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type LedgerMetrics struct {
	operations      *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	volume          *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	compensations   *prometheus.CounterVec
	replays         *prometheus.CounterVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the process-wide ledger collectors, registering them with
// the default Prometheus registry on first use.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_ledger_operations_total",
				Help: "Count of completed ledger operations by kind.",
			}, []string{"op"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_ledger_rejections_total",
				Help: "Count of rejected ledger operations by kind and reason.",
			}, []string{"op", "reason"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_ledger_volume_units_total",
				Help: "Whole asset units moved by completed operations.",
			}, []string{"op"}),
			publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_ledger_event_publish_failures_total",
				Help: "Number of events that could not be delivered to the sink.",
			}, []string{"event"}),
			compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_ledger_compensations_total",
				Help: "Compensating actions taken after a half-applied operation, by outcome.",
			}, []string{"op", "outcome"}),
			replays: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_ledger_replays_total",
				Help: "Requests answered from the journal because their idempotency key was already applied.",
			}, []string{"op"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.rejections,
			ledgerRegistry.volume,
			ledgerRegistry.publishFailures,
			ledgerRegistry.compensations,
			ledgerRegistry.replays,
		)
	})
	return ledgerRegistry
}

func (m *LedgerMetrics) ObserveOperation(op string, units float64) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op).Inc()
	if units > 0 {
		m.volume.WithLabelValues(op).Add(units)
	}
}

func (m *LedgerMetrics) ObserveRejection(op, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.rejections.WithLabelValues(op, reason).Inc()
}

func (m *LedgerMetrics) ObservePublishFailure(event string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(event).Inc()
}

func (m *LedgerMetrics) ObserveCompensation(op string, ok bool) {
	if m == nil {
		return
	}
	outcome := "reversed"
	if !ok {
		outcome = "failed"
	}
	m.compensations.WithLabelValues(op, outcome).Inc()
}

func (m *LedgerMetrics) ObserveReplay(op string) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(op).Inc()
}
