// Package metrics holds the prometheus collectors for order placement and settlement.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector the service exports
type Metrics struct {
	OrdersCreated        *prometheus.CounterVec
	OrderRejections      *prometheus.CounterVec
	OrderCreateDuration  prometheus.Histogram
	Settlements          *prometheus.CounterVec
	SettlementFailures   *prometheus.CounterVec
	SweepDuration        prometheus.Histogram
	SweepsSkipped        prometheus.Counter
	ReconciliationGaps   *prometheus.CounterVec
	PriceFetchTimeouts   *prometheus.CounterVec
	LedgerPendingWrites  prometheus.Gauge
	EventPublishFailures prometheus.Counter
}

// New registers the collectors on reg. A nil reg creates a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		OrdersCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders placed, by account type.",
		}, []string{"account_type"}),
		OrderRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "order_rejections_total",
			Help: "Order placements rejected, by reason.",
		}, []string{"reason"}),
		OrderCreateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "order_create_duration_seconds",
			Help:    "Latency of successful order placement.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2},
		}),
		Settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settlements_total",
			Help: "Orders resolved, by account type and result.",
		}, []string{"account_type", "result"}),
		SettlementFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_failures_total",
			Help: "Settlement attempts that left the order active, by stage.",
		}, []string{"stage"}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_sweep_duration_seconds",
			Help:    "Duration of completed settlement sweeps.",
			Buckets: prometheus.DefBuckets,
		}),
		SweepsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "settlement_sweeps_skipped_total",
			Help: "Sweep ticks dropped because a sweep was still running.",
		}),
		ReconciliationGaps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciliation_gaps_total",
			Help: "Ledger writes that failed after the order state changed, by entry kind.",
		}, []string{"kind"}),
		PriceFetchTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "price_fetch_timeouts_total",
			Help: "Price fetches that returned no price within the deadline, by phase.",
		}, []string{"phase"}),
		LedgerPendingWrites: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_pending_writes",
			Help: "Background ledger entries queued but not yet written.",
		}),
		EventPublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "event_publish_failures_total",
			Help: "Order lifecycle events that could not be published.",
		}),
	}
}

// NewNop returns collectors registered on a throwaway registry
func NewNop() *Metrics {
	return New(nil)
}
