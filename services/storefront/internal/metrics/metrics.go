package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "storefront"

type Metrics struct {
	PurchasesStarted *prometheus.CounterVec
	PurchaseOutcomes *prometheus.CounterVec
	Redemptions      *prometheus.CounterVec
	GatewayDuration  *prometheus.HistogramVec
}

// New registers the storefront collectors, plus the Go and process
// collectors, on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PurchasesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchases_started_total",
			Help:      "Remote orders opened, by product.",
		}, []string{"product"}),
		PurchaseOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchase_outcomes_total",
			Help:      "Completed purchase attempts, by outcome.",
		}, []string{"outcome"}),
		Redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redemptions_total",
			Help:      "Redemption attempts, by result.",
		}, []string{"result"}),
		GatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Latency of payment processor calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.PurchasesStarted,
		m.PurchaseOutcomes,
		m.Redemptions,
		m.GatewayDuration,
	)

	return m
}

// NewNop returns collectors registered on a private registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
