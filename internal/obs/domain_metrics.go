package obs

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	domainOnce sync.Once
	meterOnce  sync.Once

	// CartMutationsTotal counts cart mutations by kind, operation and result.
	CartMutationsTotal *prometheus.CounterVec
	// CartMutationLatency records mutation latency in milliseconds.
	CartMutationLatency *prometheus.HistogramVec
	// PricingEvaluationsTotal counts pricing evaluations by scope.
	PricingEvaluationsTotal *prometheus.CounterVec
	// CartEventsTotal counts emitted domain events by topic.
	CartEventsTotal *prometheus.CounterVec
	// GuestCartsPurgedTotal counts guest documents removed by the retention sweep.
	GuestCartsPurgedTotal prometheus.Counter

	evaluationCounter metric.Int64Counter
)

// MustRegisterDomainMetrics registers the cart collectors once per process.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		CartMutationsTotal = Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_mutations_total",
			Help:      "Cart mutations by kind, operation and result.",
		}, []string{"kind", "op", "result"}))
		CartMutationLatency = Register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cart_mutation_duration_ms",
			Help:      "Cart mutation latency in milliseconds, lock wait included.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"op"}))
		PricingEvaluationsTotal = Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_evaluations_total",
			Help:      "Modifier evaluations by scope.",
		}, []string{"scope"}))
		CartEventsTotal = Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_events_total",
			Help:      "Emitted cart domain events by topic.",
		}, []string{"topic"}))
		GuestCartsPurgedTotal = Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guest_carts_purged_total",
			Help:      "Guest cart documents removed by retention.",
		}))
	})
}

// RecordEvaluation counts a pricing evaluation on both the Prometheus registry
// and the global OpenTelemetry meter.
func RecordEvaluation(ctx context.Context, scope string) {
	if PricingEvaluationsTotal != nil {
		PricingEvaluationsTotal.WithLabelValues(scope).Inc()
	}
	meterOnce.Do(func() {
		c, err := otel.Meter("github.com/noah-isme/cartino/pricing").Int64Counter(
			"cartino.pricing.evaluations",
			metric.WithDescription("Modifier evaluations by scope."),
		)
		if err == nil {
			evaluationCounter = c
		}
	})
	if evaluationCounter != nil {
		evaluationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
	}
}
