package resilience

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/noah-isme/cartino/internal/obs"
)

// Breaker collectors, labelled by target. They are live before registration
// so breakers can report unconditionally.
var (
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cartino",
		Name:      "breaker_state",
		Help:      "Breaker state per target: 0 closed, 1 open, 2 half-open.",
	}, []string{"target"})

	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cartino",
		Name:      "breaker_transition_total",
		Help:      "Breaker state transitions.",
	}, []string{"target", "from", "to"})

	BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cartino",
		Name:      "breaker_open_total",
		Help:      "Times a breaker opened.",
	}, []string{"target"})
)

// MustRegister exposes the breaker collectors on reg, or the default
// registerer when reg is nil.
func MustRegister(reg prometheus.Registerer) {
	BreakerState = obs.Register(reg, BreakerState)
	BreakerTransitions = obs.Register(reg, BreakerTransitions)
	BreakerOpenedTotal = obs.Register(reg, BreakerOpenedTotal)
}
