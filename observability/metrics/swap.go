package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// SwapMetrics aggregates the counters exported by the escrow and fusion
// engines.
type SwapMetrics struct {
	escrowCreated     *prometheus.CounterVec
	escrowSettled     *prometheus.CounterVec
	orderTransitions  *prometheus.CounterVec
	transitionErrors  *prometheus.CounterVec
	custodyDisbursals prometheus.Counter
}

var (
	swapOnce     sync.Once
	swapRegistry *SwapMetrics
)

// Swap returns the process-wide swap metrics registry.
func Swap() *SwapMetrics {
	swapOnce.Do(func() {
		swapRegistry = &SwapMetrics{
			escrowCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "swap_escrow_created_total",
				Help: "Count of escrows created by side.",
			}, []string{"side"}),
			escrowSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "swap_escrow_settled_total",
				Help: "Count of terminal escrow transitions by side and action.",
			}, []string{"side", "action"}),
			orderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "swap_order_transitions_total",
				Help: "Count of fusion order transitions by action.",
			}, []string{"action"}),
			transitionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "swap_transition_errors_total",
				Help: "Count of rejected transitions by module.",
			}, []string{"module"}),
			custodyDisbursals: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "swap_custody_disbursals_total",
				Help: "Count of custody balance disbursals executed.",
			}),
		}
		prometheus.MustRegister(
			swapRegistry.escrowCreated,
			swapRegistry.escrowSettled,
			swapRegistry.orderTransitions,
			swapRegistry.transitionErrors,
			swapRegistry.custodyDisbursals,
		)
	})
	return swapRegistry
}

// ObserveEscrowCreated records a successful escrow creation.
func (m *SwapMetrics) ObserveEscrowCreated(side string) {
	if m == nil {
		return
	}
	m.escrowCreated.WithLabelValues(side).Inc()
}

// ObserveEscrowSettled records a terminal escrow transition.
func (m *SwapMetrics) ObserveEscrowSettled(side, action string) {
	if m == nil {
		return
	}
	m.escrowSettled.WithLabelValues(side, action).Inc()
	m.custodyDisbursals.Inc()
}

// ObserveOrderTransition records a fusion order transition.
func (m *SwapMetrics) ObserveOrderTransition(action string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(action).Inc()
}

// ObserveTransitionError records a rejected transition for the module.
func (m *SwapMetrics) ObserveTransitionError(module string) {
	if m == nil {
		return
	}
	m.transitionErrors.WithLabelValues(module).Inc()
}
