package client

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// NewCircuitBreaker returns a breaker that opens after failureThreshold
// consecutive upstream failures and probes again after timeout. State changes
// are exported on the circuitBreakerState gauge.
func NewCircuitBreaker(component string, failureThreshold int, timeout time.Duration) *gobreaker.CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	observability.CircuitBreakerState.WithLabelValues(component).Set(0)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        component,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
