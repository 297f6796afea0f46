package ai

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/stadspuls/eventpipe/internal/logger"
)

// newBreaker builds the circuit breaker shared by both LLM providers:
// open after 5 consecutive failures, half-open after 30s.
func newBreaker(name string, log logger.Interface) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("LLM circuit breaker state change",
				"provider", name, "from", from.String(), "to", to.String())
		},
	})
}
