package external

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// BreakerSet holds one circuit breaker per external service
type BreakerSet struct {
	breakers map[Service]*gobreaker.CircuitBreaker
}

// NewBreakerSet creates a breaker for every service in the registry
func NewBreakerSet(registry *Registry, logger *logrus.Logger) *BreakerSet {
	set := &BreakerSet{breakers: make(map[Service]*gobreaker.CircuitBreaker)}
	for _, s := range registry.Services() {
		set.breakers[s] = gobreaker.NewCircuitBreaker(breakerSettings(s, logger))
	}
	return set
}

func breakerSettings(s Service, logger *logrus.Logger) gobreaker.Settings {
	settings := gobreaker.Settings{
		Name:        string(s),
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"service": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker changed state")
		},
	}

	// The CIP-API is the system of record; give it more room before tripping
	if s == ServiceCIPAPI || s == ServiceCIPAPIForReport {
		settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.8
		}
		settings.Timeout = 30 * time.Second
	}
	return settings
}

// Execute runs fn through the breaker of the service
func (b *BreakerSet) Execute(s Service, fn func() (interface{}, error)) (interface{}, error) {
	cb, ok := b.breakers[s]
	if !ok {
		return fn()
	}
	return cb.Execute(fn)
}

// States returns the current state of every breaker
func (b *BreakerSet) States() map[Service]gobreaker.State {
	out := make(map[Service]gobreaker.State, len(b.breakers))
	for s, cb := range b.breakers {
		out[s] = cb.State()
	}
	return out
}

// Counts returns request counters of every breaker
func (b *BreakerSet) Counts() map[Service]gobreaker.Counts {
	out := make(map[Service]gobreaker.Counts, len(b.breakers))
	for s, cb := range b.breakers {
		out[s] = cb.Counts()
	}
	return out
}
