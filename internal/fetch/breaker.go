package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

// Circuit breaker states
const (
	StateClosed   = "closed"    // Normal operation
	StateOpen     = "open"      // Ad server failing, tag fetches rejected
	StateHalfOpen = "half-open" // Probing whether the ad server recovered
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyFetches is returned when the concurrent fetch limit is reached
var ErrTooManyFetches = errors.New("max concurrent fetches exceeded")

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold int           // Failures before opening circuit
	SuccessThreshold int           // Successes to close circuit from half-open
	Timeout          time.Duration // Time to wait before half-open
	MaxConcurrent    int           // Max concurrent fetches (0 = unlimited)
	OnStateChange    func(from, to string)
	Clock            clock.Clock
}

// DefaultBreakerConfig returns the defaults used by the server
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		MaxConcurrent:    200,
	}
}

// Breaker guards tag fetches against an unresponsive ad server
type Breaker struct {
	config *BreakerConfig
	clock  clock.Clock

	mu              sync.RWMutex
	state           string
	failures        int
	successes       int
	lastFailureTime time.Time
	concurrent      int

	totalRequests int64
	totalFailures int64
	totalRejected int64

	callbackWg sync.WaitGroup
}

// NewBreaker creates a new circuit breaker
func NewBreaker(config *BreakerConfig) *Breaker {
	if config == nil {
		config = DefaultBreakerConfig()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Breaker{
		config: config,
		clock:  clk,
		state:  StateClosed,
	}
}

// Execute runs fn with circuit breaker protection
func (cb *Breaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn()
	cb.afterRequest(err)
	return err
}

func (cb *Breaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	switch cb.state {
	case StateClosed:
		if cb.config.MaxConcurrent > 0 && cb.concurrent >= cb.config.MaxConcurrent {
			cb.totalRejected++
			return ErrTooManyFetches
		}
		cb.concurrent++
		return nil

	case StateOpen:
		if cb.clock.Since(cb.lastFailureTime) > cb.config.Timeout {
			cb.setState(StateHalfOpen)
			cb.concurrent++
			return nil
		}
		cb.totalRejected++
		return ErrCircuitOpen

	case StateHalfOpen:
		// one probe at a time
		if cb.concurrent < 1 {
			cb.concurrent++
			return nil
		}
		cb.totalRejected++
		return ErrCircuitOpen
	}

	return nil
}

func (cb *Breaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.concurrent--

	// a cancelled caller says nothing about the ad server
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
}

func (cb *Breaker) recordFailure() {
	cb.totalFailures++
	cb.failures++
	cb.successes = 0
	cb.lastFailureTime = cb.clock.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
	}
}

func (cb *Breaker) recordSuccess() {
	cb.successes++

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
			cb.failures = 0
		}
	}
}

func (cb *Breaker) setState(newState string) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.successes = 0

	log.Info().Str("from", oldState).Str("to", newState).Msg("Fetch circuit breaker state changed")

	if cb.config.OnStateChange != nil {
		cb.callbackWg.Add(1)
		go func(from, to string) {
			defer cb.callbackWg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("from", from).Str("to", to).Msg("Circuit breaker callback panicked")
				}
			}()
			cb.config.OnStateChange(from, to)
		}(oldState, newState)
	}
}

// State returns the current circuit breaker state
func (cb *Breaker) State() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats returns circuit breaker statistics
func (cb *Breaker) Stats() BreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return BreakerStats{
		State:         cb.state,
		TotalRequests: cb.totalRequests,
		TotalFailures: cb.totalFailures,
		TotalRejected: cb.totalRejected,
		Failures:      cb.failures,
		Concurrent:    cb.concurrent,
	}
}

// BreakerStats holds circuit breaker statistics
type BreakerStats struct {
	State         string `json:"state"`
	TotalRequests int64  `json:"total_requests"`
	TotalFailures int64  `json:"total_failures"`
	TotalRejected int64  `json:"total_rejected"`
	Failures      int    `json:"current_failures"`
	Concurrent    int    `json:"concurrent"`
}

// Reset resets the circuit breaker to closed state
func (cb *Breaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.failures = 0
	cb.successes = 0
}

// Close waits for pending state change callbacks
func (cb *Breaker) Close() {
	cb.callbackWg.Wait()
}
