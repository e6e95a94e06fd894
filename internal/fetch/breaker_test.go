package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFetch = errors.New("fetch failed")

func TestBreaker_OpensAndRecovers(t *testing.T) {
	clk := clock.NewMock()
	cb := NewBreaker(&BreakerConfig{FailureThreshold: 2, SuccessThreshold: 2, Timeout: 10 * time.Second, Clock: clk})

	cb.Execute(func() error { return errFetch })
	assert.Equal(t, StateClosed, cb.State())
	cb.Execute(func() error { return errFetch })
	assert.Equal(t, StateOpen, cb.State())

	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)

	clk.Add(11 * time.Second)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())

	stats := cb.Stats()
	assert.Equal(t, int64(5), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.TotalRejected)
	assert.Equal(t, int64(2), stats.TotalFailures)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := clock.NewMock()
	cb := NewBreaker(&BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second, Clock: clk})

	cb.Execute(func() error { return errFetch })
	clk.Add(2 * time.Second)
	cb.Execute(func() error { return errFetch })
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_CancellationIsNotFailure(t *testing.T) {
	cb := NewBreaker(&BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second})
	cb.Execute(func() error { return context.Canceled })
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_MaxConcurrent(t *testing.T) {
	cb := NewBreaker(&BreakerConfig{FailureThreshold: 5, SuccessThreshold: 1, Timeout: time.Second, MaxConcurrent: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	go cb.Execute(func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrTooManyFetches)
	close(release)
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var mu sync.Mutex
	var changes []string
	cb := NewBreaker(&BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		OnStateChange: func(from, to string) {
			mu.Lock()
			defer mu.Unlock()
			changes = append(changes, from+"->"+to)
		},
	})

	cb.Execute(func() error { return errFetch })
	cb.Reset()
	cb.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"closed->open", "open->closed"}, changes)
}

func TestBreaker_PanickingCallback(t *testing.T) {
	cb := NewBreaker(&BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		OnStateChange:    func(from, to string) { panic("boom") },
	})
	cb.Execute(func() error { return errFetch })
	cb.Close()
	assert.Equal(t, StateOpen, cb.State())
}
