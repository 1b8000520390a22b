package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() Config {
	return Config{
		MaxRequests:      2,
		Interval:         time.Minute,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig(), zap.NewNop())
	ctx := context.Background()

	failing := func() error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		err := cb.Execute(ctx, failing)
		require.Error(t, err)
	}

	assert.Equal(t, StateOpen, cb.State())

	// While open, requests are rejected without invoking fn
	invoked := false
	err := cb.Execute(ctx, func() error { invoked = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, invoked)
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig(), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func() error { return errors.New("boom") })
	}
	require.Equal(t, StateOpen, cb.State())

	// Wait for open timeout, then succeed twice to close
	time.Sleep(60 * time.Millisecond)

	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	require.NoError(t, cb.Execute(ctx, func() error { return nil }))

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig(), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func() error { return errors.New("boom") })
	}
	time.Sleep(60 * time.Millisecond)

	_ = cb.Execute(ctx, func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerCounts(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	_ = cb.Execute(ctx, func() error { return errors.New("boom") })

	counts := cb.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.TotalFailures)
}
