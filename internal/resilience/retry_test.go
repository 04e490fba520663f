package resilience

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
	}
}

func TestDoValRetriesTransient(t *testing.T) {
	calls := 0
	val, err := DoVal(context.Background(), fastRetryConfig(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("flaky"), 503)
		}
		return "body", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "body", val)
	assert.Equal(t, 3, calls)
}

func TestDoValStopsOnTerminal(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetryConfig(5), func(ctx context.Context) (string, error) {
		calls++
		return "", &TerminalStatusError{URL: "https://example.com/x", StatusCode: 404}
	})
	require.Error(t, err)
	assert.True(t, IsTerminalStatus(err))
	assert.Equal(t, 1, calls, "terminal errors must not be retried")
}

func TestDoValExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetryConfig(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("still down"), 502)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoValContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := DoVal(ctx, fastRetryConfig(10), func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, NewTransientError(errors.New("flaky"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoWrapsDoVal(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetryConfig(2), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return NewTransientError(errors.New("once"), 500)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(NewTransientError(errors.New("x"), 503)))
	assert.True(t, IsTransient(syscall.ECONNRESET))
	assert.True(t, IsTransient(errors.New("read tcp: i/o timeout")))
	assert.False(t, IsTransient(errors.New("invalid argument")))
	assert.False(t, IsTransient(&TerminalStatusError{URL: "u", StatusCode: 403}))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 301, 400, 403, 404} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestComputeBackoffCapped(t *testing.T) {
	cfg := applyDefaults(RetryConfig{InitialBackoff: time.Second, MaxBackoff: 4 * time.Second, Multiplier: 2, JitterFraction: -1})
	assert.Equal(t, time.Second, computeBackoff(0, cfg))
	assert.Equal(t, 2*time.Second, computeBackoff(1, cfg))
	assert.Equal(t, 4*time.Second, computeBackoff(5, cfg))
}
