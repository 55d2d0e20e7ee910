package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetryConfig(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetryConfig(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return transientErr()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetryConfig(), func(ctx context.Context) error {
		calls++
		return eris.New("variant not found")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetryConfig(), func(ctx context.Context) error {
		calls++
		return transientErr()
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastRetryConfig(), func(ctx context.Context) error {
		calls++
		cancel()
		return transientErr()
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoValPreservesValue(t *testing.T) {
	calls := 0
	got, err := DoVal(context.Background(), fastRetryConfig(), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", transientErr()
		}
		return "cart.js payload", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "cart.js payload", got)
	assert.Equal(t, 2, calls)
}

func TestDoValCustomShouldRetry(t *testing.T) {
	cfg := fastRetryConfig()
	cfg.ShouldRetry = func(err error) bool { return false }

	calls := 0
	_, err := DoVal(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, transientErr()
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoOnRetryCallback(t *testing.T) {
	cfg := fastRetryConfig()
	var attempts []int
	cfg.OnRetry = func(attempt int, err error) {
		attempts = append(attempts, attempt)
	}

	_ = Do(context.Background(), cfg, func(ctx context.Context) error {
		return transientErr()
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestBackoffDelayCapped(t *testing.T) {
	cfg := withRetryDefaults(RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     2 * time.Second,
		Multiplier:     10,
		JitterFraction: 0,
	})
	assert.Equal(t, 2*time.Second, backoffDelay(5, cfg))
}
