package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/modelminds/gradeboard/internal/errors"
)

func fastConfig(maxAttempts int) RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = maxAttempts
	cfg.InitialDelay = time.Millisecond
	cfg.JitterEnabled = false
	return cfg
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := RetryWithConfig(context.Background(), fastConfig(3), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	calls := 0
	err := RetryWithConfig(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return apperrors.NewTransportError("mail delivery failed", errors.New("reset"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := RetryWithConfig(context.Background(), fastConfig(3), func() error {
		calls++
		return apperrors.NewTransportError("mail delivery failed", errors.New("reset"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	err := RetryWithConfig(context.Background(), fastConfig(3), func() error {
		calls++
		return apperrors.NewValidationError("bad input", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, apperrors.CategoryValidation, apperrors.ToAppError(err).Category)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := RetryWithConfig(ctx, fastConfig(3), func() error {
		calls++
		return errors.New("unreachable")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestMailRetryConfig(t *testing.T) {
	cfg := MailRetryConfig()
	assert.Equal(t, 2, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialDelay)
	assert.True(t, cfg.RetryableErrors(apperrors.NewTransportError("x", errors.New("y"))))
	assert.False(t, cfg.RetryableErrors(apperrors.NewValidationError("x", nil)))
}

func TestCalculateDelayBackoff(t *testing.T) {
	cfg := RetryConfig{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, 100*time.Millisecond, calculateDelay(cfg, 0))
	assert.Equal(t, 200*time.Millisecond, calculateDelay(cfg, 1))
	assert.Equal(t, 400*time.Millisecond, calculateDelay(cfg, 2))
	// Capped at MaxDelay.
	assert.Equal(t, time.Second, calculateDelay(cfg, 10))
}
