package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/caracole/agentdeck/internal/derrors"
)

func TestDo_Success(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_NonRetryableError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return derrors.ErrInvalidInput
	})
	assert.ErrorIs(t, err, derrors.ErrInvalidInput)
	assert.Equal(t, 1, calls) // Should not retry
}

func TestDo_RetryableError_EventualSuccess(t *testing.T) {
	calls := 0
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Jitter: false}
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return derrors.ErrTimeout
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_RetryableError_AllFail(t *testing.T) {
	calls := 0
	cfg := Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Jitter: false}
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return derrors.NewAPIError("chat", 503, "service down")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_RateLimitDelayHonored(t *testing.T) {
	calls := 0
	cfg := Config{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: time.Second, Jitter: false}
	start := time.Now()
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &derrors.RateLimitError{RetryAfter: 5 * time.Millisecond}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
	// The advertised 5ms wait replaced the 1s backoff.
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	err := Do(ctx, cfg, func(ctx context.Context) error {
		return derrors.ErrTimeout
	})
	// First call happens, then context is cancelled
	assert.Error(t, err)
}

func TestDo_GenericNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return errors.New("generic error")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
