package payment

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// RetryPolicy retries an operation with exponential backoff: BaseDelay, then
// BaseDelay*Multiplier, and so on, for at most MaxAttempts attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64

	// ShouldRetry reports whether err is transient. Nil retries every error.
	ShouldRetry func(error) bool
	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or attempts run out.
// The last error is returned on exhaustion.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if p.ShouldRetry != nil && !p.ShouldRetry(err) {
			return err
		}

		remaining := attempts - attempt
		log.Warnf("%s failed (attempt %d/%d, %d remaining): %v", op, attempt, attempts, remaining, err)
		if remaining == 0 {
			break
		}

		if serr := p.sleep(ctx, delay); serr != nil {
			return serr
		}
		if p.Multiplier > 0 {
			delay = time.Duration(float64(delay) * p.Multiplier)
		}
	}
	return err
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
