package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"go.uber.org/zap"
)

type retryPolicy struct {
	attempts int
	backoff  time.Duration
}

// do runs fn until it succeeds, fails with anything other than ErrStoreUnavailable,
// or runs out of attempts. The wait grows linearly with the attempt number.
func (p retryPolicy) do(ctx context.Context, logger *zap.Logger, op string, fn func(ctx context.Context) error) error {
	attempts := max(p.attempts, 1)
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, domain.ErrStoreUnavailable) || attempt >= attempts {
			return err
		}

		logger.Warn("store unavailable, retrying",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))

		timer := time.NewTimer(time.Duration(attempt) * p.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}
