package dispatch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"genrelay/internal/infra/config"
)

// RetryPolicy bounds how hard the dispatcher pushes on one adapter.
// MaxAttempts counts calls, so 1 means no retry.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Multiplier  float64
	Max         time.Duration
	Jitter      float64
}

// DefaultRetryPolicy mirrors the configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicyFromConfig(config.Defaults().Dispatch)
}

// RetryPolicyFromConfig extracts the retry settings from dispatch config.
func RetryPolicyFromConfig(cfg config.DispatchConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxRetries,
		Base:        cfg.Backoff.Base,
		Multiplier:  cfg.Backoff.Multiplier,
		Max:         cfg.Backoff.Max,
		Jitter:      cfg.Backoff.Jitter,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// newBackOff returns a fresh schedule for one adapter. The overall deadline
// is enforced by the context, so the schedule itself never gives up.
func (p RetryPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.MaxInterval = p.Max
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
