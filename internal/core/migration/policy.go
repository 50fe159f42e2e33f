package migration

import (
	"context"
	"errors"
	"time"

	"github.com/melih/lighthouse-migrator/internal/core/domain"
	"go.uber.org/zap"
)

// Policy bounds how long a step may run and how often it is retried.
type Policy struct {
	// StepTimeout caps every attempt of a step. Zero disables the cap.
	StepTimeout time.Duration
	// MaxAttempts is the number of tries for a retryable step, first one included.
	MaxAttempts int
	// Backoff is multiplied by the attempt number between tries.
	Backoff     time.Duration
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		StepTimeout: 30 * time.Second,
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	return p
}

// transient reports whether err is worth another attempt. Runtime and reload
// failures are, unless the object is simply gone.
func transient(err error) bool {
	if errors.Is(err, domain.ErrNotFound) {
		return false
	}
	return domain.IsKind(err, domain.KindRuntime) || domain.IsKind(err, domain.KindReload)
}

// execute runs fn until it succeeds, fails permanently or runs out of attempts.
// It returns the number of attempts made.
func (p Policy) execute(ctx context.Context, retry bool, log *zap.Logger, fn func(context.Context) error) (int, error) {
	p = p.normalized()
	attempts := 1
	if retry {
		attempts = p.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return attempt - 1, err
		}

		lastErr = p.attempt(ctx, fn)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == attempts || !transient(lastErr) {
			return attempt, lastErr
		}

		delay := p.Backoff * time.Duration(attempt)
		log.Debug("step failed, retrying",
			zap.Error(lastErr),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return attempt, lastErr
		}
	}
	return attempts, lastErr
}

func (p Policy) attempt(ctx context.Context, fn func(context.Context) error) error {
	if p.StepTimeout <= 0 {
		return fn(ctx)
	}
	stepCtx, cancel := context.WithTimeout(ctx, p.StepTimeout)
	defer cancel()
	return fn(stepCtx)
}
