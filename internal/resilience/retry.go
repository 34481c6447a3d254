package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/fairyhunter13/social-inbox/internal/domain"
	"github.com/fairyhunter13/social-inbox/pkg/clockx"
)

const maxJitter = 1000 * time.Millisecond

// RetryConfig tunes the retry engine.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
}

// DefaultRetryConfig returns the production defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second, Factor: 2}
}

// Retryer runs an operation up to MaxRetries+1 times with exponential
// backoff. A caller-supplied ShouldRetry predicate gates each retry; when a
// breaker is attached, a non-CLOSED circuit stops the loop immediately so
// budget is not wasted while the circuit says "stop", and the breaker's
// rejection error surfaces directly.
type Retryer struct {
	cfg         RetryConfig
	clock       clockx.Clock
	breaker     *Breaker
	shouldRetry func(error) bool
	jitter      func() time.Duration
}

// NewRetryer constructs a Retryer. breaker may be nil; shouldRetry defaults
// to RetryableError.
func NewRetryer(cfg RetryConfig, clock clockx.Clock, breaker *Breaker, shouldRetry func(error) bool) *Retryer {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultRetryConfig().InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultRetryConfig().MaxDelay
	}
	if cfg.Factor <= 0 {
		cfg.Factor = DefaultRetryConfig().Factor
	}
	if clock == nil {
		clock = clockx.System{}
	}
	if shouldRetry == nil {
		shouldRetry = RetryableError
	}
	return &Retryer{
		cfg:         cfg,
		clock:       clock,
		breaker:     breaker,
		shouldRetry: shouldRetry,
		jitter:      func() time.Duration { return time.Duration(rand.Int63n(int64(maxJitter) + 1)) },
	}
}

// RetryableError reports whether err is a transient upstream failure.
func RetryableError(err error) bool {
	return errors.Is(err, domain.ErrNetwork) ||
		errors.Is(err, domain.ErrServer) ||
		errors.Is(err, domain.ErrThrottled)
}

// Do runs fn until it succeeds, the retry budget is spent, or the predicate
// (or breaker) declines another attempt. Circuit-rejected attempts do not
// sleep and do not consume further budget.
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if serr := r.clock.Sleep(ctx, r.delay(attempt-1)); serr != nil {
				return serr
			}
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrCircuitOpen) {
			return err
		}
		if r.breaker != nil && r.breaker.State() != domain.BreakerClosed {
			return err
		}
		if !r.shouldRetry(err) {
			return err
		}
	}
	return err
}

// delay computes min(initial * factor^attempt + jitter, maxDelay).
func (r *Retryer) delay(attempt int) time.Duration {
	d := time.Duration(float64(r.cfg.InitialDelay) * math.Pow(r.cfg.Factor, float64(attempt)))
	if d < 0 || d > r.cfg.MaxDelay {
		// Negative means the float overflowed the duration range.
		return r.cfg.MaxDelay
	}
	d += r.jitter()
	if d > r.cfg.MaxDelay {
		d = r.cfg.MaxDelay
	}
	return d
}
