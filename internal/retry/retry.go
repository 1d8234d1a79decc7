// Package retry runs store operations under a bounded exponential-backoff
// policy. Failures are retried by default; callers exempt errors that fail
// the same way every time by wrapping them with MarkClient. MarkTransient
// positively identifies the network class for logs and tests.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/s3ferry/internal/clock"
)

const (
	// DefaultMaxAttempts is the per-operation attempt budget when the
	// caller does not choose one.
	DefaultMaxAttempts = 10
	// MaxAttemptsLimit is the hard upper bound; larger configured values
	// are clamped down to it.
	MaxAttemptsLimit = 50

	DefaultBaseDelay  = 200 * time.Millisecond
	DefaultMaxDelay   = 10 * time.Second
	DefaultMultiplier = 2.0
)

// Config controls the executor's attempt budget and backoff curve.
type Config struct {
	// MaxAttempts is the total number of attempts per operation, first
	// try included. Zero means DefaultMaxAttempts.
	MaxAttempts int
	// BaseDelay is the sleep before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps exponential backoff growth.
	MaxDelay time.Duration
	// Multiplier is the growth factor applied between attempts.
	Multiplier float64
	// RetryClientErrors makes errors marked with MarkClient retryable
	// too. Off by default: a 4xx normally fails the same way every time.
	RetryClientErrors bool
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxAttempts > MaxAttemptsLimit {
		c.MaxAttempts = MaxAttemptsLimit
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.Multiplier <= 1 {
		c.Multiplier = DefaultMultiplier
	}
	return c
}

// Executor retries operations according to its Config. The zero value is not
// usable; construct with New.
type Executor struct {
	cfg   Config
	clock clock.Clock
}

// New returns an executor with cfg's gaps filled by defaults. A nil clk uses
// the real clock.
func New(cfg Config, clk clock.Clock) *Executor {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Executor{cfg: cfg.normalized(), clock: clk}
}

// MaxAttempts reports the normalized attempt budget.
func (e *Executor) MaxAttempts() int { return e.cfg.MaxAttempts }

// Do runs fn until it succeeds, the attempt budget is exhausted, the error is
// not retryable, or ctx is cancelled. desc names the operation in log lines.
func (e *Executor) Do(ctx context.Context, desc string, fn func(ctx context.Context) error) error {
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	delay := e.cfg.BaseDelay
	var err error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !e.retryable(err) {
			return err
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}
		logger.Warn("retry.attempt_failed", "op", desc, "attempt", attempt, "max_attempts", e.cfg.MaxAttempts, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(delay):
		}
		next := time.Duration(float64(delay) * e.cfg.Multiplier)
		if next <= 0 || next > e.cfg.MaxDelay {
			next = e.cfg.MaxDelay
		}
		delay = next
	}
	logger.Error("retry.exhausted", "op", desc, "attempts", e.cfg.MaxAttempts, "error", err)
	return fmt.Errorf("%s: giving up after %d attempts: %w", desc, e.cfg.MaxAttempts, err)
}

// retryable implements the default-retry policy: everything gets another
// attempt except cancellation and errors marked client-side, unless
// RetryClientErrors overrides the latter.
func (e *Executor) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsClient(err) {
		return e.cfg.RetryClientErrors
	}
	return true
}
