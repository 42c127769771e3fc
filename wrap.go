package brood

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
)

// LoopOption configures a Loop combinator.
type LoopOption func(*loopConfig)

type loopConfig struct {
	every      time.Duration
	policy     backoff.BackOff
	maxRetries int
	clock      clockwork.Clock
}

// Every inserts a fixed delay between successful iterations.
func Every(d time.Duration) LoopOption {
	return func(c *loopConfig) {
		if d > 0 {
			c.every = d
		}
	}
}

// Restart keeps the loop alive across failures: each failure sleeps out the
// next backoff interval and retries, up to maxRetries consecutive failures
// (negative means unlimited). A successful iteration resets both the retry
// count and the policy.
func Restart(maxRetries int, policy backoff.BackOff) LoopOption {
	return func(c *loopConfig) {
		c.policy = policy
		c.maxRetries = maxRetries
	}
}

// LoopClock injects the clock driving Every delays and backoff sleeps.
func LoopClock(clock clockwork.Clock) LoopOption {
	return func(c *loopConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// Loop repeats fn until ctx ends or fn fails. Without a Restart policy the
// first error stops the loop and propagates. Cancellation wins over Every
// delays and backoff sleeps.
func Loop(fn Func, opts ...LoopOption) Func {
	cfg := loopConfig{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(ctx context.Context) error {
		retries := 0
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			err := fn(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				if cfg.policy == nil {
					return err
				}
				if cfg.maxRetries >= 0 && retries >= cfg.maxRetries {
					return err
				}
				delay := cfg.policy.NextBackOff()
				if delay == backoff.Stop {
					return err
				}
				retries++
				if sleepErr := sleepClock(ctx, cfg.clock, delay); sleepErr != nil {
					return sleepErr
				}
				continue
			}

			retries = 0
			if cfg.policy != nil {
				cfg.policy.Reset()
			}
			if cfg.every > 0 {
				if sleepErr := sleepClock(ctx, cfg.clock, cfg.every); sleepErr != nil {
					return sleepErr
				}
			}
		}
	}
}

// Suppress swallows errors returned by fn that match any of the targets via
// errors.Is; with no targets every error is swallowed. Context errors from a
// done ctx always propagate so cancellation still stops loops.
func Suppress(fn Func, targets ...error) Func {
	return func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return err
		}
		if len(targets) == 0 {
			return nil
		}
		for _, target := range targets {
			if errors.Is(err, target) {
				return nil
			}
		}
		return err
	}
}

// Recover converts panics in fn into *PanicError returns. Group.Go applies
// this at the spawn boundary; it is exported so bodies can be hardened
// explicitly when composed elsewhere.
func Recover(fn Func) Func {
	return func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		return fn(ctx)
	}
}

func sleepClock(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
