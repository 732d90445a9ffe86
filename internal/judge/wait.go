// Package judge holds the run-status wait loop shared by judge clients.
package judge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"policyeval/internal/domain"
)

var (
	// ErrJudgeRun is returned when a run ends in a state other than completed.
	ErrJudgeRun = errors.New("judge run did not complete")
	// ErrWaitTimeout is returned when a run is still pending after the wait timeout.
	ErrWaitTimeout = errors.New("timed out waiting for judge run")
)

// Default wait settings.
const (
	DefaultPollInterval    = time.Second
	DefaultMaxPollInterval = 5 * time.Second
	DefaultPollMultiplier  = 1.5
	DefaultWaitTimeout     = 5 * time.Minute
)

// Poller reports the current state of a run.
type Poller interface {
	Poll(ctx context.Context, run domain.RunHandle) (domain.RunState, error)
}

// WaitOptions controls the polling cadence. Zero values select the defaults.
type WaitOptions struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
	Timeout     time.Duration
}

func (o WaitOptions) withDefaults() WaitOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultPollInterval
	}
	if o.MaxInterval < o.Interval {
		o.MaxInterval = DefaultMaxPollInterval
		if o.MaxInterval < o.Interval {
			o.MaxInterval = o.Interval
		}
	}
	if o.Multiplier < 1 {
		o.Multiplier = DefaultPollMultiplier
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultWaitTimeout
	}
	return o
}

// Wait polls until the run reaches a terminal state. A completed run returns its state and a nil
// error; failed or cancelled runs return ErrJudgeRun. The wait ends early on context cancellation
// or after the timeout with ErrWaitTimeout.
func Wait(ctx context.Context, p Poller, run domain.RunHandle, opts WaitOptions) (domain.RunState, error) {
	opts = opts.withDefaults()
	deadline := time.Now().Add(opts.Timeout)
	interval := opts.Interval

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return domain.RunState{}, ctx.Err()
		case <-timer.C:
		}

		state, err := p.Poll(ctx, run)
		if err != nil {
			return state, fmt.Errorf("poll run %s: %w", run.RunID, err)
		}
		if state.Status.Terminal() {
			if state.Status != domain.RunCompleted {
				return state, fmt.Errorf("%w: run %s %s: %s", ErrJudgeRun, run.RunID, state.Status, state.Detail)
			}
			return state, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return state, fmt.Errorf("%w: run %s after %s", ErrWaitTimeout, run.RunID, opts.Timeout)
		}
		next := interval
		if next > remaining {
			next = remaining
		}
		timer.Reset(next)
		interval = time.Duration(float64(interval) * opts.Multiplier)
		if interval > opts.MaxInterval {
			interval = opts.MaxInterval
		}
	}
}
