package llm

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

// RunState is an observed state of an asynchronous completion job.
type RunState string

const (
	StateQueued    RunState = "queued"
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
	StateCancelled RunState = "cancelled"
)

// Terminal reports whether the state ends the job.
func (s RunState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// StatusCheck reports the job's current state. Errors are treated as
// transient and retried.
type StatusCheck func(ctx context.Context) (RunState, error)

// SleepFunc suspends for d or until the context is done. Injectable for tests.
type SleepFunc func(ctx context.Context, d time.Duration) error

// PollerConfig tunes the retry schedule.
type PollerConfig struct {
	Base          time.Duration // first backoff interval
	Growth        float64       // backoff multiplier per attempt
	Cap           time.Duration // backoff ceiling
	TransientWait time.Duration // fixed wait after a failed status check
	MaxAttempts   int           // status checks before giving up
	Sleep         SleepFunc
}

// RunPoller polls an asynchronous job with bounded exponential backoff
// until it reaches a terminal state or exhausts its attempt budget.
type RunPoller struct {
	cfg PollerConfig
}

// NewRunPoller creates a poller, filling zero fields with defaults
// (base 1s, growth 1.5, cap 10s, transient wait 2s, 30 attempts).
func NewRunPoller(cfg PollerConfig) *RunPoller {
	if cfg.Base <= 0 {
		cfg.Base = time.Second
	}
	if cfg.Growth <= 1 {
		cfg.Growth = 1.5
	}
	if cfg.Cap <= 0 {
		cfg.Cap = 10 * time.Second
	}
	if cfg.TransientWait <= 0 {
		cfg.TransientWait = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 30
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &RunPoller{cfg: cfg}
}

// Await drives check until a terminal state. The first check happens
// immediately; check i then waits min(base*growth^i, cap) before the
// next one. A transient check error costs a fixed TransientWait and an
// attempt. Exhausting MaxAttempts yields ErrPollTimeout.
func (p *RunPoller) Await(ctx context.Context, check StatusCheck) (RunState, error) {
	var lastErr error

	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		state, err := check(ctx)
		if err != nil {
			lastErr = err
			if sleepErr := p.cfg.Sleep(ctx, p.cfg.TransientWait); sleepErr != nil {
				return "", sleepErr
			}
			continue
		}

		if state.Terminal() {
			return state, nil
		}

		if sleepErr := p.cfg.Sleep(ctx, p.backoff(attempt)); sleepErr != nil {
			return "", sleepErr
		}
	}

	if lastErr != nil {
		return "", fmt.Errorf("after %d attempts (last status error: %v): %w",
			p.cfg.MaxAttempts, lastErr, domain.ErrPollTimeout)
	}
	return "", fmt.Errorf("after %d attempts: %w", p.cfg.MaxAttempts, domain.ErrPollTimeout)
}

func (p *RunPoller) backoff(attempt int) time.Duration {
	d := time.Duration(float64(p.cfg.Base) * math.Pow(p.cfg.Growth, float64(attempt)))
	if d > p.cfg.Cap {
		return p.cfg.Cap
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
