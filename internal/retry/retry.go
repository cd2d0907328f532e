// Package retry runs an operation several times with a growing pause
// between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// Backoff picks how the pause grows between attempts.
type Backoff int

const (
	// Linear waits attempt*InitialDelay after the given attempt.
	Linear Backoff = iota
	// Exponential waits InitialDelay*Multiplier^(attempt-1).
	Exponential
)

// Config configures retry behaviour.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Backoff      Backoff
}

// DispatchConfig is the schedule used for enhancement triggers: three
// attempts, waiting 1s then 2s.
func DispatchConfig() Config {
	return Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second, Backoff: Linear}
}

// Result describes how a retried operation went.
type Result struct {
	Attempts      int           `json:"attempts"`
	Success       bool          `json:"success"`
	TotalDuration time.Duration `json:"totalDuration"`
	LastError     error         `json:"-"`
}

// Func is the operation being retried. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do executes fn until it succeeds, returns a permanent error, runs out of
// attempts, or ctx is cancelled.
func Do(ctx context.Context, cfg Config, fn Func) *Result {
	logger := zerolog.Ctx(ctx)
	start := time.Now()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	result := &Result{}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt
		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.LastError = nil
			result.TotalDuration = time.Since(start)
			if attempt > 1 {
				logger.Info().Int("attempts", attempt).Dur("total", result.TotalDuration).Msg("retry: succeeded after retry")
			}
			return result
		}
		result.LastError = err

		if IsPermanent(err) {
			logger.Debug().Err(err).Int("attempt", attempt).Msg("retry: permanent failure")
			break
		}
		if attempt >= cfg.MaxAttempts {
			logger.Warn().Err(err).Int("attempts", attempt).Msg("retry: giving up after max attempts")
			break
		}
		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			break
		}

		delay := cfg.Delay(attempt)
		logger.Debug().Err(err).Int("attempt", attempt).Int("max_attempts", cfg.MaxAttempts).Dur("delay", delay).Msg("retry: attempt failed, backing off")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result
		}
	}

	result.TotalDuration = time.Since(start)
	return result
}

// Delay returns the pause after the given failed attempt.
func (c Config) Delay(attempt int) time.Duration {
	var d float64
	switch c.Backoff {
	case Exponential:
		m := c.Multiplier
		if m <= 0 {
			m = 2
		}
		d = float64(c.InitialDelay) * math.Pow(m, float64(attempt-1))
	default:
		d = float64(c.InitialDelay) * float64(attempt)
	}
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// Err unwraps the result into an error, nil on success.
func (r *Result) Err() error {
	if r == nil || r.Success {
		return nil
	}
	var p *permanentError
	if errors.As(r.LastError, &p) {
		return p.err
	}
	return fmt.Errorf("failed after %d attempts: %w", r.Attempts, r.LastError)
}
