package signals

import (
	"context"
	"log/slog"
	"time"
)

// TimeoutConfig controls the per-signal fetch guard.
type TimeoutConfig struct {
	PerSignal  time.Duration // per-attempt deadline
	MaxRetries int           // additional attempts after the first
	RetryDelay time.Duration // base delay, doubled per attempt
}

// DefaultTimeoutConfig returns the guard defaults.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		PerSignal:  500 * time.Millisecond,
		MaxRetries: 1,
		RetryDelay: 50 * time.Millisecond,
	}
}

// TimeoutCollector decorates a Collector with per-signal timeouts and a
// bounded retry, so one slow upstream cannot stall an entire scoring
// pass. Past the deadline the signal degrades to absent.
type TimeoutCollector struct {
	inner  Collector
	config TimeoutConfig
}

// NewTimeoutCollector wraps a collector with the given guard config.
func NewTimeoutCollector(inner Collector, config TimeoutConfig) *TimeoutCollector {
	if config.PerSignal <= 0 {
		config.PerSignal = DefaultTimeoutConfig().PerSignal
	}
	return &TimeoutCollector{inner: inner, config: config}
}

type fetchResult struct {
	value float64
	ok    bool
	err   error
}

// FetchSignal implements Collector. The inner fetch runs in its own
// goroutine; a fetch that outlives its deadline is abandoned and its
// attempt counts as failed.
func (t *TimeoutCollector) FetchSignal(ctx context.Context, entityID, name string) (float64, bool, error) {
	var lastErr error

	for attempt := 0; attempt <= t.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := t.config.RetryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return 0, false, ctx.Err()
			}
		}

		value, ok, err := t.fetchOnce(ctx, entityID, name)
		if err == nil {
			return value, ok, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		slog.Warn("Signal fetch attempt failed",
			"entity_id", entityID,
			"signal", name,
			"attempt", attempt+1,
			"error", err)
	}

	return 0, false, lastErr
}

func (t *TimeoutCollector) fetchOnce(ctx context.Context, entityID, name string) (float64, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, t.config.PerSignal)
	defer cancel()

	resultCh := make(chan fetchResult, 1)
	go func() {
		value, ok, err := t.inner.FetchSignal(attemptCtx, entityID, name)
		resultCh <- fetchResult{value: value, ok: ok, err: err}
	}()

	select {
	case res := <-resultCh:
		return res.value, res.ok, res.err
	case <-attemptCtx.Done():
		return 0, false, attemptCtx.Err()
	}
}
