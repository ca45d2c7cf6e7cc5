package export

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"math/rand/v2"
	"time"

	"github.com/abhisek/bktrace/internal/training"
)

// RetryConfig configures retry behavior for transient export failures.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns the retry policy used for network exporters.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryExporter is a decorator that retries transient errors with
// exponential backoff and jitter.
type RetryExporter struct {
	inner  training.Exporter
	config RetryConfig
}

// WithRetry wraps an Exporter with retry logic.
func WithRetry(e training.Exporter, cfg RetryConfig) training.Exporter {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &RetryExporter{inner: e, config: cfg}
}

func (r *RetryExporter) Name() string { return r.inner.Name() }

func (r *RetryExporter) Export(ctx context.Context, a *training.Artifacts) error {
	var lastErr error
	for attempt := range r.config.MaxAttempts {
		err := r.inner.Export(ctx, a)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}

		// Last attempt: don't sleep, just return the error.
		if attempt == r.config.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff(attempt)):
		}
	}
	return lastErr
}

// retryable reports whether err may succeed on a later attempt. Context,
// permission and document errors never do.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, ErrIncompatibleVersion) {
		return false
	}
	var verr *ValidationError
	return !errors.As(err, &verr)
}

// backoff computes the wait duration for the given attempt.
func (r *RetryExporter) backoff(attempt int) time.Duration {
	wait := float64(r.config.InitialWait) * math.Pow(r.config.Multiplier, float64(attempt))
	if wait > float64(r.config.MaxWait) {
		wait = float64(r.config.MaxWait)
	}

	// Add ±20% jitter.
	wait += wait * 0.2 * (2*rand.Float64() - 1)
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}
