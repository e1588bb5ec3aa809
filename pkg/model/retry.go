package model

import (
	"context"
	stderrors "errors"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/expectedparrot/edsl-sub003/pkg/errors"
	"github.com/expectedparrot/edsl-sub003/pkg/logging"
)

// RetryConfig configures retries of transient model errors.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     20 * time.Second,
		Multiplier:      2.0,
	}
}

// RetryOptions configures a Retrying caller.
type RetryOptions struct {
	Retry RetryConfig
	// CallTimeout bounds each attempt. Zero means no per-attempt timeout.
	CallTimeout time.Duration
	// Limiter paces every attempt across all interviews sharing this caller.
	Limiter *rate.Limiter
	Logger  *logging.Logger
	// OnRetry is called before sleeping for the next attempt.
	OnRetry func(req *Request, attempt int, err error)
}

// Retrying wraps a caller with per-attempt timeouts, rate limiting and
// exponential backoff. Only errors marked retryable are retried.
type Retrying struct {
	next  Caller
	opts  RetryOptions
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps next.
func NewRetrying(next Caller, opts RetryOptions) *Retrying {
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.Retry.Multiplier < 1 {
		opts.Retry.Multiplier = 1
	}
	return &Retrying{next: next, opts: opts, sleep: sleepContext}
}

// NewLimiter builds a limiter for requestsPerSecond. Zero or less disables it.
func NewLimiter(requestsPerSecond float64, burst int) *rate.Limiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// Invoke calls the wrapped caller with retries.
func (r *Retrying) Invoke(ctx context.Context, req *Request) (*Response, error) {
	return r.Do(ctx, req, nil)
}

// Do calls the wrapped caller until it returns a response check accepts, a
// non-retryable error occurs or attempts run out.
func (r *Retrying) Do(ctx context.Context, req *Request, check CheckFunc) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= r.opts.Retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.calculateBackoff(attempt - 2)
			if r.opts.OnRetry != nil {
				r.opts.OnRetry(req, attempt, lastErr)
			}
			_ = r.opts.Logger.Warn(logging.CategoryRetry, "retry.scheduled", lastErr.Error(), map[string]any{
				"question": req.Question,
				"model":    req.Model.String(),
				"attempt":  attempt,
				"delay_ms": delay.Milliseconds(),
			})
			if err := r.sleep(ctx, delay); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeCancelled, "retry wait cancelled")
			}
		}

		resp, err := r.attempt(ctx, req)
		if err == nil && check != nil {
			err = check(resp)
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.ErrCodeCancelled, "model call cancelled")
		}
		if !errors.IsRetryable(err) {
			return nil, err
		}
	}

	return nil, errors.Wrap(lastErr, errors.GetCode(lastErr), "retries exhausted").
		WithContext("attempts", r.opts.Retry.MaxAttempts)
}

func (r *Retrying) attempt(ctx context.Context, req *Request) (*Response, error) {
	if r.opts.Limiter != nil {
		if err := r.opts.Limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrap(ctx.Err(), errors.ErrCodeCancelled, "rate limit wait cancelled")
			}
			return nil, errors.Wrap(err, errors.ErrCodeModelRateLimit, "rate limit wait").WithRetryable(true)
		}
	}

	callCtx := ctx
	if r.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.opts.CallTimeout)
		defer cancel()
	}

	resp, err := r.next.Invoke(callCtx, req)
	if err != nil {
		if stderrors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, errors.Wrap(err, errors.ErrCodeModelTimeout, "model call timed out").
				WithRetryable(true).
				WithContext("timeout", r.opts.CallTimeout.String())
		}
		return nil, err
	}
	if resp == nil {
		return nil, Malformed("empty response")
	}
	return resp, nil
}

// calculateBackoff calculates the delay for the next retry attempt using exponential backoff with jitter.
func (r *Retrying) calculateBackoff(attempt int) time.Duration {
	cfg := r.opts.Retry
	if attempt <= 0 {
		return cfg.InitialInterval
	}

	delay := float64(cfg.InitialInterval)
	for i := 0; i < attempt; i++ {
		delay *= cfg.Multiplier
	}

	if cfg.MaxInterval > 0 && delay > float64(cfg.MaxInterval) {
		delay = float64(cfg.MaxInterval)
	}

	jitter := time.Duration(rand.Float64() * delay * 0.5)
	delay = delay*0.75 + float64(jitter)

	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
