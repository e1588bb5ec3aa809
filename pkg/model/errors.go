package model

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/expectedparrot/edsl-sub003/pkg/errors"
)

// ClassifyStatus maps an HTTP status from a provider to a coded error.
// 429, 408 and 5xx are transient.
func ClassifyStatus(status int, err error, provider string) *errors.Error {
	var e *errors.Error
	switch {
	case status == http.StatusTooManyRequests:
		e = errors.Wrap(err, errors.ErrCodeModelRateLimit, "provider rate limited").WithRetryable(true)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e = errors.Wrap(err, errors.ErrCodeModelTimeout, "provider timed out").WithRetryable(true)
	case status >= 500:
		e = errors.Wrap(err, errors.ErrCodeModelAPIError, "provider server error").WithRetryable(true)
	default:
		e = errors.Wrap(err, errors.ErrCodeModelAPIError, "provider rejected request")
	}
	return e.WithContext("provider", provider).WithContext("status", status)
}

// classifyTransport handles errors that carry no HTTP status.
func classifyTransport(ctx context.Context, err error, provider string) *errors.Error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrCodeModelTimeout, "model call timed out").
			WithRetryable(true).
			WithContext("provider", provider)
	}
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), errors.ErrCodeCancelled, "model call cancelled").
			WithContext("provider", provider)
	}
	// Connection failures are retried like a 5xx.
	return errors.Wrap(err, errors.ErrCodeModelAPIError, "model call failed").
		WithRetryable(true).
		WithContext("provider", provider)
}

// Malformed marks a response the caller could not use. It is transient.
func Malformed(reason string) *errors.Error {
	return errors.New(errors.ErrCodeModelMalformed, reason).WithRetryable(true)
}
