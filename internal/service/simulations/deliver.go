package simulations

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/animus-labs/simgate/internal/upstream"
)

// deliver posts body until the validator answers 2xx, a non-retryable status
// arrives, or the retry policy is exhausted. It reports the number of
// attempts made.
func (s *Service) deliver(ctx context.Context, id string, body []byte) (upstream.Response, int, error) {
	if s.retry.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.retry.Deadline)
		defer cancel()
	}

	attempts := 0
	operation := func() (upstream.Response, error) {
		attempts++
		start := time.Now()
		resp, err := s.sender.Send(ctx, upstream.Request{IdempotencyKey: id, Body: body})
		elapsed := time.Since(start)
		if err != nil {
			s.metrics.ObserveAttempt("transport_error", elapsed)
			uerr := &UpstreamError{Kind: ErrUpstreamUnavailable, Err: err}
			if ctx.Err() != nil {
				return upstream.Response{}, backoff.Permanent(uerr)
			}
			return upstream.Response{}, uerr
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			s.metrics.ObserveAttempt("success", elapsed)
			return resp, nil
		}
		uerr := &UpstreamError{
			Kind:        ErrUpstreamUnavailable,
			StatusCode:  resp.StatusCode,
			ContentType: resp.ContentType,
			Body:        resp.Body,
		}
		if retryableStatus(resp.StatusCode) {
			s.metrics.ObserveAttempt("retryable_status", elapsed)
			return upstream.Response{}, uerr
		}
		s.metrics.ObserveAttempt("rejected", elapsed)
		return upstream.Response{}, backoff.Permanent(uerr)
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(s.retry.backOff()),
		backoff.WithMaxTries(uint(s.retry.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("validator attempt failed", "simulation_id", id, "attempt", attempts, "retry_in", next, "error", err)
		}),
	)
	if err == nil {
		return resp, attempts, nil
	}

	var uerr *UpstreamError
	if !errors.As(err, &uerr) {
		// Retry gave up on ctx; the error is the context cause.
		uerr = &UpstreamError{Kind: ErrUpstreamUnavailable, Err: err}
	}
	uerr.Attempts = attempts
	return upstream.Response{}, attempts, uerr
}

// retryableStatus covers 5xx plus the 4xx codes that signal a transient
// condition. Every other 4xx is returned to the caller as is.
func retryableStatus(code int) bool {
	switch {
	case code >= 500:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}
