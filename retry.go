package turtle

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// retryProvider wraps a Provider and automatically retries transient HTTP
// errors (429 Too Many Requests and 503 Service Unavailable) with
// exponential backoff.
type retryProvider struct {
	inner       Provider
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration // overall timeout across all attempts; 0 = no limit
}

// RetryOption configures a retryProvider.
type RetryOption func(*retryProvider)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryProvider) { r.maxAttempts = n }
}

// RetryBaseDelay sets the initial backoff delay before the second attempt.
// Each subsequent delay doubles: baseDelay, 2×baseDelay, 4×baseDelay, …
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.baseDelay = d }
}

// RetryTimeout sets the overall timeout across the whole retry sequence.
// Zero (default) disables the timeout.
func RetryTimeout(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.timeout = d }
}

// WithRetry wraps p with automatic retry on transient HTTP errors (429, 503).
// Retries use exponential backoff with jitter; a Retry-After header, when
// present, sets a floor on the delay.
func WithRetry(p Provider, opts ...RetryOption) Provider {
	r := &retryProvider{
		inner:       p,
		maxAttempts: 3,
		baseDelay:   time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *retryProvider) Name() string { return r.inner.Name() }

func (r *retryProvider) Chat(ctx context.Context, req ChatRequest) (LLMResponse, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return retryCall(ctx, r.maxAttempts, r.baseDelay, r.inner.Name(), func() (LLMResponse, error) {
		return r.inner.Chat(ctx, req)
	})
}

// Stream implements Provider with retry. Retries are only performed if no
// tokens have reached ch yet; once streaming has started, errors pass
// through immediately to avoid sending duplicate content. ch is never
// closed here (same contract as the wrapped provider).
func (r *retryProvider) Stream(ctx context.Context, req ChatRequest, ch chan<- string) (LLMResponse, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var lastErr error
	for i := 0; i < r.maxAttempts; i++ {
		mid := make(chan string, 64)
		var (
			resp      LLMResponse
			streamErr error
		)
		done := make(chan struct{})
		go func() {
			defer close(done)
			resp, streamErr = r.inner.Stream(ctx, req, mid)
			close(mid)
		}()

		var tokensSent bool
		for tok := range mid {
			tokensSent = true
			ch <- tok
		}
		<-done

		if streamErr == nil || !isTransient(streamErr) || tokensSent {
			return resp, streamErr
		}

		lastErr = streamErr
		slog.Warn("llm transient error, retrying", "provider", r.inner.Name(), "status", statusOf(streamErr), "attempt", i+1, "max_attempts", r.maxAttempts)
		if i < r.maxAttempts-1 {
			delay := retryDelay(r.baseDelay, i, streamErr)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return LLMResponse{}, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return LLMResponse{}, lastErr
}

func (r *retryProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	deadline := time.Now().Add(r.timeout)
	if existing, ok := ctx.Deadline(); ok && existing.Before(deadline) {
		return ctx, func() {}
	}
	return context.WithDeadline(ctx, deadline)
}

func isTransient(err error) bool {
	var e *ErrHTTP
	return errors.As(err, &e) && (e.Status == 429 || e.Status == 503)
}

func statusOf(err error) int {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

func retryAfterOf(err error) time.Duration {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

func retryDelay(base time.Duration, i int, err error) time.Duration {
	backoff := retryBackoff(base, i)
	if ra := retryAfterOf(err); ra > backoff {
		return ra
	}
	return backoff
}

func retryCall[T any](ctx context.Context, maxAttempts int, base time.Duration, name string, fn func() (T, error)) (T, error) {
	var zero T
	var last error
	for i := 0; i < maxAttempts; i++ {
		result, err := fn()
		if err == nil || !isTransient(err) {
			return result, err
		}
		last = err
		slog.Warn("llm transient error, retrying", "provider", name, "status", statusOf(err), "attempt", i+1, "max_attempts", maxAttempts)
		if i < maxAttempts-1 {
			delay := retryDelay(base, i, err)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return zero, last
}

// retryBackoff returns the delay for retry i (0-indexed): base * 2^i, plus
// up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}

var _ Provider = (*retryProvider)(nil)
