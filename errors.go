package turtle

import (
	"fmt"
	"time"
)

// ErrLLM wraps a provider-level failure (bad response shape, API error body).
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP wraps a non-2xx HTTP response from a provider's REST endpoint.
// RetryAfter is non-zero when the response carried a Retry-After header.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses an HTTP Retry-After header value, which is either
// an integer number of seconds or an HTTP-date. Returns 0 if unparseable.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil {
		return secs
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		d := time.Until(t)
		if d > 0 {
			return d
		}
	}
	return 0
}
