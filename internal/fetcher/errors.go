package fetcher

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultRetryAfter is the wait used when a 429 carries no usable
// Retry-After header.
const DefaultRetryAfter = 5 * time.Second

// StatusError is returned for any non-2xx upstream response.
type StatusError struct {
	StatusCode int
	URL        string
	RetryAfter string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetcher: http %d from %s", e.StatusCode, e.URL)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// RateLimitWait reports the server-directed wait when err is a 429.
func RateLimitWait(err error, now time.Time) (time.Duration, bool) {
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}
	return ParseRetryAfter(se.RetryAfter, now), true
}

// ParseRetryAfter converts a Retry-After header value into a wait. The value
// may be delta-seconds or an HTTP-date; anything else yields
// DefaultRetryAfter. Dates in the past yield zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultRetryAfter
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs < 0 {
			return DefaultRetryAfter
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		return max(at.Sub(now), 0)
	}
	return DefaultRetryAfter
}
