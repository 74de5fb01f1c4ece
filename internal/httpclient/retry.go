package httpclient

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy is a bounded-retry schedule for portal API calls.
// Transport errors and retryable statuses (408/423/429/5xx) are retried
// with doubling backoff up to MaxAttempts; Retry-After is honored when
// present. Well-formed 4xx responses are never retried.
type RetryPolicy struct {
	MaxAttempts    int           // total attempts, including the first
	InitialBackoff time.Duration // first wait; doubles per attempt
	MaxBackoff     time.Duration // cap on any single wait
}

// DefaultRetryPolicy matches the indexer defaults: 3 retries starting at 2s,
// capped at 60s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    4,
	InitialBackoff: 2 * time.Second,
	MaxBackoff:     60 * time.Second,
}

// RetryableStatus returns true for 429, 423, 408 and 5xx.
func RetryableStatus(code int) bool {
	if code == http.StatusTooManyRequests || code == http.StatusLocked || code == http.StatusRequestTimeout {
		return true
	}
	return code >= 500 && code < 600
}

// DoWithRetry performs GET requests built by build until one succeeds or the
// policy is exhausted. build is called per attempt so request bodies and
// per-attempt context deadlines stay correct. Caller must close resp.Body
// when err == nil. A non-retryable status is returned as-is, body intact,
// for the caller to classify.
func DoWithRetry(ctx context.Context, client *http.Client, build func() (*http.Request, error), policy RetryPolicy) (*http.Response, error) {
	if client == nil {
		client = Default()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	backoff := policy.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if attempt == policy.MaxAttempts {
				break
			}
			if err := sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff = nextBackoff(backoff, policy.MaxBackoff)
			continue
		}
		if !RetryableStatus(resp.StatusCode) {
			return resp, nil
		}
		wait := parseRetryAfter(resp.Header.Get("Retry-After"), policy.MaxBackoff)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = &StatusError{Code: resp.StatusCode, Status: resp.Status}
		if attempt == policy.MaxAttempts {
			break
		}
		if wait == 0 {
			wait = backoff
			backoff = nextBackoff(backoff, policy.MaxBackoff)
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// StatusError reports a retryable status that persisted through all attempts.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string { return "portal: " + e.Status }

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// parseRetryAfter parses Retry-After (seconds or HTTP-date); returns 0 if
// missing or invalid, capped at max.
func parseRetryAfter(s string, max time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if sec, err := strconv.Atoi(s); err == nil && sec >= 0 {
		d := time.Duration(sec) * time.Second
		if d > max {
			return max
		}
		return d
	}
	t, err := http.ParseTime(s)
	if err != nil {
		return 0
	}
	until := time.Until(t)
	if until <= 0 {
		return 0
	}
	if until > max {
		return max
	}
	return until
}
