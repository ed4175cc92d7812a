package llm

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig is the Agent Runner's LLM retry policy (§4.4): 3 attempts,
// base 5s, multiplier 3, max 120s.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns the §4.4 schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
		Multiplier:  3,
		MaxDelay:    120 * time.Second,
	}
}

// RetryingCompleter wraps a Completer with the LLM retry policy,
// retrying transport errors, HTTP ≥500/408/429, or messages mentioning
// overload/rate-limit/capacity (§4.4).
type RetryingCompleter struct {
	inner  Completer
	config RetryConfig
}

// NewRetryingCompleter wraps inner under cfg.
func NewRetryingCompleter(inner Completer, cfg RetryConfig) *RetryingCompleter {
	return &RetryingCompleter{inner: inner, config: cfg}
}

func (r *RetryingCompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		resp, err := r.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
		if attempt == r.config.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.backoff(attempt)):
		}
	}
	return nil, lastErr
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return false
	}

	msg := strings.ToLower(err.Error())

	if strings.HasPrefix(msg, "request failed:") {
		return true
	}
	for _, needle := range []string{"overloaded", "rate limit", "capacity"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	for _, code := range []string{"408", "429", "500", "502", "503", "529"} {
		if strings.Contains(msg, "status "+code) {
			return true
		}
	}
	return false
}

func (r *RetryingCompleter) backoff(attempt int) time.Duration {
	base := float64(r.config.BaseDelay) * math.Pow(r.config.Multiplier, float64(attempt))
	if base > float64(r.config.MaxDelay) {
		base = float64(r.config.MaxDelay)
	}
	jitter := base * 0.1 * (rand.Float64()*2 - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}
