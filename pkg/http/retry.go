package http

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// RetryableError is implemented by errors that know whether a retry can help.
type RetryableError interface {
	error
	IsRetryable() bool
}

// RetryAfterError is implemented by errors carrying a server Retry-After hint.
type RetryAfterError interface {
	error
	SuggestedRetryAfter() time.Duration
}

// IsRetryableNetworkError reports whether a transport error is transient.
// Connection failures are transient since the sink may still be starting;
// unknown hosts and TLS errors are permanent.
func IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, context.Canceled):
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET, syscall.ETIMEDOUT, syscall.EPIPE,
			syscall.ECONNREFUSED, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return IsRetryableNetworkError(urlErr.Err)
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{"certificate", "x509:", "tls:", "no such host"} {
		if strings.Contains(msg, p) {
			return false
		}
	}
	for _, p := range []string{"timeout", "reset by peer", "broken pipe", "connection refused", "temporary failure", "eof"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Classify reports whether err is a transient delivery failure.
// Errors that declare their own retryability win over network heuristics.
func Classify(err error) bool {
	if err == nil {
		return false
	}
	var re RetryableError
	if errors.As(err, &re) {
		return re.IsRetryable()
	}
	return IsRetryableNetworkError(err)
}

// RetryStrategy decides whether and when a failed delivery is retried.
type RetryStrategy interface {
	// ShouldRetry reports whether attempt (zero-based, counting retries
	// already made) may be followed by another.
	ShouldRetry(attempt int, err error) bool

	// RetryDelay returns the wait before the next attempt.
	RetryDelay(attempt int) time.Duration
}

// RetryStrategyWithError lets the delay depend on the failure, for example a
// server Retry-After hint.
type RetryStrategyWithError interface {
	RetryStrategy
	RetryDelayWithError(attempt int, err error) time.Duration
}

// ExponentialBackoff retries with exponentially growing delays.
type ExponentialBackoff struct {
	// InitialDelay defaults to 500ms.
	InitialDelay time.Duration

	// MaxDelay caps every delay, including server hints. Defaults to 30s.
	MaxDelay time.Duration

	// Multiplier defaults to 2.
	Multiplier float64

	// Jitter scales each delay by a random factor in [0.5, 1.5).
	Jitter bool

	// MaxRetries is the number of retries after the first attempt.
	// Negative disables retries. Zero means 3.
	MaxRetries int
}

// NewExponentialBackoff returns a backoff with default settings and maxRetries
// retries after the first attempt.
func NewExponentialBackoff(maxRetries int) *ExponentialBackoff {
	if maxRetries == 0 {
		maxRetries = -1
	}
	return &ExponentialBackoff{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		MaxRetries:   maxRetries,
	}
}

// ShouldRetry implements RetryStrategy.
func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) bool {
	maxRetries := e.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	if attempt >= maxRetries {
		return false
	}
	return Classify(err)
}

// RetryDelay implements RetryStrategy.
func (e *ExponentialBackoff) RetryDelay(attempt int) time.Duration {
	initial := e.InitialDelay
	if initial == 0 {
		initial = 500 * time.Millisecond
	}
	multiplier := e.Multiplier
	if multiplier == 0 {
		multiplier = 2.0
	}

	delay := math.Min(float64(initial)*math.Pow(multiplier, float64(attempt)), float64(e.maxDelay()))
	if e.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	return time.Duration(delay)
}

// RetryDelayWithError implements RetryStrategyWithError. A positive server
// hint replaces the computed delay, capped at MaxDelay.
func (e *ExponentialBackoff) RetryDelayWithError(attempt int, err error) time.Duration {
	var ra RetryAfterError
	if errors.As(err, &ra) {
		if hint := ra.SuggestedRetryAfter(); hint > 0 {
			return min(hint, e.maxDelay())
		}
	}
	return e.RetryDelay(attempt)
}

func (e *ExponentialBackoff) maxDelay() time.Duration {
	if e.MaxDelay == 0 {
		return 30 * time.Second
	}
	return e.MaxDelay
}

// NoRetry never retries.
type NoRetry struct{}

func (NoRetry) ShouldRetry(int, error) bool  { return false }
func (NoRetry) RetryDelay(int) time.Duration { return 0 }

// FixedDelay retries transient failures with a constant delay.
type FixedDelay struct {
	Delay      time.Duration
	MaxRetries int
}

// ShouldRetry implements RetryStrategy.
func (f *FixedDelay) ShouldRetry(attempt int, err error) bool {
	return attempt < f.MaxRetries && Classify(err)
}

// RetryDelay implements RetryStrategy.
func (f *FixedDelay) RetryDelay(int) time.Duration {
	return f.Delay
}

// Retry runs fn until it succeeds, the strategy gives up, or ctx is done.
// It returns the number of attempts made and the last error.
func Retry(ctx context.Context, strategy RetryStrategy, fn func(context.Context) error) (int, error) {
	if strategy == nil {
		strategy = NoRetry{}
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt + 1, nil
		}
		if !strategy.ShouldRetry(attempt, err) {
			return attempt + 1, err
		}

		delay := strategy.RetryDelay(attempt)
		if s, ok := strategy.(RetryStrategyWithError); ok {
			delay = s.RetryDelayWithError(attempt, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt + 1, err
		case <-timer.C:
		}
	}
}
