// Package recovery implements configurable retry with backoff, used
// wherever a step talks to something outside the process (a Docker daemon,
// a just-started browser) and transient failure is expected.
package recovery

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"sessionhost/logger"
)

// RetryStrategy selects how the delay grows between attempts.
type RetryStrategy string

const (
	FixedDelay         RetryStrategy = "fixed"
	ExponentialBackoff RetryStrategy = "exponential"
	LinearBackoff      RetryStrategy = "linear"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts"`
	InitialDelay    time.Duration `json:"initial_delay"`
	MaxDelay        time.Duration `json:"max_delay"`
	Strategy        RetryStrategy `json:"strategy"`
	Jitter          bool          `json:"jitter"`
	JitterFactor    float64       `json:"jitter_factor"`
	RetryableErrors []string      `json:"retryable_errors"`
	StopOnErrors    []string      `json:"stop_on_errors"`
}

// DefaultRetryConfig returns sensible defaults for a poll-until-ready loop.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     30,
		InitialDelay:    250 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		Strategy:        ExponentialBackoff,
		Jitter:          true,
		JitterFactor:    0.1,
		RetryableErrors: []string{"timeout", "connection", "temporary"},
		StopOnErrors:    []string{"unauthorized", "forbidden", "not_found"},
	}
}

// RetryableFuncWithResult is a function that returns a result and can be retried.
type RetryableFuncWithResult func() (interface{}, error)

// Retrier runs a function repeatedly with backoff until it succeeds, a
// non-retryable error is seen, attempts are exhausted, or ctx is canceled.
type Retrier struct {
	config  *RetryConfig
	metrics *RetryMetrics
}

// RetryMetrics tracks retry statistics across the Retrier's lifetime.
type RetryMetrics struct {
	TotalAttempts   int64
	TotalSuccesses  int64
	TotalFailures   int64
	TotalRetries    int64
	AverageAttempts float64
	mutex           sync.RWMutex
}

// NewRetrier creates a Retrier with config, or DefaultRetryConfig if nil.
func NewRetrier(config *RetryConfig) *Retrier {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &Retrier{config: config, metrics: &RetryMetrics{}}
}

// DoWithResult executes fn with retry logic and returns its result.
func (r *Retrier) DoWithResult(ctx context.Context, fn RetryableFuncWithResult) (interface{}, error) {
	startTime := time.Now()
	var lastErr error
	attempts := 0

	for attempts < r.config.MaxAttempts {
		attempts++
		r.updateMetrics(func(m *RetryMetrics) { m.TotalAttempts++ })

		result, err := fn()
		if err == nil {
			r.updateMetrics(func(m *RetryMetrics) {
				m.TotalSuccesses++
				m.updateAverageAttempts(attempts)
			})
			return result, nil
		}

		lastErr = err
		if !r.isRetryableError(err) {
			logger.Debug("non-retryable error encountered", zap.Error(err), zap.Int("attempt", attempts))
			break
		}
		if attempts >= r.config.MaxAttempts {
			break
		}

		delay := r.calculateDelay(attempts)
		r.updateMetrics(func(m *RetryMetrics) { m.TotalRetries++ })

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	r.updateMetrics(func(m *RetryMetrics) {
		m.TotalFailures++
		m.updateAverageAttempts(attempts)
	})
	logger.Debug("operation failed after all retries", zap.Error(lastErr), zap.Int("attempts", attempts), zap.Duration("total_duration", time.Since(startTime)))
	return nil, fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}

func (r *Retrier) calculateDelay(attempt int) time.Duration {
	var delay time.Duration
	switch r.config.Strategy {
	case FixedDelay:
		delay = r.config.InitialDelay
	case LinearBackoff:
		delay = time.Duration(int64(r.config.InitialDelay) * int64(attempt))
	default: // ExponentialBackoff
		delay = time.Duration(float64(r.config.InitialDelay) * math.Pow(2, float64(attempt-1)))
	}

	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}

	if r.config.Jitter {
		jitter := float64(delay) * r.config.JitterFactor * (rand.Float64()*2 - 1)
		delay += time.Duration(jitter)
		if delay < 0 {
			delay = r.config.InitialDelay
		}
	}
	return delay
}

func (r *Retrier) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()

	for _, stopError := range r.config.StopOnErrors {
		if strings.Contains(errStr, stopError) {
			return false
		}
	}
	for _, retryableError := range r.config.RetryableErrors {
		if strings.Contains(errStr, retryableError) {
			return true
		}
	}
	return strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary") ||
		strings.Contains(errStr, "unavailable") ||
		strings.Contains(errStr, "reset") ||
		strings.Contains(errStr, "refused")
}

// GetMetrics returns a snapshot of the current retry metrics.
func (r *Retrier) GetMetrics() RetryMetrics {
	r.metrics.mutex.RLock()
	defer r.metrics.mutex.RUnlock()
	return RetryMetrics{
		TotalAttempts:   r.metrics.TotalAttempts,
		TotalSuccesses:  r.metrics.TotalSuccesses,
		TotalFailures:   r.metrics.TotalFailures,
		TotalRetries:    r.metrics.TotalRetries,
		AverageAttempts: r.metrics.AverageAttempts,
	}
}

func (r *Retrier) updateMetrics(updateFn func(*RetryMetrics)) {
	r.metrics.mutex.Lock()
	defer r.metrics.mutex.Unlock()
	updateFn(r.metrics)
}

func (m *RetryMetrics) updateAverageAttempts(attempts int) {
	totalOps := m.TotalSuccesses + m.TotalFailures
	if totalOps > 0 {
		m.AverageAttempts = (m.AverageAttempts*float64(totalOps-1) + float64(attempts)) / float64(totalOps)
	}
}
