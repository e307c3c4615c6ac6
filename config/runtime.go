package config

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sessionhost/logger"
)

// RuntimeConfig holds the subset of configuration that is safe to change
// without a restart: knobs consulted on a poll/ticker rather than once at
// startup. Everything that shapes the capacity bound itself (Capacity,
// Launcher, Listen) is process-lifetime and lives in Config instead.
type RuntimeConfig struct {
	Pool struct {
		HealthCheckInterval time.Duration `json:"health_check_interval"`
		AcquisitionTimeout  time.Duration `json:"acquisition_timeout"`
	} `json:"pool"`

	CircuitBreaker struct {
		FailureThreshold uint32        `json:"failure_threshold"`
		Timeout          time.Duration `json:"timeout"`
		MaxRequests      uint32        `json:"max_requests"`
	} `json:"circuit_breaker"`

	Monitoring struct {
		HealthCheckInterval time.Duration `json:"health_check_interval"`
		MetricsInterval     time.Duration `json:"metrics_interval"`
	} `json:"monitoring"`
}

// RuntimeManager guards a RuntimeConfig behind a lock and fans updates out
// to subscribers. Seeded from the static Config at startup so the two never
// start out of sync.
type RuntimeManager struct {
	mu       sync.RWMutex
	config   *RuntimeConfig
	watchers []chan *RuntimeConfig
}

// NewRuntimeManager seeds a RuntimeManager from the static configuration.
func NewRuntimeManager(c *Config) *RuntimeManager {
	rc := &RuntimeConfig{}
	rc.Pool.HealthCheckInterval = c.Metrics.HealthCheckInterval
	rc.Pool.AcquisitionTimeout = c.LaunchTimeout
	rc.CircuitBreaker.FailureThreshold = c.CircuitBreaker.FailureThreshold
	rc.CircuitBreaker.Timeout = c.CircuitBreaker.Timeout
	rc.CircuitBreaker.MaxRequests = c.CircuitBreaker.MaxRequests
	rc.Monitoring.HealthCheckInterval = c.Metrics.HealthCheckInterval
	rc.Monitoring.MetricsInterval = c.Metrics.HealthCheckInterval

	return &RuntimeManager{config: rc}
}

// Get returns a copy of the current runtime configuration.
func (rm *RuntimeManager) Get() *RuntimeConfig {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	cp := *rm.config
	return &cp
}

// Update validates and swaps in a new runtime configuration, then notifies
// watchers without blocking on a slow subscriber.
func (rm *RuntimeManager) Update(next *RuntimeConfig) error {
	if err := validateRuntime(next); err != nil {
		return fmt.Errorf("runtime configuration validation failed: %w", err)
	}

	rm.mu.Lock()
	rm.config = next
	watchers := rm.watchers
	rm.mu.Unlock()

	cp := *next
	for _, w := range watchers {
		select {
		case w <- &cp:
		default:
		}
	}

	logger.Info("runtime configuration updated", zap.Any("config", next))
	return nil
}

// Watch returns a channel that first receives the current configuration and
// then future Updates. The channel holds one value; an Update that finds it
// still full is not delivered to that watcher.
func (rm *RuntimeManager) Watch() <-chan *RuntimeConfig {
	w := make(chan *RuntimeConfig, 1)

	rm.mu.Lock()
	rm.watchers = append(rm.watchers, w)
	rm.mu.Unlock()

	w <- rm.Get()
	return w
}

func validateRuntime(c *RuntimeConfig) error {
	if c.Pool.HealthCheckInterval < time.Second {
		return fmt.Errorf("pool.health_check_interval too short")
	}
	if c.CircuitBreaker.FailureThreshold == 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be positive")
	}
	if c.Monitoring.MetricsInterval < time.Second {
		return fmt.Errorf("monitoring.metrics_interval too short")
	}
	return nil
}
