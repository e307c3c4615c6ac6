package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionhost/logger"
)

func init() {
	logger.InitLogger("error")
}

func baseConfig() *Config {
	return &Config{
		Listen:        ":6700",
		Capacity:      3,
		LaunchTimeout: 20 * time.Second,
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 5,
			Timeout:          30 * time.Second,
			MaxRequests:      1,
		},
		Metrics: Metrics{Enabled: true, HealthCheckInterval: 15 * time.Second},
	}
}

func TestRuntimeManager_SeededFromConfig(t *testing.T) {
	rm := NewRuntimeManager(baseConfig())
	rc := rm.Get()

	assert.Equal(t, 15*time.Second, rc.Pool.HealthCheckInterval)
	assert.Equal(t, 20*time.Second, rc.Pool.AcquisitionTimeout)
	assert.Equal(t, uint32(5), rc.CircuitBreaker.FailureThreshold)
}

func TestRuntimeManager_UpdateRejectsInvalid(t *testing.T) {
	rm := NewRuntimeManager(baseConfig())
	bad := rm.Get()
	bad.Pool.HealthCheckInterval = time.Millisecond

	err := rm.Update(bad)
	require.Error(t, err)

	// The rejected update must not have replaced the stored config.
	assert.Equal(t, 15*time.Second, rm.Get().Pool.HealthCheckInterval)
}

func TestRuntimeManager_UpdateNotifiesWatchers(t *testing.T) {
	rm := NewRuntimeManager(baseConfig())
	w := rm.Watch()

	initial := <-w
	assert.Equal(t, 15*time.Second, initial.Pool.HealthCheckInterval)

	next := rm.Get()
	next.Monitoring.MetricsInterval = 30 * time.Second
	require.NoError(t, rm.Update(next))

	select {
	case got := <-w:
		assert.Equal(t, 30*time.Second, got.Monitoring.MetricsInterval)
	case <-time.After(time.Second):
		t.Fatal("watcher was not notified of update")
	}
}
