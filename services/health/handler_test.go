package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionhost/logger"
	"sessionhost/services/browserpool"
	"sessionhost/services/capacity"
)

func init() {
	logger.InitLogger("error")
}

type fakeLauncher struct{ fail bool }

func (f fakeLauncher) Launch(ctx context.Context) (*browserpool.Instance, error) {
	if f.fail {
		return nil, assertError("launch failed")
	}
	return &browserpool.Instance{ID: "fake", DebuggerURL: "ws://127.0.0.1:0/devtools/fake"}, nil
}

type assertError string

func (e assertError) Error() string { return string(e) }

func testBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "test"})
}

func TestHandler_SimpleHealthOKWhenPoolHasCapacity(t *testing.T) {
	pool := browserpool.New(1, fakeLauncher{}, nil, testBreaker())
	h := NewHandler(pool, capacity.New(), nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHandler_DetailedHealthReportsComponents(t *testing.T) {
	pool := browserpool.New(1, fakeLauncher{}, nil, testBreaker())
	h := NewHandler(pool, capacity.New(), nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz?detailed=true", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])

	services, ok := body["services"].([]interface{})
	require.True(t, ok)
	names := make([]string, 0, len(services))
	for _, s := range services {
		svc := s.(map[string]interface{})
		names = append(names, svc["name"].(string))
	}
	assert.Contains(t, names, "browser_pool")
	assert.Contains(t, names, "capacity_broadcaster")
	assert.Contains(t, names, "cdp_probe")
}

func TestHandler_ProbeSkippedWithoutProber(t *testing.T) {
	pool := browserpool.New(1, fakeLauncher{}, nil, testBreaker())
	h := NewHandler(pool, capacity.New(), nil)

	status := h.checkProbeDetailed(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, false, status.Details["sampled"])
}

func TestHandler_NilPoolIsUnhealthy(t *testing.T) {
	h := NewHandler(nil, capacity.New(), nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandler_MetricsOutputsPoolGauges(t *testing.T) {
	pool := browserpool.New(2, fakeLauncher{}, nil, testBreaker())
	h := NewHandler(pool, capacity.New(), nil)
	h.checkAllServicesDetailed(context.Background())

	rec := httptest.NewRecorder()
	h.ServeMetrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "browser_pool_capacity 2")
	assert.Contains(t, body, "service_health{service=\"browser_pool\"}")
	assert.Contains(t, body, "# TYPE browser_instance_memory_mb gauge")
	assert.Contains(t, body, "# TYPE browser_instance_cpu_percent gauge")
}
