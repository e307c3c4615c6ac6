// Package health implements the gateway's aggregate health and metrics
// endpoints: parallel checks fanned out across the pool and the capacity
// broadcaster, with both a fast liveness form and a detailed JSON form.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"sessionhost/logger"
	"sessionhost/services/browserpool"
	"sessionhost/services/capacity"
)

// ServiceHealth is one component's point-in-time status.
type ServiceHealth struct {
	Name      string                 `json:"name"`
	Status    string                 `json:"status"` // healthy, degraded, unhealthy
	Latency   time.Duration          `json:"latency_ms"`
	Details   map[string]interface{} `json:"details,omitempty"`
	LastCheck time.Time              `json:"last_check"`
}

// Handler answers /healthz and /metrics.
type Handler struct {
	pool        *browserpool.Pool
	broadcaster *capacity.Broadcaster
	prober      *browserpool.Prober // optional; nil disables the CDP probe check

	mu              sync.RWMutex
	serviceStatuses map[string]*ServiceHealth
}

// NewHandler builds a Handler bound to the pool and broadcaster it reports
// on. prober may be nil, in which case the detailed view skips the CDP
// liveness check.
func NewHandler(pool *browserpool.Pool, broadcaster *capacity.Broadcaster, prober *browserpool.Prober) *Handler {
	return &Handler{
		pool:            pool,
		broadcaster:     broadcaster,
		prober:          prober,
		serviceStatuses: make(map[string]*ServiceHealth),
	}
}

// ServeHTTP handles /healthz, supporting both simple and detailed forms.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	detailed := r.URL.Query().Get("detailed") == "true"
	if detailed {
		h.handleDetailedHealth(w, r)
	} else {
		h.handleSimpleHealth(w, r)
	}
}

// handleSimpleHealth is a quick check suitable for a load balancer.
func (h *Handler) handleSimpleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.checkAllServices(ctx) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("UNHEALTHY"))
	}
}

// handleDetailedHealth reports per-component status as JSON.
func (h *Handler) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	statuses := h.checkAllServicesDetailed(ctx)
	overall := h.getOverallStatus(statuses)

	response := map[string]interface{}{
		"status":    overall,
		"timestamp": time.Now().Unix(),
		"services":  statuses,
	}

	switch overall {
	case "unhealthy":
		w.WriteHeader(http.StatusServiceUnavailable)
	case "degraded":
		w.WriteHeader(http.StatusPartialContent)
	default:
		w.WriteHeader(http.StatusOK)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (h *Handler) checkAllServices(ctx context.Context) bool {
	checks := []func(context.Context) bool{h.checkPool, h.checkBroadcaster}

	var wg sync.WaitGroup
	results := make(chan bool, len(checks))
	for _, check := range checks {
		wg.Add(1)
		go func(fn func(context.Context) bool) {
			defer wg.Done()
			results <- fn(ctx)
		}(check)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for result := range results {
		if !result {
			return false
		}
	}
	return true
}

func (h *Handler) checkAllServicesDetailed(ctx context.Context) []ServiceHealth {
	var wg sync.WaitGroup
	statuses := make([]ServiceHealth, 0, 3)
	statusChan := make(chan ServiceHealth, 3)

	services := []struct {
		name  string
		check func(context.Context) ServiceHealth
	}{
		{"browser_pool", h.checkPoolDetailed},
		{"capacity_broadcaster", h.checkBroadcasterDetailed},
		{"cdp_probe", h.checkProbeDetailed},
	}

	for _, svc := range services {
		wg.Add(1)
		go func(name string, checkFn func(context.Context) ServiceHealth) {
			defer wg.Done()
			start := time.Now()
			status := checkFn(ctx)
			status.Name = name
			status.Latency = time.Since(start)
			status.LastCheck = time.Now()
			statusChan <- status
		}(svc.name, svc.check)
	}
	go func() {
		wg.Wait()
		close(statusChan)
	}()

	for status := range statusChan {
		statuses = append(statuses, status)
		h.mu.Lock()
		h.serviceStatuses[status.Name] = &status
		h.mu.Unlock()
	}
	return statuses
}

func (h *Handler) checkPool(ctx context.Context) bool {
	return h.pool != nil
}

func (h *Handler) checkPoolDetailed(ctx context.Context) ServiceHealth {
	status := ServiceHealth{Status: "unhealthy"}
	if h.pool == nil {
		return status
	}

	stats := h.pool.Stats()
	status.Details = map[string]interface{}{
		"capacity":  stats.Capacity,
		"available": stats.Available,
		"in_use":    stats.InUse,
	}

	switch {
	case stats.Available > 0:
		status.Status = "healthy"
	case stats.InUse > 0:
		status.Status = "degraded"
	}
	return status
}

func (h *Handler) checkBroadcaster(ctx context.Context) bool {
	return h.broadcaster != nil
}

func (h *Handler) checkBroadcasterDetailed(ctx context.Context) ServiceHealth {
	status := ServiceHealth{Status: "unhealthy"}
	if h.broadcaster != nil {
		status.Status = "healthy"
	}
	return status
}

// checkProbeDetailed attaches over CDP to one live instance, if any, as a
// real protocol-level sanity check beyond PID liveness. Skipped entirely
// (reported healthy/no-op) when no prober is configured or no instance is
// currently live — this is a bonus check, not a required one.
func (h *Handler) checkProbeDetailed(ctx context.Context) ServiceHealth {
	status := ServiceHealth{Status: "healthy", Details: map[string]interface{}{"sampled": false}}
	if h.prober == nil || h.pool == nil {
		return status
	}

	debuggerURL := h.pool.SampleDebuggerURL()
	if debuggerURL == "" {
		return status
	}

	status.Details["sampled"] = true
	connected, err := h.prober.Probe(ctx, debuggerURL)
	if err != nil || !connected {
		status.Status = "degraded"
		status.Details["error"] = fmt.Sprint(err)
		return status
	}
	return status
}

func (h *Handler) getOverallStatus(statuses []ServiceHealth) string {
	unhealthy, degraded := 0, 0
	for _, status := range statuses {
		switch status.Status {
		case "unhealthy":
			unhealthy++
		case "degraded":
			degraded++
		}
	}
	if unhealthy > 0 {
		return "unhealthy"
	} else if degraded > 0 {
		return "degraded"
	}
	return "healthy"
}

// StartBackgroundChecks runs a detailed check on a fixed interval, logging
// any component that isn't healthy. reload, if non-nil, lets a live runtime
// configuration change the interval without a restart: every duration it
// emits replaces the ticker's period going forward.
func (h *Handler) StartBackgroundChecks(interval time.Duration, reload <-chan time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				h.checkAllServicesDetailed(ctx)
				cancel()

				h.mu.RLock()
				for name, status := range h.serviceStatuses {
					if status.Status != "healthy" {
						logger.Warn("service unhealthy", zap.String("service", name), zap.String("status", status.Status))
					}
				}
				h.mu.RUnlock()

			case next, ok := <-reload:
				if !ok {
					reload = nil
					continue
				}
				logger.Info("health check interval reloaded", zap.Duration("interval", next))
				ticker.Reset(next)
			}
		}
	}()
}

// ServeMetrics exports Prometheus-text gauges for each tracked component,
// plus the pool's occupancy counters.
func (h *Handler) ServeMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write(h.metrics())
}

func (h *Handler) metrics() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()

	metrics := "# HELP service_health Service health status (1=healthy, 0.5=degraded, 0=unhealthy)\n"
	metrics += "# TYPE service_health gauge\n"
	for name, status := range h.serviceStatuses {
		value := 0.0
		switch status.Status {
		case "healthy":
			value = 1.0
		case "degraded":
			value = 0.5
		}
		metrics += fmt.Sprintf("service_health{service=\"%s\"} %f\n", name, value)
		metrics += fmt.Sprintf("service_health_latency_ms{service=\"%s\"} %d\n", name, status.Latency.Milliseconds())
	}

	if h.pool != nil {
		stats := h.pool.Stats()
		metrics += "# HELP browser_pool_capacity Configured browser pool capacity\n"
		metrics += "# TYPE browser_pool_capacity gauge\n"
		metrics += fmt.Sprintf("browser_pool_capacity %d\n", stats.Capacity)
		metrics += "# HELP browser_pool_available Free browser slots\n"
		metrics += "# TYPE browser_pool_available gauge\n"
		metrics += fmt.Sprintf("browser_pool_available %d\n", stats.Available)
		metrics += "# HELP browser_pool_in_use Browser slots currently allocated\n"
		metrics += "# TYPE browser_pool_in_use gauge\n"
		metrics += fmt.Sprintf("browser_pool_in_use %d\n", stats.InUse)

		usage := h.pool.ResourceUsage()
		metrics += "# HELP browser_instance_memory_mb Resident memory of one browser instance, as last sampled by its watchdog\n"
		metrics += "# TYPE browser_instance_memory_mb gauge\n"
		for _, u := range usage {
			metrics += fmt.Sprintf("browser_instance_memory_mb{id=\"%s\"} %f\n", u.ID, u.MemoryMB)
		}
		metrics += "# HELP browser_instance_cpu_percent CPU usage of one browser instance, as last sampled by its watchdog\n"
		metrics += "# TYPE browser_instance_cpu_percent gauge\n"
		for _, u := range usage {
			metrics += fmt.Sprintf("browser_instance_cpu_percent{id=\"%s\"} %f\n", u.ID, u.CPUPercent)
		}
	}

	return []byte(metrics)
}
