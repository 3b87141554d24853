// Package health provides health check endpoints for the tenantgate services.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pinger is any dependency that can report its availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck manages health check functionality over a set of named
// dependencies (the partition directory, the job queue).
type HealthCheck struct {
	deps          map[string]Pinger
	logger        *zap.Logger
	mu            sync.RWMutex
	ready         bool
	lastCheck     time.Time
	checkInterval time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
}

// NewHealthCheck creates a new HealthCheck instance and starts its
// background probe loop.
func NewHealthCheck(deps map[string]Pinger, logger *zap.Logger) *HealthCheck {
	hc := &HealthCheck{
		deps:          deps,
		logger:        logger,
		ready:         false,
		checkInterval: 5 * time.Second,
		stopChan:      make(chan struct{}),
	}

	go hc.backgroundCheck()

	return hc
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LivenessHandler handles GET /health requests.
// Returns 200 OK if the process is running.
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	resp := LivenessResponse{
		Status: "healthy",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// ReadinessHandler handles GET /ready requests.
// Returns 200 OK if every dependency answered the most recent probe.
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hc.mu.RLock()
	isReady := hc.ready
	hc.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")

	if isReady {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(ReadinessResponse{
			Status: "ready",
			Checks: hc.probe(r.Context()),
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := hc.probe(ctx)
	healthy := true
	for _, status := range checks {
		if status != "healthy" {
			healthy = false
			break
		}
	}

	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(ReadinessResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}

	hc.mu.Lock()
	hc.ready = true
	hc.lastCheck = time.Now()
	hc.mu.Unlock()

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(ReadinessResponse{
		Status: "ready",
		Checks: checks,
	})
}

// probe pings every dependency and returns per-dependency status.
func (hc *HealthCheck) probe(ctx context.Context) map[string]string {
	checks := make(map[string]string, len(hc.deps))
	for name, dep := range hc.deps {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = "unhealthy"
		} else {
			checks[name] = "healthy"
		}
	}
	return checks
}

// backgroundCheck performs periodic health checks.
func (hc *HealthCheck) backgroundCheck() {
	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hc.stopChan:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		checks := hc.probe(ctx)
		cancel()

		healthy := true
		for name, status := range checks {
			if status != "healthy" {
				healthy = false
				hc.logger.Warn("dependency check failed", zap.String("dependency", name))
			}
		}

		hc.mu.Lock()
		hc.ready = healthy
		hc.lastCheck = time.Now()
		hc.mu.Unlock()
	}
}

// Stop terminates the background probe loop.
func (hc *HealthCheck) Stop() {
	hc.stopOnce.Do(func() {
		close(hc.stopChan)
	})
}

// IsReady returns the current readiness status.
func (hc *HealthCheck) IsReady() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.ready
}

// SetReady sets the readiness status (for testing).
func (hc *HealthCheck) SetReady(ready bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.ready = ready
}
