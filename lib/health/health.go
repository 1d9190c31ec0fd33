// Package health serves liveness, readiness, stats and a plain-text metrics
// view for the relay.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check reports the status of one dependency.
type Check func(ctx context.Context) (Status, string)

// StatsProvider returns numeric counters keyed by name.
type StatsProvider func() map[string]any

// Checker aggregates checks and stats providers.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]Check
	stats  map[string]StatsProvider

	startTime time.Time
}

func NewChecker() *Checker {
	return &Checker{
		checks:    make(map[string]Check),
		stats:     make(map[string]StatsProvider),
		startTime: time.Now(),
	}
}

func (c *Checker) RegisterCheck(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

func (c *Checker) RegisterStats(name string, provider StatsProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats[name] = provider
}

// Routes mounts the endpoints on r.
func (c *Checker) Routes(r chi.Router) {
	r.Get("/health", c.handleHealth)
	r.Get("/health/live", c.handleLiveness)
	r.Get("/health/ready", c.handleReadiness)
	r.Get("/stats", c.handleStats)
	r.Get("/metrics", c.handleMetrics)
}

// Evaluate runs every check and returns the overall status with per-check
// results.
func (c *Checker) Evaluate(ctx context.Context) (Status, map[string]map[string]any) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	overall := StatusHealthy
	results := make(map[string]map[string]any, len(c.checks))
	for name, check := range c.checks {
		status, msg := check(ctx)
		results[name] = map[string]any{"status": status, "message": msg}
		switch {
		case status == StatusUnhealthy:
			overall = StatusUnhealthy
		case status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}
	return overall, results
}

func (c *Checker) handleHealth(w http.ResponseWriter, r *http.Request) {
	overall, results := c.Evaluate(r.Context())
	code := http.StatusOK
	if overall == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    overall,
		"checks":    results,
		"uptime":    time.Since(c.startTime).String(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (c *Checker) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (c *Checker) handleReadiness(w http.ResponseWriter, r *http.Request) {
	overall, results := c.Evaluate(r.Context())
	if overall == StatusUnhealthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"checks": results,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (c *Checker) snapshotStats() map[string]map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]map[string]any, len(c.stats))
	for name, provider := range c.stats {
		out[name] = provider()
	}
	return out
}

func (c *Checker) handleStats(w http.ResponseWriter, r *http.Request) {
	all := map[string]any{
		"uptime":    time.Since(c.startTime).String(),
		"timestamp": time.Now().Format(time.RFC3339),
	}
	for name, stats := range c.snapshotStats() {
		all[name] = stats
	}
	writeJSON(w, http.StatusOK, all)
}

// handleMetrics renders numeric stats in the Prometheus text format.
func (c *Checker) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# TYPE relay_uptime_seconds gauge\n")
	fmt.Fprintf(w, "relay_uptime_seconds %f\n", time.Since(c.startTime).Seconds())

	all := c.snapshotStats()
	groups := make([]string, 0, len(all))
	for name := range all {
		groups = append(groups, name)
	}
	sort.Strings(groups)
	for _, group := range groups {
		keys := make([]string, 0, len(all[group]))
		for k := range all[group] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			name := fmt.Sprintf("relay_%s_%s", group, key)
			switch v := all[group][key].(type) {
			case uint64:
				fmt.Fprintf(w, "%s %d\n", name, v)
			case int64:
				fmt.Fprintf(w, "%s %d\n", name, v)
			case int:
				fmt.Fprintf(w, "%s %d\n", name, v)
			case float64:
				fmt.Fprintf(w, "%s %f\n", name, v)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
