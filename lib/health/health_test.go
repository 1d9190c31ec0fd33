package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(c *Checker) http.Handler {
	r := chi.NewRouter()
	c.Routes(r)
	return r
}

func TestReadinessFollowsChecks(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	status := StatusHealthy
	c.RegisterCheck("journal", func(context.Context) (Status, string) { return status, "" })
	h := newRouter(c)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	status = StatusDegraded
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(StatusDegraded), body["status"])

	status = StatusUnhealthy
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatsAndMetrics(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	c.RegisterStats("registry", func() map[string]any {
		return map[string]any{"live": 2, "total": uint64(5), "label": "skip"}
	})
	h := newRouter(c)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "registry")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	out := rec.Body.String()
	assert.Contains(t, out, "relay_registry_live 2\n")
	assert.Contains(t, out, "relay_registry_total 5\n")
	assert.False(t, strings.Contains(out, "label"))
}
