package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursehub/learning-analytics/internal/infrastructure/scheduler"
	ops "github.com/coursehub/learning-analytics/internal/interface/http"
	"github.com/coursehub/learning-analytics/pkg/logger"
)

type staticJobs map[string]*scheduler.JobResult

func (j staticJobs) LastResult(name string) *scheduler.JobResult { return j[name] }

func get(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthChecker_AggregatesChecks(t *testing.T) {
	hc := ops.NewHealthChecker("1.0.0")
	hc.AddCheck("database", func(context.Context) error { return nil })

	status := hc.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "1.0.0", status.Version)
	assert.True(t, status.Checks["database"].Healthy)

	hc.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	hc.AddCheck("cache", func(context.Context) error { return errors.New("open") })
	status = hc.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, "failing: cache, redis", status.Message)
	assert.Equal(t, "connection refused", status.Checks["redis"].Message)
}

func TestHealthChecker_CheckTimeout(t *testing.T) {
	hc := ops.NewHealthChecker("")
	hc.SetTimeout(10 * time.Millisecond)
	hc.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := hc.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Contains(t, status.Checks["slow"].Message, "deadline exceeded")
}

func TestServer_Endpoints(t *testing.T) {
	hc := ops.NewHealthChecker("")
	healthy := true
	hc.AddCheck("database", func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("ping failed")
	})

	started := time.Date(2024, 3, 15, 0, 15, 0, 0, time.UTC)
	jobs := staticJobs{"rollup_sweep": {
		JobName:     "rollup_sweep",
		StartedAt:   started,
		CompletedAt: started.Add(1500 * time.Millisecond),
		Duration:    1500 * time.Millisecond,
		Error:       errors.New("1 of 4 course-day refreshes failed"),
	}}
	h := ops.NewServer(ops.DefaultConfig(), hc, jobs, nil).Handler()

	code, body := get(t, h, "/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", body["status"])

	code, body = get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["healthy"])

	healthy = false
	code, body = get(t, h, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "failing: database", body["message"])

	code, body = get(t, h, "/jobs/rollup_sweep")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "1.5s", body["duration"])
	assert.Equal(t, "1 of 4 course-day refreshes failed", body["error"])

	code, _ = get(t, h, "/jobs/unknown")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_RequestScopedLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Options{Output: &buf, Format: "json"})
	hc := ops.NewHealthChecker("")
	hc.AddCheck("database", func(context.Context) error { return errors.New("ping failed") })
	h := ops.NewServer(ops.DefaultConfig(), hc, nil, log).Handler()

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	req.Header.Set(ops.RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get(ops.RequestIDHeader))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "readiness check failed", entry["msg"])
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "/ready", entry["path"])
	assert.Equal(t, "ops_http", entry["component"])
	assert.Equal(t, "failing: database", entry["message"])

	// Requests without an id get a generated one.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	_, err := uuid.Parse(rec.Header().Get(ops.RequestIDHeader))
	assert.NoError(t, err)
}

func TestServer_StartAndShutdown(t *testing.T) {
	srv := ops.NewServer(ops.Config{Addr: "127.0.0.1:0"}, nil, nil, nil)
	assert.Empty(t, srv.Addr())
	require.NoError(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr() + "/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}
