package diag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedkit/internal/history"
	"schedkit/internal/scheduler"
	"schedkit/internal/threadpool"
	logx "schedkit/pkg/logx"
)

func newSources(t *testing.T) (Sources, *scheduler.Scheduler) {
	t.Helper()
	reg := prometheus.NewRegistry()
	pools := threadpool.NewManager(threadpool.Config{Workers: 2}, nil, logx.Nop(), nil, threadpool.NewMetrics("test", reg))
	s := scheduler.New(scheduler.Config{}, pools, logx.Nop(), scheduler.WithMetrics(scheduler.NewMetrics("test", reg)))
	store, err := history.Open(history.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "h.jsonl")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Deactivate(ctx)
		pools.Shutdown(ctx)
		_ = store.Close()
	})
	return Sources{Jobs: s, Pools: pools, History: store, Gatherer: reg}, s
}

func get(t *testing.T, h http.Handler, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthReflectsActivation(t *testing.T) {
	t.Parallel()

	src, s := newSources(t)
	h := NewHandler(src, "", false)

	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/healthz", "").Code)

	require.NoError(t, s.Activate(context.Background()))
	rec := get(t, h, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["active"])
	assert.Equal(t, false, body["saturated"])
}

func TestJobsAndRuns(t *testing.T) {
	t.Parallel()

	src, s := newSources(t)
	require.NoError(t, s.Activate(context.Background()))
	require.NoError(t, s.Schedule(func() {}, scheduler.Periodic(3600, false).WithName("sync")))
	require.NoError(t, src.History.Append(context.Background(), history.Run{Job: "sync", At: time.Now(), Outcome: history.OutcomeOK}))
	h := NewHandler(src, "", false)

	rec := get(t, h, "/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []scheduler.JobDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "sync", jobs[0].Data.Name)

	rec = get(t, h, "/jobs/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"ok"`)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/jobs/missing", "").Code)

	rec = get(t, h, "/runs?job=sync&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []history.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)

	assert.Equal(t, http.StatusOK, get(t, h, "/pools", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	src, s := newSources(t)
	require.NoError(t, s.Activate(context.Background()))
	require.NoError(t, s.Schedule(func() {}, scheduler.Periodic(3600, false).WithName("m")))

	rec := get(t, NewHandler(src, "", false), "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_scheduler_jobs")
}

func TestTokenRequired(t *testing.T) {
	t.Parallel()

	src, _ := newSources(t)
	h := NewHandler(src, "s3cret", true)

	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/jobs", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/jobs", "wrong").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/jobs", "s3cret").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/jobs?token=s3cret", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/debug/pprof/", "").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/debug/pprof/", "s3cret").Code)
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()

	src, _ := newSources(t)
	srv := NewServer(Config{}, src, logx.Nop())
	ctx := context.Background()

	srv.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	ready := srv.Ready()
	require.NotNil(t, ready)
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("diag server did not bind")
	}
	addr := srv.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/jobs")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	srv.Reconfigure(stopCtx, Config{Enabled: false})
	assert.Empty(t, srv.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	for addr, want := range map[string]bool{
		"127.0.0.1:9464": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":9464":          false,
		"0.0.0.0:9464":   false,
		"10.0.0.1:80":    false,
		"garbage":        false,
	} {
		assert.Equal(t, want, isLoopbackAddr(addr), strings.TrimSpace(addr))
	}
}
