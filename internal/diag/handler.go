// Package diag serves operational endpoints: health, live jobs, pools,
// recent runs, Prometheus metrics and optionally pprof.
package diag

import (
	"encoding/json"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schedkit/internal/history"
	"schedkit/internal/scheduler"
	"schedkit/internal/threadpool"
)

// JobSource is the part of the scheduler diagnostics reads.
type JobSource interface {
	Health() scheduler.Health
	Jobs() []scheduler.JobDetail
	JobDetail(name string) (scheduler.JobDetail, bool)
}

// PoolSource lists worker pools.
type PoolSource interface {
	Snapshot() []threadpool.Snapshot
}

// Sources feeds the handler. History and Gatherer are optional.
type Sources struct {
	Jobs     JobSource
	Pools    PoolSource
	History  history.Store
	Gatherer prometheus.Gatherer
}

const pprofPrefix = "/debug/pprof/"

// NewHandler builds the diagnostics mux. token, when set, is required on
// every endpoint.
func NewHandler(src Sources, token string, withPprof bool) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(token, h) }

	mux.HandleFunc("GET /healthz", wrap(func(w http.ResponseWriter, r *http.Request) {
		h := src.Jobs.Health()
		status := http.StatusOK
		if !h.Active {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, struct {
			scheduler.Health
			Saturated bool `json:"saturated"`
		}{h, h.Saturated()})
	}))

	mux.HandleFunc("GET /jobs", wrap(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, src.Jobs.Jobs())
	}))

	mux.HandleFunc("GET /jobs/{name}", wrap(func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		d, ok := src.Jobs.JobDetail(name)
		if !ok {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		out := struct {
			scheduler.JobDetail
			Runs []history.Run `json:"runs,omitempty"`
		}{JobDetail: d}
		if src.History != nil {
			runs, err := src.History.Recent(r.Context(), name, limitParam(r, 20))
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			out.Runs = runs
		}
		writeJSON(w, http.StatusOK, out)
	}))

	mux.HandleFunc("GET /runs", wrap(func(w http.ResponseWriter, r *http.Request) {
		if src.History == nil {
			http.Error(w, "history disabled", http.StatusNotFound)
			return
		}
		runs, err := src.History.Recent(r.Context(), r.URL.Query().Get("job"), limitParam(r, 50))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, runs)
	}))

	if src.Pools != nil {
		mux.HandleFunc("GET /pools", wrap(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, src.Pools.Snapshot())
		}))
	}

	gatherer := src.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", wrap(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).ServeHTTP))

	if withPprof {
		mux.HandleFunc(pprofPrefix, wrap(hpprof.Index))
		mux.HandleFunc(pprofPrefix+"cmdline", wrap(hpprof.Cmdline))
		mux.HandleFunc(pprofPrefix+"profile", wrap(hpprof.Profile))
		mux.HandleFunc(pprofPrefix+"symbol", wrap(hpprof.Symbol))
		mux.HandleFunc(pprofPrefix+"trace", wrap(hpprof.Trace))
	}
	return mux
}

func limitParam(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, 1000)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept either:
		//   Authorization: Bearer <token>
		// or query param: ?token=<token>
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
