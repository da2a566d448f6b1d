package app

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes is everything registerHTTP mounts. Nil members are skipped.
type routes struct {
	auth interface{ Register(*http.ServeMux) }
	post interface{ Register(*http.ServeMux) }
	ws   http.Handler

	metrics *prometheus.Registry
}

func (a *App) registerHTTP(mux *http.ServeMux, r routes) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, req *http.Request) {
		if a.cfg.ReadinessRequireDB && a.dbPool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if a.dbPool != nil {
			if err := PingDB(req.Context(), a.dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				a.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if r.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(r.metrics, promhttp.HandlerOpts{}))
	}
	if r.auth != nil {
		r.auth.Register(mux)
	}
	if r.post != nil {
		r.post.Register(mux)
	}
	if r.ws != nil {
		mux.Handle("GET /ws", r.ws)
	}
}
