package webhook

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/go-crmwatch/core"
)

const (
	DefaultCallbackPath = "/bigin-webhook"
	DefaultHealthPath   = "/healthz"
)

type RouterConfig struct {
	CallbackPath string
	HealthPath   string
}

func RouterConfigFromCore(cfg core.Config) RouterConfig {
	return RouterConfig{CallbackPath: cfg.Watch.CallbackPath, HealthPath: cfg.Server.HealthPath}
}

// NewRouter mounts the callback and health endpoints behind request id,
// real ip, panic recovery and access logging middleware.
func NewRouter(cfg RouterConfig, handler http.Handler, logger core.Logger) *chi.Mux {
	observer := core.NewObserver(logger)
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(accessLog(observer))

	r.Get(routePath(cfg.HealthPath, DefaultHealthPath), func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Method(http.MethodPost, routePath(cfg.CallbackPath, DefaultCallbackPath), handler)
	return r
}

func accessLog(observer core.Observer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			startedAt := time.Now()
			next.ServeHTTP(ww, r)
			observer.Log(r.Context(), "debug", "http request", map[string]any{
				"request_id":  chimw.GetReqID(r.Context()),
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(startedAt).Milliseconds(),
				"remote_addr": r.RemoteAddr,
			})
		})
	}
}

func routePath(path string, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = fallback
	}
	return "/" + strings.TrimLeft(path, "/")
}
