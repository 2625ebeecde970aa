// Package api exposes the connection manager over HTTP, grounded in the
// teacher pack's interfaces/http/rest package (2lar-b2): a go-chi Router
// wired to a handler struct, chi's own middleware stack, and JSON
// respondJSON/respondError helpers rather than a bespoke response type.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arcrelay/mcp-gateway/internal/connmgr"
)

// Router builds the gateway's HTTP surface: the endpoint management API
// from SPEC_FULL.md §6 plus a Prometheus scrape endpoint.
type Router struct {
	manager *connmgr.Manager
	logger  *zap.Logger
}

// NewRouter wires a Router to the manager it exposes.
func NewRouter(manager *connmgr.Manager, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{manager: manager, logger: logger}
}

// Setup configures routes and middleware and returns the composed handler.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(loggingMiddleware(rt.logger))

	r.Get("/healthz", rt.healthCheck)
	r.Handle("/metrics", promhttp.Handler())

	h := &endpointHandler{manager: rt.manager, logger: rt.logger}
	r.Route("/endpoints", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.add)
		r.Route("/{endpoint}", func(r chi.Router) {
			r.Delete("/", h.remove)
			r.Post("/connect", h.connect)
			r.Post("/disconnect", h.disconnect)
			r.Post("/reconnect", h.reconnect)
		})
	})
	r.Post("/config/reload", h.reloadConfig)

	return r
}

func (rt *Router) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("http request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
			next.ServeHTTP(w, r)
		})
	}
}
