// Package api exposes the order hub over HTTP: platform webhooks, operator
// updates, read views, and the dashboard WebSocket.
package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"orderhub/internal/config"
	"orderhub/internal/integrations"
	"orderhub/internal/metrics"
	"orderhub/internal/orderhub"
	"orderhub/internal/store"
)

type Server struct {
	Hub        *orderhub.Hub
	Platforms  *integrations.Registry
	Aggregator *integrations.Aggregator
	// Ready is pinged by /readyz when the state store supports it.
	Ready  store.Pinger
	Config *config.Config
	Log    logrus.FieldLogger
}

// NewServer wires the handlers. st is only used for readiness checks.
func NewServer(cfg *config.Config, hub *orderhub.Hub, platforms *integrations.Registry, st store.StateStore, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Server{
		Hub:        hub,
		Platforms:  platforms,
		Aggregator: integrations.NewAggregator(platforms, log),
		Config:     cfg,
		Log:        log,
	}
	if p, ok := st.(store.Pinger); ok {
		s.Ready = p
	}
	metrics.RegisterDefault()
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	r.Use(s.cors)

	r.Get("/healthz", s.HealthHandler)
	r.Get("/readyz", s.ReadyHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	r.Get("/debug/vars", s.DebugJSON)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/webhooks/{platform}", s.WebhookHandler)
		r.Route("/restaurants/{restaurantID}", func(r chi.Router) {
			r.Get("/orders", s.RestaurantOrdersHandler)
			r.Get("/orders/{orderID}", s.RestaurantOrderHandler)
			r.Post("/orders/{orderID}/status", s.OrderStatusHandler)
			r.Get("/stats", s.RestaurantStatsHandler)
		})
		r.Get("/orders", s.AggregatedOrdersHandler)
		r.Get("/platforms", s.PlatformsHandler)
		r.Get("/platforms/health", s.PlatformHealthHandler)
		r.Get("/ws", s.WebSocketHandler)
	})
	return r
}

// instrument logs each request and records it under its route pattern, so
// path parameters do not explode metric cardinality.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		code := strconv.Itoa(status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(dur.Seconds())
		s.Log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     status,
			"duration":   dur,
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	allowed := map[string]bool{}
	for _, o := range s.Config.Server.AllowOrigins {
		allowed[strings.TrimSpace(o)] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed["*"] || allowed[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Signature")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
