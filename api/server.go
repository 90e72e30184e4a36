/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from X-Forwarded-For / X-Real-IP
  3. Logger:     zap request log (method, route, status, duration)
  4. Metrics:    Prometheus request counter and latency histogram
  5. Recoverer:  Panic recovery (500 instead of crash)
  6. CORS:       Cross-origin requests for a POS frontend

ROUTE GROUPS:
  /api/tenants/{tenantID}/*  Ledger operations scoped to one tenant
  /api/scenarios/*           Demo scenarios
  /healthz                   Store liveness
  /metrics                   Prometheus scrape endpoint

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/retail-ledger/metrics"
)

// RouterConfig carries the optional pieces of the router.
type RouterConfig struct {
	CORSOrigins []string

	// Metrics records per-route request counts and latency. Optional.
	Metrics *metrics.HTTP

	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log, cfg.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyKeyHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			// Sale routes
			r.Route("/sales", func(r chi.Router) {
				r.Get("/", h.ListSales)
				r.Post("/", h.CreateSale)
				r.Post("/validate", h.ValidateSale)
				r.Get("/{id}", h.GetSale)
				r.Post("/{id}/void", h.VoidSale)
			})

			// Purchase routes
			r.Route("/purchases", func(r chi.Router) {
				r.Post("/", h.CreatePurchase)
				r.Post("/validate", h.ValidatePurchase)
				r.Get("/{id}", h.GetPurchase)
				r.Post("/{id}/void", h.VoidPurchase)
			})

			// Product routes
			r.Route("/products", func(r chi.Router) {
				r.Get("/low-stock", h.ListLowStock)
				r.Get("/{id}", h.GetProduct)
			})

			// Settings routes
			r.Route("/settings", func(r chi.Router) {
				r.Get("/", h.GetSettings)
				r.Put("/next-invoice-number", h.SetNextInvoiceNumber)
			})
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// requestLogger logs each request with zap and feeds the HTTP metrics.
// The route label is chi's pattern, so IDs do not explode cardinality.
func requestLogger(log *zap.Logger, m *metrics.HTTP) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)

			m.Observe(r.Method, route, status, elapsed)
			log.Info("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", elapsed),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
