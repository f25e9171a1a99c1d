package httphandler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewRouter mounts the control surface, the metrics endpoint and the websocket upgrade.
// Arm endpoints are served both under /api/v1 and at the root.
func NewRouter(control *ControlHandler, ws http.Handler, allowedOrigins []string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global Middleware Stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Client-Type", "X-Client-Name"},
		MaxAge:         300,
	}))

	r.Get("/healthz", control.Healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/ws", ws)

	arm := func(r chi.Router) {
		r.Post("/arm/activate", control.ArmActivate)
		r.Post("/arm/deactivate", control.ArmDeactivate)
		r.Get("/arm/status", control.ArmStatus)
	}

	r.Group(func(r chi.Router) {
		r.Use(otelhttp.NewMiddleware("ice-api"))
		r.Use(requestLogger(logger))
		arm(r)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(otelhttp.NewMiddleware("ice-api"))
		r.Use(requestLogger(logger))
		arm(r)
		r.Get("/status", control.Status)
		r.Get("/connected-clients/{type}", control.ConnectedClients)
		r.Post("/events", control.SubmitEvent)
	})

	return r
}

// requestLogger logs API calls. /ws and /metrics are not logged.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Debug("HTTP_REQUEST_HANDLED",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"request_id", chimiddleware.GetReqID(r.Context()),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
