package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syncreviews/platform/pkg/health"
	"github.com/syncreviews/platform/pkg/middleware"
	"github.com/syncreviews/platform/services/reviews/internal/auth"
	"github.com/syncreviews/platform/services/reviews/internal/service"
)

const serviceName = "reviews"

// RouterConfig carries the dependencies and settings of the reviews router.
type RouterConfig struct {
	PublicService  *service.PublicService
	ReviewService  *service.ReviewService
	TokenValidator middleware.TokenValidator
	Health         *health.Handler
	Logger         *slog.Logger

	// OperatorCORS applies to collection and operator routes. Public embed
	// routes always allow any origin.
	OperatorCORS middleware.CORSConfig

	PublicBaseURL     string
	PublicCacheTTL    time.Duration
	ExposeStoreErrors bool
	SubmitLimiter     *RateLimiter
	PprofAllowedCIDRs []string
}

// NewRouter creates a chi router with all reviews service routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger, "/health", "/metrics"))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	if len(cfg.PprofAllowedCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)
	}

	// Public embed endpoints. The gateway dispatches methods itself so that
	// every verb receives the CORS headers and its own error shape.
	publicHandler := NewPublicHandler(cfg.PublicService, cfg.ExposeStoreErrors, logger)
	widgetHandler := NewWidgetHandler(cfg.PublicService, cfg.PublicBaseURL, logger)

	r.Group(func(r chi.Router) {
		r.Use(middleware.CORS(middleware.PublicEmbedCORSConfig()))
		r.Use(middleware.CacheControl(cfg.PublicCacheTTL))

		r.Handle("/public-reviews", publicHandler)
		r.Get("/widget.js", widgetHandler.Script)
		r.Get("/widget/frame", widgetHandler.Frame)
	})

	// Review collection (QR landing pages)
	reviewHandler := NewReviewHandler(cfg.ReviewService, logger)

	r.Route("/api/v1/companies/{companyId}/reviews", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.OperatorCORS))
		r.Use(ContentTypeJSON)
		if cfg.SubmitLimiter != nil {
			r.Use(cfg.SubmitLimiter.Middleware)
		}

		r.Post("/", reviewHandler.SubmitReview)
	})

	// Operator endpoints (auth required)
	adminHandler := NewAdminHandler(cfg.ReviewService, logger)

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.OperatorCORS))
		r.Use(middleware.NoStore)
		r.Use(ContentTypeJSON)
		r.Use(middleware.Auth(cfg.TokenValidator))
		r.Use(middleware.RequireRole(auth.RoleOwner, auth.RoleManager))
		r.Use(middleware.RequestLogger(logger))

		r.Patch("/reviews/{id}/moderation", adminHandler.ModerateReview)

		r.Route("/companies/{companyId}", func(r chi.Router) {
			r.Use(RequireCompany)

			r.Get("/reviews", adminHandler.ListReviews)
			r.Get("/widget/snippet", widgetHandler.Snippet)
			r.Get("/qr.png", widgetHandler.QRCode)
		})
	})

	return r
}
