package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/go-paynotify/internal/application/device"
	"github.com/go-paynotify/internal/application/ingestion"
	"github.com/go-paynotify/internal/application/instance"
	"github.com/go-paynotify/internal/application/notification"
	"github.com/go-paynotify/internal/classifier"
	"github.com/go-paynotify/internal/config"
	jwtinfra "github.com/go-paynotify/internal/infrastructure/jwt"
	"github.com/go-paynotify/internal/transport/http/handler"
	appmiddleware "github.com/go-paynotify/internal/transport/http/middleware"
)

// Services holds the application services the router exposes.
type Services struct {
	Ingestion     ingestion.Service
	Notifications notification.Service
	Devices       device.Service
	Instances     instance.Resolver
}

// NewRouter builds and returns the application router. With a nil provider
// device routes are open and operator routes are not mounted.
func NewRouter(ctx context.Context, cfg *config.Config, svc Services, provider *jwtinfra.Provider) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if provider != nil {
		authMw = appmiddleware.Auth(provider)
	} else {
		slog.Warn("jwt provider not configured: device routes are unauthenticated, operator routes disabled")
		authMw = func(next http.Handler) http.Handler { return next }
	}

	ingestRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(cfg.Ingest.RatePerSecond), cfg.Ingest.RateBurst)
	// Registration is public, so it gets a tighter budget.
	registerRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(1), 5)

	healthH := handler.NewHealthHandler()
	notifH := handler.NewNotificationHandler(svc.Ingestion, svc.Notifications)
	deviceH := handler.NewDeviceHandler(svc.Devices, svc.Instances)
	packages := cfg.MonitoredPackages()
	if len(packages) == 0 {
		packages = classifier.DefaultPackages()
	}
	packagesH := handler.NewPackagesHandler(packages)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes ───────────────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.With(registerRL.Limit).Post("/devices", deviceH.Register)

		// ── Device routes ───────────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.With(ingestRL.Limit).Post("/notifications", notifH.Ingest)
			r.Post("/devices/{id}/health", deviceH.ReportHealth) // {id} is the device uuid here
			r.Get("/monitored-packages", packagesH.List)
		})

		// ── Operator routes ─────────────────────────────────────────────────
		if provider == nil {
			return
		}
		r.Group(func(r chi.Router) {
			r.Use(authMw)
			r.Use(appmiddleware.RequireRole(jwtinfra.RoleOperator))

			r.Get("/notifications", notifH.List)
			r.Get("/notifications/{id}", notifH.Get)
			r.Get("/notifications/{id}/raw", notifH.Raw)
			r.Get("/devices/{id}", deviceH.Get)
			r.Get("/devices/{id}/app-instances", deviceH.ListAppInstances)
			r.Put("/app-instances/{id}/label", deviceH.LabelAppInstance)
		})
	})

	return r
}
