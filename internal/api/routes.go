package api

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"order-messenger/internal/auth"
	"order-messenger/internal/observability"
)

func SetupRoutes(
	app *fiber.App,
	logger *zap.Logger,
	metrics *observability.Metrics,
	handlers *Handlers,
	authService *auth.Service,
	metricsEnabled bool,
) {
	SetupMiddleware(app, logger, metrics)

	// Health endpoints (no auth required)
	app.Get("/healthz", handlers.HealthCheck)
	app.Get("/readyz", handlers.ReadyCheck)

	if metricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	// Control routes, operator API key required
	v1 := app.Group("/v1", authService.RequireAPIKey())

	automation := v1.Group("/automation")
	automation.Post("/start", handlers.StartAutomation)
	automation.Post("/stop", handlers.StopAutomation)
	automation.Post("/trigger", handlers.TriggerAutomation)
	automation.Post("/force-process", handlers.ForceProcess)
	automation.Post("/reset-tracking", handlers.ResetTracking)
	automation.Get("/status", handlers.AutomationStatus)

	resil := v1.Group("/resilience")
	resil.Get("/stats", handlers.ResilienceStats)
	resil.Post("/reset", handlers.ResilienceReset)
	resil.Get("/health", handlers.ResilienceHealth)
}
