package routes

import (
	"errors"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/nugetd/nugetd/internal/config"
	"github.com/nugetd/nugetd/internal/feed"
	"github.com/nugetd/nugetd/internal/logging"
	"github.com/nugetd/nugetd/internal/metrics"
	"github.com/nugetd/nugetd/internal/middleware"
	"github.com/nugetd/nugetd/internal/models"
	"github.com/nugetd/nugetd/internal/store"
	"github.com/nugetd/nugetd/internal/users"
	apperrors "github.com/nugetd/nugetd/pkg/errors"
)

// Setup configures all routes of the server: the v3 protocol read surface,
// the publish/administration API and the ambient system endpoints.
func Setup(app *fiber.App, cfg *config.Config, logger *logrus.Logger, mw *middleware.Manager,
	packageStore *store.Store, feedSvc *feed.Service, userSvc *users.Service) {

	gate := mw.Gate

	feedHandler := NewFeedHandler(feedSvc, packageStore, logger)
	packageHandler := NewPackageHandler(packageStore, logger)
	authHandler := NewAuthHandler(userSvc, mw.Sessions, gate, &cfg.Session, logger)
	uiHandler := NewUIHandler(cfg, userSvc, gate, logger)

	// Health check endpoints (no auth required)
	app.Get("/healthz", healthCheck(cfg))
	app.Get("/readyz", readinessCheck(cfg, logger))
	app.Get("/version", versionHandler(cfg))

	// Metrics endpoint (no auth required)
	app.Get(cfg.Observability.MetricsPath, metrics.PrometheusHandler())

	// v3 protocol read surface. Enforced only in full mode.
	v3 := app.Group("/v3")
	v3.Use(metrics.HTTPMetricsMiddleware())
	v3.Use(mw.ErrorLogger.Handle())
	v3.Use(gate.Resolve())
	v3.Get("/index.json", gate.Require(models.RoleRead), feedHandler.ServiceIndex)
	v3.Get("/search", gate.Require(models.RoleRead), feedHandler.Search)
	v3.Get("/registrations/:id/index.json", gate.Require(models.RoleRead), feedHandler.Registration)
	v3.Get("/package-base/:id/index.json", gate.Require(models.RoleRead), feedHandler.Versions)
	v3.Get("/package-base/:id/:version/:filename", gate.Require(models.RoleRead), feedHandler.Download)

	// Publish/administration API.
	api := app.Group("/api")
	api.Use(metrics.HTTPMetricsMiddleware())
	api.Use(mw.ErrorLogger.Handle())
	api.Use(gate.Resolve())

	// Always public: login and the UI config probe the UI calls to
	// discover whether it must show a login form.
	api.Post("/auth/login", authHandler.Login)
	api.Post("/auth/logout", authHandler.Logout)
	api.Post("/ui/config", uiHandler.Config)

	api.Post("/publish", gate.Require(models.RolePublish), packageHandler.Publish)
	api.Delete("/package/:id/:version", gate.Require(models.RolePublish), packageHandler.Delete)
	api.Get("/ui/icon/:id/:version", gate.Require(models.RoleRead), packageHandler.Icon)

	api.Post("/ui/users", gate.Require(models.RoleAdmin), uiHandler.Users)
	api.Post("/ui/apipassword", gate.RequireIdentity(), uiHandler.APIPassword)
	api.Post("/ui/password", gate.RequireIdentity(), uiHandler.Password)

	// 404 handler
	app.Use(notFoundHandler)
}

// ErrorHandler translates application errors into the JSON error envelope.
// Wire it into fiber.Config so every handler can just return its error.
func ErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		traceID := c.Get("X-Request-ID")

		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			if appErr.Code == apperrors.CodeInternalError {
				logger.WithError(err).WithFields(logrus.Fields{
					"method": c.Method(),
					"path":   c.Path(),
				}).Error("Request error")
			}
			return c.Status(appErr.HTTPStatus()).JSON(appErr.ToErrorResponse(traceID))
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code := apperrors.CodeInternalError
			switch fiberErr.Code {
			case fiber.StatusNotFound:
				code = apperrors.CodeNotFound
			case fiber.StatusBadRequest:
				code = apperrors.CodeBadRequest
			case fiber.StatusRequestEntityTooLarge:
				code = apperrors.CodePayloadTooLarge
			}
			return c.Status(fiberErr.Code).JSON(
				apperrors.NewAppError(code, fiberErr.Message, nil).ToErrorResponse(traceID))
		}

		logger.WithError(err).WithFields(logrus.Fields{
			"method": c.Method(),
			"path":   c.Path(),
		}).Error("Request error")
		return c.Status(fiber.StatusInternalServerError).JSON(
			apperrors.NewAppError(apperrors.CodeInternalError, "internal server error", nil).ToErrorResponse(traceID))
	}
}

// healthCheck returns the health status of the service
func healthCheck(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
			"service":   cfg.Server.Name,
		})
	}
}

// readinessCheck verifies the package tree is reachable before accepting
// traffic.
func readinessCheck(cfg *config.Config, logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, err := os.Stat(cfg.Storage.PackagesPath()); err != nil {
			logger.WithError(err).Warn("Package tree not reachable")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":    "not ready",
				"reason":    "package tree unavailable",
				"timestamp": time.Now().UTC(),
			})
		}
		return c.JSON(fiber.Map{
			"status":    "ready",
			"timestamp": time.Now().UTC(),
			"service":   cfg.Server.Name,
		})
	}
}

// versionHandler returns version information
func versionHandler(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service": cfg.Server.Name,
			"version": logging.Version(),
		})
	}
}

// notFoundHandler handles 404 errors
func notFoundHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": fiber.Map{
			"code":     apperrors.CodeNotFound,
			"message":  "The requested resource was not found",
			"path":     c.Path(),
			"trace_id": c.Get("X-Request-ID"),
		},
	})
}
