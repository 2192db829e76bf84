package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/nugetd/nugetd/internal/config"
	"github.com/nugetd/nugetd/internal/metrics"
	"github.com/nugetd/nugetd/internal/middleware"
	"github.com/nugetd/nugetd/internal/models"
	"github.com/nugetd/nugetd/internal/session"
	"github.com/nugetd/nugetd/internal/users"
	apperrors "github.com/nugetd/nugetd/pkg/errors"
)

// AuthHandler handles the interactive login session endpoints.
type AuthHandler struct {
	users    *users.Service
	sessions session.Store
	gate     *middleware.Gate
	cfg      *config.SessionConfig
	logger   *logrus.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(userSvc *users.Service, sessions session.Store, gate *middleware.Gate,
	cfg *config.SessionConfig, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		users:    userSvc,
		sessions: sessions,
		gate:     gate,
		cfg:      cfg,
		logger:   logger,
	}
}

// Login validates the login password and issues a session cookie. The
// failure message never reveals whether the username exists, and every
// failure waits out the progressive delay before responding.
// @Summary User login
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body models.LoginRequest true "Login credentials"
// @Success 200 {object} models.LoginResponse
// @Failure 400 {object} errors.ErrorResponse "Invalid request"
// @Failure 401 {object} errors.ErrorResponse "Invalid credentials"
// @Router /api/auth/login [post]
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req models.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewAppError(apperrors.CodeBadRequest, "invalid request body", err)
	}
	if req.Username == "" || req.Password == "" {
		return apperrors.NewAppError(apperrors.CodeBadRequest, "username and password are required", nil)
	}

	user, ok := h.users.ValidateLoginPassword(req.Username, req.Password)
	if !ok {
		metrics.RecordLogin("failure")
		h.gate.PunishLoginFailure(c, req.Username)
		return apperrors.NewAppError(apperrors.CodeUnauthenticated, "invalid credentials", nil)
	}

	h.gate.ClearFailures(c, req.Username)

	s, err := session.New(user, h.cfg.TTL)
	if err != nil {
		return apperrors.NewAppError(apperrors.CodeInternalError, "failed to create session", err)
	}
	if err := h.sessions.Put(c.Context(), s); err != nil {
		return apperrors.NewAppError(apperrors.CodeInternalError, "failed to store session", err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     h.cfg.CookieName,
		Value:    s.Token,
		Expires:  s.ExpiresAt,
		Secure:   h.cfg.CookieSecure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteStrictMode,
		Path:     "/",
	})

	metrics.RecordLogin("success")
	h.logger.WithFields(logrus.Fields{
		"username": user.Username,
		"role":     user.Role,
	}).Info("User logged in")

	return c.JSON(models.LoginResponse{
		Username: user.Username,
		Role:     user.Role,
	})
}

// Logout forgets the session behind the cookie and clears it. Requests
// without a live session succeed anyway.
// @Summary User logout
// @Tags Auth
// @Produce json
// @Success 200 {object} models.MessageResponse
// @Router /api/auth/logout [post]
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if token := c.Cookies(h.cfg.CookieName); token != "" {
		if err := h.sessions.Delete(c.Context(), token); err != nil {
			h.logger.WithError(err).Error("Failed to delete session")
		}
	}

	c.Cookie(&fiber.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour),
		Secure:   h.cfg.CookieSecure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteStrictMode,
		Path:     "/",
	})

	return c.JSON(models.MessageResponse{Message: "Logged out"})
}
