package routes

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/nugetd/nugetd/internal/config"
	"github.com/nugetd/nugetd/internal/logging"
	"github.com/nugetd/nugetd/internal/middleware"
	"github.com/nugetd/nugetd/internal/models"
	"github.com/nugetd/nugetd/internal/users"
	apperrors "github.com/nugetd/nugetd/pkg/errors"
)

// UIHandler serves the management UI endpoints: the public config probe,
// admin user management and credential self-management.
type UIHandler struct {
	cfg    *config.Config
	users  *users.Service
	gate   *middleware.Gate
	logger *logrus.Logger
}

// NewUIHandler creates a new UI handler
func NewUIHandler(cfg *config.Config, userSvc *users.Service, gate *middleware.Gate, logger *logrus.Logger) *UIHandler {
	return &UIHandler{
		cfg:    cfg,
		users:  userSvc,
		gate:   gate,
		logger: logger,
	}
}

// Config is the public probe the UI calls before anything else. It stays
// open in every auth mode so the UI can discover whether it must log in.
// @Summary UI configuration probe
// @Tags UI
// @Produce json
// @Success 200 {object} models.UIConfigResponse
// @Router /api/ui/config [post]
func (h *UIHandler) Config(c *fiber.Ctx) error {
	return c.JSON(models.UIConfigResponse{
		Realm:       h.gate.Realm(),
		Name:        h.cfg.Server.Name,
		Version:     logging.Version(),
		AuthMode:    h.gate.Mode(),
		AuthEnabled: h.gate.Enabled(),
		CurrentUser: middleware.CurrentUser(c),
	})
}

// Users dispatches the admin user-management actions.
// @Summary Manage users
// @Description action=list returns the sanitized records, create returns the one-time default API password, delete removes the user
// @Tags UI
// @Accept json
// @Produce json
// @Param request body models.UserActionRequest true "Action payload"
// @Success 200 {object} models.UserListResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Router /api/ui/users [post]
func (h *UIHandler) Users(c *fiber.Ctx) error {
	var req models.UserActionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewAppError(apperrors.CodeBadRequest, "invalid request body", err)
	}

	switch req.Action {
	case "list":
		return c.JSON(models.UserListResponse{Users: h.users.ListUsers()})

	case "create":
		role, ok := models.ParseRole(req.Role)
		if !ok {
			return apperrors.NewAppErrorf(apperrors.CodeBadRequest, nil, "invalid role %q", req.Role)
		}
		info, apiPassword, err := h.users.CreateUser(req.Username, req.Password, role)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(models.UserCreateResponse{
			User:        info,
			APIPassword: apiPassword,
		})

	case "delete":
		actor := middleware.CurrentUser(c)
		if actor != nil && actor.Username == req.Username {
			return apperrors.NewAppError(apperrors.CodeBadRequest, "cannot delete your own account", nil)
		}
		if err := h.users.DeleteUser(req.Username); err != nil {
			return err
		}
		return c.JSON(models.MessageResponse{Message: fmt.Sprintf("User %s deleted", req.Username)})

	default:
		return apperrors.NewAppErrorf(apperrors.CodeBadRequest, nil, "unknown action %q", req.Action)
	}
}

// APIPassword dispatches credential self-management. Admin actors may name
// another user; everyone else operates on their own record.
// @Summary Manage API passwords
// @Description action=list returns labels and timestamps, add returns the one-time plaintext, delete invalidates one label
// @Tags UI
// @Accept json
// @Produce json
// @Param request body models.APIPasswordActionRequest true "Action payload"
// @Success 200 {object} models.APIPasswordListResponse
// @Failure 400 {object} errors.ErrorResponse
// @Router /api/ui/apipassword [post]
func (h *UIHandler) APIPassword(c *fiber.Ctx) error {
	var req models.APIPasswordActionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewAppError(apperrors.CodeBadRequest, "invalid request body", err)
	}

	actor := middleware.CurrentUser(c)
	target, err := h.resolveTarget(actor, req.Username)
	if err != nil {
		return err
	}

	switch req.Action {
	case "list":
		list, err := h.users.ListAPIPasswords(target)
		if err != nil {
			return err
		}
		return c.JSON(models.APIPasswordListResponse{APIPasswords: list})

	case "add":
		value, err := h.users.AddAPIPassword(target, req.Label)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(models.APIPasswordAddResponse{
			Label:       req.Label,
			APIPassword: value,
		})

	case "delete":
		removed, err := h.users.DeleteAPIPassword(target, req.Label)
		if err != nil {
			return err
		}
		message := fmt.Sprintf("API password %q deleted", req.Label)
		if !removed {
			message = fmt.Sprintf("API password %q not found", req.Label)
		}
		return c.JSON(models.MessageResponse{Message: message})

	default:
		return apperrors.NewAppErrorf(apperrors.CodeBadRequest, nil, "unknown action %q", req.Action)
	}
}

// Password changes a login password. Self-service requires the current
// password; admin actors may reset another user unconditionally.
// @Summary Change login password
// @Tags UI
// @Accept json
// @Produce json
// @Param request body models.PasswordActionRequest true "Action payload"
// @Success 200 {object} models.MessageResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Router /api/ui/password [post]
func (h *UIHandler) Password(c *fiber.Ctx) error {
	var req models.PasswordActionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewAppError(apperrors.CodeBadRequest, "invalid request body", err)
	}
	if req.Action != "change" {
		return apperrors.NewAppErrorf(apperrors.CodeBadRequest, nil, "unknown action %q", req.Action)
	}

	actor := middleware.CurrentUser(c)
	target, err := h.resolveTarget(actor, req.Username)
	if err != nil {
		return err
	}

	if err := h.users.ChangePassword(actor.Username, actor.Role, target, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"actor":  actor.Username,
		"target": target,
	}).Info("Password change requested")

	return c.JSON(models.MessageResponse{Message: "Password changed"})
}

// resolveTarget picks the record an action applies to. Naming someone else
// needs the admin role.
func (h *UIHandler) resolveTarget(actor *models.SessionUser, requested string) (string, error) {
	if actor == nil {
		return "", apperrors.NewAppError(apperrors.CodeUnauthenticated, "authentication required", nil)
	}
	if requested == "" || requested == actor.Username {
		return actor.Username, nil
	}
	if actor.Role != models.RoleAdmin {
		return "", apperrors.NewAppError(apperrors.CodeForbidden, "admin role required to manage another user", nil)
	}
	return requested, nil
}
