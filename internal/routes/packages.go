package routes

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/nugetd/nugetd/internal/metrics"
	"github.com/nugetd/nugetd/internal/models"
	"github.com/nugetd/nugetd/internal/store"
)

// PackageHandler serves the mutating package API and the icon passthrough.
type PackageHandler struct {
	store  *store.Store
	logger *logrus.Logger
}

// NewPackageHandler creates a new package handler
func NewPackageHandler(packageStore *store.Store, logger *logrus.Logger) *PackageHandler {
	return &PackageHandler{
		store:  packageStore,
		logger: logger,
	}
}

// Publish accepts a raw archive body and stores it.
// @Summary Publish package
// @Description Upload a package archive; the manifest inside names the id and version
// @Tags Packages
// @Accept octet-stream
// @Produce json
// @Success 201 {object} models.PublishResponse
// @Failure 400 {object} errors.ErrorResponse "Invalid archive or manifest"
// @Failure 409 {object} errors.ErrorResponse "Duplicate under policy=error"
// @Failure 413 {object} errors.ErrorResponse "Archive exceeds the size ceiling"
// @Router /api/publish [post]
func (h *PackageHandler) Publish(c *fiber.Ctx) error {
	result, err := h.store.Publish(c.Context(), c.Body())
	if err != nil {
		metrics.RecordPublish("rejected", len(c.Body()))
		return err
	}

	metrics.RecordPublish(string(result.Action), len(c.Body()))

	message := fmt.Sprintf("Package %s %s published", result.ID, result.Version)
	if result.Action == store.ActionIgnored {
		message = fmt.Sprintf("Package %s %s already exists, upload ignored", result.ID, result.Version)
	}
	return c.Status(fiber.StatusCreated).JSON(models.PublishResponse{
		Message: message,
		ID:      result.ID,
		Version: result.Version,
	})
}

// Delete removes one package version. Absent versions are a no-op.
// @Summary Delete package version
// @Tags Packages
// @Produce json
// @Param id path string true "Package id"
// @Param version path string true "Package version"
// @Success 200 {object} models.MessageResponse
// @Router /api/package/{id}/{version} [delete]
func (h *PackageHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	version := c.Params("version")

	if err := h.store.Delete(id, version); err != nil {
		return err
	}

	metrics.RecordDelete()
	return c.JSON(models.MessageResponse{
		Message: fmt.Sprintf("Package %s %s deleted", id, version),
	})
}

// Icon streams the extracted package icon.
// @Summary Package icon
// @Tags Packages
// @Produce png
// @Param id path string true "Package id"
// @Param version path string true "Package version"
// @Success 200 {file} binary
// @Failure 404 {object} errors.ErrorResponse
// @Router /api/ui/icon/{id}/{version} [get]
func (h *PackageHandler) Icon(c *fiber.Ctx) error {
	data, contentType, err := h.store.ReadIcon(c.Params("id"), c.Params("version"))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, contentType)
	return c.Send(data)
}
