package routes

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/nugetd/nugetd/internal/feed"
	"github.com/nugetd/nugetd/internal/metrics"
	"github.com/nugetd/nugetd/internal/store"
	apperrors "github.com/nugetd/nugetd/pkg/errors"
)

// FeedHandler serves the v3 protocol read surface.
type FeedHandler struct {
	feed   *feed.Service
	store  *store.Store
	logger *logrus.Logger
}

// NewFeedHandler creates a new feed handler
func NewFeedHandler(feedSvc *feed.Service, packageStore *store.Store, logger *logrus.Logger) *FeedHandler {
	return &FeedHandler{
		feed:   feedSvc,
		store:  packageStore,
		logger: logger,
	}
}

// ServiceIndex returns the service discovery document.
// @Summary Service index
// @Description v3 discovery document listing the supported protocol resources
// @Tags Feed
// @Produce json
// @Success 200 {object} models.ServiceIndex
// @Router /v3/index.json [get]
func (h *FeedHandler) ServiceIndex(c *fiber.Ctx) error {
	base := h.feed.Base(c.BaseURL())
	return c.JSON(h.feed.ServiceIndex(base))
}

// Search returns the paginated package search result.
// @Summary Search packages
// @Description Case-insensitive substring search over package id and description
// @Tags Feed
// @Produce json
// @Param q query string false "Search text"
// @Param skip query int false "Result offset"
// @Param take query int false "Page size"
// @Success 200 {object} models.SearchResponse
// @Router /v3/search [get]
func (h *FeedHandler) Search(c *fiber.Ctx) error {
	skip, err := queryInt(c, "skip", 0)
	if err != nil {
		return err
	}
	take, err := queryInt(c, "take", 0)
	if err != nil {
		return err
	}

	metrics.RecordSearch()
	resp, err := h.feed.Search(h.feed.Base(c.BaseURL()), c.Query("q"), skip, take)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

// Registration returns the per-package version catalog.
// @Summary Registration index
// @Description Ascending version catalog with per-version manifest summaries
// @Tags Feed
// @Produce json
// @Param id path string true "Package id"
// @Success 200 {object} models.RegistrationIndex
// @Failure 404 {object} errors.ErrorResponse
// @Router /v3/registrations/{id}/index.json [get]
func (h *FeedHandler) Registration(c *fiber.Ctx) error {
	resp, err := h.feed.Registration(h.feed.Base(c.BaseURL()), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

// Versions returns the flat-container version listing.
// @Summary Version list
// @Description Ascending version list used for content resolution
// @Tags Feed
// @Produce json
// @Param id path string true "Package id"
// @Success 200 {object} models.VersionList
// @Failure 404 {object} errors.ErrorResponse
// @Router /v3/package-base/{id}/index.json [get]
func (h *FeedHandler) Versions(c *fiber.Ctx) error {
	resp, err := h.feed.Versions(c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

// Download streams the stored archive. A binary miss is always 404; the
// missing-package mode only shapes the listing endpoints.
// @Summary Download package
// @Description Raw archive bytes for one stored package version
// @Tags Feed
// @Produce octet-stream
// @Param id path string true "Package id"
// @Param version path string true "Package version"
// @Param filename path string true "Archive file name"
// @Success 200 {file} binary
// @Failure 404 {object} errors.ErrorResponse
// @Router /v3/package-base/{id}/{version}/{filename} [get]
func (h *FeedHandler) Download(c *fiber.Ctx) error {
	id := c.Params("id")
	version := c.Params("version")
	filename := c.Params("filename")

	// The client asks for <id>.<version>.nupkg; anything else under this
	// path does not exist.
	expected := strings.ToLower(id) + "." + strings.ToLower(version) + ".nupkg"
	if !strings.EqualFold(filename, expected) {
		return apperrors.NewAppErrorf(apperrors.CodeNotFound, nil, "no file %s for package %s %s", filename, id, version)
	}

	data, err := h.store.ReadArchive(id, version)
	if err != nil {
		return err
	}

	metrics.RecordDownload(strings.ToLower(id))
	c.Set(fiber.HeaderContentType, "application/octet-stream")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+expected+`"`)
	return c.Send(data)
}

func queryInt(c *fiber.Ctx, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewAppErrorf(apperrors.CodeBadRequest, err, "invalid %s parameter", name)
	}
	return v, nil
}
