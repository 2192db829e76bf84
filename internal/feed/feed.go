// Package feed builds the v3 protocol documents (service index, search,
// registration, flat-container listings) from package store state.
package feed

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nugetd/nugetd/internal/config"
	"github.com/nugetd/nugetd/internal/models"
	"github.com/nugetd/nugetd/internal/nuspec"
	"github.com/nugetd/nugetd/internal/semver"
	"github.com/nugetd/nugetd/internal/store"
	apperrors "github.com/nugetd/nugetd/pkg/errors"
)

// Options configures a Service.
type Options struct {
	Store *store.Store

	// BaseURL overrides request-derived base URLs when set.
	BaseURL string

	// MissingPackageMode controls listing responses for unknown ids,
	// config.MissingEmptyArray or config.MissingNotFound.
	MissingPackageMode string

	DefaultTake int
	MaxTake     int

	Logger *logrus.Logger
}

// Service renders protocol documents. Listing endpoints honor the
// configured missing-package mode; binary content misses are always 404.
type Service struct {
	store       *store.Store
	baseURL     string
	missingMode string
	defaultTake int
	maxTake     int
	logger      *logrus.Logger

	mu         sync.RWMutex
	indexCache map[string]*models.ServiceIndex
}

// NewService creates a feed service over the package store.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	defaultTake := opts.DefaultTake
	if defaultTake <= 0 {
		defaultTake = 20
	}
	maxTake := opts.MaxTake
	if maxTake <= 0 {
		maxTake = 100
	}
	missing := opts.MissingPackageMode
	if missing == "" {
		missing = config.MissingNotFound
	}
	return &Service{
		store:       opts.Store,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		missingMode: missing,
		defaultTake: defaultTake,
		maxTake:     maxTake,
		logger:      logger,
		indexCache:  make(map[string]*models.ServiceIndex),
	}
}

// Base picks the effective base URL: the configured override when set,
// otherwise the request-derived value.
func (s *Service) Base(requestBase string) string {
	if s.baseURL != "" {
		return s.baseURL
	}
	return strings.TrimRight(requestBase, "/")
}

// ServiceIndex returns the discovery document for a base URL. The
// document only depends on the base, so it is built once and cached.
func (s *Service) ServiceIndex(base string) *models.ServiceIndex {
	s.mu.RLock()
	idx, ok := s.indexCache[base]
	s.mu.RUnlock()
	if ok {
		return idx
	}

	idx = buildServiceIndex(base)
	s.mu.Lock()
	s.indexCache[base] = idx
	s.mu.Unlock()
	return idx
}

func buildServiceIndex(base string) *models.ServiceIndex {
	searchURL := base + "/v3/search"
	regBase := base + "/v3/registrations/"
	contentBase := base + "/v3/package-base/"
	publishURL := base + "/api/publish"

	return &models.ServiceIndex{
		Version: "3.0.0",
		Resources: []models.ServiceResource{
			{ID: searchURL, Type: "SearchQueryService", Comment: "Query endpoint of the search service"},
			{ID: searchURL, Type: "SearchQueryService/3.0.0-beta"},
			{ID: searchURL, Type: "SearchQueryService/3.0.0-rc"},
			{ID: regBase, Type: "RegistrationsBaseUrl", Comment: "Base URL of the registration service"},
			{ID: regBase, Type: "RegistrationsBaseUrl/3.0.0-rc"},
			{ID: regBase, Type: "RegistrationsBaseUrl/3.6.0"},
			{ID: contentBase, Type: "PackageBaseAddress/3.0.0", Comment: "Base URL where package content is stored"},
			{ID: publishURL, Type: "PackagePublish/2.0.0", Comment: "Endpoint for pushing packages"},
		},
	}
}

// Search matches the query against package ids and descriptions and
// returns the requested window. An empty query matches everything.
func (s *Service) Search(base, query string, skip, take int) (*models.SearchResponse, error) {
	if skip < 0 {
		skip = 0
	}
	if take <= 0 {
		take = s.defaultTake
	}
	if take > s.maxTake {
		take = s.maxTake
	}
	q := strings.ToLower(strings.TrimSpace(query))

	ids, err := s.store.ListIDs()
	if err != nil {
		return nil, err
	}

	type hit struct {
		id          string
		displayID   string
		latest      string
		description string
		authors     string
		versions    []string
	}

	var hits []hit
	for _, id := range ids {
		versions, err := s.store.ListVersions(id)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			continue
		}
		semver.SortStrings(versions, false)
		latest, _ := semver.Latest(versions)

		h := hit{id: id, displayID: id, latest: latest, versions: versions}
		if m, err := s.store.ReadManifest(id, latest); err != nil {
			s.logger.WithError(err).WithField("package", id).Warn("Failed to read manifest during search")
		} else {
			h.displayID = m.Metadata.ID
			h.description = m.Metadata.Description
			h.authors = m.Metadata.Authors
		}

		if q != "" &&
			!strings.Contains(strings.ToLower(h.displayID), q) &&
			!strings.Contains(strings.ToLower(h.description), q) {
			continue
		}
		hits = append(hits, h)
	}

	resp := &models.SearchResponse{
		TotalHits: len(hits),
		Data:      []models.SearchResult{},
	}
	for i := skip; i < len(hits) && len(resp.Data) < take; i++ {
		h := hits[i]
		result := models.SearchResult{
			Type:         "Package",
			Registration: s.registrationIndexURL(base, h.id),
			ID:           h.displayID,
			Version:      h.latest,
			Description:  h.description,
			Authors:      splitAuthors(h.authors),
			Versions:     make([]models.SearchVersion, 0, len(h.versions)),
		}
		if s.store.HasIcon(h.id, h.latest) {
			result.IconURL = s.iconURL(base, h.id, h.latest)
		}
		for _, v := range h.versions {
			result.Versions = append(result.Versions, models.SearchVersion{
				ID:      s.registrationLeafURL(base, h.id, v),
				Version: v,
			})
		}
		resp.Data = append(resp.Data, result)
	}
	return resp, nil
}

// Registration returns the per-package version catalog, all versions on
// one inline page in ascending order.
func (s *Service) Registration(base, id string) (*models.RegistrationIndex, error) {
	versions, err := s.store.ListVersions(id)
	if err != nil {
		return nil, err
	}
	indexURL := s.registrationIndexURL(base, id)
	if len(versions) == 0 {
		if s.missingMode == config.MissingNotFound {
			return nil, apperrors.NewAppErrorf(apperrors.CodeNotFound, nil, "package %s not found", id)
		}
		return &models.RegistrationIndex{ID: indexURL, Count: 0, Items: []models.RegistrationPage{}}, nil
	}

	semver.SortStrings(versions, false)
	leaves := make([]models.RegistrationLeaf, 0, len(versions))
	for _, v := range versions {
		leaves = append(leaves, s.registrationLeaf(base, id, v))
	}

	page := models.RegistrationPage{
		ID:    indexURL,
		Count: len(leaves),
		Lower: versions[0],
		Upper: versions[len(versions)-1],
		Items: leaves,
	}
	return &models.RegistrationIndex{
		ID:    indexURL,
		Count: 1,
		Items: []models.RegistrationPage{page},
	}, nil
}

func (s *Service) registrationLeaf(base, id, version string) models.RegistrationLeaf {
	leafURL := s.registrationLeafURL(base, id, version)
	content := s.packageContentURL(base, id, version)

	entry := models.CatalogEntry{
		ID:             leafURL,
		PackageID:      id,
		Version:        version,
		PackageContent: content,
		Listed:         true,
	}
	if m, err := s.store.ReadManifest(id, version); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"package": id,
			"version": version,
		}).Warn("Failed to read manifest for registration")
	} else {
		entry.PackageID = m.Metadata.ID
		entry.Description = m.Metadata.Description
		entry.Authors = m.Metadata.Authors
		entry.DependencyGroups = dependencyGroups(m)
	}
	if s.store.HasIcon(id, version) {
		entry.IconURL = s.iconURL(base, id, version)
	}

	return models.RegistrationLeaf{
		ID:             leafURL,
		CatalogEntry:   entry,
		PackageContent: content,
	}
}

// Versions returns the flat-container version listing used by clients
// for content resolution.
func (s *Service) Versions(id string) (*models.VersionList, error) {
	versions, err := s.store.ListVersions(id)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		if s.missingMode == config.MissingNotFound {
			return nil, apperrors.NewAppErrorf(apperrors.CodeNotFound, nil, "package %s not found", id)
		}
		return &models.VersionList{Versions: []string{}}, nil
	}
	semver.SortStrings(versions, false)
	return &models.VersionList{Versions: versions}, nil
}

func (s *Service) registrationIndexURL(base, id string) string {
	return fmt.Sprintf("%s/v3/registrations/%s/index.json", base, strings.ToLower(id))
}

func (s *Service) registrationLeafURL(base, id, version string) string {
	return fmt.Sprintf("%s/v3/registrations/%s/%s.json", base, strings.ToLower(id), strings.ToLower(version))
}

func (s *Service) packageContentURL(base, id, version string) string {
	lid := strings.ToLower(id)
	lv := strings.ToLower(version)
	return fmt.Sprintf("%s/v3/package-base/%s/%s/%s.%s.nupkg", base, lid, lv, lid, lv)
}

func (s *Service) iconURL(base, id, version string) string {
	return fmt.Sprintf("%s/api/ui/icon/%s/%s", base, strings.ToLower(id), version)
}

func dependencyGroups(m *nuspec.Manifest) []models.DependencyGroup {
	groups := m.DependencyGroups()
	if len(groups) == 0 {
		return nil
	}
	out := make([]models.DependencyGroup, 0, len(groups))
	for _, g := range groups {
		mg := models.DependencyGroup{TargetFramework: g.TargetFramework}
		for _, d := range g.Dependencies {
			mg.Dependencies = append(mg.Dependencies, models.Dependency{
				ID:    d.ID,
				Range: d.Version,
			})
		}
		out = append(out, mg)
	}
	return out
}

func splitAuthors(authors string) []string {
	if strings.TrimSpace(authors) == "" {
		return nil
	}
	parts := strings.Split(authors, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
