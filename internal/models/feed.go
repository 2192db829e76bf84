package models

// Wire types for the v3 protocol surface. Field names follow the protocol's
// JSON shapes, including the @id/@type JSON-LD keys, so the documents
// serialize exactly as clients expect.

// ServiceIndex is the root discovery document.
type ServiceIndex struct {
	Version   string            `json:"version"`
	Resources []ServiceResource `json:"resources"`
}

// ServiceResource is one endpoint advertised by the service index.
type ServiceResource struct {
	ID      string `json:"@id"`
	Type    string `json:"@type"`
	Comment string `json:"comment,omitempty"`
}

// SearchResponse is the paginated search result document.
type SearchResponse struct {
	TotalHits int            `json:"totalHits"`
	Data      []SearchResult `json:"data"`
}

// SearchResult is one package hit. Version holds the latest version; the
// Versions list is ascending.
type SearchResult struct {
	Type         string          `json:"@type"`
	Registration string          `json:"registration"`
	ID           string          `json:"id"`
	Version      string          `json:"version"`
	Description  string          `json:"description,omitempty"`
	IconURL      string          `json:"iconUrl,omitempty"`
	Authors      []string        `json:"authors,omitempty"`
	Versions     []SearchVersion `json:"versions"`
}

// SearchVersion is one entry of a search hit's version list.
type SearchVersion struct {
	ID        string `json:"@id"`
	Version   string `json:"version"`
	Downloads int    `json:"downloads"`
}

// RegistrationIndex is the per-package version catalog. All versions are
// served inline on a single page.
type RegistrationIndex struct {
	ID    string             `json:"@id"`
	Count int                `json:"count"`
	Items []RegistrationPage `json:"items"`
}

// RegistrationPage is one page of registration leaves, ordered ascending by
// version precedence.
type RegistrationPage struct {
	ID    string             `json:"@id"`
	Count int                `json:"count"`
	Lower string             `json:"lower"`
	Upper string             `json:"upper"`
	Items []RegistrationLeaf `json:"items"`
}

// RegistrationLeaf ties one version's catalog entry to its content URL.
type RegistrationLeaf struct {
	ID             string       `json:"@id"`
	CatalogEntry   CatalogEntry `json:"catalogEntry"`
	PackageContent string       `json:"packageContent"`
}

// CatalogEntry is the per-version manifest summary used for dependency
// resolution.
type CatalogEntry struct {
	ID               string            `json:"@id"`
	PackageID        string            `json:"id"`
	Version          string            `json:"version"`
	Description      string            `json:"description,omitempty"`
	Authors          string            `json:"authors,omitempty"`
	IconURL          string            `json:"iconUrl,omitempty"`
	DependencyGroups []DependencyGroup `json:"dependencyGroups,omitempty"`
	PackageContent   string            `json:"packageContent"`
	Listed           bool              `json:"listed"`
}

// DependencyGroup holds the dependencies for one target framework. An empty
// TargetFramework means the dependencies apply to any framework.
type DependencyGroup struct {
	TargetFramework string       `json:"targetFramework,omitempty"`
	Dependencies    []Dependency `json:"dependencies,omitempty"`
}

// Dependency is one required package with its version range, carried
// verbatim from the manifest.
type Dependency struct {
	ID    string `json:"id"`
	Range string `json:"range,omitempty"`
}

// VersionList is the flat-container version listing
// ({id}/index.json) used during content resolution.
type VersionList struct {
	Versions []string `json:"versions"`
}

// PublishResponse acknowledges a successful publish.
type PublishResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
	Version string `json:"version"`
}
