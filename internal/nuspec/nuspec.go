// Package nuspec parses the XML manifest embedded in package archives.
package nuspec

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Manifest is the parsed package manifest.
type Manifest struct {
	XMLName  xml.Name `xml:"package"`
	Metadata Metadata `xml:"metadata"`
}

// Metadata holds the fields the registry cares about. Unknown elements are
// ignored by the decoder.
type Metadata struct {
	ID           string       `xml:"id"`
	Version      string       `xml:"version"`
	Authors      string       `xml:"authors"`
	Description  string       `xml:"description"`
	Icon         string       `xml:"icon"`
	IconURL      string       `xml:"iconUrl"`
	Dependencies Dependencies `xml:"dependencies"`
}

// Dependencies carries both manifest forms: dependencies grouped per target
// framework, and the older flat list.
type Dependencies struct {
	Groups []Group      `xml:"group"`
	Flat   []Dependency `xml:"dependency"`
}

// Group is one per-framework dependency set.
type Group struct {
	TargetFramework string       `xml:"targetFramework,attr"`
	Dependencies    []Dependency `xml:"dependency"`
}

// Dependency is one required package. Version carries the raw range
// expression from the manifest.
type Dependency struct {
	ID      string `xml:"id,attr"`
	Version string `xml:"version,attr"`
}

// Parse decodes a manifest document. The id and version fields must be
// present; both are returned trimmed.
func Parse(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	m.Metadata.ID = strings.TrimSpace(m.Metadata.ID)
	m.Metadata.Version = strings.TrimSpace(m.Metadata.Version)
	if m.Metadata.ID == "" {
		return nil, fmt.Errorf("manifest has no id")
	}
	if m.Metadata.Version == "" {
		return nil, fmt.Errorf("manifest has no version")
	}
	return &m, nil
}

// ParseBytes decodes a manifest from a byte slice.
func ParseBytes(b []byte) (*Manifest, error) {
	return Parse(bytes.NewReader(b))
}

// DependencyGroups normalizes both manifest forms into groups. Flat
// dependencies become a single group with no target framework.
func (m *Manifest) DependencyGroups() []Group {
	groups := m.Metadata.Dependencies.Groups
	if len(m.Metadata.Dependencies.Flat) > 0 {
		groups = append([]Group{{Dependencies: m.Metadata.Dependencies.Flat}}, groups...)
	}
	return groups
}

// IconPath returns the archive-internal icon path with separators
// normalized, or empty when the manifest references no packed icon.
func (m *Manifest) IconPath() string {
	p := strings.TrimSpace(m.Metadata.Icon)
	if p == "" {
		return ""
	}
	return strings.ReplaceAll(p, `\`, "/")
}
