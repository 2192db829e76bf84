// Package store owns the on-disk package tree. Every package version lives
// under root/<id>/<version>/ as the raw archive, the extracted manifest and
// an optional icon. The id directory is lowercased; the version directory
// keeps the string exactly as published.
package store

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nugetd/nugetd/internal/nuspec"
	"github.com/nugetd/nugetd/internal/semver"
	apperrors "github.com/nugetd/nugetd/pkg/errors"
)

// Policy decides how republishing an existing id/version is handled.
type Policy string

const (
	PolicyOverwrite Policy = "overwrite"
	PolicyIgnore    Policy = "ignore"
	PolicyError     Policy = "error"
)

// Action reports what a publish actually did.
type Action string

const (
	ActionCreated     Action = "created"
	ActionOverwritten Action = "overwritten"
	ActionIgnored     Action = "ignored"
)

var (
	idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)
	// Version strings become directory names, so the character set is
	// restricted even beyond what the version parser accepts.
	versionPattern = regexp.MustCompile(`^[A-Za-z0-9.+-]{1,64}$`)
)

var iconContentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".ico":  "image/x-icon",
}

// Options configures a Store.
type Options struct {
	Root     string
	MaxBytes int64
	Policy   Policy
	Logger   *logrus.Logger
}

// Store is the package repository. One writer-exclusive lock guards all
// mutations; reads share it.
type Store struct {
	mu       sync.RWMutex
	root     string
	maxBytes int64
	policy   Policy
	logger   *logrus.Logger
}

// Result describes a completed publish.
type Result struct {
	ID       string
	Version  string
	Action   Action
	Manifest *nuspec.Manifest
}

// New creates the store, creating the root directory if needed.
func New(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("store root is required")
	}
	if opts.Policy == "" {
		opts.Policy = PolicyIgnore
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Store{
		root:     opts.Root,
		maxBytes: opts.MaxBytes,
		policy:   opts.Policy,
		logger:   opts.Logger,
	}, nil
}

// DuplicatePolicy returns the configured duplicate policy.
func (s *Store) DuplicatePolicy() Policy { return s.policy }

// Publish validates the uploaded archive, extracts its manifest and icon
// and writes all artifacts for the id/version it names. The duplicate
// decision and the writes happen under the exclusive lock, atomically with
// respect to other publishes and deletes.
func (s *Store) Publish(ctx context.Context, archive []byte) (*Result, error) {
	if len(archive) == 0 {
		return nil, apperrors.NewAppError(apperrors.CodeBadRequest, "empty package upload", nil)
	}
	if s.maxBytes > 0 && int64(len(archive)) > s.maxBytes {
		return nil, apperrors.NewAppErrorf(apperrors.CodePayloadTooLarge, nil,
			"package of %d bytes exceeds the %d byte limit", len(archive), s.maxBytes)
	}

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.CodeBadRequest, "upload is not a valid package archive", err)
	}

	manifestRaw, err := readRootManifest(zr)
	if err != nil {
		return nil, err
	}
	manifest, err := nuspec.ParseBytes(manifestRaw)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.CodeBadRequest, "package manifest is invalid", err)
	}

	id := manifest.Metadata.ID
	version := manifest.Metadata.Version
	if !idPattern.MatchString(id) {
		return nil, apperrors.NewAppErrorf(apperrors.CodeBadRequest, nil, "invalid package id %q", id)
	}
	if !versionPattern.MatchString(version) {
		return nil, apperrors.NewAppErrorf(apperrors.CodeBadRequest, nil, "invalid package version %q", version)
	}
	if _, err := semver.Parse(version); err != nil {
		return nil, apperrors.NewAppError(apperrors.CodeBadRequest, "invalid package version", err)
	}

	iconBytes, iconExt := extractIcon(zr, manifest.IconPath())

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewAppError(apperrors.CodeInternalError, "publish canceled", err)
	}

	result := &Result{ID: id, Version: version, Manifest: manifest}

	existing, found := s.lookupVersionDir(id, version)
	switch {
	case found && s.policy == PolicyIgnore:
		result.Action = ActionIgnored
		s.logger.WithFields(logrus.Fields{
			"package": id,
			"version": version,
		}).Info("Duplicate publish ignored")
		return result, nil
	case found && s.policy == PolicyError:
		return nil, apperrors.NewAppErrorf(apperrors.CodeConflict, nil,
			"package %s %s already exists", id, version)
	case found: // PolicyOverwrite
		if err := os.RemoveAll(filepath.Join(s.idDir(id), existing)); err != nil {
			return nil, apperrors.NewAppError(apperrors.CodeInternalError, "failed to replace existing package", err)
		}
		result.Action = ActionOverwritten
	default:
		result.Action = ActionCreated
	}

	if err := s.writeArtifacts(id, version, archive, manifestRaw, iconBytes, iconExt); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"package": id,
		"version": version,
		"action":  result.Action,
		"size":    len(archive),
	}).Info("Package published")

	return result, nil
}

// ListVersions enumerates the stored version strings for id, newest-agnostic
// (directory order). Unknown ids yield an empty list, never an error.
func (s *Store) ListVersions(id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readVersionNames(id)
}

// ListIDs enumerates every package id in the tree (lowercased directory
// names).
func (s *Store) ListIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.NewAppError(apperrors.CodeInternalError, "failed to list packages", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Delete removes one package version. Deleting something absent is a no-op.
func (s *Store) Delete(id, version string) error {
	if !idPattern.MatchString(id) || !versionPattern.MatchString(version) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	actual, found := s.lookupVersionDir(id, version)
	if !found {
		return nil
	}
	if err := os.RemoveAll(filepath.Join(s.idDir(id), actual)); err != nil {
		return apperrors.NewAppError(apperrors.CodeInternalError, "failed to delete package version", err)
	}

	// Drop the id directory once the last version is gone.
	if rest, err := os.ReadDir(s.idDir(id)); err == nil && len(rest) == 0 {
		_ = os.Remove(s.idDir(id))
	}

	s.logger.WithFields(logrus.Fields{
		"package": strings.ToLower(id),
		"version": actual,
	}).Info("Package version deleted")

	return nil
}

// ReadArchive returns the stored archive bytes for id/version.
func (s *Store) ReadArchive(id, version string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir, actual, err := s.resolveVersion(id, version)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, archiveName(id, actual)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(id, version)
		}
		return nil, apperrors.NewAppError(apperrors.CodeInternalError, "failed to read package archive", err)
	}
	return data, nil
}

// ReadIcon returns the stored icon bytes and their content type.
func (s *Store) ReadIcon(id, version string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir, _, err := s.resolveVersion(id, version)
	if err != nil {
		return nil, "", err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", apperrors.NewAppError(apperrors.CodeInternalError, "failed to read package directory", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "icon.") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, "", apperrors.NewAppError(apperrors.CodeInternalError, "failed to read package icon", err)
		}
		ct := iconContentTypes[strings.ToLower(filepath.Ext(e.Name()))]
		if ct == "" {
			ct = "image/png"
		}
		return data, ct, nil
	}
	return nil, "", apperrors.NewAppErrorf(apperrors.CodeNotFound, nil, "no icon for package %s %s", id, version)
}

// HasIcon reports whether id/version stores an extracted icon.
func (s *Store) HasIcon(id, version string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir, _, err := s.resolveVersion(id, version)
	if err != nil {
		return false
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "icon.") {
			return true
		}
	}
	return false
}

// ReadManifest parses the stored manifest for id/version.
func (s *Store) ReadManifest(id, version string) (*nuspec.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir, _, err := s.resolveVersion(id, version)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, manifestName(id)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(id, version)
		}
		return nil, apperrors.NewAppError(apperrors.CodeInternalError, "failed to read package manifest", err)
	}
	m, err := nuspec.ParseBytes(data)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.CodeInternalError, "stored package manifest is unreadable", err)
	}
	return m, nil
}

// Exists reports whether id/version is stored.
func (s *Store) Exists(id, version string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, found := s.lookupVersionDir(id, version)
	return found
}

func (s *Store) idDir(id string) string {
	return filepath.Join(s.root, strings.ToLower(id))
}

// lookupVersionDir finds the stored directory name for a version,
// tolerating case differences. Callers must hold the lock.
func (s *Store) lookupVersionDir(id, version string) (string, bool) {
	names, err := s.readVersionNames(id)
	if err != nil {
		return "", false
	}
	for _, name := range names {
		if name == version {
			return name, true
		}
	}
	for _, name := range names {
		if strings.EqualFold(name, version) {
			return name, true
		}
	}
	return "", false
}

// readVersionNames lists the version directories of id. Callers must hold
// the lock.
func (s *Store) readVersionNames(id string) ([]string, error) {
	if !idPattern.MatchString(id) {
		return nil, nil
	}
	entries, err := os.ReadDir(s.idDir(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.NewAppError(apperrors.CodeInternalError, "failed to list package versions", err)
	}
	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			versions = append(versions, e.Name())
		}
	}
	return versions, nil
}

// resolveVersion maps id/version to the on-disk directory, case-insensitive
// on the version. Callers must hold the lock.
func (s *Store) resolveVersion(id, version string) (dir, actual string, err error) {
	if !idPattern.MatchString(id) || !versionPattern.MatchString(version) {
		return "", "", notFound(id, version)
	}
	actual, found := s.lookupVersionDir(id, version)
	if !found {
		return "", "", notFound(id, version)
	}
	return filepath.Join(s.idDir(id), actual), actual, nil
}

func (s *Store) writeArtifacts(id, version string, archive, manifestRaw, iconBytes []byte, iconExt string) error {
	dir := filepath.Join(s.idDir(id), version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.NewAppError(apperrors.CodeInternalError, "failed to create package directory", err)
	}

	write := func(name string, data []byte) error {
		return os.WriteFile(filepath.Join(dir, name), data, 0o644)
	}

	err := write(archiveName(id, version), archive)
	if err == nil {
		err = write(manifestName(id), manifestRaw)
	}
	if err == nil && len(iconBytes) > 0 {
		err = write("icon"+iconExt, iconBytes)
	}
	if err != nil {
		// Do not leave a half-written version behind.
		_ = os.RemoveAll(dir)
		return apperrors.NewAppError(apperrors.CodeInternalError, "failed to store package", err)
	}
	return nil
}

func archiveName(id, version string) string {
	return strings.ToLower(id) + "." + version + ".nupkg"
}

func manifestName(id string) string {
	return strings.ToLower(id) + ".nuspec"
}

func notFound(id, version string) error {
	return apperrors.NewAppErrorf(apperrors.CodeNotFound, nil, "package %s %s not found", id, version)
}

// readRootManifest locates and reads the single root-level manifest entry.
func readRootManifest(zr *zip.Reader) ([]byte, error) {
	for _, f := range zr.File {
		name := strings.ReplaceAll(f.Name, `\`, "/")
		if strings.Contains(name, "/") {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(name), ".nuspec") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, apperrors.NewAppError(apperrors.CodeBadRequest, "package manifest is unreadable", err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, apperrors.NewAppError(apperrors.CodeBadRequest, "package manifest is unreadable", err)
		}
		return data, nil
	}
	return nil, apperrors.NewAppError(apperrors.CodeBadRequest, "package has no manifest", nil)
}

// extractIcon pulls the icon entry the manifest references, if present.
// A missing or unreadable icon never fails a publish.
func extractIcon(zr *zip.Reader, iconPath string) ([]byte, string) {
	if iconPath == "" {
		return nil, ""
	}
	for _, f := range zr.File {
		name := strings.ReplaceAll(f.Name, `\`, "/")
		if !strings.EqualFold(name, iconPath) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, ""
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, ""
		}
		ext := strings.ToLower(filepath.Ext(iconPath))
		if _, ok := iconContentTypes[ext]; !ok {
			ext = ".png"
		}
		return data, ext
	}
	return nil, ""
}
