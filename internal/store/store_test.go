package store

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/nugetd/nugetd/pkg/errors"
)

type pkgSpec struct {
	id          string
	version     string
	description string
	iconEntry   string // archive path of the icon, also referenced by the manifest
	extra       string // extra file content, to vary archive bytes
}

func makePackage(t *testing.T, p pkgSpec) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	iconTag := ""
	if p.iconEntry != "" {
		iconTag = fmt.Sprintf("<icon>%s</icon>", p.iconEntry)
	}
	manifest := fmt.Sprintf(`<?xml version="1.0"?>
<package><metadata><id>%s</id><version>%s</version><description>%s</description>%s</metadata></package>`,
		p.id, p.version, p.description, iconTag)

	f, err := w.Create(p.id + ".nuspec")
	require.NoError(t, err)
	_, err = f.Write([]byte(manifest))
	require.NoError(t, err)

	if p.iconEntry != "" {
		f, err = w.Create(p.iconEntry)
		require.NoError(t, err)
		_, err = f.Write([]byte("\x89PNG-not-really"))
		require.NoError(t, err)
	}

	if p.extra != "" {
		f, err = w.Create("lib/net6.0/payload.txt")
		require.NoError(t, err)
		_, err = f.Write([]byte(p.extra))
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newTestStore(t *testing.T, policy Policy, maxBytes int64) *Store {
	t.Helper()
	s, err := New(Options{
		Root:     t.TempDir(),
		MaxBytes: maxBytes,
		Policy:   policy,
		Logger:   logrus.New(),
	})
	require.NoError(t, err)
	return s
}

// TestPublish_RoundTrip tests that a published archive downloads byte-identical
func TestPublish_RoundTrip(t *testing.T) {
	s := newTestStore(t, PolicyError, 0)
	ctx := context.Background()

	archive := makePackage(t, pkgSpec{id: "Contoso.Utils", version: "1.2.3", description: "helpers", extra: "one"})

	result, err := s.Publish(ctx, archive)
	require.NoError(t, err)
	assert.Equal(t, "Contoso.Utils", result.ID)
	assert.Equal(t, "1.2.3", result.Version)
	assert.Equal(t, ActionCreated, result.Action)

	got, err := s.ReadArchive("Contoso.Utils", "1.2.3")
	require.NoError(t, err)
	assert.Equal(t, archive, got, "downloaded bytes must match the upload")

	// Lookups are case-insensitive
	got, err = s.ReadArchive("contoso.utils", "1.2.3")
	require.NoError(t, err)
	assert.Equal(t, archive, got)

	m, err := s.ReadManifest("contoso.utils", "1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "helpers", m.Metadata.Description)

	assert.True(t, s.Exists("CONTOSO.UTILS", "1.2.3"))
	assert.False(t, s.Exists("Contoso.Utils", "9.9.9"))
}

// TestPublish_DuplicatePolicies tests the overwrite/ignore/error matrix
func TestPublish_DuplicatePolicies(t *testing.T) {
	ctx := context.Background()
	first := makePackage(t, pkgSpec{id: "Dup.Pkg", version: "1.0.0", extra: "original"})
	second := makePackage(t, pkgSpec{id: "Dup.Pkg", version: "1.0.0", extra: "replacement"})
	require.NotEqual(t, first, second)

	// ignore: succeeds without touching the original
	s := newTestStore(t, PolicyIgnore, 0)
	_, err := s.Publish(ctx, first)
	require.NoError(t, err)
	result, err := s.Publish(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, ActionIgnored, result.Action)
	got, err := s.ReadArchive("Dup.Pkg", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, first, got, "ignored republish must leave the original bytes")

	// overwrite: replaces the bytes
	s = newTestStore(t, PolicyOverwrite, 0)
	_, err = s.Publish(ctx, first)
	require.NoError(t, err)
	result, err = s.Publish(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, ActionOverwritten, result.Action)
	got, err = s.ReadArchive("Dup.Pkg", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, second, got)

	// error: conflict, original untouched
	s = newTestStore(t, PolicyError, 0)
	_, err = s.Publish(ctx, first)
	require.NoError(t, err)
	_, err = s.Publish(ctx, second)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))
	got, err = s.ReadArchive("Dup.Pkg", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

// TestPublish_SizeCeiling tests the upload size limit
func TestPublish_SizeCeiling(t *testing.T) {
	s := newTestStore(t, PolicyIgnore, 200)
	archive := makePackage(t, pkgSpec{id: "Big.Pkg", version: "1.0.0", extra: "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"})
	require.Greater(t, len(archive), 200)

	_, err := s.Publish(context.Background(), archive)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodePayloadTooLarge, apperrors.CodeOf(err))
}

// TestPublish_BadArchives tests upload validation
func TestPublish_BadArchives(t *testing.T) {
	s := newTestStore(t, PolicyIgnore, 0)
	ctx := context.Background()

	_, err := s.Publish(ctx, nil)
	assert.Equal(t, apperrors.CodeBadRequest, apperrors.CodeOf(err))

	_, err = s.Publish(ctx, []byte("this is not a zip"))
	assert.Equal(t, apperrors.CodeBadRequest, apperrors.CodeOf(err))

	// Zip without a manifest
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("readme.txt")
	require.NoError(t, err)
	_, _ = f.Write([]byte("hi"))
	require.NoError(t, w.Close())
	_, err = s.Publish(ctx, buf.Bytes())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeBadRequest, apperrors.CodeOf(err))

	// Manifest with a version that does not parse
	_, err = s.Publish(ctx, makePackage(t, pkgSpec{id: "Bad.Version", version: "one.two"}))
	assert.Equal(t, apperrors.CodeBadRequest, apperrors.CodeOf(err))

	// Manifest with an illegal id
	_, err = s.Publish(ctx, makePackage(t, pkgSpec{id: "bad id!", version: "1.0.0"}))
	assert.Equal(t, apperrors.CodeBadRequest, apperrors.CodeOf(err))
}

// TestIconExtraction tests icon storage and retrieval
func TestIconExtraction(t *testing.T) {
	s := newTestStore(t, PolicyIgnore, 0)
	ctx := context.Background()

	_, err := s.Publish(ctx, makePackage(t, pkgSpec{id: "Icon.Pkg", version: "2.0.0", iconEntry: "images/icon.png"}))
	require.NoError(t, err)

	data, contentType, err := s.ReadIcon("icon.pkg", "2.0.0")
	require.NoError(t, err)
	assert.Equal(t, "image/png", contentType)
	assert.NotEmpty(t, data)

	// No icon published
	_, err = s.Publish(ctx, makePackage(t, pkgSpec{id: "Plain.Pkg", version: "1.0.0"}))
	require.NoError(t, err)
	_, _, err = s.ReadIcon("plain.pkg", "1.0.0")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

// TestDelete tests deletion and its idempotency
func TestDelete(t *testing.T) {
	s := newTestStore(t, PolicyIgnore, 0)
	ctx := context.Background()

	_, err := s.Publish(ctx, makePackage(t, pkgSpec{id: "Del.Pkg", version: "1.0.0"}))
	require.NoError(t, err)
	_, err = s.Publish(ctx, makePackage(t, pkgSpec{id: "Del.Pkg", version: "1.1.0"}))
	require.NoError(t, err)

	versions, err := s.ListVersions("del.pkg")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1.0.0", "1.1.0"}, versions)

	require.NoError(t, s.Delete("Del.Pkg", "1.0.0"))
	versions, err = s.ListVersions("del.pkg")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.0"}, versions)

	// Deleting the same version again is a no-op
	require.NoError(t, s.Delete("Del.Pkg", "1.0.0"))

	// Unknown id is also a no-op
	require.NoError(t, s.Delete("Never.Existed", "1.0.0"))

	// Removing the last version drops the id entirely
	require.NoError(t, s.Delete("del.pkg", "1.1.0"))
	ids, err := s.ListIDs()
	require.NoError(t, err)
	assert.NotContains(t, ids, "del.pkg")
}

// TestListVersions_Unknown tests that unknown ids list as empty
func TestListVersions_Unknown(t *testing.T) {
	s := newTestStore(t, PolicyIgnore, 0)
	versions, err := s.ListVersions("ghost")
	require.NoError(t, err)
	assert.Empty(t, versions)
}
