package feed

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugetd/nugetd/internal/config"
	"github.com/nugetd/nugetd/internal/store"
	apperrors "github.com/nugetd/nugetd/pkg/errors"
)

const testBase = "http://feed.test"

func makeArchive(t *testing.T, id, version, description string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	manifest := fmt.Sprintf(`<?xml version="1.0"?>
<package><metadata><id>%s</id><version>%s</version><authors>Contoso, Fabrikam</authors><description>%s</description>
<dependencies><group targetFramework="net6.0"><dependency id="Newtonsoft.Json" version="[13.0.1, )"/></group></dependencies>
</metadata></package>`, id, version, description)

	f, err := w.Create(id + ".nuspec")
	require.NoError(t, err)
	_, err = f.Write([]byte(manifest))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newTestFeed(t *testing.T, missingMode string, packages ...[3]string) (*Service, *store.Store) {
	t.Helper()
	st, err := store.New(store.Options{
		Root:   t.TempDir(),
		Policy: store.PolicyError,
		Logger: logrus.New(),
	})
	require.NoError(t, err)

	ctx := context.Background()
	for _, p := range packages {
		_, err := st.Publish(ctx, makeArchive(t, p[0], p[1], p[2]))
		require.NoError(t, err)
	}

	svc := NewService(Options{
		Store:              st,
		MissingPackageMode: missingMode,
		DefaultTake:        20,
		MaxTake:            100,
		Logger:             logrus.New(),
	})
	return svc, st
}

// TestServiceIndex tests the discovery document resources and caching
func TestServiceIndex(t *testing.T) {
	svc, _ := newTestFeed(t, config.MissingNotFound)

	idx := svc.ServiceIndex(testBase)
	assert.Equal(t, "3.0.0", idx.Version)

	byType := map[string]string{}
	for _, r := range idx.Resources {
		byType[r.Type] = r.ID
	}
	assert.Equal(t, testBase+"/v3/search", byType["SearchQueryService"])
	assert.Equal(t, testBase+"/v3/search", byType["SearchQueryService/3.0.0-rc"])
	assert.Equal(t, testBase+"/v3/registrations/", byType["RegistrationsBaseUrl"])
	assert.Equal(t, testBase+"/v3/registrations/", byType["RegistrationsBaseUrl/3.6.0"])
	assert.Equal(t, testBase+"/v3/package-base/", byType["PackageBaseAddress/3.0.0"])
	assert.Equal(t, testBase+"/api/publish", byType["PackagePublish/2.0.0"])

	// Same base returns the cached document
	assert.Same(t, idx, svc.ServiceIndex(testBase))
	assert.NotSame(t, idx, svc.ServiceIndex("http://other.test"))
}

// TestBase tests the configured base URL override
func TestBase(t *testing.T) {
	svc, _ := newTestFeed(t, config.MissingNotFound)
	assert.Equal(t, "http://from.request", svc.Base("http://from.request/"))

	fixed := NewService(Options{Store: nil, BaseURL: "https://feed.example.com/"})
	assert.Equal(t, "https://feed.example.com", fixed.Base("http://from.request"))
}

// TestSearch tests matching, latest-version selection and ordering
func TestSearch(t *testing.T) {
	svc, _ := newTestFeed(t, config.MissingNotFound,
		[3]string{"Alpha.Lib", "1.0.0", "first library"},
		[3]string{"Alpha.Lib", "2.0.0-beta", "first library"},
		[3]string{"Alpha.Lib", "1.5.0", "first library"},
		[3]string{"Beta.Tool", "3.1.0", "a tool for things"},
	)

	resp, err := svc.Search(testBase, "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.TotalHits)
	require.Len(t, resp.Data, 2)

	alpha := resp.Data[0]
	assert.Equal(t, "Alpha.Lib", alpha.ID)
	assert.Equal(t, "2.0.0-beta", alpha.Version, "latest by precedence, prerelease above older stables")
	assert.Equal(t, testBase+"/v3/registrations/alpha.lib/index.json", alpha.Registration)
	assert.Equal(t, []string{"Contoso", "Fabrikam"}, alpha.Authors)
	require.Len(t, alpha.Versions, 3)
	assert.Equal(t, "1.0.0", alpha.Versions[0].Version)
	assert.Equal(t, "1.5.0", alpha.Versions[1].Version)
	assert.Equal(t, "2.0.0-beta", alpha.Versions[2].Version)

	assert.Equal(t, "Beta.Tool", resp.Data[1].ID)
}

// TestSearch_Query tests id and description substring matching
func TestSearch_Query(t *testing.T) {
	svc, _ := newTestFeed(t, config.MissingNotFound,
		[3]string{"Alpha.Lib", "1.0.0", "first library"},
		[3]string{"Beta.Tool", "3.1.0", "a tool for things"},
	)

	resp, err := svc.Search(testBase, "ALPHA", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalHits)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "Alpha.Lib", resp.Data[0].ID)

	// Description match
	resp, err = svc.Search(testBase, "for things", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalHits)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "Beta.Tool", resp.Data[0].ID)

	resp, err = svc.Search(testBase, "no-such-package", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.TotalHits)
	assert.NotNil(t, resp.Data)
	assert.Empty(t, resp.Data)
}

// TestSearch_Paging tests skip/take windows against the full hit count
func TestSearch_Paging(t *testing.T) {
	packages := make([][3]string, 0, 5)
	for i := 1; i <= 5; i++ {
		packages = append(packages, [3]string{fmt.Sprintf("Pkg.N%d", i), "1.0.0", "numbered"})
	}
	svc, _ := newTestFeed(t, config.MissingNotFound, packages...)

	resp, err := svc.Search(testBase, "", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, resp.TotalHits, "totalHits counts all matches, not the page")
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "Pkg.N1", resp.Data[0].ID)
	assert.Equal(t, "Pkg.N2", resp.Data[1].ID)

	resp, err = svc.Search(testBase, "", 4, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, resp.TotalHits)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "Pkg.N5", resp.Data[0].ID)

	// Skip past the end
	resp, err = svc.Search(testBase, "", 10, 2)
	require.NoError(t, err)
	assert.Empty(t, resp.Data)
}

// TestSearch_TakeCap tests that oversized take values are clamped
func TestSearch_TakeCap(t *testing.T) {
	packages := make([][3]string, 0, 5)
	for i := 1; i <= 5; i++ {
		packages = append(packages, [3]string{fmt.Sprintf("Cap.N%d", i), "1.0.0", "numbered"})
	}
	_, st := newTestFeed(t, config.MissingNotFound, packages...)

	capped := NewService(Options{Store: st, DefaultTake: 20, MaxTake: 3, Logger: logrus.New()})
	resp, err := capped.Search(testBase, "", 0, 50)
	require.NoError(t, err)
	assert.Equal(t, 5, resp.TotalHits)
	assert.Len(t, resp.Data, 3)
}

// TestRegistration tests the single-page catalog document
func TestRegistration(t *testing.T) {
	svc, _ := newTestFeed(t, config.MissingNotFound,
		[3]string{"Gamma.Core", "2.0.0", "core bits"},
		[3]string{"Gamma.Core", "1.0.0", "core bits"},
		[3]string{"Gamma.Core", "2.1.0-rc", "core bits"},
	)

	reg, err := svc.Registration(testBase, "Gamma.Core")
	require.NoError(t, err)
	assert.Equal(t, testBase+"/v3/registrations/gamma.core/index.json", reg.ID)
	assert.Equal(t, 1, reg.Count)
	require.Len(t, reg.Items, 1)

	page := reg.Items[0]
	assert.Equal(t, 3, page.Count)
	assert.Equal(t, "1.0.0", page.Lower)
	assert.Equal(t, "2.1.0-rc", page.Upper)
	require.Len(t, page.Items, 3)

	// Ascending by precedence
	assert.Equal(t, "1.0.0", page.Items[0].CatalogEntry.Version)
	assert.Equal(t, "2.0.0", page.Items[1].CatalogEntry.Version)
	assert.Equal(t, "2.1.0-rc", page.Items[2].CatalogEntry.Version)

	leaf := page.Items[1]
	assert.Equal(t, "Gamma.Core", leaf.CatalogEntry.PackageID)
	assert.Equal(t, "core bits", leaf.CatalogEntry.Description)
	assert.Equal(t, "Contoso, Fabrikam", leaf.CatalogEntry.Authors)
	assert.True(t, leaf.CatalogEntry.Listed)
	assert.Equal(t,
		testBase+"/v3/package-base/gamma.core/2.0.0/gamma.core.2.0.0.nupkg",
		leaf.PackageContent)
	assert.Equal(t, leaf.PackageContent, leaf.CatalogEntry.PackageContent)

	require.Len(t, leaf.CatalogEntry.DependencyGroups, 1)
	group := leaf.CatalogEntry.DependencyGroups[0]
	assert.Equal(t, "net6.0", group.TargetFramework)
	require.Len(t, group.Dependencies, 1)
	assert.Equal(t, "Newtonsoft.Json", group.Dependencies[0].ID)
	assert.Equal(t, "[13.0.1, )", group.Dependencies[0].Range)
}

// TestRegistration_MissingModes tests unknown ids under both modes
func TestRegistration_MissingModes(t *testing.T) {
	notFound, _ := newTestFeed(t, config.MissingNotFound)
	_, err := notFound.Registration(testBase, "Ghost.Pkg")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	emptyArr, _ := newTestFeed(t, config.MissingEmptyArray)
	reg, err := emptyArr.Registration(testBase, "Ghost.Pkg")
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Count)
	assert.NotNil(t, reg.Items)
	assert.Empty(t, reg.Items)
}

// TestVersions tests the flat-container listing under both modes
func TestVersions(t *testing.T) {
	svc, _ := newTestFeed(t, config.MissingNotFound,
		[3]string{"Delta.Pkg", "1.0.0", "d"},
		[3]string{"Delta.Pkg", "0.9.0", "d"},
		[3]string{"Delta.Pkg", "1.0.0-alpha", "d"},
	)

	list, err := svc.Versions("delta.pkg")
	require.NoError(t, err)
	assert.Equal(t, []string{"0.9.0", "1.0.0-alpha", "1.0.0"}, list.Versions)

	_, err = svc.Versions("Ghost.Pkg")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	emptyArr, _ := newTestFeed(t, config.MissingEmptyArray)
	list, err = emptyArr.Versions("Ghost.Pkg")
	require.NoError(t, err)
	assert.NotNil(t, list.Versions)
	assert.Empty(t, list.Versions)
}
