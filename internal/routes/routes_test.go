package routes

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugetd/nugetd/internal/config"
	"github.com/nugetd/nugetd/internal/feed"
	"github.com/nugetd/nugetd/internal/middleware"
	"github.com/nugetd/nugetd/internal/models"
	"github.com/nugetd/nugetd/internal/store"
	"github.com/nugetd/nugetd/internal/users"
)

type testServer struct {
	app   *fiber.App
	users *users.Service
	store *store.Store
}

func testConfig(t *testing.T, authMode string) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Name: "nugetd", Port: "8080"},
		Storage: config.StorageConfig{
			DataDir:         t.TempDir(),
			MaxPackageBytes: 10 << 20,
			DuplicatePolicy: config.DuplicateError,
		},
		Feed: config.FeedConfig{
			MissingPackageMode: config.MissingNotFound,
			DefaultTake:        20,
			MaxTake:            100,
		},
		Auth: config.AuthConfig{
			Mode:  authMode,
			Realm: "nugetd",
			// Delays are covered by the tracker tests; route tests
			// must not sleep.
			DisableFailureTracking: true,
			FailureDelaysMS:        []int{0},
		},
		Session: config.SessionConfig{
			Backend:    config.SessionBackendMemory,
			TTL:        time.Hour,
			CookieName: "nugetd_session",
		},
		Observability: config.ObservabilityConfig{MetricsPath: "/metrics"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	userSvc, err := users.NewService(users.Options{
		Path:                 cfg.Storage.UsersFilePath(),
		DisableStrengthCheck: true,
		Logger:               logger,
	})
	require.NoError(t, err)

	packageStore, err := store.New(store.Options{
		Root:     cfg.Storage.PackagesPath(),
		MaxBytes: cfg.Storage.MaxPackageBytes,
		Policy:   store.Policy(cfg.Storage.DuplicatePolicy),
		Logger:   logger,
	})
	require.NoError(t, err)

	feedSvc := feed.NewService(feed.Options{
		Store:              packageStore,
		MissingPackageMode: cfg.Feed.MissingPackageMode,
		DefaultTake:        cfg.Feed.DefaultTake,
		MaxTake:            cfg.Feed.MaxTake,
		Logger:             logger,
	})

	mw, err := middleware.NewManager(cfg, userSvc, logger)
	require.NoError(t, err)
	t.Cleanup(func() { mw.Close() })

	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler(logger),
	})
	Setup(app, cfg, logger, mw, packageStore, feedSvc, userSvc)

	return &testServer{app: app, users: userSvc, store: packageStore}
}

func makeNupkg(t *testing.T, id, version string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create(id + ".nuspec")
	require.NoError(t, err)
	manifest := fmt.Sprintf(`<?xml version="1.0"?>
<package><metadata><id>%s</id><version>%s</version><description>test package</description></metadata></package>`, id, version)
	_, err = f.Write([]byte(manifest))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func basicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func (ts *testServer) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (ts *testServer) publish(t *testing.T, archive []byte, authorization string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/publish", bytes.NewReader(archive))
	req.Header.Set("Content-Type", "application/octet-stream")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	return ts.do(t, req)
}

func (ts *testServer) login(t *testing.T, username, password string) (*http.Response, string) {
	t.Helper()
	body, _ := json.Marshal(models.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := ts.do(t, req)

	cookie := ""
	for _, c := range resp.Cookies() {
		if c.Name == "nugetd_session" && c.Value != "" {
			cookie = c.Value
		}
	}
	return resp, cookie
}

func decodeJSON(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

// TestAuthModeNone tests that every route is open without credentials
func TestAuthModeNone(t *testing.T) {
	ts := newTestServer(t, testConfig(t, config.AuthModeNone))

	resp := ts.publish(t, makeNupkg(t, "Open.Pkg", "1.0.0"), "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, httptest.NewRequest(http.MethodGet, "/v3/search", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req := httptest.NewRequest(http.MethodDelete, "/api/package/open.pkg/1.0.0", nil)
	resp = ts.do(t, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestAuthModePublish tests that reads stay open while publish needs a role
func TestAuthModePublish(t *testing.T) {
	ts := newTestServer(t, testConfig(t, config.AuthModePublish))

	_, apiPass, err := ts.users.CreateUser("publisher", "hunter22", models.RolePublish)
	require.NoError(t, err)
	_, readPass, err := ts.users.CreateUser("reader", "hunter22", models.RoleRead)
	require.NoError(t, err)

	// Unauthenticated publish is rejected with the Basic challenge.
	resp := ts.publish(t, makeNupkg(t, "Gated.Pkg", "1.0.0"), "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), `realm="nugetd"`)

	// A read-role user is authenticated but under-privileged.
	resp = ts.publish(t, makeNupkg(t, "Gated.Pkg", "1.0.0"), basicAuth("reader", readPass))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Wrong API password is a uniform 401.
	resp = ts.publish(t, makeNupkg(t, "Gated.Pkg", "1.0.0"), basicAuth("publisher", "wrong"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.publish(t, makeNupkg(t, "Gated.Pkg", "1.0.0"), basicAuth("publisher", apiPass))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// Reads, search and the service index stay open.
	for _, path := range []string{
		"/v3/index.json",
		"/v3/search?q=gated",
		"/v3/registrations/gated.pkg/index.json",
		"/v3/package-base/gated.pkg/index.json",
		"/v3/package-base/gated.pkg/1.0.0/gated.pkg.1.0.0.nupkg",
		"/api/ui/icon/gated.pkg/1.0.0", // 404 without auth, not 401
	} {
		resp = ts.do(t, httptest.NewRequest(http.MethodGet, path, nil))
		assert.NotEqual(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

// TestAuthModeFull tests that everything except login and the config probe
// requires credentials
func TestAuthModeFull(t *testing.T) {
	ts := newTestServer(t, testConfig(t, config.AuthModeFull))

	_, apiPass, err := ts.users.CreateUser("reader", "hunter22", models.RoleRead)
	require.NoError(t, err)

	for _, path := range []string{"/v3/index.json", "/v3/search", "/v3/registrations/x/index.json"} {
		resp := ts.do(t, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}

	// Login and the config probe stay public.
	resp, _ := ts.login(t, "nobody", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/ui/config", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Basic credentials open the reads back up.
	req := httptest.NewRequest(http.MethodGet, "/v3/index.json", nil)
	req.Header.Set("Authorization", basicAuth("reader", apiPass))
	resp = ts.do(t, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestMissingPackageModes tests the empty-array vs not-found pair
func TestMissingPackageModes(t *testing.T) {
	t.Run("empty-array", func(t *testing.T) {
		cfg := testConfig(t, config.AuthModeNone)
		cfg.Feed.MissingPackageMode = config.MissingEmptyArray
		ts := newTestServer(t, cfg)

		resp := ts.do(t, httptest.NewRequest(http.MethodGet, "/v3/package-base/unknown/index.json", nil))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var list models.VersionList
		decodeJSON(t, resp, &list)
		assert.Empty(t, list.Versions)

		resp = ts.do(t, httptest.NewRequest(http.MethodGet, "/v3/registrations/unknown/index.json", nil))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var reg models.RegistrationIndex
		decodeJSON(t, resp, &reg)
		assert.Zero(t, reg.Count)

		// Binary misses terminate regardless of mode.
		resp = ts.do(t, httptest.NewRequest(http.MethodGet, "/v3/package-base/unknown/1.0.0/unknown.1.0.0.nupkg", nil))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("not-found", func(t *testing.T) {
		ts := newTestServer(t, testConfig(t, config.AuthModeNone))

		resp := ts.do(t, httptest.NewRequest(http.MethodGet, "/v3/package-base/unknown/index.json", nil))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp = ts.do(t, httptest.NewRequest(http.MethodGet, "/v3/registrations/unknown/index.json", nil))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

// TestPublishStatuses tests the publish endpoint's error statuses
func TestPublishStatuses(t *testing.T) {
	cfg := testConfig(t, config.AuthModeNone)
	cfg.Storage.MaxPackageBytes = 4096
	ts := newTestServer(t, cfg)

	archive := makeNupkg(t, "Dup.Pkg", "1.0.0")
	resp := ts.publish(t, archive, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var pub models.PublishResponse
	decodeJSON(t, resp, &pub)
	assert.Equal(t, "Dup.Pkg", pub.ID)
	assert.Equal(t, "1.0.0", pub.Version)

	// policy=error duplicate
	resp = ts.publish(t, archive, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// garbage body
	resp = ts.publish(t, []byte("not a zip"), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// oversize body
	resp = ts.publish(t, bytes.Repeat([]byte{0}, 8192), "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

// TestDownloadRoundTrip tests publish then byte-identical download
func TestDownloadRoundTrip(t *testing.T) {
	ts := newTestServer(t, testConfig(t, config.AuthModeNone))

	archive := makeNupkg(t, "Round.Trip", "2.0.0-beta")
	resp := ts.publish(t, archive, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, httptest.NewRequest(http.MethodGet, "/v3/package-base/round.trip/2.0.0-beta/round.trip.2.0.0-beta.nupkg", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, archive, body)

	// A filename not matching the id/version pair does not exist.
	resp = ts.do(t, httptest.NewRequest(http.MethodGet, "/v3/package-base/round.trip/2.0.0-beta/other.nupkg", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestUIConfig tests the public probe's shape in and out of a session
func TestUIConfig(t *testing.T) {
	ts := newTestServer(t, testConfig(t, config.AuthModeFull))
	_, _, err := ts.users.CreateUser("alice", "hunter22", models.RoleAdmin)
	require.NoError(t, err)

	resp := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/ui/config", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var probe models.UIConfigResponse
	decodeJSON(t, resp, &probe)
	assert.Equal(t, "nugetd", probe.Realm)
	assert.Equal(t, config.AuthModeFull, probe.AuthMode)
	assert.True(t, probe.AuthEnabled.General)
	assert.True(t, probe.AuthEnabled.Publish)
	assert.True(t, probe.AuthEnabled.Admin)
	assert.Nil(t, probe.CurrentUser)

	loginResp, cookie := ts.login(t, "alice", "hunter22")
	require.Equal(t, http.StatusOK, loginResp.StatusCode)
	require.NotEmpty(t, cookie)

	req := httptest.NewRequest(http.MethodPost, "/api/ui/config", nil)
	req.AddCookie(&http.Cookie{Name: "nugetd_session", Value: cookie})
	resp = ts.do(t, req)
	decodeJSON(t, resp, &probe)
	require.NotNil(t, probe.CurrentUser)
	assert.Equal(t, "alice", probe.CurrentUser.Username)
	assert.Equal(t, models.RoleAdmin, probe.CurrentUser.Role)
}

// TestUserAdminRoutes tests the admin user-management actions
func TestUserAdminRoutes(t *testing.T) {
	ts := newTestServer(t, testConfig(t, config.AuthModeFull))
	_, _, err := ts.users.CreateUser("root", "hunter22", models.RoleAdmin)
	require.NoError(t, err)
	_, _, err = ts.users.CreateUser("bob", "hunter22", models.RolePublish)
	require.NoError(t, err)

	_, adminCookie := ts.login(t, "root", "hunter22")
	require.NotEmpty(t, adminCookie)
	_, bobCookie := ts.login(t, "bob", "hunter22")
	require.NotEmpty(t, bobCookie)

	post := func(cookie string, body interface{}) *http.Response {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/api/ui/users", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.AddCookie(&http.Cookie{Name: "nugetd_session", Value: cookie})
		return ts.do(t, req)
	}

	// Non-admin role is rejected.
	resp := post(bobCookie, models.UserActionRequest{Action: "list"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// create returns the one-time API password.
	resp = post(adminCookie, models.UserActionRequest{Action: "create", Username: "carol", Password: "hunter22", Role: "read"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.UserCreateResponse
	decodeJSON(t, resp, &created)
	assert.Equal(t, "carol", created.User.Username)
	assert.NotEmpty(t, created.APIPassword)

	resp = post(adminCookie, models.UserActionRequest{Action: "list"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list models.UserListResponse
	decodeJSON(t, resp, &list)
	assert.Len(t, list.Users, 3)

	resp = post(adminCookie, models.UserActionRequest{Action: "delete", Username: "carol"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Admins cannot delete themselves.
	resp = post(adminCookie, models.UserActionRequest{Action: "delete", Username: "root"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestAPIPasswordRoutes tests credential self-management over a session
func TestAPIPasswordRoutes(t *testing.T) {
	ts := newTestServer(t, testConfig(t, config.AuthModePublish))
	_, _, err := ts.users.CreateUser("dana", "hunter22", models.RolePublish)
	require.NoError(t, err)

	// Requires an identity even though the publish mode leaves reads open.
	resp := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/ui/apipassword", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, cookie := ts.login(t, "dana", "hunter22")
	require.NotEmpty(t, cookie)

	post := func(body interface{}) *http.Response {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/api/ui/apipassword", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.AddCookie(&http.Cookie{Name: "nugetd_session", Value: cookie})
		return ts.do(t, req)
	}

	resp = post(models.APIPasswordActionRequest{Action: "add", Label: "ci"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var added models.APIPasswordAddResponse
	decodeJSON(t, resp, &added)
	require.NotEmpty(t, added.APIPassword)

	// The fresh credential authenticates a publish.
	pub := ts.publish(t, makeNupkg(t, "Dana.Pkg", "1.0.0"), basicAuth("dana", added.APIPassword))
	assert.Equal(t, http.StatusCreated, pub.StatusCode)

	resp = post(models.APIPasswordActionRequest{Action: "list"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed models.APIPasswordListResponse
	decodeJSON(t, resp, &listed)
	require.Len(t, listed.APIPasswords, 2)
	assert.Equal(t, "ci", listed.APIPasswords[0].Label) // newest first

	resp = post(models.APIPasswordActionRequest{Action: "delete", Label: "ci"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The deleted credential no longer authenticates.
	pub = ts.publish(t, makeNupkg(t, "Dana.Pkg", "2.0.0"), basicAuth("dana", added.APIPassword))
	assert.Equal(t, http.StatusUnauthorized, pub.StatusCode)
}

// TestLogout tests that the session dies with the cookie
func TestLogout(t *testing.T) {
	ts := newTestServer(t, testConfig(t, config.AuthModeFull))
	_, _, err := ts.users.CreateUser("erin", "hunter22", models.RoleRead)
	require.NoError(t, err)

	_, cookie := ts.login(t, "erin", "hunter22")
	require.NotEmpty(t, cookie)

	req := httptest.NewRequest(http.MethodGet, "/v3/index.json", nil)
	req.AddCookie(&http.Cookie{Name: "nugetd_session", Value: cookie})
	resp := ts.do(t, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "nugetd_session", Value: cookie})
	resp = ts.do(t, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/v3/index.json", nil)
	req.AddCookie(&http.Cookie{Name: "nugetd_session", Value: cookie})
	resp = ts.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// TestErrorEnvelope tests the JSON error shape
func TestErrorEnvelope(t *testing.T) {
	ts := newTestServer(t, testConfig(t, config.AuthModeNone))

	resp := ts.do(t, httptest.NewRequest(http.MethodGet, "/v3/registrations/unknown/index.json", nil))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeJSON(t, resp, &envelope)
	assert.Equal(t, "NOT_FOUND", envelope.Error.Code)
	assert.True(t, strings.Contains(envelope.Error.Message, "not found"))
}
