package middleware

import (
	"encoding/base64"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/nugetd/nugetd/internal/auth"
	"github.com/nugetd/nugetd/internal/config"
	"github.com/nugetd/nugetd/internal/metrics"
	"github.com/nugetd/nugetd/internal/models"
	"github.com/nugetd/nugetd/internal/session"
	"github.com/nugetd/nugetd/internal/users"
	apperrors "github.com/nugetd/nugetd/pkg/errors"
)

const localUserKey = "auth_user"

// GateOptions configures a Gate.
type GateOptions struct {
	Mode              string
	Realm             string
	CookieName        string
	TrustProxyHeaders bool

	Users    *users.Service
	Sessions session.Store
	Tracker  *auth.Tracker
	Logger   *logrus.Logger
}

// Gate is the auth state machine in front of the API. The configured mode
// decides which routes are enforced: none opens everything, publish gates
// only routes needing the publish role or above, full gates every route
// except login and the UI config probe.
type Gate struct {
	mode       string
	realm      string
	cookieName string
	trustProxy bool

	users    *users.Service
	sessions session.Store
	tracker  *auth.Tracker
	logger   *logrus.Logger
}

// NewGate creates the auth gate.
func NewGate(opts GateOptions) *Gate {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	cookie := opts.CookieName
	if cookie == "" {
		cookie = "nugetd_session"
	}
	return &Gate{
		mode:       opts.Mode,
		realm:      opts.Realm,
		cookieName: cookie,
		trustProxy: opts.TrustProxyHeaders,
		users:      opts.Users,
		sessions:   opts.Sessions,
		tracker:    opts.Tracker,
		logger:     logger,
	}
}

// Mode returns the configured auth mode.
func (g *Gate) Mode() string { return g.mode }

// Realm returns the Basic auth realm.
func (g *Gate) Realm() string { return g.realm }

// CookieName returns the session cookie name.
func (g *Gate) CookieName() string { return g.cookieName }

// Enabled reports which route classes currently require credentials.
func (g *Gate) Enabled() models.AuthEnabled {
	return models.AuthEnabled{
		General: g.mode == config.AuthModeFull,
		Publish: g.mode != config.AuthModeNone,
		Admin:   g.mode != config.AuthModeNone,
	}
}

// Resolve authenticates the request when it carries credentials: a session
// cookie first, then HTTP Basic against the user's API passwords. The
// resolved identity lands in the request locals so handlers and Require can
// read it. Requests without credentials pass through anonymous; requests
// with bad credentials are rejected after the failure delay, whatever the
// route.
func (g *Gate) Resolve() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token := c.Cookies(g.cookieName); token != "" {
			s, err := g.sessions.Get(c.Context(), token)
			if err != nil {
				g.logger.WithError(err).Error("Session lookup failed")
			} else if s != nil {
				u := s.User()
				c.Locals(localUserKey, &u)
				return c.Next()
			}
			// Stale cookie, fall through to Basic.
		}

		username, password, ok := basicCredentials(c)
		if !ok {
			return c.Next()
		}
		user, valid := g.users.ValidateAPIPassword(username, password)
		if !valid {
			g.punish(c, username)
			g.challenge(c)
			return apperrors.NewAppError(apperrors.CodeUnauthenticated, "invalid credentials", nil)
		}

		g.ClearFailures(c, username)
		c.Locals(localUserKey, &models.SessionUser{Username: user.Username, Role: user.Role})
		return c.Next()
	}
}

// Require gates a route behind a minimum role. Whether the gate actually
// enforces depends on the mode; once it does, missing credentials are 401
// with the Basic challenge and an authenticated but under-privileged user
// is 403.
func (g *Gate) Require(min models.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !g.enforced(min) {
			return c.Next()
		}
		return g.check(c, min)
	}
}

// RequireIdentity gates a route behind any authenticated identity,
// regardless of mode. Credential self-management acts on the current user,
// so there must be one even when the rest of the API is open.
func (g *Gate) RequireIdentity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return g.check(c, models.RoleRead)
	}
}

func (g *Gate) check(c *fiber.Ctx, min models.Role) error {
	user := CurrentUser(c)
	if user == nil {
		g.challenge(c)
		return apperrors.NewAppError(apperrors.CodeUnauthenticated, "authentication required", nil)
	}
	if !user.Role.AtLeast(min) {
		return apperrors.NewAppErrorf(apperrors.CodeForbidden, nil, "%s role required", min)
	}
	return c.Next()
}

// enforced maps the mode table onto a route's minimum role.
func (g *Gate) enforced(min models.Role) bool {
	switch g.mode {
	case config.AuthModeNone:
		return false
	case config.AuthModePublish:
		return min.AtLeast(models.RolePublish)
	default:
		return true
	}
}

// PunishLoginFailure records a failed interactive login and blocks for the
// progressive delay before the caller sends its uniform 401.
func (g *Gate) PunishLoginFailure(c *fiber.Ctx, username string) {
	g.punish(c, username)
}

// ClearFailures resets the failure history for the request's IP and the
// username after a successful credential check.
func (g *Gate) ClearFailures(c *fiber.Ctx, username string) {
	g.tracker.Clear(auth.IPKey(g.ClientIP(c)), auth.UserKey(username))
}

// punish increments the failure counters for the request's keys and waits
// out the matching delay. The wait suspends only this request.
func (g *Gate) punish(c *fiber.Ctx, username string) {
	ip := g.ClientIP(c)
	keys := []string{auth.IPKey(ip)}
	metrics.RecordAuthFailure("ip")
	if username != "" {
		keys = append(keys, auth.UserKey(username))
		metrics.RecordAuthFailure("user")
	}
	g.tracker.RecordFailure(keys...)

	g.logger.WithFields(logrus.Fields{
		"ip":       ip,
		"username": username,
		"failures": g.tracker.FailureCount(keys...),
	}).Warn("Credential check failed")

	wait := g.tracker.Delay(c.Context(), keys...)
	if wait > 0 {
		metrics.RecordAuthDelay(wait)
	}
}

// ClientIP returns the client address, honoring forwarding headers only
// when the server is configured behind a trusted proxy.
func (g *Gate) ClientIP(c *fiber.Ctx) string {
	if g.trustProxy {
		if fwd := c.Get(fiber.HeaderXForwardedFor); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
		if real := c.Get("X-Real-Ip"); real != "" {
			return real
		}
	}
	return c.IP()
}

func (g *Gate) challenge(c *fiber.Ctx) {
	c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="`+g.realm+`"`)
}

// CurrentUser returns the identity Resolve attached to the request, or nil
// for anonymous requests.
func CurrentUser(c *fiber.Ctx) *models.SessionUser {
	if u, ok := c.Locals(localUserKey).(*models.SessionUser); ok {
		return u
	}
	return nil
}

// basicCredentials decodes the Authorization header's Basic pair.
func basicCredentials(c *fiber.Ctx) (username, password string, ok bool) {
	header := c.Get(fiber.HeaderAuthorization)
	const prefix = "Basic "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	username, password, ok = strings.Cut(string(decoded), ":")
	return username, password, ok
}
