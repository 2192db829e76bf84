package middleware

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nugetd/nugetd/internal/auth"
	"github.com/nugetd/nugetd/internal/config"
	"github.com/nugetd/nugetd/internal/session"
	"github.com/nugetd/nugetd/internal/users"
)

// Manager holds the request-scoped infrastructure: the auth gate, the
// session store behind it, the failure tracker and the error logger. It is
// built once in main and injected into the routes, so tests can construct
// isolated instances.
type Manager struct {
	Gate        *Gate
	Sessions    session.Store
	Tracker     *auth.Tracker
	ErrorLogger *ErrorLoggerMiddleware
	Config      *config.Config
	Logger      *logrus.Logger
}

// NewManager wires the session store, the failure tracker and the auth gate
// from configuration.
func NewManager(cfg *config.Config, userSvc *users.Service, logger *logrus.Logger) (*Manager, error) {
	var sessions session.Store
	switch cfg.Session.Backend {
	case config.SessionBackendRedis:
		client, err := session.NewRedisClient(&cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis client: %w", err)
		}
		sessions = session.NewRedisStore(client, logger)
	default:
		sessions = session.NewMemoryStore(cfg.Session.TTL / 4)
	}

	tracker := auth.NewTracker(auth.TrackerOptions{
		Delays:       cfg.Auth.FailureDelays(),
		IdleEviction: cfg.Auth.FailureIdleEviction,
		Disabled:     cfg.Auth.DisableFailureTracking,
		Logger:       logger,
	})

	gate := NewGate(GateOptions{
		Mode:              cfg.Auth.Mode,
		Realm:             cfg.Auth.Realm,
		CookieName:        cfg.Session.CookieName,
		TrustProxyHeaders: cfg.Auth.TrustProxyHeaders,
		Users:             userSvc,
		Sessions:          sessions,
		Tracker:           tracker,
		Logger:            logger,
	})

	return &Manager{
		Gate:        gate,
		Sessions:    sessions,
		Tracker:     tracker,
		ErrorLogger: NewErrorLoggerMiddleware(logger),
		Config:      cfg,
		Logger:      logger,
	}, nil
}

// Close releases the background resources (failure-tracker janitor, session
// store sweeper or connection pool).
func (m *Manager) Close() error {
	if m.Tracker != nil {
		m.Tracker.Destroy()
	}
	if m.Sessions != nil {
		m.Sessions.Destroy()
	}
	return nil
}
