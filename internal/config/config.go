// Package config resolves the server configuration from four layers with
// documented precedence: command-line flags > environment variables >
// optional JSON config file > built-in defaults.
package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Auth gate operating modes.
const (
	AuthModeNone    = "none"
	AuthModePublish = "publish"
	AuthModeFull    = "full"
)

// Duplicate publish policies.
const (
	DuplicateOverwrite = "overwrite"
	DuplicateIgnore    = "ignore"
	DuplicateError     = "error"
)

// Missing-package modes for the read surface.
const (
	MissingEmptyArray = "empty-array"
	MissingNotFound   = "not-found"
)

// Session backends.
const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

type Config struct {
	Server        ServerConfig        `envconfig:"SERVER"`
	Storage       StorageConfig       `envconfig:"STORAGE"`
	Feed          FeedConfig          `envconfig:"FEED"`
	Auth          AuthConfig          `envconfig:"AUTH"`
	Session       SessionConfig       `envconfig:"SESSION"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	Observability ObservabilityConfig `envconfig:"OBSERVABILITY"`
	CORS          CORSConfig          `envconfig:"CORS"`
	Log           LogConfig           `envconfig:"LOG"`
}

type ServerConfig struct {
	Port         string        `envconfig:"PORT" default:"8080"`
	Host         string        `envconfig:"HOST" default:""`
	BaseURL      string        `envconfig:"BASE_URL" default:""` // empty: derived per request
	Name         string        `envconfig:"NAME" default:"nugetd"`
	Environment  string        `envconfig:"ENVIRONMENT" default:"production"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"120s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`
}

type StorageConfig struct {
	DataDir         string `envconfig:"DATA_DIR" default:"./data"`
	PackagesDir     string `envconfig:"PACKAGES_DIR" default:""` // empty: <dataDir>/packages
	UsersFile       string `envconfig:"USERS_FILE" default:""`   // empty: <dataDir>/users.json
	MaxPackageBytes int64  `envconfig:"MAX_PACKAGE_BYTES" default:"104857600"`
	DuplicatePolicy string `envconfig:"DUPLICATE_POLICY" default:"ignore"`
}

type FeedConfig struct {
	MissingPackageMode string `envconfig:"MISSING_PACKAGE_MODE" default:"not-found"`
	DefaultTake        int    `envconfig:"DEFAULT_TAKE" default:"20"`
	MaxTake            int    `envconfig:"MAX_TAKE" default:"100"`
}

type AuthConfig struct {
	Mode                   string        `envconfig:"MODE" default:"publish"`
	Realm                  string        `envconfig:"REALM" default:"nugetd"`
	MinPasswordScore       int           `envconfig:"MIN_PASSWORD_SCORE" default:"2"`
	DisableStrengthCheck   bool          `envconfig:"DISABLE_STRENGTH_CHECK" default:"false"`
	TrustProxyHeaders      bool          `envconfig:"TRUST_PROXY_HEADERS" default:"false"`
	FailureDelaysMS        []int         `envconfig:"FAILURE_DELAYS_MS" default:"1000,2000,4000,8000,16000"`
	FailureIdleEviction    time.Duration `envconfig:"FAILURE_IDLE_EVICTION" default:"30m"`
	DisableFailureTracking bool          `envconfig:"DISABLE_FAILURE_TRACKING" default:"false"`
}

type SessionConfig struct {
	Backend      string        `envconfig:"BACKEND" default:"memory"`
	TTL          time.Duration `envconfig:"TTL" default:"24h"`
	CookieName   string        `envconfig:"COOKIE_NAME" default:"nugetd_session"`
	CookieSecure bool          `envconfig:"COOKIE_SECURE" default:"false"`
}

type RedisConfig struct {
	Address    string `envconfig:"ADDRESS" default:"localhost:6379"`
	Password   string `envconfig:"PASSWORD" default:""`
	Database   int    `envconfig:"DATABASE" default:"0"`
	PoolSize   int    `envconfig:"POOL_SIZE" default:"100"`
	TLSEnabled bool   `envconfig:"TLS_ENABLED" default:"false"`
}

type ObservabilityConfig struct {
	MetricsPath    string  `envconfig:"METRICS_PATH" default:"/metrics"`
	OTLPEndpoint   string  `envconfig:"OTLP_ENDPOINT" default:"http://localhost:4318"`
	TracingEnabled bool    `envconfig:"TRACING_ENABLED" default:"false"`
	SampleRate     float64 `envconfig:"SAMPLE_RATE" default:"0.1"`
}

type CORSConfig struct {
	AllowOrigins string `envconfig:"ALLOW_ORIGINS" default:"*"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

// Load resolves the configuration from args and the process environment.
// Layer order: envconfig defaults, then environment, then the JSON file
// (only for fields no environment variable pinned), then explicit flags.
func Load(args []string) (*Config, *CLIOptions, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	path, explicit := configFileFromArgs(args)
	if err := applyFile(&cfg, path, explicit); err != nil {
		return nil, nil, fmt.Errorf("failed to load config file: %w", err)
	}

	opts, err := parseFlags(&cfg, args)
	if err != nil {
		return nil, nil, err
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, opts, nil
}

func validateConfig(cfg *Config) error {
	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port: %s", cfg.Server.Port)
	}

	switch cfg.Auth.Mode {
	case AuthModeNone, AuthModePublish, AuthModeFull:
	default:
		return fmt.Errorf("invalid auth mode: %s", cfg.Auth.Mode)
	}

	switch cfg.Storage.DuplicatePolicy {
	case DuplicateOverwrite, DuplicateIgnore, DuplicateError:
	default:
		return fmt.Errorf("invalid duplicate policy: %s", cfg.Storage.DuplicatePolicy)
	}

	switch cfg.Feed.MissingPackageMode {
	case MissingEmptyArray, MissingNotFound:
	default:
		return fmt.Errorf("invalid missing-package mode: %s", cfg.Feed.MissingPackageMode)
	}

	switch cfg.Session.Backend {
	case SessionBackendMemory, SessionBackendRedis:
	default:
		return fmt.Errorf("invalid session backend: %s", cfg.Session.Backend)
	}

	if cfg.Session.TTL <= 0 {
		return fmt.Errorf("invalid session TTL: %s", cfg.Session.TTL)
	}

	if cfg.Storage.MaxPackageBytes <= 0 {
		return fmt.Errorf("invalid max package size: %d", cfg.Storage.MaxPackageBytes)
	}

	if cfg.Feed.DefaultTake < 1 || cfg.Feed.MaxTake < cfg.Feed.DefaultTake {
		return fmt.Errorf("invalid search page sizes: default %d, max %d", cfg.Feed.DefaultTake, cfg.Feed.MaxTake)
	}

	if cfg.Auth.MinPasswordScore < 0 || cfg.Auth.MinPasswordScore > 4 {
		return fmt.Errorf("invalid minimum password score: %d", cfg.Auth.MinPasswordScore)
	}

	if len(cfg.Auth.FailureDelaysMS) == 0 {
		return fmt.Errorf("auth failure delay schedule is empty")
	}
	prev := 0
	for _, d := range cfg.Auth.FailureDelaysMS {
		if d < 0 {
			return fmt.Errorf("negative auth failure delay: %d", d)
		}
		if d < prev {
			return fmt.Errorf("auth failure delays must be non-decreasing: %v", cfg.Auth.FailureDelaysMS)
		}
		prev = d
	}

	if cfg.Observability.SampleRate < 0 || cfg.Observability.SampleRate > 1 {
		return fmt.Errorf("invalid tracing sample rate: %f", cfg.Observability.SampleRate)
	}

	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// PackagesPath returns the package tree root.
func (c *StorageConfig) PackagesPath() string {
	if c.PackagesDir != "" {
		return c.PackagesDir
	}
	return filepath.Join(c.DataDir, "packages")
}

// UsersFilePath returns the users file location.
func (c *StorageConfig) UsersFilePath() string {
	if c.UsersFile != "" {
		return c.UsersFile
	}
	return filepath.Join(c.DataDir, "users.json")
}

// FailureDelays converts the millisecond schedule to durations.
func (c *AuthConfig) FailureDelays() []time.Duration {
	out := make([]time.Duration, len(c.FailureDelaysMS))
	for i, ms := range c.FailureDelaysMS {
		out[i] = time.Duration(ms) * time.Millisecond
	}
	return out
}
