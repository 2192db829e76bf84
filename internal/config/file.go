package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// DefaultConfigFile is consulted when no -config flag is given. A missing
// default file is not an error; a missing explicitly named file is.
const DefaultConfigFile = "config.json"

// fileConfig is the JSON DTO for the config file. Pointer fields tell an
// absent key from a zero value, so the file only overrides what it names.
type fileConfig struct {
	Server *struct {
		Port        *string `json:"port"`
		Host        *string `json:"host"`
		BaseURL     *string `json:"baseUrl"`
		Name        *string `json:"name"`
		Environment *string `json:"environment"`
	} `json:"server"`
	Storage *struct {
		DataDir         *string `json:"dataDir"`
		PackagesDir     *string `json:"packagesDir"`
		UsersFile       *string `json:"usersFile"`
		MaxPackageBytes *int64  `json:"maxPackageBytes"`
		DuplicatePolicy *string `json:"duplicatePolicy"`
	} `json:"storage"`
	Feed *struct {
		MissingPackageMode *string `json:"missingPackageMode"`
		DefaultTake        *int    `json:"defaultTake"`
		MaxTake            *int    `json:"maxTake"`
	} `json:"feed"`
	Auth *struct {
		Mode                   *string `json:"mode"`
		Realm                  *string `json:"realm"`
		MinPasswordScore       *int    `json:"minPasswordScore"`
		DisableStrengthCheck   *bool   `json:"disableStrengthCheck"`
		TrustProxyHeaders      *bool   `json:"trustProxyHeaders"`
		FailureDelaysMS        []int   `json:"failureDelaysMs"`
		DisableFailureTracking *bool   `json:"disableFailureTracking"`
	} `json:"auth"`
	Session *struct {
		Backend      *string `json:"backend"`
		TTL          *string `json:"ttl"`
		CookieName   *string `json:"cookieName"`
		CookieSecure *bool   `json:"cookieSecure"`
	} `json:"session"`
	Redis *struct {
		Address  *string `json:"address"`
		Password *string `json:"password"`
		Database *int    `json:"database"`
	} `json:"redis"`
	Log *struct {
		Level  *string `json:"level"`
		Format *string `json:"format"`
	} `json:"log"`
}

// applyFile overlays values from the JSON config file onto cfg. A field is
// only taken from the file when its environment variable is unset, keeping
// the env layer above the file layer.
func applyFile(cfg *Config, path string, explicit bool) error {
	if path == "" {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return err
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if s := fc.Server; s != nil {
		overlayString(&cfg.Server.Port, s.Port, "SERVER_PORT")
		overlayString(&cfg.Server.Host, s.Host, "SERVER_HOST")
		overlayString(&cfg.Server.BaseURL, s.BaseURL, "SERVER_BASE_URL")
		overlayString(&cfg.Server.Name, s.Name, "SERVER_NAME")
		overlayString(&cfg.Server.Environment, s.Environment, "SERVER_ENVIRONMENT")
	}
	if s := fc.Storage; s != nil {
		overlayString(&cfg.Storage.DataDir, s.DataDir, "STORAGE_DATA_DIR")
		overlayString(&cfg.Storage.PackagesDir, s.PackagesDir, "STORAGE_PACKAGES_DIR")
		overlayString(&cfg.Storage.UsersFile, s.UsersFile, "STORAGE_USERS_FILE")
		overlayInt64(&cfg.Storage.MaxPackageBytes, s.MaxPackageBytes, "STORAGE_MAX_PACKAGE_BYTES")
		overlayString(&cfg.Storage.DuplicatePolicy, s.DuplicatePolicy, "STORAGE_DUPLICATE_POLICY")
	}
	if f := fc.Feed; f != nil {
		overlayString(&cfg.Feed.MissingPackageMode, f.MissingPackageMode, "FEED_MISSING_PACKAGE_MODE")
		overlayInt(&cfg.Feed.DefaultTake, f.DefaultTake, "FEED_DEFAULT_TAKE")
		overlayInt(&cfg.Feed.MaxTake, f.MaxTake, "FEED_MAX_TAKE")
	}
	if a := fc.Auth; a != nil {
		overlayString(&cfg.Auth.Mode, a.Mode, "AUTH_MODE")
		overlayString(&cfg.Auth.Realm, a.Realm, "AUTH_REALM")
		overlayInt(&cfg.Auth.MinPasswordScore, a.MinPasswordScore, "AUTH_MIN_PASSWORD_SCORE")
		overlayBool(&cfg.Auth.DisableStrengthCheck, a.DisableStrengthCheck, "AUTH_DISABLE_STRENGTH_CHECK")
		overlayBool(&cfg.Auth.TrustProxyHeaders, a.TrustProxyHeaders, "AUTH_TRUST_PROXY_HEADERS")
		overlayBool(&cfg.Auth.DisableFailureTracking, a.DisableFailureTracking, "AUTH_DISABLE_FAILURE_TRACKING")
		if len(a.FailureDelaysMS) > 0 && !envSet("AUTH_FAILURE_DELAYS_MS") {
			cfg.Auth.FailureDelaysMS = a.FailureDelaysMS
		}
	}
	if s := fc.Session; s != nil {
		overlayString(&cfg.Session.Backend, s.Backend, "SESSION_BACKEND")
		overlayString(&cfg.Session.CookieName, s.CookieName, "SESSION_COOKIE_NAME")
		overlayBool(&cfg.Session.CookieSecure, s.CookieSecure, "SESSION_COOKIE_SECURE")
		if s.TTL != nil && !envSet("SESSION_TTL") {
			ttl, err := time.ParseDuration(*s.TTL)
			if err != nil {
				return fmt.Errorf("parse %s: session ttl: %w", path, err)
			}
			cfg.Session.TTL = ttl
		}
	}
	if r := fc.Redis; r != nil {
		overlayString(&cfg.Redis.Address, r.Address, "REDIS_ADDRESS")
		overlayString(&cfg.Redis.Password, r.Password, "REDIS_PASSWORD")
		overlayInt(&cfg.Redis.Database, r.Database, "REDIS_DATABASE")
	}
	if l := fc.Log; l != nil {
		overlayString(&cfg.Log.Level, l.Level, "LOG_LEVEL")
		overlayString(&cfg.Log.Format, l.Format, "LOG_FORMAT")
	}

	return nil
}

func envSet(name string) bool {
	_, ok := os.LookupEnv(name)
	return ok
}

func overlayString(dst *string, src *string, envName string) {
	if src != nil && !envSet(envName) {
		*dst = *src
	}
}

func overlayInt(dst *int, src *int, envName string) {
	if src != nil && !envSet(envName) {
		*dst = *src
	}
}

func overlayInt64(dst *int64, src *int64, envName string) {
	if src != nil && !envSet(envName) {
		*dst = *src
	}
}

func overlayBool(dst *bool, src *bool, envName string) {
	if src != nil && !envSet(envName) {
		*dst = *src
	}
}
