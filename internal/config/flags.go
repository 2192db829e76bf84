package config

import (
	"flag"
	"strings"
)

// CLIOptions carries the flags that drive process behavior rather than
// server configuration.
type CLIOptions struct {
	ConfigFile        string
	InitAdmin         bool
	InitAdminPassword string
	ShowVersion       bool
}

// configFileFromArgs pre-scans args for the -config flag so the file layer
// can be applied before the full flag parse overrides it.
func configFileFromArgs(args []string) (path string, explicit bool) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name := strings.TrimLeft(arg, "-")
		if !strings.HasPrefix(name, "config") || len(arg) == len(name) {
			continue
		}
		if name == "config" {
			if i+1 < len(args) {
				return args[i+1], true
			}
			return "", false
		}
		if v, ok := strings.CutPrefix(name, "config="); ok {
			return v, true
		}
	}
	return "", false
}

// parseFlags binds flags directly onto cfg. A flag's default is the value
// already resolved from the lower layers, so only flags the caller actually
// passes change anything.
func parseFlags(cfg *Config, args []string) (*CLIOptions, error) {
	opts := &CLIOptions{}

	fs := flag.NewFlagSet("nugetd", flag.ContinueOnError)
	fs.StringVar(&opts.ConfigFile, "config", "", "path to JSON config file")
	fs.StringVar(&cfg.Server.Port, "port", cfg.Server.Port, "listen port")
	fs.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "listen host")
	fs.StringVar(&cfg.Server.BaseURL, "base-url", cfg.Server.BaseURL, "externally visible base URL (derived per request when empty)")
	fs.StringVar(&cfg.Storage.DataDir, "data-dir", cfg.Storage.DataDir, "directory holding the package tree and users file")
	fs.StringVar(&cfg.Storage.DuplicatePolicy, "duplicate-policy", cfg.Storage.DuplicatePolicy, "republish handling: overwrite, ignore or error")
	fs.Int64Var(&cfg.Storage.MaxPackageBytes, "max-package-bytes", cfg.Storage.MaxPackageBytes, "upload size ceiling in bytes")
	fs.StringVar(&cfg.Feed.MissingPackageMode, "missing-package-mode", cfg.Feed.MissingPackageMode, "unknown-package behavior: empty-array or not-found")
	fs.StringVar(&cfg.Auth.Mode, "auth-mode", cfg.Auth.Mode, "auth gate mode: none, publish or full")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level")
	fs.BoolVar(&opts.InitAdmin, "init-admin", false, "create the initial admin user, then exit")
	fs.StringVar(&opts.InitAdminPassword, "init-admin-password", "", "admin password for -init-admin (prompted when empty)")
	fs.BoolVar(&opts.ShowVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}
