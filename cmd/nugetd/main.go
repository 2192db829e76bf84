package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugetd/nugetd/internal/config"
	"github.com/nugetd/nugetd/internal/feed"
	"github.com/nugetd/nugetd/internal/logging"
	"github.com/nugetd/nugetd/internal/metrics"
	"github.com/nugetd/nugetd/internal/middleware"
	"github.com/nugetd/nugetd/internal/models"
	"github.com/nugetd/nugetd/internal/routes"
	"github.com/nugetd/nugetd/internal/store"
	"github.com/nugetd/nugetd/internal/users"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

func main() {
	// Load configuration (flags > env > config file > defaults)
	cfg, opts, err := config.Load(os.Args[1:])
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	if opts.ShowVersion {
		fmt.Printf("%s %s\n", cfg.Server.Name, logging.Version())
		return
	}

	// Initialize logger
	logger := logging.New(cfg)

	// Initialize user service
	userSvc, err := users.NewService(users.Options{
		Path:                 cfg.Storage.UsersFilePath(),
		MinScore:             cfg.Auth.MinPasswordScore,
		DisableStrengthCheck: cfg.Auth.DisableStrengthCheck,
		Logger:               logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to load users file")
	}

	if opts.InitAdmin {
		if err := initAdmin(userSvc, opts.InitAdminPassword); err != nil {
			logger.WithError(err).Fatal("Failed to create admin user")
		}
		return
	}

	// Initialize metrics
	if err := metrics.Init(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize metrics")
	}

	// Initialize tracing
	tracingShutdown, err := middleware.InitTracing(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to setup tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingShutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to shutdown tracing")
		}
	}()

	// Initialize package store and feed
	packageStore, err := store.New(store.Options{
		Root:     cfg.Storage.PackagesPath(),
		MaxBytes: cfg.Storage.MaxPackageBytes,
		Policy:   store.Policy(cfg.Storage.DuplicatePolicy),
		Logger:   logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to open package store")
	}

	feedSvc := feed.NewService(feed.Options{
		Store:              packageStore,
		BaseURL:            cfg.Server.BaseURL,
		MissingPackageMode: cfg.Feed.MissingPackageMode,
		DefaultTake:        cfg.Feed.DefaultTake,
		MaxTake:            cfg.Feed.MaxTake,
		Logger:             logger,
	})

	// Initialize middleware manager (sessions, failure tracker, auth gate)
	mw, err := middleware.NewManager(cfg, userSvc, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize middleware manager")
	}
	defer mw.Close()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      cfg.Server.Name,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BodyLimit:    bodyLimit(cfg.Storage.MaxPackageBytes),
		ErrorHandler: routes.ErrorHandler(logger),
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowOrigins,
		AllowMethods:     "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Requested-With",
		AllowCredentials: cfg.CORS.AllowOrigins != "*",
		MaxAge:           86400,
	}))
	app.Use(otelfiber.Middleware())

	// pprof for memory profiling (accessible at /debug/pprof/)
	app.Use(pprof.New())

	// Setup routes
	routes.Setup(app, cfg, logger, mw, packageStore, feedSvc, userSvc)

	if userSvc.Count() == 0 && cfg.Auth.Mode != config.AuthModeNone {
		logger.Warn("No users exist; run with -init-admin to create the first admin account")
	}

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		logger.Info("Gracefully shutting down...")
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}
	}()

	// Start server
	logging.WithService(logger, cfg).WithFields(logrus.Fields{
		"addr":      cfg.Addr(),
		"auth_mode": cfg.Auth.Mode,
		"packages":  cfg.Storage.PackagesPath(),
	}).Info("Starting package registry server")
	if err := app.Listen(cfg.Addr()); err != nil {
		logger.WithError(err).Fatal("Server failed to start")
	}
}

// initAdmin creates the first admin account. The password comes from the
// -init-admin-password flag when given, otherwise from a no-echo terminal
// prompt.
func initAdmin(userSvc *users.Service, password string) error {
	if password == "" {
		var err error
		password, err = promptPassword()
		if err != nil {
			return err
		}
	}

	info, apiPassword, err := userSvc.CreateUser("admin", password, models.RoleAdmin)
	if err != nil {
		return err
	}

	fmt.Printf("Created user %q with role %s\n", info.Username, info.Role)
	fmt.Printf("API password (label %q, shown only once): %s\n", "default", apiPassword)
	return nil
}

func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal; pass -init-admin-password instead")
	}

	fmt.Print("Admin password: ")
	first, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	fmt.Print("Repeat password: ")
	second, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}

// bodyLimit sizes fiber's request body cap above the store's own ceiling so
// the store decides the 413, with headroom for request overhead.
func bodyLimit(maxPackageBytes int64) int {
	limit := int(maxPackageBytes) + 1<<20
	if limit < fiber.DefaultBodyLimit {
		return fiber.DefaultBodyLimit
	}
	return limit
}
