// nugetd-import copies packages from another v3 feed into a running
// registry server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/nugetd/nugetd/internal/importer"
)

func main() {
	var (
		source      = flag.String("source", "", "service index URL of the feed to copy from (…/v3/index.json)")
		target      = flag.String("target", "http://localhost:8080", "base URL of the server to push to")
		username    = flag.String("username", "", "username for the target (Basic auth)")
		apiPassword = flag.String("api-password", os.Getenv("NUGETD_IMPORT_API_PASSWORD"), "API password for the target (or NUGETD_IMPORT_API_PASSWORD)")
		concurrency = flag.Int("concurrency", 4, "parallel package transfers")
		verbose     = flag.Bool("verbose", false, "debug logging")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if *source == "" {
		logger.Fatal("-source is required")
	}

	im, err := importer.New(importer.Options{
		SourceIndexURL: *source,
		TargetBaseURL:  *target,
		Username:       *username,
		APIPassword:    *apiPassword,
		Concurrency:    *concurrency,
		Logger:         logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Invalid import options")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	summary, err := im.Run(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Import failed")
	}
	if summary.Failed > 0 {
		os.Exit(1)
	}
}
