// Command lifesync-export writes a backup of the signed-in user's data to
// EXPORT_DIR and, when configured, the export bucket.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"lifesync/internal/cli"
	"lifesync/internal/identity"
	"lifesync/internal/log"
)

var errNotSignedIn = errors.New("no signed-in user, run oauth-init first")

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "maximum time to wait for data before giving up")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	app, err := cli.Bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize application", log.FieldError, err)
		os.Exit(1)
	}

	if err := run(ctx, app, *timeout, logger); err != nil {
		errorType := log.ErrorTypeInternal
		if errors.Is(err, context.DeadlineExceeded) {
			errorType = log.ErrorTypeTimeout
		}
		logger.Error("Export failed",
			log.FieldOperation, log.OpExport,
			log.FieldError, err,
			log.FieldErrorType, errorType)
		app.Close()
		os.Exit(1)
	}
	app.Close()
}

func run(ctx context.Context, app *cli.App, timeout time.Duration, logger *log.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := waitForSession(ctx, app.Session); err != nil {
		return err
	}
	if app.Session.Current() == nil {
		return errNotSignedIn
	}
	if err := app.Container.WaitLoaded(ctx); err != nil {
		return err
	}

	res, err := app.Container.Exporter.Export(ctx)
	if err != nil {
		return err
	}
	logger.Info("Export written",
		log.FieldOperation, log.OpExport,
		"file", res.File,
		"path", res.Path,
		"location", res.Location)
	return nil
}

// waitForSession blocks until the provider has reported its restored
// session.
func waitForSession(ctx context.Context, s *identity.Session) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for s.State() == identity.StateInitializing {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
