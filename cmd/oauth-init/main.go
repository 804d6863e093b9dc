// Command oauth-init signs in with Google once and saves the token file the
// server restores its session from.
package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"lifesync/internal/cli"
	"lifesync/internal/identity/google"
	"lifesync/internal/log"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	clientJSON, err := cli.GoogleClientJSON(cfg)
	if err != nil {
		logger.Error("Missing OAuth client", log.FieldError, err)
		os.Exit(1)
	}

	ctx, stop := cli.SignalContext(logger)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	provider, err := google.New(ctx, google.Config{
		ClientJSON:   clientJSON,
		TokenFile:    cfg.GoogleOAuthTokenFile,
		RedirectPort: strconv.Itoa(cfg.OAuthRedirectPort),
	}, logger)
	if err != nil {
		logger.Error("Failed to create identity provider", log.FieldError, err)
		os.Exit(1)
	}

	principal, err := provider.SignIn(ctx)
	if err != nil {
		logger.Error("Sign-in failed", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Saved token",
		"file", cfg.GoogleOAuthTokenFile,
		log.FieldPrincipalID, principal.ID,
		"email", principal.Email)
}
