package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"lifesync/internal/backend"
	"lifesync/internal/config"
	"lifesync/internal/core"
	"lifesync/internal/identity"
	"lifesync/internal/identity/google"
	"lifesync/internal/localstore"
	"lifesync/internal/log"
	"lifesync/internal/objectstore"
	"lifesync/internal/services"
)

// App holds every long-lived component of a LifeSync process.
type App struct {
	Backend     *backend.BackendResult
	Session     *identity.Session
	Container   *services.Container
	Preferences *localstore.Store

	logger *log.Logger
}

// Bootstrap builds the document store, the identity session, the local
// preference store and the service container, then starts the session.
// ctx bounds the lifetime of every subscription.
func Bootstrap(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", backendCfg.Type, err)
	}
	app := &App{Backend: res, logger: logger}

	provider, err := NewIdentityProvider(ctx, cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	prefs, err := localstore.Open(cfg.LocalDBPath, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("open local store: %w", err)
	}
	app.Preferences = prefs

	opts := services.Options{ExportDir: cfg.ExportDir, Preferences: prefs}
	uploader, err := NewUploader(ctx, cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	if uploader != nil {
		opts.Uploader = uploader
	}

	app.Session = identity.NewSession(provider, logger)
	app.Container = services.NewContainer(app.Session, res.Store, opts, logger)
	app.Session.Start(ctx)

	logger.InfoContext(ctx, "Application initialized",
		log.FieldOperation, log.OpStartup,
		log.FieldBackend, backendCfg.Type.String(),
		"auth_provider", cfg.AuthProvider,
		"state", app.Session.State().String())
	return app, nil
}

// Close releases the components in reverse order of creation.
func (a *App) Close() {
	if a.Session != nil {
		a.Session.Stop()
	}
	if a.Container != nil {
		a.Container.Close()
	}
	if a.Preferences != nil {
		if err := a.Preferences.Close(); err != nil {
			a.logger.Warn("Failed to close local store", log.FieldError, err)
		}
	}
	if a.Backend != nil && a.Backend.Cleanup != nil {
		if err := a.Backend.Cleanup(); err != nil {
			a.logger.Warn("Failed to close backend", log.FieldError, err)
		}
	}
}

// NewIdentityProvider returns the provider selected by AUTH_PROVIDER. The
// static provider starts signed in.
func NewIdentityProvider(ctx context.Context, cfg *config.Config, logger *log.Logger) (identity.Provider, error) {
	switch cfg.AuthProvider {
	case "static":
		return identity.NewStaticProvider(core.Principal{
			ID:          cfg.StaticPrincipalID,
			DisplayName: cfg.StaticPrincipalName,
			Email:       cfg.StaticPrincipalEmail,
		}, true), nil
	case "google":
		clientJSON, err := GoogleClientJSON(cfg)
		if err != nil {
			return nil, err
		}
		p, err := google.New(ctx, google.Config{
			ClientJSON:   clientJSON,
			TokenFile:    cfg.GoogleOAuthTokenFile,
			RedirectPort: strconv.Itoa(cfg.OAuthRedirectPort),
			Announce: func(consentURL string) {
				logger.Info("Open this URL to sign in", "url", consentURL)
			},
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create google identity provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported auth provider: %s", cfg.AuthProvider)
	}
}

// GoogleClientJSON returns the OAuth client definition from the inline value
// or the client file.
func GoogleClientJSON(cfg *config.Config) ([]byte, error) {
	switch {
	case cfg.GoogleOAuthClientJSON != "":
		return []byte(cfg.GoogleOAuthClientJSON), nil
	case cfg.GoogleOAuthClientFile != "":
		b, err := os.ReadFile(cfg.GoogleOAuthClientFile)
		if err != nil {
			return nil, fmt.Errorf("read oauth client file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE")
	}
}

// NewUploader connects to the export bucket. It returns nil without error
// when no endpoint is configured.
func NewUploader(ctx context.Context, cfg *config.Config, logger *log.Logger) (services.Uploader, error) {
	if cfg.MinioEndpoint == "" {
		return nil, nil
	}
	s, err := objectstore.New(ctx, objectstore.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect export bucket: %w", err)
	}
	return s, nil
}
