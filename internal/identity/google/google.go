// Package google signs users in with their Google account through the OAuth
// 2.0 authorization-code flow and a loopback redirect.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	gauth "golang.org/x/oauth2/google"
	googleoauth "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"lifesync/internal/core"
	"lifesync/internal/identity"
	"lifesync/internal/log"
)

const revokeURL = "https://oauth2.googleapis.com/revoke"

type (
	Config struct {
		ClientJSON   []byte
		TokenFile    string
		RedirectPort string
		// Announce receives the consent URL the user must open.
		Announce func(consentURL string)
	}

	Provider struct {
		oauth        *oauth2.Config
		tokenFile    string
		redirectPort string
		announce     func(string)
		logger       *log.Logger
		httpClient   *http.Client

		mu        sync.Mutex
		current   *core.Principal
		listeners map[int]func(*core.Principal)
		next      int
	}
)

var _ identity.Provider = (*Provider)(nil)

// New builds the provider and restores a previously saved session from the
// token file, if it is still valid.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Provider, error) {
	oc, err := gauth.ConfigFromJSON(cfg.ClientJSON,
		googleoauth.OpenIDScope, googleoauth.UserinfoEmailScope, googleoauth.UserinfoProfileScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	if cfg.RedirectPort == "" {
		cfg.RedirectPort = "8085"
	}
	oc.RedirectURL = "http://localhost:" + cfg.RedirectPort + "/callback"

	p := &Provider{
		oauth:        oc,
		tokenFile:    cfg.TokenFile,
		redirectPort: cfg.RedirectPort,
		announce:     cfg.Announce,
		logger:       logger.WithComponent(log.ComponentIdentity),
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		listeners:    map[int]func(*core.Principal){},
	}
	if p.announce == nil {
		p.announce = func(u string) { fmt.Printf("Open this URL to sign in:\n%s\n", u) }
	}

	if tok, err := p.loadToken(); err == nil {
		principal, err := p.resolve(ctx, tok)
		if err != nil {
			p.logger.Warn("Saved token could not be used", log.FieldError, err)
		} else {
			p.current = &principal
		}
	}
	return p, nil
}

// SignIn waits for the user to complete consent in the browser, exchanges the
// code and persists the token.
func (p *Provider) SignIn(ctx context.Context) (core.Principal, error) {
	state := uuid.NewString()
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.Handle("/callback", callbackHandler(state, codeCh, errCh))

	ln, err := net.Listen("tcp", "localhost:"+p.redirectPort)
	if err != nil {
		return core.Principal{}, fmt.Errorf("%w: listen for redirect: %w", identity.ErrAuthFailure, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	p.announce(p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline))

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return core.Principal{}, err
	case <-ctx.Done():
		return core.Principal{}, fmt.Errorf("%w: %w", identity.ErrCancelled, ctx.Err())
	}

	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return core.Principal{}, fmt.Errorf("%w: token exchange: %w", identity.ErrAuthFailure, err)
	}
	principal, err := p.resolve(ctx, tok)
	if err != nil {
		return core.Principal{}, fmt.Errorf("%w: %w", identity.ErrAuthFailure, err)
	}
	if err := p.saveToken(tok); err != nil {
		p.logger.Warn("Failed to persist token", log.FieldError, err)
	}

	p.mu.Lock()
	p.current = &principal
	p.mu.Unlock()
	p.emit()
	return principal, nil
}

// callbackHandler answers the OAuth redirect. Only the first outcome is
// delivered; later hits on the redirect never block.
func callbackHandler(state string, codeCh chan<- string, errCh chan<- error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errStr := q.Get("error"); errStr != "" {
			http.Error(w, "OAuth error: "+errStr, http.StatusBadRequest)
			err := fmt.Errorf("%w: %s", identity.ErrAuthFailure, errStr)
			if errStr == "access_denied" {
				err = identity.ErrCancelled
			}
			select {
			case errCh <- err:
			default:
			}
			return
		}
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "You may close this window and return to LifeSync.")
		select {
		case codeCh <- q.Get("code"):
		default:
		}
	}
}

// SignOut revokes the token and removes the token file.
func (p *Provider) SignOut(ctx context.Context) error {
	if tok, err := p.loadToken(); err == nil {
		if err := p.revoke(ctx, tok); err != nil {
			return fmt.Errorf("%w: %w", identity.ErrAuthFailure, err)
		}
	}
	if p.tokenFile != "" {
		if err := os.Remove(p.tokenFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("Failed to remove token file", log.FieldError, err)
		}
	}

	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
	p.emit()
	return nil
}

func (p *Provider) OnSessionChange(fn func(*core.Principal)) func() {
	p.mu.Lock()
	id := p.next
	p.next++
	p.listeners[id] = fn
	cur := clone(p.current)
	p.mu.Unlock()

	fn(cur)
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Provider) emit() {
	p.mu.Lock()
	cur := p.current
	fns := make([]func(*core.Principal), 0, len(p.listeners))
	for i := 0; i < p.next; i++ {
		if fn, ok := p.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(clone(cur))
	}
}

func (p *Provider) resolve(ctx context.Context, tok *oauth2.Token) (core.Principal, error) {
	svc, err := googleoauth.NewService(ctx, option.WithTokenSource(p.oauth.TokenSource(ctx, tok)))
	if err != nil {
		return core.Principal{}, fmt.Errorf("userinfo client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return core.Principal{}, fmt.Errorf("userinfo: %w", err)
	}
	return core.Principal{ID: info.Id, DisplayName: info.Name, Email: info.Email}, nil
}

func (p *Provider) revoke(ctx context.Context, tok *oauth2.Token) error {
	value := tok.RefreshToken
	if value == "" {
		value = tok.AccessToken
	}
	form := url.Values{"token": {value}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	defer resp.Body.Close()
	// 400 means the token is already invalid, which is what sign-out wants.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return fmt.Errorf("revoke token: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) loadToken() (*oauth2.Token, error) {
	if p.tokenFile == "" {
		return nil, os.ErrNotExist
	}
	b, err := os.ReadFile(p.tokenFile)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return &tok, nil
}

func (p *Provider) saveToken(tok *oauth2.Token) error {
	if p.tokenFile == "" {
		return nil
	}
	f, err := os.OpenFile(p.tokenFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

func clone(p *core.Principal) *core.Principal {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
