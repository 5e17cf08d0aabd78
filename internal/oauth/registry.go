// Package oauth drives the authorization code flow against the supported
// social login providers and normalizes their profiles into
// models.ExternalIdentity.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/models"
	"golang.org/x/oauth2"
)

const maxProfileBytes = 1 << 20

// Provider is one configured login provider
type Provider struct {
	name       string
	config     *oauth2.Config
	profileURL string
	fetch      profileFetcher
}

// Registry holds the configured providers. Providers without credentials are
// absent and resolve to ErrProviderNotSupported.
type Registry struct {
	providers map[string]*Provider
	client    *http.Client
	timeout   time.Duration
	logger    *slog.Logger
}

// NewRegistry builds a provider for every configured entry. Names outside
// the supported set are ignored.
func NewRegistry(configs map[string]config.OAuthProviderConfig, timeout time.Duration, logger *slog.Logger) *Registry {
	r := &Registry{
		providers: make(map[string]*Provider),
		client:    &http.Client{Timeout: timeout},
		timeout:   timeout,
		logger:    logger,
	}

	for name, cfg := range configs {
		def, ok := definitions[name]
		if !ok {
			logger.Warn("ignoring unsupported oauth provider", slog.String("provider", name))
			continue
		}
		r.register(name, cfg, def.endpoint, def.profileURL)
	}

	return r
}

// register adds a provider with explicit endpoints
func (r *Registry) register(name string, cfg config.OAuthProviderConfig, endpoint oauth2.Endpoint, profileURL string) {
	def := definitions[name]
	r.providers[name] = &Provider{
		name: name,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       def.scopes,
		},
		profileURL: profileURL,
		fetch:      def.fetch,
	}
}

// Names returns the configured provider names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) provider(name string) (*Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, models.ErrProviderNotSupported
	}
	return p, nil
}

// AuthCodeURL returns the provider consent URL carrying state
func (r *Registry) AuthCodeURL(name, state string) (string, error) {
	p, err := r.provider(name)
	if err != nil {
		return "", err
	}
	return p.config.AuthCodeURL(state), nil
}

// Exchange trades the authorization code for tokens and fetches the profile.
// Any provider failure is reported as ErrExternalServiceUnavailable.
func (r *Registry) Exchange(ctx context.Context, name, code string) (models.ExternalIdentity, error) {
	p, err := r.provider(name)
	if err != nil {
		return models.ExternalIdentity{}, err
	}
	if code == "" {
		return models.ExternalIdentity{}, fmt.Errorf("%w: missing authorization code", models.ErrExternalServiceUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		r.logger.Warn("oauth code exchange failed",
			slog.String("provider", name),
			slog.String("error", err.Error()))
		return models.ExternalIdentity{}, fmt.Errorf("%w: %s code exchange failed", models.ErrExternalServiceUnavailable, name)
	}

	identity, err := p.fetch(ctx, &apiClient{http: r.client}, p.profileURL, token)
	if err != nil {
		r.logger.Warn("oauth profile fetch failed",
			slog.String("provider", name),
			slog.String("error", err.Error()))
		return models.ExternalIdentity{}, fmt.Errorf("%w: %s profile unavailable", models.ErrExternalServiceUnavailable, name)
	}
	if identity.ExternalID == "" {
		return models.ExternalIdentity{}, fmt.Errorf("%w: %s returned no user id", models.ErrExternalServiceUnavailable, name)
	}

	identity.Provider = name
	identity.AccessToken = token.AccessToken
	identity.RefreshToken = token.RefreshToken
	return identity, nil
}

func (c *apiClient) getJSON(ctx context.Context, url, authorization string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBytes)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode profile: %w", err)
	}
	return nil
}
