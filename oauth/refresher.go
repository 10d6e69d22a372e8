// Package oauth keeps the CRM access token valid. The refresher is the only
// writer of the credential store inside a process.
package oauth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-crmwatch/core"
	"github.com/goliatone/go-crmwatch/transport"
	glog "github.com/goliatone/go-logger/glog"
)

type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	SafetyMargin time.Duration
	Timeout      time.Duration
}

// ConfigFromCore maps the resolved runtime configuration.
func ConfigFromCore(cfg core.Config) Config {
	return Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		TokenURL:     cfg.TokenURL(),
		SafetyMargin: cfg.OAuth.SafetyMargin,
		Timeout:      cfg.API.Timeout,
	}
}

type Option func(*Refresher)

func WithHTTPClient(client core.HTTPDoer) Option {
	return func(r *Refresher) {
		if client != nil {
			r.httpClient = client
		}
	}
}

func WithClock(clock core.Clock) Option {
	return func(r *Refresher) {
		if clock != nil {
			r.now = clock
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(r *Refresher) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(r *Refresher) {
		if provider != nil {
			r.loggerProvider = provider
		}
	}
}

type Refresher struct {
	cfg            Config
	store          core.CredentialStore
	httpClient     core.HTTPDoer
	now            core.Clock
	logger         core.Logger
	loggerProvider core.LoggerProvider
	observer       core.Observer
	client         tokenClient

	// mu serializes check, refresh and persist.
	mu sync.Mutex
}

func New(cfg Config, store core.CredentialStore, opts ...Option) (*Refresher, error) {
	if store == nil {
		return nil, core.ConfigError("oauth: credential store is required", nil)
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, core.ConfigError("oauth: token url is required", map[string]any{"missing": "accounts_url"})
	}
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = core.DefaultRefreshSafetyMargin
	}
	r := &Refresher{cfg: cfg, store: store}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.loggerProvider, r.logger = glog.Resolve("crmwatch.oauth", r.loggerProvider, r.logger)
	r.observer = core.NewObserver(r.logger)
	r.client = tokenClient{
		adapter:      transport.NewRESTAdapter(r.httpClient, cfg.Timeout),
		tokenURL:     strings.TrimSpace(cfg.TokenURL),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
	}
	return r, nil
}

// GetValidAccessToken returns a usable token for credential. A fresh
// credential is returned as is without any network call; otherwise the token
// is refreshed and the updated credential persisted before returning.
func (r *Refresher) GetValidAccessToken(ctx context.Context, credential core.Credential) (string, core.Credential, error) {
	grant, updated, err := r.ensure(ctx, credential, false, "")
	if err != nil {
		return "", core.Credential{}, err
	}
	return grant.Token, updated, nil
}

// AccessToken loads the stored credential and returns a valid grant.
func (r *Refresher) AccessToken(ctx context.Context) (core.AccessGrant, error) {
	credential, err := r.store.Load(ctx)
	if err != nil {
		return core.AccessGrant{}, err
	}
	grant, _, err := r.ensure(ctx, credential, false, "")
	return grant, err
}

// ForceRefresh mints a new token after the API rejected staleToken. When a
// concurrent caller already replaced it, the stored token is returned.
func (r *Refresher) ForceRefresh(ctx context.Context, staleToken string) (core.AccessGrant, error) {
	credential, err := r.store.Load(ctx)
	if err != nil {
		return core.AccessGrant{}, err
	}
	grant, _, err := r.ensure(ctx, credential, true, staleToken)
	return grant, err
}

// Credential returns the stored credential without refreshing it.
func (r *Refresher) Credential(ctx context.Context) (core.Credential, error) {
	return r.store.Load(ctx)
}

func (r *Refresher) ensure(ctx context.Context, credential core.Credential, force bool, staleToken string) (core.AccessGrant, core.Credential, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !credential.HasRefreshToken() {
		return core.AccessGrant{}, core.Credential{}, core.ConfigError("credential has no refresh_token", map[string]any{"missing": "refresh_token"})
	}
	if !force && r.fresh(credential) {
		return grantFor(credential, false), credential, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := credential
	if stored, err := r.store.Load(ctx); err == nil && stored.HasRefreshToken() {
		current = stored
	}
	if r.fresh(current) && (!force || current.AccessToken != staleToken) {
		return grantFor(current, false), current, nil
	}
	updated, err := r.refresh(ctx, current)
	if err != nil {
		return core.AccessGrant{}, core.Credential{}, err
	}
	return grantFor(updated, true), updated, nil
}

func (r *Refresher) refresh(ctx context.Context, credential core.Credential) (updated core.Credential, err error) {
	startedAt := time.Now()
	fields := map[string]any{"token_url": r.cfg.TokenURL}
	defer func() {
		if err == nil {
			fields["access_token"] = core.MaskSecret(updated.AccessToken)
			if updated.ExpiresAt != nil {
				fields["expires_at"] = updated.ExpiresAt.Format(time.RFC3339)
			}
			fields["api_domain"] = updated.APIDomain
		}
		r.observer.Observe(ctx, startedAt, "token_refresh", err, fields)
	}()

	payload, err := r.client.exchange(ctx, credential.RefreshToken)
	if err != nil {
		return core.Credential{}, err
	}

	now := r.now.Now()
	expiresAt := now.Add(time.Duration(payload.ExpiresIn) * time.Second)
	updated = credential.Clone()
	updated.AccessToken = payload.AccessToken
	updated.ExpiresAt = &expiresAt
	if payload.APIDomain != "" {
		updated.APIDomain = payload.APIDomain
	}
	// payload.RefreshToken is never persisted; only operators replace it.

	if err := r.store.Save(ctx, updated); err != nil {
		return core.Credential{}, err
	}
	return updated, nil
}

func (r *Refresher) fresh(credential core.Credential) bool {
	return core.IsCredentialFresh(r.now.Now(), credential, r.cfg.SafetyMargin)
}

func grantFor(credential core.Credential, refreshed bool) core.AccessGrant {
	var expiresAt *time.Time
	if credential.ExpiresAt != nil {
		value := credential.ExpiresAt.UTC()
		expiresAt = &value
	}
	return core.AccessGrant{
		Token:     credential.AccessToken,
		APIDomain: credential.APIDomain,
		ExpiresAt: expiresAt,
		Refreshed: refreshed,
	}
}

var _ core.TokenSource = (*Refresher)(nil)
