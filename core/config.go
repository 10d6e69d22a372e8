package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	CredentialBackendFile   = "file"
	CredentialBackendSQLite = "sqlite"
)

type OAuthConfig struct {
	ClientID     string        `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret string        `koanf:"client_secret" mapstructure:"client_secret"`
	AccountsURL  string        `koanf:"accounts_url" mapstructure:"accounts_url"`
	TokenPath    string        `koanf:"token_path" mapstructure:"token_path"`
	SafetyMargin time.Duration `koanf:"safety_margin" mapstructure:"safety_margin"`
}

type APIConfig struct {
	DefaultDomain string        `koanf:"default_domain" mapstructure:"default_domain"`
	BasePath      string        `koanf:"base_path" mapstructure:"base_path"`
	AuthScheme    string        `koanf:"auth_scheme" mapstructure:"auth_scheme"`
	Timeout       time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

type CredentialsConfig struct {
	Backend  string        `koanf:"backend" mapstructure:"backend"`
	Path     string        `koanf:"path" mapstructure:"path"`
	DSN      string        `koanf:"dsn" mapstructure:"dsn"`
	Profile  string        `koanf:"profile" mapstructure:"profile"`
	CacheTTL time.Duration `koanf:"cache_ttl" mapstructure:"cache_ttl"`
}

type WatchConfig struct {
	VerifyToken    string        `koanf:"verify_token" mapstructure:"verify_token"`
	WebhookBaseURL string        `koanf:"webhook_base_url" mapstructure:"webhook_base_url"`
	ChannelID      string        `koanf:"channel_id" mapstructure:"channel_id"`
	Module         string        `koanf:"module" mapstructure:"module"`
	Events         []string      `koanf:"events" mapstructure:"events"`
	CallbackPath   string        `koanf:"callback_path" mapstructure:"callback_path"`
	AllowInsecure  bool          `koanf:"allow_insecure" mapstructure:"allow_insecure"`
	RenewInterval  time.Duration `koanf:"renew_interval" mapstructure:"renew_interval"`
	ChannelTTL     time.Duration `koanf:"channel_ttl" mapstructure:"channel_ttl"`
}

type ServerConfig struct {
	Addr         string        `koanf:"addr" mapstructure:"addr"`
	HealthPath   string        `koanf:"health_path" mapstructure:"health_path"`
	ReadTimeout  time.Duration `koanf:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout" mapstructure:"write_timeout"`
	MaxBodyBytes int64         `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
}

type RetryConfig struct {
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
}

type LogConfig struct {
	Level  string `koanf:"level" mapstructure:"level"`
	Format string `koanf:"format" mapstructure:"format"`
}

type Config struct {
	ServiceName string            `koanf:"service_name" mapstructure:"service_name"`
	OAuth       OAuthConfig       `koanf:"oauth" mapstructure:"oauth"`
	API         APIConfig         `koanf:"api" mapstructure:"api"`
	Credentials CredentialsConfig `koanf:"credentials" mapstructure:"credentials"`
	Watch       WatchConfig       `koanf:"watch" mapstructure:"watch"`
	Server      ServerConfig      `koanf:"server" mapstructure:"server"`
	Retry       RetryConfig       `koanf:"retry" mapstructure:"retry"`
	Log         LogConfig         `koanf:"log" mapstructure:"log"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "crmwatch",
		OAuth: OAuthConfig{
			AccountsURL:  "https://accounts.zoho.eu",
			TokenPath:    "/oauth/v2/token",
			SafetyMargin: DefaultRefreshSafetyMargin,
		},
		API: APIConfig{
			DefaultDomain: "https://www.zohoapis.eu",
			BasePath:      "/bigin/v2",
			AuthScheme:    "Zoho-oauthtoken",
			Timeout:       10 * time.Second,
		},
		Credentials: CredentialsConfig{
			Backend: CredentialBackendFile,
			Path:    "tokens.json",
			Profile: "default",
		},
		Watch: WatchConfig{
			Module:       "Contacts",
			Events:       []string{"Contacts.create", "Contacts.edit"},
			CallbackPath: "/bigin-webhook",
		},
		Server: ServerConfig{
			Addr:         ":8000",
			HealthPath:   "/healthz",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			MaxBodyBytes: 1 << 20,
		},
		Retry: RetryConfig{
			MaxAttempts:    DefaultRetryMaxAttempts,
			InitialBackoff: DefaultRetryInitialBackoff,
			MaxBackoff:     DefaultRetryMaxBackoff,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the settings every command needs. Component specific
// requirements (client credentials, verify token) are checked where they are
// used so a missing option is reported by name.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Credentials.Backend)) {
	case CredentialBackendFile:
		if strings.TrimSpace(c.Credentials.Path) == "" {
			return fmt.Errorf("core: credentials.path is required for the file backend")
		}
	case CredentialBackendSQLite:
		if strings.TrimSpace(c.Credentials.DSN) == "" && strings.TrimSpace(c.Credentials.Path) == "" {
			return fmt.Errorf("core: credentials.dsn or credentials.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("core: unsupported credentials.backend %q", c.Credentials.Backend)
	}
	if _, err := url.ParseRequestURI(strings.TrimSpace(c.OAuth.AccountsURL)); err != nil {
		return fmt.Errorf("core: oauth.accounts_url is invalid: %w", err)
	}
	if c.OAuth.SafetyMargin < 0 {
		return fmt.Errorf("core: oauth.safety_margin must not be negative")
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("core: api.timeout must not be negative")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("core: retry.max_attempts must not be negative")
	}
	return nil
}

// RequireClientCredentials reports which OAuth client option is missing.
func (c Config) RequireClientCredentials() error {
	missing := []string{}
	if strings.TrimSpace(c.OAuth.ClientID) == "" {
		missing = append(missing, "client_id")
	}
	if strings.TrimSpace(c.OAuth.ClientSecret) == "" {
		missing = append(missing, "client_secret")
	}
	if len(missing) > 0 {
		return ConfigError("oauth client credentials are not configured", map[string]any{
			"missing": strings.Join(missing, ","),
			"env":     "Z_CLIENT_ID / Z_CLIENT_SECRET",
		})
	}
	return nil
}

// RequireVerifyToken reports a missing shared verification token.
func (c Config) RequireVerifyToken() error {
	if strings.TrimSpace(c.Watch.VerifyToken) == "" {
		return ConfigError("watch verify token is not configured", map[string]any{
			"missing": "verify_token",
			"env":     "VERIFY_TOKEN",
		})
	}
	return nil
}

// TokenURL joins the accounts host with the token path.
func (c Config) TokenURL() string {
	base := strings.TrimRight(strings.TrimSpace(c.OAuth.AccountsURL), "/")
	path := strings.TrimSpace(c.OAuth.TokenPath)
	if path == "" {
		path = "/oauth/v2/token"
	}
	return base + "/" + strings.TrimLeft(path, "/")
}
