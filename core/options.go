package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cfgx "github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
	"gopkg.in/yaml.v3"
)

// RawConfigLoader produces one layer of untyped configuration keyed by the
// koanf tags of Config.
type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type RawConfigLoaderFunc func(ctx context.Context) (map[string]any, error)

func (fn RawConfigLoaderFunc) LoadRaw(ctx context.Context) (map[string]any, error) {
	if fn == nil {
		return map[string]any{}, nil
	}
	return fn(ctx)
}

// StaticConfig is a fixed layer, used for CLI flags and tests.
type StaticConfig map[string]any

func (s StaticConfig) LoadRaw(context.Context) (map[string]any, error) {
	return cloneLayer(s), nil
}

// YAMLFileLoader reads a YAML document. A missing file is an empty layer
// unless Required is set.
type YAMLFileLoader struct {
	Path     string
	Required bool
}

func (l YAMLFileLoader) LoadRaw(context.Context) (map[string]any, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !l.Required {
			return map[string]any{}, nil
		}
		return nil, WrapConfigError(err, "read config file", map[string]any{"path": path})
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, WrapConfigError(err, "parse config file", map[string]any{"path": path})
	}
	return normalizeLayer(raw)
}

// envBindings maps environment variables onto config paths. Legacy names
// are listed before their CRMWATCH_ counterparts so the prefixed form wins.
var envBindings = []struct {
	name string
	path string
}{
	{"Z_CLIENT_ID", "oauth.client_id"},
	{"CRMWATCH_OAUTH_CLIENT_ID", "oauth.client_id"},
	{"Z_CLIENT_SECRET", "oauth.client_secret"},
	{"CRMWATCH_OAUTH_CLIENT_SECRET", "oauth.client_secret"},
	{"ACCOUNTS_URL", "oauth.accounts_url"},
	{"CRMWATCH_OAUTH_ACCOUNTS_URL", "oauth.accounts_url"},
	{"CRMWATCH_OAUTH_SAFETY_MARGIN", "oauth.safety_margin"},
	{"API_BASE", "api.default_domain"},
	{"CRMWATCH_API_DEFAULT_DOMAIN", "api.default_domain"},
	{"CRMWATCH_API_BASE_PATH", "api.base_path"},
	{"CRMWATCH_API_TIMEOUT", "api.timeout"},
	{"TOK_FILE", "credentials.path"},
	{"CRMWATCH_CREDENTIALS_PATH", "credentials.path"},
	{"CRMWATCH_CREDENTIALS_BACKEND", "credentials.backend"},
	{"CRMWATCH_CREDENTIALS_DSN", "credentials.dsn"},
	{"CRMWATCH_CREDENTIALS_PROFILE", "credentials.profile"},
	{"CRMWATCH_CREDENTIALS_CACHE_TTL", "credentials.cache_ttl"},
	{"VERIFY_TOKEN", "watch.verify_token"},
	{"CRMWATCH_WATCH_VERIFY_TOKEN", "watch.verify_token"},
	{"WEBHOOK_URL", "watch.webhook_base_url"},
	{"CRMWATCH_WATCH_WEBHOOK_BASE_URL", "watch.webhook_base_url"},
	{"CHANNEL_ID", "watch.channel_id"},
	{"CRMWATCH_WATCH_CHANNEL_ID", "watch.channel_id"},
	{"WATCH_EVENTS", "watch.events"},
	{"CRMWATCH_WATCH_EVENTS", "watch.events"},
	{"CRMWATCH_WATCH_MODULE", "watch.module"},
	{"CRMWATCH_WATCH_CALLBACK_PATH", "watch.callback_path"},
	{"CRMWATCH_WATCH_ALLOW_INSECURE", "watch.allow_insecure"},
	{"CRMWATCH_WATCH_RENEW_INTERVAL", "watch.renew_interval"},
	{"CRMWATCH_SERVER_ADDR", "server.addr"},
	{"CRMWATCH_RETRY_MAX_ATTEMPTS", "retry.max_attempts"},
	{"CRMWATCH_LOG_LEVEL", "log.level"},
	{"CRMWATCH_LOG_FORMAT", "log.format"},
}

// EnvLoader reads the process environment. Lookup is injectable for tests.
type EnvLoader struct {
	Lookup func(string) (string, bool)
}

func (l EnvLoader) LoadRaw(context.Context) (map[string]any, error) {
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	raw := map[string]any{}
	for _, binding := range envBindings {
		value, ok := lookup(binding.name)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		setPath(raw, binding.path, strings.TrimSpace(value))
	}
	return normalizeLayer(raw)
}

// ConfigSources are the layers above the built-in defaults, lowest priority
// first. Nil sources contribute nothing.
type ConfigSources struct {
	File  RawConfigLoader
	Env   RawConfigLoader
	Flags RawConfigLoader
}

// LoadConfig merges defaults < file < env < flags through an options stack
// and decodes the result into a validated Config.
func LoadConfig(ctx context.Context, sources ConfigSources) (Config, error) {
	defaults := DefaultConfig()
	if ctx == nil {
		ctx = context.Background()
	}
	fileLayer, err := loadLayer(ctx, sources.File)
	if err != nil {
		return Config{}, err
	}
	envLayer, err := loadLayer(ctx, sources.Env)
	if err != nil {
		return Config{}, err
	}
	flagLayer, err := loadLayer(ctx, sources.Flags)
	if err != nil {
		return Config{}, err
	}

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("file", 10),
			fileLayer,
			opts.WithSnapshotID[map[string]any]("file"),
		),
		opts.NewLayer(
			opts.NewScope("env", 20),
			envLayer,
			opts.WithSnapshotID[map[string]any]("env"),
		),
		opts.NewLayer(
			opts.NewScope("flags", 30),
			flagLayer,
			opts.WithSnapshotID[map[string]any]("flags"),
		),
	)
	if err != nil {
		return Config{}, WrapConfigError(err, "options stack build failed", nil)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, WrapConfigError(err, "options merge failed", nil)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, WrapConfigError(err, "invalid configuration", nil)
	}
	resolved.Watch.Events = SplitList(resolved.Watch.Events...)
	return resolved, nil
}

func loadLayer(ctx context.Context, loader RawConfigLoader) (map[string]any, error) {
	if loader == nil {
		return map[string]any{}, nil
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return map[string]any{}, nil
	}
	return raw, nil
}

// SplitList flattens comma separated values and drops blanks.
func SplitList(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func configToLayerMap(cfg Config) map[string]any {
	return map[string]any{
		"service_name": cfg.ServiceName,
		"oauth": map[string]any{
			"client_id":     cfg.OAuth.ClientID,
			"client_secret": cfg.OAuth.ClientSecret,
			"accounts_url":  cfg.OAuth.AccountsURL,
			"token_path":    cfg.OAuth.TokenPath,
			"safety_margin": cfg.OAuth.SafetyMargin,
		},
		"api": map[string]any{
			"default_domain": cfg.API.DefaultDomain,
			"base_path":      cfg.API.BasePath,
			"auth_scheme":    cfg.API.AuthScheme,
			"timeout":        cfg.API.Timeout,
		},
		"credentials": map[string]any{
			"backend":   cfg.Credentials.Backend,
			"path":      cfg.Credentials.Path,
			"dsn":       cfg.Credentials.DSN,
			"profile":   cfg.Credentials.Profile,
			"cache_ttl": cfg.Credentials.CacheTTL,
		},
		"watch": map[string]any{
			"verify_token":     cfg.Watch.VerifyToken,
			"webhook_base_url": cfg.Watch.WebhookBaseURL,
			"channel_id":       cfg.Watch.ChannelID,
			"module":           cfg.Watch.Module,
			"events":           append([]string(nil), cfg.Watch.Events...),
			"callback_path":    cfg.Watch.CallbackPath,
			"allow_insecure":   cfg.Watch.AllowInsecure,
			"renew_interval":   cfg.Watch.RenewInterval,
			"channel_ttl":      cfg.Watch.ChannelTTL,
		},
		"server": map[string]any{
			"addr":           cfg.Server.Addr,
			"health_path":    cfg.Server.HealthPath,
			"read_timeout":   cfg.Server.ReadTimeout,
			"write_timeout":  cfg.Server.WriteTimeout,
			"max_body_bytes": cfg.Server.MaxBodyBytes,
		},
		"retry": map[string]any{
			"max_attempts":    cfg.Retry.MaxAttempts,
			"initial_backoff": cfg.Retry.InitialBackoff,
			"max_backoff":     cfg.Retry.MaxBackoff,
		},
		"log": map[string]any{
			"level":  cfg.Log.Level,
			"format": cfg.Log.Format,
		},
	}
}

var durationPaths = map[string]struct{}{
	"oauth.safety_margin":   {},
	"api.timeout":           {},
	"credentials.cache_ttl": {},
	"watch.renew_interval":  {},
	"watch.channel_ttl":     {},
	"server.read_timeout":   {},
	"server.write_timeout":  {},
	"retry.initial_backoff": {},
	"retry.max_backoff":     {},
}

var boolPaths = map[string]struct{}{
	"watch.allow_insecure": {},
}

var intPaths = map[string]struct{}{
	"retry.max_attempts":    {},
	"server.max_body_bytes": {},
}

// normalizeLayer converts textual durations, booleans, integers and comma
// lists so every layer decodes the same way regardless of its source.
func normalizeLayer(raw map[string]any) (map[string]any, error) {
	out := cloneLayer(raw)
	if err := normalizeSection(out, ""); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeSection(section map[string]any, prefix string) error {
	for key, value := range section {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			if err := normalizeSection(nested, path); err != nil {
				return err
			}
			continue
		}
		text, isText := value.(string)
		switch {
		case path == "watch.events":
			if isText {
				section[key] = SplitList(text)
			}
		case path == "watch.channel_id":
			// yaml decodes bare numbers as int; ids stay textual.
			if !isText && value != nil {
				section[key] = fmt.Sprint(value)
			}
		case hasPath(durationPaths, path) && isText:
			parsed, err := parseDuration(text)
			if err != nil {
				return ConfigError("invalid duration", map[string]any{"option": path, "value": text})
			}
			section[key] = parsed
		case hasPath(boolPaths, path) && isText:
			parsed, err := strconv.ParseBool(strings.TrimSpace(text))
			if err != nil {
				return ConfigError("invalid boolean", map[string]any{"option": path, "value": text})
			}
			section[key] = parsed
		case hasPath(intPaths, path) && isText:
			parsed, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
			if err != nil {
				return ConfigError("invalid integer", map[string]any{"option": path, "value": text})
			}
			section[key] = parsed
		}
	}
	return nil
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(text string) (time.Duration, error) {
	text = strings.TrimSpace(text)
	if seconds, err := strconv.ParseFloat(text, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	return time.ParseDuration(text)
}

func hasPath(set map[string]struct{}, path string) bool {
	_, ok := set[path]
	return ok
}

func setPath(raw map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := raw
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

func cloneLayer(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		if nested, ok := value.(map[string]any); ok {
			out[key] = cloneLayer(nested)
			continue
		}
		out[key] = value
	}
	return out
}
