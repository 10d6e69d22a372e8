package main

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	crmwatch "github.com/goliatone/go-crmwatch"
	"github.com/goliatone/go-crmwatch/adapters/gocommand"
	"github.com/goliatone/go-crmwatch/adapters/gologger"
	"github.com/goliatone/go-crmwatch/core"
)

// Globals are the flags every command accepts. Non-empty values override
// the file and environment layers.
type Globals struct {
	Config         string           `help:"YAML configuration file." type:"path" env:"CRMWATCH_CONFIG"`
	LogLevel       string           `help:"Log level (trace, debug, info, warn, error)." name:"log-level"`
	LogFormat      string           `help:"Log format (json, console)." name:"log-format"`
	CredentialFile string           `help:"Credential file for the file backend." name:"credential-file"`
	Version        kong.VersionFlag `help:"Print the version and exit."`
}

type CLI struct {
	Globals

	Serve ServeCmd `cmd:"" help:"Run the webhook receiver."`
	Watch WatchCmd `cmd:"" help:"Manage watch channels."`
	Token TokenCmd `cmd:"" help:"Inspect or refresh the OAuth credential."`
}

// flagLayer turns the globals into the highest priority config layer.
func (g Globals) flagLayer() core.StaticConfig {
	raw := core.StaticConfig{}
	set := func(section, key, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		sub, _ := raw[section].(map[string]any)
		if sub == nil {
			sub = map[string]any{}
			raw[section] = sub
		}
		sub[key] = value
	}
	set("log", "level", g.LogLevel)
	set("log", "format", g.LogFormat)
	set("credentials", "path", g.CredentialFile)
	return raw
}

type app struct {
	ctx     context.Context
	runtime *crmwatch.Runtime
	sync    func() error
	out     io.Writer
}

func loadConfig(ctx context.Context, globals Globals) (core.Config, error) {
	return core.LoadConfig(ctx, core.ConfigSources{
		File:  core.YAMLFileLoader{Path: globals.Config, Required: strings.TrimSpace(globals.Config) != ""},
		Env:   core.EnvLoader{},
		Flags: globals.flagLayer(),
	})
}

func newApp(ctx context.Context, globals Globals, out io.Writer) (*app, error) {
	cfg, err := loadConfig(ctx, globals)
	if err != nil {
		return nil, err
	}
	root, err := gologger.NewZap(cfg.Log)
	if err != nil {
		return nil, err
	}
	provider := gologger.NewZapProvider(root)
	rt, err := crmwatch.New(ctx, cfg, crmwatch.WithLoggerProvider(provider))
	if err != nil {
		_ = provider.Sync()
		return nil, err
	}
	return &app{ctx: ctx, runtime: rt, sync: provider.Sync, out: out}, nil
}

func (a *app) Close() error {
	err := a.runtime.Close()
	// Sync on stderr fails on some terminals; the error is not actionable.
	_ = a.sync()
	return err
}

func (a *app) print(value any) error {
	encoder := json.NewEncoder(a.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

type ServeCmd struct{}

func (ServeCmd) Run(a *app) error {
	return a.runtime.Serve(a.ctx)
}

type WatchCmd struct {
	Register WatchRegisterCmd `cmd:"" help:"Register the configured channel."`
	List     WatchListCmd     `cmd:"" help:"List active channels."`
	Disable  WatchDisableCmd  `cmd:"" help:"Disable channels."`
}

type WatchRegisterCmd struct {
	ChannelID string   `help:"Channel id, overrides watch.channel_id." name:"channel-id"`
	Module    string   `help:"Module, overrides watch.module."`
	Events    []string `help:"Events, overrides watch.events." sep:","`
	NotifyURL string   `help:"Notify URL, overrides the configured base URL and callback path." name:"notify-url"`
}

func (c WatchRegisterCmd) subscription(base core.Subscription) core.Subscription {
	sub := base
	if value := strings.TrimSpace(c.ChannelID); value != "" {
		sub.ChannelID = value
	}
	if value := strings.TrimSpace(c.Module); value != "" {
		sub.Module = value
	}
	if events := core.SplitList(c.Events...); len(events) > 0 {
		sub.Events = events
	}
	if value := strings.TrimSpace(c.NotifyURL); value != "" {
		sub.NotifyURL = value
	}
	return sub
}

func (c WatchRegisterCmd) Run(a *app) error {
	cfg := a.runtime.Config
	if err := cfg.RequireClientCredentials(); err != nil {
		return err
	}
	if err := cfg.RequireVerifyToken(); err != nil {
		return err
	}
	result, err := gocommand.RegisterWatch(a.ctx, c.subscription(a.runtime.Subscription()))
	if err != nil {
		return err
	}
	return a.print(result)
}

type WatchListCmd struct{}

func (WatchListCmd) Run(a *app) error {
	if err := a.runtime.Config.RequireClientCredentials(); err != nil {
		return err
	}
	channels, err := gocommand.ListWatches(a.ctx)
	if err != nil {
		return err
	}
	return a.print(channels)
}

type WatchDisableCmd struct {
	ChannelIDs []string `arg:"" name:"channel-id" help:"Channel ids to disable."`
}

func (c WatchDisableCmd) Run(a *app) error {
	if err := a.runtime.Config.RequireClientCredentials(); err != nil {
		return err
	}
	if err := gocommand.DisableWatch(a.ctx, c.ChannelIDs...); err != nil {
		return err
	}
	return a.print(map[string]any{"disabled": c.ChannelIDs})
}

type TokenCmd struct {
	Refresh TokenRefreshCmd `cmd:"" help:"Return a valid access token, refreshing when stale."`
	Show    TokenShowCmd    `cmd:"" help:"Show the stored credential with secrets masked."`
}

type TokenRefreshCmd struct {
	Force bool `help:"Mint a new token even when the stored one is fresh."`
}

func (c TokenRefreshCmd) Run(a *app) error {
	if err := a.runtime.Config.RequireClientCredentials(); err != nil {
		return err
	}
	status, err := gocommand.RefreshToken(a.ctx, c.Force)
	if err != nil {
		return err
	}
	return a.print(status)
}

type TokenShowCmd struct{}

func (TokenShowCmd) Run(a *app) error {
	info, err := gocommand.CredentialInfo(a.ctx)
	if err != nil {
		return err
	}
	return a.print(info)
}
