// Package crmwatch wires the credential store, OAuth refresher, CRM client,
// watch manager and webhook receiver into one runtime.
package crmwatch

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/goliatone/go-command"
	"github.com/goliatone/go-crmwatch/adapters/gocommand"
	"github.com/goliatone/go-crmwatch/adapters/gojob"
	"github.com/goliatone/go-crmwatch/adapters/gologger"
	"github.com/goliatone/go-crmwatch/core"
	"github.com/goliatone/go-crmwatch/crm"
	"github.com/goliatone/go-crmwatch/oauth"
	filestore "github.com/goliatone/go-crmwatch/store/file"
	sqlstore "github.com/goliatone/go-crmwatch/store/sql"
	"github.com/goliatone/go-crmwatch/watch"
	"github.com/goliatone/go-crmwatch/webhook"
	"github.com/goliatone/go-job/queue"
	"golang.org/x/sync/errgroup"
)

type Option func(*options)

type options struct {
	logger         core.Logger
	loggerProvider core.LoggerProvider
	httpClient     core.HTTPDoer
	clock          core.Clock
	store          core.CredentialStore
	dispatcher     core.NotificationDispatcher
	registry       *command.Registry
}

func WithLogger(logger core.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(o *options) { o.loggerProvider = provider }
}

// WithHTTPClient replaces the client used for the token and CRM endpoints.
func WithHTTPClient(client core.HTTPDoer) Option {
	return func(o *options) { o.httpClient = client }
}

func WithClock(clock core.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithCredentialStore skips the configured backend.
func WithCredentialStore(store core.CredentialStore) Option {
	return func(o *options) { o.store = store }
}

// WithDispatcher receives verified notifications. The default only logs them.
func WithDispatcher(dispatcher core.NotificationDispatcher) Option {
	return func(o *options) { o.dispatcher = dispatcher }
}

func WithCommandRegistry(registry *command.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// Runtime holds the wired components of one process.
type Runtime struct {
	Config  core.Config
	Store   core.CredentialStore
	Tokens  *oauth.Refresher
	Client  *crm.Client
	Watches *watch.Manager
	Renewer *watch.Renewer
	Bus     *gocommand.Bus

	loggers    gologger.Loggers
	dispatcher core.NotificationDispatcher

	closeOnce sync.Once
	closers   []func() error
}

// New builds a runtime for cfg. Client credentials and the verify token are
// checked by the operations that need them.
func New(ctx context.Context, cfg core.Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, core.WrapConfigError(err, "crmwatch: invalid configuration", nil)
	}
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	loggers := gologger.NewLoggers(cfg.ServiceName, o.loggerProvider, o.logger)
	rt := &Runtime{Config: cfg, loggers: loggers, dispatcher: o.dispatcher}

	store, err := rt.openStore(ctx, o.store)
	if err != nil {
		return nil, err
	}
	rt.Store = store

	rt.Tokens, err = oauth.New(oauth.ConfigFromCore(cfg), store,
		oauth.WithHTTPClient(o.httpClient),
		oauth.WithClock(o.clock),
		oauth.WithLoggerProvider(loggers.Provider()),
	)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	rt.Client, err = crm.New(rt.Tokens, crm.ConfigFromCore(cfg),
		crm.WithHTTPClient(o.httpClient),
		crm.WithLogger(rt.named(gologger.ComponentCRM)),
	)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	rt.Watches, err = watch.NewManager(rt.Client,
		watch.WithLogger(rt.named(gologger.ComponentWatch)),
		watch.WithClock(o.clock),
		watch.WithAllowInsecure(cfg.Watch.AllowInsecure),
		watch.WithChannelTTL(cfg.Watch.ChannelTTL),
	)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	retry := core.RetryOptionsFromConfig(cfg.Retry)
	rt.Renewer = &watch.Renewer{
		Registrar:    rt.Watches,
		Subscription: watch.SubscriptionFromConfig(cfg),
		Interval:     cfg.Watch.RenewInterval,
		Retry:        retry,
		Observer:     core.NewObserver(rt.named(gologger.ComponentRenewer)),
	}

	rt.Bus = gocommand.NewBus(o.registry)
	rt.closers = append(rt.closers, func() error {
		rt.Bus.Close()
		return nil
	})
	if err := rt.Bus.Install(gocommand.Services{
		Watches:      rt.Watches,
		WatchReader:  rt.Watches,
		Tokens:       rt.Tokens,
		Retry:        retry,
		SafetyMargin: cfg.OAuth.SafetyMargin,
		Clock:        o.clock,
	}); err != nil {
		_ = rt.Close()
		return nil, err
	}
	if err := rt.Bus.Initialize(); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context, injected core.CredentialStore) (core.CredentialStore, error) {
	if injected != nil {
		return injected, nil
	}
	switch strings.ToLower(strings.TrimSpace(rt.Config.Credentials.Backend)) {
	case core.CredentialBackendSQLite:
		backend, err := sqlstore.Open(ctx, rt.Config.Credentials)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, backend.Close)
		return backend.Store(), nil
	default:
		return filestore.New(rt.Config.Credentials.Path), nil
	}
}

func (rt *Runtime) named(component string) core.Logger {
	return rt.loggers.Component(component)
}

func (rt *Runtime) Logger() core.Logger {
	return rt.loggers.Root()
}

// Subscription is the configured watch subscription.
func (rt *Runtime) Subscription() core.Subscription {
	return watch.SubscriptionFromConfig(rt.Config)
}

// WebhookHandler returns the router serving the callback and health paths.
func (rt *Runtime) WebhookHandler() (http.Handler, error) {
	if err := rt.Config.RequireVerifyToken(); err != nil {
		return nil, err
	}
	logger := rt.named(gologger.ComponentWebhook)
	handler, err := webhook.NewHandler(
		webhook.Verifier{Token: rt.Config.Watch.VerifyToken, ChannelID: rt.Config.Watch.ChannelID},
		rt.dispatcher,
		webhook.WithLogger(logger),
		webhook.WithMaxBodyBytes(rt.Config.Server.MaxBodyBytes),
	)
	if err != nil {
		return nil, err
	}
	return webhook.NewRouter(webhook.RouterConfigFromCore(rt.Config), handler, logger), nil
}

// Serve runs the webhook server and, when a renew interval is configured, the
// renewal loop until ctx is cancelled.
func (rt *Runtime) Serve(ctx context.Context) error {
	router, err := rt.WebhookHandler()
	if err != nil {
		return err
	}
	server := webhook.NewServer(rt.Config.Server, router, rt.named(gologger.ComponentServer))

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.ListenAndServe(ctx)
	})
	group.Go(func() error {
		return rt.Renewer.Run(ctx)
	})
	return group.Wait()
}

// JobWorker returns a go-job worker running token refresh and watch renewal
// for the host queue behind dequeuer.
func (rt *Runtime) JobWorker(dequeuer queue.Dequeuer, opts ...gojob.WorkerOption) (*gojob.Worker, error) {
	if dequeuer == nil {
		return nil, core.ConfigError("crmwatch: job dequeuer is required", nil)
	}
	logger := rt.named(gologger.ComponentJobs)
	defaults := []gojob.WorkerOption{
		gojob.WithLogger(logger),
		gojob.WithRetryPolicy(gojob.RetryPolicyFromConfig(rt.Config.Retry)),
		gojob.WithBackoff(core.RetryOptionsFromConfig(rt.Config.Retry).Backoff),
		gojob.WithHooks(gojob.LoggingHook{Observer: core.NewObserver(logger)}),
	}
	w := gojob.NewWorker(dequeuer, append(defaults, opts...)...)
	if err := w.Handle(gojob.JobIDTokenRefresh, gojob.TokenRefreshHandler(rt.Tokens)); err != nil {
		return nil, err
	}
	if err := w.Handle(gojob.JobIDWatchRenew, gojob.WatchRenewHandler(rt.Watches, rt.Subscription())); err != nil {
		return nil, err
	}
	return w, nil
}

// Close releases the store backend and the dispatcher subscriptions.
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	rt.closeOnce.Do(func() {
		for i := len(rt.closers) - 1; i >= 0; i-- {
			if err := rt.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
