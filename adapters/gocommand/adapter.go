// Package gocommand exposes the crmwatch commands and queries on the
// go-command dispatcher.
package gocommand

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	crmcommand "github.com/goliatone/go-crmwatch/command"
	"github.com/goliatone/go-crmwatch/core"
	crmquery "github.com/goliatone/go-crmwatch/query"
	"github.com/goliatone/go-crmwatch/watch"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

const queueResolverKey = "queue"

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

// Services are the runtime components the handlers delegate to.
type Services struct {
	Watches      crmcommand.WatchService
	WatchReader  crmquery.WatchReader
	Tokens       crmcommand.TokenService
	Retry        core.RetryOptions
	SafetyMargin time.Duration
	Clock        core.Clock
}

// Bus owns a command registry and the dispatcher subscriptions it created.
type Bus struct {
	registry *command.Registry

	mu            sync.Mutex
	subscriptions []commanddispatcher.Subscription
}

func NewBus(registry *command.Registry) *Bus {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &Bus{registry: registry}
}

func (b *Bus) Registry() *command.Registry {
	return b.registry
}

// MirrorToQueue registers every command in queueRegistry during Initialize so
// go-job workers can run them. Queries share the registry but have no
// Execute method, so they are left out.
func (b *Bus) MirrorToQueue(queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	mirror := jobqueuecommand.QueueResolver(queueRegistry)
	return b.registry.AddResolver(queueResolverKey, func(cmd any, meta command.CommandMeta, registry *command.Registry) error {
		if !executable(cmd) {
			return nil
		}
		return mirror(cmd, meta, registry)
	})
}

func executable(handler any) bool {
	if handler == nil {
		return false
	}
	return reflect.ValueOf(handler).MethodByName("Execute").IsValid()
}

// Install subscribes the handlers whose services are configured.
func (b *Bus) Install(services Services, runnerOpts ...runner.Option) error {
	if services.Watches != nil {
		if err := subscribe[crmcommand.RegisterWatchMessage](b, crmcommand.NewRegisterWatchCommand(services.Watches, services.Retry), runnerOpts...); err != nil {
			return err
		}
		if err := subscribe[crmcommand.DisableWatchMessage](b, crmcommand.NewDisableWatchCommand(services.Watches, services.Retry), runnerOpts...); err != nil {
			return err
		}
	}
	if services.WatchReader != nil {
		if err := subscribeQuery[crmquery.ListWatchesMessage, []watch.Channel](b, crmquery.NewListWatchesQuery(services.WatchReader, services.Retry), runnerOpts...); err != nil {
			return err
		}
	}
	if services.Tokens != nil {
		if err := subscribe[crmcommand.RefreshTokenMessage](b, crmcommand.NewRefreshTokenCommand(services.Tokens, services.Retry), runnerOpts...); err != nil {
			return err
		}
		if err := subscribeQuery[crmquery.CredentialInfoMessage, crmquery.CredentialInfo](b, crmquery.NewCredentialInfoQuery(services.Tokens, services.SafetyMargin, services.Clock), runnerOpts...); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) Initialize() error {
	return b.registry.Initialize()
}

// Close removes every dispatcher subscription created by the bus.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subscription := range b.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

func subscribe[T any](b *Bus, cmd command.Commander[T], runnerOpts ...runner.Option) error {
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := b.registry.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return err
	}
	b.track(subscription)
	return nil
}

func subscribeQuery[T any, R any](b *Bus, qry command.Querier[T, R], runnerOpts ...runner.Option) error {
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := b.registry.RegisterCommand(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return err
	}
	b.track(subscription)
	return nil
}

func (b *Bus) track(subscription commanddispatcher.Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = append(b.subscriptions, subscription)
}

// RegisterWatch dispatches a register command and returns its result.
func RegisterWatch(ctx context.Context, sub core.Subscription) (watch.SubscriptionResult, error) {
	msg := crmcommand.RegisterWatchMessage{Subscription: sub}
	if err := msg.Validate(); err != nil {
		return watch.SubscriptionResult{}, err
	}
	collector := command.NewResult[watch.SubscriptionResult]()
	if err := commanddispatcher.Dispatch(command.ContextWithResult(ctx, collector), msg); err != nil {
		return watch.SubscriptionResult{}, err
	}
	result, _ := collector.Load()
	return result, nil
}

func DisableWatch(ctx context.Context, channelIDs ...string) error {
	msg := crmcommand.DisableWatchMessage{ChannelIDs: channelIDs}
	if err := msg.Validate(); err != nil {
		return err
	}
	return commanddispatcher.Dispatch(ctx, msg)
}

func RefreshToken(ctx context.Context, force bool) (crmcommand.TokenStatus, error) {
	collector := command.NewResult[crmcommand.TokenStatus]()
	if err := commanddispatcher.Dispatch(command.ContextWithResult(ctx, collector), crmcommand.RefreshTokenMessage{Force: force}); err != nil {
		return crmcommand.TokenStatus{}, err
	}
	status, _ := collector.Load()
	return status, nil
}

func ListWatches(ctx context.Context) ([]watch.Channel, error) {
	return commanddispatcher.Query[crmquery.ListWatchesMessage, []watch.Channel](ctx, crmquery.ListWatchesMessage{})
}

func CredentialInfo(ctx context.Context) (crmquery.CredentialInfo, error) {
	return commanddispatcher.Query[crmquery.CredentialInfoMessage, crmquery.CredentialInfo](ctx, crmquery.CredentialInfoMessage{})
}
