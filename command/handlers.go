package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-crmwatch/core"
	"github.com/goliatone/go-crmwatch/watch"
)

type WatchService interface {
	Register(ctx context.Context, sub core.Subscription) (watch.SubscriptionResult, error)
	Disable(ctx context.Context, channelIDs ...string) error
}

type TokenService interface {
	AccessToken(ctx context.Context) (core.AccessGrant, error)
	ForceRefresh(ctx context.Context, staleToken string) (core.AccessGrant, error)
	Credential(ctx context.Context) (core.Credential, error)
}

// RegisterWatchCommand registers a watch, retrying transient failures.
type RegisterWatchCommand struct {
	service WatchService
	retry   core.RetryOptions
}

func NewRegisterWatchCommand(service WatchService, retry core.RetryOptions) *RegisterWatchCommand {
	return &RegisterWatchCommand{service: service, retry: retry}
}

func (c *RegisterWatchCommand) Execute(ctx context.Context, msg RegisterWatchMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: watch service is required")
	}
	var out watch.SubscriptionResult
	err := core.Retry(ctx, c.retry, func(ctx context.Context) error {
		var err error
		out, err = c.service.Register(ctx, msg.Subscription)
		return err
	})
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisableWatchCommand struct {
	service WatchService
	retry   core.RetryOptions
}

func NewDisableWatchCommand(service WatchService, retry core.RetryOptions) *DisableWatchCommand {
	return &DisableWatchCommand{service: service, retry: retry}
}

func (c *DisableWatchCommand) Execute(ctx context.Context, msg DisableWatchMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: watch service is required")
	}
	return core.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.service.Disable(ctx, msg.ChannelIDs...)
	})
}

// TokenStatus is what a refresh reports back; it never carries the token.
type TokenStatus struct {
	Refreshed   bool
	APIDomain   string
	ExpiresAt   *time.Time
	MaskedToken string
}

type RefreshTokenCommand struct {
	service TokenService
	retry   core.RetryOptions
}

func NewRefreshTokenCommand(service TokenService, retry core.RetryOptions) *RefreshTokenCommand {
	return &RefreshTokenCommand{service: service, retry: retry}
}

func (c *RefreshTokenCommand) Execute(ctx context.Context, msg RefreshTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token service is required")
	}
	var grant core.AccessGrant
	err := core.Retry(ctx, c.retry, func(ctx context.Context) error {
		var err error
		if !msg.Force {
			grant, err = c.service.AccessToken(ctx)
			return err
		}
		current, err := c.service.Credential(ctx)
		if err != nil {
			return err
		}
		grant, err = c.service.ForceRefresh(ctx, current.AccessToken)
		return err
	})
	if err != nil {
		return err
	}
	storeResult(ctx, TokenStatus{
		Refreshed:   grant.Refreshed,
		APIDomain:   grant.APIDomain,
		ExpiresAt:   grant.ExpiresAt,
		MaskedToken: core.MaskSecret(grant.Token),
	})
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
