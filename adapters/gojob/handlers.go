package gojob

import (
	"context"

	"github.com/goliatone/go-crmwatch/core"
	"github.com/goliatone/go-crmwatch/watch"

	job "github.com/goliatone/go-job"
)

// Handler executes one delivered job.
type Handler func(ctx context.Context, msg *job.ExecutionMessage) error

type TokenRefresher interface {
	AccessToken(ctx context.Context) (core.AccessGrant, error)
	ForceRefresh(ctx context.Context, staleToken string) (core.AccessGrant, error)
	Credential(ctx context.Context) (core.Credential, error)
}

// TokenRefreshHandler validates the access token, refreshing it when stale or
// when the message carries force=true.
func TokenRefreshHandler(tokens TokenRefresher) Handler {
	return func(ctx context.Context, msg *job.ExecutionMessage) error {
		if tokens == nil {
			return core.InternalError("token refresher is not configured", map[string]any{"job_id": JobIDTokenRefresh})
		}
		if !boolParam(msg, paramForce) {
			_, err := tokens.AccessToken(ctx)
			return err
		}
		credential, err := tokens.Credential(ctx)
		if err != nil {
			return err
		}
		_, err = tokens.ForceRefresh(ctx, credential.AccessToken)
		return err
	}
}

// WatchRenewHandler re-registers sub with a fresh expiry.
func WatchRenewHandler(registrar watch.Registrar, sub core.Subscription) Handler {
	return func(ctx context.Context, _ *job.ExecutionMessage) error {
		if registrar == nil {
			return core.InternalError("watch registrar is not configured", map[string]any{"job_id": JobIDWatchRenew})
		}
		sub.ChannelExpiry = nil
		_, err := registrar.Register(ctx, sub)
		return err
	}
}
