package watch

import (
	"context"
	"time"

	"github.com/goliatone/go-crmwatch/core"
)

// Registrar is the part of Manager the renewer drives.
type Registrar interface {
	Register(ctx context.Context, sub core.Subscription) (SubscriptionResult, error)
}

// Renewer re-registers a subscription on a fixed interval so the channel
// never reaches its expiry. Each tick is retried through core.Retry.
type Renewer struct {
	Registrar    Registrar
	Subscription core.Subscription
	Interval     time.Duration
	Retry        core.RetryOptions
	Observer     core.Observer
	// OnRenewed is called after every successful registration.
	OnRenewed func(SubscriptionResult)
}

// RenewOnce registers the subscription, retrying transient failures.
func (r *Renewer) RenewOnce(ctx context.Context) (SubscriptionResult, error) {
	if r == nil || r.Registrar == nil {
		return SubscriptionResult{}, core.ConfigError("watch: renewer requires a registrar", nil)
	}
	var result SubscriptionResult
	opts := r.Retry
	if opts.OnRetry == nil {
		opts.OnRetry = func(attempt int, delay time.Duration, err error) {
			r.Observer.Log(ctx, "warn", "watch renew retrying", map[string]any{
				"attempt":    attempt,
				"delay_ms":   delay.Milliseconds(),
				"channel_id": r.Subscription.ChannelID,
				"error":      err.Error(),
			})
		}
	}
	err := core.Retry(ctx, opts, func(ctx context.Context) error {
		var err error
		result, err = r.Registrar.Register(ctx, r.Subscription)
		return err
	})
	if err != nil {
		return SubscriptionResult{}, err
	}
	if r.OnRenewed != nil {
		r.OnRenewed(result)
	}
	return result, nil
}

// Run renews immediately and then every Interval until ctx is done. A zero
// interval disables renewal and Run returns at once. Failed renewals are
// logged and the loop keeps going.
func (r *Renewer) Run(ctx context.Context) error {
	if r == nil || r.Interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.RenewOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.Observer.Log(ctx, "error", "watch renew failed", map[string]any{
				"channel_id": r.Subscription.ChannelID,
				"error":      core.Describe(err),
			})
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SubscriptionFromConfig builds the configured subscription.
func SubscriptionFromConfig(cfg core.Config) core.Subscription {
	events := append([]string(nil), cfg.Watch.Events...)
	return core.Subscription{
		Module:      cfg.Watch.Module,
		Events:      events,
		NotifyURL:   NotifyURL(cfg.Watch.WebhookBaseURL, cfg.Watch.CallbackPath),
		VerifyToken: cfg.Watch.VerifyToken,
		ChannelID:   cfg.Watch.ChannelID,
	}
}
