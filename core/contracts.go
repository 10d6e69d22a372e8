package core

import (
	"context"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CredentialStore persists the single credential record of a process.
//
// Implementations only need to be safe for one writer process; callers that
// refresh concurrently serialize through the oauth refresher.
type CredentialStore interface {
	Load(ctx context.Context) (Credential, error)
	Save(ctx context.Context, credential Credential) error
}

// TokenSource hands out valid access tokens.
type TokenSource interface {
	AccessToken(ctx context.Context) (AccessGrant, error)
	// ForceRefresh mints a new token unless the stored one already differs
	// from staleToken.
	ForceRefresh(ctx context.Context, staleToken string) (AccessGrant, error)
}

// NotificationDispatcher receives verified notifications. Errors are logged
// by the caller and never change the acknowledgement sent to the vendor.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, notification Notification) error
}

type DispatcherFunc func(ctx context.Context, notification Notification) error

func (f DispatcherFunc) Dispatch(ctx context.Context, notification Notification) error {
	if f == nil {
		return nil
	}
	return f(ctx, notification)
}

type Clock func() time.Time

func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
