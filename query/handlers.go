package query

import (
	"context"
	"time"

	"github.com/goliatone/go-crmwatch/core"
	"github.com/goliatone/go-crmwatch/watch"
)

type WatchReader interface {
	List(ctx context.Context) ([]watch.Channel, error)
}

type CredentialReader interface {
	Credential(ctx context.Context) (core.Credential, error)
}

type ListWatchesQuery struct {
	reader WatchReader
	retry  core.RetryOptions
}

func NewListWatchesQuery(reader WatchReader, retry core.RetryOptions) *ListWatchesQuery {
	return &ListWatchesQuery{reader: reader, retry: retry}
}

func (q *ListWatchesQuery) Query(ctx context.Context, _ ListWatchesMessage) ([]watch.Channel, error) {
	if q == nil || q.reader == nil {
		return nil, core.InternalError("query: watch reader is required", map[string]any{"package": "query"})
	}
	var channels []watch.Channel
	err := core.Retry(ctx, q.retry, func(ctx context.Context) error {
		var err error
		channels, err = q.reader.List(ctx)
		return err
	})
	return channels, err
}

// CredentialInfo describes the stored credential with every secret masked.
type CredentialInfo struct {
	APIDomain          string
	ExpiresAt          *time.Time
	Fresh              bool
	Freshness          core.TokenFreshness
	MaskedAccessToken  string
	MaskedRefreshToken string
	ExtraKeys          int
}

type CredentialInfoQuery struct {
	reader CredentialReader
	margin time.Duration
	clock  core.Clock
}

func NewCredentialInfoQuery(reader CredentialReader, margin time.Duration, clock core.Clock) *CredentialInfoQuery {
	return &CredentialInfoQuery{reader: reader, margin: margin, clock: clock}
}

func (q *CredentialInfoQuery) Query(ctx context.Context, _ CredentialInfoMessage) (CredentialInfo, error) {
	if q == nil || q.reader == nil {
		return CredentialInfo{}, core.InternalError("query: credential reader is required", map[string]any{"package": "query"})
	}
	credential, err := q.reader.Credential(ctx)
	if err != nil {
		return CredentialInfo{}, err
	}
	freshness := credential.Freshness(q.clock.Now(), q.margin)
	return CredentialInfo{
		APIDomain:          credential.APIDomain,
		ExpiresAt:          credential.Clone().ExpiresAt,
		Fresh:              !freshness.NeedsRefresh(),
		Freshness:          freshness,
		MaskedAccessToken:  core.MaskSecret(credential.AccessToken),
		MaskedRefreshToken: core.MaskSecret(credential.RefreshToken),
		ExtraKeys:          len(credential.Extra),
	}, nil
}
