package query

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-crmwatch/core"
	"github.com/goliatone/go-crmwatch/watch"
)

type stubWatchReader struct {
	errs  []error
	calls int
}

func (s *stubWatchReader) List(context.Context) ([]watch.Channel, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return []watch.Channel{{ChannelID: "1000000068001"}}, nil
}

type stubCredentialReader struct {
	credential core.Credential
}

func (s stubCredentialReader) Credential(context.Context) (core.Credential, error) {
	return s.credential, nil
}

func TestListWatchesQuery_RetriesTransientErrors(t *testing.T) {
	reader := &stubWatchReader{errs: []error{core.RateLimitedError("slow down", map[string]any{"retry_after_seconds": 0})}}
	q := NewListWatchesQuery(reader, core.RetryOptions{
		MaxAttempts: 2,
		Backoff:     core.ExponentialBackoffScheduler{Initial: time.Millisecond, Max: time.Millisecond},
	})
	channels, err := q.Query(context.Background(), ListWatchesMessage{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if reader.calls != 2 || len(channels) != 1 {
		t.Fatalf("unexpected result %d/%v", reader.calls, channels)
	}
}

func TestListWatchesQuery_StopsOnClientErrors(t *testing.T) {
	reader := &stubWatchReader{errs: []error{core.ClientRequestError(http.StatusForbidden, "no scope", nil)}}
	if _, err := NewListWatchesQuery(reader, core.RetryOptions{MaxAttempts: 3}).Query(context.Background(), ListWatchesMessage{}); err == nil {
		t.Fatalf("expected error")
	}
	if reader.calls != 1 {
		t.Fatalf("expected one call, got %d", reader.calls)
	}
}

func TestCredentialInfoQuery_MasksSecrets(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour)
	reader := stubCredentialReader{credential: core.Credential{
		RefreshToken: "1000.refresh-secret",
		AccessToken:  "1000.access-secret",
		ExpiresAt:    &expires,
		APIDomain:    "https://www.zohoapis.eu",
		Extra:        map[string]json.RawMessage{"scope": json.RawMessage(`"ZohoBigin.modules.ALL"`)},
	}}
	info, err := NewCredentialInfoQuery(reader, time.Minute, func() time.Time { return now }).Query(context.Background(), CredentialInfoMessage{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !info.Fresh || info.Freshness != core.TokenFresh || info.ExtraKeys != 1 || info.APIDomain != "https://www.zohoapis.eu" {
		t.Fatalf("unexpected info %#v", info)
	}
	if strings.Contains(info.MaskedAccessToken, "access-secret") || strings.Contains(info.MaskedRefreshToken, "refresh-secret") {
		t.Fatalf("secrets leaked: %#v", info)
	}
}

func TestQueries_RequireDependencies(t *testing.T) {
	if _, err := (&ListWatchesQuery{}).Query(context.Background(), ListWatchesMessage{}); !core.HasTextCode(err, core.ErrorInternal) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if _, err := (&CredentialInfoQuery{}).Query(context.Background(), CredentialInfoMessage{}); !core.HasTextCode(err, core.ErrorInternal) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}
