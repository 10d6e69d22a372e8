package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCredentialFreshness(t *testing.T) {
	now := time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Minute)
	soon := now.Add(30 * time.Second)
	later := now.Add(2 * time.Hour)

	cases := []struct {
		name string
		cred Credential
		want TokenFreshness
	}{
		{name: "missing_access_token", cred: Credential{RefreshToken: "r", ExpiresAt: &later}, want: TokenMissing},
		{name: "missing_expiry", cred: Credential{RefreshToken: "r", AccessToken: "a"}, want: TokenExpiryUnknown},
		{name: "expired", cred: Credential{RefreshToken: "r", AccessToken: "a", ExpiresAt: &expired}, want: TokenExpired},
		{name: "within_margin", cred: Credential{RefreshToken: "r", AccessToken: "a", ExpiresAt: &soon}, want: TokenExpiring},
		{name: "fresh", cred: Credential{RefreshToken: "r", AccessToken: "a", ExpiresAt: &later}, want: TokenFresh},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.cred.Freshness(now, DefaultRefreshSafetyMargin)
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
			if got.NeedsRefresh() != (tc.want != TokenFresh) {
				t.Fatalf("unexpected NeedsRefresh for %s", got)
			}
		})
	}
}

func TestCredentialFreshness_NegativeMarginUsesDefault(t *testing.T) {
	now := time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)
	soon := now.Add(30 * time.Second)
	cred := Credential{AccessToken: "a", ExpiresAt: &soon}
	if got := cred.Freshness(now, -time.Second); got != TokenExpiring {
		t.Fatalf("expected default margin to apply, got %s", got)
	}
	if got := cred.Freshness(now, 0); got != TokenFresh {
		t.Fatalf("expected zero margin to accept a future expiry, got %s", got)
	}
}

func TestIsCredentialFresh_BoundaryIsStale(t *testing.T) {
	now := time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)
	edge := now.Add(DefaultRefreshSafetyMargin)
	cred := Credential{RefreshToken: "r", AccessToken: "a", ExpiresAt: &edge}
	if IsCredentialFresh(now, cred, DefaultRefreshSafetyMargin) {
		t.Fatalf("expected expires_at == now+margin to require refresh")
	}
	justAfter := edge.Add(time.Second)
	cred.ExpiresAt = &justAfter
	if !IsCredentialFresh(now, cred, DefaultRefreshSafetyMargin) {
		t.Fatalf("expected token past the margin to be fresh")
	}
}

func TestCredentialClone_IsDeep(t *testing.T) {
	expires := time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)
	cred := Credential{
		RefreshToken: "r",
		ExpiresAt:    &expires,
		Extra:        map[string]json.RawMessage{"scope": json.RawMessage(`"ZohoBigin.modules.ALL"`)},
	}
	clone := cred.Clone()
	*clone.ExpiresAt = expires.Add(time.Hour)
	clone.Extra["scope"][1] = 'X'
	if !cred.ExpiresAt.Equal(expires) {
		t.Fatalf("expected original expiry to be untouched")
	}
	if string(cred.Extra["scope"]) != `"ZohoBigin.modules.ALL"` {
		t.Fatalf("expected original extra to be untouched, got %s", cred.Extra["scope"])
	}
}

func TestMaskSecret(t *testing.T) {
	if got := MaskSecret("1000.abcdef.123456"); got != "****3456" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := MaskSecret("abc"); got != "****" {
		t.Fatalf("unexpected short mask %q", got)
	}
	if MaskSecret("") != "" {
		t.Fatalf("expected empty mask for empty secret")
	}
}
