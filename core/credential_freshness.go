package core

import (
	"strings"
	"time"
)

const DefaultRefreshSafetyMargin = 60 * time.Second

// TokenFreshness classifies the stored access token against a safety margin.
type TokenFreshness string

const (
	TokenMissing       TokenFreshness = "missing"
	TokenExpiryUnknown TokenFreshness = "expiry_unknown"
	TokenExpired       TokenFreshness = "expired"
	TokenExpiring      TokenFreshness = "expiring"
	TokenFresh         TokenFreshness = "fresh"
)

// NeedsRefresh is false only for TokenFresh.
func (f TokenFreshness) NeedsRefresh() bool {
	return f != TokenFresh
}

// Freshness reports where credential sits relative to now. A token whose
// expiry falls inside [now, now+margin] is expiring; a negative margin means
// the default.
func (c Credential) Freshness(now time.Time, margin time.Duration) TokenFreshness {
	if strings.TrimSpace(c.AccessToken) == "" {
		return TokenMissing
	}
	if c.ExpiresAt == nil {
		return TokenExpiryUnknown
	}
	if now.IsZero() {
		now = time.Now()
	}
	if margin < 0 {
		margin = DefaultRefreshSafetyMargin
	}
	expiresAt := c.ExpiresAt.UTC()
	now = now.UTC()
	switch {
	case !expiresAt.After(now):
		return TokenExpired
	case !expiresAt.After(now.Add(margin)):
		return TokenExpiring
	}
	return TokenFresh
}

// IsCredentialFresh is true when credential can be used without refreshing.
func IsCredentialFresh(now time.Time, credential Credential, margin time.Duration) bool {
	return !credential.Freshness(now, margin).NeedsRefresh()
}
