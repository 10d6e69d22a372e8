package core

import (
	"encoding/json"
	"strings"
	"time"
)

// Credential is the refresh/access token pair persisted by a CredentialStore.
type Credential struct {
	RefreshToken string
	AccessToken  string
	ExpiresAt    *time.Time
	APIDomain    string
	// Extra keeps fields of the persisted record this module does not own.
	Extra map[string]json.RawMessage
}

func (c Credential) Clone() Credential {
	out := c
	if c.ExpiresAt != nil {
		value := c.ExpiresAt.UTC()
		out.ExpiresAt = &value
	}
	if len(c.Extra) > 0 {
		out.Extra = make(map[string]json.RawMessage, len(c.Extra))
		for key, value := range c.Extra {
			out.Extra[key] = append(json.RawMessage(nil), value...)
		}
	}
	return out
}

func (c Credential) HasRefreshToken() bool {
	return strings.TrimSpace(c.RefreshToken) != ""
}

// AccessGrant is a usable access token plus the API domain it is valid for.
type AccessGrant struct {
	Token     string
	APIDomain string
	ExpiresAt *time.Time
	// Refreshed reports whether the token was minted by this request.
	Refreshed bool
}

// Subscription describes a vendor side watch registration.
type Subscription struct {
	Module        string
	Events        []string
	NotifyURL     string
	VerifyToken   string
	ChannelID     string
	ChannelExpiry *time.Time
}

// Notification is an inbound change notification pushed by the vendor.
type Notification struct {
	Token          string
	Module         string
	Operation      string
	ChannelID      string
	ResourceURI    string
	IDs            []string
	AffectedFields []string
	ServerTime     *time.Time
	RequestID      string
	Raw            map[string]any
}

type Verdict string

const (
	VerdictAccepted Verdict = "accepted"
	VerdictRejected Verdict = "rejected"
)

func (v Verdict) Accepted() bool {
	return v == VerdictAccepted
}

// MaskSecret keeps the last four characters of a secret for log output.
func MaskSecret(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
