package sqlstore

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-crmwatch/core"
	"github.com/uptrace/bun"
)

type credentialRecord struct {
	bun.BaseModel `bun:"table:crmwatch_credentials,alias:cc"`

	ID           string     `bun:"id,pk"`
	Profile      string     `bun:"profile,notnull"`
	RefreshToken string     `bun:"refresh_token,notnull"`
	AccessToken  string     `bun:"access_token,notnull"`
	ExpiresAt    *time.Time `bun:"expires_at,nullzero"`
	APIDomain    string     `bun:"api_domain,notnull"`
	Extra        string     `bun:"extra,notnull"`
	CreatedAt    time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newCredentialRecord(profile string, credential core.Credential, now time.Time) (*credentialRecord, error) {
	extra, err := encodeExtra(credential.Extra)
	if err != nil {
		return nil, err
	}
	return &credentialRecord{
		Profile:      profile,
		RefreshToken: credential.RefreshToken,
		AccessToken:  credential.AccessToken,
		ExpiresAt:    cloneTimePointer(credential.ExpiresAt),
		APIDomain:    credential.APIDomain,
		Extra:        extra,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (r *credentialRecord) toDomain() (core.Credential, error) {
	if r == nil {
		return core.Credential{}, nil
	}
	extra, err := decodeExtra(r.Extra)
	if err != nil {
		return core.Credential{}, err
	}
	return core.Credential{
		RefreshToken: r.RefreshToken,
		AccessToken:  r.AccessToken,
		ExpiresAt:    cloneTimePointer(r.ExpiresAt),
		APIDomain:    r.APIDomain,
		Extra:        extra,
	}, nil
}

func encodeExtra(extra map[string]json.RawMessage) (string, error) {
	if len(extra) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(extra)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeExtra(raw string) (map[string]json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	out := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
