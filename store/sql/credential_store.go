package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/goliatone/go-crmwatch/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

const DefaultProfile = "default"

// CredentialStore keeps one credential row per profile.
type CredentialStore struct {
	db      *bun.DB
	repo    repository.Repository[*credentialRecord]
	profile string
	now     core.Clock
}

func NewCredentialStore(db *bun.DB, profile string) (*CredentialStore, error) {
	if db == nil {
		return nil, core.ConfigError("sqlstore: bun db is required", nil)
	}
	repo := repository.NewRepository[*credentialRecord](db, credentialHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, core.WrapConfigError(err, "sqlstore: invalid credential repository wiring", nil)
		}
	}
	return &CredentialStore{db: db, repo: repo, profile: normalizeProfile(profile)}, nil
}

func (s *CredentialStore) Profile() string {
	if s == nil {
		return ""
	}
	return s.profile
}

func (s *CredentialStore) Load(ctx context.Context) (core.Credential, error) {
	if s == nil || s.repo == nil {
		return core.Credential{}, core.ConfigError("sqlstore: credential store is not configured", nil)
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("profile", "=", s.profile),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Credential{}, core.WrapConfigError(err, "sqlstore: query credential", map[string]any{"profile": s.profile})
	}
	if len(records) == 0 {
		return core.Credential{}, core.ConfigError("sqlstore: no credential stored for profile", map[string]any{"profile": s.profile})
	}
	credential, err := records[0].toDomain()
	if err != nil {
		return core.Credential{}, core.WrapConfigError(err, "sqlstore: malformed credential extra fields", map[string]any{"profile": s.profile})
	}
	if !credential.HasRefreshToken() {
		return core.Credential{}, core.ConfigError("sqlstore: stored credential has no refresh_token", map[string]any{"profile": s.profile})
	}
	return credential, nil
}

// Save inserts or replaces the profile row inside one transaction.
func (s *CredentialStore) Save(ctx context.Context, credential core.Credential) error {
	if s == nil || s.repo == nil || s.db == nil {
		return core.ConfigError("sqlstore: credential store is not configured", nil)
	}
	if !credential.HasRefreshToken() {
		return core.PersistenceError(nil, "sqlstore: refusing to save credential without refresh_token", map[string]any{"profile": s.profile})
	}
	now := s.now.Now()
	record, err := newCredentialRecord(s.profile, credential, now)
	if err != nil {
		return core.PersistenceError(err, "sqlstore: encode credential extra fields", map[string]any{"profile": s.profile})
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := new(credentialRecord)
		selectErr := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.profile = ?", s.profile).
			Limit(1).
			Scan(ctx)
		if errors.Is(selectErr, sql.ErrNoRows) {
			record.ID = ProfileID(s.profile).String()
			_, createErr := s.repo.CreateTx(ctx, tx, record)
			return createErr
		}
		if selectErr != nil {
			return selectErr
		}
		_, updateErr := tx.NewUpdate().
			Model((*credentialRecord)(nil)).
			Set("refresh_token = ?", record.RefreshToken).
			Set("access_token = ?", record.AccessToken).
			Set("expires_at = ?", record.ExpiresAt).
			Set("api_domain = ?", record.APIDomain).
			Set("extra = ?", record.Extra).
			Set("updated_at = ?", now).
			Where("id = ?", existing.ID).
			Exec(ctx)
		return updateErr
	})
	if err != nil {
		return core.PersistenceError(err, "sqlstore: save credential", map[string]any{"profile": s.profile})
	}
	return nil
}

var _ core.CredentialStore = (*CredentialStore)(nil)
