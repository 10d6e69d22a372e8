package sqlstore

import (
	"context"
	"net/url"

	"github.com/goliatone/go-crmwatch/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const credentialCacheKeyPrefix = "go-crmwatch::credential::v1"

// credentialLoader is the part of a store the cache reads through.
type credentialLoader interface {
	core.CredentialStore
	Profile() string
}

// CachedCredentialStore serves Load from a read cache and drops the entry on
// every Save.
type CachedCredentialStore struct {
	base  credentialLoader
	cache repositorycache.CacheService
}

func NewCachedCredentialStore(base credentialLoader, cacheService repositorycache.CacheService) (*CachedCredentialStore, error) {
	if base == nil {
		return nil, core.ConfigError("sqlstore: base credential store is required", nil)
	}
	if cacheService == nil {
		return nil, core.ConfigError("sqlstore: credential cache service is required", nil)
	}
	return &CachedCredentialStore{base: base, cache: cacheService}, nil
}

// CredentialCacheKey is go-crmwatch::credential::v1::<profile> with the
// profile path escaped.
func CredentialCacheKey(profile string) string {
	return credentialCacheKeyPrefix + "::" + url.PathEscape(profile)
}

func (s *CachedCredentialStore) Load(ctx context.Context) (core.Credential, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Credential{}, core.ConfigError("sqlstore: cached credential store is not configured", nil)
	}
	credential, err := repositorycache.GetOrFetch(ctx, s.cache, CredentialCacheKey(s.base.Profile()), func(ctx context.Context) (core.Credential, error) {
		loaded, loadErr := s.base.Load(ctx)
		if loadErr != nil {
			return core.Credential{}, loadErr
		}
		return loaded.Clone(), nil
	})
	if err != nil {
		return core.Credential{}, err
	}
	return credential.Clone(), nil
}

func (s *CachedCredentialStore) Save(ctx context.Context, credential core.Credential) error {
	if s == nil || s.base == nil || s.cache == nil {
		return core.ConfigError("sqlstore: cached credential store is not configured", nil)
	}
	if err := s.base.Save(ctx, credential); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, CredentialCacheKey(s.base.Profile())); err != nil {
		return core.PersistenceError(err, "sqlstore: invalidate credential cache", map[string]any{"profile": s.base.Profile()})
	}
	return nil
}

var _ core.CredentialStore = (*CachedCredentialStore)(nil)
