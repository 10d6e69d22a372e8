package sqlstore

import (
	"context"
	"database/sql"
	"io/fs"
	"strings"
	"time"

	"github.com/goliatone/go-crmwatch/core"
	"github.com/goliatone/go-crmwatch/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const driverSQLite = "sqlite3"

type persistenceConfig struct {
	server string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return driverSQLite }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "crmwatch" }

// Backend owns the persistence client behind the SQL credential store.
type Backend struct {
	client *persistence.Client
	store  core.CredentialStore
}

// DSN resolves the sqlite connection string for cfg.
func DSN(cfg core.CredentialsConfig) string {
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		return dsn
	}
	return "file:" + strings.TrimSpace(cfg.Path) + "?_foreign_keys=on&_busy_timeout=5000"
}

// Open connects to sqlite, applies the embedded migrations and builds the
// credential store. A positive CacheTTL wraps the store in a read cache.
func Open(ctx context.Context, cfg core.CredentialsConfig) (*Backend, error) {
	dsn := DSN(cfg)
	sqlDB, err := sql.Open(driverSQLite, dsn)
	if err != nil {
		return nil, core.WrapConfigError(err, "sqlstore: open sqlite", nil)
	}
	sqlDB.SetMaxOpenConns(1)

	client, err := persistence.New(persistenceConfig{server: dsn}, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		return nil, core.WrapConfigError(err, "sqlstore: new persistence client", nil)
	}
	backend, err := NewBackend(ctx, client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return backend, nil
}

// NewBackend migrates client and builds the store on top of it.
func NewBackend(ctx context.Context, client *persistence.Client, cfg core.CredentialsConfig) (*Backend, error) {
	if client == nil {
		return nil, core.ConfigError("sqlstore: persistence client is required", nil)
	}
	_, err := migrations.Register(ctx, func(_ context.Context, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	})
	if err != nil {
		return nil, core.WrapConfigError(err, "sqlstore: register migrations", nil)
	}
	if err := client.Migrate(ctx); err != nil {
		return nil, core.PersistenceError(err, "sqlstore: migrate", nil)
	}

	base, err := NewCredentialStore(client.DB(), cfg.Profile)
	if err != nil {
		return nil, err
	}
	backend := &Backend{client: client, store: base}
	if cfg.CacheTTL > 0 {
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = cfg.CacheTTL
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			return nil, core.WrapConfigError(err, "sqlstore: new cache service", nil)
		}
		cached, err := NewCachedCredentialStore(base, cacheService)
		if err != nil {
			return nil, err
		}
		backend.store = cached
	}
	return backend, nil
}

func (b *Backend) Store() core.CredentialStore {
	if b == nil {
		return nil
	}
	return b.store
}

func (b *Backend) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
