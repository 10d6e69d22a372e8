// Package migrations embeds the credential schema for the sqlite backend.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

const (
	DialectSQLite = "sqlite"
	SourceLabel   = "go-crmwatch"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

//go:embed data/sqlite/*.sql
var migrationsFS embed.FS

// Migration is one versioned schema step with its rollback.
type Migration struct {
	Version string
	Name    string
	Up      string
	Down    string
}

// SQLite returns the embedded sqlite tree rooted at its migration files.
func SQLite() (fs.FS, error) {
	sub, err := fs.Sub(migrationsFS, "data/sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite filesystem: %w", err)
	}
	return sub, nil
}

// List pairs every up file with its down file, oldest first. File names
// follow <version>_<name>.up.sql.
func List() ([]Migration, error) {
	fsys, err := SQLite()
	if err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("migrations: read sqlite filesystem: %w", err)
	}

	byVersion := map[string]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		file := entry.Name()
		var stem string
		var up bool
		switch {
		case strings.HasSuffix(file, upSuffix):
			stem, up = strings.TrimSuffix(file, upSuffix), true
		case strings.HasSuffix(file, downSuffix):
			stem = strings.TrimSuffix(file, downSuffix)
		default:
			continue
		}
		version, name, ok := strings.Cut(stem, "_")
		if !ok || version == "" || name == "" {
			return nil, fmt.Errorf("migrations: malformed file name %q", file)
		}
		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if up {
			m.Up = file
		} else {
			m.Down = file
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migrations: version %s is missing its up or down file", m.Version)
		}
		out = append(out, *m)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("migrations: no %s files embedded", upSuffix)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Latest is the newest embedded schema version.
func Latest() (Migration, error) {
	all, err := List()
	if err != nil {
		return Migration{}, err
	}
	return all[len(all)-1], nil
}

// RegisterFunc receives the validated sqlite tree, typically forwarding it to
// persistence.Client.RegisterSQLMigrations.
type RegisterFunc func(ctx context.Context, fsys fs.FS) error

// Register validates the embedded set and hands it to registerFn.
func Register(ctx context.Context, registerFn RegisterFunc) ([]Migration, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	all, err := List()
	if err != nil {
		return nil, err
	}
	fsys, err := SQLite()
	if err != nil {
		return nil, err
	}
	if err := registerFn(ctx, fsys); err != nil {
		return nil, fmt.Errorf("migrations: register %s: %w", DialectSQLite, err)
	}
	return all, nil
}
