package sqlite

import (
	"context"
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migrationPattern matches migration files: 0001_name.sql
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// Migration represents a single embedded migration file.
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration recorded in schema_migrations.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt string
	Checksum  string
	AppliedBy string
}

// loadMigrations reads migration files from fsys, sorted by version.
// Files not matching migrationPattern are ignored.
func loadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	seen := map[int]string{}
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationPattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			return nil, fmt.Errorf("migration %s: invalid version: %w", entry.Name(), err)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, entry.Name(), version)
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, dir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     matches[2],
			Filename: entry.Name(),
			SQL:      string(content),
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Migrate applies every embedded migration not yet recorded in
// schema_migrations and returns how many ran. An applied migration whose file
// has since changed is an error.
func (s *Store) Migrate(ctx context.Context, appliedBy string) (int, error) {
	migrations, err := loadMigrations(migrationFiles, "migrations")
	if err != nil {
		return 0, err
	}
	return s.migrate(ctx, migrations, appliedBy)
}

func (s *Store) migrate(ctx context.Context, migrations []Migration, appliedBy string) (int, error) {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_by TEXT NOT NULL DEFAULT ''
		)`); err != nil {
		return 0, fmt.Errorf("ensuring schema_migrations table: %w", err)
	}

	applied, err := s.AppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}
	byVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		byVersion[am.Version] = am
	}

	count := 0
	for _, m := range migrations {
		if am, ok := byVersion[m.Version]; ok {
			if am.Checksum != m.Checksum {
				return count, fmt.Errorf("migration %04d_%s was modified after being applied", m.Version, m.Name)
			}
			continue
		}
		if err := s.applyMigration(ctx, m, appliedBy); err != nil {
			return count, fmt.Errorf("applying migration %04d_%s: %w", m.Version, m.Name, err)
		}
		count++
	}
	return count, nil
}

func (s *Store) applyMigration(ctx context.Context, m Migration, appliedBy string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("executing: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, name, applied_at, checksum, applied_by)
		VALUES (?, ?, ?, ?, ?)`,
		m.Version, m.Name, formatTime(s.now()), m.Checksum, appliedBy); err != nil {
		return fmt.Errorf("recording: %w", err)
	}
	return tx.Commit()
}

// AppliedMigrations lists recorded migrations in version order.
func (s *Store) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, name, applied_at, checksum, applied_by
		FROM schema_migrations
		ORDER BY version ASC`)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var am AppliedMigration
		if err := rows.Scan(&am.Version, &am.Name, &am.AppliedAt, &am.Checksum, &am.AppliedBy); err != nil {
			return nil, fmt.Errorf("scanning applied migration: %w", err)
		}
		applied = append(applied, am)
	}
	return applied, rows.Err()
}
