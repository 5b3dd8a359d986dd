package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	// migrationLockKey is the advisory lock held while the records schema
	// is migrated ("enfy" in ASCII).
	migrationLockKey int64 = 0x656e6679
	migrationTable         = "enfyra_record_migrations"
)

// migration is one embedded schema step for the records table.
type migration struct {
	version string
	sql     string
}

// Migrator brings the records schema behind PGStore up to date.
type Migrator struct {
	pool *pgxpool.Pool
	fsys fs.FS
}

// NewMigrator creates a Migrator for the embedded record migrations.
func NewMigrator(pool *pgxpool.Pool) *Migrator {
	return &Migrator{pool: pool, fsys: migrationsFS}
}

// pendingMigrations lists the .sql files under migrations/ not yet in
// applied, in name order.
func pendingMigrations(fsys fs.FS, applied map[string]bool) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read record migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(e.Name(), ".sql")
		if applied[version] {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join("migrations", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read record migration %s: %w", version, err)
		}
		out = append(out, migration{version: version, sql: string(data)})
	}
	return out, nil
}

// Migrate applies pending migrations. The advisory lock is session scoped,
// so everything runs on one pooled connection.
func (m *Migrator) Migrate(ctx context.Context) error {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection for record migrations: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("lock record migrations: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()

	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+migrationTable+` (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return fmt.Errorf("create %s: %w", migrationTable, err)
	}

	applied := map[string]bool{}
	rows, err := conn.Query(ctx, `SELECT version FROM `+migrationTable)
	if err != nil {
		return fmt.Errorf("query %s: %w", migrationTable, err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan %s: %w", migrationTable, err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read %s: %w", migrationTable, err)
	}

	pending, err := pendingMigrations(m.fsys, applied)
	if err != nil {
		return err
	}
	for _, mg := range pending {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin record migration %s: %w", mg.version, err)
		}
		if _, err := tx.Exec(ctx, mg.sql); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("apply record migration %s (tables %s, %s): %w", mg.version, TableExtensions, TablePackages, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO `+migrationTable+` (version) VALUES ($1)`, mg.version); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %s: %w", mg.version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit record migration %s: %w", mg.version, err)
		}
	}
	return nil
}
