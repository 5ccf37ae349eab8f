package persistence

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// migrationLockID serializes migrations across console instances.
const migrationLockID int64 = 0x746f72767573

type migrationDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RunMigrations applies every *.sql file in source that is not yet recorded in
// schema_migrations. Files run in name order, each inside its own transaction.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, source fs.FS, logger *zap.Logger) error {
	if pool == nil {
		logger.Warn("no postgres pool available; skipping migrations")
		return nil
	}
	return applyMigrations(ctx, pool, source, logger)
}

func applyMigrations(ctx context.Context, db migrationDB, source fs.FS, logger *zap.Logger) error {
	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	names, err := migrationFiles(source)
	if err != nil {
		return err
	}

	applied := 0
	for _, name := range names {
		ok, err := applyMigration(ctx, db, source, name)
		if err != nil {
			return err
		}
		if ok {
			applied++
			logger.Info("applied migration", zap.String("file", name))
		}
	}

	logger.Info("migrations up to date", zap.Int("files", len(names)), zap.Int("applied", applied))
	return nil
}

func migrationFiles(source fs.FS) ([]string, error) {
	names, err := fs.Glob(source, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// applyMigration runs one file unless it was already recorded. The advisory
// lock is held until the transaction ends, so the existence check and the
// apply cannot race another instance.
func applyMigration(ctx context.Context, db migrationDB, source fs.FS, name string) (bool, error) {
	content, err := fs.ReadFile(source, name)
	if err != nil {
		return false, fmt.Errorf("read migration %s: %w", name, err)
	}
	filename := path.Base(name)

	tx, err := db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin migration %s: %w", filename, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return false, fmt.Errorf("lock migrations: %w", err)
	}
	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename = $1)`, filename,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("migration lookup %s: %w", filename, err)
	}
	if exists {
		return false, nil
	}

	if _, err := tx.Exec(ctx, string(content)); err != nil {
		return false, fmt.Errorf("apply migration %s: %w", filename, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, filename); err != nil {
		return false, fmt.Errorf("record migration %s: %w", filename, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", filename, err)
	}
	return true, nil
}
