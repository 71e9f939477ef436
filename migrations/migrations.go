// AngelaMos | 2026
// migrations.go

package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"

	"github.com/jmoiron/sqlx"

	"github.com/carterperez-dev/templates/auth-service/internal/core"
)

//go:embed *.sql
var FS embed.FS

// advisoryLockID serializes concurrent replicas applying migrations.
const advisoryLockID = 727_410_001

// Apply runs every embedded migration not yet recorded in
// schema_migrations, in file name order, each in its own transaction.
func Apply(ctx context.Context, db *sqlx.DB, logger *slog.Logger) error {
	names, err := fs.Glob(FS, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	slices.Sort(names)

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, name := range names {
		body, err := FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		applied := false
		err = core.InTx(ctx, db, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx,
				`SELECT pg_advisory_xact_lock($1)`, advisoryLockID); err != nil {
				return err
			}

			var done bool
			if err := tx.GetContext(ctx, &done,
				`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE name = $1)`,
				name); err != nil {
				return err
			}
			if done {
				return nil
			}

			if _, err := tx.ExecContext(ctx, string(body)); err != nil {
				return err
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
				return err
			}

			applied = true
			return nil
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if applied {
			logger.Info("migration applied", "name", name)
		}
	}

	return nil
}
