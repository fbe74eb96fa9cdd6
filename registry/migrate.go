package registry

import (
	"context"
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "prompts, versions, variables and tags",
		SQL: `
			CREATE TABLE IF NOT EXISTS prompts (
				id          TEXT PRIMARY KEY,
				name        TEXT NOT NULL,
				description TEXT,
				owner_team  TEXT,
				status      VARCHAR(16) NOT NULL DEFAULT 'ACTIVE',
				deleted_at  TIMESTAMPTZ,
				created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_prompts_updated_at ON prompts (updated_at);

			CREATE TABLE IF NOT EXISTS tags (
				id   TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE
			);

			CREATE TABLE IF NOT EXISTS prompt_tags (
				prompt_id TEXT NOT NULL REFERENCES prompts (id) ON DELETE CASCADE,
				tag_id    TEXT NOT NULL REFERENCES tags (id) ON DELETE CASCADE,
				PRIMARY KEY (prompt_id, tag_id)
			);

			CREATE TABLE IF NOT EXISTS prompt_versions (
				id          TEXT PRIMARY KEY,
				prompt_id   TEXT NOT NULL REFERENCES prompts (id) ON DELETE CASCADE,
				version     INTEGER NOT NULL CHECK (version >= 1),
				content     TEXT NOT NULL,
				model_name  TEXT,
				temperature DOUBLE PRECISION,
				max_tokens  INTEGER,
				top_p       DOUBLE PRECISION,
				notes       TEXT,
				created_by  TEXT NOT NULL,
				created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (prompt_id, version)
			);

			CREATE TABLE IF NOT EXISTS prompt_variables (
				version_id    TEXT NOT NULL REFERENCES prompt_versions (id) ON DELETE CASCADE,
				position      INTEGER NOT NULL,
				name          TEXT NOT NULL,
				type          VARCHAR(16) NOT NULL,
				required      BOOLEAN NOT NULL DEFAULT FALSE,
				default_value TEXT,
				PRIMARY KEY (version_id, position),
				UNIQUE (version_id, name)
			);`,
	},
	{
		Version:     2,
		Description: "environments and publications",
		SQL: `
			CREATE TABLE IF NOT EXISTS environments (
				id   TEXT PRIMARY KEY,
				key  TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS prompt_publications (
				seq               BIGSERIAL UNIQUE,
				id                TEXT PRIMARY KEY,
				prompt_id         TEXT NOT NULL REFERENCES prompts (id) ON DELETE CASCADE,
				environment_id    TEXT NOT NULL REFERENCES environments (id),
				prompt_version_id TEXT NOT NULL REFERENCES prompt_versions (id),
				published_by      TEXT NOT NULL,
				published_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				notes             TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_publications_active
				ON prompt_publications (prompt_id, environment_id, published_at DESC, seq DESC);`,
	},
}

// Migrate applies pending schema migrations, each in its own transaction.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  TIMESTAMPTZ DEFAULT NOW(),
			description VARCHAR(255)
		)`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("migrate: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`,
			m.Version, m.Description); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
	}
	return nil
}
