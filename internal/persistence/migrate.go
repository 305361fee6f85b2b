package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Migration is one forward-only schema change.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

func (m Migration) checksum() string {
	return fmt.Sprintf("%x", xxhash.Sum64String(m.SQL))
}

const createMigrationsTableSQL = `
CREATE TABLE IF NOT EXISTS _migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	checksum   TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL
)`

// ApplyMigrations runs every migration in migrations not yet recorded in
// _migrations, in ascending version order, each inside its own transaction.
// Already-applied migrations have their checksum re-verified against the
// SQL text compiled into the binary: a mismatch means either the migration
// history was tampered with or the binary's migration set has drifted from
// what actually ran, and ApplyMigrations refuses to continue in that case.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrations []Migration) error {
	if _, err := db.ExecContext(ctx, createMigrationsTableSQL); err != nil {
		return fmt.Errorf("persistence: create _migrations table: %w", err)
	}

	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	applied, err := loadAppliedChecksums(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range sorted {
		want := m.checksum()
		if got, ok := applied[m.Version]; ok {
			if got != want {
				return fmt.Errorf("persistence: migration %d (%s) checksum mismatch: recorded %s, binary has %s",
					m.Version, m.Name, got, want)
			}
			continue
		}

		if err := applyOne(ctx, db, m); err != nil {
			return fmt.Errorf("persistence: apply migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func loadAppliedChecksums(ctx context.Context, db *sql.DB) (map[int]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, checksum FROM _migrations`)
	if err != nil {
		return nil, fmt.Errorf("persistence: read _migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]string)
	for rows.Next() {
		var v int
		var sum string
		if err := rows.Scan(&v, &sum); err != nil {
			return nil, err
		}
		out[v] = sum
	}
	return out, rows.Err()
}

func applyOne(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO _migrations (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)`,
		m.Version, m.Name, m.checksum(), time.Now(),
	); err != nil {
		return err
	}
	return tx.Commit()
}
