package migrations

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const trackingTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version bigint  NOT NULL PRIMARY KEY,
		dirty   boolean NOT NULL
	)`

// Migration is one embedded schema file.
type Migration struct {
	Version int64
	File    string
	Applied bool
}

// Pending lists the embedded migrations in order and marks those already
// recorded as clean in schema_migrations.
func Pending(ctx context.Context, db *pgxpool.Pool) ([]Migration, error) {
	if _, err := db.Exec(ctx, trackingTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	all, err := embedded()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(ctx, `SELECT version FROM schema_migrations WHERE NOT dirty`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	done, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	applied := make(map[int64]bool, len(done))
	for _, v := range done {
		applied[v] = true
	}
	for i := range all {
		all[i].Applied = applied[all[i].Version]
	}
	return all, nil
}

// Apply runs every embedded migration not yet applied, each in its own
// transaction together with its schema_migrations row, and returns how
// many ran. The tracking table has golang-migrate's shape so either tool
// can take over. Progress lines go to out.
func Apply(ctx context.Context, db *pgxpool.Pool, out io.Writer) (int, error) {
	migs, err := Pending(ctx, db)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range migs {
		if m.Applied {
			fmt.Fprintf(out, "  skip  %s\n", m.File)
			continue
		}
		sql, err := fs.ReadFile(FS, m.File)
		if err != nil {
			return applied, fmt.Errorf("read %s: %w", m.File, err)
		}
		err = pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(sql)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, dirty) VALUES ($1, false)
				 ON CONFLICT (version) DO UPDATE SET dirty = false`, m.Version)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("apply %s: %w", m.File, err)
		}
		fmt.Fprintf(out, "  apply %s\n", m.File)
		applied++
	}
	return applied, nil
}

func embedded() ([]Migration, error) {
	files, err := fs.Glob(FS, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)
	out := make([]Migration, 0, len(files))
	for _, f := range files {
		v, err := versionFromFile(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		out = append(out, Migration{Version: v, File: f})
	}
	return out, nil
}

// versionFromFile parses the numeric prefix of a migration file name,
// e.g. 1 for "001_result_ledger.up.sql".
func versionFromFile(filename string) (int64, error) {
	prefix, _, ok := strings.Cut(filename, "_")
	if !ok {
		return 0, fmt.Errorf("migration file %q has no version prefix", filename)
	}
	return strconv.ParseInt(prefix, 10, 64)
}
