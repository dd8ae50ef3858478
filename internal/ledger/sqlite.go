package ledger

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmerrifield20/ResultLedger/pkg/fingerprint"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS result_ledger (
	fingerprint TEXT PRIMARY KEY,
	payload     BLOB NOT NULL,
	kind        TEXT NOT NULL DEFAULT '',
	scheme      TEXT NOT NULL DEFAULT '',
	recorded_at TEXT NOT NULL
);
CREATE TRIGGER IF NOT EXISTS result_ledger_no_update
BEFORE UPDATE ON result_ledger
BEGIN
	SELECT RAISE(ABORT, 'result_ledger is append-only');
END;
CREATE TRIGGER IF NOT EXISTS result_ledger_no_delete
BEFORE DELETE ON result_ledger
BEGIN
	SELECT RAISE(ABORT, 'result_ledger is append-only');
END;
`

// SQLiteStore persists records in a single SQLite file using the pure-Go
// modernc.org/sqlite driver. Updates and deletes are refused by triggers.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLiteStore opens the database at path, creating the schema when
// needed. ":memory:" gives a private in-memory database.
func OpenSQLiteStore(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection: SQLite serialises writers anyway, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, r *Record) (PutOutcome, error) {
	rec, err := prepare(r)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO result_ledger (fingerprint, payload, kind, scheme, recorded_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (fingerprint) DO NOTHING`,
		string(rec.Fingerprint), rec.Payload, rec.Kind, rec.Scheme, rec.RecordedAt.Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("insert record %s: %w", rec.Fingerprint, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert record %s: %w", rec.Fingerprint, err)
	}
	if n == 1 {
		s.logger.Debug("ledger record inserted", zap.String("fingerprint", string(rec.Fingerprint)))
		return Inserted, nil
	}

	// Rows are immutable once written, so this read sees the winner.
	var stored []byte
	if err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM result_ledger WHERE fingerprint = ?`, string(rec.Fingerprint),
	).Scan(&stored); err != nil {
		return 0, fmt.Errorf("read existing record %s: %w", rec.Fingerprint, err)
	}
	if !bytes.Equal(stored, rec.Payload) {
		return 0, &ConflictError{Fingerprint: rec.Fingerprint}
	}
	return AlreadyPresent, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, fp fingerprint.Fingerprint) (*Record, error) {
	rec := &Record{Fingerprint: fp}
	var at string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, kind, scheme, recorded_at FROM result_ledger WHERE fingerprint = ?`, string(fp),
	).Scan(&rec.Payload, &rec.Kind, &rec.Scheme, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", fp, err)
	}
	if rec.RecordedAt, err = parseTime(at); err != nil {
		return nil, err
	}
	return rec, nil
}

// Len implements Store.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM result_ledger`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
