package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/ResultLedger/pkg/fingerprint"
	"go.uber.org/zap"
)

// PostgresStore persists records to the result_ledger table created by
// migrations/001_result_ledger.up.sql. The table's trigger rejects UPDATE
// and DELETE, so the append-only property holds for every client of the
// database, not just this one.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Put implements Store.
// The insert relies on the primary key: of two racing writers for one
// fingerprint exactly one inserts, and the other compares against its row.
func (s *PostgresStore) Put(ctx context.Context, r *Record) (PutOutcome, error) {
	rec, err := prepare(r)
	if err != nil {
		return 0, err
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO result_ledger (fingerprint, payload, kind, scheme, recorded_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (fingerprint) DO NOTHING`,
		string(rec.Fingerprint), rec.Payload, rec.Kind, rec.Scheme, rec.RecordedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert record %s: %w", rec.Fingerprint, err)
	}
	if tag.RowsAffected() == 1 {
		s.logger.Debug("ledger record inserted",
			zap.String("fingerprint", string(rec.Fingerprint)),
			zap.String("kind", rec.Kind),
		)
		return Inserted, nil
	}

	var stored []byte
	if err := s.pool.QueryRow(ctx,
		`SELECT payload FROM result_ledger WHERE fingerprint = $1`, string(rec.Fingerprint),
	).Scan(&stored); err != nil {
		return 0, fmt.Errorf("read existing record %s: %w", rec.Fingerprint, err)
	}
	if !bytes.Equal(stored, rec.Payload) {
		return 0, &ConflictError{Fingerprint: rec.Fingerprint}
	}
	return AlreadyPresent, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, fp fingerprint.Fingerprint) (*Record, error) {
	rec := &Record{Fingerprint: fp}
	err := s.pool.QueryRow(ctx,
		`SELECT payload, kind, scheme, recorded_at FROM result_ledger WHERE fingerprint = $1`, string(fp),
	).Scan(&rec.Payload, &rec.Kind, &rec.Scheme, &rec.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", fp, err)
	}
	rec.RecordedAt = rec.RecordedAt.UTC()
	return rec, nil
}

// Len implements Store.
func (s *PostgresStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM result_ledger").Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
