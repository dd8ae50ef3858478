package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/jmerrifield20/ResultLedger/pkg/fingerprint"
	"go.uber.org/zap"
)

const badgerKeyPrefix = "rec/"

// maxConflictRetries bounds how often a Put is retried when badger reports
// a concurrent transaction touched the same key.
const maxConflictRetries = 8

// BadgerStore persists records in an embedded BadgerDB. Each Put runs its
// read-compare-write in one transaction; badger's optimistic concurrency
// control aborts the loser of two racing writes for the same key, which is
// then retried and sees the winner's record.
type BadgerStore struct {
	db     *badger.DB
	logger *zap.Logger
}

// badgerValue is the stored form of a Record. Payload is kept as raw bytes
// so the canonical form is never re-encoded.
type badgerValue struct {
	Payload    []byte `json:"payload"`
	Kind       string `json:"kind"`
	Scheme     string `json:"scheme"`
	RecordedAt string `json:"recorded_at"`
}

type zapBadgerLogger struct{ s *zap.SugaredLogger }

func (l zapBadgerLogger) Errorf(f string, a ...interface{})   { l.s.Errorf(f, a...) }
func (l zapBadgerLogger) Warningf(f string, a ...interface{}) { l.s.Warnf(f, a...) }
func (l zapBadgerLogger) Infof(f string, a ...interface{})    { l.s.Debugf(f, a...) }
func (l zapBadgerLogger) Debugf(f string, a ...interface{})   { l.s.Debugf(f, a...) }

// OpenBadgerStore opens or creates a BadgerDB at path. An empty path opens
// an in-memory database.
func OpenBadgerStore(path string, logger *zap.Logger) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).
		WithLogger(zapBadgerLogger{s: logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db, logger: logger}, nil
}

// Close releases the database.
func (s *BadgerStore) Close() error { return s.db.Close() }

func badgerKey(fp fingerprint.Fingerprint) []byte {
	return []byte(badgerKeyPrefix + string(fp))
}

// Put implements Store.
func (s *BadgerStore) Put(ctx context.Context, r *Record) (PutOutcome, error) {
	rec, err := prepare(r)
	if err != nil {
		return 0, err
	}
	val, err := json.Marshal(badgerValue{
		Payload:    rec.Payload,
		Kind:       rec.Kind,
		Scheme:     rec.Scheme,
		RecordedAt: rec.RecordedAt.Format(timeLayout),
	})
	if err != nil {
		return 0, fmt.Errorf("marshal record: %w", err)
	}
	key := badgerKey(rec.Fingerprint)

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		var outcome PutOutcome
		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				outcome = Inserted
				return txn.Set(key, val)
			case err != nil:
				return err
			}
			return item.Value(func(existing []byte) error {
				var v badgerValue
				if err := json.Unmarshal(existing, &v); err != nil {
					return fmt.Errorf("decode stored record: %w", err)
				}
				if !bytes.Equal(v.Payload, rec.Payload) {
					return &ConflictError{Fingerprint: rec.Fingerprint}
				}
				outcome = AlreadyPresent
				return nil
			})
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			s.logger.Debug("badger transaction conflict, retrying",
				zap.String("fingerprint", string(rec.Fingerprint)),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			if errors.Is(err, ErrConflict) {
				return 0, err
			}
			return 0, fmt.Errorf("put record %s: %w", rec.Fingerprint, err)
		}
		s.logger.Debug("ledger record put",
			zap.String("fingerprint", string(rec.Fingerprint)),
			zap.Stringer("outcome", outcome),
		)
		return outcome, nil
	}
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, fp fingerprint.Fingerprint) (*Record, error) {
	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(fp))
		if err != nil {
			return err
		}
		return item.Value(func(b []byte) error {
			var v badgerValue
			if err := json.Unmarshal(b, &v); err != nil {
				return fmt.Errorf("decode stored record: %w", err)
			}
			at, err := parseTime(v.RecordedAt)
			if err != nil {
				return err
			}
			rec = &Record{
				Fingerprint: fp,
				Payload:     v.Payload,
				Kind:        v.Kind,
				Scheme:      v.Scheme,
				RecordedAt:  at,
			}
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", fp, err)
	}
	return rec, nil
}

// Len implements Store.
func (s *BadgerStore) Len(_ context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
