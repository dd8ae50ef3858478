// Package ledger implements the append-only store of recorded results.
//
// Records are keyed by fingerprint and are never updated or deleted. The
// first write for a fingerprint wins; later writes with byte-identical
// canonical content are accepted as no-ops and writes with different
// content are rejected as conflicts.
//
// Four Store implementations are provided: MemoryStore for tests and
// single-process use, BadgerStore for an embedded durable store,
// SQLiteStore for a single-file database and PostgresStore for shared
// deployments.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/ResultLedger/pkg/fingerprint"
)

// PreviewLength is the number of payload characters Record.Preview keeps.
const PreviewLength = 200

// Kinds recorded by the generation endpoints.
const (
	KindSummarization = "summarization"
	KindQA            = "qa"
	KindLearningPath  = "learning_path"
)

var (
	// ErrNotFound is returned by Get when nothing is recorded under a fingerprint.
	ErrNotFound = errors.New("ledger: not found")
	// ErrConflict matches every *ConflictError.
	ErrConflict = errors.New("ledger: conflicting content for fingerprint")
	// ErrInvalidRecord is returned by Put for records that cannot be stored.
	ErrInvalidRecord = errors.New("ledger: invalid record")
)

// ConflictError reports a Put whose content differs from what is already
// recorded under the same fingerprint. The stored record is left untouched.
type ConflictError struct {
	Fingerprint fingerprint.Fingerprint
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ledger: conflicting content for fingerprint %s", e.Fingerprint)
}

// Is makes errors.Is(err, ErrConflict) true.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// PutOutcome reports what a successful Put did.
type PutOutcome int

const (
	// Inserted means the record was newly written.
	Inserted PutOutcome = iota + 1
	// AlreadyPresent means identical content was already recorded.
	AlreadyPresent
)

func (o PutOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case AlreadyPresent:
		return "already_present"
	}
	return "unknown"
}

// Record is one ledger entry. Payload holds the canonical bytes the
// fingerprint was computed from; content comparison uses Payload only.
type Record struct {
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	Payload     []byte                  `json:"payload"`
	Kind        string                  `json:"kind"`
	Scheme      string                  `json:"scheme"`
	RecordedAt  time.Time               `json:"recorded_at"`
}

// NewRecord builds a record stamped with now, normalized the way every
// Store persists it.
func NewRecord(fp fingerprint.Fingerprint, canonical []byte, kind, scheme string, now time.Time) *Record {
	return &Record{
		Fingerprint: fp,
		Payload:     append([]byte(nil), canonical...),
		Kind:        kind,
		Scheme:      scheme,
		RecordedAt:  normalizeTime(now),
	}
}

// Preview returns the first PreviewLength characters of the payload,
// followed by "..." when the payload is longer.
func (r *Record) Preview() string {
	s := string(r.Payload)
	n := 0
	for i := range s {
		if n == PreviewLength {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

func (r *Record) clone() *Record {
	c := *r
	c.Payload = append([]byte(nil), r.Payload...)
	return &c
}

func (r *Record) validate() error {
	if !r.Fingerprint.Valid() {
		return fmt.Errorf("%w: malformed fingerprint %q", ErrInvalidRecord, r.Fingerprint)
	}
	if len(r.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidRecord)
	}
	return nil
}

// prepare validates r and returns the normalized copy a Store persists.
func prepare(r *Record) (*Record, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	c := r.clone()
	if c.RecordedAt.IsZero() {
		c.RecordedAt = time.Now()
	}
	c.RecordedAt = normalizeTime(c.RecordedAt)
	return c, nil
}

// normalizeTime keeps timestamps to the precision every backend stores.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// timeLayout is the text form used by backends without a native timestamp
// type. It is fixed-width, so it also sorts chronologically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse recorded_at %q: %w", s, err)
	}
	return t.UTC(), nil
}

// Store is the append-only ledger.
type Store interface {
	// Put records r if its fingerprint is absent. Identical content under an
	// existing fingerprint returns AlreadyPresent; different content returns
	// a *ConflictError and changes nothing.
	Put(ctx context.Context, r *Record) (PutOutcome, error)

	// Get returns a copy of the record under fp, or ErrNotFound.
	Get(ctx context.Context, fp fingerprint.Fingerprint) (*Record, error)

	// Len returns the number of records.
	Len(ctx context.Context) (int, error)
}
