package ledger_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/ResultLedger/internal/ledger"
	"github.com/jmerrifield20/ResultLedger/pkg/fingerprint"
	"github.com/jmerrifield20/ResultLedger/pkg/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var ctx = context.Background()

// newRecord returns a record for a payload unique to this call, so the
// suite can also run against a shared database that is never emptied.
func newRecord(t *testing.T, kind string) *ledger.Record {
	t.Helper()
	fp, b, err := fingerprint.Of(map[string]any{"summary": "result " + uuid.NewString()}, nil)
	require.NoError(t, err)
	return ledger.NewRecord(fp, b, kind, "canon/v1+sha256", time.Now())
}

// runStoreSuite checks the behaviour every Store must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	t.Run("put then get", func(t *testing.T) {
		s := newStore(t)
		before, err := s.Len(ctx)
		require.NoError(t, err)

		rec := newRecord(t, ledger.KindSummarization)
		outcome, err := s.Put(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, ledger.Inserted, outcome)

		got, err := s.Get(ctx, rec.Fingerprint)
		require.NoError(t, err)
		assert.Equal(t, rec.Fingerprint, got.Fingerprint)
		assert.Equal(t, rec.Payload, got.Payload)
		assert.Equal(t, rec.Kind, got.Kind)
		assert.Equal(t, rec.Scheme, got.Scheme)
		assert.True(t, rec.RecordedAt.Equal(got.RecordedAt), "recorded_at %v != %v", got.RecordedAt, rec.RecordedAt)
		assert.Equal(t, time.UTC, got.RecordedAt.Location())

		after, err := s.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, before+1, after)
	})

	t.Run("identical put is a no-op", func(t *testing.T) {
		s := newStore(t)
		rec := newRecord(t, ledger.KindQA)
		_, err := s.Put(ctx, rec)
		require.NoError(t, err)
		before, _ := s.Len(ctx)

		again := *rec
		again.Kind = "something-else"
		again.RecordedAt = rec.RecordedAt.Add(time.Hour)
		outcome, err := s.Put(ctx, &again)
		require.NoError(t, err)
		assert.Equal(t, ledger.AlreadyPresent, outcome)

		got, err := s.Get(ctx, rec.Fingerprint)
		require.NoError(t, err)
		assert.Equal(t, ledger.KindQA, got.Kind, "first writer's metadata must win")
		assert.True(t, rec.RecordedAt.Equal(got.RecordedAt))

		after, _ := s.Len(ctx)
		assert.Equal(t, before, after)
	})

	t.Run("conflicting put is rejected", func(t *testing.T) {
		s := newStore(t)
		rec := newRecord(t, ledger.KindSummarization)
		_, err := s.Put(ctx, rec)
		require.NoError(t, err)

		forged := *rec
		forged.Payload = []byte(`{"summary":"forged"}`)
		_, err = s.Put(ctx, &forged)
		require.ErrorIs(t, err, ledger.ErrConflict)
		var cerr *ledger.ConflictError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, rec.Fingerprint, cerr.Fingerprint)

		got, err := s.Get(ctx, rec.Fingerprint)
		require.NoError(t, err)
		assert.Equal(t, rec.Payload, got.Payload, "stored content must be unchanged")
	})

	t.Run("get unknown", func(t *testing.T) {
		s := newStore(t)
		fp, _, err := fingerprint.Of(map[string]any{"never": uuid.NewString()}, nil)
		require.NoError(t, err)
		_, err = s.Get(ctx, fp)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("returns copies", func(t *testing.T) {
		s := newStore(t)
		rec := newRecord(t, ledger.KindSummarization)
		want := append([]byte(nil), rec.Payload...)
		_, err := s.Put(ctx, rec)
		require.NoError(t, err)

		rec.Payload[0] = 'X'
		got, err := s.Get(ctx, rec.Fingerprint)
		require.NoError(t, err)
		assert.Equal(t, want, got.Payload)

		got.Payload[0] = 'Y'
		again, err := s.Get(ctx, rec.Fingerprint)
		require.NoError(t, err)
		assert.Equal(t, want, again.Payload)
	})

	t.Run("invalid records", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Put(ctx, nil)
		assert.ErrorIs(t, err, ledger.ErrInvalidRecord)

		_, err = s.Put(ctx, &ledger.Record{Fingerprint: "abc", Payload: []byte("{}")})
		assert.ErrorIs(t, err, ledger.ErrInvalidRecord)

		rec := newRecord(t, ledger.KindQA)
		rec.Payload = nil
		_, err = s.Put(ctx, rec)
		assert.ErrorIs(t, err, ledger.ErrInvalidRecord)
	})

	t.Run("concurrent identical puts insert once", func(t *testing.T) {
		s := newStore(t)
		rec := newRecord(t, ledger.KindLearningPath)

		const writers = 16
		outcomes := make([]ledger.PutOutcome, writers)
		errs := make([]error, writers)
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				r := *rec
				outcomes[i], errs[i] = s.Put(ctx, &r)
			}(i)
		}
		wg.Wait()

		inserted := 0
		for i := range outcomes {
			require.NoError(t, errs[i])
			if outcomes[i] == ledger.Inserted {
				inserted++
			}
		}
		assert.Equal(t, 1, inserted)
	})

	t.Run("concurrent conflicting puts keep one content", func(t *testing.T) {
		s := newStore(t)
		rec := newRecord(t, ledger.KindSummarization)
		other := []byte(`{"summary":"other"}`)

		const writers = 16
		errs := make([]error, writers)
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				r := *rec
				if i%2 == 1 {
					r.Payload = other
				}
				_, errs[i] = s.Put(ctx, &r)
			}(i)
		}
		wg.Wait()

		got, err := s.Get(ctx, rec.Fingerprint)
		require.NoError(t, err)
		for i, err := range errs {
			wrote := rec.Payload
			if i%2 == 1 {
				wrote = other
			}
			if string(wrote) == string(got.Payload) {
				assert.NoError(t, err, "writer %d wrote the stored content", i)
			} else {
				assert.ErrorIs(t, err, ledger.ErrConflict, "writer %d", i)
			}
		}
	})

	t.Run("reader adapter", func(t *testing.T) {
		s := newStore(t)
		rec := newRecord(t, ledger.KindQA)
		_, err := s.Put(ctx, rec)
		require.NoError(t, err)

		r := ledger.Reader(s)
		e, err := r.Lookup(ctx, rec.Fingerprint)
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, rec.Fingerprint, e.Fingerprint)

		missing, _, _ := fingerprint.Of(map[string]any{"x": uuid.NewString()}, nil)
		e, err = r.Lookup(ctx, missing)
		require.NoError(t, err)
		assert.Nil(t, e)
	})

	t.Run("end to end verification", func(t *testing.T) {
		s := newStore(t)
		payload := map[string]any{"answer": "forty-two " + uuid.NewString()}
		fp, b, err := fingerprint.Of(payload, nil)
		require.NoError(t, err)
		_, err = s.Put(ctx, ledger.NewRecord(fp, b, ledger.KindQA, "canon/v1+sha256", time.Now()))
		require.NoError(t, err)

		v := verify.New(ledger.Reader(s))
		res, err := v.Verify(ctx, payload, string(fp))
		require.NoError(t, err)
		assert.Equal(t, verify.Match, res.Outcome)

		res, err = v.Verify(ctx, map[string]any{"answer": "edited"}, string(fp))
		require.NoError(t, err)
		assert.Equal(t, verify.Mismatch, res.Outcome)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) ledger.Store {
		return ledger.NewMemoryStore()
	})
}

func TestBadgerStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) ledger.Store {
		s, err := ledger.OpenBadgerStore("", zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestBadgerStore_persistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := ledger.OpenBadgerStore(dir, zap.NewNop())
	require.NoError(t, err)
	rec := newRecord(t, ledger.KindSummarization)
	_, err = s.Put(ctx, rec)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = ledger.OpenBadgerStore(dir, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, rec.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, rec.Payload, got.Payload)
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) ledger.Store {
		s, err := ledger.OpenSQLiteStore(ctx, ":memory:", zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestNewRecord_normalizesTime(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	at := time.Date(2026, 3, 4, 5, 6, 7, 123456789, loc)
	rec := ledger.NewRecord("", nil, "", "", at)
	assert.Equal(t, time.UTC, rec.RecordedAt.Location())
	assert.Equal(t, 123456000, rec.RecordedAt.Nanosecond())
	assert.True(t, at.Truncate(time.Microsecond).Equal(rec.RecordedAt))
}

func TestRecord_Preview(t *testing.T) {
	short := &ledger.Record{Payload: []byte(`{"summary":"hi"}`)}
	assert.Equal(t, `{"summary":"hi"}`, short.Preview())

	long := &ledger.Record{Payload: []byte(strings.Repeat("é", 250))}
	p := long.Preview()
	assert.Equal(t, ledger.PreviewLength+3, len([]rune(p)))
	assert.True(t, strings.HasSuffix(p, "é..."))

	exact := &ledger.Record{Payload: []byte(strings.Repeat("a", ledger.PreviewLength))}
	assert.Equal(t, strings.Repeat("a", ledger.PreviewLength), exact.Preview())
}

func TestPutOutcome_String(t *testing.T) {
	assert.Equal(t, "inserted", ledger.Inserted.String())
	assert.Equal(t, "already_present", ledger.AlreadyPresent.String())
}
