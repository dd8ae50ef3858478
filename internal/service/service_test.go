package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/ResultLedger/internal/alert"
	"github.com/jmerrifield20/ResultLedger/internal/generate"
	"github.com/jmerrifield20/ResultLedger/internal/ledger"
	"github.com/jmerrifield20/ResultLedger/internal/service"
	"github.com/jmerrifield20/ResultLedger/pkg/canonical"
	"github.com/jmerrifield20/ResultLedger/pkg/fingerprint"
	"github.com/jmerrifield20/ResultLedger/pkg/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGenerator struct {
	out string
	err error
}

func (f fakeGenerator) Summarize(context.Context, string) (string, error) { return f.out, f.err }
func (f fakeGenerator) Answer(context.Context, string, string) (string, error) {
	return f.out, f.err
}
func (f fakeGenerator) LearningPath(context.Context, string) (string, error) { return f.out, f.err }

type recordingNotifier struct {
	mu     sync.Mutex
	events []alert.Event
}

func (n *recordingNotifier) NotifyConflict(_ context.Context, ev alert.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func newService(gen generate.Generator) (*service.ResultService, *ledger.MemoryStore) {
	store := ledger.NewMemoryStore()
	return service.New(store, gen, zap.NewNop()), store
}

func TestSummarize_recordsBeforeReturning(t *testing.T) {
	svc, store := newService(fakeGenerator{out: "Cats sleep a lot."})
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	svc.SetClock(func() time.Time { return fixed })

	res, err := svc.Summarize(context.Background(), "a long article about cats")
	require.NoError(t, err)
	assert.Equal(t, ledger.Inserted, res.Outcome)

	want, _, err := fingerprint.Of(map[string]any{"summary": "Cats sleep a lot."}, nil)
	require.NoError(t, err)
	assert.Equal(t, want, res.Fingerprint)

	resp := res.Response()
	assert.Equal(t, "Cats sleep a lot.", resp["summary"])
	assert.Equal(t, string(want), resp[canonical.FingerprintField])

	rec, err := store.Get(context.Background(), want)
	require.NoError(t, err)
	assert.Equal(t, ledger.KindSummarization, rec.Kind)
	assert.Equal(t, "canon/v1+sha256", rec.Scheme)
	assert.Equal(t, `{"summary":"Cats sleep a lot."}`, string(rec.Payload))
	assert.Equal(t, fixed.Truncate(time.Microsecond), rec.RecordedAt)
}

func TestGenerate_sameOutputTwiceIsAlreadyPresent(t *testing.T) {
	svc, store := newService(fakeGenerator{out: "1. Basics\n2. Practice"})

	first, err := svc.LearningPath(context.Background(), "go")
	require.NoError(t, err)
	second, err := svc.LearningPath(context.Background(), "golang")
	require.NoError(t, err)

	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, ledger.AlreadyPresent, second.Outcome)
	n, _ := store.Len(context.Background())
	assert.Equal(t, 1, n)
}

func TestGenerate_missingInput(t *testing.T) {
	svc, store := newService(fakeGenerator{out: "x"})
	ctx := context.Background()

	_, err := svc.Summarize(ctx, "  ")
	assert.ErrorIs(t, err, service.ErrInvalidInput)
	_, err = svc.Answer(ctx, "context only", "")
	assert.ErrorIs(t, err, service.ErrInvalidInput)
	_, err = svc.LearningPath(ctx, "")
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	n, _ := store.Len(ctx)
	assert.Zero(t, n)
}

func TestGenerate_failureRecordsNothing(t *testing.T) {
	svc, store := newService(generate.Unconfigured{})
	var observed []bool
	svc.SetMetrics(service.Metrics{
		Generation: func(kind string, _ time.Duration, ok bool) { observed = append(observed, ok) },
	})

	_, err := svc.Answer(context.Background(), "ctx", "q?")
	require.Error(t, err)
	assert.ErrorIs(t, err, generate.ErrNotConfigured)
	var genErr *service.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, ledger.KindQA, genErr.Kind)
	assert.Equal(t, []bool{false}, observed)

	n, _ := store.Len(context.Background())
	assert.Zero(t, n)
}

func TestRecord_payloadIndependentOfInput(t *testing.T) {
	svc, _ := newService(generate.Unconfigured{})
	input := map[string]any{
		"meta":                     map[string]any{"model": "gpt"},
		"tags":                     []any{"a", "b"},
		canonical.FingerprintField: "ignored",
	}

	res, err := svc.Record(context.Background(), ledger.KindSummarization, input, "")
	require.NoError(t, err)

	input["meta"].(map[string]any)["model"] = "changed"
	input["tags"].([]any)[0] = "z"
	input["extra"] = true

	assert.Equal(t, map[string]any{"model": "gpt"}, res.Payload["meta"])
	assert.Equal(t, []any{"a", "b"}, res.Payload["tags"])
	assert.NotContains(t, res.Payload, "extra")
	assert.NotContains(t, res.Payload, canonical.FingerprintField)

	got, _, err := fingerprint.Of(res.Payload, nil)
	require.NoError(t, err)
	assert.Equal(t, res.Fingerprint, got, "returned payload must still fingerprint to the record")
	assert.Contains(t, input, canonical.FingerprintField, "Record must not mutate its input")
}

func TestRecord_claimedFingerprint(t *testing.T) {
	svc, _ := newService(generate.Unconfigured{})
	ctx := context.Background()
	payload := map[string]any{"answer": "42"}
	fp, _, err := fingerprint.Of(payload, nil)
	require.NoError(t, err)

	t.Run("matching claim", func(t *testing.T) {
		res, err := svc.Record(ctx, ledger.KindQA, payload, string(fp))
		require.NoError(t, err)
		assert.Equal(t, fp, res.Fingerprint)
	})
	t.Run("payload carrying its own hash", func(t *testing.T) {
		withHash := map[string]any{"answer": "42", canonical.FingerprintField: string(fp)}
		res, err := svc.Record(ctx, ledger.KindQA, withHash, "")
		require.NoError(t, err)
		assert.Equal(t, ledger.AlreadyPresent, res.Outcome)
		assert.NotContains(t, res.Payload, canonical.FingerprintField)
	})
	t.Run("wrong claim", func(t *testing.T) {
		_, err := svc.Record(ctx, ledger.KindQA, map[string]any{"answer": "43"}, string(fp))
		assert.ErrorIs(t, err, service.ErrFingerprintMismatch)
	})
	t.Run("malformed claim", func(t *testing.T) {
		_, err := svc.Record(ctx, ledger.KindQA, payload, "xyz")
		assert.ErrorIs(t, err, service.ErrInvalidInput)
	})
	t.Run("missing kind", func(t *testing.T) {
		_, err := svc.Record(ctx, "", payload, "")
		assert.ErrorIs(t, err, service.ErrInvalidInput)
	})
	t.Run("uncanonicalizable payload", func(t *testing.T) {
		_, err := svc.Record(ctx, ledger.KindQA, map[string]any{"t": time.Now()}, "")
		assert.ErrorIs(t, err, canonical.ErrUnsupportedType)
	})
}

func TestRecord_conflictNotifies(t *testing.T) {
	svc, store := newService(generate.Unconfigured{})
	notifier := &recordingNotifier{}
	svc.SetNotifier(notifier)
	var puts []string
	svc.SetMetrics(service.Metrics{Put: func(o string) { puts = append(puts, o) }})
	ctx := context.Background()

	payload := map[string]any{"summary": "genuine"}
	fp, _, err := fingerprint.Of(payload, nil)
	require.NoError(t, err)
	// Different bytes already stored under the same fingerprint.
	_, err = store.Put(ctx, ledger.NewRecord(fp, []byte(`{"summary":"forged"}`), ledger.KindSummarization, "canon/v1+sha256", time.Now()))
	require.NoError(t, err)

	_, err = svc.Record(ctx, ledger.KindSummarization, payload, "")
	require.ErrorIs(t, err, ledger.ErrConflict)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, string(fp), notifier.events[0].Fingerprint)
	assert.Equal(t, "ingest", notifier.events[0].Source)
	assert.Equal(t, []string{"conflict"}, puts)

	rec, err := store.Get(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"forged"}`, string(rec.Payload))
}

func TestVerify_outcomes(t *testing.T) {
	svc, _ := newService(fakeGenerator{out: "The answer is 42."})
	var outcomes []string
	svc.SetMetrics(service.Metrics{Verification: func(o string) { outcomes = append(outcomes, o) }})
	ctx := context.Background()

	res, err := svc.Answer(ctx, "ctx", "q")
	require.NoError(t, err)
	fp := string(res.Fingerprint)

	got, err := svc.Verify(ctx, res.Response(), fp)
	require.NoError(t, err)
	assert.Equal(t, verify.Match, got.Outcome)
	require.NotNil(t, got.RecordedAt)

	got, err = svc.Verify(ctx, map[string]any{"answer": "The answer is 41."}, fp)
	require.NoError(t, err)
	assert.Equal(t, verify.Mismatch, got.Outcome)

	got, err = svc.Verify(ctx, map[string]any{"answer": "x"}, "not-a-fingerprint")
	require.NoError(t, err)
	assert.Equal(t, verify.NotFound, got.Outcome)

	assert.Equal(t, []string{"MATCH", "MISMATCH", "NOT_FOUND"}, outcomes)
}

type failingStore struct{ ledger.Store }

func (failingStore) Get(context.Context, fingerprint.Fingerprint) (*ledger.Record, error) {
	return nil, errors.New("disk on fire")
}

func TestVerify_ledgerUnavailable(t *testing.T) {
	svc := service.New(failingStore{ledger.NewMemoryStore()}, generate.Unconfigured{}, zap.NewNop())
	fp, _, _ := fingerprint.Of(map[string]any{"a": "b"}, nil)

	_, err := svc.Verify(context.Background(), map[string]any{"a": "b"}, string(fp))
	assert.ErrorIs(t, err, verify.ErrLedgerUnavailable)
}

func TestLookup(t *testing.T) {
	svc, _ := newService(fakeGenerator{out: "summary"})
	ctx := context.Background()
	res, err := svc.Summarize(ctx, "text")
	require.NoError(t, err)

	rec, err := svc.Lookup(ctx, "  "+string(res.Fingerprint)+" ")
	require.NoError(t, err)
	assert.Equal(t, res.Fingerprint, rec.Fingerprint)

	_, err = svc.Lookup(ctx, "abc")
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	other, _, _ := fingerprint.Of(map[string]any{"summary": "other"}, nil)
	_, err = svc.Lookup(ctx, string(other))
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	n, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSetHasher_changesScheme(t *testing.T) {
	svc, _ := newService(fakeGenerator{out: "s"})
	svc.SetHasher(fingerprint.SHA3_256())
	assert.Equal(t, "canon/v1+sha3-256", svc.Scheme())

	res, err := svc.Summarize(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "canon/v1+sha3-256", res.Record.Scheme)

	got, err := svc.Verify(context.Background(), res.Response(), string(res.Fingerprint))
	require.NoError(t, err)
	assert.Equal(t, verify.Match, got.Outcome)
}
