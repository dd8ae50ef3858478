// Package service ties generation, fingerprinting, the ledger and
// verification together. Every result handed out by the service has been
// recorded before it is returned.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmerrifield20/ResultLedger/internal/alert"
	"github.com/jmerrifield20/ResultLedger/internal/generate"
	"github.com/jmerrifield20/ResultLedger/internal/ledger"
	"github.com/jmerrifield20/ResultLedger/pkg/canonical"
	"github.com/jmerrifield20/ResultLedger/pkg/fingerprint"
	"github.com/jmerrifield20/ResultLedger/pkg/verify"
	"go.uber.org/zap"
)

var (
	// ErrInvalidInput is returned for missing or empty request fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrFingerprintMismatch is returned by Record when the producer's
	// claimed fingerprint differs from the one computed from the payload.
	ErrFingerprintMismatch = errors.New("claimed fingerprint does not match payload")
)

// GenerationError wraps a failure of the generation backend.
type GenerationError struct {
	Kind string
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %s: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Result is a recorded payload and its fingerprint.
type Result struct {
	Payload     map[string]any
	Fingerprint fingerprint.Fingerprint
	Record      *ledger.Record
	Outcome     ledger.PutOutcome
}

// Response returns the payload as handed to consumers: the content fields
// plus the fingerprint under verification_hash.
func (r *Result) Response() map[string]any {
	out := make(map[string]any, len(r.Payload)+1)
	for k, v := range r.Payload {
		out[k] = v
	}
	out[canonical.FingerprintField] = string(r.Fingerprint)
	return out
}

// Metrics are optional callbacks for recording service outcomes.
type Metrics struct {
	Put          func(outcome string)
	Verification func(outcome string)
	Generation   func(kind string, d time.Duration, ok bool)
}

// ResultService records generated and submitted results and verifies them.
type ResultService struct {
	store     ledger.Store
	generator generate.Generator
	hasher    fingerprint.Hasher
	verifier  *verify.Verifier
	notifier  alert.Notifier
	metrics   Metrics
	now       func() time.Time
	logger    *zap.Logger
}

// New creates a ResultService using SHA-256 fingerprints.
func New(store ledger.Store, gen generate.Generator, logger *zap.Logger) *ResultService {
	s := &ResultService{
		store:     store,
		generator: gen,
		notifier:  alert.Nop{},
		now:       time.Now,
		logger:    logger,
	}
	s.SetHasher(fingerprint.Default())
	return s
}

// SetHasher selects the fingerprint algorithm for new records and
// verification.
func (s *ResultService) SetHasher(h fingerprint.Hasher) {
	s.hasher = h
	s.verifier = verify.New(ledger.Reader(s.store), verify.WithHasher(h))
}

// SetNotifier configures where conflict events are sent.
func (s *ResultService) SetNotifier(n alert.Notifier) {
	s.notifier = n
}

// SetMetrics configures the metrics callbacks.
func (s *ResultService) SetMetrics(m Metrics) {
	s.metrics = m
}

// SetClock overrides the time source used to stamp records.
func (s *ResultService) SetClock(now func() time.Time) {
	s.now = now
}

// Scheme returns the canonicalization and hash scheme of new records.
func (s *ResultService) Scheme() string {
	return fingerprint.Scheme(s.hasher)
}

// Summarize generates a summary of text and records {"summary": ...}.
func (s *ResultService) Summarize(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: no text provided", ErrInvalidInput)
	}
	out, err := s.generate(ctx, ledger.KindSummarization, func(ctx context.Context) (string, error) {
		return s.generator.Summarize(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return s.record(ctx, ledger.KindSummarization, map[string]any{"summary": out}, "generate")
}

// Answer answers question from contextText and records {"answer": ...}.
func (s *ResultService) Answer(ctx context.Context, contextText, question string) (*Result, error) {
	if strings.TrimSpace(contextText) == "" || strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: context and question are required", ErrInvalidInput)
	}
	out, err := s.generate(ctx, ledger.KindQA, func(ctx context.Context) (string, error) {
		return s.generator.Answer(ctx, contextText, question)
	})
	if err != nil {
		return nil, err
	}
	return s.record(ctx, ledger.KindQA, map[string]any{"answer": out}, "generate")
}

// LearningPath generates a learning path for topic and records
// {"learning_path": ...}.
func (s *ResultService) LearningPath(ctx context.Context, topic string) (*Result, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("%w: no topic provided", ErrInvalidInput)
	}
	out, err := s.generate(ctx, ledger.KindLearningPath, func(ctx context.Context) (string, error) {
		return s.generator.LearningPath(ctx, topic)
	})
	if err != nil {
		return nil, err
	}
	return s.record(ctx, ledger.KindLearningPath, map[string]any{"learning_path": out}, "generate")
}

// Record fingerprints and records a payload produced elsewhere. When
// claimed is non-empty it must equal the computed fingerprint.
func (s *ResultService) Record(ctx context.Context, kind string, payload map[string]any, claimed string) (*Result, error) {
	if strings.TrimSpace(kind) == "" {
		return nil, fmt.Errorf("%w: kind is required", ErrInvalidInput)
	}
	if claimed != "" {
		want, err := fingerprint.Parse(claimed)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		got, _, err := fingerprint.Of(payload, s.hasher)
		if err != nil {
			return nil, err
		}
		if got != want {
			return nil, fmt.Errorf("%w: claimed %s, computed %s", ErrFingerprintMismatch, want, got)
		}
	}
	return s.record(ctx, kind, payload, "ingest")
}

// Verify performs three-way verification of displayed against the record
// for claimed.
func (s *ResultService) Verify(ctx context.Context, displayed map[string]any, claimed string) (*verify.Result, error) {
	res, err := s.verifier.Verify(ctx, displayed, claimed)
	if err != nil {
		if errors.Is(err, verify.ErrLedgerUnavailable) {
			s.logger.Error("verification: ledger unavailable", zap.Error(err))
		}
		return nil, err
	}
	if s.metrics.Verification != nil {
		s.metrics.Verification(string(res.Outcome))
	}
	return res, nil
}

// Lookup returns the record for a fingerprint string. Malformed input is
// reported as ErrInvalidInput, an unknown fingerprint as ledger.ErrNotFound.
func (s *ResultService) Lookup(ctx context.Context, fp string) (*ledger.Record, error) {
	parsed, err := fingerprint.Parse(fp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.store.Get(ctx, parsed)
}

// Count returns the number of recorded results.
func (s *ResultService) Count(ctx context.Context) (int, error) {
	return s.store.Len(ctx)
}

func (s *ResultService) generate(ctx context.Context, kind string, fn func(context.Context) (string, error)) (string, error) {
	start := time.Now()
	out, err := fn(ctx)
	if s.metrics.Generation != nil {
		s.metrics.Generation(kind, time.Since(start), err == nil)
	}
	if err != nil {
		s.logger.Warn("generation failed", zap.String("kind", kind), zap.Error(err))
		return "", &GenerationError{Kind: kind, Err: err}
	}
	return out, nil
}

// record fingerprints payload and writes it to the ledger. source names
// the path the payload arrived by, for logs and alerts.
func (s *ResultService) record(ctx context.Context, kind string, payload map[string]any, source string) (*Result, error) {
	fp, canon, err := fingerprint.Of(payload, s.hasher)
	if err != nil {
		return nil, err
	}
	// The returned payload is rebuilt from the canonical bytes so it shares
	// no maps or slices with the caller's and carries no verification_hash.
	stored, err := canonical.DecodeBytes(canon)
	if err != nil {
		return nil, fmt.Errorf("decode canonical payload: %w", err)
	}
	rec := ledger.NewRecord(fp, canon, kind, s.Scheme(), s.now())

	outcome, err := s.store.Put(ctx, rec)
	if err != nil {
		var conflict *ledger.ConflictError
		if errors.As(err, &conflict) {
			s.logger.Warn("ledger write conflict",
				zap.String("fingerprint", string(fp)),
				zap.String("kind", kind),
				zap.String("source", source),
			)
			s.recordPut("conflict")
			s.notifier.NotifyConflict(ctx, alert.Event{
				Type:        alert.EventLedgerConflict,
				Fingerprint: string(fp),
				Kind:        kind,
				Source:      source,
			})
			return nil, err
		}
		s.recordPut("error")
		return nil, fmt.Errorf("record result: %w", err)
	}
	s.recordPut(outcome.String())

	s.logger.Info("result recorded",
		zap.String("fingerprint", string(fp)),
		zap.String("kind", kind),
		zap.String("source", source),
		zap.Stringer("outcome", outcome),
	)
	return &Result{Payload: stored, Fingerprint: fp, Record: rec, Outcome: outcome}, nil
}

func (s *ResultService) recordPut(outcome string) {
	if s.metrics.Put != nil {
		s.metrics.Put(outcome)
	}
}
