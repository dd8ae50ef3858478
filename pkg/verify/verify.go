// Package verify checks a displayed result against the ledger.
//
// Verification is a three-way comparison between the fingerprint the
// result claims (F_orig), the fingerprint recomputed from the content the
// verifier actually holds (F_client), and the fingerprint the ledger has on
// record for the claim (F_ledger). A result verifies only when all three
// agree. Verification is read-only and may be repeated any number of times.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/ResultLedger/pkg/canonical"
	"github.com/jmerrifield20/ResultLedger/pkg/fingerprint"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/jmerrifield20/ResultLedger/pkg/verify"

// Outcome is the result of one verification.
type Outcome string

const (
	Match    Outcome = "MATCH"
	Mismatch Outcome = "MISMATCH"
	NotFound Outcome = "NOT_FOUND"
)

// ErrLedgerUnavailable matches every *TransportError.
var ErrLedgerUnavailable = errors.New("ledger unavailable")

// TransportError reports that the ledger could not be consulted. It is
// never reported as a Mismatch: the content may well be genuine.
type TransportError struct {
	Fingerprint fingerprint.Fingerprint
	Err         error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ledger lookup %s: %v", e.Fingerprint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrLedgerUnavailable) true.
func (e *TransportError) Is(target error) bool { return target == ErrLedgerUnavailable }

// Entry is what a Ledger knows about a recorded fingerprint.
type Entry struct {
	Fingerprint fingerprint.Fingerprint
	RecordedAt  time.Time
}

// Ledger is the read side of the ledger as the verifier sees it.
type Ledger interface {
	// Lookup returns the entry recorded under fp, or nil and no error when
	// nothing is recorded. A non-nil error means the ledger could not answer.
	Lookup(ctx context.Context, fp fingerprint.Fingerprint) (*Entry, error)
}

// LedgerFunc adapts a function to Ledger.
type LedgerFunc func(ctx context.Context, fp fingerprint.Fingerprint) (*Entry, error)

// Lookup implements Ledger.
func (f LedgerFunc) Lookup(ctx context.Context, fp fingerprint.Fingerprint) (*Entry, error) {
	return f(ctx, fp)
}

// Result carries the outcome and the three fingerprints behind it.
type Result struct {
	Outcome    Outcome                 `json:"outcome"`
	Original   fingerprint.Fingerprint `json:"f_orig"`
	Client     fingerprint.Fingerprint `json:"f_client"`
	Ledger     fingerprint.Fingerprint `json:"f_ledger,omitempty"`
	RecordedAt *time.Time              `json:"recorded_at,omitempty"`
}

// Verifier performs three-way verification against a Ledger.
type Verifier struct {
	ledger Ledger
	hasher fingerprint.Hasher
	tracer trace.Tracer
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithHasher selects the hash algorithm. It must match the one the
// producer recorded with.
func WithHasher(h fingerprint.Hasher) Option {
	return func(v *Verifier) { v.hasher = h }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(v *Verifier) { v.tracer = tp.Tracer(tracerName) }
}

// New returns a Verifier reading from l.
func New(l Ledger, opts ...Option) *Verifier {
	v := &Verifier{
		ledger: l,
		hasher: fingerprint.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify checks displayed against the ledger record for claimed.
//
// A fingerprint field inside displayed is ignored; only claimed is used as
// F_orig. A claimed value that is not a well-formed fingerprint cannot have
// been recorded and yields NotFound without consulting the ledger.
// Canonicalization failures are returned as errors from package canonical
// and ledger failures as *TransportError.
func (v *Verifier) Verify(ctx context.Context, displayed map[string]any, claimed string) (*Result, error) {
	ctx, span := v.tracer.Start(ctx, "verify.Verify")
	defer span.End()

	client, _, err := fingerprint.Of(displayed, v.hasher)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "canonicalize")
		return nil, err
	}
	res := &Result{Original: fingerprint.Fingerprint(claimed), Client: client}

	orig, err := fingerprint.Parse(claimed)
	if err != nil {
		res.Outcome = NotFound
		span.SetAttributes(attribute.String("verify.outcome", string(res.Outcome)))
		return res, nil
	}
	res.Original = orig
	span.SetAttributes(attribute.String("verify.f_orig", string(orig)))

	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Fingerprint: orig, Err: err}
	}
	entry, err := v.ledger.Lookup(ctx, orig)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger lookup")
		return nil, &TransportError{Fingerprint: orig, Err: err}
	}
	if entry == nil {
		res.Outcome = NotFound
		span.SetAttributes(attribute.String("verify.outcome", string(res.Outcome)))
		return res, nil
	}

	res.Ledger = entry.Fingerprint
	if !entry.RecordedAt.IsZero() {
		at := entry.RecordedAt
		res.RecordedAt = &at
	}
	if res.Original == res.Ledger && res.Client == res.Ledger {
		res.Outcome = Match
	} else {
		res.Outcome = Mismatch
	}
	span.SetAttributes(attribute.String("verify.outcome", string(res.Outcome)))
	return res, nil
}

// VerifyResult verifies a result that carries its own fingerprint in the
// verification_hash field, as results are handed to consumers.
func (v *Verifier) VerifyResult(ctx context.Context, result map[string]any) (*Result, error) {
	claimed, _ := result[canonical.FingerprintField].(string)
	return v.Verify(ctx, result, claimed)
}
