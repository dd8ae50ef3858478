// Package lookup implements the ResultLedger lookup service: a read-only
// tier, deployed apart from the ledger server, that answers record lookups
// and three-way verifications over gRPC and an HTTP/JSON gateway.
//
// Records are fetched from the ledger server over HTTP and cached in
// memory. Only found records are cached; a fingerprint that is not yet
// recorded is asked for again on the next request.
package lookup

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/jmerrifield20/ResultLedger/pkg/canonical"
	"github.com/jmerrifield20/ResultLedger/pkg/client"
	"github.com/jmerrifield20/ResultLedger/pkg/fingerprint"
	"github.com/jmerrifield20/ResultLedger/pkg/verify"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// recordSource fetches records from the ledger server.
type recordSource interface {
	GetRecord(ctx context.Context, fp string) (*client.Record, error)
}

// Config holds lookup service configuration.
type Config struct {
	CacheTTL time.Duration // 0 disables caching
	Hasher   fingerprint.Hasher
}

// Service implements LedgerLookupServer.
type Service struct {
	source   recordSource
	cache    *recordCache
	group    singleflight.Group
	verifier *verify.Verifier
	logger   *zap.Logger
}

// New creates a lookup Service reading from source.
func New(source recordSource, cfg Config, logger *zap.Logger) *Service {
	svc := &Service{source: source, logger: logger}
	if cfg.CacheTTL > 0 {
		svc.cache = newRecordCache(cfg.CacheTTL)
	}
	svc.verifier = verify.New(verify.LedgerFunc(svc.lookupEntry), verify.WithHasher(cfg.Hasher))
	return svc
}

// Lookup implements LedgerLookupServer.Lookup. The request carries a
// "fingerprint" string field.
func (s *Service) Lookup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fp, err := fingerprint.Parse(req.GetFields()["fingerprint"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	rec, err := s.record(ctx, fp)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "ledger unreachable: %v", err)
	}
	if rec == nil {
		return nil, status.Errorf(codes.NotFound, "fingerprint %s not recorded", fp)
	}

	out := map[string]any{
		"status":      "found",
		"fingerprint": rec.Fingerprint,
		"recorded_at": rec.RecordedAt.Format(time.RFC3339Nano),
		"kind":        rec.Kind,
		"scheme":      rec.Scheme,
	}
	if len(rec.Payload) > 0 {
		payload, err := canonical.DecodeBytes(rec.Payload)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "decode recorded payload: %v", err)
		}
		out["payload"] = payload
	}
	resp, err := structpb.NewStruct(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return resp, nil
}

// Verify implements LedgerLookupServer.Verify. The request carries a
// "payload" object and a "fingerprint" string; when the fingerprint is
// absent the payload's verification_hash field is used.
func (s *Service) Verify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	payloadStruct := fields["payload"].GetStructValue()
	if payloadStruct == nil {
		return nil, status.Error(codes.InvalidArgument, "payload object is required")
	}
	payload := payloadStruct.AsMap()
	if hasInexactInteger(payload) {
		return nil, status.Error(codes.InvalidArgument,
			"payload cannot be verified exactly over this transport; use the HTTP API")
	}
	claimed := fields["fingerprint"].GetStringValue()
	if claimed == "" {
		claimed, _ = payload[canonical.FingerprintField].(string)
	}

	res, err := s.verifier.Verify(ctx, payload, claimed)
	if err != nil {
		if errors.Is(err, verify.ErrLedgerUnavailable) {
			return nil, status.Errorf(codes.Unavailable, "%v", err)
		}
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	out := map[string]any{
		"outcome":  string(res.Outcome),
		"f_orig":   string(res.Original),
		"f_client": string(res.Client),
	}
	if res.Ledger != "" {
		out["f_ledger"] = string(res.Ledger)
	}
	if res.RecordedAt != nil {
		out["recorded_at"] = res.RecordedAt.Format(time.RFC3339Nano)
	}
	resp, err := structpb.NewStruct(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return resp, nil
}

// maxExactInteger is the largest magnitude below which every integer has
// its own float64. google.protobuf.Value carries numbers as doubles, so an
// integer at or past it may already have been rounded by the caller's
// encoder.
const maxExactInteger = 1 << 53

// hasInexactInteger reports whether v holds an integral number too large to
// have survived the double encoding intact.
func hasInexactInteger(v any) bool {
	switch x := v.(type) {
	case float64:
		return x == math.Trunc(x) && math.Abs(x) >= maxExactInteger
	case map[string]any:
		for _, el := range x {
			if hasInexactInteger(el) {
				return true
			}
		}
	case []any:
		for _, el := range x {
			if hasInexactInteger(el) {
				return true
			}
		}
	}
	return false
}

// CacheStats describes the record cache.
type CacheStats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// CacheStats reports the record cache size and hit counts. It is zero when
// caching is disabled.
func (s *Service) CacheStats() CacheStats {
	if s.cache == nil {
		return CacheStats{}
	}
	return s.cache.stats()
}

// StartCacheEviction starts a background goroutine that periodically evicts
// expired cache entries until ctx is done.
func (s *Service) StartCacheEviction(ctx context.Context, interval time.Duration) {
	if s.cache == nil {
		return
	}
	if interval == 0 {
		interval = time.Minute
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := s.cache.evict(); n > 0 {
					s.logger.Debug("cache eviction", zap.Int("evicted", n))
				}
			}
		}
	}()
}

func (s *Service) lookupEntry(ctx context.Context, fp fingerprint.Fingerprint) (*verify.Entry, error) {
	rec, err := s.record(ctx, fp)
	if err != nil || rec == nil {
		return nil, err
	}
	got, err := fingerprint.Parse(rec.Fingerprint)
	if err != nil {
		return nil, err
	}
	return &verify.Entry{Fingerprint: got, RecordedAt: rec.RecordedAt}, nil
}

// record returns the record for fp, nil when the ledger has none.
// Concurrent misses for one fingerprint share a single upstream request.
func (s *Service) record(ctx context.Context, fp fingerprint.Fingerprint) (*client.Record, error) {
	key := string(fp)
	if s.cache != nil {
		if rec, ok := s.cache.get(fp); ok {
			s.logger.Debug("cache hit", zap.String("fingerprint", key))
			return rec, nil
		}
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		rec, err := s.source.GetRecord(context.WithoutCancel(ctx), key)
		if errors.Is(err, client.ErrNotFound) {
			return (*client.Record)(nil), nil
		}
		if err != nil {
			s.logger.Warn("ledger lookup failed", zap.String("fingerprint", key), zap.Error(err))
			return nil, err
		}
		if s.cache != nil {
			s.cache.set(fp, rec)
		}
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*client.Record), nil
}
