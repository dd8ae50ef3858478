package ledger

import (
	"context"
	"errors"

	"github.com/jmerrifield20/ResultLedger/pkg/fingerprint"
	"github.com/jmerrifield20/ResultLedger/pkg/verify"
)

// Reader adapts a Store to the verifier's read interface.
func Reader(s Store) verify.Ledger {
	return verify.LedgerFunc(func(ctx context.Context, fp fingerprint.Fingerprint) (*verify.Entry, error) {
		r, err := s.Get(ctx, fp)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &verify.Entry{Fingerprint: r.Fingerprint, RecordedAt: r.RecordedAt}, nil
	})
}
