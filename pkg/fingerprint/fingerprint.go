// Package fingerprint derives content fingerprints from result payloads.
//
// A Fingerprint is the lowercase hex digest of a payload's canonical bytes
// (see package canonical). It detects any change to the content but carries
// no secret, so it says nothing about who produced the content.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"github.com/jmerrifield20/ResultLedger/pkg/canonical"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Size is the length in characters of a hex-encoded fingerprint.
const Size = 64

// ErrMalformed is returned by Parse for strings that are not 64 hex characters.
var ErrMalformed = errors.New("fingerprint must be 64 hex characters")

// Fingerprint is a 64-character lowercase hex digest.
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// Valid reports whether f is exactly 64 lowercase hex characters.
func (f Fingerprint) Valid() bool {
	if len(f) != Size {
		return false
	}
	for i := 0; i < len(f); i++ {
		c := f[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Parse validates s and normalizes it to lowercase. Surrounding whitespace
// is ignored.
func Parse(s string) (Fingerprint, error) {
	f := Fingerprint(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return f, nil
}

// Hasher maps canonical bytes to a fingerprint.
type Hasher interface {
	// Name is the configuration name of the algorithm, e.g. "sha256".
	Name() string
	Sum(canonical []byte) Fingerprint
}

type digestHasher struct {
	name string
	new  func() hash.Hash
}

func (h digestHasher) Name() string { return h.name }

func (h digestHasher) Sum(b []byte) Fingerprint {
	d := h.new()
	d.Write(b) //nolint:errcheck
	return Fingerprint(hex.EncodeToString(d.Sum(nil)))
}

// SHA256 is the default hasher.
func SHA256() Hasher { return digestHasher{name: "sha256", new: sha256.New} }

// SHA3_256 hashes with SHA3-256 (FIPS 202).
func SHA3_256() Hasher { return digestHasher{name: "sha3-256", new: sha3.New256} }

// BLAKE2b256 hashes with unkeyed BLAKE2b-256.
func BLAKE2b256() Hasher {
	return digestHasher{name: "blake2b-256", new: func() hash.Hash {
		h, _ := blake2b.New256(nil) // only fails for keys over 64 bytes
		return h
	}}
}

// Default is the hasher used when none is configured.
func Default() Hasher { return SHA256() }

// ByName returns the hasher registered under name. The empty name selects
// the default.
func ByName(name string) (Hasher, error) {
	switch strings.ToLower(name) {
	case "", "sha256", "sha-256":
		return SHA256(), nil
	case "sha3-256", "sha3_256":
		return SHA3_256(), nil
	case "blake2b-256", "blake2b":
		return BLAKE2b256(), nil
	}
	return nil, fmt.Errorf("unknown hash algorithm %q", name)
}

// Scheme names the canonicalization version and hash algorithm together,
// e.g. "canon/v1+sha256". Ledger records store it next to each fingerprint.
func Scheme(h Hasher) string {
	return canonical.Version + "+" + h.Name()
}

// Of canonicalizes payload and hashes it. The canonical bytes are returned
// as well so callers can store them without encoding twice. A nil hasher
// means Default.
func Of(payload map[string]any, h Hasher) (Fingerprint, []byte, error) {
	if h == nil {
		h = Default()
	}
	b, err := canonical.Encode(payload)
	if err != nil {
		return "", nil, err
	}
	return h.Sum(b), b, nil
}
