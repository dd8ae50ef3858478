package canonical

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

func formatInt(i int64) string   { return strconv.FormatInt(i, 10) }
func formatUint(u uint64) string { return strconv.FormatUint(u, 10) }

// formatFloat renders f in the shortest form that round-trips to the same
// float64. Plain notation is used for 1e-6 <= |f| < 1e21 and exponent
// notation ("1e+21", "1e-7") outside it. Negative zero renders as "0".
func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: %v", ErrInvalidNumber, f)
	}
	if f == 0 {
		return "0", nil
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return trimExponent(strconv.FormatFloat(f, 'e', -1, 64)), nil
}

// formatFloat32 uses the shortest decimal that identifies the float32, so
// float32(0.1) renders as 0.1 rather than its widened float64 expansion.
func formatFloat32(f float32) (string, error) {
	if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
		return "", fmt.Errorf("%w: %v", ErrInvalidNumber, f)
	}
	widened, err := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'g', -1, 32), 64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidNumber, err)
	}
	return formatFloat(widened)
}

// trimExponent turns Go's "1e-07" into "1e-7".
func trimExponent(s string) string {
	i := strings.IndexByte(s, 'e')
	if i < 0 || i+2 >= len(s) {
		return s
	}
	mant, sign, digits := s[:i], s[i+1], strings.TrimLeft(s[i+2:], "0")
	if digits == "" {
		digits = "0"
	}
	return mant + "e" + string(sign) + digits
}

// formatNumber canonicalizes a decoded JSON number literal. Integer
// literals keep every digit, including those beyond 64 bits. Any other
// literal must name exactly the float64 it parses to; one carrying more
// precision than that is rejected, since rounding it would let two
// different documents share a canonical form.
func formatNumber(n json.Number) (string, error) {
	s := n.String()
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return formatInt(i), nil
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return formatUint(u), nil
	}
	if isIntegerLiteral(s) {
		b, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrInvalidNumber, s)
		}
		return b.String(), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	if !exactFloat(s, f) {
		return "", fmt.Errorf("%w: %q exceeds float64 precision", ErrInvalidNumber, s)
	}
	return formatFloat(f)
}

// isIntegerLiteral reports whether s is an optional minus sign followed
// only by decimal digits.
func isIntegerLiteral(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// exactFloat reports whether the decimal literal s has the same value as
// the shortest decimal form of f.
func exactFloat(s string, f float64) bool {
	if f == 0 {
		// Underflow parses to zero; only a literal of zero digits is exact.
		// Checked on the mantissa so a huge negative exponent is never expanded.
		mant, _, _ := strings.Cut(strings.ToLower(s), "e")
		return strings.Trim(mant, "-+.0") == ""
	}
	lit, ok := new(big.Rat).SetString(s)
	if !ok {
		return false
	}
	short, ok := new(big.Rat).SetString(strconv.FormatFloat(f, 'g', -1, 64))
	return ok && lit.Cmp(short) == 0
}
