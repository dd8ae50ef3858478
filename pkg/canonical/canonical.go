// Package canonical turns result payloads into a unique, deterministic byte
// representation suitable for content hashing.
//
// Two payloads that are equal as values always encode to the same bytes,
// regardless of the order their fields were inserted in. The encoding is a
// subset of JSON:
//
//   - object keys sorted byte-wise on their UTF-8 form, at every depth
//   - no insignificant whitespace
//   - strings escape only '"', '\' and control characters; no HTML escaping
//   - numbers in shortest round-trip form; integral values carry no fraction
//
// The scheme is versioned. Any change to the byte output of an existing
// payload requires a new Version.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"unicode/utf8"
)

// Version identifies the canonicalization scheme implemented by Encode.
const Version = "canon/v1"

// FingerprintField is the top-level field a displayed result carries its own
// fingerprint in. It is never part of the hashed content.
const FingerprintField = "verification_hash"

// Strip returns a shallow copy of payload without FingerprintField.
// A nil payload yields an empty map.
func Strip(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == FingerprintField {
			continue
		}
		out[k] = v
	}
	return out
}

// Encode returns the canonical bytes of payload. The top-level fingerprint
// field is ignored. An empty or nil payload encodes as "{}".
func Encode(payload map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, "$", Strip(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeValue returns the canonical bytes of an arbitrary supported value.
// Unlike Encode it does not strip anything.
func EncodeValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, "$", v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, path string, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if x {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		return encodeString(buf, path, x)
	case json.Number:
		s, err := formatNumber(x)
		if err != nil {
			return &Error{Path: path, Err: err}
		}
		buf.WriteString(s)
		return nil
	case map[string]any:
		return encodeObject(buf, path, x)
	case []any:
		buf.WriteByte('[')
		for i, el := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, fmt.Sprintf("%s[%d]", path, i), el); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case []byte:
		return &Error{Path: path, Err: fmt.Errorf("%w: []byte", ErrUnsupportedType)}
	}
	return encodeReflect(buf, path, reflect.ValueOf(v))
}

// encodeReflect handles typed maps, slices and the numeric kinds that the
// fast path above does not name.
func encodeReflect(buf *bytes.Buffer, path string, rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf.WriteString(formatInt(rv.Int()))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		buf.WriteString(formatUint(rv.Uint()))
		return nil
	case reflect.Float32:
		s, err := formatFloat32(float32(rv.Float()))
		if err != nil {
			return &Error{Path: path, Err: err}
		}
		buf.WriteString(s)
		return nil
	case reflect.Float64:
		s, err := formatFloat(rv.Float())
		if err != nil {
			return &Error{Path: path, Err: err}
		}
		buf.WriteString(s)
		return nil
	case reflect.Bool:
		return encodeValue(buf, path, rv.Bool())
	case reflect.String:
		return encodeString(buf, path, rv.String())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return &Error{Path: path, Err: fmt.Errorf("%w: map key %s", ErrUnsupportedType, rv.Type().Key())}
		}
		if rv.IsNil() {
			buf.WriteString("null")
			return nil
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return encodeObject(buf, path, m)
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return &Error{Path: path, Err: fmt.Errorf("%w: %s", ErrUnsupportedType, rv.Type())}
		}
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			buf.WriteString("null")
			return nil
		}
		buf.WriteByte('[')
		for i := 0; i < rv.Len(); i++ {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, fmt.Sprintf("%s[%d]", path, i), rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	}
	return &Error{Path: path, Err: fmt.Errorf("%w: %s", ErrUnsupportedType, rv.Type())}
}

func encodeObject(buf *bytes.Buffer, path string, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		if !utf8.ValidString(k) {
			return &Error{Path: path, Err: fmt.Errorf("%w: object key %q", ErrInvalidUTF8, k)}
		}
		keys = append(keys, k)
	}
	// Go string comparison is byte-wise, which is the required key order.
	slices.Sort(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeQuoted(buf, k)
		buf.WriteByte(':')
		if err := encodeValue(buf, path+"."+k, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeString(buf *bytes.Buffer, path, s string) error {
	if !utf8.ValidString(s) {
		return &Error{Path: path, Err: ErrInvalidUTF8}
	}
	writeQuoted(buf, s)
	return nil
}

const hexDigits = "0123456789abcdef"

func writeQuoted(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c != '"' && c != '\\' {
			continue
		}
		buf.WriteString(s[start:i])
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			buf.WriteString(`\u00`)
			buf.WriteByte(hexDigits[c>>4])
			buf.WriteByte(hexDigits[c&0xf])
		}
		start = i + 1
	}
	buf.WriteString(s[start:])
	buf.WriteByte('"')
}
