package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Decode reads a single JSON object from r for later canonicalization.
//
// It is stricter than encoding/json: numbers are kept as json.Number so the
// encoder sees the literal as written (big integers stay exact and decimals
// finer than a float64 are rejected at encode time), repeated object keys are rejected
// instead of silently resolved to the last value, and anything after the
// object is an error.
func Decode(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, &Error{Path: "$", Err: ErrNotObject}
	}
	obj, err := decodeObject(dec, "$")
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &Error{Path: "$", Err: ErrTrailingData}
	}
	return obj, nil
}

// DecodeBytes is Decode over an in-memory document.
func DecodeBytes(b []byte) (map[string]any, error) {
	return Decode(bytes.NewReader(b))
}

// decodeObject is called after the opening '{' has been consumed.
func decodeObject(dec *json.Decoder, path string) (map[string]any, error) {
	obj := make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode payload at %s: %w", path, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("decode payload at %s: unexpected token %v", path, tok)
		}
		if _, dup := obj[key]; dup {
			return nil, &Error{Path: path, Err: fmt.Errorf("%w: %q", ErrDuplicateKey, key)}
		}
		v, err := decodeValue(dec, path+"."+key)
		if err != nil {
			return nil, err
		}
		obj[key] = v
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return nil, fmt.Errorf("decode payload at %s: %w", path, err)
	}
	return obj, nil
}

func decodeValue(dec *json.Decoder, path string) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode payload at %s: %w", path, err)
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch d {
	case '{':
		return decodeObject(dec, path)
	case '[':
		arr := []any{}
		for i := 0; dec.More(); i++ {
			v, err := decodeValue(dec, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if _, err := dec.Token(); err != nil { // closing ']'
			return nil, fmt.Errorf("decode payload at %s: %w", path, err)
		}
		return arr, nil
	}
	return nil, fmt.Errorf("decode payload at %s: unexpected delimiter %v", path, d)
}
