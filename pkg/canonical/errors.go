package canonical

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedType is returned for values outside the JSON data model,
	// such as structs, times, channels, functions or byte slices.
	ErrUnsupportedType = errors.New("unsupported type")
	// ErrInvalidNumber is returned for NaN, infinities and malformed number literals.
	ErrInvalidNumber = errors.New("invalid number")
	// ErrInvalidUTF8 is returned for strings or keys that are not valid UTF-8.
	ErrInvalidUTF8 = errors.New("invalid UTF-8")
	// ErrDuplicateKey is returned by Decode when an object repeats a key.
	ErrDuplicateKey = errors.New("duplicate object key")
	// ErrNotObject is returned by Decode when the document is not a JSON object.
	ErrNotObject = errors.New("payload must be a JSON object")
	// ErrTrailingData is returned by Decode when input continues after the object.
	ErrTrailingData = errors.New("trailing data after payload")
)

// Error reports a value that cannot be canonicalized and where it was found.
// Path uses "$" for the payload root, ".key" for object members and "[i]"
// for array elements.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("canonicalize %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
