package canonical_test

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jmerrifield20/ResultLedger/pkg/canonical"
)

func TestVectors(t *testing.T) {
	vectors, err := canonical.LoadVectors()
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) == 0 {
		t.Fatal("no vectors loaded")
	}
	for _, v := range vectors {
		t.Run(v.Name, func(t *testing.T) {
			got, err := v.Check()
			if err != nil {
				t.Fatal(err)
			}
			sum := sha256.Sum256(got)
			if diff := cmp.Diff(v.SHA256, hex.EncodeToString(sum[:])); diff != "" {
				t.Errorf("sha256 mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncode_orderIndependent(t *testing.T) {
	a := map[string]any{}
	a["summary"] = "x"
	a["kind"] = "qa"
	a["meta"] = map[string]any{"b": 1, "a": []any{"p", "q"}}

	b := map[string]any{}
	b["meta"] = map[string]any{"a": []any{"p", "q"}, "b": 1}
	b["kind"] = "qa"
	b["summary"] = "x"

	ea, err := canonical.Encode(a)
	if err != nil {
		t.Fatal(err)
	}
	eb, err := canonical.Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(string(ea), string(eb)); diff != "" {
		t.Errorf("insertion order changed output (-a +b):\n%s", diff)
	}
}

func TestEncode_deterministic(t *testing.T) {
	p := map[string]any{"a": 1, "b": 2, "c": 3, "d": 4, "e": 5, "f": 6}
	first, err := canonical.Encode(p)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		got, _ := canonical.Encode(p)
		if string(got) != string(first) {
			t.Fatalf("run %d: got %s, want %s", i, got, first)
		}
	}
}

func TestEncode_nilPayload(t *testing.T) {
	got, err := canonical.Encode(nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "{}" {
		t.Errorf("Encode(nil) = %s, want {}", got)
	}
}

func TestEncode_stripsOnlyTopLevelFingerprint(t *testing.T) {
	p := map[string]any{
		"verification_hash": "abc",
		"inner":             map[string]any{"verification_hash": "kept"},
	}
	got, err := canonical.Encode(p)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"inner":{"verification_hash":"kept"}}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
	if _, ok := p["verification_hash"]; !ok {
		t.Error("Encode mutated its input")
	}
}

func TestEncode_goNumericKinds(t *testing.T) {
	p := map[string]any{
		"i8":  int8(-3),
		"u64": uint64(math.MaxUint64),
		"f32": float32(0.1),
		"f64": 2.0,
		"neg": math.Copysign(0, -1),
		"big": 1e300,
		"sml": 5e-324,
	}
	got, err := canonical.Encode(p)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"big":1e+300,"f32":0.1,"f64":2,"i8":-3,"neg":0,"sml":5e-324,"u64":18446744073709551615}`
	if diff := cmp.Diff(want, string(got)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestEncode_typedCollections(t *testing.T) {
	p := map[string]any{
		"tags":   []string{"b", "a"},
		"counts": map[string]int{"y": 2, "x": 1},
	}
	got, err := canonical.Encode(p)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"counts":{"x":1,"y":2},"tags":["b","a"]}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestEncode_noHTMLEscaping(t *testing.T) {
	got, err := canonical.Encode(map[string]any{"h": "<a href='x'>&</a>"})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"h":"<a href='x'>&</a>"}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestEncode_controlCharacters(t *testing.T) {
	got, err := canonical.Encode(map[string]any{"c": "\b\f\n\r\t\x00\x1f\x7f\\"})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"c":"\b\f\n\r\t\u0000\u001f` + "\x7f" + `\\"}`
	if string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEncode_rejects(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    error
		path    string
	}{
		{"struct", map[string]any{"s": struct{ A int }{1}}, canonical.ErrUnsupportedType, "$.s"},
		{"time", map[string]any{"t": time.Now()}, canonical.ErrUnsupportedType, "$.t"},
		{"bytes", map[string]any{"b": []byte("hi")}, canonical.ErrUnsupportedType, "$.b"},
		{"func", map[string]any{"f": func() {}}, canonical.ErrUnsupportedType, "$.f"},
		{"chan", map[string]any{"c": make(chan int)}, canonical.ErrUnsupportedType, "$.c"},
		{"int map key", map[string]any{"m": map[int]string{1: "a"}}, canonical.ErrUnsupportedType, "$.m"},
		{"nan", map[string]any{"n": math.NaN()}, canonical.ErrInvalidNumber, "$.n"},
		{"inf in array", map[string]any{"a": []any{1, math.Inf(1)}}, canonical.ErrInvalidNumber, "$.a[1]"},
		{"bad utf8 value", map[string]any{"s": "\xff"}, canonical.ErrInvalidUTF8, "$.s"},
		{"bad utf8 key", map[string]any{"\xfe": 1}, canonical.ErrInvalidUTF8, "$"},
		{"bad number literal", map[string]any{"n": json.Number("1x")}, canonical.ErrInvalidNumber, "$.n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := canonical.Encode(tc.payload)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			var cerr *canonical.Error
			if !errors.As(err, &cerr) {
				t.Fatalf("err %T is not *canonical.Error", err)
			}
			if cerr.Path != tc.path {
				t.Errorf("path = %q, want %q", cerr.Path, tc.path)
			}
		})
	}
}

func TestEncodeValue_null(t *testing.T) {
	got, err := canonical.EncodeValue(nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "null" {
		t.Errorf("got %s, want null", got)
	}
}

func TestDecode_roundTrip(t *testing.T) {
	in := `{"n": 12345678901234567890, "f": 0.1, "a": [{"k": "v"}], "x": null}`
	p, err := canonical.Decode(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	got, err := canonical.Encode(p)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":[{"k":"v"}],"f":0.1,"n":12345678901234567890,"x":null}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}

	again, err := canonical.DecodeBytes(got)
	if err != nil {
		t.Fatal(err)
	}
	twice, _ := canonical.Encode(again)
	if string(twice) != string(got) {
		t.Errorf("re-encoding changed output: %s vs %s", twice, got)
	}
}

func TestEncode_numberLiteralsStayDistinct(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"integers beyond 64 bits", `{"n": 123456789012345678901234567890}`, `{"n": 123456789012345678901234567891}`},
		{"negative integers beyond 64 bits", `{"n": -99999999999999999999}`, `{"n": -99999999999999999998}`},
		{"uint64 edge", `{"n": 18446744073709551615}`, `{"n": 18446744073709551616}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, err := canonical.Encode(mustDecode(t, tc.a))
			if err != nil {
				t.Fatal(err)
			}
			b, err := canonical.Encode(mustDecode(t, tc.b))
			if err != nil {
				t.Fatal(err)
			}
			if string(a) == string(b) {
				t.Errorf("distinct literals share canonical form %s", a)
			}
		})
	}
}

func TestEncode_bigIntegerLiteral(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"n": 123456789012345678901234567890}`, `{"n":123456789012345678901234567890}`},
		{`{"n": -123456789012345678901234567890}`, `{"n":-123456789012345678901234567890}`},
		{`{"n": 18446744073709551616}`, `{"n":18446744073709551616}`},
	}
	for _, tc := range tests {
		got, err := canonical.Encode(mustDecode(t, tc.in))
		if err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if string(got) != tc.want {
			t.Errorf("Encode(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestEncode_rejectsDecimalsFinerThanFloat64(t *testing.T) {
	for _, in := range []string{
		`{"x": 0.10000000000000000001}`,
		`{"x": 1234567890123456789012.5}`,
		`{"x": 1e-400}`,
		`{"x": 9007199254740993.0}`,
	} {
		_, err := canonical.Encode(mustDecode(t, in))
		if !errors.Is(err, canonical.ErrInvalidNumber) {
			t.Errorf("Encode(%s): err = %v, want ErrInvalidNumber", in, err)
		}
	}

	// Literals that name a float64 exactly are still accepted.
	for in, want := range map[string]string{
		`{"x": 0.1}`:    `{"x":0.1}`,
		`{"x": 0.100}`:  `{"x":0.1}`,
		`{"x": 1.5e3}`:  `{"x":1500}`,
		`{"x": 0.0e-9}`: `{"x":0}`,
	} {
		got, err := canonical.Encode(mustDecode(t, in))
		if err != nil {
			t.Fatalf("Encode(%s): %v", in, err)
		}
		if string(got) != want {
			t.Errorf("Encode(%s) = %s, want %s", in, got, want)
		}
	}
}

func mustDecode(t *testing.T, in string) map[string]any {
	t.Helper()
	p, err := canonical.DecodeBytes([]byte(in))
	if err != nil {
		t.Fatalf("decode %s: %v", in, err)
	}
	return p
}

func TestDecode_rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"duplicate key", `{"a": 1, "a": 2}`, canonical.ErrDuplicateKey},
		{"nested duplicate", `{"o": {"k": 1, "k": 1}}`, canonical.ErrDuplicateKey},
		{"array top level", `[1, 2]`, canonical.ErrNotObject},
		{"string top level", `"s"`, canonical.ErrNotObject},
		{"trailing object", `{} {}`, canonical.ErrTrailingData},
		{"trailing garbage", `{"a":1} x`, canonical.ErrTrailingData},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := canonical.Decode(strings.NewReader(tc.in))
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDecode_malformed(t *testing.T) {
	if _, err := canonical.Decode(strings.NewReader(`{"a": `)); err == nil {
		t.Error("expected error for truncated document")
	}
	if _, err := canonical.Decode(strings.NewReader(``)); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestStrip(t *testing.T) {
	in := map[string]any{"a": 1, canonical.FingerprintField: "x"}
	out := canonical.Strip(in)
	if _, ok := out[canonical.FingerprintField]; ok {
		t.Error("fingerprint field not stripped")
	}
	if len(in) != 2 {
		t.Error("Strip mutated its input")
	}
}
