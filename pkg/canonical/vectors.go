package canonical

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed testdata/vectors.yaml
var vectorsYAML []byte

// Vector is one shared canonicalization test case. Payload is JSON text as
// a producer would receive it; Canonical and SHA256 are the expected outputs.
type Vector struct {
	Name      string `yaml:"name"`
	Payload   string `yaml:"payload"`
	Canonical string `yaml:"canonical"`
	SHA256    string `yaml:"sha256"`
}

type vectorFile struct {
	Version string   `yaml:"version"`
	Vectors []Vector `yaml:"vectors"`
}

// LoadVectors returns the vectors shipped with this package. Every tier that
// fingerprints results checks itself against the same set.
func LoadVectors() ([]Vector, error) {
	var f vectorFile
	if err := yaml.Unmarshal(vectorsYAML, &f); err != nil {
		return nil, fmt.Errorf("parse vectors: %w", err)
	}
	if f.Version != Version {
		return nil, fmt.Errorf("vectors are for %q, encoder is %q", f.Version, Version)
	}
	return f.Vectors, nil
}

// Check decodes the vector payload and reports whether Encode reproduces
// its canonical form. The returned bytes are what Encode produced.
func (v Vector) Check() ([]byte, error) {
	payload, err := DecodeBytes([]byte(v.Payload))
	if err != nil {
		return nil, fmt.Errorf("vector %s: %w", v.Name, err)
	}
	got, err := Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("vector %s: %w", v.Name, err)
	}
	if string(got) != v.Canonical {
		return got, fmt.Errorf("vector %s: canonical mismatch: got %s, want %s", v.Name, got, v.Canonical)
	}
	return got, nil
}
