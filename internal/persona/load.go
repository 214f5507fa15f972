package persona

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed personas.yaml
var embeddedFile []byte

// Embedded returns the registry built from the bundled personas.yaml.
func Embedded() (*Registry, error) {
	return Parse(embeddedFile)
}

// EmbeddedYAML returns the bundled persona file, for scaffolding a copy.
func EmbeddedYAML() []byte {
	return append([]byte(nil), embeddedFile...)
}

// LoadFile reads a YAML persona file. An empty path selects the bundled file.
func LoadFile(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Embedded()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	reg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("persona file %s: %w", path, err)
	}
	return reg, nil
}

// Parse decodes YAML persona configuration. Unknown keys are rejected.
func Parse(data []byte) (*Registry, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode personas: %w", err)
	}
	return New(f)
}
