// Package inspect takes live schema snapshots and validates them against a
// declarative expectation document.
package inspect

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pgvolve/pgvolve/internal/pverr"
)

// SchemaExpectation declares what a migrated database must contain. It is
// loaded from YAML and checked against a live snapshot after migrations run.
type SchemaExpectation struct {
	Tables        []TableExpectation       `yaml:"tables"`
	Enums         []string                 `yaml:"enums"`
	Functions     []string                 `yaml:"functions"`
	Extensions    []string                 `yaml:"extensions"`
	IndexPrefixes []IndexPrefixExpectation `yaml:"index_prefixes"`
}

// TableExpectation names a table and the columns it must carry.
// RequiredColumns missing from the live schema fail validation hard;
// Columns missing are reported as advisory findings only.
type TableExpectation struct {
	Name            string   `yaml:"name"`
	RequiredColumns []string `yaml:"required_columns"`
	Columns         []string `yaml:"columns"`
}

// IndexPrefixExpectation requires at least Min indexes whose names start
// with Prefix.
type IndexPrefixExpectation struct {
	Prefix string `yaml:"prefix"`
	Min    int    `yaml:"min"`
}

// ParseExpectation decodes a YAML expectation document.
func ParseExpectation(data []byte) (*SchemaExpectation, error) {
	var exp SchemaExpectation
	if err := yaml.Unmarshal(data, &exp); err != nil {
		return nil, pverr.Wrap(pverr.ErrIntrospection, err, "failed to parse schema expectation")
	}
	return &exp, nil
}

// LoadExpectation reads and decodes an expectation file.
func LoadExpectation(path string) (*SchemaExpectation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pverr.Wrap(pverr.ErrFileRead, err, "failed to read expectation file").
			WithFilename(path)
	}
	return ParseExpectation(data)
}
