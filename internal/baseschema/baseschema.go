// Package baseschema renders declarative table definitions into CREATE TABLE
// DDL. Identifiers are validated against an allow-list pattern and DDL is
// assembled from static templates only; no caller-supplied string ever
// reaches the statement unquoted or unvalidated.
package baseschema

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pgvolve/pgvolve/internal/dialect"
	"github.com/pgvolve/pgvolve/internal/pverr"
)

// identPattern is the allow-list for table and column names: snake_case,
// starting with a letter, at most 63 bytes (the Postgres identifier limit).
var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidIdent reports whether a name matches the identifier allow-list.
func ValidIdent(name string) bool {
	return identPattern.MatchString(name)
}

// columnTypes maps the declarative type keywords to per-dialect SQL types.
var columnTypes = map[string]map[string]string{
	"id":        {"postgres": "BIGSERIAL", "sqlite": "INTEGER"},
	"integer":   {"postgres": "INTEGER", "sqlite": "INTEGER"},
	"bigint":    {"postgres": "BIGINT", "sqlite": "INTEGER"},
	"text":      {"postgres": "TEXT", "sqlite": "TEXT"},
	"boolean":   {"postgres": "BOOLEAN", "sqlite": "INTEGER"},
	"real":      {"postgres": "DOUBLE PRECISION", "sqlite": "REAL"},
	"timestamp": {"postgres": "TIMESTAMPTZ", "sqlite": "TEXT"},
	"json":      {"postgres": "JSONB", "sqlite": "TEXT"},
	"blob":      {"postgres": "BYTEA", "sqlite": "BLOB"},
}

// allowedDefaults is the allow-list of default expressions. Anything else
// must go through a hand-written migration instead.
var allowedDefaults = map[string]bool{
	"current_timestamp": true,
	"true":              true,
	"false":             true,
	"0":                 true,
	"''":                true,
}

// Schema is a declarative set of base tables loaded from YAML. The harness
// applies the rendered DDL as its first pass, before incremental migrations.
type Schema struct {
	Tables []Table `yaml:"tables"`
}

// Table declares one base table.
type Table struct {
	Name    string   `yaml:"name"`
	Columns []Column `yaml:"columns"`
}

// Column declares one column of a base table.
type Column struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	PrimaryKey bool   `yaml:"primary_key"`
	NotNull    bool   `yaml:"not_null"`
	Unique     bool   `yaml:"unique"`
	Default    string `yaml:"default"`
	References string `yaml:"references"` // "table.column"
}

// Parse decodes a YAML schema document and validates it.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, pverr.Wrap(pverr.ErrInvalidIdent, err, "failed to parse base schema")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads and decodes a base-schema file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pverr.Wrap(pverr.ErrFileRead, err, "failed to read base schema file").
			WithFilename(path)
	}
	return Parse(data)
}

// Validate checks every identifier against the allow-list, every type
// against the known keywords, and every default against the allowed set.
func (s *Schema) Validate() error {
	seen := make(map[string]bool, len(s.Tables))
	for _, t := range s.Tables {
		if !ValidIdent(t.Name) {
			return pverr.New(pverr.ErrInvalidIdent, "table name not allowed").
				WithTable(t.Name)
		}
		if seen[t.Name] {
			return pverr.New(pverr.ErrInvalidIdent, "duplicate table name").
				WithTable(t.Name)
		}
		seen[t.Name] = true

		if len(t.Columns) == 0 {
			return pverr.New(pverr.ErrInvalidIdent, "table declares no columns").
				WithTable(t.Name)
		}

		for _, c := range t.Columns {
			if !ValidIdent(c.Name) {
				return pverr.New(pverr.ErrInvalidIdent, "column name not allowed").
					WithTable(t.Name).
					WithColumn(c.Name)
			}
			if _, ok := columnTypes[c.Type]; !ok {
				return pverr.Newf(pverr.ErrInvalidIdent, "unknown column type %q", c.Type).
					WithTable(t.Name).
					WithColumn(c.Name)
			}
			if c.Default != "" && !allowedDefaults[strings.ToLower(c.Default)] {
				return pverr.Newf(pverr.ErrInvalidIdent, "default expression %q not allowed", c.Default).
					WithTable(t.Name).
					WithColumn(c.Name)
			}
			if c.References != "" {
				refTable, refColumn, ok := strings.Cut(c.References, ".")
				if !ok || !ValidIdent(refTable) || !ValidIdent(refColumn) {
					return pverr.Newf(pverr.ErrInvalidIdent, "reference %q must be table.column", c.References).
						WithTable(t.Name).
						WithColumn(c.Name)
				}
			}
		}
	}
	return nil
}

// Render produces one CREATE TABLE IF NOT EXISTS statement per table,
// in declaration order. The schema must have been validated.
func (s *Schema) Render(d dialect.Dialect) ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	statements := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		statements = append(statements, renderTable(d, t))
	}
	return statements, nil
}

func renderTable(d dialect.Dialect, t Table) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(d.QuoteIdent(t.Name))
	b.WriteString(" (\n")

	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		b.WriteString("    ")
		b.WriteString(d.QuoteIdent(c.Name))
		b.WriteString(" ")
		b.WriteString(columnTypes[c.Type][d.Name()])

		if c.PrimaryKey {
			b.WriteString(" PRIMARY KEY")
		}
		if c.NotNull && !c.PrimaryKey {
			b.WriteString(" NOT NULL")
		}
		if c.Unique {
			b.WriteString(" UNIQUE")
		}
		if c.Default != "" {
			b.WriteString(" DEFAULT ")
			b.WriteString(strings.ToUpper(c.Default))
		}
		if c.References != "" {
			refTable, refColumn, _ := strings.Cut(c.References, ".")
			fmt.Fprintf(&b, " REFERENCES %s(%s)", d.QuoteIdent(refTable), d.QuoteIdent(refColumn))
		}
	}

	b.WriteString("\n)")
	return b.String()
}
