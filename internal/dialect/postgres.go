package dialect

import (
	"strconv"
	"strings"
)

// postgres implements the Dialect interface for PostgreSQL.
type postgres struct{}

// Postgres returns the PostgreSQL dialect implementation.
func Postgres() Dialect {
	return &postgres{}
}

func (d *postgres) Name() string {
	return "postgres"
}

func (d *postgres) DriverName() string {
	return "postgres"
}

func (d *postgres) QuoteIdent(name string) string {
	// PostgreSQL uses double quotes for identifiers
	escaped := strings.ReplaceAll(name, `"`, `""`)
	return `"` + escaped + `"`
}

func (d *postgres) Placeholder(index int) string {
	return "$" + strconv.Itoa(index)
}

func (d *postgres) SupportsDollarQuoting() bool {
	return true
}
