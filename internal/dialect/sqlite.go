package dialect

import "strings"

// sqlite implements the Dialect interface for SQLite.
// SQLite carries no production role here; the test suite uses it for
// fast in-memory databases.
type sqlite struct{}

// SQLite returns the SQLite dialect implementation.
func SQLite() Dialect {
	return &sqlite{}
}

func (d *sqlite) Name() string {
	return "sqlite"
}

func (d *sqlite) DriverName() string {
	return "sqlite"
}

func (d *sqlite) QuoteIdent(name string) string {
	escaped := strings.ReplaceAll(name, `"`, `""`)
	return `"` + escaped + `"`
}

func (d *sqlite) Placeholder(index int) string {
	return "?"
}

func (d *sqlite) SupportsDollarQuoting() bool {
	return false
}
