// Package dialect provides database-specific SQL details: identifier
// quoting, parameter placeholders, and administrative DDL. Implementations
// exist for PostgreSQL (the production target) and SQLite (used by the
// test suite for in-memory databases).
package dialect

// Dialect defines the interface for database-specific SQL generation.
type Dialect interface {
	// Name returns the dialect name (postgres, sqlite).
	Name() string

	// DriverName returns the database/sql driver name to open connections with.
	DriverName() string

	// QuoteIdent quotes an identifier for safe inclusion in SQL text.
	QuoteIdent(name string) string

	// Placeholder returns the parameter placeholder for the given 1-based index.
	// PostgreSQL: $1, $2, ... SQLite: ?
	Placeholder(index int) string

	// SupportsDollarQuoting reports whether the dialect understands
	// dollar-quoted procedural blocks ($$ ... $$).
	SupportsDollarQuoting() bool
}

// Get returns the dialect with the given name, or nil if unknown.
func Get(name string) Dialect {
	switch name {
	case "postgres", "postgresql":
		return Postgres()
	case "sqlite", "sqlite3":
		return SQLite()
	default:
		return nil
	}
}
