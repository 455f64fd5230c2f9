package inspect

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/pgvolve/pgvolve/internal/dialect"
	"github.com/pgvolve/pgvolve/internal/pverr"
)

// Snapshot is a point-in-time picture of the live schema: tables with their
// columns, plus the Postgres-only object kinds (empty on other dialects).
type Snapshot struct {
	Tables     map[string][]string // table name -> sorted column names
	Enums      []string
	Functions  []string
	Extensions []string
	Indexes    []string
}

// HasTable reports whether the snapshot contains a table.
func (s *Snapshot) HasTable(name string) bool {
	_, ok := s.Tables[name]
	return ok
}

// HasColumn reports whether a table in the snapshot contains a column.
func (s *Snapshot) HasColumn(table, column string) bool {
	for _, c := range s.Tables[table] {
		if c == column {
			return true
		}
	}
	return false
}

// CountIndexesWithPrefix counts snapshot indexes whose name starts with prefix.
func (s *Snapshot) CountIndexesWithPrefix(prefix string) int {
	n := 0
	for _, idx := range s.Indexes {
		if len(idx) >= len(prefix) && idx[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// Inspector reads the live schema through catalog queries.
type Inspector struct {
	db      *sql.DB
	dialect dialect.Dialect
}

// NewInspector creates a schema inspector.
// Returns nil if db or d is nil.
func NewInspector(db *sql.DB, d dialect.Dialect) *Inspector {
	if db == nil || d == nil {
		return nil
	}
	return &Inspector{db: db, dialect: d}
}

// Snapshot reads the complete schema picture. Enum, function, and extension
// listings only exist on Postgres; on other dialects those slices stay empty.
func (i *Inspector) Snapshot(ctx context.Context) (*Snapshot, error) {
	tables, err := i.listTables(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Tables: make(map[string][]string, len(tables))}
	for _, t := range tables {
		cols, err := i.listColumns(ctx, t)
		if err != nil {
			return nil, err
		}
		snap.Tables[t] = cols
	}

	snap.Indexes, err = i.listIndexes(ctx)
	if err != nil {
		return nil, err
	}

	if i.dialect.Name() == "postgres" {
		if snap.Enums, err = i.listEnums(ctx); err != nil {
			return nil, err
		}
		if snap.Functions, err = i.listFunctions(ctx); err != nil {
			return nil, err
		}
		if snap.Extensions, err = i.listExtensions(ctx); err != nil {
			return nil, err
		}
	}

	return snap, nil
}

func (i *Inspector) listTables(ctx context.Context) ([]string, error) {
	var query string
	switch i.dialect.Name() {
	case "sqlite":
		query = `SELECT name FROM sqlite_master
			WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
			ORDER BY name`
	default:
		query = `SELECT tablename FROM pg_tables
			WHERE schemaname = current_schema()
			ORDER BY tablename`
	}
	return i.queryStrings(ctx, query, "list tables")
}

func (i *Inspector) listColumns(ctx context.Context, table string) ([]string, error) {
	switch i.dialect.Name() {
	case "sqlite":
		query := fmt.Sprintf("PRAGMA table_info(%s)", i.dialect.QuoteIdent(table))
		rows, err := i.db.QueryContext(ctx, query)
		if err != nil {
			return nil, pverr.Wrap(pverr.ErrIntrospection, err, "failed to list columns").
				WithTable(table)
		}
		defer rows.Close()

		var cols []string
		for rows.Next() {
			var cid, notNull, pk int
			var name, dataType string
			var defaultVal sql.NullString
			if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultVal, &pk); err != nil {
				return nil, pverr.Wrap(pverr.ErrIntrospection, err, "failed to scan column").
					WithTable(table)
			}
			cols = append(cols, name)
		}
		if err := rows.Err(); err != nil {
			return nil, pverr.Wrap(pverr.ErrIntrospection, err, "error iterating columns").
				WithTable(table)
		}
		sort.Strings(cols)
		return cols, nil

	default:
		query := `SELECT column_name FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1
			ORDER BY column_name`
		return i.queryStrings(ctx, query, "list columns", table)
	}
}

func (i *Inspector) listIndexes(ctx context.Context) ([]string, error) {
	var query string
	switch i.dialect.Name() {
	case "sqlite":
		query = `SELECT name FROM sqlite_master
			WHERE type = 'index' AND sql IS NOT NULL
			ORDER BY name`
	default:
		query = `SELECT indexname FROM pg_indexes
			WHERE schemaname = current_schema()
			ORDER BY indexname`
	}
	return i.queryStrings(ctx, query, "list indexes")
}

func (i *Inspector) listEnums(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT t.typname
		FROM pg_type t
		JOIN pg_enum e ON e.enumtypid = t.oid
		JOIN pg_namespace n ON n.oid = t.typnamespace
		WHERE n.nspname = current_schema()
		ORDER BY t.typname`
	return i.queryStrings(ctx, query, "list enums")
}

func (i *Inspector) listFunctions(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT p.proname
		FROM pg_proc p
		JOIN pg_namespace n ON n.oid = p.pronamespace
		WHERE n.nspname = current_schema()
		ORDER BY p.proname`
	return i.queryStrings(ctx, query, "list functions")
}

func (i *Inspector) listExtensions(ctx context.Context) ([]string, error) {
	query := `SELECT extname FROM pg_extension ORDER BY extname`
	return i.queryStrings(ctx, query, "list extensions")
}

func (i *Inspector) queryStrings(ctx context.Context, query, op string, args ...any) ([]string, error) {
	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pverr.Wrap(pverr.ErrIntrospection, err, "failed to "+op)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, pverr.Wrap(pverr.ErrIntrospection, err, "failed to scan row during "+op)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, pverr.Wrap(pverr.ErrIntrospection, err, "error iterating rows during "+op)
	}
	return out, nil
}
