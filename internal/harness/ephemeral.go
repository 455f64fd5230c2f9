package harness

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/pgvolve/pgvolve/internal/pverr"
)

// EphemeralSuffix is appended to the real database name to form the
// throwaway database the harness runs against.
const EphemeralSuffix = "_migratetest"

// EphemeralName derives the ephemeral database name from the real one.
func EphemeralName(dbName string) string {
	return dbName + EphemeralSuffix
}

// Provisioner is the ephemeral-database lifecycle the harness drives.
// The Postgres implementation below is the production one; tests substitute
// in-memory fakes.
type Provisioner interface {
	// Create provisions the ephemeral database, dropping a stale one first.
	Create(ctx context.Context) error

	// Connect opens a connection to the ephemeral database.
	Connect(ctx context.Context) (*sql.DB, error)

	// Drop removes the ephemeral database. Must be safe to call on every
	// exit path, including after a failed Create.
	Drop(ctx context.Context) error
}

// Ephemeral provisions a throwaway Postgres database through an admin
// connection (one pointing at a maintenance database, not the target).
type Ephemeral struct {
	admin *sql.DB
	url   string // connection URL of the real database
	name  string // ephemeral database name
}

// NewEphemeral creates a provisioner. admin must be connected to a database
// other than the one being created and dropped; dbURL is the real database's
// connection URL, used as the template for the ephemeral connection.
func NewEphemeral(admin *sql.DB, dbURL, dbName string) *Ephemeral {
	if admin == nil {
		return nil
	}
	return &Ephemeral{admin: admin, url: dbURL, name: EphemeralName(dbName)}
}

// Name returns the ephemeral database name.
func (e *Ephemeral) Name() string {
	return e.name
}

// Create drops any stale ephemeral database left by a crashed run, then
// creates a fresh one. CREATE DATABASE cannot run inside a transaction, so
// both statements execute in autocommit mode.
func (e *Ephemeral) Create(ctx context.Context) error {
	if err := e.Drop(ctx); err != nil {
		return pverr.Wrap(pverr.ErrEphemeralCreate, err, "failed to drop stale ephemeral database").
			With("database", e.name)
	}

	stmt := fmt.Sprintf("CREATE DATABASE %s", quoteIdent(e.name))
	if _, err := e.admin.ExecContext(ctx, stmt); err != nil {
		return pverr.Wrap(pverr.ErrEphemeralCreate, err, "failed to create ephemeral database").
			With("database", e.name)
	}
	return nil
}

// Connect opens a connection to the ephemeral database by swapping the
// database name in the real connection URL.
func (e *Ephemeral) Connect(ctx context.Context) (*sql.DB, error) {
	u, err := url.Parse(e.url)
	if err != nil {
		return nil, pverr.Wrap(pverr.ErrSQLConnection, err, "invalid database URL")
	}
	u.Path = "/" + e.name

	db, err := sql.Open("postgres", u.String())
	if err != nil {
		return nil, pverr.Wrap(pverr.ErrSQLConnection, err, "failed to open ephemeral connection").
			With("database", e.name)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, pverr.Wrap(pverr.ErrSQLConnection, err, "failed to ping ephemeral database").
			With("database", e.name)
	}
	return db, nil
}

// Drop removes the ephemeral database if it exists.
func (e *Ephemeral) Drop(ctx context.Context) error {
	stmt := fmt.Sprintf("DROP DATABASE IF EXISTS %s", quoteIdent(e.name))
	if _, err := e.admin.ExecContext(ctx, stmt); err != nil {
		return pverr.Wrap(pverr.ErrEphemeralDrop, err, "failed to drop ephemeral database").
			With("database", e.name)
	}
	return nil
}

// quoteIdent double-quotes an identifier, escaping embedded quotes.
func quoteIdent(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, '"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			out = append(out, '"', '"')
		} else {
			out = append(out, name[i])
		}
	}
	return string(append(out, '"'))
}
