package migrate

import (
	"errors"

	"github.com/lib/pq"
)

// Severity classifies a statement error as tolerable or fatal.
// Tolerable errors (object already exists / does not exist) are logged and
// execution continues; anything else aborts the transaction and the run.
type Severity int

const (
	// Fatal aborts the current transaction and the whole run.
	Fatal Severity = iota
	// Tolerable is logged as a warning and execution continues. These are
	// the object-exists/object-missing conditions that show up when a
	// database carries partially-applied historical state.
	Tolerable
)

// tolerableStates is the explicit set of SQLSTATE codes treated as
// tolerable. Classification is by structured code, never by substring
// matching on driver message text.
var tolerableStates = map[string]string{
	"42P07": "duplicate_table",
	"42710": "duplicate_object",
	"42701": "duplicate_column",
	"42P06": "duplicate_schema",
	"42723": "duplicate_function",
	"42P01": "undefined_table",
	"42704": "undefined_object",
	"42703": "undefined_column",
	"42883": "undefined_function",
}

// sqlStater is implemented by drivers that expose SQLSTATE directly
// (pgx's PgError does; lib/pq uses its own Code field).
type sqlStater interface {
	SQLState() string
}

// SQLState extracts the five-character SQLSTATE code from a driver error,
// or "" when the error carries none.
func SQLState(err error) string {
	if err == nil {
		return ""
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}

	var stater sqlStater
	if errors.As(err, &stater) {
		return stater.SQLState()
	}

	return ""
}

// Classify maps a statement error to its severity. Errors with no SQLSTATE
// are fatal: an unclassifiable failure is never safe to skip.
func Classify(err error) Severity {
	state := SQLState(err)
	if state == "" {
		return Fatal
	}
	if _, ok := tolerableStates[state]; ok {
		return Tolerable
	}
	return Fatal
}

// ConditionName returns the Postgres condition name for a tolerable
// SQLSTATE, or "" for anything else. Used for log context.
func ConditionName(state string) string {
	return tolerableStates[state]
}
