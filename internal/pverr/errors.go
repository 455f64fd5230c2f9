// Package pverr provides standardized error handling for pgvolve.
// All errors have stable, machine-readable codes, structured context, and proper wrapping.
package pverr

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code represents a stable, machine-readable error code.
// Format: E{category}{number} where category is 1-9 and number is 001-999.
type Code string

// Error codes organized by category.
const (
	// Discovery errors (E1xxx) - problems finding and parsing migration files
	ErrDiscoveryDir     Code = "E1001" // Migration directory missing or unreadable
	ErrVersionMissing   Code = "E1002" // Filename has no leading version number
	ErrVersionDuplicate Code = "E1003" // Two files share the same version number
	ErrFileRead         Code = "E1004" // Migration file could not be read

	// SQL errors (E2xxx) - problems with database operations
	ErrSQLExecution   Code = "E2001" // SQL statement failed to execute
	ErrSQLConnection  Code = "E2002" // Database connection failed
	ErrSQLTransaction Code = "E2003" // Transaction operation failed

	// Migration errors (E3xxx) - problems during migration runs
	ErrMigrationFailed   Code = "E3001" // Migration execution failed
	ErrMigrationNotFound Code = "E3002" // Migration not found on disk or in ledger
	ErrNoRollback        Code = "E3003" // No rollback script available
	ErrChecksumMismatch  Code = "E3004" // File content changed after it was applied

	// Validation errors (E4xxx) - schema expectations not met
	ErrMissingTable  Code = "E4001" // Expected table missing from live schema
	ErrMissingColumn Code = "E4002" // Required column missing from live schema
	ErrIntrospection Code = "E4003" // Schema introspection failed
	ErrInvalidIdent  Code = "E4004" // Identifier does not match allowed pattern

	// Harness errors (E5xxx) - ephemeral database lifecycle
	ErrEphemeralCreate Code = "E5001" // Ephemeral database creation failed
	ErrEphemeralDrop   Code = "E5002" // Ephemeral database drop failed
	ErrCleanup         Code = "E5003" // Post-run cleanup failed

	// Internal errors (E9xxx) - unexpected internal errors
	ErrInternal Code = "E9001" // Internal error
)

// Error is the standard error type for pgvolve.
// It provides structured error information with codes, context, and wrapping support.
type Error struct {
	code    Code           // Machine-readable error code
	message string         // Human-readable error message
	context map[string]any // Structured context data
	cause   error          // Wrapped underlying error
	stack   string         // Stack trace for debugging
}

// Error returns the formatted error string.
// Format:
//
//	[E3001] migration failed
//	  filename: 002_add_bar.sql
//	  version: 2
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.code, e.message))

	// Context in sorted order for deterministic output
	if len(e.context) > 0 {
		keys := make([]string, 0, len(e.context))
		for k := range e.context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			b.WriteString(fmt.Sprintf("\n  %s: %v", k, e.context[k]))
		}
	}

	if e.cause != nil {
		b.WriteString(fmt.Sprintf("\n  cause: %v", e.cause))
	}

	return b.String()
}

// Unwrap returns the underlying cause error for errors.Unwrap compatibility.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether the target error matches this error.
// Two *Error values match when their codes are equal.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	var targetErr *Error
	if errors.As(target, &targetErr) {
		return e.code == targetErr.code
	}

	return false
}

// GetCode returns the error code.
func (e *Error) GetCode() Code {
	return e.code
}

// GetMessage returns the error message.
func (e *Error) GetMessage() string {
	return e.message
}

// GetContext returns the error context map.
func (e *Error) GetContext() map[string]any {
	return e.context
}

// GetCause returns the underlying cause error.
func (e *Error) GetCause() error {
	return e.cause
}

// GetStack returns the stack trace.
func (e *Error) GetStack() string {
	return e.stack
}

// With adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) With(key string, value any) *Error {
	if e.context == nil {
		e.context = make(map[string]any)
	}
	e.context[key] = value
	return e
}

// WithVersion adds migration version context to the error.
func (e *Error) WithVersion(version int) *Error {
	return e.With("version", version)
}

// WithFilename adds filename context to the error.
func (e *Error) WithFilename(name string) *Error {
	return e.With("filename", name)
}

// WithTable adds table context to the error.
func (e *Error) WithTable(table string) *Error {
	return e.With("table", table)
}

// WithColumn adds column context to the error.
func (e *Error) WithColumn(name string) *Error {
	return e.With("column", name)
}

// WithSQL adds SQL statement context to the error.
func (e *Error) WithSQL(sql string) *Error {
	return e.With("sql", sql)
}

// WithSQLState adds SQLSTATE context to the error.
// A no-op when the state is empty (driver errors without one).
func (e *Error) WithSQLState(state string) *Error {
	if state == "" {
		return e
	}
	return e.With("sqlstate", state)
}

// captureStack captures a stack trace for debugging.
func captureStack(skip int) string {
	const maxDepth = 32
	var pcs [maxDepth]uintptr
	n := runtime.Callers(skip, pcs[:])
	if n == 0 {
		return ""
	}

	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		// Skip runtime internals
		if strings.Contains(frame.File, "runtime/") {
			if !more {
				break
			}
			continue
		}
		b.WriteString(fmt.Sprintf("%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}
	return b.String()
}

// New creates a new Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{
		code:    code,
		message: msg,
		context: make(map[string]any),
		stack:   captureStack(3),
	}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		code:    code,
		message: fmt.Sprintf(format, args...),
		context: make(map[string]any),
		stack:   captureStack(3),
	}
}

// Wrap creates a new Error that wraps an existing error.
func Wrap(code Code, err error, msg string) *Error {
	if err == nil {
		return New(code, msg)
	}
	return &Error{
		code:    code,
		message: msg,
		context: make(map[string]any),
		cause:   err,
		stack:   captureStack(3),
	}
}

// Wrapf creates a new Error that wraps an existing error with a formatted message.
func Wrapf(code Code, err error, format string, args ...any) *Error {
	return Wrap(code, err, fmt.Sprintf(format, args...))
}

// GetErrorCode extracts the error code from an error chain.
// Returns empty string if no code is found.
func GetErrorCode(err error) Code {
	if err == nil {
		return ""
	}

	var pverr *Error
	if errors.As(err, &pverr) {
		return pverr.code
	}

	return ""
}

// Is checks if an error has the specified code.
func Is(err error, code Code) bool {
	return GetErrorCode(err) == code
}

// HasCode checks if an error has any error code.
func HasCode(err error) bool {
	return GetErrorCode(err) != ""
}
