package pverr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrMigrationFailed, "migration failed")

	if err.GetCode() != ErrMigrationFailed {
		t.Errorf("code = %s, want %s", err.GetCode(), ErrMigrationFailed)
	}
	if err.GetMessage() != "migration failed" {
		t.Errorf("message = %q", err.GetMessage())
	}
	if err.GetStack() == "" {
		t.Error("stack should be captured")
	}
}

func TestNewf(t *testing.T) {
	err := Newf(ErrVersionMissing, "no version in %q", "bad.sql")
	if err.GetMessage() != `no version in "bad.sql"` {
		t.Errorf("message = %q", err.GetMessage())
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ErrSQLConnection, cause, "failed to connect")

	if err.GetCause() != cause {
		t.Error("cause not preserved")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause through Unwrap")
	}
}

func TestWrapNilCause(t *testing.T) {
	err := Wrap(ErrInternal, nil, "something")
	if err.GetCause() != nil {
		t.Error("nil cause should stay nil")
	}
	if err.GetCode() != ErrInternal {
		t.Errorf("code = %s", err.GetCode())
	}
}

func TestWrapf(t *testing.T) {
	cause := errors.New("boom")
	err := Wrapf(ErrSQLExecution, cause, "statement %d failed", 3)
	if err.GetMessage() != "statement 3 failed" {
		t.Errorf("message = %q", err.GetMessage())
	}
}

func TestErrorFormatting(t *testing.T) {
	err := New(ErrMigrationFailed, "migration failed").
		WithVersion(2).
		WithFilename("002_add_bar.sql")

	got := err.Error()
	want := "[E3001] migration failed\n  filename: 002_add_bar.sql\n  version: 2"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorFormattingIsDeterministic(t *testing.T) {
	// Context keys print in sorted order regardless of insertion order.
	a := New(ErrSQLExecution, "x").With("zebra", 1).With("alpha", 2)
	b := New(ErrSQLExecution, "x").With("alpha", 2).With("zebra", 1)
	if a.Error() != b.Error() {
		t.Errorf("formatting should not depend on insertion order:\n%s\n%s", a.Error(), b.Error())
	}
}

func TestErrorFormattingIncludesCause(t *testing.T) {
	err := Wrap(ErrSQLExecution, errors.New("syntax error"), "failed to execute")
	if !strings.Contains(err.Error(), "cause: syntax error") {
		t.Errorf("Error() = %q, want cause included", err.Error())
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := New(ErrNoRollback, "no rollback script available")

	if !errors.Is(err, New(ErrNoRollback, "different message")) {
		t.Error("errors with the same code should match")
	}
	if errors.Is(err, New(ErrMigrationFailed, "no rollback script available")) {
		t.Error("errors with different codes should not match")
	}
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"plain error", errors.New("plain"), ""},
		{"pverr", New(ErrFileRead, "x"), ErrFileRead},
		{"wrapped pverr", fmt.Errorf("outer: %w", New(ErrFileRead, "x")), ErrFileRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorCode(tt.err); got != tt.want {
				t.Errorf("GetErrorCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsAndHasCode(t *testing.T) {
	err := New(ErrChecksumMismatch, "x")

	if !Is(err, ErrChecksumMismatch) {
		t.Error("Is should match the code")
	}
	if Is(err, ErrInternal) {
		t.Error("Is should not match a different code")
	}
	if !HasCode(err) {
		t.Error("HasCode should be true for pverr errors")
	}
	if HasCode(errors.New("plain")) {
		t.Error("HasCode should be false for plain errors")
	}
}

func TestWithSQLStateEmptyIsNoop(t *testing.T) {
	err := New(ErrSQLExecution, "x").WithSQLState("")
	if _, ok := err.GetContext()["sqlstate"]; ok {
		t.Error("empty SQLSTATE should not be recorded")
	}

	err = New(ErrSQLExecution, "x").WithSQLState("42P07")
	if err.GetContext()["sqlstate"] != "42P07" {
		t.Error("SQLSTATE should be recorded")
	}
}

func TestWithHelpers(t *testing.T) {
	err := New(ErrMissingColumn, "required column is missing").
		WithTable("users").
		WithColumn("email").
		WithSQL("SELECT 1")

	ctx := err.GetContext()
	if ctx["table"] != "users" || ctx["column"] != "email" || ctx["sql"] != "SELECT 1" {
		t.Errorf("context = %v", ctx)
	}
}
