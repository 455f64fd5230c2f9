package baseschema

import (
	"strings"
	"testing"

	"github.com/pgvolve/pgvolve/internal/dialect"
	"github.com/pgvolve/pgvolve/internal/pverr"
	"github.com/pgvolve/pgvolve/internal/testutil"
)

func TestValidIdent(t *testing.T) {
	tests := []struct {
		name  string
		ident string
		want  bool
	}{
		{"simple", "users", true},
		{"snake case", "user_accounts", true},
		{"with digits", "table2", true},
		{"empty", "", false},
		{"leading digit", "2users", false},
		{"leading underscore", "_users", false},
		{"uppercase", "Users", false},
		{"quote injection", `users"; DROP TABLE x; --`, false},
		{"space", "user accounts", false},
		{"63 bytes", strings.Repeat("a", 63), true},
		{"64 bytes", strings.Repeat("a", 64), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidIdent(tt.ident); got != tt.want {
				t.Errorf("ValidIdent(%q) = %v, want %v", tt.ident, got, tt.want)
			}
		})
	}
}

func validSchema() *Schema {
	return &Schema{
		Tables: []Table{
			{
				Name: "users",
				Columns: []Column{
					{Name: "id", Type: "id", PrimaryKey: true},
					{Name: "email", Type: "text", NotNull: true, Unique: true},
					{Name: "active", Type: "boolean", Default: "true"},
					{Name: "created_at", Type: "timestamp", Default: "current_timestamp"},
				},
			},
			{
				Name: "posts",
				Columns: []Column{
					{Name: "id", Type: "id", PrimaryKey: true},
					{Name: "user_id", Type: "bigint", NotNull: true, References: "users.id"},
					{Name: "body", Type: "text"},
				},
			},
		},
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
tables:
  - name: users
    columns:
      - name: id
        type: id
        primary_key: true
      - name: email
        type: text
        not_null: true
        unique: true
`)
	s, err := Parse(data)
	testutil.AssertNoError(t, err)
	if len(s.Tables) != 1 || s.Tables[0].Name != "users" {
		t.Fatalf("tables = %+v", s.Tables)
	}
	if !s.Tables[0].Columns[0].PrimaryKey {
		t.Error("id should be primary key")
	}
}

func TestValidateRejections(t *testing.T) {
	id := Column{Name: "id", Type: "id", PrimaryKey: true}

	tests := []struct {
		name   string
		schema Schema
	}{
		{"bad table name", Schema{Tables: []Table{{Name: "Users", Columns: []Column{id}}}}},
		{"bad column name", Schema{Tables: []Table{{Name: "users", Columns: []Column{{Name: "e-mail", Type: "text"}}}}}},
		{"unknown type", Schema{Tables: []Table{{Name: "users", Columns: []Column{{Name: "n", Type: "decimal"}}}}}},
		{"forbidden default", Schema{Tables: []Table{{Name: "users", Columns: []Column{{Name: "n", Type: "text", Default: "(SELECT 1)"}}}}}},
		{"bad reference", Schema{Tables: []Table{{Name: "posts", Columns: []Column{{Name: "u", Type: "bigint", References: "users"}}}}}},
		{"injection in reference", Schema{Tables: []Table{{Name: "posts", Columns: []Column{{Name: "u", Type: "bigint", References: `users.id"); DROP`}}}}}},
		{"no columns", Schema{Tables: []Table{{Name: "users"}}}},
		{"duplicate table", Schema{Tables: []Table{{Name: "users", Columns: []Column{id}}, {Name: "users", Columns: []Column{id}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schema.Validate()
			testutil.AssertError(t, err, pverr.ErrInvalidIdent)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/base.yaml")
	testutil.AssertError(t, err, pverr.ErrFileRead)
}

func TestRenderPostgres(t *testing.T) {
	statements, err := validSchema().Render(dialect.Postgres())
	testutil.AssertNoError(t, err)

	if len(statements) != 2 {
		t.Fatalf("got %d statements, want 2", len(statements))
	}
	testutil.AssertSQLContains(t, statements[0], `CREATE TABLE IF NOT EXISTS "users"`)
	testutil.AssertSQLContains(t, statements[0], `"id" BIGSERIAL PRIMARY KEY`)
	testutil.AssertSQLContains(t, statements[0], `"email" TEXT NOT NULL UNIQUE`)
	testutil.AssertSQLContains(t, statements[0], `"created_at" TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP`)
	testutil.AssertSQLContains(t, statements[1], `"user_id" BIGINT NOT NULL REFERENCES "users"("id")`)
}

func TestRenderedDDLExecutes(t *testing.T) {
	db := testutil.SetupSQLite(t)

	statements, err := validSchema().Render(dialect.SQLite())
	testutil.AssertNoError(t, err)

	for _, stmt := range statements {
		testutil.ExecSQL(t, db, stmt)
		// IF NOT EXISTS makes a second pass a no-op.
		testutil.ExecSQL(t, db, stmt)
	}

	if !testutil.TableExists(t, db, "users") || !testutil.TableExists(t, db, "posts") {
		t.Error("rendered DDL should create both tables")
	}
	if !testutil.ColumnExists(t, db, "posts", "user_id") {
		t.Error("posts.user_id should exist")
	}
}

func TestRenderValidatesFirst(t *testing.T) {
	s := &Schema{Tables: []Table{{Name: "bad name", Columns: []Column{{Name: "id", Type: "id"}}}}}
	_, err := s.Render(dialect.Postgres())
	testutil.AssertError(t, err, pverr.ErrInvalidIdent)
}
