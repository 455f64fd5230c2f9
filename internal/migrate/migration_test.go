package migrate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pgvolve/pgvolve/internal/pverr"
	"github.com/pgvolve/pgvolve/internal/testutil"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		filename string
		want     int
		wantErr  bool
	}{
		{"001_create_foo.sql", 1, false},
		{"007_add_index.sql", 7, false},
		{"7_add_index.sql", 7, false},
		{"042_enums.sql", 42, false},
		{"20240101_big_version.sql", 20240101, false},
		{"create_foo.sql", 0, true},
		{"_001_create_foo.sql", 0, true},
		{"v1_create_foo.sql", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, err := ParseVersion(tt.filename)
			if tt.wantErr {
				testutil.AssertError(t, err, pverr.ErrVersionMissing)
				return
			}
			if err != nil {
				t.Fatalf("ParseVersion(%q) error: %v", tt.filename, err)
			}
			if got != tt.want {
				t.Errorf("ParseVersion(%q) = %d, want %d", tt.filename, got, tt.want)
			}
		})
	}
}

func TestDownFilename(t *testing.T) {
	if got := downFilename("002_add_bar.sql"); got != "002_add_bar.down.sql" {
		t.Errorf("downFilename = %q", got)
	}
}

func TestLoadCaches(t *testing.T) {
	dir := testutil.WriteMigrations(t, map[string]string{
		"001_create_foo.sql": "CREATE TABLE foo (id INTEGER);",
	})

	m := &MigrationFile{Version: 1, Filename: "001_create_foo.sql", Path: filepath.Join(dir, "001_create_foo.sql")}

	first, err := m.Load()
	testutil.AssertNoError(t, err)

	// A second Load must come from the cache, not disk.
	if err := os.Remove(m.Path); err != nil {
		t.Fatalf("failed to remove file: %v", err)
	}
	second, err := m.Load()
	testutil.AssertNoError(t, err)
	if first != second {
		t.Error("cached content differs from first read")
	}
}

func TestLoadMissingFile(t *testing.T) {
	m := &MigrationFile{Version: 1, Filename: "001_gone.sql", Path: "/nonexistent/001_gone.sql"}
	_, err := m.Load()
	testutil.AssertError(t, err, pverr.ErrFileRead)
}

func TestLoadDownWithoutScript(t *testing.T) {
	m := &MigrationFile{Version: 3, Filename: "003_no_down.sql"}
	_, err := m.LoadDown()
	testutil.AssertError(t, err, pverr.ErrNoRollback)
}

func TestChecksumStable(t *testing.T) {
	dir := testutil.WriteMigrations(t, map[string]string{
		"001_create_foo.sql": "CREATE TABLE foo (id INTEGER);",
	})
	m := &MigrationFile{Version: 1, Filename: "001_create_foo.sql", Path: filepath.Join(dir, "001_create_foo.sql")}

	a, err := m.Checksum()
	testutil.AssertNoError(t, err)
	b, err := m.Checksum()
	testutil.AssertNoError(t, err)

	if a != b {
		t.Errorf("checksum not stable: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("checksum length = %d, want 64 hex chars", len(a))
	}
}
