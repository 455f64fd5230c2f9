// Package migrate implements the migration engine: discovery of versioned
// SQL files, the applied-versions ledger, and the transactional executor
// that moves a database forward (and, when down scripts exist, back).
package migrate

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pgvolve/pgvolve/internal/pverr"
)

// MigrationFile is one discovered migration. Content is read lazily: a
// migration skipped because its version is already in the ledger never
// touches the filesystem beyond the directory listing.
type MigrationFile struct {
	Version  int
	Filename string
	Path     string

	// DownPath is the paired "<name>.down.sql" rollback script, empty when
	// no such file exists next to the up script.
	DownPath string

	raw    string
	loaded bool
}

// Load returns the migration's raw SQL content, reading it from disk on
// first use and caching it afterwards.
func (m *MigrationFile) Load() (string, error) {
	if m.loaded {
		return m.raw, nil
	}
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return "", pverr.Wrap(pverr.ErrFileRead, err, "failed to read migration file").
			WithVersion(m.Version).
			WithFilename(m.Filename)
	}
	m.raw = string(data)
	m.loaded = true
	return m.raw, nil
}

// LoadDown returns the content of the paired down script.
// Returns ErrNoRollback when the migration has no down script.
func (m *MigrationFile) LoadDown() (string, error) {
	if m.DownPath == "" {
		return "", pverr.New(pverr.ErrNoRollback, "no rollback script available").
			WithVersion(m.Version).
			WithFilename(m.Filename)
	}
	data, err := os.ReadFile(m.DownPath)
	if err != nil {
		return "", pverr.Wrap(pverr.ErrFileRead, err, "failed to read rollback script").
			WithVersion(m.Version).
			WithFilename(filepath.Base(m.DownPath))
	}
	return string(data), nil
}

// HasDown reports whether a paired down script was discovered.
func (m *MigrationFile) HasDown() bool {
	return m.DownPath != ""
}

// Checksum returns the SHA-256 hex digest of the migration content.
func (m *MigrationFile) Checksum() (string, error) {
	content, err := m.Load()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:]), nil
}

// ParseVersion extracts the leading integer token of a migration filename.
// "007_add_index.sql" parses to 7. A filename without a leading digit run
// fails with ErrVersionMissing.
func ParseVersion(filename string) (int, error) {
	i := 0
	for i < len(filename) && filename[i] >= '0' && filename[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, pverr.New(pverr.ErrVersionMissing, "migration filename has no leading version number").
			WithFilename(filename)
	}
	version, err := strconv.Atoi(filename[:i])
	if err != nil {
		return 0, pverr.Wrap(pverr.ErrVersionMissing, err, "migration version is not a valid integer").
			WithFilename(filename)
	}
	return version, nil
}

// downFilename returns the rollback-script name paired with an up script:
// "002_add_bar.sql" pairs with "002_add_bar.down.sql".
func downFilename(upName string) string {
	return strings.TrimSuffix(upName, ".sql") + ".down.sql"
}
