package migrate

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pgvolve/pgvolve/internal/pverr"
)

// LoadDir discovers migration files in a directory and returns them sorted
// by version ascending, regardless of filesystem enumeration order.
//
// Only "*.sql" files participate; "*.down.sql" files are attached to their
// up script rather than listed on their own. Two files parsing to the same
// version, or a file without a leading numeric token, fail discovery before
// any database work begins.
func LoadDir(dir string) ([]*MigrationFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, pverr.Wrap(pverr.ErrDiscoveryDir, err, "failed to read migrations directory").
			With("dir", dir)
	}

	downs := make(map[string]string) // down filename -> path
	var migrations []*MigrationFile
	byVersion := make(map[int]string)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		if strings.HasSuffix(name, ".down.sql") {
			downs[name] = filepath.Join(dir, name)
			continue
		}

		version, err := ParseVersion(name)
		if err != nil {
			return nil, err
		}

		if prev, ok := byVersion[version]; ok {
			return nil, pverr.New(pverr.ErrVersionDuplicate, "duplicate migration version").
				WithVersion(version).
				With("first", prev).
				With("second", name)
		}
		byVersion[version] = name

		migrations = append(migrations, &MigrationFile{
			Version:  version,
			Filename: name,
			Path:     filepath.Join(dir, name),
		})
	}

	for _, m := range migrations {
		if downPath, ok := downs[downFilename(m.Filename)]; ok {
			m.DownPath = downPath
		}
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}
