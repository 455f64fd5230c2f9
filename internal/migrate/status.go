package migrate

import (
	"context"
	"sort"
	"time"
)

// MigrationStatus is one row of the status view, combining discovered files
// with ledger entries.
type MigrationStatus struct {
	Version    int
	Filename   string
	Status     StatusKind
	ExecutedAt *time.Time
}

// StatusKind classifies a version's standing.
type StatusKind string

const (
	StatusApplied  StatusKind = "applied"
	StatusPending  StatusKind = "pending"
	StatusModified StatusKind = "modified" // applied, but the file changed since
	StatusMissing  StatusKind = "missing"  // in the ledger, but no file on disk
)

// Status combines discovered migration files with the ledger into a
// per-version report sorted by version ascending.
func (e *Executor) Status(ctx context.Context, files []*MigrationFile) ([]MigrationStatus, error) {
	if err := e.ledger.EnsureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := e.ledger.Applied(ctx)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[int]*MigrationFile, len(files))
	versionSet := make(map[int]bool, len(files)+len(applied))
	for _, m := range files {
		byVersion[m.Version] = m
		versionSet[m.Version] = true
	}
	for v := range applied {
		versionSet[v] = true
	}

	versions := make([]int, 0, len(versionSet))
	for v := range versionSet {
		versions = append(versions, v)
	}
	sort.Ints(versions)

	statuses := make([]MigrationStatus, 0, len(versions))
	for _, v := range versions {
		st := MigrationStatus{Version: v}

		m, hasFile := byVersion[v]
		entry, wasApplied := applied[v]

		if hasFile {
			st.Filename = m.Filename
		}

		switch {
		case wasApplied && !hasFile:
			st.Filename = entry.Filename
			st.Status = StatusMissing
		case wasApplied:
			executedAt := entry.ExecutedAt
			st.ExecutedAt = &executedAt
			st.Status = StatusApplied
			if entry.Checksum != "" {
				sum, err := m.Checksum()
				if err != nil {
					return nil, err
				}
				if sum != entry.Checksum {
					st.Status = StatusModified
				}
			}
		default:
			st.Status = StatusPending
		}

		statuses = append(statuses, st)
	}

	return statuses, nil
}
