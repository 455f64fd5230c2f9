// Package chain fingerprints the migration history. It computes a merkle
// root over the ordered migration checksums so CI can compare a whole chain
// in one value, and verifies on-disk files against the checksums the ledger
// recorded when they were applied.
package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/cbergoon/merkletree"

	"github.com/pgvolve/pgvolve/internal/migrate"
	"github.com/pgvolve/pgvolve/internal/pverr"
)

// Fingerprint is the merkle root of a migration chain plus the per-version
// leaf checksums for drill-down.
type Fingerprint struct {
	Root      string
	Checksums map[int]string // version -> sha256 of file content
}

// leafContent implements merkletree.Content for one migration.
type leafContent struct {
	version  int
	checksum string
}

func (l leafContent) CalculateHash() ([]byte, error) {
	h := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", l.version, l.checksum)))
	return h[:], nil
}

func (l leafContent) Equals(other merkletree.Content) (bool, error) {
	o, ok := other.(leafContent)
	if !ok {
		return false, nil
	}
	return l.version == o.version && l.checksum == o.checksum, nil
}

// Compute builds the chain fingerprint for a set of migration files.
// Leaves enter the tree in ascending version order so the root is
// deterministic for a given chain.
func Compute(files []*migrate.MigrationFile) (*Fingerprint, error) {
	fp := &Fingerprint{Checksums: make(map[int]string, len(files))}

	if len(files) == 0 {
		fp.Root = emptyRoot()
		return fp, nil
	}

	ordered := make([]*migrate.MigrationFile, len(files))
	copy(ordered, files)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	leaves := make([]merkletree.Content, 0, len(ordered))
	for _, m := range ordered {
		sum, err := m.Checksum()
		if err != nil {
			return nil, err
		}
		fp.Checksums[m.Version] = sum
		leaves = append(leaves, leafContent{version: m.Version, checksum: sum})
	}

	tree, err := merkletree.NewTree(leaves)
	if err != nil {
		return nil, pverr.Wrap(pverr.ErrInternal, err, "failed to build merkle tree")
	}

	fp.Root = hex.EncodeToString(tree.MerkleRoot())
	return fp, nil
}

func emptyRoot() string {
	h := sha256.Sum256([]byte("empty_chain"))
	return hex.EncodeToString(h[:])
}

// Mismatch is one migration whose on-disk content no longer matches the
// checksum recorded when it was applied.
type Mismatch struct {
	Version  int
	Filename string
	Recorded string
	Current  string
}

// VerifyReport is the outcome of comparing files against the ledger.
type VerifyReport struct {
	Fingerprint  *Fingerprint
	Mismatches   []Mismatch
	MissingFiles []int // applied versions with no file on disk
}

// Passed reports whether every applied migration's file still matches its
// recorded checksum. Missing files do not fail verification; the status
// view reports those.
func (r *VerifyReport) Passed() bool {
	return len(r.Mismatches) == 0
}

// Verify compares on-disk migration files against the checksums the ledger
// recorded. Ledger entries without a checksum (pre-checksum rows) are
// skipped. Returns the report together with ErrChecksumMismatch when any
// file was modified after it was applied.
func Verify(ctx context.Context, files []*migrate.MigrationFile, ledger migrate.LedgerStore) (*VerifyReport, error) {
	applied, err := ledger.Applied(ctx)
	if err != nil {
		return nil, err
	}

	fp, err := Compute(files)
	if err != nil {
		return nil, err
	}
	report := &VerifyReport{Fingerprint: fp}

	byVersion := make(map[int]*migrate.MigrationFile, len(files))
	for _, m := range files {
		byVersion[m.Version] = m
	}

	versions := make([]int, 0, len(applied))
	for v := range applied {
		versions = append(versions, v)
	}
	sort.Ints(versions)

	for _, v := range versions {
		entry := applied[v]
		if entry.Checksum == "" {
			continue
		}

		m, ok := byVersion[v]
		if !ok {
			report.MissingFiles = append(report.MissingFiles, v)
			continue
		}

		sum, err := m.Checksum()
		if err != nil {
			return report, err
		}
		if sum != entry.Checksum {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Version:  v,
				Filename: m.Filename,
				Recorded: entry.Checksum,
				Current:  sum,
			})
		}
	}

	if len(report.Mismatches) > 0 {
		first := report.Mismatches[0]
		return report, pverr.New(pverr.ErrChecksumMismatch, "migration file changed after it was applied").
			WithVersion(first.Version).
			WithFilename(first.Filename)
	}

	return report, nil
}
