package inspect

import (
	"fmt"

	"github.com/pgvolve/pgvolve/internal/pverr"
)

// Finding is one validation discrepancy.
type Finding struct {
	Kind   string // table, column, enum, function, extension, index_prefix
	Object string
	Detail string
}

func (f Finding) String() string {
	if f.Detail == "" {
		return fmt.Sprintf("%s %s", f.Kind, f.Object)
	}
	return fmt.Sprintf("%s %s: %s", f.Kind, f.Object, f.Detail)
}

// ValidationReport lists everything the live schema is missing relative to
// an expectation document. Only missing tables fail the report; Advisory
// holds findings (columns, enums, functions, extensions, index shortfalls)
// that are logged but never fail it.
type ValidationReport struct {
	Missing  []Finding
	Advisory []Finding
}

// Passed reports whether validation succeeded.
func (r *ValidationReport) Passed() bool {
	return len(r.Missing) == 0
}

// Validate checks a snapshot against an expectation.
//
// A required column absent from an existing table is a hard failure: the
// report so far is returned together with ErrMissingColumn. Missing tables
// fail the report. Everything else (advisory columns, enums, functions,
// extensions, index-prefix shortfalls) is reported without failing it.
func Validate(snap *Snapshot, exp *SchemaExpectation) (*ValidationReport, error) {
	report := &ValidationReport{}

	for _, te := range exp.Tables {
		if !snap.HasTable(te.Name) {
			report.Missing = append(report.Missing, Finding{Kind: "table", Object: te.Name})
			continue
		}

		for _, col := range te.RequiredColumns {
			if !snap.HasColumn(te.Name, col) {
				return report, pverr.New(pverr.ErrMissingColumn, "required column is missing").
					WithTable(te.Name).
					WithColumn(col)
			}
		}
		for _, col := range te.Columns {
			if !snap.HasColumn(te.Name, col) {
				report.Advisory = append(report.Advisory, Finding{
					Kind:   "column",
					Object: te.Name + "." + col,
				})
			}
		}
	}

	checkSet := func(kind string, want, have []string) {
		haveSet := make(map[string]bool, len(have))
		for _, h := range have {
			haveSet[h] = true
		}
		for _, w := range want {
			if !haveSet[w] {
				report.Advisory = append(report.Advisory, Finding{Kind: kind, Object: w})
			}
		}
	}
	checkSet("enum", exp.Enums, snap.Enums)
	checkSet("function", exp.Functions, snap.Functions)
	checkSet("extension", exp.Extensions, snap.Extensions)

	for _, ip := range exp.IndexPrefixes {
		got := snap.CountIndexesWithPrefix(ip.Prefix)
		if got < ip.Min {
			report.Advisory = append(report.Advisory, Finding{
				Kind:   "index_prefix",
				Object: ip.Prefix,
				Detail: fmt.Sprintf("found %d indexes, want at least %d", got, ip.Min),
			})
		}
	}

	return report, nil
}
