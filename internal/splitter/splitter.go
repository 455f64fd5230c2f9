// Package splitter divides raw SQL migration text into independently
// executable statements. It understands dollar-quoted procedural blocks
// ($$ ... $$ or $tag$ ... $tag$) whose bodies may contain semicolons, so
// a CREATE FUNCTION body is always kept as a single statement, and
// single-quoted string literals, so quoted text never opens a block or
// ends a statement.
package splitter

import "strings"

// Split turns one migration file's text into an ordered list of statements.
//
// The scan is line oriented: a semicolon at the end of a line marks a
// statement boundary, but only while no dollar-quoted block or string
// literal is open. Lines consisting solely of a single-line comment are
// skipped outside blocks and preserved verbatim inside them. An unterminated
// block at end of input is flushed as a final statement rather than silently
// dropped; execution of such a fragment fails downstream with a database
// syntax error.
func Split(sqlText string) []string {
	var statements []string
	var current strings.Builder
	var st scanState

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, line := range strings.Split(sqlText, "\n") {
		trimmed := strings.TrimSpace(line)

		// Comment-only and blank lines carry no statement text. Inside a
		// block or literal they are content and must be preserved.
		if !st.open() && (trimmed == "" || strings.HasPrefix(trimmed, "--")) {
			continue
		}

		st.scan(line)

		current.WriteString(line)
		current.WriteString("\n")

		if !st.open() && strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}

	flush()
	return statements
}

// scanState carries the quoting context across lines: the tag of an open
// dollar-quoted block and whether a single-quoted literal is open. Both can
// legitimately span lines.
type scanState struct {
	openTag string
	inQuote bool
}

func (s *scanState) open() bool { return s.openTag != "" || s.inQuote }

// scan advances the state across one line. A quote inside an open block is
// body text, a dollar tag inside an open literal is literal text, and ''
// inside a literal is an escaped quote. Outside both, "--" starts a trailing
// comment and the rest of the line is ignored. Parameter placeholders like
// "$1" never form a tag because a digit fails the tag scan.
func (s *scanState) scan(line string) {
	for i := 0; i < len(line); i++ {
		if s.openTag != "" {
			if line[i] == '$' && strings.HasPrefix(line[i:], s.openTag) {
				i += len(s.openTag) - 1
				s.openTag = ""
			}
			continue
		}
		if s.inQuote {
			if line[i] == '\'' {
				if i+1 < len(line) && line[i+1] == '\'' {
					i++
				} else {
					s.inQuote = false
				}
			}
			continue
		}
		switch line[i] {
		case '\'':
			s.inQuote = true
		case '-':
			if i+1 < len(line) && line[i+1] == '-' {
				return
			}
		case '$':
			end := strings.IndexByte(line[i+1:], '$')
			if end < 0 {
				continue
			}
			tag := line[i : i+end+2]
			if validTag(tag) {
				s.openTag = tag
				i += len(tag) - 1
			}
		}
	}
}

// validTag reports whether the inner tag content is empty or made of
// alphanumeric/underscore characters only.
func validTag(tag string) bool {
	for _, r := range tag[1 : len(tag)-1] {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}
