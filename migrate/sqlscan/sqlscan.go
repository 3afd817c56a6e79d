// Package sqlscan provides comment-, string- and quote-aware scanning of SQL
// text. The same scanning discipline backs statement splitting for safety
// analysis and the comment-safety check used when concatenating schema files.
package sqlscan

import (
	"regexp"
	"strings"
)

// Split breaks a SQL body into individual statements on top-level semicolons.
// Semicolons inside line comments, block comments, single-quoted strings,
// double-quoted identifiers and dollar-quoted bodies never split. Statements
// that contain only whitespace or comments are dropped.
func Split(sql string) []string {
	if sql == "" {
		return nil
	}

	var statements []string
	var current strings.Builder

	inLineComment := false
	inBlockComment := false
	inSingleQuote := false
	inDoubleQuote := false
	dollarTag := "" // non-empty while inside a $tag$ ... $tag$ body

	for i := 0; i < len(sql); i++ {
		ch := sql[i]

		switch {
		case inLineComment:
			current.WriteByte(ch)
			if ch == '\n' {
				inLineComment = false
			}

		case inBlockComment:
			current.WriteByte(ch)
			if ch == '*' && i+1 < len(sql) && sql[i+1] == '/' {
				current.WriteByte('/')
				i++
				inBlockComment = false
			}

		case inSingleQuote:
			current.WriteByte(ch)
			if ch == '\'' {
				if i+1 < len(sql) && sql[i+1] == '\'' {
					current.WriteByte('\'')
					i++
				} else {
					inSingleQuote = false
				}
			}

		case inDoubleQuote:
			current.WriteByte(ch)
			if ch == '"' {
				inDoubleQuote = false
			}

		case dollarTag != "":
			if ch == '$' && strings.HasPrefix(sql[i:], dollarTag) {
				current.WriteString(dollarTag)
				i += len(dollarTag) - 1
				dollarTag = ""
			} else {
				current.WriteByte(ch)
			}

		default:
			switch ch {
			case '-':
				if i+1 < len(sql) && sql[i+1] == '-' {
					inLineComment = true
				}
				current.WriteByte(ch)
			case '/':
				if i+1 < len(sql) && sql[i+1] == '*' {
					inBlockComment = true
				}
				current.WriteByte(ch)
			case '\'':
				inSingleQuote = true
				current.WriteByte(ch)
			case '"':
				inDoubleQuote = true
				current.WriteByte(ch)
			case '$':
				if tag := dollarQuoteTag(sql[i:]); tag != "" {
					dollarTag = tag
					current.WriteString(tag)
					i += len(tag) - 1
				} else {
					current.WriteByte(ch)
				}
			case ';':
				if stmt := strings.TrimSpace(current.String()); !isBlank(stmt) {
					statements = append(statements, stmt)
				}
				current.Reset()
			default:
				current.WriteByte(ch)
			}
		}
	}

	if stmt := strings.TrimSpace(current.String()); !isBlank(stmt) {
		statements = append(statements, stmt)
	}

	return statements
}

// dollarQuoteTag returns the $tag$ delimiter opening at the start of s, or ""
// when s does not open a dollar-quoted body. Tags may contain only letters,
// digits and underscores, e.g. $$ or $fn$.
func dollarQuoteTag(s string) string {
	end := strings.IndexByte(s[1:], '$')
	if end < 0 {
		return ""
	}
	tag := s[:end+2]
	for _, r := range tag[1 : len(tag)-1] {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return ""
		}
	}
	return tag
}

// isBlank reports whether text contains no SQL once comments are removed.
func isBlank(text string) bool {
	return strings.TrimSpace(stripComments(text)) == ""
}

// stripComments removes line and block comments, preserving quoted text.
func stripComments(sql string) string {
	var out strings.Builder

	inLineComment := false
	inBlockComment := false
	inSingleQuote := false
	inDoubleQuote := false

	for i := 0; i < len(sql); i++ {
		ch := sql[i]

		switch {
		case inLineComment:
			if ch == '\n' {
				inLineComment = false
				out.WriteByte(ch)
			}
		case inBlockComment:
			if ch == '*' && i+1 < len(sql) && sql[i+1] == '/' {
				i++
				inBlockComment = false
			}
		case inSingleQuote:
			out.WriteByte(ch)
			if ch == '\'' {
				if i+1 < len(sql) && sql[i+1] == '\'' {
					out.WriteByte('\'')
					i++
				} else {
					inSingleQuote = false
				}
			}
		case inDoubleQuote:
			out.WriteByte(ch)
			if ch == '"' {
				inDoubleQuote = false
			}
		default:
			switch {
			case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
				inLineComment = true
				i++
			case ch == '/' && i+1 < len(sql) && sql[i+1] == '*':
				inBlockComment = true
				i++
			case ch == '\'':
				inSingleQuote = true
				out.WriteByte(ch)
			case ch == '"':
				inDoubleQuote = true
				out.WriteByte(ch)
			default:
				out.WriteByte(ch)
			}
		}
	}

	return out.String()
}

// LeadingKeywords returns the first n whitespace-separated words of the
// statement with comments removed, upper-cased and joined by single spaces.
func LeadingKeywords(stmt string, n int) string {
	fields := strings.Fields(stripComments(stmt))
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.ToUpper(strings.Join(fields, " "))
}

// Matches lines that are exactly BEGIN[;] or COMMIT[;] with optional whitespace.
var transactionLineRe = regexp.MustCompile(`(?i)^\s*(BEGIN|COMMIT)\s*;?\s*$`)

// StripTransactionWrappers removes standalone BEGIN/COMMIT lines from a SQL
// body. Migration scripts sometimes carry their own transaction wrappers;
// savepoint-based execution supplies its own, so the wrappers must go.
func StripTransactionWrappers(sql string) string {
	lines := strings.Split(sql, "\n")
	filtered := lines[:0]
	for _, line := range lines {
		if !transactionLineRe.MatchString(line) {
			filtered = append(filtered, line)
		}
	}

	for len(filtered) > 0 && strings.TrimSpace(filtered[0]) == "" {
		filtered = filtered[1:]
	}
	for len(filtered) > 0 && strings.TrimSpace(filtered[len(filtered)-1]) == "" {
		filtered = filtered[:len(filtered)-1]
	}

	if len(filtered) == 0 {
		return ""
	}
	return strings.Join(filtered, "\n") + "\n"
}
