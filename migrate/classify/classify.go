// Package classify assigns risk classifications to migration SQL statements.
package classify

import (
	"regexp"
	"strings"

	"github.com/preflightdb/preflight/migrate/sqlscan"
)

// Severity is the ordinal risk level of a statement or migration.
// Higher values are riskier; aggregation takes the maximum.
type Severity int

const (
	// Safe statements carry no special risk.
	Safe Severity = iota
	// Warning statements may lock tables, fail against existing rows, or
	// carry unknown risk.
	Warning
	// Unsafe statements are destructive and irreversible.
	Unsafe
)

// String returns the severity name used in reports.
func (s Severity) String() string {
	switch s {
	case Safe:
		return "safe"
	case Warning:
		return "warning"
	case Unsafe:
		return "unsafe"
	default:
		return "unknown"
	}
}

// Statement is one classified SQL statement.
type Statement struct {
	Text     string
	Keyword  string // leading operation keyword(s), upper-cased
	Severity Severity
	Reason   string
	// NoTransaction marks statements that cannot run inside a transaction
	// (CREATE INDEX CONCURRENTLY and friends). During a transactional test
	// they are still attempted, but the measured result is unreliable.
	NoTransaction bool
}

// Analysis is the classification of a whole migration body.
type Analysis struct {
	Statements []Statement
	// Aggregate is the maximum severity among the statements.
	Aggregate Severity
	// TransactionUnsafe is true when any statement is NoTransaction.
	TransactionUnsafe bool
	Warnings          []string
}

// rule is one row of the classification table. Rules are matched in order
// against the upper-cased statement; the first match wins. The table is the
// single extension point for new risk patterns.
type rule struct {
	name          string
	match         func(upper string) bool
	severity      Severity
	reason        string
	noTransaction bool
}

var (
	alterColumnTypeRe  = regexp.MustCompile(`\bALTER\s+COLUMN\s+\S+\s+(SET\s+DATA\s+)?TYPE\b`)
	addColumnNotNullRe = regexp.MustCompile(`\bADD\s+COLUMN\s+.*\bNOT\s+NULL\b`)
	dropColumnRe       = regexp.MustCompile(`\bDROP\s+COLUMN\b`)
)

// rules is ordered from most to least specific. Destructive patterns come
// first so they can never be shadowed by a broader match.
var rules = []rule{
	{
		name:     "drop-table",
		match:    func(u string) bool { return strings.HasPrefix(u, "DROP TABLE") },
		severity: Unsafe,
		reason:   "destructive: drops a table and all of its data",
	},
	{
		name:     "drop-schema-or-database",
		match:    func(u string) bool { return strings.HasPrefix(u, "DROP SCHEMA") || strings.HasPrefix(u, "DROP DATABASE") },
		severity: Unsafe,
		reason:   "destructive: drops an entire schema or database",
	},
	{
		name:     "truncate",
		match:    func(u string) bool { return strings.HasPrefix(u, "TRUNCATE") },
		severity: Unsafe,
		reason:   "destructive: removes all rows irreversibly",
	},
	{
		name:     "drop-column",
		match:    func(u string) bool { return strings.HasPrefix(u, "ALTER TABLE") && dropColumnRe.MatchString(u) },
		severity: Unsafe,
		reason:   "destructive: drops a column and its data",
	},
	{
		name: "create-index-concurrently",
		match: func(u string) bool {
			return (strings.HasPrefix(u, "CREATE INDEX") || strings.HasPrefix(u, "CREATE UNIQUE INDEX") ||
				strings.HasPrefix(u, "DROP INDEX")) && strings.Contains(u, "CONCURRENTLY")
		},
		severity:      Warning,
		reason:        "cannot execute inside a transaction; measured results are unreliable in test mode",
		noTransaction: true,
	},
	{
		name:     "alter-column-type",
		match:    func(u string) bool { return strings.HasPrefix(u, "ALTER TABLE") && alterColumnTypeRe.MatchString(u) },
		severity: Warning,
		reason:   "changing a column type may rewrite and lock the table",
	},
	{
		name: "add-column-not-null-no-default",
		match: func(u string) bool {
			return strings.HasPrefix(u, "ALTER TABLE") && addColumnNotNullRe.MatchString(u) &&
				!strings.Contains(u, "DEFAULT")
		},
		severity: Warning,
		reason:   "NOT NULL without DEFAULT fails against existing rows",
	},
	{
		name: "rename",
		match: func(u string) bool {
			return strings.HasPrefix(u, "ALTER ") && strings.Contains(u, " RENAME ")
		},
		severity: Warning,
		reason:   "renames break dependent queries and views",
	},
	{
		name:     "recognized",
		match:    func(u string) bool { return isRecognized(u) },
		severity: Safe,
	},
	// Total: anything not matched above lands here. Unknown shapes are never
	// classified Safe.
	{
		name:     "unrecognized",
		match:    func(string) bool { return true },
		severity: Warning,
		reason:   "unrecognized statement; risk unknown",
	},
}

// recognizedKeywords are leading keywords of ordinary DDL/DML that classify
// Safe unless a more specific rule matched first.
var recognizedKeywords = []string{
	"CREATE", "ALTER", "DROP", "INSERT", "UPDATE", "DELETE", "SELECT",
	"GRANT", "REVOKE", "COMMENT", "SET", "REINDEX", "VACUUM", "ANALYZE",
	"DO", "WITH",
}

func isRecognized(upper string) bool {
	for _, kw := range recognizedKeywords {
		if upper == kw || strings.HasPrefix(upper, kw+" ") {
			return true
		}
	}
	return false
}

// Analyze splits a migration body into statements and classifies each one
// against the rule table. Every statement receives exactly one classification.
func Analyze(sql string) Analysis {
	var a Analysis

	for _, text := range sqlscan.Split(sql) {
		upper := normalize(text)

		stmt := Statement{
			Text:    text,
			Keyword: sqlscan.LeadingKeywords(text, 2),
		}

		for _, r := range rules {
			if r.match(upper) {
				stmt.Severity = r.severity
				stmt.Reason = r.reason
				stmt.NoTransaction = r.noTransaction
				break
			}
		}

		if stmt.Severity > a.Aggregate {
			a.Aggregate = stmt.Severity
		}
		if stmt.NoTransaction {
			a.TransactionUnsafe = true
		}
		if stmt.Reason != "" {
			a.Warnings = append(a.Warnings, stmt.Keyword+": "+stmt.Reason)
		}

		a.Statements = append(a.Statements, stmt)
	}

	return a
}

// normalize upper-cases a statement with comments removed and whitespace
// collapsed, the shape the rule matchers key on.
func normalize(stmt string) string {
	return sqlscan.LeadingKeywords(stmt, 1<<20)
}
