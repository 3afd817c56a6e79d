// Package estimate produces resource estimates for migrations.
package estimate

import (
	"strings"
	"time"

	"github.com/preflightdb/preflight/migrate/classify"
)

// Estimate is the predicted (or measured) resource impact of one migration.
type Estimate struct {
	DurationMs int64
	DiskMb     float64
	CPUPercent float64
	// Measured is true when the figures come from a transactional test run
	// rather than the static heuristic. Measured values always take
	// precedence in reports.
	Measured bool
}

// opWeight holds the per-operation-kind heuristic weights. Duration is a
// multiplier over the base statement cost; disk is an absolute allowance in
// megabytes; cpu is a load contribution in percent.
type opWeight struct {
	duration float64
	diskMb   float64
	cpu      float64
}

// baseStatementMs is the conservative floor cost of executing any statement.
const baseStatementMs = 50

// opWeights is the documented weight table, keyed on the leading operation
// keyword. Index-building and data-rewriting operations dominate; plain DDL
// is cheap. Unlisted keywords fall back to defaultWeight.
var opWeights = map[string]opWeight{
	"CREATE TABLE":  {duration: 1.0, diskMb: 0.5, cpu: 5},
	"CREATE INDEX":  {duration: 4.0, diskMb: 10.0, cpu: 25},
	"CREATE UNIQUE": {duration: 4.0, diskMb: 10.0, cpu: 25},
	"ALTER TABLE":   {duration: 2.0, diskMb: 5.0, cpu: 15},
	"DROP TABLE":    {duration: 0.5, diskMb: 0, cpu: 5},
	"DROP INDEX":    {duration: 0.5, diskMb: 0, cpu: 5},
	"TRUNCATE":      {duration: 0.5, diskMb: 0, cpu: 5},
	"INSERT INTO":   {duration: 3.0, diskMb: 2.0, cpu: 20},
	"UPDATE":        {duration: 3.0, diskMb: 1.0, cpu: 20},
	"DELETE":        {duration: 3.0, diskMb: 0, cpu: 20},
	"VACUUM":        {duration: 5.0, diskMb: 0, cpu: 30},
}

var defaultWeight = opWeight{duration: 1.0, diskMb: 1.0, cpu: 10}

// severityFactor scales duration by classification severity: riskier
// statements are assumed slower, keeping the static estimate conservative.
func severityFactor(s classify.Severity) float64 {
	switch s {
	case classify.Warning:
		return 1.5
	case classify.Unsafe:
		return 2.0
	default:
		return 1.0
	}
}

// Heuristic produces a conservative static estimate from a classified
// migration body. Always labeled Measured=false.
func Heuristic(a classify.Analysis) Estimate {
	var e Estimate

	for _, stmt := range a.Statements {
		w := weightFor(stmt.Keyword)
		e.DurationMs += int64(baseStatementMs * w.duration * severityFactor(stmt.Severity))
		e.DiskMb += w.diskMb
		if w.cpu > e.CPUPercent {
			e.CPUPercent = w.cpu
		}
	}

	if e.CPUPercent > 100 {
		e.CPUPercent = 100
	}
	return e
}

// weightFor looks up the weight table by the two-word keyword, then by its
// first word, then falls back to the default.
func weightFor(keyword string) opWeight {
	if w, ok := opWeights[keyword]; ok {
		return w
	}
	if i := strings.IndexByte(keyword, ' '); i > 0 {
		if w, ok := opWeights[keyword[:i]]; ok {
			return w
		}
	}
	return defaultWeight
}

// Measured converts a wall-clock duration observed during a transactional
// test into an estimate that supersedes the heuristic. The disk and CPU
// figures are retained from the static estimate when available, since the
// backend reports no per-migration disk delta inside a rolled-back
// transaction.
func Measured(elapsed time.Duration, heuristic Estimate) Estimate {
	return Estimate{
		DurationMs: elapsed.Milliseconds(),
		DiskMb:     heuristic.DiskMb,
		CPUPercent: heuristic.CPUPercent,
		Measured:   true,
	}
}
