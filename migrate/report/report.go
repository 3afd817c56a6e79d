// Package report renders dry-run session results as text or JSON.
//
// Both renderings derive from the same Record so they cannot disagree, and
// neither recomputes classifications or estimates.
package report

import (
	"encoding/json"
	"fmt"
)

// Session modes as they appear in the report's mode field.
const (
	ModeAnalysis         = "analysis"
	ModeTest             = "test"
	ModeRollbackAnalysis = "rollback_analysis"
)

// Per-migration status values for execute runs.
const (
	StatusAnalyzed     = "analyzed"
	StatusTested       = "tested"
	StatusFailed       = "failed"
	StatusApplied      = "applied"
	StatusNotAttempted = "not_attempted"
)

// Record is the structured result of a completed dry-run session. The JSON
// field set is a compatibility surface for automation; the text rendering is
// derived from it and is not guaranteed machine-parseable.
type Record struct {
	MigrationID        string      `json:"migration_id"`
	Mode               string      `json:"mode"`
	StatementsAnalyzed int         `json:"statements_analyzed"`
	Migrations         []Migration `json:"migrations"`
	Summary            Summary     `json:"summary"`
	Warnings           []string    `json:"warnings"`
}

// Migration is one plan entry's slice of the record.
type Migration struct {
	Version              string  `json:"version"`
	Name                 string  `json:"name"`
	Classification       string  `json:"classification"`
	EstimatedDurationMs  int64   `json:"estimated_duration_ms"`
	EstimatedDiskUsageMb float64 `json:"estimated_disk_usage_mb"`
	EstimatedCPUPercent  float64 `json:"estimated_cpu_percent"`
	// MeasuredDurationMs is present only when the session executed the
	// migration inside the test transaction. Measured values take precedence
	// over the static estimate.
	MeasuredDurationMs *int64 `json:"measured_duration_ms,omitempty"`
	// Unreliable marks measured figures for statements that cannot run
	// inside a transaction.
	Unreliable bool   `json:"unreliable,omitempty"`
	Status     string `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Summary aggregates the per-migration figures.
type Summary struct {
	UnsafeCount          int     `json:"unsafe_count"`
	TotalEstimatedTimeMs int64   `json:"total_estimated_time_ms"`
	TotalEstimatedDiskMb float64 `json:"total_estimated_disk_mb"`
	HasUnsafeStatements  bool    `json:"has_unsafe_statements"`
}

// RenderJSON returns the indented JSON rendering of the record.
func RenderJSON(r *Record) ([]byte, error) {
	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return out, nil
}
