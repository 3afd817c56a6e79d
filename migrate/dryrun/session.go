package dryrun

import (
	"fmt"
	"time"

	"github.com/preflightdb/preflight/migrate/classify"
	"github.com/preflightdb/preflight/migrate/estimate"
	"github.com/preflightdb/preflight/migrate/registry"
	"github.com/preflightdb/preflight/migrate/report"
)

// Mode fixes what a session is allowed to do. It is set at creation and
// determines which side effects, if any, are permitted.
type Mode int

const (
	// Analysis inspects pending migrations without touching the database.
	Analysis Mode = iota
	// Test executes pending migrations inside a rolled-back transaction.
	Test
	// RollbackAnalysis inspects applied migrations that would be rolled
	// back. Never executes.
	RollbackAnalysis
)

// String returns the mode name used in reports.
func (m Mode) String() string {
	switch m {
	case Test:
		return report.ModeTest
	case RollbackAnalysis:
		return report.ModeRollbackAnalysis
	default:
		return report.ModeAnalysis
	}
}

// State is the orchestrator's position in the session lifecycle.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateAnalyzing
	StateTesting
	StateRollbackAnalyzing
	StateReporting
	StateAwaitingConfirmation
	StateCommitting
	StateDone
	StateAborted
)

// PlanEntry is one migration annotated with its classification and estimate.
type PlanEntry struct {
	Definition registry.Definition
	Analysis   classify.Analysis
	Estimate   estimate.Estimate
}

// EntryResult is the outcome of one plan entry within the session.
type EntryResult struct {
	MeasuredMs int64
	Measured   bool
	// Unreliable marks measured figures for migrations containing statements
	// that cannot run inside a transaction.
	Unreliable bool
	Status     string
	Err        error
}

// Session is one dry-run invocation: a fixed mode, an ordered plan, and the
// per-entry results. Built once per invocation; immutable after completion.
type Session struct {
	ID      string
	Mode    Mode
	Plan    []PlanEntry
	Results []EntryResult

	state State
	token string
	orch  *Orchestrator
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// CleanTestPass reports whether every plan entry was tested without error.
// Only a clean pass may proceed to confirmation and commit.
func (s *Session) CleanTestPass() bool {
	if s.Mode != Test {
		return false
	}
	for _, r := range s.Results {
		if r.Err != nil {
			return false
		}
	}
	return true
}

// MaxSeverity returns the highest aggregate classification in the plan.
// Callers apply their own policy to it; the session never guesses one.
func (s *Session) MaxSeverity() classify.Severity {
	max := classify.Safe
	for _, e := range s.Plan {
		if e.Analysis.Aggregate > max {
			max = e.Analysis.Aggregate
		}
	}
	return max
}

// newSessionID derives a session identifier from the mode and wall clock.
func newSessionID(mode Mode, now time.Time) string {
	return fmt.Sprintf("preflight-%s-%s", mode, now.UTC().Format("20060102T150405"))
}

// Report assembles the structured record from the session's stored plan and
// results. It never recomputes classifications or estimates.
func (s *Session) Report() *report.Record {
	rec := &report.Record{
		MigrationID: s.ID,
		Mode:        s.Mode.String(),
		Warnings:    []string{},
	}

	for i, entry := range s.Plan {
		rec.StatementsAnalyzed += len(entry.Analysis.Statements)

		m := report.Migration{
			Version:              entry.Definition.Version.String(),
			Name:                 entry.Definition.Name,
			Classification:       entry.Analysis.Aggregate.String(),
			EstimatedDurationMs:  entry.Estimate.DurationMs,
			EstimatedDiskUsageMb: entry.Estimate.DiskMb,
			EstimatedCPUPercent:  entry.Estimate.CPUPercent,
		}

		for _, stmt := range entry.Analysis.Statements {
			if stmt.Severity == classify.Unsafe {
				rec.Summary.UnsafeCount++
			}
		}
		for _, w := range entry.Analysis.Warnings {
			rec.Warnings = append(rec.Warnings,
				fmt.Sprintf("%s_%s: %s", m.Version, m.Name, w))
		}

		entryTime := entry.Estimate.DurationMs
		m.Status = report.StatusAnalyzed
		if i < len(s.Results) {
			res := s.Results[i]
			if res.Measured {
				ms := res.MeasuredMs
				m.MeasuredDurationMs = &ms
				m.Unreliable = res.Unreliable
				entryTime = ms
			}
			m.Status = res.Status
			if res.Err != nil {
				m.Error = res.Err.Error()
			}
		}

		rec.Summary.TotalEstimatedTimeMs += entryTime
		rec.Summary.TotalEstimatedDiskMb += entry.Estimate.DiskMb
		rec.Migrations = append(rec.Migrations, m)
	}

	rec.Summary.HasUnsafeStatements = rec.Summary.UnsafeCount > 0
	return rec
}
