// Package dryrun coordinates safety analysis, transactional testing, and
// confirmed commits of migration plans.
package dryrun

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/preflightdb/preflight/migrate/classify"
	"github.com/preflightdb/preflight/migrate/estimate"
	"github.com/preflightdb/preflight/migrate/history"
	"github.com/preflightdb/preflight/migrate/registry"
	"github.com/preflightdb/preflight/migrate/report"
	"github.com/preflightdb/preflight/migrate/sqlscan"
	"github.com/preflightdb/preflight/migrate/version"
)

// Ledger records applied-state changes. Writes go through the transaction
// that carries the migration's own effect.
type Ledger interface {
	RecordApplied(ctx context.Context, q history.Execer, entry registry.LedgerEntry) error
	RecordRolledBack(ctx context.Context, q history.Execer, v version.Version) error
}

// Config selects what a session does. Contradictory combinations fail
// validation before any storage access.
type Config struct {
	Direction registry.Direction
	// DryRun requests static analysis only.
	DryRun bool
	// DryRunExecute requests a transactional test with guaranteed rollback.
	// Up only.
	DryRunExecute bool
	// SkipChecks bypasses safety analysis for direct application. It cannot
	// be combined with either dry-run option.
	SkipChecks bool
	Target     version.Version
	Steps      int
}

// Validate rejects contradictory configuration. Performs no I/O.
func (c Config) Validate() error {
	if c.DryRun && c.DryRunExecute {
		return fmt.Errorf("%w: dry-run and dry-run-execute are mutually exclusive", ErrConfigConflict)
	}
	if c.SkipChecks && (c.DryRun || c.DryRunExecute) {
		return fmt.Errorf("%w: skip-checks cannot be combined with a dry-run option", ErrConfigConflict)
	}
	if c.DryRunExecute && c.Direction == registry.Down {
		return fmt.Errorf("%w: dry-run-execute applies to up migrations only", ErrConfigConflict)
	}
	if !c.Target.IsZero() && c.Direction == registry.Down {
		return fmt.Errorf("%w: target applies to up migrations only", ErrConfigConflict)
	}
	return nil
}

func (c Config) mode() Mode {
	switch {
	case c.Direction == registry.Down:
		return RollbackAnalysis
	case c.DryRunExecute:
		return Test
	default:
		return Analysis
	}
}

// Orchestrator owns the database connection for the duration of a session
// and drives it through the state machine. One session at a time; plan
// entries run strictly sequentially, never concurrently.
type Orchestrator struct {
	db     *sql.DB
	reg    *registry.Registry
	ledger Ledger
	now    func() time.Time
}

// New creates an orchestrator over an already-loaded registry.
func New(db *sql.DB, reg *registry.Registry, ledger Ledger) *Orchestrator {
	return &Orchestrator{db: db, reg: reg, ledger: ledger, now: time.Now}
}

// Run validates the configuration, resolves and annotates the plan, and
// executes the session's mode. Analysis and rollback-analysis sessions
// finish in StateDone; a test session with a clean pass finishes in
// StateAwaitingConfirmation, ready for PlanCommit or Decline.
func (o *Orchestrator) Run(ctx context.Context, cfg Config) (*Session, error) {
	s := &Session{state: StateValidating, orch: o}
	if err := cfg.Validate(); err != nil {
		s.state = StateAborted
		return s, err
	}

	s.Mode = cfg.mode()
	s.ID = newSessionID(s.Mode, o.now())

	defs, err := o.reg.Resolve(cfg.Direction, registry.ResolveOptions{
		Target: cfg.Target,
		Steps:  cfg.Steps,
	})
	if err != nil {
		s.state = StateAborted
		return s, err
	}
	s.Plan = buildPlan(defs, cfg.Direction)

	switch s.Mode {
	case Analysis:
		s.state = StateAnalyzing
	case RollbackAnalysis:
		s.state = StateRollbackAnalyzing
	case Test:
		s.state = StateTesting
		if err := o.runTest(ctx, s); err != nil {
			s.state = StateAborted
			return s, err
		}
	}

	s.state = StateReporting
	if s.Mode == Test && s.CleanTestPass() {
		s.state = StateAwaitingConfirmation
	} else {
		s.state = StateDone
	}
	return s, nil
}

// buildPlan classifies and estimates each definition. For rollbacks the
// reverse script is the one that would run, so it is the one analyzed.
func buildPlan(defs []registry.Definition, dir registry.Direction) []PlanEntry {
	plan := make([]PlanEntry, 0, len(defs))
	for _, def := range defs {
		script := def.ForwardScript
		if dir == registry.Down {
			script = def.ReverseScript
		}
		analysis := classify.Analyze(script)
		plan = append(plan, PlanEntry{
			Definition: def,
			Analysis:   analysis,
			Estimate:   estimate.Heuristic(analysis),
		})
	}
	return plan
}

// runTest executes the plan inside a single outer transaction. Each entry
// runs under its own savepoint and is unconditionally rolled back to that
// savepoint, success or failure. The outer transaction is discarded at the
// end, so neither the schema nor the ledger changes.
func (o *Orchestrator) runTest(ctx context.Context, s *Session) error {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin test transaction: %w", err)
	}
	defer func() {
		// Discards everything, including any savepoint residue.
		_ = tx.Rollback()
	}()

	for i := range s.Plan {
		entry := &s.Plan[i]
		result := EntryResult{Status: report.StatusTested, Measured: true}

		savepoint := fmt.Sprintf("preflight_%d_%s", i, entry.Definition.Version)
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
			return fmt.Errorf("failed to create savepoint %s: %w", savepoint, err)
		}

		start := o.now()
		result.Err = execStatements(ctx, tx, entry.Definition.ForwardScript)
		result.MeasuredMs = time.Since(start).Milliseconds()
		result.Unreliable = entry.Analysis.TransactionUnsafe

		// The rollback must run regardless of outcome. If it fails the
		// transaction can no longer isolate anything, so the session aborts.
		if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); err != nil {
			return fmt.Errorf("failed to roll back to savepoint %s: %w", savepoint, err)
		}

		if result.Err != nil {
			result.Status = report.StatusFailed
			entry.Estimate.Measured = false
		} else {
			entry.Estimate = estimate.Measured(time.Duration(result.MeasuredMs)*time.Millisecond, entry.Estimate)
		}
		s.Results = append(s.Results, result)
	}

	return nil
}

// execStatements strips transaction wrappers, splits the script, and runs
// each statement in order. Returns the first statement error.
func execStatements(ctx context.Context, tx *sql.Tx, script string) error {
	for i, stmt := range sqlscan.Split(sqlscan.StripTransactionWrappers(script)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	return nil
}

// PlanCommit issues a commit token for a session awaiting confirmation.
// The token is the handle both interactive and non-interactive callers use
// to drive the same two-phase boundary.
func (s *Session) PlanCommit() (string, error) {
	if s.state != StateAwaitingConfirmation {
		return "", ErrNotConfirmable
	}
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to issue commit token: %w", err)
	}
	s.token = hex.EncodeToString(buf)
	return s.token, nil
}

// Decline finishes the session with no persisted change. Testing already
// rolled everything back, so there is nothing to undo.
func (s *Session) Decline() {
	if s.state == StateAwaitingConfirmation {
		s.state = StateDone
	}
}

// Commit re-runs the plan for real. Each migration executes and records its
// ledger entry in its own transaction, committed immediately, so a crash
// cannot record "applied" without the schema change or vice versa. The first
// failure aborts the remaining entries; the session reports which versions
// succeeded, which failed, and which were never attempted.
func (s *Session) Commit(ctx context.Context, token string) error {
	if s.state != StateAwaitingConfirmation {
		return ErrNotConfirmable
	}
	if token == "" || token != s.token {
		return ErrBadToken
	}
	s.state = StateCommitting

	o := s.orch
	for i := range s.Plan {
		def := s.Plan[i].Definition
		res := &s.Results[i]

		elapsed, err := o.applyOne(ctx, def)
		if err != nil {
			res.Status = report.StatusFailed
			res.Err = err
			for j := i + 1; j < len(s.Results); j++ {
				s.Results[j].Status = report.StatusNotAttempted
				s.Results[j].Measured = false
			}
			s.state = StateAborted
			return fmt.Errorf("%w: migration %s (%s): %v", ErrExecution, def.Version, def.Name, err)
		}

		res.Status = report.StatusApplied
		res.MeasuredMs = elapsed.Milliseconds()
		res.Measured = true
	}

	s.state = StateDone
	return nil
}

// applyOne executes one migration and its ledger write in a single
// transaction.
func (o *Orchestrator) applyOne(ctx context.Context, def registry.Definition) (time.Duration, error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	start := o.now()
	if err := execStatements(ctx, tx, def.ForwardScript); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	elapsed := time.Since(start)

	entry := registry.LedgerEntry{
		Version:    def.Version,
		Name:       def.Name,
		AppliedAt:  o.now().UTC(),
		DurationMs: elapsed.Milliseconds(),
		Checksum:   history.Checksum(def.ForwardScript),
	}
	if err := o.ledger.RecordApplied(ctx, tx, entry); err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit migration %s: %w", def.Version, err)
	}
	return elapsed, nil
}
