package dryrun

import (
	"context"
	"fmt"
	"time"

	"github.com/preflightdb/preflight/migrate/registry"
	"github.com/preflightdb/preflight/migrate/version"
)

// Applied is the outcome of one directly-applied migration.
type Applied struct {
	Definition registry.Definition
	Duration   time.Duration
}

// Apply runs the pending migrations for real, each in its own transaction
// with its ledger entry. Target narrows the plan the same way it does for
// dry-run sessions. Returns the migrations applied before the first
// failure, if any.
func (o *Orchestrator) Apply(ctx context.Context, target version.Version) ([]Applied, error) {
	defs, err := o.reg.Resolve(registry.Up, registry.ResolveOptions{Target: target})
	if err != nil {
		return nil, err
	}

	var applied []Applied
	for _, def := range defs {
		elapsed, err := o.applyOne(ctx, def)
		if err != nil {
			return applied, fmt.Errorf("%w: migration %s (%s): %v", ErrExecution, def.Version, def.Name, err)
		}
		applied = append(applied, Applied{Definition: def, Duration: elapsed})
	}
	return applied, nil
}

// Rollback reverts the last applied migrations, most recent first. Each
// reverse script runs in a transaction that also removes the ledger entry,
// so the applied set and the schema move together.
func (o *Orchestrator) Rollback(ctx context.Context, steps int) ([]Applied, error) {
	defs, err := o.reg.Resolve(registry.Down, registry.ResolveOptions{Steps: steps})
	if err != nil {
		return nil, err
	}

	var reverted []Applied
	for _, def := range defs {
		elapsed, err := o.rollbackOne(ctx, def)
		if err != nil {
			return reverted, fmt.Errorf("%w: rollback of %s (%s): %v", ErrExecution, def.Version, def.Name, err)
		}
		reverted = append(reverted, Applied{Definition: def, Duration: elapsed})
	}
	return reverted, nil
}

func (o *Orchestrator) rollbackOne(ctx context.Context, def registry.Definition) (time.Duration, error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	start := o.now()
	if err := execStatements(ctx, tx, def.ReverseScript); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	elapsed := time.Since(start)

	if err := o.ledger.RecordRolledBack(ctx, tx, def.Version); err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rollback of %s: %w", def.Version, err)
	}
	return elapsed, nil
}
