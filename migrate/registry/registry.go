// Package registry tracks known migration definitions and their applied
// state, and resolves ordered migration plans.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/preflightdb/preflight/migrate/version"
)

var (
	// ErrDuplicateVersion is returned when two definitions normalize to the
	// same identifier.
	ErrDuplicateVersion = errors.New("duplicate migration version")
	// ErrUnknownTarget is returned when a requested target version matches
	// no registered definition.
	ErrUnknownTarget = errors.New("unknown target version")
	// ErrInsufficientHistory is returned when more rollback steps are
	// requested than migrations have been applied.
	ErrInsufficientHistory = errors.New("insufficient migration history")
	// ErrInconsistent is returned when the ledger references a version with
	// no matching definition.
	ErrInconsistent = errors.New("migration ledger inconsistent with definitions")
	// ErrNoReverseScript is returned when a rollback plan includes a
	// definition without a reverse script.
	ErrNoReverseScript = errors.New("migration has no reverse script")
)

// Definition is one discovered migration. Read-only once registered.
type Definition struct {
	Version       version.Version
	Name          string
	ForwardScript string
	ReverseScript string // empty when the migration is irreversible
}

// LedgerEntry records one applied migration. Entries are appended on commit
// and removed only by an explicit rollback.
type LedgerEntry struct {
	Version    version.Version
	Name       string
	AppliedAt  time.Time
	DurationMs int64
	Checksum   string
}

// Source supplies the applied-state ledger, typically backed by the
// migration history table.
type Source interface {
	ListApplied(ctx context.Context) ([]LedgerEntry, error)
}

// Registry holds all known definitions plus the applied ledger.
type Registry struct {
	defs    []Definition
	byKey   map[string]Definition
	applied []LedgerEntry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byKey: make(map[string]Definition)}
}

// Register adds a definition, keeping defs sorted ascending. Two definitions
// that normalize to the same identifier fail with ErrDuplicateVersion.
func (r *Registry) Register(def Definition) error {
	key := def.Version.Key()
	if existing, ok := r.byKey[key]; ok {
		return fmt.Errorf("%w: %s and %s both normalize to %s",
			ErrDuplicateVersion, existing.Name, def.Name, def.Version)
	}
	r.byKey[key] = def
	r.defs = append(r.defs, def)
	sort.Slice(r.defs, func(i, j int) bool {
		return r.defs[i].Version.Less(r.defs[j].Version)
	})
	return nil
}

// RegisterAll registers definitions in order, stopping at the first error.
func (r *Registry) RegisterAll(defs []Definition) error {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Load fetches the applied ledger from the source and verifies every entry
// references a known definition. An unknown entry fails with ErrInconsistent
// rather than being skipped.
func (r *Registry) Load(ctx context.Context, src Source) error {
	entries, err := src.ListApplied(ctx)
	if err != nil {
		return fmt.Errorf("failed to list applied migrations: %w", err)
	}
	for _, e := range entries {
		if _, ok := r.byKey[e.Version.Key()]; !ok {
			return fmt.Errorf("%w: ledger records version %s but no such definition exists",
				ErrInconsistent, e.Version)
		}
	}
	// Most-recently-applied last; ties broken by version order.
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].AppliedAt.Equal(entries[j].AppliedAt) {
			return entries[i].AppliedAt.Before(entries[j].AppliedAt)
		}
		return version.Compare(entries[i].Version, entries[j].Version) < 0
	})
	r.applied = entries
	return nil
}

// Definitions returns all registered definitions in ascending version order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Applied returns the ledger entries in applied order.
func (r *Registry) Applied() []LedgerEntry {
	out := make([]LedgerEntry, len(r.applied))
	copy(out, r.applied)
	return out
}

// IsApplied reports whether the given version has a ledger entry.
func (r *Registry) IsApplied(v version.Version) bool {
	for _, e := range r.applied {
		if e.Version.Equal(v) {
			return true
		}
	}
	return false
}

// Pending returns definitions with no ledger entry, ascending. When target is
// non-zero the plan stops at (and includes) the target; a target matching no
// definition fails with ErrUnknownTarget.
func (r *Registry) Pending(target version.Version) ([]Definition, error) {
	if !target.IsZero() {
		if _, ok := r.byKey[target.Key()]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
		}
	}

	var pending []Definition
	for _, def := range r.defs {
		if r.IsApplied(def.Version) {
			continue
		}
		if !target.IsZero() && target.Less(def.Version) {
			continue
		}
		pending = append(pending, def)
	}
	return pending, nil
}

// AppliedTail returns the definitions of the last steps applied migrations,
// most-recently-applied first. Requesting more steps than the applied count
// fails with ErrInsufficientHistory.
func (r *Registry) AppliedTail(steps int) ([]Definition, error) {
	if steps <= 0 {
		return nil, fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	if steps > len(r.applied) {
		return nil, fmt.Errorf("%w: %d applied, %d requested",
			ErrInsufficientHistory, len(r.applied), steps)
	}

	tail := make([]Definition, 0, steps)
	for i := len(r.applied) - 1; i >= len(r.applied)-steps; i-- {
		def, ok := r.byKey[r.applied[i].Version.Key()]
		if !ok {
			// Load verified consistency; a miss here means the registry was
			// mutated since.
			return nil, fmt.Errorf("%w: version %s", ErrInconsistent, r.applied[i].Version)
		}
		tail = append(tail, def)
	}
	return tail, nil
}
