package registry

import (
	"fmt"

	"github.com/preflightdb/preflight/migrate/version"
)

// Direction selects which side of the migration set a plan covers.
type Direction int

const (
	// Up plans pending forward migrations.
	Up Direction = iota
	// Down plans rollbacks of applied migrations.
	Down
)

// String returns the direction name
func (d Direction) String() string {
	if d == Down {
		return "down"
	}
	return "up"
}

// ResolveOptions narrows the plan. Target applies to Up; Steps applies to
// Down and defaults to 1.
type ResolveOptions struct {
	Target version.Version
	Steps  int
}

// Resolve computes the ordered plan for the given direction. It only reads
// registry state and never mutates the ledger.
//
// Up plans are ascending pending definitions; Down plans are the applied
// tail, most-recently-applied first, and require every entry to carry a
// reverse script.
func (r *Registry) Resolve(dir Direction, opts ResolveOptions) ([]Definition, error) {
	switch dir {
	case Up:
		return r.Pending(opts.Target)
	case Down:
		steps := opts.Steps
		if steps == 0 {
			steps = 1
		}
		tail, err := r.AppliedTail(steps)
		if err != nil {
			return nil, err
		}
		for _, def := range tail {
			if def.ReverseScript == "" {
				return nil, fmt.Errorf("%w: %s (%s)", ErrNoReverseScript, def.Version, def.Name)
			}
		}
		return tail, nil
	default:
		return nil, fmt.Errorf("unknown migration direction %d", dir)
	}
}
