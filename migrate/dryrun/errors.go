package dryrun

import "errors"

var (
	// ErrConfigConflict is returned by Validate when contradictory options
	// are requested. Raised before any storage access.
	ErrConfigConflict = errors.New("conflicting configuration")
	// ErrNotConfirmable is returned when PlanCommit is called on a session
	// that is not awaiting confirmation.
	ErrNotConfirmable = errors.New("session is not awaiting confirmation")
	// ErrBadToken is returned when Commit is called with a token that does
	// not match the one issued by PlanCommit.
	ErrBadToken = errors.New("invalid commit token")
	// ErrExecution is returned when a statement fails while real changes are
	// being applied. Already-committed migrations remain recorded.
	ErrExecution = errors.New("migration execution failed")
)
