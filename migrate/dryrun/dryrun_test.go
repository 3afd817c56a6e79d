package dryrun

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/preflightdb/preflight/migrate/classify"
	"github.com/preflightdb/preflight/migrate/history"
	"github.com/preflightdb/preflight/migrate/registry"
	"github.com/preflightdb/preflight/migrate/report"
	"github.com/preflightdb/preflight/migrate/version"
)

func def(v, name, up, down string) registry.Definition {
	return registry.Definition{
		Version:       version.MustParse(v),
		Name:          name,
		ForwardScript: up,
		ReverseScript: down,
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// newTestOrchestrator wires a fresh sqlite database, an initialized ledger,
// and a loaded registry around the given definitions.
func newTestOrchestrator(t *testing.T, defs ...registry.Definition) (*Orchestrator, *sql.DB, *history.Manager) {
	t.Helper()
	ctx := context.Background()

	db := openTestDB(t)
	ledger := history.NewManager(db, "sqlite")
	require.NoError(t, ledger.InitTable(ctx))

	reg := registry.New()
	require.NoError(t, reg.RegisterAll(defs))
	require.NoError(t, reg.Load(ctx, ledger))

	return New(db, reg, ledger), db, ledger
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"dry-run with dry-run-execute", Config{DryRun: true, DryRunExecute: true}},
		{"skip-checks with dry-run", Config{DryRun: true, SkipChecks: true}},
		{"skip-checks with dry-run-execute", Config{DryRunExecute: true, SkipChecks: true}},
		{"dry-run-execute on down", Config{Direction: registry.Down, DryRunExecute: true}},
		{"target on down", Config{Direction: registry.Down, DryRun: true, Target: version.MustParse("002")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.cfg.Validate(), ErrConfigConflict)
		})
	}

	require.NoError(t, Config{DryRun: true}.Validate())
	require.NoError(t, Config{DryRunExecute: true}.Validate())
	require.NoError(t, Config{Direction: registry.Down, DryRun: true, Steps: 2}.Validate())
}

func TestConflictingConfigAbortsBeforeResolving(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	s, err := o.Run(context.Background(), Config{DryRun: true, DryRunExecute: true})
	require.ErrorIs(t, err, ErrConfigConflict)
	require.Equal(t, StateAborted, s.State())
}

func TestAnalysisSession(t *testing.T) {
	o, db, _ := newTestOrchestrator(t,
		def("001", "create_users", "CREATE TABLE users (id INTEGER PRIMARY KEY);", "DROP TABLE users;"),
		def("002", "drop_legacy", "DROP TABLE legacy;", ""),
	)

	s, err := o.Run(context.Background(), Config{DryRun: true})
	require.NoError(t, err)
	require.Equal(t, StateDone, s.State())
	require.Equal(t, Analysis, s.Mode)
	require.Equal(t, classify.Unsafe, s.MaxSeverity())

	rec := s.Report()
	require.Equal(t, report.ModeAnalysis, rec.Mode)
	require.Equal(t, 2, rec.StatementsAnalyzed)
	require.Equal(t, 1, rec.Summary.UnsafeCount)
	require.True(t, rec.Summary.HasUnsafeStatements)
	require.Len(t, rec.Migrations, 2)
	require.Equal(t, "safe", rec.Migrations[0].Classification)
	require.Equal(t, "unsafe", rec.Migrations[1].Classification)
	require.Equal(t, report.StatusAnalyzed, rec.Migrations[0].Status)
	require.Nil(t, rec.Migrations[0].MeasuredDurationMs)

	// Analysis never touches the schema.
	require.False(t, tableExists(t, db, "users"))
}

func TestRollbackAnalysisUsesReverseScripts(t *testing.T) {
	ctx := context.Background()
	o, db, ledger := newTestOrchestrator(t,
		def("001", "create_users", "CREATE TABLE users (id INTEGER PRIMARY KEY);", "DROP TABLE users;"),
		def("002", "create_orders", "CREATE TABLE orders (id INTEGER PRIMARY KEY);", "DROP TABLE orders;"),
	)
	_, err := o.Apply(ctx, version.Version{})
	require.NoError(t, err)

	// Reload applied state into a fresh registry.
	reg := registry.New()
	require.NoError(t, reg.RegisterAll([]registry.Definition{
		def("001", "create_users", "CREATE TABLE users (id INTEGER PRIMARY KEY);", "DROP TABLE users;"),
		def("002", "create_orders", "CREATE TABLE orders (id INTEGER PRIMARY KEY);", "DROP TABLE orders;"),
	}))
	require.NoError(t, reg.Load(ctx, ledger))
	o = New(db, reg, ledger)

	s, err := o.Run(ctx, Config{Direction: registry.Down, Steps: 2})
	require.NoError(t, err)
	require.Equal(t, RollbackAnalysis, s.Mode)
	require.Equal(t, StateDone, s.State())

	rec := s.Report()
	require.Equal(t, report.ModeRollbackAnalysis, rec.Mode)
	// Most recently applied first, classified by what the rollback runs.
	require.Equal(t, "002", rec.Migrations[0].Version)
	require.Equal(t, "unsafe", rec.Migrations[0].Classification)
	require.Equal(t, "001", rec.Migrations[1].Version)

	// Analysis only: both tables are still there.
	require.True(t, tableExists(t, db, "users"))
	require.True(t, tableExists(t, db, "orders"))
}

func TestTestingLeavesDatabaseUnchanged(t *testing.T) {
	ctx := context.Background()
	o, db, ledger := newTestOrchestrator(t,
		def("001", "create_users", "CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT);", "DROP TABLE users;"),
		def("002", "create_orders", "CREATE TABLE orders (id INTEGER PRIMARY KEY);", "DROP TABLE orders;"),
	)

	s, err := o.Run(ctx, Config{DryRunExecute: true})
	require.NoError(t, err)
	require.Equal(t, Test, s.Mode)
	require.Equal(t, StateAwaitingConfirmation, s.State())
	require.True(t, s.CleanTestPass())

	rec := s.Report()
	require.Equal(t, report.ModeTest, rec.Mode)
	for _, m := range rec.Migrations {
		require.Equal(t, report.StatusTested, m.Status)
		require.NotNil(t, m.MeasuredDurationMs)
		require.False(t, m.Unreliable)
	}

	// The core guarantee: nothing persisted.
	require.False(t, tableExists(t, db, "users"))
	require.False(t, tableExists(t, db, "orders"))
	applied, err := ledger.ListApplied(ctx)
	require.NoError(t, err)
	require.Empty(t, applied)
}

func TestTestingIsolatesStatementFailures(t *testing.T) {
	ctx := context.Background()
	o, db, _ := newTestOrchestrator(t,
		def("001", "create_users", "CREATE TABLE users (id INTEGER PRIMARY KEY);", "DROP TABLE users;"),
		def("002", "bad_syntax", "CREATE TABLEE broken (id INTEGER);", ""),
		def("003", "create_orders", "CREATE TABLE orders (id INTEGER PRIMARY KEY);", "DROP TABLE orders;"),
	)

	s, err := o.Run(ctx, Config{DryRunExecute: true})
	require.NoError(t, err)

	// A failed entry blocks confirmation but not the rest of the report.
	require.Equal(t, StateDone, s.State())
	require.False(t, s.CleanTestPass())
	require.Len(t, s.Results, 3)
	require.NoError(t, s.Results[0].Err)
	require.Error(t, s.Results[1].Err)
	require.NoError(t, s.Results[2].Err)

	rec := s.Report()
	require.Equal(t, report.StatusTested, rec.Migrations[0].Status)
	require.Equal(t, report.StatusFailed, rec.Migrations[1].Status)
	require.NotEmpty(t, rec.Migrations[1].Error)
	require.Equal(t, report.StatusTested, rec.Migrations[2].Status)

	require.False(t, tableExists(t, db, "users"))
	require.False(t, tableExists(t, db, "orders"))
}

func TestTestingMarksConcurrentIndexUnreliable(t *testing.T) {
	ctx := context.Background()
	o, _, _ := newTestOrchestrator(t,
		def("001", "create_users", "CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT);", "DROP TABLE users;"),
		def("002", "index_users_email", "CREATE INDEX CONCURRENTLY idx_users_email ON users (email);", "DROP INDEX idx_users_email;"),
	)

	s, err := o.Run(ctx, Config{DryRunExecute: true})
	require.NoError(t, err)
	require.Len(t, s.Results, 2)

	// The concurrent index build cannot run inside a transaction, so its
	// measured figures carry the unreliable flag whatever the engine did
	// with the statement.
	require.False(t, s.Results[0].Unreliable)
	require.True(t, s.Results[1].Unreliable)

	rec := s.Report()
	require.False(t, rec.Migrations[0].Unreliable)
	require.True(t, rec.Migrations[1].Unreliable)
	require.NotNil(t, rec.Migrations[1].MeasuredDurationMs)
}

func TestDeclineLeavesNoChanges(t *testing.T) {
	ctx := context.Background()
	o, db, ledger := newTestOrchestrator(t,
		def("001", "create_users", "CREATE TABLE users (id INTEGER PRIMARY KEY);", "DROP TABLE users;"),
	)

	s, err := o.Run(ctx, Config{DryRunExecute: true})
	require.NoError(t, err)
	require.Equal(t, StateAwaitingConfirmation, s.State())

	s.Decline()
	require.Equal(t, StateDone, s.State())

	require.False(t, tableExists(t, db, "users"))
	applied, err := ledger.ListApplied(ctx)
	require.NoError(t, err)
	require.Empty(t, applied)
}

func TestCommitRequiresConfirmationAndToken(t *testing.T) {
	ctx := context.Background()
	o, _, _ := newTestOrchestrator(t,
		def("001", "create_users", "CREATE TABLE users (id INTEGER PRIMARY KEY);", "DROP TABLE users;"),
	)

	// Analysis sessions are never confirmable.
	s, err := o.Run(ctx, Config{DryRun: true})
	require.NoError(t, err)
	_, err = s.PlanCommit()
	require.ErrorIs(t, err, ErrNotConfirmable)

	s, err = o.Run(ctx, Config{DryRunExecute: true})
	require.NoError(t, err)
	_, err = s.PlanCommit()
	require.NoError(t, err)

	require.ErrorIs(t, s.Commit(ctx, "wrong-token"), ErrBadToken)
	require.ErrorIs(t, s.Commit(ctx, ""), ErrBadToken)
}

func TestCommitAppliesPlanAndRecordsLedger(t *testing.T) {
	ctx := context.Background()
	o, db, ledger := newTestOrchestrator(t,
		def("001", "create_users", "CREATE TABLE users (id INTEGER PRIMARY KEY);", "DROP TABLE users;"),
		def("002", "create_orders", "CREATE TABLE orders (id INTEGER PRIMARY KEY);", "DROP TABLE orders;"),
	)

	s, err := o.Run(ctx, Config{DryRunExecute: true})
	require.NoError(t, err)

	token, err := s.PlanCommit()
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, token))
	require.Equal(t, StateDone, s.State())

	require.True(t, tableExists(t, db, "users"))
	require.True(t, tableExists(t, db, "orders"))

	applied, err := ledger.ListApplied(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 2)
	require.Equal(t, "001", applied[0].Version.String())
	require.Equal(t, "002", applied[1].Version.String())
	require.Equal(t, history.Checksum("CREATE TABLE users (id INTEGER PRIMARY KEY);"), applied[0].Checksum)

	rec := s.Report()
	for _, m := range rec.Migrations {
		require.Equal(t, report.StatusApplied, m.Status)
	}
}

func TestCommitFailureReportsBoundary(t *testing.T) {
	ctx := context.Background()
	// The second migration recreates the first one's table. Testing rolls
	// each entry back to its savepoint, so both pass in isolation; the real
	// run collides.
	o, db, ledger := newTestOrchestrator(t,
		def("001", "create_users", "CREATE TABLE users (id INTEGER PRIMARY KEY);", "DROP TABLE users;"),
		def("002", "recreate_users", "CREATE TABLE users (id INTEGER PRIMARY KEY);", "DROP TABLE users;"),
		def("003", "create_orders", "CREATE TABLE orders (id INTEGER PRIMARY KEY);", "DROP TABLE orders;"),
	)

	s, err := o.Run(ctx, Config{DryRunExecute: true})
	require.NoError(t, err)
	require.True(t, s.CleanTestPass())

	token, err := s.PlanCommit()
	require.NoError(t, err)

	err = s.Commit(ctx, token)
	require.ErrorIs(t, err, ErrExecution)
	require.Equal(t, StateAborted, s.State())

	rec := s.Report()
	require.Equal(t, report.StatusApplied, rec.Migrations[0].Status)
	require.Equal(t, report.StatusFailed, rec.Migrations[1].Status)
	require.NotEmpty(t, rec.Migrations[1].Error)
	require.Equal(t, report.StatusNotAttempted, rec.Migrations[2].Status)

	// The first migration stays committed; the third never ran.
	require.True(t, tableExists(t, db, "users"))
	require.False(t, tableExists(t, db, "orders"))
	applied, err := ledger.ListApplied(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	require.Equal(t, "001", applied[0].Version.String())
}

func TestTransactionWrappersAreStrippedBeforeExecution(t *testing.T) {
	ctx := context.Background()
	o, _, _ := newTestOrchestrator(t,
		def("001", "wrapped", "BEGIN;\nCREATE TABLE wrapped (id INTEGER);\nCOMMIT;", "DROP TABLE wrapped;"),
	)

	s, err := o.Run(ctx, Config{DryRunExecute: true})
	require.NoError(t, err)
	require.True(t, s.CleanTestPass())
}

func TestApplyAndRollbackDirect(t *testing.T) {
	ctx := context.Background()
	defs := []registry.Definition{
		def("001", "create_users", "CREATE TABLE users (id INTEGER PRIMARY KEY);", "DROP TABLE users;"),
		def("002", "create_orders", "CREATE TABLE orders (id INTEGER PRIMARY KEY);", "DROP TABLE orders;"),
	}
	o, db, ledger := newTestOrchestrator(t, defs...)

	applied, err := o.Apply(ctx, version.Version{})
	require.NoError(t, err)
	require.Len(t, applied, 2)
	require.True(t, tableExists(t, db, "orders"))

	// Roll the most recent one back through a registry that knows the
	// current applied state.
	reg := registry.New()
	require.NoError(t, reg.RegisterAll(defs))
	require.NoError(t, reg.Load(ctx, ledger))
	o = New(db, reg, ledger)

	reverted, err := o.Rollback(ctx, 1)
	require.NoError(t, err)
	require.Len(t, reverted, 1)
	require.Equal(t, "002", reverted[0].Definition.Version.String())
	require.False(t, tableExists(t, db, "orders"))
	require.True(t, tableExists(t, db, "users"))

	remaining, err := ledger.ListApplied(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "001", remaining[0].Version.String())
}

func TestSessionIDEmbedsMode(t *testing.T) {
	o, _, _ := newTestOrchestrator(t,
		def("001", "noop", "SELECT 1;", ""),
	)
	s, err := o.Run(context.Background(), Config{DryRun: true})
	require.NoError(t, err)
	require.Contains(t, s.ID, "preflight-analysis-")
}

func TestTestingPreservesDroppedTable(t *testing.T) {
	ctx := context.Background()
	o, db, _ := newTestOrchestrator(t,
		def("001", "create_users", "CREATE TABLE users (id INTEGER PRIMARY KEY);", "DROP TABLE users;"),
		def("002", "drop_legacy_table", "DROP TABLE legacy;", ""),
	)
	_, err := db.Exec("CREATE TABLE legacy (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO legacy (id) VALUES (1)")
	require.NoError(t, err)

	s, err := o.Run(ctx, Config{DryRunExecute: true})
	require.NoError(t, err)
	require.True(t, s.CleanTestPass())

	rec := s.Report()
	require.Len(t, rec.Migrations, 2)
	require.Equal(t, "unsafe", rec.Migrations[1].Classification)
	require.True(t, rec.Summary.HasUnsafeStatements)

	// The drop was rolled back with everything else.
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM legacy").Scan(&n))
	require.Equal(t, 1, n)
}

func TestAnalysisWithTargetNarrowsPlan(t *testing.T) {
	ctx := context.Background()
	o, _, _ := newTestOrchestrator(t,
		def("001", "a", "CREATE TABLE a (id INTEGER);", ""),
		def("002", "b", "CREATE TABLE b (id INTEGER);", ""),
		def("003", "c", "CREATE TABLE c (id INTEGER);", ""),
	)

	s, err := o.Run(ctx, Config{DryRun: true, Target: version.MustParse("002")})
	require.NoError(t, err)

	rec := s.Report()
	require.Len(t, rec.Migrations, 2)
	require.Equal(t, "001", rec.Migrations[0].Version)
	require.Equal(t, "002", rec.Migrations[1].Version)
}
