package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"

	"github.com/preflightdb/preflight/cli/internal/config"
	"github.com/preflightdb/preflight/cli/internal/ui"
	"github.com/preflightdb/preflight/internal/debug"
	"github.com/preflightdb/preflight/migrate/classify"
	"github.com/preflightdb/preflight/migrate/discover"
	"github.com/preflightdb/preflight/migrate/dryrun"
	"github.com/preflightdb/preflight/migrate/history"
	"github.com/preflightdb/preflight/migrate/registry"
	"github.com/preflightdb/preflight/migrate/report"
)

// Exit codes. Configuration problems and policy failures are
// distinguishable from execution failures so CI can react differently.
const (
	ExitOK        = 0
	ExitConfig    = 1
	ExitExecution = 2
)

// exitError carries an explicit exit code through cobra's error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, dryrun.ErrExecution) {
		return ExitExecution
	}
	return ExitConfig
}

func detectProvider(connStr string) string {
	if strings.Contains(connStr, "mysql") {
		return "mysql"
	} else if strings.Contains(connStr, "sqlite") || strings.Contains(connStr, "file:") {
		return "sqlite"
	}
	return "postgres"
}

// normalizeProviderForDriver normalizes provider name for sql.Open
// PostgreSQL driver uses "postgres", not "postgresql"
// SQLite driver uses "sqlite3", not "sqlite"
func normalizeProviderForDriver(provider string) string {
	switch provider {
	case "postgresql", "postgres":
		return "postgres"
	case "sqlite":
		return "sqlite3"
	default:
		return provider
	}
}

// sqlite URLs keep their file: prefix; other drivers take the URL as-is.
func dsnFor(provider, url string) string {
	if provider == "sqlite" {
		return strings.TrimPrefix(url, "sqlite:")
	}
	return url
}

// runtime bundles everything a command needs to run sessions.
type runtime struct {
	cfg    *config.Config
	db     *sql.DB
	ledger *history.Manager
	reg    *registry.Registry
	orch   *dryrun.Orchestrator
}

func (r *runtime) Close() error { return r.db.Close() }

// loadRuntime loads configuration, discovers migrations, opens the
// database, and builds a loaded registry and orchestrator over them.
func loadRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, withCode(ExitConfig, err)
	}
	if cfg.DatabaseURL == "" {
		return nil, withCode(ExitConfig, errors.New("no database URL configured: set DATABASE_URL or database_url in .preflight.yaml"))
	}

	provider := cfg.Provider
	if provider == "" {
		provider = detectProvider(cfg.DatabaseURL)
	}
	if provider == "postgresql" {
		provider = "postgres"
	}
	driver := normalizeProviderForDriver(provider)
	debug.Debug("opening database", "provider", provider)

	defs, err := discover.Discover(config.AppFs, cfg.MigrationsDir)
	if err != nil {
		return nil, withCode(ExitConfig, fmt.Errorf("failed to discover migrations in %s: %w", cfg.MigrationsDir, err))
	}
	debug.Debug("discovered migrations", "count", len(defs), "dir", cfg.MigrationsDir)

	db, err := sql.Open(driver, dsnFor(provider, cfg.DatabaseURL))
	if err != nil {
		return nil, withCode(ExitConfig, fmt.Errorf("failed to open database: %w", err))
	}

	ledger := history.NewManager(db, provider)
	if err := ledger.InitTable(ctx); err != nil {
		db.Close()
		return nil, withCode(ExitConfig, fmt.Errorf("failed to initialize history table: %w", err))
	}

	reg := registry.New()
	if err := reg.RegisterAll(defs); err != nil {
		db.Close()
		return nil, withCode(ExitConfig, err)
	}
	if err := reg.Load(ctx, ledger); err != nil {
		db.Close()
		return nil, withCode(ExitConfig, err)
	}

	return &runtime{
		cfg:    cfg,
		db:     db,
		ledger: ledger,
		reg:    reg,
		orch:   dryrun.New(db, reg, ledger),
	}, nil
}

// validateFormat rejects unknown output formats before any I/O happens.
func validateFormat(format string) error {
	switch format {
	case "text", "json":
		return nil
	default:
		return withCode(ExitConfig, fmt.Errorf("unknown output format %q (expected text or json)", format))
	}
}

// writeReport renders the record and sends it to stdout or, when output is
// set, to a file. Text reports going to an interactive terminal are styled
// as markdown; files and pipes always get the plain rendering.
func writeReport(rec *report.Record, format, output string) error {
	var rendered string
	if format == "json" {
		data, err := report.RenderJSON(rec)
		if err != nil {
			return err
		}
		rendered = string(data)
	} else {
		rendered = report.RenderText(rec)
	}

	if output == "" {
		if format == "text" && isatty.IsTerminal(os.Stdout.Fd()) {
			if err := ui.PrintMarkdown(rendered); err == nil {
				return nil
			}
		}
		fmt.Println(rendered)
		return nil
	}
	if dir := filepath.Dir(output); dir != "." {
		if err := config.AppFs.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return afero.WriteFile(config.AppFs, output, []byte(rendered+"\n"), 0644)
}

// failOnThreshold parses the fail-on policy name. "none" disables the
// policy entirely.
func failOnThreshold(policy string) (classify.Severity, bool, error) {
	switch policy {
	case "none":
		return classify.Safe, false, nil
	case "warning":
		return classify.Warning, true, nil
	case "unsafe", "":
		return classify.Unsafe, true, nil
	default:
		return classify.Safe, false, withCode(ExitConfig, fmt.Errorf("unknown fail-on policy %q (expected none, warning, or unsafe)", policy))
	}
}

// applyPolicy returns an ExitConfig error when the session's severity
// reaches the configured threshold. The report has already been written by
// the time this runs.
func applyPolicy(s *dryrun.Session, policy string) error {
	threshold, active, err := failOnThreshold(policy)
	if err != nil {
		return err
	}
	if active && s.MaxSeverity() >= threshold {
		return withCode(ExitConfig, fmt.Errorf("plan severity %s reaches fail-on threshold %s", s.MaxSeverity(), policy))
	}
	return nil
}

// confirm asks the operator to accept or decline. Declining is the default
// answer.
func confirm(message string) (bool, error) {
	ok := false
	prompt := &survey.Confirm{Message: message, Default: false}
	if err := survey.AskOne(prompt, &ok); err != nil {
		return false, err
	}
	return ok, nil
}
