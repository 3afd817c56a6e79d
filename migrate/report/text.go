package report

import (
	"fmt"
	"strings"
)

const rulerWidth = 78

// RenderText returns the human-readable rendering of the record. It is
// markdown-compatible so interactive callers can run it through a terminal
// markdown renderer.
func RenderText(r *Record) string {
	var b strings.Builder

	ruler := strings.Repeat("=", rulerWidth)
	divider := strings.Repeat("-", rulerWidth)

	fmt.Fprintln(&b, ruler)
	fmt.Fprintln(&b, "MIGRATION DRY-RUN REPORT")
	fmt.Fprintln(&b, ruler)
	fmt.Fprintf(&b, "Run:  %s\n", r.MigrationID)
	fmt.Fprintf(&b, "Mode: %s\n", r.Mode)
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "SUMMARY")
	fmt.Fprintln(&b, divider)
	fmt.Fprintf(&b, "Migrations planned:  %d\n", len(r.Migrations))
	fmt.Fprintf(&b, "Statements analyzed: %d\n", r.StatementsAnalyzed)
	fmt.Fprintf(&b, "Unsafe statements:   %d\n", r.Summary.UnsafeCount)
	fmt.Fprintf(&b, "Estimated time:      %dms\n", r.Summary.TotalEstimatedTimeMs)
	fmt.Fprintf(&b, "Estimated disk:      %.1fMB\n", r.Summary.TotalEstimatedDiskMb)
	fmt.Fprintln(&b)

	if len(r.Migrations) > 0 {
		fmt.Fprintln(&b, "MIGRATIONS")
		fmt.Fprintln(&b, divider)
		for _, m := range r.Migrations {
			fmt.Fprintf(&b, "%s %s_%s [%s]\n",
				classificationMark(m.Classification), m.Version, m.Name,
				strings.ToUpper(m.Classification))

			if m.MeasuredDurationMs != nil {
				suffix := ""
				if m.Unreliable {
					suffix = " (unreliable: statement cannot run in a transaction)"
				}
				fmt.Fprintf(&b, "    measured: %dms%s\n", *m.MeasuredDurationMs, suffix)
			} else {
				fmt.Fprintf(&b, "    estimated: %dms, %.1fMB disk, %.0f%% cpu\n",
					m.EstimatedDurationMs, m.EstimatedDiskUsageMb, m.EstimatedCPUPercent)
			}
			if m.Status != "" && m.Status != StatusAnalyzed {
				fmt.Fprintf(&b, "    status: %s\n", m.Status)
			}
			if m.Error != "" {
				fmt.Fprintf(&b, "    error: %s\n", m.Error)
			}
		}
		fmt.Fprintln(&b)
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintln(&b, "WARNINGS")
		fmt.Fprintln(&b, divider)
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
		fmt.Fprintln(&b)
	}

	fmt.Fprintln(&b, divider)
	if r.Summary.HasUnsafeStatements {
		fmt.Fprintf(&b, "UNSAFE: %d destructive statement(s) detected. Review before applying.\n",
			r.Summary.UnsafeCount)
	} else {
		fmt.Fprintln(&b, "SAFE: no destructive statements detected.")
	}
	fmt.Fprintln(&b, ruler)

	return b.String()
}

// SummaryLine returns a one-line digest for status output.
func SummaryLine(r *Record) string {
	status := "SAFE"
	if r.Summary.HasUnsafeStatements {
		status = fmt.Sprintf("UNSAFE (%d)", r.Summary.UnsafeCount)
	}
	return fmt.Sprintf("[%s] %d migrations, %d statements | time: %dms | disk: %.1fMB",
		status, len(r.Migrations), r.StatementsAnalyzed,
		r.Summary.TotalEstimatedTimeMs, r.Summary.TotalEstimatedDiskMb)
}

func classificationMark(c string) string {
	switch c {
	case "unsafe":
		return "✗"
	case "warning":
		return "!"
	default:
		return "✓"
	}
}
