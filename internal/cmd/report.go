package cmd

import (
	"fmt"

	"github.com/driftpkg/drift/internal/engine"
	"github.com/driftpkg/drift/internal/ui"
)

// ExitError carries a process exit code through cobra's error return, so
// partial batch failures exit differently from total ones.
type ExitError struct {
	Code int
	msg  string
}

func (e *ExitError) Error() string { return e.msg }

// printReport renders a batch report and returns an error when any package
// failed, so cobra exits non-zero on partial success.
func printReport(report *engine.Report) error {
	for _, item := range report.Items {
		name := item.Query
		if item.Package.PkgName != "" {
			name = item.Package.FullName()
		}

		switch item.Outcome {
		case engine.OutcomeInstalled:
			ui.PrintSuccess("installed %s %s", name, item.Package.Version)
			if item.Package.Note != "" {
				ui.PrintInfo("note: %s", item.Package.Note)
			}
		case engine.OutcomeUpdated:
			ui.PrintSuccess("updated %s to %s", name, item.Package.Version)
		case engine.OutcomeRemoved:
			ui.PrintSuccess("removed %s", name)
		case engine.OutcomeUnchanged:
			ui.PrintInfo("%s is already up to date", name)
		case engine.OutcomeSkipped:
			ui.PrintWarning("skipped %s: %v", name, item.Err)
		case engine.OutcomeFailed:
			ui.PrintError("%s: %v", name, item.Err)
		}
	}

	if report.Failed() {
		failed := 0
		for _, item := range report.Items {
			if item.Outcome == engine.OutcomeFailed {
				failed++
			}
		}
		return &ExitError{
			Code: report.ExitCode(),
			msg:  fmt.Sprintf("%d of %d packages failed", failed, len(report.Items)),
		}
	}
	return nil
}
