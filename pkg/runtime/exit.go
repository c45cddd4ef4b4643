package runtime

import (
	"errors"

	"github.com/thomasrohde/guardeval/pkg/diagnostics"
	"github.com/thomasrohde/guardeval/pkg/evaluator"
)

// Process exit codes shared by the CLI and the scenario suite.
const (
	ExitOK        = 0
	ExitUsage     = 1 // bad arguments or unreadable input
	ExitRejected  = 2 // parse or validation diagnostics
	ExitCapDenied = 3
	ExitUncaught  = 4 // a signal escaped the program
)

// ExitCode maps the error returned by Run to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var de *DiagnosticError
	if errors.As(err, &de) {
		return ExitRejected
	}
	var sig *evaluator.Signal
	if errors.As(err, &sig) && sig.Code.Equal(evaluator.CodeCapDenied) {
		return ExitCapDenied
	}
	return ExitUncaught
}

// ErrorDiagnostics converts the error returned by Run into diagnostics for
// reporting.
func ErrorDiagnostics(err error) []diagnostics.Diagnostic {
	var de *DiagnosticError
	if errors.As(err, &de) {
		return de.Diagnostics
	}
	var sig *evaluator.Signal
	if errors.As(err, &sig) {
		return []diagnostics.Diagnostic{sig.Diagnostic()}
	}
	d := diagnostics.MakeDiag(diagnostics.EIO, err.Error(), nil, "")
	d.Severity = diagnostics.SeverityDynamic
	return []diagnostics.Diagnostic{d}
}
