// Package diagnostics defines the diagnostic types reported by the lexer,
// parser, validator and runtime.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/thomasrohde/guardeval/pkg/ast"
)

// Diagnostic code constants. Codes in the err: namespace follow the standard
// error table; g: codes are specific to this engine.
const (
	ESyntax        = "err:XPST0003"
	EUndefinedName = "err:XPST0008"
	EUnknownFn     = "err:XPST0017"
	EUnknownType   = "err:XPST0051"
	EUnboundPrefix = "err:XPST0081"
	EType          = "err:XPTY0004"
	EDupBinding    = "g:DUP_BINDING"
	EFnDup         = "g:FN_DUP"
	EReturnNotLast = "g:RETURN_NOT_LAST"
	EUnknownCap    = "g:UNKNOWN_CAP"
	EUndeclaredCap = "g:UNDECLARED_CAP"
	EUnknownBudget = "g:UNKNOWN_BUDGET"
	EUnknownTool   = "g:UNKNOWN_TOOL"
	EToolArgs      = "g:TOOL_ARGS"
	ECallEffect    = "g:CALL_EFFECT"
	EBadNamespace  = "g:BAD_NAMESPACE"
	EBadHeader     = "g:BAD_HEADER"
	ECapDenied     = "g:CAP_DENIED"
	EIO            = "g:IO"
)

// Severity values carried by diagnostics.
const (
	SeverityStatic  = "static"
	SeverityType    = "type"
	SeverityDynamic = "dynamic"
)

// Diagnostic represents a parse, validation, or runtime diagnostic.
type Diagnostic struct {
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	Severity string    `json:"severity"`
	Span     *ast.Span `json:"span,omitempty"`
	Hint     string    `json:"hint,omitempty"`
}

// MakeDiag creates a new static Diagnostic.
func MakeDiag(code, message string, span *ast.Span, hint string) Diagnostic {
	return Diagnostic{
		Code:     code,
		Message:  message,
		Severity: SeverityStatic,
		Span:     span,
		Hint:     hint,
	}
}

// FormatDiagnostic formats a single diagnostic for display.
func FormatDiagnostic(d Diagnostic, pretty bool) string {
	return FormatDiagnosticWithSource(d, pretty, "")
}

// FormatDiagnosticWithSource formats d, adding a caret snippet of source under
// the header when pretty output is requested and the span is known.
func FormatDiagnosticWithSource(d Diagnostic, pretty bool, source string) string {
	if !pretty {
		b, _ := json.Marshal(d)
		return string(b)
	}
	loc := "<unknown>"
	if d.Span != nil {
		loc = fmt.Sprintf("%s:%d:%d", d.Span.File, d.Span.StartLine, d.Span.StartCol)
	}
	sev := d.Severity
	if sev == "" {
		sev = SeverityStatic
	}
	out := fmt.Sprintf("error[%s] (%s): %s\n  --> %s", d.Code, sev, d.Message, loc)
	if d.Span != nil && source != "" {
		out += "\n" + Snippet(source, d.Span.StartLine, d.Span.StartCol)
	}
	if d.Hint != "" {
		out += fmt.Sprintf("\n  hint: %s", d.Hint)
	}
	return out
}

// FormatDiagnostics formats a slice of diagnostics for display.
func FormatDiagnostics(diags []Diagnostic, pretty bool) string {
	return FormatDiagnosticsWithSource(diags, pretty, "")
}

// FormatDiagnosticsWithSource formats diags, see FormatDiagnosticWithSource.
func FormatDiagnosticsWithSource(diags []Diagnostic, pretty bool, source string) string {
	if !pretty {
		b, _ := json.Marshal(diags)
		return string(b)
	}
	parts := make([]string, len(diags))
	for i, d := range diags {
		parts[i] = FormatDiagnosticWithSource(d, true, source)
	}
	return strings.Join(parts, "\n\n")
}

// Snippet renders the 1-based line of source with one line of context on each
// side and a caret under col. Out of range coordinates are clamped.
func Snippet(source string, line, col int) string {
	lines := strings.Split(source, "\n")
	if line < 1 {
		line = 1
	}
	if line > len(lines) {
		line = len(lines)
	}
	if col < 1 {
		col = 1
	}

	var b strings.Builder
	if line > 1 {
		fmt.Fprintf(&b, "%4d | %s\n", line-1, lines[line-2])
	}
	fmt.Fprintf(&b, "%4d | %s\n", line, lines[line-1])
	fmt.Fprintf(&b, "     | %s^", strings.Repeat(" ", col-1))
	if line < len(lines) {
		fmt.Fprintf(&b, "\n%4d | %s", line+1, lines[line])
	}
	return b.String()
}
