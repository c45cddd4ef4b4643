package evaluator

import (
	"context"
	"errors"
	"fmt"

	"github.com/thomasrohde/guardeval/pkg/ast"
	"github.com/thomasrohde/guardeval/pkg/diagnostics"
	"github.com/thomasrohde/guardeval/pkg/names"
)

// Severity classifies a signal. Only Type and Dynamic signals raised inside a
// guard can be caught.
type Severity int

const (
	SeverityStatic Severity = iota
	SeverityType
	SeverityDynamic
)

func (s Severity) String() string {
	switch s {
	case SeverityStatic:
		return diagnostics.SeverityStatic
	case SeverityType:
		return diagnostics.SeverityType
	default:
		return diagnostics.SeverityDynamic
	}
}

// Catchable reports whether a signal of this severity is eligible for a
// catch clause.
func (s Severity) Catchable() bool {
	return s != SeverityStatic
}

// Error codes raised by the evaluator and the builtins.
var (
	CodeDivideByZero  = names.ErrCode("FOAR0001")
	CodeOverflow      = names.ErrCode("FOAR0002")
	CodeCast          = names.ErrCode("FORG0001")
	CodeInvalidQName  = names.ErrCode("FOCA0002")
	CodeJSON          = names.ErrCode("FOJS0001")
	CodeDocument      = names.ErrCode("FODC0002")
	CodeUser          = names.ErrCode("FOER0000")
	CodeNoNamespace   = names.ErrCode("FONS0004")
	CodeType          = names.ErrCode("XPTY0004")
	CodeTreat         = names.ErrCode("XPDY0050")
	CodeNoValue       = names.ErrCode("XPDY0002")
	CodeUndefinedName = names.ErrCode("XPST0008")
	CodeUnknownFn     = names.ErrCode("XPST0017")
	CodeUnknownType   = names.ErrCode("XPST0051")
	CodeUnboundPrefix = names.ErrCode("XPST0081")
	CodeInvalidID     = names.ErrCode("XQDY0091")
	CodeBudget        = names.GuardCode("BUDGET")
	CodeCancelled     = names.GuardCode("CANCELLED")
	CodeCapDenied     = names.GuardCode("CAP_DENIED")
	CodeUnknownTool   = names.GuardCode("UNKNOWN_TOOL")
	CodeNoFunction    = names.GuardCode("UNKNOWN_FN")
	CodeNoType        = names.GuardCode("UNKNOWN_TYPE")
	CodeToolArgs      = names.GuardCode("TOOL_ARGS")
	CodeToolFailed    = names.GuardCode("TOOL_FAILED")
)

// Signal is a raised failure. It is immutable once created: the dispatcher
// re-raises the same pointer when no clause matches.
type Signal struct {
	Code        names.QName
	Description string
	Value       []Value
	Module      string
	Line        int
	Column      int
	Severity    Severity
	Span        *ast.Span
}

func (s *Signal) Error() string {
	if s.Description == "" {
		return s.Code.String()
	}
	return s.Code.String() + ": " + s.Description
}

// Diagnostic converts the signal into a diagnostic for reporting.
func (s *Signal) Diagnostic() diagnostics.Diagnostic {
	return diagnostics.Diagnostic{
		Code:     s.Code.String(),
		Message:  s.Description,
		Severity: s.Severity.String(),
		Span:     s.Span,
	}
}

// NewSignal creates a signal located at span. The module, line and column
// are taken from the span when it is known.
func NewSignal(sev Severity, code names.QName, span *ast.Span, description string) *Signal {
	sig := &Signal{
		Code:        code,
		Description: description,
		Severity:    sev,
	}
	if span != nil {
		s := *span
		sig.Span = &s
		sig.Module = s.File
		sig.Line = s.StartLine
		sig.Column = s.StartCol
	}
	return sig
}

// Raise creates a signal with a formatted description.
func Raise(sev Severity, code names.QName, span *ast.Span, format string, args ...any) *Signal {
	return NewSignal(sev, code, span, fmt.Sprintf(format, args...))
}

// WithValue sets the values attached to a freshly created signal and returns
// it. Signals that have been raised must not be modified.
func (s *Signal) WithValue(value ...Value) *Signal {
	s.Value = value
	return s
}

// Classify returns the severity of an arbitrary error. Cancellation and
// deadline expiry are static; any host error that is not a signal is dynamic.
func Classify(err error) Severity {
	var sig *Signal
	if errors.As(err, &sig) {
		return sig.Severity
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return SeverityStatic
	}
	return SeverityDynamic
}

// AsSignal converts err into a signal, keeping an existing signal as is.
// span locates the operation that produced a host error.
func AsSignal(err error, span *ast.Span) *Signal {
	var sig *Signal
	if errors.As(err, &sig) {
		return sig
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewSignal(SeverityStatic, CodeCancelled, span, err.Error())
	}
	return NewSignal(SeverityDynamic, CodeUser, span, err.Error())
}

// Location renders where the signal was raised, e.g. "test.gq:3:5".
func (s *Signal) Location() string {
	if s.Line == 0 {
		return s.Module
	}
	return fmt.Sprintf("%s:%d:%d", s.Module, s.Line, s.Column)
}
