package evaluator

import (
	"fmt"
	"time"

	"github.com/thomasrohde/guardeval/pkg/ast"
)

// DefaultMaxDepth bounds nested user function calls when no maxDepth budget
// is set.
const DefaultMaxDepth = 1000

// Budget holds the resource limits for a program execution.
type Budget struct {
	TimeMs          *int64
	MaxToolCalls    *int64
	MaxBytesWritten *int64
	MaxIterations   *int64
	MaxDepth        *int64
}

// BudgetTracker tracks resource consumption during execution.
type BudgetTracker struct {
	ToolCalls    int64
	BytesWritten int64
	Iterations   int64
	PeakDepth    int64
	StartMs      int64

	depth int64
}

// budgetFromHeaders merges every budget header of program into base.
func budgetFromHeaders(program *ast.Program, base Budget) Budget {
	b := base
	for _, h := range program.Headers {
		budgetDecl, ok := h.(*ast.BudgetDecl)
		if !ok {
			continue
		}
		for _, entry := range budgetDecl.Budget.Pairs {
			pair, ok := entry.(*ast.RecordPair)
			if !ok {
				continue
			}
			intVal := int64(extractNumber(pair.Value))
			switch pair.Key {
			case "timeMs":
				b.TimeMs = &intVal
			case "maxToolCalls":
				b.MaxToolCalls = &intVal
			case "maxIterations":
				b.MaxIterations = &intVal
			case "maxBytesWritten":
				b.MaxBytesWritten = &intVal
			case "maxDepth":
				b.MaxDepth = &intVal
			}
		}
	}
	return b
}

func extractNumber(expr ast.Expr) float64 {
	switch e := expr.(type) {
	case *ast.IntLiteral:
		return float64(e.Value)
	case *ast.FloatLiteral:
		return e.Value
	}
	return 0
}

// budgetExceeded reports an exhausted budget. Exhaustion is static: no catch
// clause may swallow it.
func (ev *evaluator) budgetExceeded(span *ast.Span, format string, args ...any) *Signal {
	sig := Raise(SeverityStatic, CodeBudget, span, format, args...)
	ev.emitWithData(TraceBudgetExceeded, span, map[string]string{"reason": sig.Description})
	return sig
}

func (ev *evaluator) checkTimeBudget(span *ast.Span) error {
	if ev.budget.TimeMs != nil {
		if time.Since(ev.startTime).Milliseconds() >= *ev.budget.TimeMs {
			return ev.budgetExceeded(span, "time budget exceeded (%dms)", *ev.budget.TimeMs)
		}
	}
	if err := ev.ctx.Err(); err != nil {
		return NewSignal(SeverityStatic, CodeCancelled, span, err.Error())
	}
	return nil
}

func (ev *evaluator) checkIterationBudget(span *ast.Span) error {
	if ev.budget.MaxIterations != nil && ev.tracker.Iterations >= *ev.budget.MaxIterations {
		return ev.budgetExceeded(span, "iteration budget exceeded (max %d)", *ev.budget.MaxIterations)
	}
	ev.tracker.Iterations++
	return nil
}

func (ev *evaluator) checkToolBudget(span *ast.Span) error {
	if ev.budget.MaxToolCalls != nil && ev.tracker.ToolCalls >= *ev.budget.MaxToolCalls {
		return ev.budgetExceeded(span, "tool call budget exceeded (max %d)", *ev.budget.MaxToolCalls)
	}
	ev.tracker.ToolCalls++
	return nil
}

// enterCall records one more level of user function nesting. Every
// successful enterCall is paired with exitCall.
func (ev *evaluator) enterCall(span *ast.Span) error {
	limit := int64(DefaultMaxDepth)
	if ev.budget.MaxDepth != nil {
		limit = *ev.budget.MaxDepth
	}
	if ev.tracker.depth >= limit {
		return ev.budgetExceeded(span, "call depth budget exceeded (max %d)", limit)
	}
	ev.tracker.depth++
	if ev.tracker.depth > ev.tracker.PeakDepth {
		ev.tracker.PeakDepth = ev.tracker.depth
	}
	return nil
}

func (ev *evaluator) exitCall() {
	ev.tracker.depth--
}

// trackBytesWritten checks a tool result for a bytes field and tracks it
// against the budget.
func (ev *evaluator) trackBytesWritten(result Value, span *ast.Span) error {
	rec, ok := result.(Record)
	if !ok {
		return nil
	}
	bytesVal, found := rec.Get("bytes")
	if !found {
		return nil
	}
	if num, ok := bytesVal.(Number); ok {
		ev.tracker.BytesWritten += int64(num.Value)
		if ev.budget.MaxBytesWritten != nil && ev.tracker.BytesWritten > *ev.budget.MaxBytesWritten {
			return ev.budgetExceeded(span, "bytes written budget exceeded (max %d)", *ev.budget.MaxBytesWritten)
		}
	}
	return nil
}

// String renders the active limits as name=value pairs.
func (b Budget) String() string {
	s := ""
	add := func(name string, v *int64) {
		if v == nil {
			return
		}
		if s != "" {
			s += " "
		}
		s += fmt.Sprintf("%s=%d", name, *v)
	}
	add("timeMs", b.TimeMs)
	add("maxToolCalls", b.MaxToolCalls)
	add("maxBytesWritten", b.MaxBytesWritten)
	add("maxIterations", b.MaxIterations)
	add("maxDepth", b.MaxDepth)
	return s
}
