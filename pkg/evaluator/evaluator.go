package evaluator

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/thomasrohde/guardeval/pkg/ast"
	"github.com/thomasrohde/guardeval/pkg/names"
)

// TraceEventType identifies the type of a trace event.
type TraceEventType string

const (
	TraceRunStart       TraceEventType = "run_start"
	TraceRunEnd         TraceEventType = "run_end"
	TraceStmtStart      TraceEventType = "stmt_start"
	TraceStmtEnd        TraceEventType = "stmt_end"
	TraceToolStart      TraceEventType = "tool_start"
	TraceToolEnd        TraceEventType = "tool_end"
	TraceBudgetExceeded TraceEventType = "budget_exceeded"
	TraceForStart       TraceEventType = "for_start"
	TraceForEnd         TraceEventType = "for_end"
	TraceFnCallStart    TraceEventType = "fn_call_start"
	TraceFnCallEnd      TraceEventType = "fn_call_end"
	TraceMapStart       TraceEventType = "map_start"
	TraceMapEnd         TraceEventType = "map_end"
	TraceReduceStart    TraceEventType = "reduce_start"
	TraceReduceEnd      TraceEventType = "reduce_end"
	TraceTryStart       TraceEventType = "try_start"
	TraceTryEnd         TraceEventType = "try_end"
	TraceCatch          TraceEventType = "catch"
	TracePropagate      TraceEventType = "propagate"
)

// TraceEvent represents a single trace event emitted during execution.
type TraceEvent struct {
	Timestamp string         `json:"ts"`
	RunID     string         `json:"runId"`
	Event     TraceEventType `json:"event"`
	Span      *ast.Span      `json:"span,omitempty"`
	Data      *Record        `json:"data,omitempty"`
}

// ToolDef defines a tool available to programs.
type ToolDef struct {
	Name         string
	Mode         string // "read" or "effect"
	CapabilityID string
	Execute      func(ctx context.Context, args *Record) (Value, error)
}

// StdlibFn defines a builtin function. Execute may return a *Signal to raise
// a specific error code; any other error is raised as err:FOER0000.
type StdlibFn struct {
	Name    string
	Execute func(args *Record) (Value, error)
}

// DocumentLoader fetches the raw content of a document for doc { uri }.
type DocumentLoader interface {
	Load(ctx context.Context, uri string) ([]byte, error)
}

// ExecOptions configures program execution.
type ExecOptions struct {
	AllowedCapabilities map[string]bool
	Tools               map[string]*ToolDef
	Stdlib              map[string]*StdlibFn
	Namespaces          *names.Namespaces // nil means the built-in prefixes
	Documents           DocumentLoader
	Budget              Budget // defaults; program budget headers override
	ValidateIDs         bool
	Trace               func(event TraceEvent)
	RunID               string
}

// ExecResult holds the result of a program execution.
type ExecResult struct {
	Value Value
	Usage BudgetTracker
}

type userFn struct {
	decl    *ast.FnDecl
	closure *Env
}

type evaluator struct {
	ctx       context.Context
	opts      ExecOptions
	env       *Env
	ns        *names.Namespaces
	budget    Budget
	tracker   BudgetTracker
	startTime time.Time
	clauses   map[*ast.TryExpr][]CatchClause
}

func newEvaluator(ctx context.Context, opts ExecOptions, env *Env) *evaluator {
	now := time.Now()
	ns := names.DefaultNamespaces()
	if opts.Namespaces != nil {
		ns = opts.Namespaces.Clone()
	}
	if env == nil {
		env = NewEnv(nil)
	}
	return &evaluator{
		ctx:       ctx,
		opts:      opts,
		env:       env,
		ns:        ns,
		budget:    opts.Budget,
		clauses:   make(map[*ast.TryExpr][]CatchClause),
		startTime: now,
		tracker:   BudgetTracker{StartMs: now.UnixMilli()},
	}
}

func (ev *evaluator) emit(event TraceEventType, span *ast.Span) {
	ev.emitWithData(event, span, nil)
}

func (ev *evaluator) emitWithData(event TraceEventType, span *ast.Span, data map[string]string) {
	if ev.opts.Trace == nil {
		return
	}
	var dataRec *Record
	if data != nil {
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]KeyValue, 0, len(data))
		for _, k := range keys {
			pairs = append(pairs, KeyValue{Key: k, Value: NewString(data[k])})
		}
		r := newRecord(pairs)
		dataRec = &r
	}
	ev.opts.Trace(TraceEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RunID:     ev.opts.RunID,
		Event:     event,
		Span:      span,
		Data:      dataRec,
	})
}

// Execute runs a program and returns the result. Every failure is a *Signal.
func Execute(ctx context.Context, program *ast.Program, opts ExecOptions) (*ExecResult, error) {
	ev := newEvaluator(ctx, opts, nil)

	if err := ev.applyHeaders(program); err != nil {
		return nil, err
	}

	if ev.budget.TimeMs != nil {
		var cancel context.CancelFunc
		ev.ctx, cancel = context.WithTimeout(ctx, time.Duration(*ev.budget.TimeMs)*time.Millisecond)
		defer cancel()
	}

	span := program.Span
	ev.emit(TraceRunStart, &span)

	val, err := ev.executeBlock(program.Statements, ev.env)

	ev.emit(TraceRunEnd, &span)

	if err != nil {
		return &ExecResult{Usage: ev.tracker}, err
	}
	return &ExecResult{Value: val, Usage: ev.tracker}, nil
}

// Evaluate evaluates a single expression in env, which may be nil. Applied
// to a try expression it yields either the expression's value or the signal
// that escaped it.
func Evaluate(ctx context.Context, expr ast.Expr, env *Env, opts ExecOptions) (Value, error) {
	ev := newEvaluator(ctx, opts, env)
	return ev.evalExpr(expr, ev.env)
}

// applyHeaders checks declared capabilities against the policy, binds
// namespace prefixes and merges budget limits.
func (ev *evaluator) applyHeaders(program *ast.Program) error {
	for _, h := range program.Headers {
		switch hdr := h.(type) {
		case *ast.CapDecl:
			for _, entry := range hdr.Capabilities.Pairs {
				pair, ok := entry.(*ast.RecordPair)
				if !ok {
					continue
				}
				boolVal, ok := pair.Value.(*ast.BoolLiteral)
				if !ok || !boolVal.Value {
					continue
				}
				if ev.opts.AllowedCapabilities != nil && !ev.opts.AllowedCapabilities[pair.Key] {
					span := pair.Span
					return Raise(SeverityStatic, CodeCapDenied, &span, "capability '%s' denied by policy", pair.Key)
				}
			}

		case *ast.NsDecl:
			for _, entry := range hdr.Bindings.Pairs {
				pair, ok := entry.(*ast.RecordPair)
				if !ok {
					continue
				}
				lit, ok := pair.Value.(*ast.StrLiteral)
				if !ok || lit.Value == "" || !names.IsNCName(pair.Key) {
					span := pair.Span
					return Raise(SeverityStatic, names.GuardCode("BAD_NAMESPACE"), &span,
						"invalid namespace declaration for prefix '%s'", pair.Key)
				}
				ev.ns.Bind(pair.Key, lit.Value)
			}
		}
	}
	ev.budget = budgetFromHeaders(program, ev.budget)
	return nil
}

// executeBlock runs statements in env and returns the value of the return
// statement, or of the last statement. Function declarations are hoisted
// into env and are not visible outside the block.
func (ev *evaluator) executeBlock(stmts []ast.Stmt, env *Env) (Value, error) {
	for _, stmt := range stmts {
		if fn, ok := stmt.(*ast.FnDecl); ok {
			env.defineFn(fn.Name, &userFn{decl: fn, closure: env})
		}
	}

	var lastVal Value = NewNull()

	for _, stmt := range stmts {
		span := stmt.NodeSpan()
		if err := ev.checkTimeBudget(&span); err != nil {
			return nil, err
		}

		ev.emit(TraceStmtStart, &span)

		switch s := stmt.(type) {
		case *ast.LetStmt:
			val, err := ev.evalExpr(s.Value, env)
			if err != nil {
				return nil, err
			}
			if s.Type != "" {
				if err := checkDeclaredType(s, val); err != nil {
					return nil, err
				}
			}
			env.Set(s.Name, val)
			lastVal = val

		case *ast.ExprStmt:
			val, err := ev.evalExpr(s.Expr, env)
			if err != nil {
				return nil, err
			}
			if s.Target != nil {
				name := s.Target.Parts[0]
				current := val
				for i := len(s.Target.Parts) - 1; i >= 1; i-- {
					current = NewRecord([]KeyValue{{Key: s.Target.Parts[i], Value: current}})
				}
				env.Set(name, current)
			}
			lastVal = val

		case *ast.FnDecl:
			lastVal = NewNull()

		case *ast.ReturnStmt:
			val, err := ev.evalExpr(s.Value, env)
			if err != nil {
				return nil, err
			}
			ev.emit(TraceStmtEnd, &span)
			return val, nil
		}

		ev.emit(TraceStmtEnd, &span)
	}

	return lastVal, nil
}

func checkDeclaredType(s *ast.LetStmt, val Value) error {
	span := s.Span
	if !ast.TypeNames[s.Type] {
		return Raise(SeverityStatic, CodeUnknownType, &span, "unknown type '%s'", s.Type)
	}
	if !Conforms(val, s.Type) {
		return Raise(SeverityType, CodeType, &span,
			"value of type %s cannot be bound to '%s' declared as %s", TypeName(val), s.Name, s.Type).
			WithValue(val)
	}
	return nil
}

func (ev *evaluator) evalExpr(expr ast.Expr, env *Env) (Value, error) {
	if expr == nil {
		return NewNull(), nil
	}

	if ev.budget.TimeMs != nil {
		span := expr.NodeSpan()
		if err := ev.checkTimeBudget(&span); err != nil {
			return nil, err
		}
	}

	switch e := expr.(type) {
	case *ast.IntLiteral:
		return NewNumber(float64(e.Value)), nil

	case *ast.FloatLiteral:
		return NewNumber(e.Value), nil

	case *ast.BoolLiteral:
		return NewBool(e.Value), nil

	case *ast.StrLiteral:
		return NewString(e.Value), nil

	case *ast.NullLiteral:
		return NewNull(), nil

	case *ast.IdentPath:
		return ev.evalIdentPath(e, env)

	case *ast.ContextVar:
		return ev.evalContextVar(e, env)

	case *ast.RecordExpr:
		rec, err := ev.evalRecord(e, env)
		if err != nil {
			return nil, err
		}
		return rec, nil

	case *ast.ListExpr:
		return ev.evalList(e, env)

	case *ast.BinaryExpr:
		return ev.evalBinaryOp(e, env)

	case *ast.UnaryExpr:
		return ev.evalUnary(e, env)

	case *ast.IfExpr:
		return ev.evalIfExpr(e, env)

	case *ast.IfBlockExpr:
		return ev.evalIfBlockExpr(e, env)

	case *ast.ForExpr:
		return ev.evalForExpr(e, env)

	case *ast.TryExpr:
		return ev.evalTryExpr(e, env)

	case *ast.CallExpr:
		return ev.evalToolCall(e.Tool, e.Args, e.Span, env)

	case *ast.DoExpr:
		return ev.evalToolCall(e.Tool, e.Args, e.Span, env)

	case *ast.FnCallExpr:
		return ev.evalFnCallExpr(e, env)

	default:
		span := expr.NodeSpan()
		return nil, Raise(SeverityStatic, names.ErrCode("XPST0003"), &span, "unsupported expression type: %T", expr)
	}
}

func (ev *evaluator) evalIdentPath(e *ast.IdentPath, env *Env) (Value, error) {
	span := e.Span
	val, ok := env.Get(e.Parts[0])
	if !ok {
		return nil, Raise(SeverityDynamic, CodeNoValue, &span, "variable '%s' has no value", e.Parts[0])
	}

	for i := 1; i < len(e.Parts); i++ {
		rec, ok := val.(Record)
		if !ok {
			return nil, Raise(SeverityType, CodeType, &span,
				"cannot access '%s' on a value of type %s", e.Parts[i], TypeName(val)).WithValue(val)
		}
		fieldVal, found := rec.Get(e.Parts[i])
		if !found {
			return NewNull(), nil
		}
		val = fieldVal
	}

	return val, nil
}

// evalContextVar resolves $name against the error context of the innermost
// enclosing catch clause.
func (ev *evaluator) evalContextVar(e *ast.ContextVar, env *Env) (Value, error) {
	span := e.Span
	q, err := ev.ns.Resolve(e.Name)
	if err != nil {
		var unbound *names.UnboundPrefixError
		if errors.As(err, &unbound) {
			return nil, Raise(SeverityStatic, CodeUnboundPrefix, &span, "no namespace bound to prefix '%s'", unbound.Prefix)
		}
		return nil, Raise(SeverityStatic, CodeUndefinedName, &span, "undefined variable '$%s'", e.Name)
	}
	if !names.IsContextVar(q) {
		return nil, Raise(SeverityStatic, CodeUndefinedName, &span, "undefined variable '$%s'", e.Name)
	}
	ctx := env.ErrorContext()
	if ctx == nil {
		return nil, Raise(SeverityStatic, CodeUndefinedName, &span, "variable '$%s' is not in scope", e.Name)
	}
	val, _ := ctx.Lookup(q.Local)
	return val, nil
}

func (ev *evaluator) evalRecord(e *ast.RecordExpr, env *Env) (Record, error) {
	rec := newRecord(make([]KeyValue, 0, len(e.Pairs)))

	for _, entry := range e.Pairs {
		switch p := entry.(type) {
		case *ast.RecordPair:
			val, err := ev.evalExpr(p.Value, env)
			if err != nil {
				return Record{}, err
			}
			rec.Set(p.Key, val)

		case *ast.SpreadPair:
			val, err := ev.evalExpr(p.Expr, env)
			if err != nil {
				return Record{}, err
			}
			spreadRec, ok := val.(Record)
			if !ok {
				span := p.Span
				return Record{}, Raise(SeverityType, CodeType, &span,
					"spread operand must be a record, got %s", TypeName(val)).WithValue(val)
			}
			for _, kv := range spreadRec.Pairs {
				rec.Set(kv.Key, kv.Value)
			}
		}
	}

	return rec, nil
}

func (ev *evaluator) evalList(e *ast.ListExpr, env *Env) (Value, error) {
	items := make([]Value, 0, len(e.Elements))
	for _, elem := range e.Elements {
		val, err := ev.evalExpr(elem, env)
		if err != nil {
			return nil, err
		}
		items = append(items, val)
	}
	return NewList(items), nil
}

func (ev *evaluator) evalBinaryOp(e *ast.BinaryExpr, env *Env) (Value, error) {
	left, err := ev.evalExpr(e.Left, env)
	if err != nil {
		return nil, err
	}
	right, err := ev.evalExpr(e.Right, env)
	if err != nil {
		return nil, err
	}

	span := e.Span
	mismatch := func(want string) error {
		return Raise(SeverityType, CodeType, &span, "operator '%s' requires %s, got %s and %s",
			string(e.Op), want, TypeName(left), TypeName(right)).WithValue(left, right)
	}

	switch e.Op {
	case ast.OpAdd:
		if lStr, ok := left.(String); ok {
			if rStr, ok := right.(String); ok {
				return NewString(lStr.Value + rStr.Value), nil
			}
		}
		lNum, lOk := left.(Number)
		rNum, rOk := right.(Number)
		if !lOk || !rOk {
			return nil, mismatch("two numbers or two strings")
		}
		return arithmetic(lNum.Value+rNum.Value, &span)

	case ast.OpSub, ast.OpMul, ast.OpDiv, ast.OpMod:
		lNum, lOk := left.(Number)
		rNum, rOk := right.(Number)
		if !lOk || !rOk {
			return nil, mismatch("two numbers")
		}
		switch e.Op {
		case ast.OpSub:
			return arithmetic(lNum.Value-rNum.Value, &span)
		case ast.OpMul:
			return arithmetic(lNum.Value*rNum.Value, &span)
		case ast.OpDiv:
			if rNum.Value == 0 {
				return nil, NewSignal(SeverityDynamic, CodeDivideByZero, &span, "division by zero").
					WithValue(left, right)
			}
			return arithmetic(lNum.Value/rNum.Value, &span)
		default:
			if rNum.Value == 0 {
				return nil, NewSignal(SeverityDynamic, CodeDivideByZero, &span, "modulo by zero").
					WithValue(left, right)
			}
			return arithmetic(math.Mod(lNum.Value, rNum.Value), &span)
		}

	case ast.OpEqEq:
		return NewBool(DeepEqual(left, right)), nil

	case ast.OpNeq:
		return NewBool(!DeepEqual(left, right)), nil

	case ast.OpGt, ast.OpLt, ast.OpGtEq, ast.OpLtEq:
		var cmp int
		switch l := left.(type) {
		case Number:
			r, ok := right.(Number)
			if !ok {
				return nil, mismatch("two numbers or two strings")
			}
			cmp = compareFloat(l.Value, r.Value)
		case String:
			r, ok := right.(String)
			if !ok {
				return nil, mismatch("two numbers or two strings")
			}
			cmp = strings.Compare(l.Value, r.Value)
		default:
			return nil, mismatch("two numbers or two strings")
		}
		switch e.Op {
		case ast.OpGt:
			return NewBool(cmp > 0), nil
		case ast.OpLt:
			return NewBool(cmp < 0), nil
		case ast.OpGtEq:
			return NewBool(cmp >= 0), nil
		default:
			return NewBool(cmp <= 0), nil
		}
	}

	return NewNull(), nil
}

// arithmetic wraps a numeric result, raising FOAR0002 when it is not finite.
func arithmetic(n float64, span *ast.Span) (Value, error) {
	if math.IsInf(n, 0) || math.IsNaN(n) {
		return nil, NewSignal(SeverityDynamic, CodeOverflow, span, "numeric operation overflow")
	}
	return NewNumber(n), nil
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (ev *evaluator) evalUnary(e *ast.UnaryExpr, env *Env) (Value, error) {
	operand, err := ev.evalExpr(e.Operand, env)
	if err != nil {
		return nil, err
	}
	if num, ok := operand.(Number); ok {
		return NewNumber(-num.Value), nil
	}
	span := e.Span
	return nil, Raise(SeverityType, CodeType, &span, "unary '-' requires a number, got %s", TypeName(operand)).
		WithValue(operand)
}

func (ev *evaluator) evalIfExpr(e *ast.IfExpr, env *Env) (Value, error) {
	cond, err := ev.evalExpr(e.Cond, env)
	if err != nil {
		return nil, err
	}
	if Truthiness(cond) {
		return ev.evalExpr(e.Then, env)
	}
	return ev.evalExpr(e.Else, env)
}

func (ev *evaluator) evalIfBlockExpr(e *ast.IfBlockExpr, env *Env) (Value, error) {
	cond, err := ev.evalExpr(e.Cond, env)
	if err != nil {
		return nil, err
	}
	if Truthiness(cond) {
		return ev.executeBlock(e.ThenBody, env.Child())
	}
	if e.ElseBody != nil {
		return ev.executeBlock(e.ElseBody, env.Child())
	}
	return NewNull(), nil
}

func (ev *evaluator) evalForExpr(e *ast.ForExpr, env *Env) (Value, error) {
	span := e.Span
	listVal, err := ev.evalExpr(e.List, env)
	if err != nil {
		return nil, err
	}
	list, ok := listVal.(List)
	if !ok {
		return nil, Raise(SeverityType, CodeType, &span, "for expression requires a list, got %s", TypeName(listVal)).
			WithValue(listVal)
	}

	ev.emit(TraceForStart, &span)

	results := make([]Value, 0, len(list.Items))
	for _, item := range list.Items {
		if err := ev.checkTimeBudget(&span); err != nil {
			return nil, err
		}
		if err := ev.checkIterationBudget(&span); err != nil {
			return nil, err
		}

		childEnv := env.Child()
		childEnv.Set(e.Binding, item)
		val, err := ev.executeBlock(e.Body, childEnv)
		if err != nil {
			return nil, err
		}
		results = append(results, val)
	}

	ev.emit(TraceForEnd, &span)
	return NewList(results), nil
}

// compiledClauses returns the resolved clauses of e, compiling them on first
// use. Clauses depend only on the source and the namespace table, which is
// fixed once headers are applied.
func (ev *evaluator) compiledClauses(e *ast.TryExpr) ([]CatchClause, error) {
	if c, ok := ev.clauses[e]; ok {
		return c, nil
	}
	c, err := CompileClauses(e, ev.ns)
	if err != nil {
		return nil, err
	}
	ev.clauses[e] = c
	return c, nil
}

// evalTryExpr runs the guard and dispatches a failure to the first matching
// clause. Static signals and unmatched signals propagate unchanged. A failure
// raised by the selected clause body propagates to the enclosing scope and is
// never offered to the remaining clauses.
func (ev *evaluator) evalTryExpr(e *ast.TryExpr, env *Env) (Value, error) {
	span := e.Span
	clauses, err := ev.compiledClauses(e)
	if err != nil {
		return nil, err
	}

	ev.emit(TraceTryStart, &span)

	val, err := ev.executeBlock(e.Guard, env.Child())
	if err == nil {
		ev.emit(TraceTryEnd, &span)
		return val, nil
	}

	sig := AsSignal(err, &span)
	if !sig.Severity.Catchable() {
		ev.propagate(sig, &span)
		return nil, sig
	}

	idx, ok := SelectClause(sig, clauses)
	if !ok {
		ev.propagate(sig, &span)
		return nil, sig
	}

	ev.emitWithData(TraceCatch, &span, map[string]string{
		"code":   sig.Code.String(),
		"clause": strconv.Itoa(idx),
		"tests":  describeClause(clauses[idx]),
	})

	result, err := ev.executeBlock(clauses[idx].Body, env.WithErrorContext(NewErrorContext(sig)))
	ev.emit(TraceTryEnd, &span)
	return result, err
}

func (ev *evaluator) propagate(sig *Signal, span *ast.Span) {
	ev.emitWithData(TracePropagate, span, map[string]string{
		"code":     sig.Code.String(),
		"severity": sig.Severity.String(),
	})
	ev.emit(TraceTryEnd, span)
}

func (ev *evaluator) evalToolCall(toolPath *ast.IdentPath, argsExpr *ast.RecordExpr, span ast.Span, env *Env) (Value, error) {
	toolName := strings.Join(toolPath.Parts, ".")

	tool, ok := ev.opts.Tools[toolName]
	if !ok {
		return nil, Raise(SeverityStatic, CodeUnknownTool, &span, "unknown tool '%s'", toolName)
	}

	argsRec, err := ev.evalRecord(argsExpr, env)
	if err != nil {
		return nil, err
	}

	if err := ev.checkToolBudget(&span); err != nil {
		return nil, err
	}

	ev.emitWithData(TraceToolStart, &span, map[string]string{"tool": toolName})
	result, err := tool.Execute(ev.ctx, &argsRec)
	ev.emitWithData(TraceToolEnd, &span, map[string]string{"tool": toolName})

	if err != nil {
		var sig *Signal
		switch {
		case errors.As(err, &sig):
			return nil, locate(sig, &span)
		case Classify(err) == SeverityStatic:
			return nil, NewSignal(SeverityStatic, CodeCancelled, &span, err.Error())
		default:
			return nil, Raise(SeverityDynamic, CodeToolFailed, &span, "tool '%s' error: %s", toolName, err.Error())
		}
	}
	if result == nil {
		result = NewNull()
	}
	if err := ev.trackBytesWritten(result, &span); err != nil {
		return nil, err
	}
	return result, nil
}

// locate returns sig with a source location. A signal created without one
// (by a builtin or tool) is copied; a located signal is returned as is.
func locate(sig *Signal, span *ast.Span) *Signal {
	if sig.Span != nil || span == nil {
		return sig
	}
	located := NewSignal(sig.Severity, sig.Code, span, sig.Description)
	located.Value = sig.Value
	return located
}

func (ev *evaluator) evalFnCallExpr(e *ast.FnCallExpr, env *Env) (Value, error) {
	fnName := strings.Join(e.Name.Parts, ".")
	span := e.Span

	argsRec, err := ev.evalRecord(e.Args, env)
	if err != nil {
		return nil, err
	}

	if uf, ok := env.lookupFn(fnName); ok {
		if err := ev.enterCall(&span); err != nil {
			return nil, err
		}
		defer ev.exitCall()
		ev.emitWithData(TraceFnCallStart, &span, map[string]string{"fn": fnName})
		childEnv := uf.closure.Child()
		for _, param := range uf.decl.Params {
			val, found := argsRec.Get(param)
			if !found {
				val = NewNull()
			}
			childEnv.Set(param, val)
		}
		result, err := ev.executeBlock(uf.decl.Body, childEnv)
		ev.emitWithData(TraceFnCallEnd, &span, map[string]string{"fn": fnName})
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	switch fnName {
	case "error":
		return nil, ev.evalErrorCall(&argsRec, &span)
	case "doc":
		return ev.evalDocCall(&argsRec, &span)
	case "id":
		return ev.evalIDCall(&argsRec, &span)
	case "map":
		return ev.evalMapCall(&argsRec, env, &span)
	case "reduce":
		return ev.evalReduceCall(&argsRec, env, &span)
	}

	if stdFn, ok := ev.opts.Stdlib[fnName]; ok {
		ev.emitWithData(TraceFnCallStart, &span, map[string]string{"fn": fnName})
		result, err := stdFn.Execute(&argsRec)
		ev.emitWithData(TraceFnCallEnd, &span, map[string]string{"fn": fnName})
		if err != nil {
			var sig *Signal
			if errors.As(err, &sig) {
				return nil, locate(sig, &span)
			}
			return nil, Raise(SeverityDynamic, CodeUser, &span, "%s: %s", fnName, err.Error())
		}
		if result == nil {
			result = NewNull()
		}
		return result, nil
	}

	return nil, Raise(SeverityStatic, CodeUnknownFn, &span, "unknown function '%s'", fnName)
}

// evalErrorCall implements error { code?, description?, value? }. The code
// is a qname value or a lexical name resolved against the namespace table.
func (ev *evaluator) evalErrorCall(args *Record, span *ast.Span) error {
	code := CodeUser
	if v, ok := args.Get("code"); ok {
		switch c := v.(type) {
		case Null:
		case QName:
			code = c.Name
		case String:
			q, err := ev.ns.Resolve(c.Value)
			if err != nil {
				var unbound *names.UnboundPrefixError
				if errors.As(err, &unbound) {
					return Raise(SeverityDynamic, CodeNoNamespace, span, "no namespace bound to prefix '%s'", unbound.Prefix)
				}
				return Raise(SeverityDynamic, CodeInvalidQName, span, "invalid error code '%s'", c.Value)
			}
			code = q
		default:
			return Raise(SeverityType, CodeType, span, "error code must be a qname or string, got %s", TypeName(v))
		}
	}

	description := ""
	if v, ok := args.Get("description"); ok {
		description = StringValue(v)
	}

	var value []Value
	if v, ok := args.Get("value"); ok {
		if list, isList := v.(List); isList {
			value = list.Items
		} else {
			value = []Value{v}
		}
	}

	return NewSignal(SeverityDynamic, code, span, description).WithValue(value...)
}

// evalDocCall implements doc { uri }: the document is fetched through the
// configured loader and parsed as JSON.
func (ev *evaluator) evalDocCall(args *Record, span *ast.Span) (Value, error) {
	uriVal, _ := args.Get("uri")
	uri, ok := uriVal.(String)
	if !ok {
		return nil, Raise(SeverityType, CodeType, span, "doc requires a string 'uri', got %s", TypeName(orNull(uriVal)))
	}
	if ev.opts.Documents == nil {
		return nil, Raise(SeverityDynamic, CodeDocument, span, "cannot retrieve '%s': no document store configured", uri.Value)
	}
	data, err := ev.opts.Documents.Load(ev.ctx, uri.Value)
	if err != nil {
		if Classify(err) == SeverityStatic {
			return nil, NewSignal(SeverityStatic, CodeCancelled, span, err.Error())
		}
		return nil, Raise(SeverityDynamic, CodeDocument, span, "cannot retrieve '%s': %s", uri.Value, err.Error()).
			WithValue(uri)
	}
	doc, err := ParseJSONToValue(data)
	if err != nil {
		return nil, Raise(SeverityDynamic, CodeDocument, span, "document '%s' is not valid JSON: %s", uri.Value, err.Error()).
			WithValue(uri)
	}
	return doc, nil
}

// evalIDCall implements id { value }. With ID validation enabled the value
// must be an NCName.
func (ev *evaluator) evalIDCall(args *Record, span *ast.Span) (Value, error) {
	v, _ := args.Get("value")
	s, ok := v.(String)
	if !ok {
		return nil, Raise(SeverityType, CodeType, span, "id requires a string 'value', got %s", TypeName(orNull(v)))
	}
	if ev.opts.ValidateIDs && !names.IsNCName(s.Value) {
		return nil, Raise(SeverityDynamic, CodeInvalidID, span, "'%s' is not a valid ID", s.Value).WithValue(s)
	}
	return s, nil
}

func orNull(v Value) Value {
	if v == nil {
		return NewNull()
	}
	return v
}

// lookupFnArg resolves the function named by the fn field. The name is a
// runtime value, so an unknown name is a dynamic failure.
func (ev *evaluator) lookupFnArg(args *Record, env *Env, span *ast.Span, builtin string) (*userFn, List, error) {
	listVal, _ := args.Get("in")
	list, ok := listVal.(List)
	if !ok {
		return nil, List{}, Raise(SeverityType, CodeType, span, "%s requires a list 'in', got %s", builtin, TypeName(orNull(listVal)))
	}
	fnVal := orNull(field(args, "fn"))
	s, ok := fnVal.(String)
	if !ok {
		return nil, List{}, Raise(SeverityType, CodeType, span, "%s requires a string 'fn', got %s", builtin, TypeName(fnVal))
	}
	uf, found := env.lookupFn(s.Value)
	if !found {
		return nil, List{}, Raise(SeverityDynamic, CodeNoFunction, span, "no function named '%s' is in scope", s.Value).
			WithValue(s)
	}
	return uf, list, nil
}

// field returns the value of key, or nil when r has no such field.
func field(r *Record, key string) Value {
	v, _ := r.Get(key)
	return v
}

// evalMapCall implements map { in, fn }: the named function is applied to
// each item.
func (ev *evaluator) evalMapCall(args *Record, env *Env, span *ast.Span) (Value, error) {
	uf, list, err := ev.lookupFnArg(args, env, span, "map")
	if err != nil {
		return nil, err
	}

	if err := ev.enterCall(span); err != nil {
		return nil, err
	}
	defer ev.exitCall()

	ev.emit(TraceMapStart, span)
	results := make([]Value, 0, len(list.Items))
	for _, item := range list.Items {
		if err := ev.checkIterationBudget(span); err != nil {
			return nil, err
		}
		result, err := ev.executeBlock(uf.decl.Body, ev.bindFnParams(uf, item))
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	ev.emit(TraceMapEnd, span)
	return NewList(results), nil
}

// evalReduceCall implements reduce { in, init, fn }: the named function
// receives the accumulator and the item positionally.
func (ev *evaluator) evalReduceCall(args *Record, env *Env, span *ast.Span) (Value, error) {
	uf, list, err := ev.lookupFnArg(args, env, span, "reduce")
	if err != nil {
		return nil, err
	}

	if err := ev.enterCall(span); err != nil {
		return nil, err
	}
	defer ev.exitCall()

	ev.emit(TraceReduceStart, span)
	acc := orNull(field(args, "init"))
	for _, item := range list.Items {
		if err := ev.checkIterationBudget(span); err != nil {
			return nil, err
		}
		childEnv := uf.closure.Child()
		if len(uf.decl.Params) >= 1 {
			childEnv.Set(uf.decl.Params[0], acc)
		}
		if len(uf.decl.Params) >= 2 {
			childEnv.Set(uf.decl.Params[1], item)
		}
		result, err := ev.executeBlock(uf.decl.Body, childEnv)
		if err != nil {
			return nil, err
		}
		acc = result
	}
	ev.emit(TraceReduceEnd, span)
	return acc, nil
}

// bindFnParams creates a child env from a user function's closure and binds
// item to its parameters. A single parameter receives the item; several
// parameters destructure a record item by name.
func (ev *evaluator) bindFnParams(uf *userFn, item Value) *Env {
	childEnv := uf.closure.Child()
	if len(uf.decl.Params) == 1 {
		childEnv.Set(uf.decl.Params[0], item)
		return childEnv
	}
	rec, isRecord := item.(Record)
	for i, param := range uf.decl.Params {
		switch {
		case isRecord:
			val, found := rec.Get(param)
			if !found {
				val = NewNull()
			}
			childEnv.Set(param, val)
		case i == 0:
			childEnv.Set(param, item)
		default:
			childEnv.Set(param, NewNull())
		}
	}
	return childEnv
}
