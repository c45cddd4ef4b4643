// Package validator implements semantic validation of guarded-evaluation
// programs. Every diagnostic it reports is a static failure: the program is
// rejected before evaluation and no catch clause can intercept it.
package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/thomasrohde/guardeval/pkg/ast"
	"github.com/thomasrohde/guardeval/pkg/diagnostics"
	"github.com/thomasrohde/guardeval/pkg/names"
)

var knownCapabilities = map[string]bool{
	"fs.read":  true,
	"fs.write": true,
	"http.get": true,
}

type toolInfo struct {
	mode         string // "read" or "effect"
	capabilityID string
}

var knownTools = map[string]toolInfo{
	"fs.read":   {mode: "read", capabilityID: "fs.read"},
	"fs.write":  {mode: "effect", capabilityID: "fs.write"},
	"fs.list":   {mode: "read", capabilityID: "fs.read"},
	"fs.exists": {mode: "read", capabilityID: "fs.read"},
	"http.get":  {mode: "read", capabilityID: "http.get"},
}

var knownStdlib = map[string]bool{
	"eq": true, "not": true, "and": true, "or": true, "coalesce": true, "typeof": true,
	"len": true, "append": true, "concat": true, "sort": true, "find": true,
	"range": true, "join": true, "unique": true, "flat": true, "contains": true,
	"get": true, "put": true, "keys": true, "values": true, "merge": true, "entries": true,
	"math.max": true, "math.min": true,
	"str.concat": true, "str.split": true, "str.starts": true, "str.ends": true,
	"str.replace": true,
	"qname": true, "qname.local": true, "qname.prefix": true, "qname.uri": true,
	"string": true, "int": true, "date": true, "treat": true,
	"parse.json": true, "map": true, "reduce": true,
	"error": true, "doc": true, "id": true,
}

var knownBudgetFields = map[string]bool{
	"timeMs":          true,
	"maxToolCalls":    true,
	"maxBytesWritten": true,
	"maxIterations":   true,
	"maxDepth":        true,
}

// KnownFunction reports whether name is a builtin function the validator
// accepts without a matching fn declaration.
func KnownFunction(name string) bool {
	return knownStdlib[name]
}

type scope struct {
	bindings map[string]bool
	fns      map[string]bool
	parent   *scope
}

func newScope(parent *scope) *scope {
	return &scope{bindings: make(map[string]bool), fns: make(map[string]bool), parent: parent}
}

// hasFn reports whether a fn declaration named name is visible from s.
func (s *scope) hasFn(name string) bool {
	for sc := s; sc != nil; sc = sc.parent {
		if sc.fns[name] {
			return true
		}
	}
	return false
}

func (s *scope) has(name string) bool {
	if s.bindings[name] {
		return true
	}
	if s.parent != nil {
		return s.parent.has(name)
	}
	return false
}

func (s *scope) add(name string) {
	s.bindings[name] = true
}

func (s *scope) hasLocal(name string) bool {
	return s.bindings[name]
}

type validator struct {
	diags        []diagnostics.Diagnostic
	declaredCaps map[string]bool
	scope        *scope
	ns           *names.Namespaces
	handlers     int // depth of enclosing catch clause bodies
}

// Option configures a validation run.
type Option func(*validator)

// WithNamespaces seeds the prefix table that ns headers extend. The table is
// copied; the caller's value is not modified.
func WithNamespaces(ns *names.Namespaces) Option {
	return func(v *validator) {
		if ns != nil {
			v.ns = ns.Clone()
		}
	}
}

// Validate performs semantic analysis on a program and returns diagnostics.
func Validate(program *ast.Program, opts ...Option) []diagnostics.Diagnostic {
	v := &validator{
		declaredCaps: make(map[string]bool),
		scope:        newScope(nil),
		ns:           names.DefaultNamespaces(),
	}
	for _, opt := range opts {
		opt(v)
	}

	v.validateHeaders(program)
	v.validateStatements(program.Statements, v.scope)

	return v.diags
}

func (v *validator) addDiag(code, msg string, span *ast.Span) {
	v.diags = append(v.diags, diagnostics.MakeDiag(code, msg, span, ""))
}

func (v *validator) addHint(code, msg string, span *ast.Span, hint string) {
	v.diags = append(v.diags, diagnostics.MakeDiag(code, msg, span, hint))
}

func (v *validator) validateHeaders(program *ast.Program) {
	budgetCount := 0

	for _, h := range program.Headers {
		switch hdr := h.(type) {
		case *ast.CapDecl:
			v.validateCapDecl(hdr)
		case *ast.BudgetDecl:
			budgetCount++
			if budgetCount > 1 {
				span := hdr.Span
				v.addDiag(diagnostics.EBadHeader, "duplicate budget declaration", &span)
			}
			v.validateBudgetDecl(hdr)
		case *ast.NsDecl:
			v.validateNsDecl(hdr)
		}
	}
}

func (v *validator) validateCapDecl(decl *ast.CapDecl) {
	for _, entry := range decl.Capabilities.Pairs {
		pair, ok := entry.(*ast.RecordPair)
		if !ok {
			continue
		}
		if !knownCapabilities[pair.Key] {
			span := pair.Span
			v.addDiag(diagnostics.EUnknownCap, fmt.Sprintf("unknown capability '%s'", pair.Key), &span)
		}
		if _, ok := pair.Value.(*ast.BoolLiteral); !ok {
			span := pair.Span
			v.addDiag(diagnostics.EBadHeader, fmt.Sprintf("capability '%s' value must be a boolean", pair.Key), &span)
		}
		v.declaredCaps[pair.Key] = true
	}
}

func (v *validator) validateBudgetDecl(decl *ast.BudgetDecl) {
	for _, entry := range decl.Budget.Pairs {
		pair, ok := entry.(*ast.RecordPair)
		if !ok {
			continue
		}
		if !knownBudgetFields[pair.Key] {
			span := pair.Span
			v.addDiag(diagnostics.EUnknownBudget, fmt.Sprintf("unknown budget field '%s'", pair.Key), &span)
		}
		switch pair.Value.(type) {
		case *ast.IntLiteral, *ast.FloatLiteral:
		default:
			span := pair.Span
			v.addDiag(diagnostics.EBadHeader, fmt.Sprintf("budget field '%s' must be a number", pair.Key), &span)
		}
	}
}

// validateNsDecl checks prefix bindings and adds them to the table so later
// catch clauses and context variables resolve against them.
func (v *validator) validateNsDecl(decl *ast.NsDecl) {
	for _, entry := range decl.Bindings.Pairs {
		pair, ok := entry.(*ast.RecordPair)
		if !ok {
			span := entry.NodeSpan()
			v.addDiag(diagnostics.EBadNamespace, "spread is not allowed in a namespace declaration", &span)
			continue
		}
		span := pair.Span
		if !names.IsNCName(pair.Key) {
			v.addDiag(diagnostics.EBadNamespace, fmt.Sprintf("invalid namespace prefix '%s'", pair.Key), &span)
			continue
		}
		lit, ok := pair.Value.(*ast.StrLiteral)
		if !ok {
			v.addDiag(diagnostics.EBadNamespace, fmt.Sprintf("namespace '%s' must be bound to a string literal", pair.Key), &span)
			continue
		}
		if lit.Value == "" {
			v.addDiag(diagnostics.EBadNamespace, fmt.Sprintf("namespace '%s' must not be bound to an empty URI", pair.Key), &span)
			continue
		}
		v.ns.Bind(pair.Key, lit.Value)
	}
}

func (v *validator) validateStatements(stmts []ast.Stmt, sc *scope) {
	for i, stmt := range stmts {
		if _, ok := stmt.(*ast.ReturnStmt); ok && i != len(stmts)-1 {
			span := stmt.NodeSpan()
			v.addDiag(diagnostics.EReturnNotLast, "return must be the last statement", &span)
		}
	}

	// First pass: collect fn declarations so calls in the same block may
	// precede them. They are not visible outside the block.
	for _, stmt := range stmts {
		if fn, ok := stmt.(*ast.FnDecl); ok {
			span := fn.Span
			switch {
			case sc.fns[fn.Name]:
				v.addDiag(diagnostics.EFnDup, fmt.Sprintf("duplicate function '%s'", fn.Name), &span)
			case knownStdlib[fn.Name]:
				v.addDiag(diagnostics.EFnDup, fmt.Sprintf("function '%s' conflicts with a builtin", fn.Name), &span)
			default:
				sc.fns[fn.Name] = true
			}
			sc.add(fn.Name)
		}
	}

	for _, stmt := range stmts {
		v.validateStmt(stmt, sc)
	}
}

func (v *validator) validateStmt(stmt ast.Stmt, sc *scope) {
	switch s := stmt.(type) {
	case *ast.LetStmt:
		if sc.hasLocal(s.Name) {
			span := s.Span
			v.addDiag(diagnostics.EDupBinding, fmt.Sprintf("duplicate binding '%s'", s.Name), &span)
		}
		v.validateExpr(s.Value, sc)
		if s.Type != "" {
			v.validateDeclaredType(s)
		}
		sc.add(s.Name)

	case *ast.ExprStmt:
		v.validateExpr(s.Expr, sc)
		if s.Target != nil {
			name := s.Target.Parts[0]
			if sc.hasLocal(name) {
				span := s.Target.Span
				v.addDiag(diagnostics.EDupBinding, fmt.Sprintf("duplicate binding '%s'", name), &span)
			}
			sc.add(name)
		}

	case *ast.ReturnStmt:
		v.validateExpr(s.Value, sc)

	case *ast.FnDecl:
		childScope := newScope(sc)
		for _, param := range s.Params {
			childScope.add(param)
		}
		v.validateStatements(s.Body, childScope)
	}
}

// validateDeclaredType checks the type name of `let x as T` and, when the
// bound expression is a literal, that the literal conforms to T.
func (v *validator) validateDeclaredType(s *ast.LetStmt) {
	span := s.Span
	if !ast.TypeNames[s.Type] {
		v.addDiag(diagnostics.EUnknownType, fmt.Sprintf("unknown type '%s'", s.Type), &span)
		return
	}
	actual, ok := literalType(s.Value)
	if !ok {
		return
	}
	if !literalConforms(actual, s.Value, s.Type) {
		v.addDiag(diagnostics.EType,
			fmt.Sprintf("%s literal cannot be bound to '%s' declared as %s", actual, s.Name, s.Type), &span)
	}
}

func literalType(expr ast.Expr) (string, bool) {
	switch expr.(type) {
	case *ast.IntLiteral:
		return "integer", true
	case *ast.FloatLiteral:
		return "number", true
	case *ast.BoolLiteral:
		return "bool", true
	case *ast.StrLiteral:
		return "string", true
	case *ast.NullLiteral:
		return "null", true
	case *ast.ListExpr:
		return "list", true
	case *ast.RecordExpr:
		return "record", true
	}
	return "", false
}

func literalConforms(actual string, expr ast.Expr, declared string) bool {
	switch declared {
	case "any", actual:
		return true
	case "number":
		return actual == "integer"
	case "integer":
		if f, ok := expr.(*ast.FloatLiteral); ok {
			return f.Value == float64(int64(f.Value))
		}
	}
	return false
}

func (v *validator) validateExpr(expr ast.Expr, sc *scope) {
	if expr == nil {
		return
	}

	switch e := expr.(type) {
	case *ast.IntLiteral, *ast.FloatLiteral, *ast.BoolLiteral, *ast.StrLiteral, *ast.NullLiteral:

	case *ast.IdentPath:
		name := e.Parts[0]
		if !sc.has(name) {
			span := e.Span
			v.addDiag(diagnostics.EUndefinedName, fmt.Sprintf("unbound variable '%s'", name), &span)
		}

	case *ast.ContextVar:
		v.validateContextVar(e)

	case *ast.RecordExpr:
		for _, entry := range e.Pairs {
			switch p := entry.(type) {
			case *ast.RecordPair:
				v.validateExpr(p.Value, sc)
			case *ast.SpreadPair:
				v.validateExpr(p.Expr, sc)
			}
		}

	case *ast.ListExpr:
		for _, elem := range e.Elements {
			v.validateExpr(elem, sc)
		}

	case *ast.BinaryExpr:
		v.validateExpr(e.Left, sc)
		v.validateExpr(e.Right, sc)

	case *ast.UnaryExpr:
		v.validateExpr(e.Operand, sc)

	case *ast.IfExpr:
		v.validateExpr(e.Cond, sc)
		v.validateExpr(e.Then, sc)
		v.validateExpr(e.Else, sc)

	case *ast.IfBlockExpr:
		v.validateExpr(e.Cond, sc)
		v.validateStatements(e.ThenBody, newScope(sc))
		if e.ElseBody != nil {
			v.validateStatements(e.ElseBody, newScope(sc))
		}

	case *ast.ForExpr:
		v.validateExpr(e.List, sc)
		childScope := newScope(sc)
		childScope.add(e.Binding)
		v.validateStatements(e.Body, childScope)

	case *ast.TryExpr:
		v.validateTryExpr(e, sc)

	case *ast.CallExpr:
		toolName := strings.Join(e.Tool.Parts, ".")
		v.validateToolUsage(toolName, "call?", &e.Span)
		v.validateExpr(e.Args, sc)

	case *ast.DoExpr:
		toolName := strings.Join(e.Tool.Parts, ".")
		v.validateToolUsage(toolName, "do", &e.Span)
		v.validateExpr(e.Args, sc)

	case *ast.FnCallExpr:
		fnName := strings.Join(e.Name.Parts, ".")
		if !knownStdlib[fnName] && !sc.hasFn(fnName) {
			span := e.Span
			if _, ok := knownTools[fnName]; ok {
				v.addHint(diagnostics.EUnknownFn, fmt.Sprintf("unknown function '%s'", fnName), &span,
					"tools are invoked with call? or do")
			} else {
				v.addDiag(diagnostics.EUnknownFn, fmt.Sprintf("unknown function '%s'", fnName), &span)
			}
		}
		switch fnName {
		case "treat":
			v.validateTreatType(e.Args)
		case "map", "reduce":
			v.validateFnArg(fnName, e.Args, sc)
		}
		v.validateExpr(e.Args, sc)
	}
}

// validateTryExpr checks the guard and every clause. Clause prefixes are
// resolved here so a clause naming an unbound prefix never reaches dispatch.
func (v *validator) validateTryExpr(e *ast.TryExpr, sc *scope) {
	v.validateStatements(e.Guard, newScope(sc))

	for _, clause := range e.Clauses {
		for _, test := range clause.Tests {
			if test.URIQualified || test.Prefix == "" || test.Prefix == ast.Wildcard {
				continue
			}
			if _, ok := v.ns.Lookup(test.Prefix); !ok {
				span := test.Span
				v.addDiag(diagnostics.EUnboundPrefix,
					fmt.Sprintf("no namespace bound to prefix '%s' in catch clause", test.Prefix), &span)
			}
		}
		v.handlers++
		v.validateStatements(clause.Body, newScope(sc))
		v.handlers--
	}
}

func (v *validator) validateContextVar(e *ast.ContextVar) {
	span := e.Span
	q, err := v.ns.Resolve(e.Name)
	if err != nil {
		var unbound *names.UnboundPrefixError
		if errors.As(err, &unbound) {
			v.addDiag(diagnostics.EUnboundPrefix, fmt.Sprintf("no namespace bound to prefix '%s'", unbound.Prefix), &span)
			return
		}
		v.addDiag(diagnostics.EUndefinedName, fmt.Sprintf("undefined variable '$%s'", e.Name), &span)
		return
	}
	if !names.IsContextVar(q) {
		v.addDiag(diagnostics.EUndefinedName, fmt.Sprintf("undefined variable '$%s'", e.Name), &span)
		return
	}
	if v.handlers == 0 {
		v.addHint(diagnostics.EUndefinedName, fmt.Sprintf("variable '$%s' is not in scope", e.Name), &span,
			"error-context variables are only bound inside a catch clause")
	}
}

func (v *validator) validateTreatType(args *ast.RecordExpr) {
	for _, entry := range args.Pairs {
		pair, ok := entry.(*ast.RecordPair)
		if !ok || pair.Key != "as" {
			continue
		}
		if lit, ok := pair.Value.(*ast.StrLiteral); ok && !ast.TypeNames[lit.Value] {
			span := pair.Span
			v.addDiag(diagnostics.EUnknownType, fmt.Sprintf("unknown type '%s'", lit.Value), &span)
		}
	}
}

// validateFnArg checks a literal fn name passed to map or reduce. Computed
// names are resolved at run time.
func (v *validator) validateFnArg(builtin string, args *ast.RecordExpr, sc *scope) {
	for _, entry := range args.Pairs {
		pair, ok := entry.(*ast.RecordPair)
		if !ok || pair.Key != "fn" {
			continue
		}
		if lit, ok := pair.Value.(*ast.StrLiteral); ok && !sc.hasFn(lit.Value) {
			span := pair.Span
			v.addDiag(diagnostics.EUnknownFn, fmt.Sprintf("%s: unknown function '%s'", builtin, lit.Value), &span)
		}
	}
}

func (v *validator) validateToolUsage(toolName, mode string, span *ast.Span) {
	info, known := knownTools[toolName]
	if !known {
		v.addDiag(diagnostics.EUnknownTool, fmt.Sprintf("unknown tool '%s'", toolName), span)
		return
	}

	if mode == "call?" && info.mode == "effect" {
		v.addDiag(diagnostics.ECallEffect, fmt.Sprintf("cannot use call? on effect tool '%s'; use do instead", toolName), span)
		return
	}

	capID := info.capabilityID
	if !v.declaredCaps[capID] {
		v.addDiag(diagnostics.EUndeclaredCap, fmt.Sprintf("capability '%s' not declared (required by tool '%s')", capID, toolName), span)
	}
}
