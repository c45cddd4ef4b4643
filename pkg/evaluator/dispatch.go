package evaluator

import (
	"strings"

	"github.com/thomasrohde/guardeval/pkg/ast"
	"github.com/thomasrohde/guardeval/pkg/names"
)

// CatchClause is a catch clause with its name tests resolved against the
// namespace table. A clause matches a code when any of its tests does.
type CatchClause struct {
	Tests []names.NameTest
	Body  []ast.Stmt
	Span  ast.Span
}

// Matches reports whether the clause accepts code.
func (c CatchClause) Matches(code names.QName) bool {
	return names.MatchesAny(c.Tests, code)
}

// CompileNameTest resolves a source name test. An unprefixed local name is in
// no namespace; an unbound prefix is a static XPST0081 signal.
func CompileNameTest(t *ast.NameTest, ns *names.Namespaces) (names.NameTest, error) {
	switch {
	case t.URIQualified && t.Local == ast.Wildcard:
		return names.Namespace(t.URI), nil
	case t.URIQualified:
		return names.Exact(t.URI, t.Local), nil
	case t.Prefix == "" && t.Local == ast.Wildcard:
		return names.Any(), nil
	case t.Prefix == "":
		return names.Exact("", t.Local), nil
	case t.Prefix == ast.Wildcard:
		return names.Local(t.Local), nil
	}

	uri, ok := ns.Lookup(t.Prefix)
	if !ok {
		span := t.Span
		return names.NameTest{}, Raise(SeverityStatic, CodeUnboundPrefix, &span,
			"no namespace bound to prefix '%s' in catch clause", t.Prefix)
	}
	if t.Local == ast.Wildcard {
		return names.Namespace(uri), nil
	}
	return names.Exact(uri, t.Local), nil
}

// CompileClauses resolves every clause of e in source order.
func CompileClauses(e *ast.TryExpr, ns *names.Namespaces) ([]CatchClause, error) {
	if len(e.Clauses) == 0 {
		span := e.Span
		return nil, NewSignal(SeverityStatic, names.ErrCode("XPST0003"), &span, "try expression has no catch clause")
	}
	clauses := make([]CatchClause, 0, len(e.Clauses))
	for _, c := range e.Clauses {
		tests := make([]names.NameTest, 0, len(c.Tests))
		for _, t := range c.Tests {
			nt, err := CompileNameTest(t, ns)
			if err != nil {
				return nil, err
			}
			tests = append(tests, nt)
		}
		clauses = append(clauses, CatchClause{Tests: tests, Body: c.Body, Span: c.Span})
	}
	return clauses, nil
}

// SelectClause returns the index of the first clause that matches the code
// of sig. Later clauses are not consulted once one matches.
func SelectClause(sig *Signal, clauses []CatchClause) (int, bool) {
	for i, c := range clauses {
		if c.Matches(sig.Code) {
			return i, true
		}
	}
	return -1, false
}

// describeClause renders a clause's tests for trace output.
func describeClause(c CatchClause) string {
	parts := make([]string, len(c.Tests))
	for i, t := range c.Tests {
		parts[i] = t.String()
	}
	return strings.Join(parts, " | ")
}
