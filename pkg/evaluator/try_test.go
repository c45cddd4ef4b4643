package evaluator_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/guardeval/pkg/ast"
	"github.com/thomasrohde/guardeval/pkg/evaluator"
	"github.com/thomasrohde/guardeval/pkg/names"
	"github.com/thomasrohde/guardeval/pkg/parser"
)

const exampleNS = `ns { ex: "http://example.com/" }
`

func mustValue(t *testing.T, src string) evaluator.Value {
	t.Helper()
	res, err := run(t, src)
	require.NoError(t, err)
	return res.Value
}

func TestTry_NoErrorReturnsGuardValue(t *testing.T) {
	v := mustValue(t, `return try { 1 + 2 } catch * { "unreachable" }`)
	assert.Equal(t, evaluator.NewNumber(3), v)
}

func TestTry_ClauseSelection(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"wildcard catches division by zero", `
return try { 1 / 0 } catch * { "Division by zero" }`, "Division by zero"},
		{"exact match after unrelated clause", `
return try { 1 / 0 }
  catch err:XQST0081 { "A" }
  catch err:FOAR0001 { "B" }`, "B"},
		{"local wildcard matches, namespace wildcard does not", `
return try { 1 / 0 }
  catch xs:* { "B" }
  catch *:FOAR0001 { "A" }`, "A"},
		{"order of simultaneous matches decides", `
return try { 1 / 0 }
  catch err:* { "namespace" }
  catch *:FOAR0001 { "local" }`, "namespace"},
		{"same code twice, first wins", `
return try { 1 / 0 }
  catch err:FOAR0001 { "first" }
  catch err:FOAR0001 { "second" }`, "first"},
		{"union of tests", `
return try { 1 + "a" }
  catch err:FOAR0001 | err:XPTY0004 { "union" }
  catch * { "any" }`, "union"},
		{"URI-qualified exact", `
return try { 1 / 0 } catch Q{http://www.w3.org/2005/xqt-errors}FOAR0001 { "eq" }`, "eq"},
		{"URI-qualified wildcard", `
return try { 1 / 0 } catch Q{http://www.w3.org/2005/xqt-errors}* { "ns" }`, "ns"},
		{"user prefix bound by ns header", exampleNS + `
return try { error { code: "ex:fail" } } catch ex:fail { "mine" }`, "mine"},
		{"prefix is not significant", exampleNS + `
ns { other: "http://example.com/" }
return try { error { code: "ex:fail" } } catch other:fail { "same uri" }`, "same uri"},
		{"unprefixed test matches no-namespace code", `
return try { error { code: "plain" } } catch err:plain { "err" } catch plain { "none" }`, "none"},
		{"type failure is catchable", `
return try { let n as integer = 1.5 } catch err:XPTY0004 { "type" }`, "type"},
		{"unbound variable at runtime is dynamic", `
return try { missing } catch err:XPDY0002 { "unbound" }`, "unbound"},
		{"tool failure", `
return try { call? broken.tool {} } catch g:TOOL_FAILED { "tool" }`, "tool"},
		{"unknown namespace in error code", `
return try { error { code: "zz:x" } } catch err:FONS0004 { "nons" }`, "nons"},
		{"treat mismatch", `
return try { treat { value: "s", as: "number" } } catch err:XPDY0050 { "treat" }`, "treat"},
		{"treat with computed unknown type", `
let t = str.concat { parts: ["dec", "imal"] }
return try { treat { value: 1, as: t } } catch g:UNKNOWN_TYPE { "type name" }`, "type name"},
		{"invalid date cast", `
return try { date { value: "2013-02-29" } } catch err:FORG0001 { "cast" }`, "cast"},
		{"default user error code", `
return try { error {} } catch err:FOER0000 { "user" }`, "user"},
		{"catch in for body", `
return join { in: for { in: [1, 0, 2], as: "d" } {
  try { 10 / d } catch * { "inf" }
}, sep: "," }`, "10,inf,5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultOpts()
			opts.Tools = map[string]*evaluator.ToolDef{
				"broken.tool": mockTool("broken.tool", nil, fmt.Errorf("disk on fire")),
			}
			res, err := runWith(t, tt.src, opts)
			require.NoError(t, err)
			expectString(t, res.Value, tt.want)
		})
	}
}

func TestTry_StaticSignalsAreNotCaught(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code names.QName
	}{
		{"unknown function", `return try { nope {} } catch * { "x" }`, evaluator.CodeUnknownFn},
		{"unknown tool", `return try { call? no.such {} } catch * { "x" }`, evaluator.CodeUnknownTool},
		{"unknown declared type", `return try { let n as decimal = 1 } catch * { "x" }`, evaluator.CodeUnknownType},
		{"context variable outside handler", `return try { $err:code } catch * { "x" }`, evaluator.CodeUndefinedName},
		{"budget", `budget { maxIterations: 1 }
return try { for { in: [1, 2], as: "n" } { n } } catch * { "x" }`, evaluator.CodeBudget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.src)
			expectSignal(t, err, tt.code, evaluator.SeverityStatic)
		})
	}
}

func TestTry_UnboundPrefixInClauseIsStaticEvenWhenGuardSucceeds(t *testing.T) {
	_, err := run(t, `return try { 1 } catch zz:foo { 2 }`)
	sig := expectSignal(t, err, evaluator.CodeUnboundPrefix, evaluator.SeverityStatic)
	assert.Equal(t, 1, sig.Line)
	assert.Equal(t, 24, sig.Column)
}

func TestTry_PropagatesSamePointer(t *testing.T) {
	span := ast.Span{File: "tool.gq", StartLine: 7, StartCol: 3}
	static := evaluator.NewSignal(evaluator.SeverityStatic, names.GuardCode("HALT"), &span, "halt")
	dynamic := evaluator.NewSignal(evaluator.SeverityDynamic, names.NewQName("", "urn:app", "oops"), &span, "oops")

	opts := defaultOpts()
	opts.Tools = map[string]*evaluator.ToolDef{
		"t.static":  mockTool("t.static", nil, static),
		"t.dynamic": mockTool("t.dynamic", nil, dynamic),
	}

	_, err := runWith(t, `return try { call? t.static {} } catch * { "caught" }`, opts)
	var sig *evaluator.Signal
	require.True(t, errors.As(err, &sig))
	assert.Same(t, static, sig, "static signals propagate unchanged")

	_, err = runWith(t, `
return try {
  try { call? t.dynamic {} } catch err:* { "inner" }
} catch err:FOAR0001 { "outer" }`, opts)
	require.True(t, errors.As(err, &sig))
	assert.Same(t, dynamic, sig, "unmatched signals propagate unchanged")
	assert.Equal(t, "tool.gq:7:3", sig.Location())
}

func TestTry_HandlerFailureIsNotOfferedToSiblings(t *testing.T) {
	_, err := run(t, `
return try { 1 / 0 }
  catch err:FOAR0001 { error { code: "err:XPTY0004", description: "from handler" } }
  catch err:XPTY0004 { "sibling" }
  catch * { "any" }`)
	sig := expectSignal(t, err, evaluator.CodeType, evaluator.SeverityDynamic)
	assert.Equal(t, "from handler", sig.Description)

	// An enclosing try does see it.
	v := mustValue(t, `
return try {
  try { 1 / 0 } catch err:FOAR0001 { error { code: "err:XPTY0004" } }
} catch err:XPTY0004 { "outer" }`)
	expectString(t, v, "outer")
}

func TestTry_ErrorContextBindings(t *testing.T) {
	src := exampleNS + `try {
  error { code: "ex:fail", description: "boom", value: [1, "two"] }
} catch ex:* {
  return {
    code: string { value: $err:code },
    uri: qname.uri { in: $err:code },
    description: $err:description,
    value: $err:value,
    module: $err:module,
    line: $err:line-number,
    column: $err:column-number,
    eq: $Q{http://www.w3.org/2005/xqt-errors}code == $err:code
  }
}`
	rec := mustValue(t, src).(evaluator.Record)
	want := `{"code":"ex:fail","uri":"http://example.com/","description":"boom","value":[1,"two"],` +
		`"module":"test.gq","line":3,"column":3,"eq":true}`
	assert.Equal(t, want, evaluator.ValueToJSONString(rec))
}

func TestTry_ErrorContextDefaults(t *testing.T) {
	rec := mustValue(t, `
return try { error { code: "err:FOER0000" } } catch * {
  { description: $err:description, value: $err:value }
}`).(evaluator.Record)
	assert.Equal(t, `{"description":null,"value":[]}`, evaluator.ValueToJSONString(rec))

	v := mustValue(t, `
return try { error { value: 5 } } catch * { $err:value }`)
	assert.Equal(t, `[5]`, evaluator.ValueToJSONString(v))
}

func TestTry_ErrorCodeAsQNameValue(t *testing.T) {
	v := mustValue(t, `
let code = qname { uri: "urn:app", name: "app:bad" }
return try { error { code: code } } catch Q{urn:app}bad { string { value: $err:code } }`)
	expectString(t, v, "app:bad")
}

func TestTry_NestedContexts(t *testing.T) {
	// The inner handler owns its signal; the outer clause sees only what escapes.
	v := mustValue(t, `
fn risky { x } {
  return try { 10 / x } catch err:FOAR0001 { -1 }
}
return try { risky { x: 0 } } catch * { "outer saw it" }`)
	expectNumber(t, v, -1)

	rec := mustValue(t, `
return try { 1 / 0 } catch * {
  let inner = try { 1 + "a" } catch * { string { value: $err:code } }
  return { inner: inner, outer: string { value: $err:code } }
}`).(evaluator.Record)
	assert.Equal(t, `{"inner":"err:XPTY0004","outer":"err:FOAR0001"}`, evaluator.ValueToJSONString(rec))
}

func TestTry_ContextIsLexical(t *testing.T) {
	// A function declared outside the handler cannot see its context.
	_, err := run(t, `
fn describe {} {
  return $err:description
}
return try { 1 / 0 } catch * { describe {} }`)
	expectSignal(t, err, evaluator.CodeUndefinedName, evaluator.SeverityStatic)

	// One declared inside the handler can.
	v := mustValue(t, `
return try { 1 / 0 } catch * {
  fn describe {} {
    return $err:description
  }
  describe {}
}`)
	expectString(t, v, "division by zero")
}

func TestTry_ContextNotVisibleAfterHandler(t *testing.T) {
	_, err := run(t, `
let r = try { 1 / 0 } catch * { 1 }
return $err:code`)
	expectSignal(t, err, evaluator.CodeUndefinedName, evaluator.SeverityStatic)
}

func TestTry_GuardBindingsDoNotLeak(t *testing.T) {
	_, err := run(t, `
try { let hidden = 1
  1 / 0 } catch * { hidden }`)
	expectSignal(t, err, evaluator.CodeNoValue, evaluator.SeverityDynamic)
}

func TestTry_Deterministic(t *testing.T) {
	prog, diags := parser.Parse(`
fn attempt { d } {
  return try { 10 / d } catch err:XPTY0004 { "type" } catch err:FOAR0001 { $err:column-number }
}
return [attempt { d: 0 }, attempt { d: 0 }, attempt { d: 2 }]`, "test.gq")
	require.Empty(t, diags)

	var first string
	for i := 0; i < 3; i++ {
		res, err := evaluator.Execute(context.Background(), prog, defaultOpts())
		require.NoError(t, err)
		got := evaluator.ValueToJSONString(res.Value)
		if i == 0 {
			first = got
			continue
		}
		assert.Equal(t, first, got)
	}
	assert.Equal(t, `[16,16,5]`, first)
}

func TestTry_Trace(t *testing.T) {
	var events []evaluator.TraceEvent
	opts := defaultOpts()
	opts.Trace = func(e evaluator.TraceEvent) {
		if e.Event == evaluator.TraceTryStart || e.Event == evaluator.TraceTryEnd ||
			e.Event == evaluator.TraceCatch || e.Event == evaluator.TracePropagate {
			events = append(events, e)
		}
	}

	_, err := runWith(t, `
try { 1 / 0 } catch err:XPTY0004 { 1 } catch err:FOAR0001 | err:FOAR0002 { 2 }
try { nope {} } catch * { 3 }`, opts)
	require.Error(t, err)

	kinds := make([]evaluator.TraceEventType, len(events))
	for i, e := range events {
		kinds[i] = e.Event
	}
	assert.Equal(t, []evaluator.TraceEventType{
		evaluator.TraceTryStart, evaluator.TraceCatch, evaluator.TraceTryEnd,
		evaluator.TraceTryStart, evaluator.TracePropagate, evaluator.TraceTryEnd,
	}, kinds)

	catch := events[1].Data
	require.NotNil(t, catch)
	assert.Equal(t, []string{"clause", "code", "tests"}, catch.Keys())
	clause, _ := catch.Get("clause")
	assert.Equal(t, evaluator.NewString("1"), clause)
	code, _ := catch.Get("code")
	assert.Equal(t, evaluator.NewString("err:FOAR0001"), code)
	tests, _ := catch.Get("tests")
	assert.Equal(t, evaluator.NewString("Q{http://www.w3.org/2005/xqt-errors}FOAR0001 | Q{http://www.w3.org/2005/xqt-errors}FOAR0002"), tests)

	prop := events[4].Data
	require.NotNil(t, prop)
	severity, _ := prop.Get("severity")
	assert.Equal(t, evaluator.NewString("static"), severity)
}

func TestEvaluate_TryExpression(t *testing.T) {
	expr, diags := parser.ParseExpr(`try { 1 / 0 } catch * { $err:description }`, "expr.gq")
	require.Empty(t, diags)

	v, err := evaluator.Evaluate(context.Background(), expr, nil, defaultOpts())
	require.NoError(t, err)
	expectString(t, v, "division by zero")

	expr, diags = parser.ParseExpr(`try { x / 0 } catch err:XPTY0004 { 0 }`, "expr.gq")
	require.Empty(t, diags)
	env := evaluator.NewEnv(nil)
	env.Set("x", evaluator.NewNumber(4))
	_, err = evaluator.Evaluate(context.Background(), expr, env, defaultOpts())
	sig := expectSignal(t, err, evaluator.CodeDivideByZero, evaluator.SeverityDynamic)
	assert.Equal(t, "expr.gq", sig.Module)
}

func TestEvaluate_NamespacesOption(t *testing.T) {
	ns := names.DefaultNamespaces()
	ns.Bind("app", "urn:app")
	opts := defaultOpts()
	opts.Namespaces = ns

	expr, diags := parser.ParseExpr(`try { error { code: "app:bad" } } catch app:* { "bound" }`, "expr.gq")
	require.Empty(t, diags)
	v, err := evaluator.Evaluate(context.Background(), expr, nil, opts)
	require.NoError(t, err)
	expectString(t, v, "bound")
}

type mapLoader map[string]string

func (m mapLoader) Load(ctx context.Context, uri string) ([]byte, error) {
	doc, ok := m[uri]
	if !ok {
		return nil, fmt.Errorf("no document %q", uri)
	}
	return []byte(doc), nil
}

func TestDoc(t *testing.T) {
	opts := defaultOpts()
	opts.Documents = mapLoader{
		"people.json": `{"people": [{"name": "ada"}]}`,
		"broken.json": `{"people": [`,
	}

	res, err := runWith(t, `
let d = doc { uri: "people.json" }
return d.people`, opts)
	require.NoError(t, err)
	assert.Equal(t, `[{"name":"ada"}]`, evaluator.ValueToJSONString(res.Value))

	for _, uri := range []string{"missing.json", "broken.json"} {
		t.Run(uri, func(t *testing.T) {
			res, err := runWith(t, `
return try { doc { uri: "`+uri+`" } } catch err:FODC0002 { $err:value }`, opts)
			require.NoError(t, err)
			assert.Equal(t, `["`+uri+`"]`, evaluator.ValueToJSONString(res.Value))
		})
	}

	_, err = run(t, `return doc { uri: "people.json" }`)
	expectSignal(t, err, evaluator.CodeDocument, evaluator.SeverityDynamic)
}

func TestID(t *testing.T) {
	expectString(t, mustValue(t, `return id { value: "not an id" }`), "not an id")

	opts := defaultOpts()
	opts.ValidateIDs = true
	res, err := runWith(t, `return id { value: "ok-id" }`, opts)
	require.NoError(t, err)
	expectString(t, res.Value, "ok-id")

	res, err = runWith(t, `return try { id { value: "1bad" } } catch err:XQDY0091 { "invalid" }`, opts)
	require.NoError(t, err)
	expectString(t, res.Value, "invalid")
}
