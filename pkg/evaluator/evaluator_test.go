package evaluator_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/thomasrohde/guardeval/pkg/diagnostics"
	"github.com/thomasrohde/guardeval/pkg/evaluator"
	"github.com/thomasrohde/guardeval/pkg/names"
	"github.com/thomasrohde/guardeval/pkg/parser"
	"github.com/thomasrohde/guardeval/pkg/stdlib"
)

// --- helpers ---

// defaultOpts returns ExecOptions with the builtins registered and no
// capability restrictions (AllowedCapabilities == nil means allow-all).
func defaultOpts() evaluator.ExecOptions {
	return evaluator.ExecOptions{
		Stdlib: stdlib.Default().Map(),
	}
}

// run parses and executes source, failing the test on parse errors.
func run(t *testing.T, src string) (*evaluator.ExecResult, error) {
	t.Helper()
	return runWith(t, src, defaultOpts())
}

// runWith parses and executes source with custom ExecOptions.
func runWith(t *testing.T, src string, opts evaluator.ExecOptions) (*evaluator.ExecResult, error) {
	t.Helper()
	prog, diags := parser.Parse(src, "test.gq")
	if len(diags) > 0 {
		t.Fatalf("parse errors: %s", diagnostics.FormatDiagnostics(diags, true))
	}
	return evaluator.Execute(context.Background(), prog, opts)
}

// mustRun is like run but also fails on runtime errors.
func mustRun(t *testing.T, src string) *evaluator.ExecResult {
	t.Helper()
	res, err := run(t, src)
	if err != nil {
		t.Fatalf("unexpected runtime error: %v", err)
	}
	return res
}

func expectNumber(t *testing.T, val evaluator.Value, expected float64) {
	t.Helper()
	num, ok := val.(evaluator.Number)
	if !ok {
		t.Fatalf("expected Number, got %T (%v)", val, val)
	}
	if num.Value != expected {
		t.Errorf("got %v, want %v", num.Value, expected)
	}
}

func expectString(t *testing.T, val evaluator.Value, expected string) {
	t.Helper()
	s, ok := val.(evaluator.String)
	if !ok {
		t.Fatalf("expected String, got %T (%v)", val, val)
	}
	if s.Value != expected {
		t.Errorf("got %q, want %q", s.Value, expected)
	}
}

func expectBool(t *testing.T, val evaluator.Value, expected bool) {
	t.Helper()
	b, ok := val.(evaluator.Bool)
	if !ok {
		t.Fatalf("expected Bool, got %T (%v)", val, val)
	}
	if b.Value != expected {
		t.Errorf("got %v, want %v", b.Value, expected)
	}
}

func expectNull(t *testing.T, val evaluator.Value) {
	t.Helper()
	if _, ok := val.(evaluator.Null); !ok {
		t.Fatalf("expected Null, got %T (%v)", val, val)
	}
}

// expectSignal asserts err is a *Signal with the given code and severity.
func expectSignal(t *testing.T, err error, code names.QName, sev evaluator.Severity) *evaluator.Signal {
	t.Helper()
	if err == nil {
		t.Fatalf("expected signal %s, got nil", code)
	}
	var sig *evaluator.Signal
	if !errors.As(err, &sig) {
		t.Fatalf("expected *Signal, got %T: %v", err, err)
	}
	if !sig.Code.Equal(code) {
		t.Errorf("signal code = %s, want %s (description: %s)", sig.Code, code, sig.Description)
	}
	if sig.Severity != sev {
		t.Errorf("severity = %s, want %s", sig.Severity, sev)
	}
	return sig
}

// --- Literals ---

func TestLiterals(t *testing.T) {
	expectNumber(t, mustRun(t, `return 42`).Value, 42)
	expectNumber(t, mustRun(t, `return 3.5`).Value, 3.5)
	expectString(t, mustRun(t, `return "hello"`).Value, "hello")
	expectBool(t, mustRun(t, `return true`).Value, true)
	expectBool(t, mustRun(t, `return false`).Value, false)
	expectNull(t, mustRun(t, `return null`).Value)
}

// --- Arithmetic ---

func TestArithmetic(t *testing.T) {
	tests := []struct {
		src  string
		want float64
	}{
		{`return 2 + 3`, 5},
		{`return 10 - 4`, 6},
		{`return 6 * 7`, 42},
		{`return 7 / 2`, 3.5},
		{`return 7 % 3`, 1},
		{`return 2 + 3 * 4`, 14},
		{`return (2 + 3) * 4`, 20},
		{`return -5 + 3`, -2},
		{`return --4`, 4},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			expectNumber(t, mustRun(t, tt.src).Value, tt.want)
		})
	}
}

func TestStringConcat(t *testing.T) {
	expectString(t, mustRun(t, `return "foo" + "bar"`).Value, "foobar")
	expectString(t, mustRun(t, `return "" + ""`).Value, "")
}

func TestDivisionByZero(t *testing.T) {
	_, err := run(t, `return 10 / 0`)
	sig := expectSignal(t, err, evaluator.CodeDivideByZero, evaluator.SeverityDynamic)
	if len(sig.Value) != 2 {
		t.Errorf("expected both operands as the error value, got %d", len(sig.Value))
	}
}

func TestModuloByZero(t *testing.T) {
	_, err := run(t, `return 10 % 0`)
	expectSignal(t, err, evaluator.CodeDivideByZero, evaluator.SeverityDynamic)
}

func TestArithmeticOverflow(t *testing.T) {
	_, err := run(t, `
fn square { acc, item } {
  return acc * acc
}
return reduce { in: range { from: 0, to: 12 }, init: 2, fn: "square" }
`)
	expectSignal(t, err, evaluator.CodeOverflow, evaluator.SeverityDynamic)
}

func TestTypeErrors(t *testing.T) {
	tests := []string{
		`return true + 1`,
		`return "a" - "b"`,
		`return false * true`,
		`return 1 > "a"`,
		`return "a" + 1`,
		`return -"x"`,
		`return [1] < [2]`,
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			_, err := run(t, src)
			expectSignal(t, err, evaluator.CodeType, evaluator.SeverityType)
		})
	}
}

// --- Comparison ---

func TestComparison(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{`return 1 == 1`, true},
		{`return 1 == 2`, false},
		{`return 1 != 2`, true},
		{`return 1 != 1`, false},
		{`return 3 > 2`, true},
		{`return 2 > 3`, false},
		{`return 2 < 3`, true},
		{`return 3 >= 3`, true},
		{`return 3 <= 2`, false},
		{`return "apple" < "banana"`, true},
		{`return "a" == "a"`, true},
		{`return 1 == "1"`, false},
		{`return null == null`, true},
		{`return true == true`, true},
		{`return { x: 1, y: [1, 2] } == { x: 1, y: [1, 2] }`, true},
		{`return { x: 1 } == { x: 2 }`, false},
		{`return [1, 2] == [1, 2]`, true},
		{`return [1, 2] == [2, 1]`, false},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			expectBool(t, mustRun(t, tt.src).Value, tt.want)
		})
	}
}

// --- Records and lists ---

func TestRecord(t *testing.T) {
	res := mustRun(t, `return { a: 1, b: "two", outer: { inner: 42 } }`)
	rec, ok := res.Value.(evaluator.Record)
	if !ok {
		t.Fatalf("expected Record, got %T", res.Value)
	}
	aVal, _ := rec.Get("a")
	expectNumber(t, aVal, 1)
	bVal, _ := rec.Get("b")
	expectString(t, bVal, "two")
	outerVal, _ := rec.Get("outer")
	inner := outerVal.(evaluator.Record)
	innerVal, _ := inner.Get("inner")
	expectNumber(t, innerVal, 42)

	empty := mustRun(t, `return {}`).Value.(evaluator.Record)
	if len(empty.Pairs) != 0 {
		t.Errorf("expected empty record, got %d pairs", len(empty.Pairs))
	}
}

func TestRecordSpread(t *testing.T) {
	res := mustRun(t, `
let base = { a: 1, b: 2 }
return { ...base, b: 99, c: 3 }
`)
	rec := res.Value.(evaluator.Record)
	if got := evaluator.ValueToJSONString(rec); got != `{"a":1,"b":99,"c":3}` {
		t.Errorf("got %s", got)
	}
}

func TestRecordSpread_NonRecordError(t *testing.T) {
	_, err := run(t, `
let x = 42
return { ...x }
`)
	expectSignal(t, err, evaluator.CodeType, evaluator.SeverityType)
}

func TestList(t *testing.T) {
	list := mustRun(t, `return [1, "two", true, null]`).Value.(evaluator.List)
	if len(list.Items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(list.Items))
	}
	expectNumber(t, list.Items[0], 1)
	expectString(t, list.Items[1], "two")
	expectBool(t, list.Items[2], true)
	expectNull(t, list.Items[3])

	empty := mustRun(t, `return []`).Value.(evaluator.List)
	if len(empty.Items) != 0 {
		t.Errorf("expected empty list, got %d items", len(empty.Items))
	}
}

// --- Let bindings ---

func TestLetBinding(t *testing.T) {
	res := mustRun(t, `
let a = 10
let b = 20
let a = a + b
return a
`)
	expectNumber(t, res.Value, 30)
}

func TestLetBinding_DeclaredType(t *testing.T) {
	expectNumber(t, mustRun(t, `let n as integer = 4
return n`).Value, 4)
	expectString(t, mustRun(t, `let s as any = "x"
return s`).Value, "x")

	_, err := run(t, `let n as integer = 4.5`)
	sig := expectSignal(t, err, evaluator.CodeType, evaluator.SeverityType)
	if len(sig.Value) != 1 {
		t.Errorf("expected the offending value, got %v", sig.Value)
	}

	_, err = run(t, `let n as decimal = 4`)
	expectSignal(t, err, evaluator.CodeUnknownType, evaluator.SeverityStatic)
}

// --- If ---

func TestIfInline(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`return if { cond: true, then: "yes", else: "no" }`, "yes"},
		{`return if { cond: false, then: "yes", else: "no" }`, "no"},
		{`return if { cond: 1, then: "yes", else: "no" }`, "yes"},
		{`return if { cond: null, then: "yes", else: "no" }`, "no"},
		{`return if { cond: "", then: "yes", else: "no" }`, "no"},
		{`return if { cond: 0, then: "yes", else: "no" }`, "no"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			expectString(t, mustRun(t, tt.src).Value, tt.want)
		})
	}
}

func TestIfBlock(t *testing.T) {
	res := mustRun(t, `
let x = 5
return if (x > 3) {
  let doubled = x * 2
  return doubled
} else {
  return 0
}
`)
	expectNumber(t, res.Value, 10)

	res = mustRun(t, `
return if (false) {
  return 1
}
`)
	expectNull(t, res.Value)
}

// --- For ---

func TestFor(t *testing.T) {
	res := mustRun(t, `
let multiplier = 10
let items = [{ n: 1 }, { n: 2 }, { n: 3 }]
return for { in: items, as: "item" } {
  return item.n * multiplier
}
`)
	list := res.Value.(evaluator.List)
	if len(list.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(list.Items))
	}
	expectNumber(t, list.Items[0], 10)
	expectNumber(t, list.Items[1], 20)
	expectNumber(t, list.Items[2], 30)

	empty := mustRun(t, `return for { in: [], as: "n" } { n }`).Value.(evaluator.List)
	if len(empty.Items) != 0 {
		t.Errorf("expected empty list, got %d items", len(empty.Items))
	}
}

func TestFor_NonListError(t *testing.T) {
	_, err := run(t, `
return for { in: 42, as: "n" } {
  return n
}
`)
	expectSignal(t, err, evaluator.CodeType, evaluator.SeverityType)
}

// --- Scoping ---

func TestScoping_ForDoesNotLeak(t *testing.T) {
	_, err := run(t, `
let result = for { in: [1, 2], as: "n" } {
  return n
}
return n
`)
	expectSignal(t, err, evaluator.CodeNoValue, evaluator.SeverityDynamic)
}

func TestScoping_IfBlockDoesNotLeak(t *testing.T) {
	_, err := run(t, `
if (true) {
  let inner = 42
  return inner
}
return inner
`)
	expectSignal(t, err, evaluator.CodeNoValue, evaluator.SeverityDynamic)
}

// --- Dotted access ---

func TestDotPath(t *testing.T) {
	res := mustRun(t, `
let data = { user: { profile: { name: "ada" } } }
return data.user.profile.name
`)
	expectString(t, res.Value, "ada")

	expectNull(t, mustRun(t, `
let data = { a: 1 }
return data.missing
`).Value)

	_, err := run(t, `
let n = 5
return n.field
`)
	expectSignal(t, err, evaluator.CodeType, evaluator.SeverityType)

	_, err = run(t, `return nothing.here`)
	expectSignal(t, err, evaluator.CodeNoValue, evaluator.SeverityDynamic)
}

// --- Functions ---

func TestFn(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want evaluator.Value
	}{
		{"simple", `
fn add { a, b } {
  return a + b
}
return add { a: 3, b: 4 }`, evaluator.NewNumber(7)},
		{"closure", `
let factor = 10
fn scale { x } {
  return x * factor
}
return scale { x: 5 }`, evaluator.NewNumber(50)},
		{"recursive", `
fn factorial { n } {
  return if { cond: n <= 1, then: 1, else: n * factorial { n: n - 1 } }
}
return factorial { n: 5 }`, evaluator.NewNumber(120)},
		{"hoisted", `
let r = later { x: 2 }
fn later { x } {
  return x + 1
}
return r`, evaluator.NewNumber(3)},
		{"calls another", `
fn double { x } {
  return x * 2
}
fn quad { x } {
  return double { x: double { x: x } }
}
return quad { x: 3 }`, evaluator.NewNumber(12)},
		{"missing param is null", `
fn identity { a } {
  return a
}
return identity {}`, evaluator.NewNull()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustRun(t, tt.src)
			if !evaluator.DeepEqual(res.Value, tt.want) {
				t.Errorf("got %s, want %s", evaluator.ValueToJSONString(res.Value), evaluator.ValueToJSONString(tt.want))
			}
		})
	}
}

func TestFn_UnknownFunctionError(t *testing.T) {
	_, err := run(t, `return nonexistent { x: 1 }`)
	expectSignal(t, err, evaluator.CodeUnknownFn, evaluator.SeverityStatic)
}

func TestMap_UserFunction(t *testing.T) {
	res := mustRun(t, `
fn double { value } {
  return value * 2
}
return map { in: [1, 2, 3], fn: "double" }
`)
	list := res.Value.(evaluator.List)
	if len(list.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(list.Items))
	}
	expectNumber(t, list.Items[0], 2)
	expectNumber(t, list.Items[2], 6)

	_, err := run(t, `return map { in: [1], fn: "missing" }`)
	sig := expectSignal(t, err, evaluator.CodeNoFunction, evaluator.SeverityDynamic)
	if len(sig.Value) != 1 || evaluator.ValueToJSONString(sig.Value[0]) != `"missing"` {
		t.Errorf("signal value = %v, want [\"missing\"]", sig.Value)
	}

	_, err = run(t, `return map { in: [1], fn: 3 }`)
	expectSignal(t, err, evaluator.CodeType, evaluator.SeverityType)
}

func TestMap_ComputedFunctionNameIsCatchable(t *testing.T) {
	res := mustRun(t, `
let f = str.concat { parts: ["dou", "bel"] }
return try { map { in: [1], fn: f } } catch * { string { value: $err:code } }
`)
	expectString(t, res.Value, "g:UNKNOWN_FN")
}

func TestFn_RecursionDepthBudget(t *testing.T) {
	src := `
fn loop { n } {
  return loop { n: n + 1 }
}
return try { loop { n: 0 } } catch * { "caught" }
`
	_, err := run(t, src)
	sig := expectSignal(t, err, evaluator.CodeBudget, evaluator.SeverityStatic)
	if !strings.Contains(sig.Description, "call depth") {
		t.Errorf("description = %q", sig.Description)
	}

	_, err = run(t, "budget { maxDepth: 5 }\n"+src)
	sig = expectSignal(t, err, evaluator.CodeBudget, evaluator.SeverityStatic)
	if !strings.Contains(sig.Description, "max 5") {
		t.Errorf("description = %q", sig.Description)
	}
}

func TestFn_BoundedRecursion(t *testing.T) {
	res := mustRun(t, `budget { maxDepth: 10 }
fn fact { n } {
  return if (n <= 1) { 1 } else { n * fact { n: n - 1 } }
}
return fact { n: 10 }
`)
	expectNumber(t, res.Value, 3628800)
	if res.Usage.PeakDepth != 10 {
		t.Errorf("peak depth = %d, want 10", res.Usage.PeakDepth)
	}

	_, err := run(t, `budget { maxDepth: 9 }
fn fact { n } {
  return if (n <= 1) { 1 } else { n * fact { n: n - 1 } }
}
return fact { n: 10 }
`)
	expectSignal(t, err, evaluator.CodeBudget, evaluator.SeverityStatic)
}

func TestFn_DeclarationsAreBlockScoped(t *testing.T) {
	_, err := run(t, `
let r = try {
  fn inner {} { return 7 }
  inner {}
} catch * { 0 }
return inner {}
`)
	expectSignal(t, err, evaluator.CodeUnknownFn, evaluator.SeverityStatic)

	_, err = run(t, `
let r = try { 1 / 0 } catch * {
  fn leak {} { return $err:code }
  0
}
return leak {}
`)
	expectSignal(t, err, evaluator.CodeUnknownFn, evaluator.SeverityStatic)

	res := mustRun(t, `
let r = try { 1 / 0 } catch * {
  fn code {} { return string { value: $err:code } }
  code {}
}
return r
`)
	expectString(t, res.Value, "err:FOAR0001")
}

func TestReduce_Sum(t *testing.T) {
	res := mustRun(t, `
fn adder { acc, value } {
  return acc + value
}
return reduce { in: [1, 2, 3, 4], init: 0, fn: "adder" }
`)
	expectNumber(t, res.Value, 10)
}

// --- Builtins through the evaluator ---

func TestStdlibCalls(t *testing.T) {
	expectBool(t, mustRun(t, `return eq { a: [1], b: [1] }`).Value, true)
	expectNumber(t, mustRun(t, `return len { in: range { from: 0, to: 5 } }`).Value, 5)
	expectString(t, mustRun(t, `return string { value: qname { uri: "urn:x", name: "p:l" } }`).Value, "p:l")
}

func TestStdlibSignalIsLocated(t *testing.T) {
	_, err := run(t, `let x = 1
return int { value: "twelve" }`)
	sig := expectSignal(t, err, evaluator.CodeCast, evaluator.SeverityDynamic)
	if sig.Module != "test.gq" || sig.Line != 2 || sig.Column != 8 {
		t.Errorf("location = %s, want test.gq:2:8", sig.Location())
	}
}

func TestStdlibHostErrorBecomesDynamic(t *testing.T) {
	opts := defaultOpts()
	opts.Stdlib["boom"] = &evaluator.StdlibFn{
		Name: "boom",
		Execute: func(args *evaluator.Record) (evaluator.Value, error) {
			return nil, fmt.Errorf("kaput")
		},
	}
	_, err := runWith(t, `return boom {}`, opts)
	sig := expectSignal(t, err, evaluator.CodeUser, evaluator.SeverityDynamic)
	if sig.Description != "boom: kaput" {
		t.Errorf("description = %q", sig.Description)
	}
}

// --- Arrow binding ---

func TestArrowBinding(t *testing.T) {
	res := mustRun(t, `
if { cond: true, then: 42, else: 0 } -> result
return result
`)
	expectNumber(t, res.Value, 42)

	res = mustRun(t, `
42 -> out.value
return out.value
`)
	expectNumber(t, res.Value, 42)
}

func TestLastExpressionValue(t *testing.T) {
	res := mustRun(t, `
let x = 1
x + 41
`)
	expectNumber(t, res.Value, 42)
}

// --- Budgets ---

func TestBudget_MaxIterations(t *testing.T) {
	_, err := run(t, `
budget { maxIterations: 3 }
return for { in: [1, 2, 3, 4, 5], as: "n" } {
  return n
}
`)
	expectSignal(t, err, evaluator.CodeBudget, evaluator.SeverityStatic)

	res := mustRun(t, `
budget { maxIterations: 3 }
return for { in: [1, 2, 3], as: "n" } {
  return n * 2
}
`)
	if n := len(res.Value.(evaluator.List).Items); n != 3 {
		t.Fatalf("expected 3 items, got %d", n)
	}
	if res.Usage.Iterations != 3 {
		t.Errorf("usage iterations = %d, want 3", res.Usage.Iterations)
	}
}

func TestBudget_OptionsDefaultsOverriddenByHeader(t *testing.T) {
	limit := int64(1)
	opts := defaultOpts()
	opts.Budget.MaxIterations = &limit

	_, err := runWith(t, `for { in: [1, 2], as: "n" } { n }`, opts)
	expectSignal(t, err, evaluator.CodeBudget, evaluator.SeverityStatic)

	_, err = runWith(t, `
budget { maxIterations: 5 }
for { in: [1, 2], as: "n" } { n }
`, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func mockTool(name string, result evaluator.Value, err error) *evaluator.ToolDef {
	return &evaluator.ToolDef{
		Name:         name,
		Mode:         "read",
		CapabilityID: "mock",
		Execute: func(ctx context.Context, args *evaluator.Record) (evaluator.Value, error) {
			return result, err
		},
	}
}

func TestBudget_MaxToolCalls(t *testing.T) {
	opts := defaultOpts()
	opts.Tools = map[string]*evaluator.ToolDef{"mock.tool": mockTool("mock.tool", evaluator.NewString("ok"), nil)}

	_, err := runWith(t, `
cap { mock: true }
budget { maxToolCalls: 1 }
call? mock.tool {}
call? mock.tool {}
return "done"
`, opts)
	expectSignal(t, err, evaluator.CodeBudget, evaluator.SeverityStatic)
}

func TestBudget_MaxBytesWritten(t *testing.T) {
	opts := defaultOpts()
	written := evaluator.NewRecord([]evaluator.KeyValue{{Key: "bytes", Value: evaluator.NewNumber(10)}})
	opts.Tools = map[string]*evaluator.ToolDef{"mock.write": mockTool("mock.write", written, nil)}

	res, err := runWith(t, `
budget { maxBytesWritten: 15 }
do mock.write {}
`, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Usage.BytesWritten != 10 {
		t.Errorf("bytes written = %d, want 10", res.Usage.BytesWritten)
	}

	_, err = runWith(t, `
budget { maxBytesWritten: 15 }
do mock.write {}
do mock.write {}
`, opts)
	expectSignal(t, err, evaluator.CodeBudget, evaluator.SeverityStatic)
}

// --- Capabilities ---

func TestCapabilities(t *testing.T) {
	opts := defaultOpts()
	opts.AllowedCapabilities = map[string]bool{"safe": true}
	opts.Tools = map[string]*evaluator.ToolDef{"safe.read": mockTool("safe.read", evaluator.NewString("data"), nil)}

	_, err := runWith(t, `
cap { dangerous: true }
return "hello"
`, opts)
	expectSignal(t, err, evaluator.CodeCapDenied, evaluator.SeverityStatic)

	res, err := runWith(t, `
cap { safe: true }
return call? safe.read {}
`, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectString(t, res.Value, "data")

	opts.AllowedCapabilities = nil
	res, err = runWith(t, `
cap { anything: true }
return "allowed"
`, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectString(t, res.Value, "allowed")
}

// --- Tool calls ---

func TestToolCall_Args(t *testing.T) {
	written := ""
	opts := defaultOpts()
	opts.Tools = map[string]*evaluator.ToolDef{
		"mock.write": {
			Name:         "mock.write",
			Mode:         "effect",
			CapabilityID: "test",
			Execute: func(ctx context.Context, args *evaluator.Record) (evaluator.Value, error) {
				if s, ok := args.Get("data"); ok {
					written = evaluator.StringValue(s)
				}
				return nil, nil
			},
		},
	}

	res, err := runWith(t, `
cap { test: true }
return do mock.write { data: "hello" }
`, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectNull(t, res.Value)
	if written != "hello" {
		t.Errorf("expected written='hello', got %q", written)
	}
	if res.Usage.ToolCalls != 1 {
		t.Errorf("tool calls = %d, want 1", res.Usage.ToolCalls)
	}
}

func TestToolCall_UnknownTool(t *testing.T) {
	_, err := run(t, `return call? nonexistent.tool { x: 1 }`)
	expectSignal(t, err, evaluator.CodeUnknownTool, evaluator.SeverityStatic)
}

func TestToolCall_ToolError(t *testing.T) {
	opts := defaultOpts()
	opts.Tools = map[string]*evaluator.ToolDef{"fail.tool": mockTool("fail.tool", nil, fmt.Errorf("something broke"))}

	_, err := runWith(t, `return call? fail.tool {}`, opts)
	sig := expectSignal(t, err, evaluator.CodeToolFailed, evaluator.SeverityDynamic)
	if sig.Line != 1 || sig.Column != 8 {
		t.Errorf("location = %s, want test.gq:1:8", sig.Location())
	}
}

func TestToolCall_ContextErrorIsStatic(t *testing.T) {
	opts := defaultOpts()
	opts.Tools = map[string]*evaluator.ToolDef{"slow.tool": mockTool("slow.tool", nil, context.DeadlineExceeded)}

	_, err := runWith(t, `return call? slow.tool {}`, opts)
	expectSignal(t, err, evaluator.CodeCancelled, evaluator.SeverityStatic)
}

// --- Trace callback ---

func TestTrace_EmitsEvents(t *testing.T) {
	var events []evaluator.TraceEvent
	opts := defaultOpts()
	opts.Trace = func(e evaluator.TraceEvent) {
		events = append(events, e)
	}
	opts.RunID = "test-run"

	if _, err := runWith(t, `return 42`, opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(events) == 0 {
		t.Fatal("expected trace events, got none")
	}
	if events[0].Event != evaluator.TraceRunStart {
		t.Errorf("first event = %s, want run_start", events[0].Event)
	}
	if last := events[len(events)-1]; last.Event != evaluator.TraceRunEnd {
		t.Errorf("last event = %s, want run_end", last.Event)
	}
	for _, e := range events {
		if e.RunID != "test-run" {
			t.Errorf("expected runID 'test-run', got %q", e.RunID)
		}
	}
}

// --- Context cancellation ---

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prog, diags := parser.Parse(`
return for { in: range { from: 0, to: 1000 }, as: "n" } {
  return n + 1
}
`, "test.gq")
	if len(diags) > 0 {
		t.Fatalf("parse errors: %s", diagnostics.FormatDiagnostics(diags, true))
	}

	_, err := evaluator.Execute(ctx, prog, defaultOpts())
	expectSignal(t, err, evaluator.CodeCancelled, evaluator.SeverityStatic)
}

func TestExecute_ZeroOptions(t *testing.T) {
	prog, diags := parser.Parse("let x = 1", "test.gq")
	if len(diags) > 0 {
		t.Fatalf("parse errors: %s", diagnostics.FormatDiagnostics(diags, true))
	}
	res, err := evaluator.Execute(context.Background(), prog, evaluator.ExecOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectNumber(t, res.Value, 1)
}
