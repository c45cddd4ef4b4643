package diagnostics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thomasrohde/guardeval/pkg/ast"
	"github.com/thomasrohde/guardeval/pkg/diagnostics"
)

func TestMakeDiag(t *testing.T) {
	span := &ast.Span{File: "test.gq", StartLine: 1, StartCol: 1, EndLine: 1, EndCol: 5}
	d := diagnostics.MakeDiag(diagnostics.ESyntax, "unexpected token", span, "check syntax")

	assert.Equal(t, diagnostics.ESyntax, d.Code)
	assert.Equal(t, "unexpected token", d.Message)
	assert.Equal(t, diagnostics.SeverityStatic, d.Severity)
}

func TestFormatDiagnosticPretty(t *testing.T) {
	span := &ast.Span{File: "test.gq", StartLine: 3, StartCol: 5, EndLine: 3, EndCol: 10}
	d := diagnostics.MakeDiag(diagnostics.EUndefinedName, "undefined variable 'x'", span, "did you mean 'y'?")

	out := diagnostics.FormatDiagnostic(d, true)
	assert.Contains(t, out, "error[err:XPST0008] (static)")
	assert.Contains(t, out, "test.gq:3:5")
	assert.Contains(t, out, "hint:")
}

func TestFormatDiagnosticJSON(t *testing.T) {
	d := diagnostics.MakeDiag(diagnostics.ESyntax, "bad token", nil, "")
	out := diagnostics.FormatDiagnostic(d, false)
	assert.Contains(t, out, `"code":"err:XPST0003"`)
	assert.Contains(t, out, `"severity":"static"`)
	assert.NotContains(t, out, `"span"`)
}

func TestFormatDiagnosticWithSourceSnippet(t *testing.T) {
	src := "let a = 1\nlet b = a +\nreturn b"
	span := &ast.Span{File: "x.gq", StartLine: 2, StartCol: 11, EndLine: 2, EndCol: 12}
	d := diagnostics.MakeDiag(diagnostics.ESyntax, "expected expression", span, "")

	out := diagnostics.FormatDiagnosticWithSource(d, true, src)
	assert.Contains(t, out, "   1 | let a = 1")
	assert.Contains(t, out, "   2 | let b = a +")
	assert.Contains(t, out, "     |           ^")
	assert.Contains(t, out, "   3 | return b")
}

func TestSnippetClampsCoordinates(t *testing.T) {
	out := diagnostics.Snippet("only", 9, -3)
	assert.Equal(t, "   1 | only\n     | ^", out)
}
