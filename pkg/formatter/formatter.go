// Package formatter prints programs in canonical source form.
package formatter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/thomasrohde/guardeval/pkg/ast"
)

const indent = "  "

// maxInline is the width up to which records and lists stay on one line.
const maxInline = 72

// Precedence table for binary operators (higher = tighter binding)
var precedence = map[ast.BinaryOp]int{
	ast.OpEqEq: 1, ast.OpNeq: 1,
	ast.OpGt: 2, ast.OpLt: 2, ast.OpGtEq: 2, ast.OpLtEq: 2,
	ast.OpAdd: 3, ast.OpSub: 3,
	ast.OpMul: 4, ast.OpDiv: 4, ast.OpMod: 4,
}

var bareKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

func needsParens(child ast.Expr, parentOp ast.BinaryOp, isRight bool) bool {
	bin, ok := child.(*ast.BinaryExpr)
	if !ok {
		return false
	}
	childPrec := precedence[bin.Op]
	parentPrec := precedence[parentOp]
	if childPrec < parentPrec {
		return true
	}
	// same precedence on the right would re-associate
	return childPrec == parentPrec && isRight
}

// Format pretty-prints a program back to source code. Comments are not
// preserved; see HasComments.
func Format(program *ast.Program) string {
	var lines []string

	for _, h := range program.Headers {
		lines = append(lines, formatHeader(h))
	}

	if len(program.Headers) > 0 && len(program.Statements) > 0 {
		lines = append(lines, "")
	}

	for _, s := range program.Statements {
		lines = append(lines, formatStmt(s, 0))
	}

	return strings.Join(lines, "\n") + "\n"
}

// FormatExpr prints a single expression.
func FormatExpr(e ast.Expr) string {
	return formatExpr(e, 0)
}

// HasComments reports whether source contains a # comment outside string
// literals.
func HasComments(source string) bool {
	for _, line := range strings.Split(source, "\n") {
		inString := false
		for i := 0; i < len(line); i++ {
			switch {
			case inString && line[i] == '\\':
				i++
			case line[i] == '"':
				inString = !inString
			case !inString && line[i] == '#':
				return true
			}
		}
	}
	return false
}

func formatHeader(h ast.Header) string {
	switch hdr := h.(type) {
	case *ast.CapDecl:
		return "cap " + formatRecord(hdr.Capabilities, 0)
	case *ast.BudgetDecl:
		return "budget " + formatRecord(hdr.Budget, 0)
	case *ast.NsDecl:
		return "ns " + formatRecord(hdr.Bindings, 0)
	}
	return ""
}

func formatStmt(s ast.Stmt, depth int) string {
	prefix := strings.Repeat(indent, depth)
	switch stmt := s.(type) {
	case *ast.LetStmt:
		decl := "let " + stmt.Name
		if stmt.Type != "" {
			decl += " as " + stmt.Type
		}
		return prefix + decl + " = " + formatExpr(stmt.Value, depth)
	case *ast.ExprStmt:
		out := prefix + formatExpr(stmt.Expr, depth)
		if stmt.Target != nil {
			out += " -> " + formatIdentPath(stmt.Target)
		}
		return out
	case *ast.ReturnStmt:
		return prefix + "return " + formatExpr(stmt.Value, depth)
	case *ast.FnDecl:
		params := "{}"
		if len(stmt.Params) > 0 {
			params = "{ " + strings.Join(stmt.Params, ", ") + " }"
		}
		return prefix + "fn " + stmt.Name + " " + params + " " + formatBody(stmt.Body, depth)
	}
	return ""
}

// formatBody prints a braced statement block whose closing brace is indented
// to depth.
func formatBody(stmts []ast.Stmt, depth int) string {
	if len(stmts) == 0 {
		return "{}"
	}
	lines := make([]string, len(stmts))
	for i, s := range stmts {
		lines[i] = formatStmt(s, depth+1)
	}
	return "{\n" + strings.Join(lines, "\n") + "\n" + strings.Repeat(indent, depth) + "}"
}

func formatExpr(e ast.Expr, depth int) string {
	switch expr := e.(type) {
	case *ast.IntLiteral:
		return strconv.FormatInt(expr.Value, 10)
	case *ast.FloatLiteral:
		return formatFloatLiteral(expr.Value)
	case *ast.BoolLiteral:
		return strconv.FormatBool(expr.Value)
	case *ast.StrLiteral:
		return quote(expr.Value)
	case *ast.NullLiteral:
		return "null"
	case *ast.IdentPath:
		return formatIdentPath(expr)
	case *ast.ContextVar:
		return "$" + expr.Name
	case *ast.RecordExpr:
		return formatRecord(expr, depth)
	case *ast.ListExpr:
		return formatList(expr, depth)
	case *ast.CallExpr:
		return "call? " + formatIdentPath(expr.Tool) + " " + formatRecord(expr.Args, depth)
	case *ast.DoExpr:
		return "do " + formatIdentPath(expr.Tool) + " " + formatRecord(expr.Args, depth)
	case *ast.FnCallExpr:
		return formatIdentPath(expr.Name) + " " + formatRecord(expr.Args, depth)
	case *ast.IfExpr:
		return fmt.Sprintf("if { cond: %s, then: %s, else: %s }",
			formatExpr(expr.Cond, depth+1),
			formatExpr(expr.Then, depth+1),
			formatExpr(expr.Else, depth+1))
	case *ast.IfBlockExpr:
		out := fmt.Sprintf("if (%s) %s", formatExpr(expr.Cond, depth), formatBody(expr.ThenBody, depth))
		if len(expr.ElseBody) > 0 {
			out += " else " + formatBody(expr.ElseBody, depth)
		}
		return out
	case *ast.TryExpr:
		var b strings.Builder
		b.WriteString("try ")
		b.WriteString(formatBody(expr.Guard, depth))
		for _, c := range expr.Clauses {
			tests := make([]string, len(c.Tests))
			for i, t := range c.Tests {
				tests[i] = t.String()
			}
			b.WriteString(" catch ")
			b.WriteString(strings.Join(tests, " | "))
			b.WriteString(" ")
			b.WriteString(formatBody(c.Body, depth))
		}
		return b.String()
	case *ast.ForExpr:
		return fmt.Sprintf("for { in: %s, as: %s } %s",
			formatExpr(expr.List, depth+1), quote(expr.Binding), formatBody(expr.Body, depth))
	case *ast.BinaryExpr:
		leftStr := formatExpr(expr.Left, depth)
		rightStr := formatExpr(expr.Right, depth)
		if needsParens(expr.Left, expr.Op, false) {
			leftStr = "(" + leftStr + ")"
		}
		if needsParens(expr.Right, expr.Op, true) {
			rightStr = "(" + rightStr + ")"
		}
		return leftStr + " " + string(expr.Op) + " " + rightStr
	case *ast.UnaryExpr:
		operandStr := formatExpr(expr.Operand, depth)
		switch expr.Operand.(type) {
		case *ast.BinaryExpr, *ast.UnaryExpr:
			return "-(" + operandStr + ")"
		}
		return "-" + operandStr
	}
	return ""
}

// quote renders s as a string literal using only the escapes the lexer
// accepts.
func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return strconv.Quote(s)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func formatFloatLiteral(value float64) string {
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return strconv.FormatFloat(value, 'f', -1, 64)
	}
	raw := strconv.FormatFloat(value, 'f', -1, 64)
	if !strings.Contains(raw, ".") {
		raw += ".0"
	}
	return raw
}

func formatIdentPath(ip *ast.IdentPath) string {
	return strings.Join(ip.Parts, ".")
}

func formatKey(key string) string {
	if bareKey.MatchString(key) {
		return key
	}
	return quote(key)
}

func formatPairOrSpread(entry ast.RecordEntry, depth int) string {
	switch p := entry.(type) {
	case *ast.SpreadPair:
		return "..." + formatExpr(p.Expr, depth)
	case *ast.RecordPair:
		return formatKey(p.Key) + ": " + formatExpr(p.Value, depth)
	}
	return ""
}

func formatRecord(rec *ast.RecordExpr, depth int) string {
	if rec == nil || len(rec.Pairs) == 0 {
		return "{}"
	}

	inlineParts := make([]string, len(rec.Pairs))
	for i, p := range rec.Pairs {
		inlineParts[i] = formatPairOrSpread(p, depth+1)
	}
	inline := "{ " + strings.Join(inlineParts, ", ") + " }"
	if len(inline) <= maxInline && !strings.Contains(inline, "\n") {
		return inline
	}

	inner := strings.Repeat(indent, depth+1)
	outer := strings.Repeat(indent, depth)
	parts := make([]string, len(rec.Pairs))
	for i, p := range rec.Pairs {
		parts[i] = inner + formatPairOrSpread(p, depth+1)
	}
	return "{\n" + strings.Join(parts, ",\n") + "\n" + outer + "}"
}

func formatList(list *ast.ListExpr, depth int) string {
	if len(list.Elements) == 0 {
		return "[]"
	}

	inlineParts := make([]string, len(list.Elements))
	for i, e := range list.Elements {
		inlineParts[i] = formatExpr(e, depth+1)
	}
	inline := "[" + strings.Join(inlineParts, ", ") + "]"
	if len(inline) <= maxInline && !strings.Contains(inline, "\n") {
		return inline
	}

	inner := strings.Repeat(indent, depth+1)
	outer := strings.Repeat(indent, depth)
	parts := make([]string, len(list.Elements))
	for i, e := range list.Elements {
		parts[i] = inner + formatExpr(e, depth+1)
	}
	return "[\n" + strings.Join(parts, ",\n") + "\n" + outer + "]"
}
