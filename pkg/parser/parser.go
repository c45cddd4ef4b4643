// Package parser implements the recursive descent parser for guarded-evaluation
// programs.
package parser

import (
	"fmt"
	"strconv"

	"github.com/thomasrohde/guardeval/pkg/ast"
	"github.com/thomasrohde/guardeval/pkg/diagnostics"
	"github.com/thomasrohde/guardeval/pkg/lexer"
)

type parser struct {
	tokens []lexer.Token
	pos    int
	diags  []diagnostics.Diagnostic
}

// Parse tokenizes source and parses it into an AST.
func Parse(source, filename string) (*ast.Program, []diagnostics.Diagnostic) {
	p, diags := newParser(source, filename)
	if diags != nil {
		return nil, diags
	}
	prog := p.parseProgram()
	if len(p.diags) > 0 {
		return nil, p.diags
	}
	return prog, nil
}

// ParseExpr parses a single expression, e.g. one try/catch expression.
func ParseExpr(source, filename string) (ast.Expr, []diagnostics.Diagnostic) {
	p, diags := newParser(source, filename)
	if diags != nil {
		return nil, diags
	}
	expr := p.parseExpr()
	if expr != nil && p.peek() != lexer.TokEOF {
		tok := p.current()
		p.addError(fmt.Sprintf("unexpected token '%s' after expression", tok.Value), &tok.Span)
	}
	if len(p.diags) > 0 {
		return nil, p.diags
	}
	return expr, nil
}

func newParser(source, filename string) (*parser, []diagnostics.Diagnostic) {
	tokens, err := lexer.Tokenize(source, filename)
	if err != nil {
		if le, ok := err.(*lexer.LexError); ok {
			return nil, []diagnostics.Diagnostic{le.Diag}
		}
		return nil, []diagnostics.Diagnostic{diagnostics.MakeDiag(diagnostics.ESyntax, err.Error(), nil, "")}
	}
	return &parser{tokens: tokens}, nil
}

func (p *parser) current() lexer.Token {
	if p.pos >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1] // EOF
	}
	return p.tokens[p.pos]
}

func (p *parser) peek() lexer.TokenType {
	return p.current().Type
}

func (p *parser) advance() lexer.Token {
	tok := p.current()
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

func (p *parser) expect(typ lexer.TokenType) (lexer.Token, bool) {
	tok := p.current()
	if tok.Type != typ {
		p.addError(fmt.Sprintf("expected %s, got '%s'", tokenName(typ), tok.Value), &tok.Span)
		return tok, false
	}
	return p.advance(), true
}

func (p *parser) addError(msg string, span *ast.Span) {
	p.diags = append(p.diags, diagnostics.MakeDiag(diagnostics.ESyntax, msg, span, ""))
}

func (p *parser) spanFrom(start ast.Span) ast.Span {
	cur := p.current().Span
	return ast.Span{
		File:      start.File,
		StartLine: start.StartLine,
		StartCol:  start.StartCol,
		EndLine:   cur.StartLine,
		EndCol:    cur.StartCol,
	}
}

func (p *parser) spanFromTo(start, end ast.Span) ast.Span {
	return ast.Span{
		File:      start.File,
		StartLine: start.StartLine,
		StartCol:  start.StartCol,
		EndLine:   end.EndLine,
		EndCol:    end.EndCol,
	}
}

// prevSpan is the span of the most recently consumed token.
func (p *parser) prevSpan() ast.Span {
	if p.pos == 0 {
		return p.current().Span
	}
	return p.tokens[p.pos-1].Span
}

func tokenName(t lexer.TokenType) string {
	switch t {
	case lexer.TokLBrace:
		return "'{'"
	case lexer.TokRBrace:
		return "'}'"
	case lexer.TokLBracket:
		return "'['"
	case lexer.TokRBracket:
		return "']'"
	case lexer.TokLParen:
		return "'('"
	case lexer.TokRParen:
		return "')'"
	case lexer.TokColon:
		return "':'"
	case lexer.TokComma:
		return "','"
	case lexer.TokEquals:
		return "'='"
	case lexer.TokArrow:
		return "'->'"
	case lexer.TokCatch:
		return "'catch'"
	case lexer.TokStringLit:
		return "string"
	case lexer.TokIntLit:
		return "integer"
	default:
		return t.String()
	}
}

// isName returns true if the token can be used as a record key or name part.
func isName(t lexer.TokenType) bool {
	return t == lexer.TokIdent || t.IsKeyword()
}

// --- Program ---

func (p *parser) parseProgram() *ast.Program {
	startSpan := p.current().Span

	var headers []ast.Header
	for isHeader(p.peek()) {
		h := p.parseHeader()
		if h == nil {
			return nil
		}
		headers = append(headers, h)
	}

	var stmts []ast.Stmt
	for p.peek() != lexer.TokEOF {
		stmt := p.parseStmt()
		if stmt == nil {
			return nil
		}
		stmts = append(stmts, stmt)
	}

	return &ast.Program{
		Span:       p.spanFrom(startSpan),
		Headers:    headers,
		Statements: stmts,
	}
}

// --- Headers ---

func isHeader(t lexer.TokenType) bool {
	return t == lexer.TokCap || t == lexer.TokBudget || t == lexer.TokNs
}

func (p *parser) parseHeader() ast.Header {
	start := p.advance() // 'cap' | 'budget' | 'ns'
	rec := p.parseRecordExpr()
	if rec == nil {
		return nil
	}
	span := p.spanFromTo(start.Span, rec.Span)
	switch start.Type {
	case lexer.TokCap:
		return &ast.CapDecl{Span: span, Capabilities: rec}
	case lexer.TokBudget:
		return &ast.BudgetDecl{Span: span, Budget: rec}
	default:
		return &ast.NsDecl{Span: span, Bindings: rec}
	}
}

// --- Statements ---

func (p *parser) parseStmt() ast.Stmt {
	switch p.peek() {
	case lexer.TokLet:
		if s := p.parseLetStmt(); s != nil {
			return s
		}
	case lexer.TokReturn:
		if s := p.parseReturnStmt(); s != nil {
			return s
		}
	case lexer.TokFn:
		if s := p.parseFnDecl(); s != nil {
			return s
		}
	default:
		if s := p.parseExprStmt(); s != nil {
			return s
		}
	}
	return nil
}

func (p *parser) parseLetStmt() *ast.LetStmt {
	start := p.advance() // 'let'
	nameTok, ok := p.expect(lexer.TokIdent)
	if !ok {
		return nil
	}

	var typeName string
	if p.peek() == lexer.TokAs {
		p.advance()
		tok := p.current()
		if tok.Type != lexer.TokIdent && tok.Type != lexer.TokNull {
			p.addError(fmt.Sprintf("expected type name after 'as', got '%s'", tok.Value), &tok.Span)
			return nil
		}
		p.advance()
		typeName = tok.Value
	}

	if _, ok := p.expect(lexer.TokEquals); !ok {
		return nil
	}
	value := p.parseExpr()
	if value == nil {
		return nil
	}
	return &ast.LetStmt{
		Span:  p.spanFromTo(start.Span, value.NodeSpan()),
		Name:  nameTok.Value,
		Type:  typeName,
		Value: value,
	}
}

func (p *parser) parseReturnStmt() *ast.ReturnStmt {
	start := p.advance() // 'return'
	value := p.parseExpr()
	if value == nil {
		return nil
	}
	return &ast.ReturnStmt{
		Span:  p.spanFromTo(start.Span, value.NodeSpan()),
		Value: value,
	}
}

func (p *parser) parseFnDecl() *ast.FnDecl {
	start := p.advance() // 'fn'
	nameTok, ok := p.expect(lexer.TokIdent)
	if !ok {
		return nil
	}

	// { param1, param2 }
	if _, ok := p.expect(lexer.TokLBrace); !ok {
		return nil
	}
	var params []string
	for p.peek() != lexer.TokRBrace && p.peek() != lexer.TokEOF {
		paramTok, ok := p.expect(lexer.TokIdent)
		if !ok {
			return nil
		}
		params = append(params, paramTok.Value)
		if p.peek() == lexer.TokComma {
			p.advance()
		}
	}
	if _, ok := p.expect(lexer.TokRBrace); !ok {
		return nil
	}

	body := p.parseBlock()
	if body == nil {
		return nil
	}

	return &ast.FnDecl{
		Span:   p.spanFromTo(start.Span, p.prevSpan()),
		Name:   nameTok.Value,
		Params: params,
		Body:   body,
	}
}

func (p *parser) parseExprStmt() *ast.ExprStmt {
	expr := p.parseExpr()
	if expr == nil {
		return nil
	}

	var target *ast.IdentPath
	endSpan := expr.NodeSpan()
	if p.peek() == lexer.TokArrow {
		p.advance()
		ip := p.parseIdentPath()
		if ip == nil {
			return nil
		}
		target = ip
		endSpan = ip.Span
	}

	return &ast.ExprStmt{
		Span:   p.spanFromTo(expr.NodeSpan(), endSpan),
		Expr:   expr,
		Target: target,
	}
}

// --- Block ---

// parseBlock parses `{ stmt* }`. An empty block yields a non-nil empty slice
// so callers can tell it apart from a parse failure.
func (p *parser) parseBlock() []ast.Stmt {
	if _, ok := p.expect(lexer.TokLBrace); !ok {
		return nil
	}
	stmts := []ast.Stmt{}
	for p.peek() != lexer.TokRBrace && p.peek() != lexer.TokEOF {
		stmt := p.parseStmt()
		if stmt == nil {
			return nil
		}
		stmts = append(stmts, stmt)
	}
	if _, ok := p.expect(lexer.TokRBrace); !ok {
		return nil
	}
	return stmts
}

// --- Expressions ---

func (p *parser) parseExpr() ast.Expr {
	switch p.peek() {
	case lexer.TokIf:
		return p.parseIf()
	case lexer.TokFor:
		return p.parseFor()
	case lexer.TokCallQ, lexer.TokDo:
		return p.parseToolExpr()
	case lexer.TokTry:
		return p.parseTryExpr()
	default:
		return p.parseComparison()
	}
}

func (p *parser) parseIf() ast.Expr {
	start := p.advance() // 'if'

	if p.peek() == lexer.TokLParen {
		return p.parseIfBlock(start)
	}
	return p.parseIfInline(start)
}

// parseIfBlock parses `if (cond) { ... } else { ... }`.
func (p *parser) parseIfBlock(start lexer.Token) ast.Expr {
	p.advance() // '('
	cond := p.parseExpr()
	if cond == nil {
		return nil
	}
	if _, ok := p.expect(lexer.TokRParen); !ok {
		return nil
	}

	thenBody := p.parseBlock()
	if thenBody == nil {
		return nil
	}

	var elseBody []ast.Stmt
	if p.peek() == lexer.TokElse {
		p.advance()
		if p.peek() == lexer.TokIf {
			nested := p.parseIf()
			if nested == nil {
				return nil
			}
			elseBody = []ast.Stmt{&ast.ExprStmt{Span: nested.NodeSpan(), Expr: nested}}
		} else {
			elseBody = p.parseBlock()
			if elseBody == nil {
				return nil
			}
		}
	}

	return &ast.IfBlockExpr{
		Span:     p.spanFromTo(start.Span, p.prevSpan()),
		Cond:     cond,
		ThenBody: thenBody,
		ElseBody: elseBody,
	}
}

// parseIfInline parses `if { cond: ..., then: ..., else: ... }`.
func (p *parser) parseIfInline(start lexer.Token) ast.Expr {
	rec := p.parseRecordExpr()
	if rec == nil {
		return nil
	}

	fields := recordFields(rec)
	condExpr, thenExpr, elseExpr := fields["cond"], fields["then"], fields["else"]
	if condExpr == nil || thenExpr == nil || elseExpr == nil {
		span := rec.Span
		p.addError("if expression requires 'cond', 'then', and 'else' fields", &span)
		return nil
	}

	return &ast.IfExpr{
		Span: p.spanFromTo(start.Span, rec.Span),
		Cond: condExpr,
		Then: thenExpr,
		Else: elseExpr,
	}
}

// parseFor parses `for { in: expr, as: "name" } { body }`.
func (p *parser) parseFor() ast.Expr {
	start := p.advance() // 'for'

	rec := p.parseRecordExpr()
	if rec == nil {
		return nil
	}

	fields := recordFields(rec)
	listExpr := fields["in"]
	var binding string
	if strLit, ok := fields["as"].(*ast.StrLiteral); ok {
		binding = strLit.Value
	}

	if listExpr == nil {
		span := rec.Span
		p.addError("for expression requires 'in' field", &span)
		return nil
	}
	if binding == "" {
		span := rec.Span
		p.addError("for expression requires 'as' field with string binding name", &span)
		return nil
	}

	body := p.parseBlock()
	if body == nil {
		return nil
	}

	return &ast.ForExpr{
		Span:    p.spanFromTo(start.Span, p.prevSpan()),
		List:    listExpr,
		Binding: binding,
		Body:    body,
	}
}

func recordFields(rec *ast.RecordExpr) map[string]ast.Expr {
	fields := make(map[string]ast.Expr, len(rec.Pairs))
	for _, entry := range rec.Pairs {
		if pair, ok := entry.(*ast.RecordPair); ok {
			fields[pair.Key] = pair.Value
		}
	}
	return fields
}

// parseToolExpr parses `call? tool { args }` and `do tool { args }`.
func (p *parser) parseToolExpr() ast.Expr {
	start := p.advance()
	tool := p.parseIdentPath()
	if tool == nil {
		return nil
	}
	args := p.parseRecordExpr()
	if args == nil {
		return nil
	}
	span := p.spanFromTo(start.Span, args.Span)
	if start.Type == lexer.TokDo {
		return &ast.DoExpr{Span: span, Tool: tool, Args: args}
	}
	return &ast.CallExpr{Span: span, Tool: tool, Args: args}
}

// --- Try / catch ---

// parseTryExpr parses `try { ... } catch tests { ... } (catch tests { ... })*`.
func (p *parser) parseTryExpr() ast.Expr {
	start := p.advance() // 'try'
	guard := p.parseBlock()
	if guard == nil {
		return nil
	}
	if p.peek() != lexer.TokCatch {
		tok := p.current()
		p.addError(fmt.Sprintf("expected 'catch' after try block, got '%s'", tok.Value), &tok.Span)
		return nil
	}

	var clauses []*ast.CatchClause
	for p.peek() == lexer.TokCatch {
		clause := p.parseCatchClause()
		if clause == nil {
			return nil
		}
		clauses = append(clauses, clause)
	}

	return &ast.TryExpr{
		Span:    p.spanFromTo(start.Span, p.prevSpan()),
		Guard:   guard,
		Clauses: clauses,
	}
}

func (p *parser) parseCatchClause() *ast.CatchClause {
	start := p.advance() // 'catch'

	var tests []*ast.NameTest
	for {
		nt := p.parseNameTest()
		if nt == nil {
			return nil
		}
		tests = append(tests, nt)
		if p.peek() != lexer.TokPipe {
			break
		}
		p.advance()
	}

	body := p.parseBlock()
	if body == nil {
		return nil
	}
	return &ast.CatchClause{
		Span:  p.spanFromTo(start.Span, p.prevSpan()),
		Tests: tests,
		Body:  body,
	}
}

// parseNameTest parses one of: *, *:local, prefix:*, prefix:local, local,
// Q{uri}local, Q{uri}*.
func (p *parser) parseNameTest() *ast.NameTest {
	tok := p.current()
	switch {
	case tok.Type == lexer.TokStar:
		p.advance()
		if p.peek() != lexer.TokColon {
			return &ast.NameTest{Span: tok.Span, Local: ast.Wildcard}
		}
		p.advance()
		local, ok := p.expectName()
		if !ok {
			return nil
		}
		return &ast.NameTest{Span: p.spanFromTo(tok.Span, local.Span), Prefix: ast.Wildcard, Local: local.Value}

	case tok.Type == lexer.TokQURI:
		p.advance()
		if p.peek() == lexer.TokStar {
			end := p.advance()
			return &ast.NameTest{Span: p.spanFromTo(tok.Span, end.Span), URIQualified: true, URI: tok.Value, Local: ast.Wildcard}
		}
		local, ok := p.expectName()
		if !ok {
			return nil
		}
		return &ast.NameTest{Span: p.spanFromTo(tok.Span, local.Span), URIQualified: true, URI: tok.Value, Local: local.Value}

	case isName(tok.Type):
		p.advance()
		if p.peek() != lexer.TokColon {
			return &ast.NameTest{Span: tok.Span, Local: tok.Value}
		}
		p.advance()
		if p.peek() == lexer.TokStar {
			end := p.advance()
			return &ast.NameTest{Span: p.spanFromTo(tok.Span, end.Span), Prefix: tok.Value, Local: ast.Wildcard}
		}
		local, ok := p.expectName()
		if !ok {
			return nil
		}
		return &ast.NameTest{Span: p.spanFromTo(tok.Span, local.Span), Prefix: tok.Value, Local: local.Value}

	default:
		p.addError(fmt.Sprintf("expected error name test in catch clause, got '%s'", tok.Value), &tok.Span)
		return nil
	}
}

func (p *parser) expectName() (lexer.Token, bool) {
	tok := p.current()
	if !isName(tok.Type) {
		p.addError(fmt.Sprintf("expected name, got '%s'", tok.Value), &tok.Span)
		return tok, false
	}
	return p.advance(), true
}

// --- Precedence climbing ---

var comparisonOps = map[lexer.TokenType]ast.BinaryOp{
	lexer.TokGt:     ast.OpGt,
	lexer.TokLt:     ast.OpLt,
	lexer.TokGtEq:   ast.OpGtEq,
	lexer.TokLtEq:   ast.OpLtEq,
	lexer.TokEqEq:   ast.OpEqEq,
	lexer.TokBangEq: ast.OpNeq,
}

var additiveOps = map[lexer.TokenType]ast.BinaryOp{
	lexer.TokPlus:  ast.OpAdd,
	lexer.TokMinus: ast.OpSub,
}

var multiplicativeOps = map[lexer.TokenType]ast.BinaryOp{
	lexer.TokStar:    ast.OpMul,
	lexer.TokSlash:   ast.OpDiv,
	lexer.TokPercent: ast.OpMod,
}

func (p *parser) parseComparison() ast.Expr {
	return p.parseBinary(comparisonOps, p.parseAdditive)
}

func (p *parser) parseAdditive() ast.Expr {
	return p.parseBinary(additiveOps, p.parseMultiplicative)
}

func (p *parser) parseMultiplicative() ast.Expr {
	return p.parseBinary(multiplicativeOps, p.parseUnary)
}

func (p *parser) parseBinary(ops map[lexer.TokenType]ast.BinaryOp, next func() ast.Expr) ast.Expr {
	left := next()
	if left == nil {
		return nil
	}
	for {
		op, ok := ops[p.peek()]
		if !ok {
			return left
		}
		p.advance()
		right := next()
		if right == nil {
			return nil
		}
		left = &ast.BinaryExpr{
			Span:  p.spanFromTo(left.NodeSpan(), right.NodeSpan()),
			Op:    op,
			Left:  left,
			Right: right,
		}
	}
}

func (p *parser) parseUnary() ast.Expr {
	if p.peek() == lexer.TokMinus {
		start := p.advance()
		operand := p.parseUnary()
		if operand == nil {
			return nil
		}
		return &ast.UnaryExpr{
			Span:    p.spanFromTo(start.Span, operand.NodeSpan()),
			Op:      ast.OpNeg,
			Operand: operand,
		}
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() ast.Expr {
	switch p.peek() {
	case lexer.TokLParen:
		p.advance()
		expr := p.parseExpr()
		if expr == nil {
			return nil
		}
		if _, ok := p.expect(lexer.TokRParen); !ok {
			return nil
		}
		return expr

	case lexer.TokLBrace:
		if rec := p.parseRecordExpr(); rec != nil {
			return rec
		}
		return nil

	case lexer.TokLBracket:
		if list := p.parseListExpr(); list != nil {
			return list
		}
		return nil

	case lexer.TokIntLit:
		tok := p.advance()
		val, err := strconv.ParseInt(tok.Value, 10, 64)
		if err != nil {
			p.addError(fmt.Sprintf("integer literal '%s' out of range", tok.Value), &tok.Span)
			return nil
		}
		return &ast.IntLiteral{Span: tok.Span, Value: val}

	case lexer.TokFloatLit:
		tok := p.advance()
		val, _ := strconv.ParseFloat(tok.Value, 64)
		return &ast.FloatLiteral{Span: tok.Span, Value: val}

	case lexer.TokStringLit:
		tok := p.advance()
		return &ast.StrLiteral{Span: tok.Span, Value: tok.Value}

	case lexer.TokTrue, lexer.TokFalse:
		tok := p.advance()
		return &ast.BoolLiteral{Span: tok.Span, Value: tok.Type == lexer.TokTrue}

	case lexer.TokNull:
		tok := p.advance()
		return &ast.NullLiteral{Span: tok.Span}

	case lexer.TokCtxVar:
		tok := p.advance()
		return &ast.ContextVar{Span: tok.Span, Name: tok.Value}

	case lexer.TokIdent:
		return p.parseIdentOrFnCall()

	default:
		tok := p.current()
		p.addError(fmt.Sprintf("unexpected token '%s'", tok.Value), &tok.Span)
		return nil
	}
}

func (p *parser) parseIdentOrFnCall() ast.Expr {
	ip := p.parseIdentPath()
	if ip == nil {
		return nil
	}

	if p.peek() == lexer.TokLBrace {
		args := p.parseRecordExpr()
		if args == nil {
			return nil
		}
		return &ast.FnCallExpr{
			Span: p.spanFromTo(ip.Span, args.Span),
			Name: ip,
			Args: args,
		}
	}

	return ip
}

func (p *parser) parseIdentPath() *ast.IdentPath {
	tok, ok := p.expect(lexer.TokIdent)
	if !ok {
		return nil
	}
	parts := []string{tok.Value}
	endSpan := tok.Span

	for p.peek() == lexer.TokDot {
		p.advance()
		next, ok := p.expectName()
		if !ok {
			return nil
		}
		parts = append(parts, next.Value)
		endSpan = next.Span
	}

	return &ast.IdentPath{
		Span:  p.spanFromTo(tok.Span, endSpan),
		Parts: parts,
	}
}

func (p *parser) parseRecordExpr() *ast.RecordExpr {
	start, ok := p.expect(lexer.TokLBrace)
	if !ok {
		return nil
	}

	var entries []ast.RecordEntry

	for p.peek() != lexer.TokRBrace && p.peek() != lexer.TokEOF {
		switch {
		case p.peek() == lexer.TokDotDotDot:
			spreadStart := p.advance()
			expr := p.parseExpr()
			if expr == nil {
				return nil
			}
			entries = append(entries, &ast.SpreadPair{
				Span: p.spanFromTo(spreadStart.Span, expr.NodeSpan()),
				Expr: expr,
			})

		case isName(p.peek()) || p.peek() == lexer.TokStringLit:
			keyTok := p.advance()
			key := keyTok.Value

			// dotted keys: fs.read
			for keyTok.Type != lexer.TokStringLit && p.peek() == lexer.TokDot {
				p.advance()
				next, ok := p.expectName()
				if !ok {
					return nil
				}
				key += "." + next.Value
			}

			if _, ok := p.expect(lexer.TokColon); !ok {
				return nil
			}
			value := p.parseExpr()
			if value == nil {
				return nil
			}
			entries = append(entries, &ast.RecordPair{
				Span:  p.spanFromTo(keyTok.Span, value.NodeSpan()),
				Key:   key,
				Value: value,
			})

		default:
			tok := p.current()
			p.addError(fmt.Sprintf("unexpected token '%s' in record", tok.Value), &tok.Span)
			return nil
		}

		if p.peek() == lexer.TokComma {
			p.advance()
		}
	}

	end, ok := p.expect(lexer.TokRBrace)
	if !ok {
		return nil
	}

	return &ast.RecordExpr{
		Span:  p.spanFromTo(start.Span, end.Span),
		Pairs: entries,
	}
}

func (p *parser) parseListExpr() *ast.ListExpr {
	start, ok := p.expect(lexer.TokLBracket)
	if !ok {
		return nil
	}

	var elements []ast.Expr
	for p.peek() != lexer.TokRBracket && p.peek() != lexer.TokEOF {
		elem := p.parseExpr()
		if elem == nil {
			return nil
		}
		elements = append(elements, elem)
		if p.peek() == lexer.TokComma {
			p.advance()
		}
	}

	end, ok := p.expect(lexer.TokRBracket)
	if !ok {
		return nil
	}

	return &ast.ListExpr{
		Span:     p.spanFromTo(start.Span, end.Span),
		Elements: elements,
	}
}
