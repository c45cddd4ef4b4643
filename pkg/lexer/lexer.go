// Package lexer turns guarded-evaluation source into tokens.
package lexer

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/thomasrohde/guardeval/pkg/ast"
	"github.com/thomasrohde/guardeval/pkg/diagnostics"
)

// TokenType identifies the type of a lexer token.
type TokenType int

const (
	// Keywords
	TokCap TokenType = iota
	TokBudget
	TokNs
	TokAs
	TokLet
	TokReturn
	TokCallQ // call?
	TokDo
	TokTrue
	TokFalse
	TokNull
	TokIf
	TokElse
	TokFor
	TokFn
	TokTry
	TokCatch

	// Literals
	TokIntLit
	TokFloatLit
	TokStringLit

	// Identifiers
	TokIdent
	TokQURI   // Q{uri}, Value holds the URI
	TokCtxVar // $err:code, Value holds the name after '$'

	// Punctuation
	TokLBrace    // {
	TokRBrace    // }
	TokLBracket  // [
	TokRBracket  // ]
	TokLParen    // (
	TokRParen    // )
	TokColon     // :
	TokComma     // ,
	TokDotDotDot // ...
	TokDot       // .
	TokArrow     // ->
	TokEquals    // =
	TokPipe      // |

	// Comparison operators
	TokGtEq   // >=
	TokLtEq   // <=
	TokEqEq   // ==
	TokBangEq // !=
	TokGt     // >
	TokLt     // <

	// Arithmetic operators
	TokPlus    // +
	TokMinus   // -
	TokStar    // *
	TokSlash   // /
	TokPercent // %

	// Special
	TokEOF
)

var tokenNames = map[TokenType]string{
	TokQURI:   "Q{...}",
	TokCtxVar: "$variable",
	TokIdent:  "identifier",
	TokEOF:    "end of input",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// IsKeyword reports whether t is a reserved word.
func (t TokenType) IsKeyword() bool {
	return t >= TokCap && t <= TokCatch
}

// Token represents a single lexer token.
type Token struct {
	Type  TokenType
	Value string
	Span  ast.Span
}

var keywords = map[string]TokenType{
	"cap":    TokCap,
	"budget": TokBudget,
	"ns":     TokNs,
	"as":     TokAs,
	"let":    TokLet,
	"return": TokReturn,
	"do":     TokDo,
	"true":   TokTrue,
	"false":  TokFalse,
	"null":   TokNull,
	"if":     TokIf,
	"else":   TokElse,
	"for":    TokFor,
	"fn":     TokFn,
	"try":    TokTry,
	"catch":  TokCatch,
}

type scanner struct {
	source   string
	filename string
	pos      int
	line     int
	col      int
}

func newScanner(source, filename string) *scanner {
	return &scanner{
		source:   source,
		filename: filename,
		line:     1,
		col:      1,
	}
}

func (s *scanner) atEnd() bool {
	return s.pos >= len(s.source)
}

func (s *scanner) peek() byte {
	if s.atEnd() {
		return 0
	}
	return s.source[s.pos]
}

func (s *scanner) peekAt(offset int) byte {
	p := s.pos + offset
	if p >= len(s.source) {
		return 0
	}
	return s.source[p]
}

func (s *scanner) advance() byte {
	ch := s.source[s.pos]
	s.pos++
	if ch == '\n' {
		s.line++
		s.col = 1
	} else {
		s.col++
	}
	return ch
}

func (s *scanner) span(startLine, startCol int) ast.Span {
	return ast.Span{
		File:      s.filename,
		StartLine: startLine,
		StartCol:  startCol,
		EndLine:   s.line,
		EndCol:    s.col,
	}
}

func (s *scanner) token(typ TokenType, value string, startLine, startCol int) Token {
	return Token{Type: typ, Value: value, Span: s.span(startLine, startCol)}
}

func (s *scanner) skipWhitespaceAndComments() {
	for !s.atEnd() {
		ch := s.peek()
		if ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n' {
			s.advance()
		} else if ch == '#' {
			for !s.atEnd() && s.peek() != '\n' {
				s.advance()
			}
		} else {
			break
		}
	}
}

func isAlpha(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isAlphaNumeric(ch byte) bool {
	return isAlpha(ch) || isDigit(ch)
}

// isNameChar accepts the characters allowed after the first one in a
// context-variable name, which may contain '-' and '.' (line-number).
func isNameChar(ch byte) bool {
	return isAlphaNumeric(ch) || ch == '-' || ch == '.'
}

func (s *scanner) scanString() (Token, error) {
	startLine, startCol := s.line, s.col
	s.advance() // opening "

	var buf strings.Builder
	for !s.atEnd() {
		ch := s.peek()
		switch {
		case ch == '"':
			s.advance()
			return s.token(TokStringLit, buf.String(), startLine, startCol), nil
		case ch == '\\':
			s.advance()
			if s.atEnd() {
				return Token{}, s.lexError(startLine, startCol, "unterminated string escape")
			}
			esc := s.advance()
			switch esc {
			case '"':
				buf.WriteByte('"')
			case '\\':
				buf.WriteByte('\\')
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case '/':
				buf.WriteByte('/')
			case 'u':
				if s.pos+4 > len(s.source) {
					return Token{}, s.lexError(startLine, startCol, "incomplete unicode escape")
				}
				hexStr := s.source[s.pos : s.pos+4]
				codepoint, err := strconv.ParseUint(hexStr, 16, 32)
				if err != nil {
					return Token{}, s.lexError(startLine, startCol, fmt.Sprintf("invalid unicode escape: \\u%s", hexStr))
				}
				buf.WriteRune(rune(codepoint))
				for i := 0; i < 4; i++ {
					s.advance()
				}
			default:
				return Token{}, s.lexError(startLine, startCol, fmt.Sprintf("invalid escape character: \\%c", esc))
			}
		case ch == '\n':
			return Token{}, s.lexError(startLine, startCol, "unterminated string literal")
		default:
			r, size := utf8.DecodeRuneInString(s.source[s.pos:])
			if r == utf8.RuneError && size == 1 {
				return Token{}, s.lexError(startLine, startCol, "invalid UTF-8 character in string")
			}
			buf.WriteRune(r)
			for i := 0; i < size; i++ {
				s.advance()
			}
		}
	}
	return Token{}, s.lexError(startLine, startCol, "unterminated string literal")
}

func (s *scanner) scanNumber() Token {
	startLine, startCol := s.line, s.col
	startPos := s.pos
	isFloat := false

	for !s.atEnd() && isDigit(s.peek()) {
		s.advance()
	}

	// A '.' only starts a fraction when a digit follows; `1...` stays a spread.
	if s.peek() == '.' && isDigit(s.peekAt(1)) {
		isFloat = true
		s.advance()
		for !s.atEnd() && isDigit(s.peek()) {
			s.advance()
		}
	}

	if s.peek() == 'e' || s.peek() == 'E' {
		isFloat = true
		s.advance()
		if s.peek() == '+' || s.peek() == '-' {
			s.advance()
		}
		for !s.atEnd() && isDigit(s.peek()) {
			s.advance()
		}
	}

	tokType := TokIntLit
	if isFloat {
		tokType = TokFloatLit
	}
	return s.token(tokType, s.source[startPos:s.pos], startLine, startCol)
}

func (s *scanner) scanIdentOrKeyword() (Token, error) {
	startLine, startCol := s.line, s.col
	startPos := s.pos

	if s.peek() == 'Q' && s.peekAt(1) == '{' {
		return s.scanQURI()
	}

	for !s.atEnd() && isAlphaNumeric(s.peek()) {
		s.advance()
	}
	text := s.source[startPos:s.pos]

	if text == "call" && s.peek() == '?' {
		s.advance()
		return s.token(TokCallQ, "call?", startLine, startCol), nil
	}
	if tokType, ok := keywords[text]; ok {
		return s.token(tokType, text, startLine, startCol), nil
	}
	return s.token(TokIdent, text, startLine, startCol), nil
}

// scanQURI scans the braced URI of Q{uri}. The URI may not contain '{' or '}'.
func (s *scanner) scanQURI() (Token, error) {
	startLine, startCol := s.line, s.col
	s.advance() // Q
	s.advance() // {
	start := s.pos
	for !s.atEnd() && s.peek() != '}' {
		if c := s.peek(); c == '{' || c == '\n' {
			return Token{}, s.lexError(startLine, startCol, "invalid character in Q{...} namespace URI")
		}
		s.advance()
	}
	if s.atEnd() {
		return Token{}, s.lexError(startLine, startCol, "unterminated Q{...} namespace URI")
	}
	uri := strings.TrimSpace(s.source[start:s.pos])
	s.advance() // }
	return s.token(TokQURI, uri, startLine, startCol), nil
}

// scanCtxVar scans $name, $prefix:name or $Q{uri}name.
func (s *scanner) scanCtxVar() (Token, error) {
	startLine, startCol := s.line, s.col
	s.advance() // $

	var buf strings.Builder
	if s.peek() == 'Q' && s.peekAt(1) == '{' {
		q, err := s.scanQURI()
		if err != nil {
			return Token{}, err
		}
		buf.WriteString("Q{" + q.Value + "}")
	}
	local, ok := s.scanName()
	if !ok {
		return Token{}, s.lexError(startLine, startCol, "expected variable name after '$'")
	}
	buf.WriteString(local)
	if buf.Len() == len(local) && s.peek() == ':' && isAlpha(s.peekAt(1)) {
		s.advance()
		rest, _ := s.scanName()
		buf.WriteString(":" + rest)
	}
	return s.token(TokCtxVar, buf.String(), startLine, startCol), nil
}

func (s *scanner) scanName() (string, bool) {
	if !isAlpha(s.peek()) {
		return "", false
	}
	start := s.pos
	for !s.atEnd() && isNameChar(s.peek()) {
		s.advance()
	}
	return s.source[start:s.pos], true
}

func (s *scanner) lexError(line, col int, msg string) error {
	diag := diagnostics.MakeDiag(
		diagnostics.ESyntax,
		msg,
		&ast.Span{File: s.filename, StartLine: line, StartCol: col, EndLine: line, EndCol: col + 1},
		"",
	)
	return &LexError{Diag: diag}
}

// LexError wraps a diagnostic for lex errors.
type LexError struct {
	Diag diagnostics.Diagnostic
}

func (e *LexError) Error() string {
	return e.Diag.Message
}

var singleChar = map[byte]TokenType{
	'{': TokLBrace,
	'}': TokRBrace,
	'[': TokLBracket,
	']': TokRBracket,
	'(': TokLParen,
	')': TokRParen,
	':': TokColon,
	',': TokComma,
	'+': TokPlus,
	'*': TokStar,
	'%': TokPercent,
	'/': TokSlash,
	'|': TokPipe,
}

func (s *scanner) nextToken() (Token, error) {
	s.skipWhitespaceAndComments()

	if s.atEnd() {
		return s.token(TokEOF, "", s.line, s.col), nil
	}

	ch := s.peek()
	startLine, startCol := s.line, s.col

	if typ, ok := singleChar[ch]; ok {
		s.advance()
		return s.token(typ, string(ch), startLine, startCol), nil
	}

	switch ch {
	case '-':
		s.advance()
		if s.peek() == '>' {
			s.advance()
			return s.token(TokArrow, "->", startLine, startCol), nil
		}
		return s.token(TokMinus, "-", startLine, startCol), nil

	case '.':
		if s.peekAt(1) == '.' && s.peekAt(2) == '.' {
			s.advance()
			s.advance()
			s.advance()
			return s.token(TokDotDotDot, "...", startLine, startCol), nil
		}
		s.advance()
		return s.token(TokDot, ".", startLine, startCol), nil

	case '=':
		s.advance()
		if s.peek() == '=' {
			s.advance()
			return s.token(TokEqEq, "==", startLine, startCol), nil
		}
		return s.token(TokEquals, "=", startLine, startCol), nil

	case '!':
		s.advance()
		if s.peek() == '=' {
			s.advance()
			return s.token(TokBangEq, "!=", startLine, startCol), nil
		}
		return Token{}, s.lexError(startLine, startCol, "unexpected character '!'")

	case '>':
		s.advance()
		if s.peek() == '=' {
			s.advance()
			return s.token(TokGtEq, ">=", startLine, startCol), nil
		}
		return s.token(TokGt, ">", startLine, startCol), nil

	case '<':
		s.advance()
		if s.peek() == '=' {
			s.advance()
			return s.token(TokLtEq, "<=", startLine, startCol), nil
		}
		return s.token(TokLt, "<", startLine, startCol), nil

	case '"':
		return s.scanString()

	case '$':
		return s.scanCtxVar()
	}

	if isDigit(ch) {
		return s.scanNumber(), nil
	}
	if isAlpha(ch) {
		return s.scanIdentOrKeyword()
	}

	s.advance()
	return Token{}, s.lexError(startLine, startCol, fmt.Sprintf("unexpected character '%c'", ch))
}

// Tokenize breaks source code into a slice of tokens ending in TokEOF.
func Tokenize(source, filename string) ([]Token, error) {
	s := newScanner(source, filename)
	var tokens []Token

	for {
		tok, err := s.nextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokEOF {
			break
		}
	}

	return tokens, nil
}
