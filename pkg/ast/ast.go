// Package ast defines the AST node types of the guarded-evaluation language.
package ast

// Span represents a source location range.
type Span struct {
	File      string `json:"file"`
	StartLine int    `json:"startLine"`
	StartCol  int    `json:"startCol"`
	EndLine   int    `json:"endLine"`
	EndCol    int    `json:"endCol"`
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Kind() string
	NodeSpan() Span
}

// BinaryOp represents a binary operator.
type BinaryOp string

const (
	OpAdd  BinaryOp = "+"
	OpSub  BinaryOp = "-"
	OpMul  BinaryOp = "*"
	OpDiv  BinaryOp = "/"
	OpMod  BinaryOp = "%"
	OpGt   BinaryOp = ">"
	OpLt   BinaryOp = "<"
	OpGtEq BinaryOp = ">="
	OpLtEq BinaryOp = "<="
	OpEqEq BinaryOp = "=="
	OpNeq  BinaryOp = "!="
)

// UnaryOp represents a unary operator.
type UnaryOp string

const (
	OpNeg UnaryOp = "-"
)

// TypeNames lists the type names accepted by `let x as T` and `treat`.
var TypeNames = map[string]bool{
	"any":     true,
	"null":    true,
	"bool":    true,
	"number":  true,
	"integer": true,
	"string":  true,
	"list":    true,
	"record":  true,
	"qname":   true,
}

// Wildcard is the Prefix or Local value of a wildcard name test part.
const Wildcard = "*"

// --- Expr is the interface for all expression nodes ---

type Expr interface {
	Node
	exprNode() // sealed marker
}

// --- Stmt is the interface for all statement nodes ---

type Stmt interface {
	Node
	stmtNode() // sealed marker
}

// --- Header is the interface for all header declaration nodes ---

type Header interface {
	Node
	headerNode() // sealed marker
}

// --- Literal Expressions ---

type IntLiteral struct {
	Span  Span
	Value int64
}

func (n *IntLiteral) Kind() string   { return "IntLiteral" }
func (n *IntLiteral) NodeSpan() Span { return n.Span }
func (n *IntLiteral) exprNode()      {}

type FloatLiteral struct {
	Span  Span
	Value float64
}

func (n *FloatLiteral) Kind() string   { return "FloatLiteral" }
func (n *FloatLiteral) NodeSpan() Span { return n.Span }
func (n *FloatLiteral) exprNode()      {}

type BoolLiteral struct {
	Span  Span
	Value bool
}

func (n *BoolLiteral) Kind() string   { return "BoolLiteral" }
func (n *BoolLiteral) NodeSpan() Span { return n.Span }
func (n *BoolLiteral) exprNode()      {}

type StrLiteral struct {
	Span  Span
	Value string
}

func (n *StrLiteral) Kind() string   { return "StrLiteral" }
func (n *StrLiteral) NodeSpan() Span { return n.Span }
func (n *StrLiteral) exprNode()      {}

type NullLiteral struct {
	Span Span
}

func (n *NullLiteral) Kind() string   { return "NullLiteral" }
func (n *NullLiteral) NodeSpan() Span { return n.Span }
func (n *NullLiteral) exprNode()      {}

// --- Identifiers ---

type IdentPath struct {
	Span  Span
	Parts []string
}

func (n *IdentPath) Kind() string   { return "IdentPath" }
func (n *IdentPath) NodeSpan() Span { return n.Span }
func (n *IdentPath) exprNode()      {}

// ContextVar is a `$name` reference to an error-context binding. Name is the
// lexical form after the `$`, e.g. "err:code" or "Q{uri}line-number".
type ContextVar struct {
	Span Span
	Name string
}

func (n *ContextVar) Kind() string   { return "ContextVar" }
func (n *ContextVar) NodeSpan() Span { return n.Span }
func (n *ContextVar) exprNode()      {}

// --- Collections ---

// RecordEntry is a union of RecordPair and SpreadPair in record expressions.
type RecordEntry interface {
	Node
	recordEntryNode() // sealed marker
}

type RecordPair struct {
	Span  Span
	Key   string
	Value Expr
}

func (n *RecordPair) Kind() string     { return "RecordPair" }
func (n *RecordPair) NodeSpan() Span   { return n.Span }
func (n *RecordPair) recordEntryNode() {}

type SpreadPair struct {
	Span Span
	Expr Expr
}

func (n *SpreadPair) Kind() string     { return "SpreadPair" }
func (n *SpreadPair) NodeSpan() Span   { return n.Span }
func (n *SpreadPair) recordEntryNode() {}

type RecordExpr struct {
	Span  Span
	Pairs []RecordEntry
}

func (n *RecordExpr) Kind() string   { return "RecordExpr" }
func (n *RecordExpr) NodeSpan() Span { return n.Span }
func (n *RecordExpr) exprNode()      {}

type ListExpr struct {
	Span     Span
	Elements []Expr
}

func (n *ListExpr) Kind() string   { return "ListExpr" }
func (n *ListExpr) NodeSpan() Span { return n.Span }
func (n *ListExpr) exprNode()      {}

// --- Tool Expressions ---

type CallExpr struct {
	Span Span
	Tool *IdentPath
	Args *RecordExpr
}

func (n *CallExpr) Kind() string   { return "CallExpr" }
func (n *CallExpr) NodeSpan() Span { return n.Span }
func (n *CallExpr) exprNode()      {}

type DoExpr struct {
	Span Span
	Tool *IdentPath
	Args *RecordExpr
}

func (n *DoExpr) Kind() string   { return "DoExpr" }
func (n *DoExpr) NodeSpan() Span { return n.Span }
func (n *DoExpr) exprNode()      {}

type FnCallExpr struct {
	Span Span
	Name *IdentPath
	Args *RecordExpr
}

func (n *FnCallExpr) Kind() string   { return "FnCallExpr" }
func (n *FnCallExpr) NodeSpan() Span { return n.Span }
func (n *FnCallExpr) exprNode()      {}

// --- Control Flow ---

type IfExpr struct {
	Span Span
	Cond Expr
	Then Expr
	Else Expr
}

func (n *IfExpr) Kind() string   { return "IfExpr" }
func (n *IfExpr) NodeSpan() Span { return n.Span }
func (n *IfExpr) exprNode()      {}

type IfBlockExpr struct {
	Span     Span
	Cond     Expr
	ThenBody []Stmt
	ElseBody []Stmt
}

func (n *IfBlockExpr) Kind() string   { return "IfBlockExpr" }
func (n *IfBlockExpr) NodeSpan() Span { return n.Span }
func (n *IfBlockExpr) exprNode()      {}

type ForExpr struct {
	Span    Span
	List    Expr
	Binding string
	Body    []Stmt
}

func (n *ForExpr) Kind() string   { return "ForExpr" }
func (n *ForExpr) NodeSpan() Span { return n.Span }
func (n *ForExpr) exprNode()      {}

// --- Binary & Unary Expressions ---

type BinaryExpr struct {
	Span  Span
	Op    BinaryOp
	Left  Expr
	Right Expr
}

func (n *BinaryExpr) Kind() string   { return "BinaryExpr" }
func (n *BinaryExpr) NodeSpan() Span { return n.Span }
func (n *BinaryExpr) exprNode()      {}

type UnaryExpr struct {
	Span    Span
	Op      UnaryOp
	Operand Expr
}

func (n *UnaryExpr) Kind() string   { return "UnaryExpr" }
func (n *UnaryExpr) NodeSpan() Span { return n.Span }
func (n *UnaryExpr) exprNode()      {}

// --- Error Handling ---

// NameTest is a catch-clause filter as written in source. Prefix or Local
// hold Wildcard for the `*` parts. URIQualified marks the `Q{uri}` forms, in
// which case URI is set and Prefix is empty.
//
//	*          Local: "*"
//	*:local    Prefix: "*", Local: "local"
//	p:*        Prefix: "p", Local: "*"
//	p:local    Prefix: "p", Local: "local"
//	local      Local: "local"
//	Q{u}local  URIQualified, URI: "u", Local: "local"
//	Q{u}*      URIQualified, URI: "u", Local: "*"
type NameTest struct {
	Span         Span
	Prefix       string
	URI          string
	URIQualified bool
	Local        string
}

func (n *NameTest) Kind() string   { return "NameTest" }
func (n *NameTest) NodeSpan() Span { return n.Span }

// String renders the test in source form.
func (n *NameTest) String() string {
	switch {
	case n.URIQualified:
		return "Q{" + n.URI + "}" + n.Local
	case n.Prefix != "":
		return n.Prefix + ":" + n.Local
	default:
		return n.Local
	}
}

type CatchClause struct {
	Span  Span
	Tests []*NameTest
	Body  []Stmt
}

func (n *CatchClause) Kind() string   { return "CatchClause" }
func (n *CatchClause) NodeSpan() Span { return n.Span }

// TryExpr guards Guard and dispatches failures to Clauses in source order.
// The parser never produces a TryExpr without clauses.
type TryExpr struct {
	Span    Span
	Guard   []Stmt
	Clauses []*CatchClause
}

func (n *TryExpr) Kind() string   { return "TryExpr" }
func (n *TryExpr) NodeSpan() Span { return n.Span }
func (n *TryExpr) exprNode()      {}

// --- Statements ---

type LetStmt struct {
	Span  Span
	Name  string
	Type  string // optional declared type
	Value Expr
}

func (n *LetStmt) Kind() string   { return "LetStmt" }
func (n *LetStmt) NodeSpan() Span { return n.Span }
func (n *LetStmt) stmtNode()      {}

type ExprStmt struct {
	Span   Span
	Expr   Expr
	Target *IdentPath // optional -> name binding
}

func (n *ExprStmt) Kind() string   { return "ExprStmt" }
func (n *ExprStmt) NodeSpan() Span { return n.Span }
func (n *ExprStmt) stmtNode()      {}

type ReturnStmt struct {
	Span  Span
	Value Expr
}

func (n *ReturnStmt) Kind() string   { return "ReturnStmt" }
func (n *ReturnStmt) NodeSpan() Span { return n.Span }
func (n *ReturnStmt) stmtNode()      {}

type FnDecl struct {
	Span   Span
	Name   string
	Params []string
	Body   []Stmt
}

func (n *FnDecl) Kind() string   { return "FnDecl" }
func (n *FnDecl) NodeSpan() Span { return n.Span }
func (n *FnDecl) stmtNode()      {}

// --- Headers ---

type CapDecl struct {
	Span         Span
	Capabilities *RecordExpr
}

func (n *CapDecl) Kind() string   { return "CapDecl" }
func (n *CapDecl) NodeSpan() Span { return n.Span }
func (n *CapDecl) headerNode()    {}

type BudgetDecl struct {
	Span   Span
	Budget *RecordExpr
}

func (n *BudgetDecl) Kind() string   { return "BudgetDecl" }
func (n *BudgetDecl) NodeSpan() Span { return n.Span }
func (n *BudgetDecl) headerNode()    {}

// NsDecl binds namespace prefixes: `ns { ex: "http://example.com/" }`.
type NsDecl struct {
	Span     Span
	Bindings *RecordExpr
}

func (n *NsDecl) Kind() string   { return "NsDecl" }
func (n *NsDecl) NodeSpan() Span { return n.Span }
func (n *NsDecl) headerNode()    {}

// --- Program ---

type Program struct {
	Span       Span
	Headers    []Header
	Statements []Stmt
}

func (n *Program) Kind() string   { return "Program" }
func (n *Program) NodeSpan() Span { return n.Span }
