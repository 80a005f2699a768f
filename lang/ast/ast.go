// Package ast defines the abstract syntax tree produced by lang/parser:
// Node, the ~50-kind tagged expression/statement record, and Obj, the
// declared-symbol record for globals, locals, and functions. Initializer
// trees for aggregate initialization live alongside in initializer.go.
//
// Node is a tagged struct, not an interface hierarchy: every node carries
// the same wrapper fields (source token, resolved type) and a Kind-specific
// payload. This keeps the tree arena-friendly (see internal/arena) and
// lets lang/ctype.Type and Node reference each other freely — the cyclic
// graph that would otherwise fight Go's ownership model is simply a graph
// of plain pointers owned by the surrounding compilation, not by any one
// node.
package ast

import (
	"fmt"

	"github.com/jcc-lang/jcc/lang/ctype"
	"github.com/jcc-lang/jcc/lang/token"
)

// Kind identifies the production a Node represents.
type Kind uint8

//nolint:revive
const (
	// literals and references
	IntLit Kind = iota
	FloatLit
	StringLit
	VarRef

	// unary
	Neg
	Not
	BitNot
	Deref
	Addr
	PreInc
	PreDec
	PostInc
	PostDec
	Cast
	SizeofExpr
	SizeofType
	AlignofType

	// binary arithmetic / bitwise / comparison
	Add
	Sub
	Mul
	Div
	Mod
	BitAnd
	BitOr
	BitXor
	Shl
	Shr
	Lt
	Le
	Gt
	Ge
	Eq
	Ne
	LogAnd
	LogOr

	// assignment (simple and compound)
	Assign
	CompoundAssign // Node.Op names the underlying binary op

	// aggregate / pointer access
	Index
	Member
	Arrow
	Comma
	Cond // ternary a ? b : c

	// calls and builtins
	Call
	StmtExpr // GNU ({ ... }) statement expression
	CAS      // atomic compare-and-swap builtin
	Exchange // atomic exchange builtin
	VaStart
	VaArg
	VaEnd
	FuncAddr // &foo / implicit function-to-pointer decay
	LabelAddr // &&label (labels-as-values)

	// statements
	ExprStmt
	Block
	Decl
	If
	For
	DoWhile
	Switch
	Case
	Default
	Break
	Continue
	Goto
	ComputedGoto // goto *expr
	Label
	Return

	maxKind
)

var kindNames = [...]string{
	IntLit: "int-lit", FloatLit: "float-lit", StringLit: "string-lit", VarRef: "var-ref",
	Neg: "neg", Not: "not", BitNot: "bit-not", Deref: "deref", Addr: "addr",
	PreInc: "pre-inc", PreDec: "pre-dec", PostInc: "post-inc", PostDec: "post-dec",
	Cast: "cast", SizeofExpr: "sizeof-expr", SizeofType: "sizeof-type", AlignofType: "alignof-type",
	Add: "add", Sub: "sub", Mul: "mul", Div: "div", Mod: "mod",
	BitAnd: "bit-and", BitOr: "bit-or", BitXor: "bit-xor", Shl: "shl", Shr: "shr",
	Lt: "lt", Le: "le", Gt: "gt", Ge: "ge", Eq: "eq", Ne: "ne",
	LogAnd: "log-and", LogOr: "log-or",
	Assign: "assign", CompoundAssign: "compound-assign",
	Index: "index", Member: "member", Arrow: "arrow", Comma: "comma", Cond: "cond",
	Call: "call", StmtExpr: "stmt-expr", CAS: "cas", Exchange: "exchange",
	VaStart: "va-start", VaArg: "va-arg", VaEnd: "va-end",
	FuncAddr: "func-addr", LabelAddr: "label-addr",
	ExprStmt: "expr-stmt", Block: "block", Decl: "decl", If: "if", For: "for",
	DoWhile: "do-while", Switch: "switch", Case: "case", Default: "default",
	Break: "break", Continue: "continue", Goto: "goto", ComputedGoto: "computed-goto",
	Label: "label", Return: "return",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// BlockEnding reports whether a statement of this kind may only appear as
// the last statement of a block (return, break, continue, goto).
func (k Kind) BlockEnding() bool {
	switch k {
	case Return, Break, Continue, Goto, ComputedGoto:
		return true
	}
	return false
}

// Node is one AST node: an expression or a statement. Every Node carries a
// source token for diagnostics and, once lang/parser's inline type checker
// has run, a resolved Type (nil beforehand).
type Node struct {
	Kind Kind
	Tok  token.TokenAndValue
	Typ  *ctype.Type

	// Expression payload
	Op       token.Token // underlying operator for CompoundAssign; unset for other kinds
	Lhs, Rhs *Node
	Cond_    *Node // condition of Cond/If/For/DoWhile/Switch
	Then     *Node
	Else     *Node

	// Identifier / literal payload
	Name  string
	Obj   *Obj // resolved VarRef target
	IVal  int64
	FVal  float64
	SVal  string

	// Call payload
	FuncType *ctype.Type
	Args     []*Node
	ByStack  bool // true when the result must be fetched via the stack-return convention

	// Aggregate access payload
	MemberName string
	MemberT    *ctype.Member

	// Statement payload
	Body  []*Node // Block body
	Init  *Node   // For: init statement
	Post  *Node   // For: post expression
	Cases []*Node // Switch: Case/Default children
	Label string  // Goto/Label/ComputedGoto target or own name
	Decls []*Obj  // Decl: the Obj(s) declared by this statement
	CaseHi int64  // Case: upper bound of a GNU case range (== IVal for a plain case)

	// Cast/sizeof payload
	CastType *ctype.Type
}

// Span returns the token carried by the node, for diagnostics.
func (n *Node) Span() token.Position { return n.Tok.Pos }

// IsLvalue reports whether n denotes an addressable location.
func (n *Node) IsLvalue() bool {
	switch n.Kind {
	case VarRef, Deref, Index, Member, Arrow:
		return true
	}
	return false
}

// NewBinary builds a binary-operator node, applying C pointer-arithmetic
// scaling for Add/Sub when exactly one operand is a pointer/array: the
// integer side is scaled by sizeof(pointee) so the emitted opcode can stay
// a plain integer add. This mirrors the original's new_add/new_sub helpers
// (SPEC_FULL.md §4.3): pointer arithmetic is normalized only here, at AST
// construction; codegen applies no second scaling, VLA element types
// included.
func NewBinary(kind Kind, lhs, rhs *Node, tok token.TokenAndValue) *Node {
	n := &Node{Kind: kind, Lhs: lhs, Rhs: rhs, Tok: tok}
	if kind != Add && kind != Sub {
		return n
	}
	lp, rp := isPointerish(lhs), isPointerish(rhs)
	switch {
	case lp && rp:
		// pointer difference (Sub only, by grammar construction): codegen
		// divides the raw byte difference by sizeof(*lhs) once typed.
	case lp && !rp:
		n.Rhs = scaleByElemSize(rhs, lhs.Typ)
	case !lp && rp && kind == Add:
		// canonicalize to pointer-first so codegen always sees ptr+int
		n.Lhs, n.Rhs = rhs, scaleByElemSize(lhs, rhs.Typ)
	}
	return n
}

func isPointerish(n *Node) bool {
	return n.Typ != nil && (n.Typ.Kind == ctype.Ptr || n.Typ.Kind == ctype.Array)
}

func scaleByElemSize(n *Node, ptrType *ctype.Type) *Node {
	elemSize := int64(1)
	if ptrType.Base != nil && ptrType.Base.Size > 0 {
		elemSize = ptrType.Base.Size
	}
	if elemSize == 1 {
		return n
	}
	scale := &Node{Kind: IntLit, IVal: elemSize, Typ: ctype.TyLong, Tok: n.Tok}
	return &Node{Kind: Mul, Lhs: n, Rhs: scale, Typ: ctype.TyLong, Tok: n.Tok}
}
