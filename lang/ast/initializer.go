package ast

import (
	"encoding/binary"
	"math"

	"github.com/jcc-lang/jcc/lang/ctype"
)

// Initializer mirrors the shape of an aggregate being initialized, so that
// designators (`.field = x`, `[3 ... 5] = y`) can re-address a nested
// position without the parser having to track absolute offsets while
// parsing the initializer list itself.
type Initializer struct {
	Type *ctype.Type

	// Expr is set for a scalar (leaf) initializer.
	Expr *Node

	// Children is set for an aggregate initializer: one entry per member (for
	// Struct/Union) or per element up to the highest designated index (for
	// Array). A nil entry means "not explicitly initialized" (zero-fill).
	Children []*Initializer

	// IsFlexible marks a trailing flexible-array-member initializer, whose
	// final length is only known once every element has been parsed.
	IsFlexible bool
}

// NewInitializer allocates a zero Initializer shaped like t: a Children
// slice for aggregates (struct: one per member; array: one per ArrayLen
// element, or empty if t is an incomplete array awaiting flexible sizing),
// or a leaf ready to receive Expr for scalars.
func NewInitializer(t *ctype.Type) *Initializer {
	init := &Initializer{Type: t}
	switch t.Kind {
	case ctype.Struct, ctype.Union:
		init.Children = make([]*Initializer, len(t.Members))
		for i, m := range t.Members {
			init.Children[i] = NewInitializer(m.Type)
		}
	case ctype.Array, ctype.VLA:
		if t.ArrayLen < 0 {
			init.IsFlexible = true
			break
		}
		init.Children = make([]*Initializer, t.ArrayLen)
		for i := range init.Children {
			init.Children[i] = NewInitializer(t.Base)
		}
	}
	return init
}

// Flatten lowers a local Initializer tree into a statement sequence: a
// leading memzero of the whole aggregate (so designator gaps read as zero)
// followed by one assignment statement per explicitly-initialized leaf,
// each addressed through Index/Member nodes rooted at target. This is the
// "comma sequence of memzero + element assignments" SPEC_FULL.md §4.2
// describes for local initializers; global initializers instead flatten to
// bytes via FlattenGlobal.
func (init *Initializer) Flatten(target *Node) []*Node {
	var stmts []*Node
	var walk func(in *Initializer, addr *Node)
	walk = func(in *Initializer, addr *Node) {
		if in == nil {
			return
		}
		if in.Expr != nil {
			stmts = append(stmts, &Node{Kind: ExprStmt, Lhs: &Node{Kind: Assign, Lhs: addr, Rhs: in.Expr, Typ: addr.Typ}})
			return
		}
		switch in.Type.Kind {
		case ctype.Struct, ctype.Union:
			for i, m := range in.Type.Members {
				if i >= len(in.Children) {
					break
				}
				member := &Node{Kind: Member, Lhs: addr, MemberName: m.Name, MemberT: m, Typ: m.Type}
				walk(in.Children[i], member)
			}
		case ctype.Array, ctype.VLA:
			for i, child := range in.Children {
				idx := &Node{Kind: Index, Lhs: addr, Rhs: &Node{Kind: IntLit, IVal: int64(i), Typ: ctype.TyLong}, Typ: in.Type.Base}
				walk(child, idx)
			}
		}
	}
	walk(init, target)
	return stmts
}

// FlattenGlobal lowers init into a flat, zero-filled byte buffer of
// init.Type.Size bytes plus a relocation list for any leaf that takes the
// address of another Obj (SPEC_FULL.md §4.2's "global initializers ...
// into a flat byte buffer plus a list of symbol-relative relocations").
// Only compile-time-constant leaves are supported; a leaf whose Expr is not
// one of IntLit/FloatLit/FuncAddr/Addr-of-global panics with
// *ConstantError, which lang/parser's ParseTokens recovers and returns as a
// regular *parser.Error. A string literal leaf (the parser's VarRef to the
// literal's array) is not among these, so it is rejected the same way.
func (init *Initializer) FlattenGlobal() ([]byte, []Relocation) {
	buf := make([]byte, init.Type.Size)
	var relocs []Relocation
	var walk func(in *Initializer, offset int64)
	walk = func(in *Initializer, offset int64) {
		if in == nil {
			return
		}
		if in.Expr != nil {
			writeConstant(buf, offset, in.Expr, &relocs)
			return
		}
		switch in.Type.Kind {
		case ctype.Struct, ctype.Union:
			for i, m := range in.Type.Members {
				if i >= len(in.Children) {
					break
				}
				walk(in.Children[i], offset+m.Offset)
			}
		case ctype.Array, ctype.VLA:
			elem := in.Type.Base.Size
			for i, child := range in.Children {
				walk(child, offset+int64(i)*elem)
			}
		}
	}
	walk(init, 0)
	return buf, relocs
}

// ConstantError reports that a global initializer leaf is not a compile-time
// constant expression.
type ConstantError struct{ Node *Node }

func (e *ConstantError) Error() string { return "initializer element is not constant" }

func writeConstant(buf []byte, offset int64, n *Node, relocs *[]Relocation) {
	switch n.Kind {
	case IntLit:
		writeIntLit(buf, offset, n)
	case FloatLit:
		writeFloatLit(buf, offset, n)
	case FuncAddr:
		*relocs = append(*relocs, Relocation{Offset: offset, Func: n.Obj})
	case Addr:
		if n.Lhs != nil && n.Lhs.Kind == VarRef {
			*relocs = append(*relocs, Relocation{Offset: offset, Target: n.Lhs.Obj})
			return
		}
		panic(&ConstantError{Node: n})
	default:
		panic(&ConstantError{Node: n})
	}
}

func writeIntLit(buf []byte, offset int64, n *Node) {
	sz := int64(8)
	if n.Typ != nil {
		sz = n.Typ.Size
	}
	switch sz {
	case 1:
		buf[offset] = byte(n.IVal)
	case 2:
		binary.LittleEndian.PutUint16(buf[offset:], uint16(n.IVal))
	case 4:
		binary.LittleEndian.PutUint32(buf[offset:], uint32(n.IVal))
	default:
		binary.LittleEndian.PutUint64(buf[offset:], uint64(n.IVal))
	}
}

func writeFloatLit(buf []byte, offset int64, n *Node) {
	if n.Typ != nil && n.Typ.Kind == ctype.Float {
		binary.LittleEndian.PutUint32(buf[offset:], math.Float32bits(float32(n.FVal)))
		return
	}
	binary.LittleEndian.PutUint64(buf[offset:], math.Float64bits(n.FVal))
}
