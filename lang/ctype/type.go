// Package ctype implements the C type model shared by the parser and code
// generator: Type, Member, EnumConstant, and the sizing/alignment/
// compatibility rules that govern them.
package ctype

import (
	"fmt"

	"github.com/dolthub/swiss"
)

// Kind identifies the tag of a Type.
type Kind uint8

//nolint:revive
const (
	Void Kind = iota
	Bool
	Char
	Short
	Int
	Long
	Float
	Double
	LongDouble
	Enum
	Ptr
	Func
	Array
	VLA
	Struct
	Union
	Error // sentinel type substituted for broken expressions in recovery mode
)

var kindNames = [...]string{
	Void: "void", Bool: "_Bool", Char: "char", Short: "short", Int: "int",
	Long: "long", Float: "float", Double: "double", LongDouble: "long double",
	Enum: "enum", Ptr: "pointer", Func: "function", Array: "array", VLA: "VLA",
	Struct: "struct", Union: "union", Error: "<error>",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Type is a tagged record describing a C type. Fields not meaningful for a
// given Kind are left zero. This mirrors the teacher's preference for a
// tagged struct (see lang/ast.Node) over a duck-typed interface hierarchy:
// the arena-friendly shape lets Type values form cyclic graphs (a struct
// containing a pointer to itself) without breaking Go's ownership model,
// since cross-references are plain pointers into data the arena — not any
// individual Type — owns.
type Type struct {
	Kind Kind

	Size  int64 // -1 if incomplete
	Align int64

	IsUnsigned bool
	IsConst    bool
	IsAtomic   bool

	// Ptr and Array share Base: a Ptr's pointee, or an Array's element type.
	// This is the pointer/array duality the C standard requires: decaying an
	// array to a pointer is reinterpreting the same Base field under a
	// different Kind, not a conversion that touches memory.
	Base *Type

	ArrayLen int64 // element count; negative if incomplete ("T x[]")

	// VLALen and VLALocal describe a variable-length array: VLALen holds the
	// *ast.Node length expression and VLALocal the hidden *ast.Obj local that
	// stores its computed byte size, evaluated at scope entry. They are typed
	// `any` rather than concrete ast types to avoid an import cycle (lang/ast
	// already imports lang/ctype for Node.Typ and Obj.Type); lang/parser and
	// lang/compiler, which import both packages, perform the type assertion.
	VLALen   any
	VLALocal any

	Return     *Type
	Params     []*Type
	IsVariadic bool

	Members     []*Member
	IsPacked    bool
	IsFlexible bool // last member is a flexible array (T x[])

	Enumerators []EnumConstant
}

// Member is one field of a struct or union type.
type Member struct {
	Name   string
	Type   *Type
	Offset int64
	// Bitfield width in bits, or 0 if this member is not a bitfield.
	BitWidth  int
	BitOffset int // offset, in bits, from the start of the storage unit
}

// EnumConstant is one (name, value) pair of an enum type.
type EnumConstant struct {
	Name  string
	Value int64
}

// Predeclared scalar types. These are shared, read-only values: never
// mutate a Type reached through one of these variables.
var (
	TyVoid       = &Type{Kind: Void, Size: 1, Align: 1}
	TyBool       = &Type{Kind: Bool, Size: 1, Align: 1, IsUnsigned: true}
	TyChar       = &Type{Kind: Char, Size: 1, Align: 1}
	TyUChar      = &Type{Kind: Char, Size: 1, Align: 1, IsUnsigned: true}
	TyShort      = &Type{Kind: Short, Size: 2, Align: 2}
	TyUShort     = &Type{Kind: Short, Size: 2, Align: 2, IsUnsigned: true}
	TyInt        = &Type{Kind: Int, Size: 4, Align: 4}
	TyUInt       = &Type{Kind: Int, Size: 4, Align: 4, IsUnsigned: true}
	TyLong       = &Type{Kind: Long, Size: 8, Align: 8}
	TyULong      = &Type{Kind: Long, Size: 8, Align: 8, IsUnsigned: true}
	TyFloat      = &Type{Kind: Float, Size: 4, Align: 4}
	TyDouble     = &Type{Kind: Double, Size: 8, Align: 8}
	TyLongDouble = &Type{Kind: LongDouble, Size: 16, Align: 16}
	ErrorType    = &Type{Kind: Error, Size: 1, Align: 1}
)

// IsInteger reports whether t is one of the integer kinds (including Bool
// and Enum, which are integer types in C).
func (t *Type) IsInteger() bool {
	switch t.Kind {
	case Bool, Char, Short, Int, Long, Enum:
		return true
	}
	return false
}

// IsFloating reports whether t is a floating-point kind.
func (t *Type) IsFloating() bool {
	switch t.Kind {
	case Float, Double, LongDouble:
		return true
	}
	return false
}

// IsScalar reports whether t is an arithmetic, pointer, or enum type.
func (t *Type) IsScalar() bool {
	return t.IsInteger() || t.IsFloating() || t.Kind == Ptr
}

// IsComplete reports whether t's size is known. Pointers are always
// complete; arrays, structs, and unions may be incomplete (I-1 in
// SPEC_FULL.md §3.1).
func (t *Type) IsComplete() bool {
	switch t.Kind {
	case Void:
		return false
	case Array:
		return t.ArrayLen >= 0 && t.Base.IsComplete()
	case Struct, Union:
		return t.Size >= 0
	}
	return true
}

// PointerTo returns a new pointer type with base as its pointee.
func PointerTo(base *Type) *Type {
	return &Type{Kind: Ptr, Base: base, Size: 8, Align: 8}
}

// ArrayOf returns a new array type of base with the given element count
// (negative for an incomplete array).
func ArrayOf(base *Type, length int64) *Type {
	t := &Type{Kind: Array, Base: base, ArrayLen: length, Align: base.Align}
	if length >= 0 && base.IsComplete() {
		t.Size = base.Size * length
	} else {
		t.Size = -1
	}
	return t
}

// FuncType returns a new function type.
func FuncType(ret *Type, params []*Type, variadic bool) *Type {
	return &Type{Kind: Func, Return: ret, Params: params, IsVariadic: variadic, Size: -1, Align: 1}
}

// Decay returns the pointer type an array decays to in expression or
// parameter context (I-3), or t unchanged if t is not an array.
func Decay(t *Type) *Type {
	if t.Kind == Array || t.Kind == VLA {
		return PointerTo(t.Base)
	}
	return t
}

// Unqualified returns a copy of t with IsConst/IsAtomic cleared.
func Unqualified(t *Type) *Type {
	cp := *t
	cp.IsConst = false
	cp.IsAtomic = false
	return &cp
}

// IsCompatible reports whether a and b may be used interchangeably for
// assignment/comparison purposes (the C notion of "compatible types",
// simplified: identical kind and, for aggregates, identical layout; void*
// is universally pointer-compatible, matching the heap pointer-checker's
// "void* and T* treated as universally compatible" rule in SPEC_FULL.md
// §4.5).
func IsCompatible(a, b *Type) bool {
	if a == b {
		return true
	}
	if a.Kind == Error || b.Kind == Error {
		return true
	}
	if a.Kind != b.Kind {
		// any arithmetic-to-arithmetic comparison is permitted (usual
		// arithmetic conversions apply at the expression level, not here)
		if a.IsInteger() && b.IsInteger() {
			return true
		}
		if a.IsFloating() && b.IsFloating() {
			return true
		}
		return false
	}
	switch a.Kind {
	case Ptr:
		if a.Base.Kind == Void || b.Base.Kind == Void {
			return true
		}
		return IsCompatible(a.Base, b.Base)
	case Array:
		return IsCompatible(a.Base, b.Base)
	case Struct, Union:
		return sameAggregate(a, b)
	}
	return true
}

func sameAggregate(a, b *Type) bool {
	if len(a.Members) != len(b.Members) {
		return false
	}
	for i, m := range a.Members {
		n := b.Members[i]
		if m.Name != n.Name || m.Offset != n.Offset || !IsCompatible(m.Type, n.Type) {
			return false
		}
	}
	return true
}

// align rounds n up to the nearest multiple of a (a must be a power of two).
func align(n, a int64) int64 {
	return (n + a - 1) &^ (a - 1)
}

// NewStruct computes Size/Align/Offset for a struct type from its Members,
// laid out in declaration order (packed struct if isPacked, flexible tail
// if the last member is an incomplete array).
func NewStruct(name string, members []*Member, isPacked, isUnion bool) *Type {
	t := &Type{Kind: Struct, Members: members, IsPacked: isPacked}
	if isUnion {
		t.Kind = Union
	}

	var offset, maxAlign int64 = 0, 1
	for i, m := range members {
		isLast := i == len(members)-1
		if isLast && m.Type.Kind == Array && m.Type.ArrayLen < 0 {
			t.IsFlexible = true
			m.Offset = offset
			continue
		}
		a := m.Type.Align
		if isPacked {
			a = 1
		}
		if a > maxAlign {
			maxAlign = a
		}
		if isUnion {
			m.Offset = 0
			if m.Type.Size > t.Size {
				t.Size = m.Type.Size
			}
			continue
		}
		offset = align(offset, a)
		m.Offset = offset
		offset += m.Type.Size
	}
	if !isUnion {
		t.Size = align(offset, maxAlign)
	} else {
		t.Size = align(t.Size, maxAlign)
	}
	t.Align = maxAlign
	_ = name
	return t
}

// MemberIndex builds a name-to-Member lookup for a struct/union type, backed
// by a swiss-table hashmap for O(1) lookup on wide structs (the parser
// builds this once per struct/union definition and reuses it for every
// member-access expression that targets the type).
type MemberIndex struct {
	m *swiss.Map[string, *Member]
}

// NewMemberIndex builds an index over t's Members. t must be Struct or Union.
func NewMemberIndex(t *Type) *MemberIndex {
	idx := &MemberIndex{m: swiss.NewMap[string, *Member](uint32(len(t.Members)))}
	for _, m := range t.Members {
		idx.m.Put(m.Name, m)
	}
	return idx
}

// Find returns the Member named name, or nil if absent.
func (idx *MemberIndex) Find(name string) *Member {
	m, ok := idx.m.Get(name)
	if !ok {
		return nil
	}
	return m
}
