package ast

import "github.com/jcc-lang/jcc/lang/ctype"

// Relocation records that the bytes at InitData[Offset:Offset+8] of a global
// must be patched, at load time, to the runtime address of Target (another
// global) or Func (a function), plus Addend.
type Relocation struct {
	Offset int64
	Target *Obj // data-segment relocation target, or nil
	Func   *Obj // text-segment (function) relocation target, or nil
	Addend int64
}

// Obj represents one declared name: a variable (local or global) or a
// function. The frontend (lang/parser) creates Objs with their type and
// initializer known; lang/compiler fills in FrameOffset and Addr once frame
// layout and code addresses are assigned.
type Obj struct {
	Name string
	Type *ctype.Type

	IsFunction bool

	// -- variables --
	FrameOffset int64  // bp-relative offset, assigned by codegen (locals only)
	InitData    []byte // global initializer bytes (flat, pre-relocation)
	Relocations []Relocation

	// -- functions --
	Params []*Obj
	Body   *Node
	Locals []*Obj
	Addr   uint32 // text-segment entry offset, assigned by codegen
	// Refs lists the names of every function this function calls, used by
	// the static-inline liveness pass (SPEC_FULL.md §3.2) to decide whether
	// an otherwise-unreferenced `static inline` definition must still be
	// emitted because something live calls it.
	Refs []string

	// -- linkage / lifecycle flags --
	IsStatic    bool
	IsDefinition bool
	IsTentative bool
	IsInline    bool
	IsConstexpr bool
	IsRoot      bool // referenced from outside this translation unit (main, or non-static)
	IsLive      bool // computed by the liveness pass; false => not emitted
	IsVariadic  bool // functions only, mirrors Type.IsVariadic for convenience
}

// MarkLive marks every IsRoot Obj in objs and, transitively, every Obj named
// in a live Obj's Refs (resolved by name within objs) as live. Call once on
// the whole Obj list after parsing, before handing it to the compiler.
func MarkLive(objs []*Obj) {
	byName := make(map[string]*Obj, len(objs))
	for _, o := range objs {
		byName[o.Name] = o
	}
	var mark func(o *Obj)
	mark = func(o *Obj) {
		if o == nil || o.IsLive {
			return
		}
		o.IsLive = true
		for _, ref := range o.Refs {
			mark(byName[ref])
		}
	}
	for _, o := range objs {
		if o.IsRoot {
			mark(o)
		}
	}
}
