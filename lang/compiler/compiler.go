// Package compiler lowers a parsed translation unit (the []*ast.Obj the
// frontend produces) into bytecode for lang/machine: opcode encoding, frame
// layout, patch lists and relocations, the text-format assembler/
// disassembler, and the binary save/load format.
//
// Much of this package's shape — a per-translation-unit pcomp holding the
// link-time state and a per-function fcomp holding local codegen state, a
// textual assembler mirroring the binary encoding, and a patch-list based
// backpatching scheme for forward jumps — is adapted from the teacher's own
// compiler package, generalized from its stack-machine/CFG-block model to
// linear emission over a register file, since this VM has no operand stack
// to track depth for.
package compiler

import (
	"fmt"
	"sort"

	"github.com/jcc-lang/jcc/lang/ast"
	"github.com/jcc-lang/jcc/lang/ctype"
)

// Safety carries the safety settings shared by compilation and execution.
// The code generator emits no CHK*/MARKINIT/SCOPE* opcodes, so Bounds and
// Init do not change the emitted code; lang/machine's Thread.Safety holds
// the same struct and uses Bounds to gate the CHKPTR/CHKBOUNDS/CHKTYPE/
// CHKALIGN checks at dispatch.
type Safety struct {
	Bounds bool
	Init   bool

	// StackCanary reserves a canary slot at bp-8 in every frame (ENTER
	// writes it, LEAVE checks it) rather than gating a no-op opcode: unlike
	// Bounds/Init, the frame layout itself differs when this is on, so a
	// Program must be run with the same StackCanary setting it was
	// compiled with.
	StackCanary bool
}

// DefaultSafety sets every Safety field; of the three, only StackCanary
// changes the emitted code.
var DefaultSafety = Safety{Bounds: true, Init: true, StackCanary: true}

// DefaultRetBufCount is the rotating struct-return buffer pool size used
// when the caller does not override it (SPEC_FULL.md §4.3).
const DefaultRetBufCount = 8

// CompileObjs lowers objs (the live globals and functions lang/ast.MarkLive
// has already pruned) into a linked, directly executable Program. An error
// is returned for any reference to an undefined global, and for taking the
// address of a function that is never defined; a call to a function that is
// declared but never defined is lowered to CALLF instead (see
// ffiImportIndex). This module compiles one translation unit as a whole
// program, it does not
// produce relocatable object files (an explicit Non-goal, spec.md §1).
func CompileObjs(objs []*ast.Obj, safety Safety) (*Program, error) {
	c := &compilation{
		safety:      safety,
		dataOffsets: map[*ast.Obj]int64{},
		funcAddrs:   map[*ast.Obj]uint32{},
		retBufCount: DefaultRetBufCount,
	}

	var globals, funcs []*ast.Obj
	for _, o := range objs {
		if !o.IsLive {
			continue
		}
		if o.IsFunction {
			funcs = append(funcs, o)
		} else {
			globals = append(globals, o)
		}
	}

	if err := c.layoutData(globals); err != nil {
		return nil, err
	}
	c.layoutRetBufPool(funcs)

	for _, fn := range funcs {
		if fn.Body == nil {
			continue // prototype only, never defined: only an error if called
		}
		if err := c.compileFunc(fn); err != nil {
			return nil, err
		}
	}

	if err := c.resolveCallPatches(); err != nil {
		return nil, err
	}
	c.resolveDataRelocations(globals)

	if mainObj := findMain(funcs); mainObj != nil {
		if addr, ok := c.funcAddrs[mainObj]; ok {
			c.prog.EntryPC = addr
		}
	}

	sortFuncInfos(c.prog.Funcs)
	return &c.prog, nil
}

// CompileFiles links several translation units (each a parser.ParseTokens
// result) into a single Program: it concatenates every unit's Objs, runs
// ast.MarkLive over the merged root set, and hands the result to
// CompileObjs (SPEC_FULL.md §6.3's embedder entry point for the common
// multi-file-program case the driver CLI uses).
func CompileFiles(units [][]*ast.Obj, safety Safety) (*Program, error) {
	var all []*ast.Obj
	for _, u := range units {
		all = append(all, u...)
	}
	ast.MarkLive(all)
	return CompileObjs(all, safety)
}

func findMain(funcs []*ast.Obj) *ast.Obj {
	for _, f := range funcs {
		if f.Name == "main" && f.Body != nil {
			return f
		}
	}
	return nil
}

func sortFuncInfos(fs []FuncInfo) {
	sort.Slice(fs, func(i, j int) bool { return fs[i].Addr < fs[j].Addr })
}

// compilation holds translation-unit-wide link state: the Program under
// construction, every global's assigned data offset, every function's
// assigned text address, and the patch lists resolved once all functions
// have been emitted.
type compilation struct {
	safety Safety
	prog   Program

	dataOffsets map[*ast.Obj]int64
	funcAddrs   map[*ast.Obj]uint32

	callPatches    []callPatch
	funcAddrPatches []callPatch

	ffiIndex map[string]int

	retBufCount int
	retBufNext  int
}

// ffiImportIndex returns name's stable position in the eventual
// Program.FFIImports table, assigning the next index on first use. Calls to
// a function that is declared but never defined in this translation unit
// (an extern prototype, e.g. libc's puts) are lowered to CALLF against this
// index rather than failing as an undefined reference (SPEC_FULL.md §4.6 /
// the lang/ffi bridge).
func (c *compilation) ffiImportIndex(name string) int {
	if c.ffiIndex == nil {
		c.ffiIndex = map[string]int{}
	}
	if i, ok := c.ffiIndex[name]; ok {
		return i
	}
	i := len(c.prog.FFIImports)
	c.ffiIndex[name] = i
	c.prog.FFIImports = append(c.prog.FFIImports, FFIImport{Name: name})
	return i
}

type callPatch struct {
	wordIndex uint32 // index into prog.Text holding the immediate to patch
	target    *ast.Obj
}

func align8(n int64) int64 { return (n + 7) &^ 7 }

// layoutData assigns each live global a data-segment offset and appends its
// initializer bytes (zero-filled for tentative definitions), recording
// Relocation placeholders to resolve once every address is known.
func (c *compilation) layoutData(globals []*ast.Obj) error {
	for _, g := range globals {
		if !g.IsDefinition {
			return fmt.Errorf("undefined reference to global %q", g.Name)
		}
		offset := align8(int64(len(c.prog.Data)))
		pad := offset - int64(len(c.prog.Data))
		c.prog.Data = append(c.prog.Data, make([]byte, pad)...)
		c.dataOffsets[g] = offset
		c.prog.Data = append(c.prog.Data, g.InitData...)
	}
	return nil
}

// layoutRetBufPool computes the largest struct/union return type among
// every live function and reserves a rotating pool of that size in Data
// (SPEC_FULL.md §4.3): a pool sized to zero is valid (no function returns
// an aggregate by value) and simply never gets a non-zero LEA emitted
// against it.
func (c *compilation) layoutRetBufPool(funcs []*ast.Obj) {
	var maxSize int64
	for _, f := range funcs {
		if f.Type.Return != nil && (f.Type.Return.Kind == ctype.Struct || f.Type.Return.Kind == ctype.Union) {
			if f.Type.Return.Size > maxSize {
				maxSize = f.Type.Return.Size
			}
		}
	}
	if maxSize == 0 {
		return
	}
	base := align8(int64(len(c.prog.Data)))
	c.prog.Data = append(c.prog.Data, make([]byte, base-int64(len(c.prog.Data)))...)
	c.prog.RetBufBase = base
	c.prog.RetBufSize = align8(maxSize)
	c.prog.RetBufCount = c.retBufCount
	c.prog.Data = append(c.prog.Data, make([]byte, c.prog.RetBufSize*int64(c.retBufCount))...)
}

// nextRetBuf returns the data offset of the next buffer in the rotating
// pool, advancing the cursor (mod RetBufCount). It is called once per
// struct/union return statement at compile time, so each return statement
// owns one slot: results of different return statements stay distinct
// until the pool wraps, while two live results produced by the same return
// statement (both arguments of f(g(), g())) share a slot.
func (c *compilation) nextRetBuf() int64 {
	off := c.prog.RetBufBase + int64(c.retBufNext)*c.prog.RetBufSize
	c.retBufNext = (c.retBufNext + 1) % c.prog.RetBufCount
	return off
}

func (c *compilation) resolveCallPatches() error {
	for _, p := range c.callPatches {
		addr, ok := c.funcAddrs[p.target]
		if !ok {
			return fmt.Errorf("undefined reference to function %q", p.target.Name)
		}
		c.prog.Text[p.wordIndex] = uint64(addr)
	}
	for _, p := range c.funcAddrPatches {
		addr, ok := c.funcAddrs[p.target]
		if !ok {
			return fmt.Errorf("undefined reference to function %q", p.target.Name)
		}
		c.prog.Text[p.wordIndex] = uint64(addr)
	}
	return nil
}

// resolveDataRelocations converts each global's ast.Relocation (recorded by
// the parser against *ast.Obj targets) into a Program-level Relocation
// against a resolved data offset or function address.
func (c *compilation) resolveDataRelocations(globals []*ast.Obj) {
	for _, g := range globals {
		base := c.dataOffsets[g]
		for _, r := range g.Relocations {
			if r.Func != nil {
				addr := c.funcAddrs[r.Func]
				c.prog.Relocations = append(c.prog.Relocations, Relocation{
					Offset: base + r.Offset, Addr: addr, Kind: RelocFunc, Addend: r.Addend,
				})
				continue
			}
			target := c.dataOffsets[r.Target]
			c.prog.Relocations = append(c.prog.Relocations, Relocation{
				Offset: base + r.Offset, Addr: uint32(target), Kind: RelocData, Addend: r.Addend,
			})
		}
	}
}
