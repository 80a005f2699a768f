package compiler

import (
	"fmt"

	"github.com/jcc-lang/jcc/lang/ast"
	"github.com/jcc-lang/jcc/lang/ctype"
)

// Calling-convention register assignment (SPEC_FULL.md §4.3): up to 8
// integer/pointer arguments in R1..R8, up to 8 float arguments in F0..F7,
// return value in R1 (int/pointer) or F0 (float), struct-by-value return
// via a pointer into the rotating buffer pool returned in R1.
const (
	regZero     = 0
	regRet      = 1
	firstArgReg = 1
	maxArgRegs  = 8
	firstTemp   = firstArgReg + maxArgRegs // R9
	numIntRegs  = 32
	numFltRegs  = 32

	fretReg     = 0
	firstFArg   = 0
	maxFArgRegs = 8
	firstFTemp  = firstFArg + maxFArgRegs // F8
)

// vaAreaSize is the size, in bytes, of the register-save area a variadic
// function's prologue spills its incoming argument registers into, so
// va_arg can walk it like a struct (SPEC_FULL.md §4.3): 8 saved int regs +
// 8 saved float regs, 8 bytes each, plus 8 reserved bytes for a
// stack-passed-overflow cursor this VM never populates (more than 8
// variadic arguments of one kind is a Non-goal) but reserves room for so
// the layout matches the real register-save-area shape it's modeled on.
const vaAreaSize = (maxArgRegs+maxFArgRegs)*8 + 8

// fcomp holds per-function code generation state.
type fcomp struct {
	c   *compilation
	obj *ast.Obj

	code []uint64 // this function's own instruction words, offsets local to it

	offsets   map[*ast.Obj]int64 // bp-relative byte offset, locals and params
	nextIReg  uint8
	nextFReg  uint8
	frameSize int64
	vaOffset  int64 // bp-relative offset of the va_area, 0 if not variadic

	labelPos    map[string]int // label name -> word index within fc.code
	gotoFixups  []gotoFixup
	breakFix    [][]int // stack of word-index lists to patch to the loop/switch exit
	continueFix [][]int
	calls       []localPatch // CALL sites needing a function address patched in, local word index

	// caseJumpPatch maps a Case/Default node to the word index of the JNZ/JMP
	// testing it in the enclosing switch's compare chain, patched to this
	// node's text position when compileStmt reaches it in body order.
	caseJumpPatch map[*ast.Node]int
}

type gotoFixup struct {
	wordIndex int
	label     string
}

// compileFunc lays out fn's frame, emits its prologue/body/epilogue, and
// records its text address, frame metadata and patch-list entries into c.
func (c *compilation) compileFunc(fn *ast.Obj) error {
	fc := &fcomp{
		c:             c,
		obj:           fn,
		offsets:       map[*ast.Obj]int64{},
		nextIReg:      firstTemp,
		nextFReg:      firstFTemp,
		labelPos:      map[string]int{},
		caseJumpPatch: map[*ast.Node]int{},
	}

	fc.layoutFrame()

	addr := uint32(len(c.prog.Text))
	c.funcAddrs[fn] = addr

	fc.emitPrologue()
	if err := fc.compileStmt(fn.Body); err != nil {
		return fmt.Errorf("function %q: %w", fn.Name, err)
	}
	fc.emitEpilogue()

	if err := fc.resolveGotos(); err != nil {
		return fmt.Errorf("function %q: %w", fn.Name, err)
	}
	fc.rebaseJumps(addr)

	for _, p := range fc.localCallPatches() {
		c.callPatches = append(c.callPatches, callPatch{wordIndex: uint32(addr) + uint32(p.wordIndex), target: p.target})
	}

	c.prog.Funcs = append(c.prog.Funcs, FuncInfo{
		Name: fn.Name, Addr: addr, FrameSize: fc.frameSize,
		NumParams: len(fn.Params), IsVariadic: fn.IsVariadic,
	})
	c.prog.Text = append(c.prog.Text, fc.code...)
	return nil
}

// localCallPatches is a placeholder seam: call-site patches are appended
// directly to fc.calls during emission (see compileCall in addr.go) and
// merged here.
func (fc *fcomp) localCallPatches() []localPatch { return fc.calls }

type localPatch struct {
	wordIndex int
	target    *ast.Obj
}

// layoutFrame assigns every local and parameter a bp-relative offset
// (negative, growing downward, matching the teacher's stack-grows-down
// convention) and reserves the va_area for variadic functions.
func (fc *fcomp) layoutFrame() {
	var offset int64
	if fc.c.safety.StackCanary {
		offset = 8 // bp-8: the canary word ENTER writes and LEAVE checks
	}
	assign := func(o *ast.Obj) {
		sz := o.Type.Size
		if sz <= 0 {
			sz = 8
		}
		offset = align8(offset + sz)
		fc.offsets[o] = -offset
	}
	for _, p := range fc.obj.Params {
		assign(p)
	}
	for _, l := range fc.obj.Locals {
		assign(l)
	}
	if fc.obj.IsVariadic {
		offset = align8(offset + vaAreaSize)
		fc.vaOffset = -offset
	}
	fc.frameSize = offset
}

func (fc *fcomp) emitOp(op Opcode) { fc.code = append(fc.code, uint64(op)) }

func (fc *fcomp) emitRRR(op Opcode, dst, src1, src2, flags uint8) {
	fc.code = append(fc.code, uint64(op), Operand{Dst: dst, Src1: src1, Src2: src2, Flags: flags}.pack())
}

// emitRI appends an RI-shaped instruction and returns the word index of its
// immediate (the final appended word), so callers needing to backpatch a
// forward jump target can remember it.
func (fc *fcomp) emitRI(op Opcode, dst uint8, flags uint8, imm uint64) int {
	fc.code = append(fc.code, uint64(op), Operand{Dst: dst, Flags: flags}.pack(), imm)
	return len(fc.code) - 1
}

func (fc *fcomp) here() int { return len(fc.code) }

func (fc *fcomp) patchImm(wordIndex int, imm uint64) { fc.code[wordIndex] = imm }

// allocReg and allocFReg hand out scratch registers for one statement's
// worth of expression evaluation. This compiler performs no register
// allocation beyond a monotonically increasing per-statement cursor reset
// by resetRegs: expressions nest shallowly enough in the supported C
// subset that 23 integer and 24 float scratch registers do not run out in
// practice, a limitation recorded rather than solved with a real allocator.
func (fc *fcomp) allocReg() uint8 {
	r := fc.nextIReg
	fc.nextIReg++
	return r
}

func (fc *fcomp) allocFReg() uint8 {
	r := fc.nextFReg
	fc.nextFReg++
	return r
}

func (fc *fcomp) resetRegs() {
	fc.nextIReg = firstTemp
	fc.nextFReg = firstFTemp
}

// emitPrologue emits ENTER, which the executor interprets as: push bp, bp =
// sp, sp -= frameSize (SPEC_FULL.md §4.3), followed by one store per
// register-passed parameter copying its incoming argument register into the
// parameter's frame slot. For variadic functions ENTER additionally spills
// all 16 argument registers into the va_area regardless of how many were
// actually passed, so va_arg can walk it uniformly.
func (fc *fcomp) emitPrologue() {
	var flags uint8
	if fc.obj.IsVariadic {
		flags |= EnterFlagVariadic
	}
	if fc.c.safety.StackCanary {
		flags |= EnterFlagStackCanary
	}
	fc.emitRI(ENTER, uint8(len(fc.obj.Params)), flags, uint64(fc.frameSize))
	for i, p := range fc.obj.Params {
		if i >= maxArgRegs {
			break // stack-passed params beyond the 8th: left for a future extension
		}
		off := fc.offsets[p]
		dst := fc.frameReg(off)
		if p.Type.IsFloating() {
			fc.emitRRR(FST, dst.base, uint8(firstFArg+i), 0, 0)
		} else {
			fc.emitRRR(ST8, dst.base, uint8(firstArgReg+i), 0, 0)
		}
	}
}

func (fc *fcomp) emitEpilogue() {
	fc.emitOp(LEAVE)
}

// frameAddr describes a bp-relative address materialized into a register
// via LEA immediately before the load/store that uses it.
type frameAddr struct{ base uint8 }

// frameReg materializes the address bp+off into a fresh register.
func (fc *fcomp) frameReg(off int64) frameAddr {
	r := fc.allocReg()
	fc.emitRI(LEA, r, FlagFrame, uint64(off))
	return frameAddr{base: r}
}

func (fc *fcomp) pushBreak()    { fc.breakFix = append(fc.breakFix, nil) }
func (fc *fcomp) pushContinue() { fc.continueFix = append(fc.continueFix, nil) }

func (fc *fcomp) addBreak(wordIndex int) {
	top := len(fc.breakFix) - 1
	fc.breakFix[top] = append(fc.breakFix[top], wordIndex)
}

func (fc *fcomp) addContinue(wordIndex int) {
	top := len(fc.continueFix) - 1
	fc.continueFix[top] = append(fc.continueFix[top], wordIndex)
}

func (fc *fcomp) popBreak(target int) {
	top := len(fc.breakFix) - 1
	for _, w := range fc.breakFix[top] {
		fc.patchImm(w, uint64(target))
	}
	fc.breakFix = fc.breakFix[:top]
}

func (fc *fcomp) popContinue(target int) {
	top := len(fc.continueFix) - 1
	for _, w := range fc.continueFix[top] {
		fc.patchImm(w, uint64(target))
	}
	fc.continueFix = fc.continueFix[:top]
}

// rebaseJumps converts every JMP/JZ/JNZ target, and every computed-goto
// LEA (FlagCode), from a word index local to fc.code into an absolute
// Program.Text word offset, now that this function's base address is
// known. Call/function-address LEAs are excluded: their immediates are
// resolved separately, globally, by resolveCallPatches once every
// function's address is known, and are still zero placeholders here.
func (fc *fcomp) rebaseJumps(base uint32) {
	for pc := 0; pc < len(fc.code); {
		op := Opcode(fc.code[pc])
		switch op.Shape() {
		case ShapeNone:
			pc++
		case ShapeRRR:
			pc += 2
		case ShapeRI:
			o := UnpackOperand(fc.code[pc+1])
			if op == JMP || op == JZ || op == JNZ || (op == LEA && o.Flags&FlagCode != 0) {
				fc.code[pc+2] += uint64(base)
			}
			pc += 3
		}
	}
}

func (fc *fcomp) resolveGotos() error {
	for _, g := range fc.gotoFixups {
		pos, ok := fc.labelPos[g.label]
		if !ok {
			return fmt.Errorf("undefined label %q", g.label)
		}
		fc.patchImm(g.wordIndex, uint64(pos))
	}
	return nil
}

// ptrElemSize returns the element size codegen should use when an address
// is taken through a pointer/array type, defaulting to 1 for void*.
func ptrElemSize(t *ctype.Type) int64 {
	if t.Base == nil || t.Base.Size <= 0 {
		return 1
	}
	return t.Base.Size
}
