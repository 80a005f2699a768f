package compiler

import (
	"fmt"

	"github.com/jcc-lang/jcc/lang/ast"
	"github.com/jcc-lang/jcc/lang/ctype"
)

// addrOf computes the byte address n denotes, for n an lvalue (the operand
// of &, the target of an assignment, the base of ++/--).
func (fc *fcomp) addrOf(n *ast.Node) (uint8, error) {
	switch n.Kind {
	case ast.VarRef:
		return fc.varAddr(n)
	case ast.Deref:
		return fc.compileExpr(n.Lhs) // the pointer value itself is the address
	case ast.Index:
		return fc.indexAddr(n)
	case ast.Member:
		return fc.memberAddr(n)
	case ast.Arrow:
		return fc.arrowAddr(n)
	default:
		return 0, fmt.Errorf("%s: not an lvalue", n.Span())
	}
}

// structAddr evaluates n, an expression of struct/union type, to the
// address of its bytes instead of attempting to load them into a register
// the way a scalar would be: an lvalue's own address for anything
// addressable, or n's compiled value directly for a call or conditional
// expression, whose struct-typed result is already a buffer pointer
// (compileCall's struct/union branch, compileCond).
func (fc *fcomp) structAddr(n *ast.Node) (uint8, error) {
	switch n.Kind {
	case ast.VarRef, ast.Deref, ast.Index, ast.Member, ast.Arrow:
		return fc.addrOf(n)
	default:
		return fc.compileExpr(n)
	}
}

func (fc *fcomp) varAddr(n *ast.Node) (uint8, error) {
	if off, ok := fc.offsets[n.Obj]; ok {
		r := fc.allocReg()
		fc.emitRI(LEA, r, FlagFrame, uint64(off))
		return r, nil
	}
	if n.Obj.IsFunction {
		r := fc.allocReg()
		w := fc.emitRI(LEA, r, 0, 0)
		fc.calls = append(fc.calls, localPatch{wordIndex: w, target: n.Obj})
		return r, nil
	}
	off, ok := fc.c.dataOffsets[n.Obj]
	if !ok {
		return 0, fmt.Errorf("%s: undefined reference to %q", n.Span(), n.Name)
	}
	r := fc.allocReg()
	fc.emitRI(LEA, r, 0, uint64(off))
	return r, nil
}

func (fc *fcomp) compileVarRef(n *ast.Node) (uint8, error) {
	addr, err := fc.varAddr(n)
	if err != nil {
		return 0, err
	}
	if n.Obj.IsFunction || n.Typ.Kind == ctype.Array {
		return addr, nil // function/array name decays to its address
	}
	return fc.loadFrom(addr, n.Typ)
}

func sxOp(size int64) Opcode {
	switch size {
	case 1:
		return SX1
	case 2:
		return SX2
	default:
		return SX4
	}
}

func zxOp(size int64) Opcode {
	switch size {
	case 1:
		return ZX1
	case 2:
		return ZX2
	default:
		return ZX4
	}
}

// loadFrom reads the value stored at the address held in addr, typed t.
// Sub-word integer loads are sign/zero extended to fill the 64-bit
// register, matching the teacher's convention of normalizing widths
// immediately at the point of load rather than threading a width tag
// through every later use.
func (fc *fcomp) loadFrom(addr uint8, t *ctype.Type) (uint8, error) {
	if t.Kind == ctype.Array {
		return addr, nil
	}
	if isFloatT(t) {
		r := fc.allocFReg()
		fc.emitRRR(FLD, r, addr, 0, 0)
		return r, nil
	}
	r := fc.allocReg()
	fc.emitRRR(loadOp(t), r, addr, 0, 0)
	if t.Size > 0 && t.Size < 8 && t.Kind != ctype.Struct && t.Kind != ctype.Union {
		if t.IsUnsigned {
			fc.emitRRR(zxOp(t.Size), r, r, 0, 0)
		} else {
			fc.emitRRR(sxOp(t.Size), r, r, 0, 0)
		}
	}
	return r, nil
}

func (fc *fcomp) storeTo(addr, val uint8, t *ctype.Type) {
	if isFloatT(t) {
		fc.emitRRR(FST, addr, val, 0, 0)
		return
	}
	fc.emitRRR(storeOp(t), addr, val, 0, 0)
}

func (fc *fcomp) compileAddrOf(n *ast.Node) (uint8, error) { return fc.addrOf(n) }

func (fc *fcomp) compileUnaryArith(n *ast.Node) (uint8, error) {
	v, err := fc.compileExpr(n.Lhs)
	if err != nil {
		return 0, err
	}
	if isFloatT(n.Typ) {
		r := fc.allocFReg()
		fc.emitRRR(FNEG, r, v, 0, 0)
		return r, nil
	}
	r := fc.allocReg()
	fc.emitRRR(NEG, r, v, 0, 0)
	return r, nil
}

func (fc *fcomp) compileIncDec(n *ast.Node) (uint8, error) {
	addr, err := fc.addrOf(n.Lhs)
	if err != nil {
		return 0, err
	}
	isInc := n.Kind == ast.PreInc || n.Kind == ast.PostInc
	isPre := n.Kind == ast.PreInc || n.Kind == ast.PreDec
	old, err := fc.loadFrom(addr, n.Lhs.Typ)
	if err != nil {
		return 0, err
	}
	if isFloatT(n.Lhs.Typ) {
		one := fc.allocReg()
		fc.emitRI(LDI, one, 0, floatBits(1))
		fv := fc.allocFReg()
		fc.emitRRR(I2F, fv, one, 0, FlagTrapOvf)
		op := FADD
		if !isInc {
			op = FSUB
		}
		newv := fc.allocFReg()
		fc.emitRRR(op, newv, old, fv, 0)
		fc.storeTo(addr, newv, n.Lhs.Typ)
		if isPre {
			return newv, nil
		}
		return old, nil
	}
	step := int64(1)
	if n.Lhs.Typ.Kind == ctype.Ptr {
		step = ptrElemSize(n.Lhs.Typ)
	}
	lit := fc.allocReg()
	fc.emitRI(LDI, lit, 0, uint64(step))
	op := ADD
	if !isInc {
		op = SUB
	}
	newv := fc.allocReg()
	fc.emitRRR(op, newv, old, lit, 0)
	fc.storeTo(addr, newv, n.Lhs.Typ)
	if isPre {
		return newv, nil
	}
	return old, nil
}

func (fc *fcomp) compileCast(n *ast.Node) (uint8, error) {
	v, err := fc.compileExpr(n.Lhs)
	if err != nil {
		return 0, err
	}
	from, to := n.Lhs.Typ, n.Typ
	switch {
	case isFloatT(from) && !isFloatT(to):
		r := fc.allocReg()
		fc.emitRRR(F2I, r, v, 0, 0)
		return r, nil
	case !isFloatT(from) && isFloatT(to):
		r := fc.allocFReg()
		fc.emitRRR(I2F, r, v, 0, 0)
		return r, nil
	case isFloatT(from) && isFloatT(to):
		return v, nil
	}
	if to.Size > 0 && to.Size < 8 {
		if to.IsUnsigned {
			fc.emitRRR(zxOp(to.Size), v, v, 0, 0)
		} else {
			fc.emitRRR(sxOp(to.Size), v, v, 0, 0)
		}
	}
	return v, nil
}

func (fc *fcomp) compileBinary(n *ast.Node) (uint8, error) {
	lhs, err := fc.compileExpr(n.Lhs)
	if err != nil {
		return 0, err
	}
	rhs, err := fc.compileExpr(n.Rhs)
	if err != nil {
		return 0, err
	}
	isCompare := n.Kind == ast.Lt || n.Kind == ast.Le || n.Kind == ast.Gt ||
		n.Kind == ast.Ge || n.Kind == ast.Eq || n.Kind == ast.Ne
	operandsFloat := isFloatT(n.Lhs.Typ) || isFloatT(n.Rhs.Typ)

	if operandsFloat {
		op, ok := fltBinOp[n.Kind]
		if !ok {
			return 0, fmt.Errorf("%s: no float form for %s", n.Span(), n.Kind)
		}
		if isCompare {
			r := fc.allocReg()
			fc.emitRRR(op, r, lhs, rhs, 0)
			return r, nil
		}
		r := fc.allocFReg()
		fc.emitRRR(op, r, lhs, rhs, 0)
		return r, nil
	}

	op, ok := intBinOp[n.Kind]
	if !ok {
		return 0, fmt.Errorf("%s: no integer form for %s", n.Span(), n.Kind)
	}
	flags := uint8(0)
	if n.Typ != nil && n.Typ.IsUnsigned {
		flags |= FlagUnsigned
	}
	r := fc.allocReg()
	fc.emitRRR(op, r, lhs, rhs, flags)
	lt, rt := n.Lhs.Typ, n.Rhs.Typ
	if n.Kind == ast.Sub && lt != nil && rt != nil &&
		(lt.Kind == ctype.Ptr || lt.Kind == ctype.Array) && (rt.Kind == ctype.Ptr || rt.Kind == ctype.Array) {
		// pointer difference: convert the byte difference to an element count
		if sz := ptrElemSize(lt); sz > 1 {
			d := fc.allocReg()
			fc.emitRI(LDI, d, 0, uint64(sz))
			q := fc.allocReg()
			fc.emitRRR(DIV, q, r, d, 0)
			return q, nil
		}
	}
	return r, nil
}

func (fc *fcomp) compileLogical(n *ast.Node) (uint8, error) {
	lhs, err := fc.compileExpr(n.Lhs)
	if err != nil {
		return 0, err
	}
	result := fc.allocReg()
	if n.Kind == ast.LogAnd {
		fc.emitRI(LDI, result, 0, 0)
		jshort := fc.emitRI(JZ, lhs, 0, 0)
		rhs, err := fc.compileExpr(n.Rhs)
		if err != nil {
			return 0, err
		}
		zero := fc.allocReg()
		fc.emitRI(LDI, zero, 0, 0)
		fc.emitRRR(CNE, result, rhs, zero, 0)
		fc.patchImm(jshort, uint64(fc.here()))
		return result, nil
	}
	fc.emitRI(LDI, result, 0, 1)
	jshort := fc.emitRI(JNZ, lhs, 0, 0)
	rhs, err := fc.compileExpr(n.Rhs)
	if err != nil {
		return 0, err
	}
	zero := fc.allocReg()
	fc.emitRI(LDI, zero, 0, 0)
	fc.emitRRR(CNE, result, rhs, zero, 0)
	fc.patchImm(jshort, uint64(fc.here()))
	return result, nil
}

func (fc *fcomp) compileAssign(lhs, rhs *ast.Node) (uint8, error) {
	addr, err := fc.addrOf(lhs)
	if err != nil {
		return 0, err
	}
	val, err := fc.compileExpr(rhs)
	if err != nil {
		return 0, err
	}
	fc.storeTo(addr, val, lhs.Typ)
	return val, nil
}

func (fc *fcomp) indexAddr(n *ast.Node) (uint8, error) {
	base, err := fc.compileExpr(n.Lhs)
	if err != nil {
		return 0, err
	}
	idx, err := fc.compileExpr(n.Rhs)
	if err != nil {
		return 0, err
	}
	scale := n.Typ.Size
	if scale <= 0 {
		scale = 1
	}
	scaledIdx := idx
	if scale != 1 {
		lit := fc.allocReg()
		fc.emitRI(LDI, lit, 0, uint64(scale))
		scaledIdx = fc.allocReg()
		fc.emitRRR(MUL, scaledIdx, idx, lit, 0)
	}
	addr := fc.allocReg()
	fc.emitRRR(ADD, addr, base, scaledIdx, 0)
	return addr, nil
}

func (fc *fcomp) memberAddr(n *ast.Node) (uint8, error) {
	base, err := fc.addrOf(n.Lhs)
	if err != nil {
		return 0, err
	}
	return fc.offsetAddr(base, n.MemberT)
}

func (fc *fcomp) arrowAddr(n *ast.Node) (uint8, error) {
	base, err := fc.compileExpr(n.Lhs)
	if err != nil {
		return 0, err
	}
	return fc.offsetAddr(base, n.MemberT)
}

func (fc *fcomp) offsetAddr(base uint8, m *ctype.Member) (uint8, error) {
	if m.Offset == 0 {
		return base, nil
	}
	lit := fc.allocReg()
	fc.emitRI(LDI, lit, 0, uint64(m.Offset))
	addr := fc.allocReg()
	fc.emitRRR(ADD, addr, base, lit, 0)
	return addr, nil
}

func (fc *fcomp) compileCond(n *ast.Node) (uint8, error) {
	cond, err := fc.compileExpr(n.Cond_)
	if err != nil {
		return 0, err
	}
	resultIsFloat := isFloatT(n.Typ)
	var result uint8
	if resultIsFloat {
		result = fc.allocFReg()
	} else {
		result = fc.allocReg()
	}
	jz := fc.emitRI(JZ, cond, 0, 0)
	thenV, err := fc.compileExpr(n.Then)
	if err != nil {
		return 0, err
	}
	if resultIsFloat {
		fc.emitRRR(FMOV, result, thenV, 0, 0)
	} else {
		fc.emitRRR(MOV, result, thenV, 0, 0)
	}
	jend := fc.emitRI(JMP, 0, 0, 0)
	fc.patchImm(jz, uint64(fc.here()))
	elseV, err := fc.compileExpr(n.Else)
	if err != nil {
		return 0, err
	}
	if resultIsFloat {
		fc.emitRRR(FMOV, result, elseV, 0, 0)
	} else {
		fc.emitRRR(MOV, result, elseV, 0, 0)
	}
	fc.patchImm(jend, uint64(fc.here()))
	return result, nil
}

// heapBuiltins names the libc allocator/copy functions the code generator
// lowers to dedicated opcodes rather than a CALL: this VM's heap manager is
// opcode-level (SPEC_FULL.md §4.5), not linked against a libc, so these
// names are intercepted at the call site instead of requiring a runtime
// stub function.
var heapBuiltins = map[string]Opcode{
	"malloc": MALLOC, "calloc": CALLOC, "realloc": REALLOC, "free": FREE, "memcpy": MEMCPY,
}

func (fc *fcomp) compileBuiltinHeap(op Opcode, args []*ast.Node) (uint8, error) {
	regs := make([]uint8, len(args))
	for i, a := range args {
		v, err := fc.compileExpr(a)
		if err != nil {
			return 0, err
		}
		regs[i] = v
	}
	switch op {
	case FREE:
		fc.emitRRR(FREE, regZero, regs[0], 0, 0)
		return 0, nil
	case MEMCPY:
		fc.emitRRR(MEMCPY, regs[0], regs[1], regs[2], 0)
		return regs[0], nil
	default:
		r := fc.allocReg()
		var s1, s2 uint8
		if len(regs) > 0 {
			s1 = regs[0]
		}
		if len(regs) > 1 {
			s2 = regs[1]
		}
		fc.emitRRR(op, r, s1, s2, 0)
		return r, nil
	}
}

func (fc *fcomp) compileCall(n *ast.Node) (uint8, error) {
	if n.Lhs != nil && n.Lhs.Kind == ast.VarRef {
		if op, ok := heapBuiltins[n.Lhs.Name]; ok {
			return fc.compileBuiltinHeap(op, n.Args)
		}
	}

	// A function declared but never defined in this translation unit (an
	// extern prototype with no body, e.g. libc's puts) has no text address
	// to CALL against. Lower it to CALLF, resolved against the embedder's
	// ffi.Table by name at load time, instead of failing as an undefined
	// reference the way a genuinely unresolved local call would.
	ffiCall := n.Lhs != nil && n.Lhs.Kind == ast.VarRef && n.Lhs.Obj != nil &&
		n.Lhs.Obj.IsFunction && n.Lhs.Obj.Body == nil

	var intArgs, fltArgs []uint8
	var argIsFloat []bool
	for _, a := range n.Args {
		v, err := fc.compileExpr(a)
		if err != nil {
			return 0, err
		}
		if isFloatT(a.Typ) {
			fltArgs = append(fltArgs, v)
			argIsFloat = append(argIsFloat, true)
		} else {
			intArgs = append(intArgs, v)
			argIsFloat = append(argIsFloat, false)
		}
	}
	for i, v := range intArgs {
		if i >= maxArgRegs {
			break // stack-passed arguments beyond the 8th: future extension
		}
		fc.emitRRR(MOV, uint8(firstArgReg+i), v, 0, 0)
	}
	for i, v := range fltArgs {
		if i >= maxFArgRegs {
			break
		}
		fc.emitRRR(FMOV, uint8(firstFArg+i), v, 0, 0)
	}

	switch {
	case ffiCall:
		idx := fc.c.ffiImportIndex(n.Lhs.Obj.Name)
		var doubleMask uint8
		for i, isFloat := range argIsFloat {
			if i >= 8 {
				break // doubleMask is one byte: CALLF supports at most 8 positional args
			}
			if isFloat {
				doubleMask |= 1 << uint(i)
			}
		}
		fc.emitRI(CALLF, uint8(len(argIsFloat)), doubleMask, uint64(idx))
	case n.Lhs != nil && n.Lhs.Kind == ast.VarRef && n.Lhs.Obj != nil && n.Lhs.Obj.IsFunction:
		w := fc.emitRI(CALL, 0, 0, 0)
		fc.calls = append(fc.calls, localPatch{wordIndex: w, target: n.Lhs.Obj})
	default:
		callee, err := fc.compileExpr(n.Lhs)
		if err != nil {
			return 0, err
		}
		fc.emitRRR(CALLI, 0, callee, 0, 0)
	}

	switch {
	case n.Typ == nil || n.Typ.Kind == ctype.Void:
		return 0, nil
	case n.Typ.Kind == ctype.Struct || n.Typ.Kind == ctype.Union:
		r := fc.allocReg()
		fc.emitRRR(MOV, r, regRet, 0, 0) // pointer into the rotating return-buffer pool
		return r, nil
	case isFloatT(n.Typ):
		r := fc.allocFReg()
		fc.emitRRR(FMOV, r, fretReg, 0, 0)
		return r, nil
	default:
		r := fc.allocReg()
		fc.emitRRR(MOV, r, regRet, 0, 0)
		return r, nil
	}
}

// compileVaArg reads and advances whichever of ap's two cursors matches
// n.Typ: the int-bank cursor at ap+0 for everything but floating types, the
// float-bank cursor at ap+8 for those (lang/parser predeclares va_list as
// that two-word layout, VaStart in expr.go initializes both). A single
// shared cursor would scramble a call like f(1, 2.0, 3) the moment va_arg
// is asked for int, float, int in that order: the two values end up in two
// separate physical register-save banks, not interleaved the way the
// logical argument list is.
func (fc *fcomp) compileVaArg(n *ast.Node) (uint8, error) {
	apAddr, err := fc.addrOf(n.Lhs)
	if err != nil {
		return 0, err
	}
	voidPtr := ctype.PointerTo(ctype.TyVoid)

	slotAddr := apAddr
	if isFloatT(n.Typ) {
		eight := fc.allocReg()
		fc.emitRI(LDI, eight, 0, 8)
		slotAddr = fc.allocReg()
		fc.emitRRR(ADD, slotAddr, apAddr, eight, 0)
	}

	cur, err := fc.loadFrom(slotAddr, voidPtr)
	if err != nil {
		return 0, err
	}
	val, err := fc.loadFrom(cur, n.Typ)
	if err != nil {
		return 0, err
	}
	lit := fc.allocReg()
	fc.emitRI(LDI, lit, 0, 8)
	next := fc.allocReg()
	fc.emitRRR(ADD, next, cur, lit, 0)
	fc.storeTo(slotAddr, next, voidPtr)
	return val, nil
}

// compileAtomic lowers the CAS/Exchange builtins to an explicit compare/
// branch sequence: this VM has a single thread of execution (SPEC_FULL.md
// §5), so these need no hardware atomicity, only the C semantics of
// "read-modify-write without an intervening observable step".
func (fc *fcomp) compileAtomic(n *ast.Node) (uint8, error) {
	switch n.Kind {
	case ast.Exchange:
		ptr, err := fc.compileExpr(n.Args[0])
		if err != nil {
			return 0, err
		}
		newv, err := fc.compileExpr(n.Args[1])
		if err != nil {
			return 0, err
		}
		old, err := fc.loadFrom(ptr, n.Typ)
		if err != nil {
			return 0, err
		}
		fc.storeTo(ptr, newv, n.Typ)
		return old, nil

	case ast.CAS:
		ptr, err := fc.compileExpr(n.Args[0])
		if err != nil {
			return 0, err
		}
		expPtr, err := fc.compileExpr(n.Args[1])
		if err != nil {
			return 0, err
		}
		desired, err := fc.compileExpr(n.Args[2])
		if err != nil {
			return 0, err
		}
		elemT := n.Args[2].Typ
		old, err := fc.loadFrom(ptr, elemT)
		if err != nil {
			return 0, err
		}
		expVal, err := fc.loadFrom(expPtr, elemT)
		if err != nil {
			return 0, err
		}
		eq := fc.allocReg()
		fc.emitRRR(CEQ, eq, old, expVal, 0)
		jz := fc.emitRI(JZ, eq, 0, 0)
		fc.storeTo(ptr, desired, elemT)
		jend := fc.emitRI(JMP, 0, 0, 0)
		fc.patchImm(jz, uint64(fc.here()))
		fc.storeTo(expPtr, old, elemT)
		fc.patchImm(jend, uint64(fc.here()))
		return eq, nil
	}
	return 0, fmt.Errorf("unreachable atomic kind %s", n.Kind)
}
