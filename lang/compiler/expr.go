package compiler

import (
	"fmt"
	"math"

	"github.com/jcc-lang/jcc/lang/ast"
	"github.com/jcc-lang/jcc/lang/ctype"
	"github.com/jcc-lang/jcc/lang/token"
)

var intBinOp = map[ast.Kind]Opcode{
	ast.Add: ADD, ast.Sub: SUB, ast.Mul: MUL, ast.Div: DIV, ast.Mod: MOD,
	ast.BitAnd: AND, ast.BitOr: OR, ast.BitXor: XOR, ast.Shl: SHL, ast.Shr: SHR,
	ast.Lt: CLT, ast.Le: CLE, ast.Gt: CGT, ast.Ge: CGE, ast.Eq: CEQ, ast.Ne: CNE,
}

var fltBinOp = map[ast.Kind]Opcode{
	ast.Add: FADD, ast.Sub: FSUB, ast.Mul: FMUL, ast.Div: FDIV,
	ast.Lt: FLT, ast.Le: FLE, ast.Gt: FGT, ast.Ge: FGE, ast.Eq: FEQ, ast.Ne: FNE,
}

// loadOp and storeOp return the opcode that moves a value of Size bytes
// between memory and a register, matching the teacher's convention of one
// opcode per access width rather than a single generic one with a width
// operand, so the disassembler prints the width without decoding a flag.
func loadOp(t *ctype.Type) Opcode {
	switch t.Size {
	case 1:
		return LD1
	case 2:
		return LD2
	case 4:
		return LD4
	default:
		return LD8
	}
}

func storeOp(t *ctype.Type) Opcode {
	switch t.Size {
	case 1:
		return ST1
	case 2:
		return ST2
	case 4:
		return ST4
	default:
		return ST8
	}
}

func isFloatT(t *ctype.Type) bool { return t != nil && t.IsFloating() }

// compileExpr lowers n to register-producing code, returning the register
// holding n's value: an integer/pointer register unless n.Typ is floating,
// in which case a float register is returned instead (the caller tells
// which bank by checking n.Typ.IsFloating()).
func (fc *fcomp) compileExpr(n *ast.Node) (uint8, error) {
	switch n.Kind {
	case ast.IntLit:
		r := fc.allocReg()
		fc.emitRI(LDI, r, 0, uint64(n.IVal))
		return r, nil

	case ast.FloatLit:
		r := fc.allocFReg()
		ir := fc.allocReg()
		fc.emitRI(LDI, ir, 0, floatBits(n.FVal))
		fc.emitRRR(I2F, r, ir, 0, FlagTrapOvf) // reinterpret, not convert: see I2F note below
		return r, nil

	case ast.StringLit:
		// The parser represents string literals as a VarRef to an interned
		// static char array (lang/parser.newStringLocal); this Kind is kept
		// for a future literal-pooling pass that skips the intermediate Obj.
		if n.Obj != nil {
			return fc.varAddr(n)
		}
		r := fc.allocReg()
		fc.emitRI(LDI, r, 0, 0)
		return r, nil

	case ast.VarRef:
		return fc.compileVarRef(n)

	case ast.Neg:
		return fc.compileUnaryArith(n)

	case ast.Not:
		v, err := fc.compileExpr(n.Lhs)
		if err != nil {
			return 0, err
		}
		r := fc.allocReg()
		zero := fc.allocReg()
		fc.emitRI(LDI, zero, 0, 0)
		fc.emitRRR(CEQ, r, v, zero, 0)
		return r, nil

	case ast.BitNot:
		v, err := fc.compileExpr(n.Lhs)
		if err != nil {
			return 0, err
		}
		r := fc.allocReg()
		fc.emitRRR(BNOT, r, v, 0, 0)
		return r, nil

	case ast.Deref:
		addr, err := fc.compileExpr(n.Lhs)
		if err != nil {
			return 0, err
		}
		return fc.loadFrom(addr, n.Typ)

	case ast.Addr:
		return fc.compileAddrOf(n.Lhs)

	case ast.FuncAddr:
		r := fc.allocReg()
		w := fc.emitRI(LEA, r, FlagCode, 0)
		fc.calls = append(fc.calls, localPatch{wordIndex: w, target: n.Obj})
		return r, nil

	case ast.LabelAddr:
		r := fc.allocReg()
		w := fc.emitRI(LEA, r, FlagCode, 0)
		fc.gotoFixups = append(fc.gotoFixups, gotoFixup{wordIndex: w, label: n.Label})
		return r, nil

	case ast.PreInc, ast.PreDec, ast.PostInc, ast.PostDec:
		return fc.compileIncDec(n)

	case ast.Cast:
		return fc.compileCast(n)

	case ast.Add, ast.Sub, ast.Mul, ast.Div, ast.Mod,
		ast.BitAnd, ast.BitOr, ast.BitXor, ast.Shl, ast.Shr,
		ast.Lt, ast.Le, ast.Gt, ast.Ge, ast.Eq, ast.Ne:
		return fc.compileBinary(n)

	case ast.LogAnd, ast.LogOr:
		return fc.compileLogical(n)

	case ast.Assign:
		return fc.compileAssign(n.Lhs, n.Rhs)

	case ast.CompoundAssign:
		rhs := &ast.Node{Kind: opToKind(n.Op), Lhs: n.Lhs, Rhs: n.Rhs, Typ: n.Typ, Tok: n.Tok}
		return fc.compileAssign(n.Lhs, rhs)

	case ast.Index:
		addr, err := fc.indexAddr(n)
		if err != nil {
			return 0, err
		}
		return fc.loadFrom(addr, n.Typ)

	case ast.Member:
		addr, err := fc.memberAddr(n)
		if err != nil {
			return 0, err
		}
		return fc.loadFrom(addr, n.Typ)

	case ast.Arrow:
		addr, err := fc.arrowAddr(n)
		if err != nil {
			return 0, err
		}
		return fc.loadFrom(addr, n.Typ)

	case ast.Comma:
		if _, err := fc.compileExpr(n.Lhs); err != nil {
			return 0, err
		}
		return fc.compileExpr(n.Rhs)

	case ast.Cond:
		return fc.compileCond(n)

	case ast.Call:
		return fc.compileCall(n)

	case ast.StmtExpr:
		for i, s := range n.Body {
			if i == len(n.Body)-1 && s.Kind == ast.ExprStmt {
				return fc.compileExpr(s.Lhs)
			}
			if err := fc.compileStmt(s); err != nil {
				return 0, err
			}
		}
		r := fc.allocReg()
		fc.emitRI(LDI, r, 0, 0)
		return r, nil

	case ast.VaStart:
		// ap is the two-cursor layout lang/parser predeclares va_list as:
		// word 0 walks the int register-save bank, word 1 walks the float
		// bank (ENTER spills them to vaBase[0..7] and vaBase[8..15]
		// separately, lang/machine/machine.go), since they are not
		// interleaved in argument-list order the way the logical C
		// argument sequence is.
		apAddr, err := fc.addrOf(n.Lhs)
		if err != nil {
			return 0, err
		}
		voidPtr := ctype.PointerTo(ctype.TyVoid)

		intCur := fc.allocReg()
		fc.emitRI(LEA, intCur, FlagFrame, uint64(fc.vaOffset))
		fc.storeTo(apAddr, intCur, voidPtr)

		eight := fc.allocReg()
		fc.emitRI(LDI, eight, 0, 8)
		fCursorSlot := fc.allocReg()
		fc.emitRRR(ADD, fCursorSlot, apAddr, eight, 0)

		floatCur := fc.allocReg()
		fc.emitRI(LEA, floatCur, FlagFrame, uint64(fc.vaOffset)+uint64(maxArgRegs)*8)
		fc.storeTo(fCursorSlot, floatCur, voidPtr)
		return 0, nil

	case ast.VaEnd:
		return 0, nil

	case ast.VaArg:
		return fc.compileVaArg(n)

	case ast.CAS, ast.Exchange:
		return fc.compileAtomic(n)

	default:
		return 0, fmt.Errorf("%s: codegen: unsupported expression kind %s", n.Span(), n.Kind)
	}
}

var compoundAssignKind = map[token.Token]ast.Kind{
	token.PLUS: ast.Add, token.MINUS: ast.Sub, token.STAR: ast.Mul, token.SLASH: ast.Div,
	token.PERCENT: ast.Mod, token.AMPERSAND: ast.BitAnd, token.PIPE: ast.BitOr, token.CIRCUMFLEX: ast.BitXor,
	token.LTLT: ast.Shl, token.GTGT: ast.Shr,
}

func opToKind(op token.Token) ast.Kind { return compoundAssignKind[op] }

// floatBits reinterprets f's IEEE-754 bit pattern as a uint64 immediate;
// the I2F opcode at runtime treats its source register as those raw bits,
// not as an integer to convert, when FlagTrapOvf is set on a literal load
// (SPEC_FULL.md §4.1's note that LDI has no float-immediate form of its
// own, reusing I2F's bit-reinterpretation mode instead).
func floatBits(f float64) uint64 { return math.Float64bits(f) }
