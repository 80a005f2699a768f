package compiler

import (
	"fmt"

	"github.com/jcc-lang/jcc/lang/ast"
	"github.com/jcc-lang/jcc/lang/ctype"
)

// compileStmt emits n (a statement node) into fc.code. Every call resets
// the scratch-register cursor first: no statement's temporaries are live
// across a statement boundary, so reuse is always safe without a real
// liveness analysis.
func (fc *fcomp) compileStmt(n *ast.Node) error {
	if n == nil {
		return nil
	}
	fc.resetRegs()
	switch n.Kind {
	case ast.Block:
		for _, s := range n.Body {
			if err := fc.compileStmt(s); err != nil {
				return err
			}
		}
		return nil

	case ast.Decl:
		return nil // storage is frame-allocated at layoutFrame time; nothing to emit

	case ast.ExprStmt:
		if n.Lhs != nil {
			_, err := fc.compileExpr(n.Lhs)
			return err
		}
		return nil

	case ast.If:
		return fc.compileIf(n)

	case ast.For:
		return fc.compileFor(n)

	case ast.DoWhile:
		return fc.compileDoWhile(n)

	case ast.Switch:
		return fc.compileSwitch(n)

	case ast.Case, ast.Default:
		if w, ok := fc.caseJumpPatch[n]; ok {
			fc.patchImm(w, uint64(fc.here()))
		}
		return fc.compileStmt(n.Then)

	case ast.Break:
		if len(fc.breakFix) == 0 {
			return fmt.Errorf("break outside loop/switch")
		}
		w := fc.emitRI(JMP, 0, 0, 0)
		fc.addBreak(w)
		return nil

	case ast.Continue:
		if len(fc.continueFix) == 0 {
			return fmt.Errorf("continue outside loop")
		}
		w := fc.emitRI(JMP, 0, 0, 0)
		fc.addContinue(w)
		return nil

	case ast.Goto:
		w := fc.emitRI(JMP, 0, 0, 0)
		fc.gotoFixups = append(fc.gotoFixups, gotoFixup{wordIndex: w, label: n.Label})
		return nil

	case ast.ComputedGoto:
		r, err := fc.compileExpr(n.Lhs)
		if err != nil {
			return err
		}
		fc.emitRRR(JMPI, 0, r, 0, 0)
		return nil

	case ast.Label:
		fc.labelPos[n.Label] = fc.here()
		if n.Lhs != nil {
			return fc.compileStmt(n.Lhs)
		}
		return nil

	case ast.Return:
		if n.Lhs != nil {
			switch {
			case n.Lhs.Typ != nil && (n.Lhs.Typ.Kind == ctype.Struct || n.Lhs.Typ.Kind == ctype.Union):
				src, err := fc.structAddr(n.Lhs)
				if err != nil {
					return err
				}
				// Copy into the next slot of the rotating return-buffer pool
				// (SPEC_FULL.md §4.3) rather than exposing the callee's own
				// frame: that frame is gone the instant LEAVE runs, and two
				// struct-returning calls live at once (f(g(), h())) need
				// non-overlapping storage.
				dst := fc.allocReg()
				fc.emitRI(LEA, dst, 0, uint64(fc.c.nextRetBuf()))
				lenReg := fc.allocReg()
				fc.emitRI(LDI, lenReg, 0, uint64(n.Lhs.Typ.Size))
				fc.emitRRR(MEMCPY, dst, src, lenReg, 0)
				fc.emitRRR(MOV, regRet, dst, 0, 0)
			case n.Lhs.Typ != nil && n.Lhs.Typ.IsFloating():
				r, err := fc.compileExpr(n.Lhs)
				if err != nil {
					return err
				}
				fc.emitRRR(FMOV, fretReg, r, 0, 0)
			default:
				r, err := fc.compileExpr(n.Lhs)
				if err != nil {
					return err
				}
				fc.emitRRR(MOV, regRet, r, 0, 0)
			}
		}
		fc.emitOp(LEAVE)
		return nil

	default:
		_, err := fc.compileExpr(n)
		return err
	}
}

func (fc *fcomp) compileIf(n *ast.Node) error {
	cond, err := fc.compileExpr(n.Cond_)
	if err != nil {
		return err
	}
	jzElse := fc.emitRI(JZ, cond, 0, 0)
	if err := fc.compileStmt(n.Then); err != nil {
		return err
	}
	if n.Else == nil {
		fc.patchImm(jzElse, uint64(fc.here()))
		return nil
	}
	jmpEnd := fc.emitRI(JMP, 0, 0, 0)
	fc.patchImm(jzElse, uint64(fc.here()))
	if err := fc.compileStmt(n.Else); err != nil {
		return err
	}
	fc.patchImm(jmpEnd, uint64(fc.here()))
	return nil
}

func (fc *fcomp) compileFor(n *ast.Node) error {
	if n.Init != nil {
		if err := fc.compileStmt(n.Init); err != nil {
			return err
		}
	}
	fc.pushBreak()
	fc.pushContinue()
	top := fc.here()
	var jzEnd int
	hasCond := n.Cond_ != nil
	if hasCond {
		cond, err := fc.compileExpr(n.Cond_)
		if err != nil {
			return err
		}
		jzEnd = fc.emitRI(JZ, cond, 0, 0)
	}
	if err := fc.compileStmt(n.Then); err != nil {
		return err
	}
	contTarget := fc.here()
	if n.Post != nil {
		fc.resetRegs()
		if _, err := fc.compileExpr(n.Post); err != nil {
			return err
		}
	}
	fc.emitRI(JMP, 0, 0, uint64(top))
	end := fc.here()
	if hasCond {
		fc.patchImm(jzEnd, uint64(end))
	}
	fc.popContinue(contTarget)
	fc.popBreak(end)
	return nil
}

func (fc *fcomp) compileDoWhile(n *ast.Node) error {
	fc.pushBreak()
	fc.pushContinue()
	top := fc.here()
	if err := fc.compileStmt(n.Then); err != nil {
		return err
	}
	contTarget := fc.here()
	fc.resetRegs()
	cond, err := fc.compileExpr(n.Cond_)
	if err != nil {
		return err
	}
	fc.emitRI(JNZ, cond, 0, uint64(top))
	end := fc.here()
	fc.popContinue(contTarget)
	fc.popBreak(end)
	return nil
}

// compileSwitch emits a compare-chain dispatch: one CEQ+JNZ pair per case
// (and a trailing range check for GNU case ranges), followed by the body
// with break resolved to the end. Every switch is lowered this way, however
// dense its case labels; no jump table is emitted.
func (fc *fcomp) compileSwitch(n *ast.Node) error {
	cond, err := fc.compileExpr(n.Cond_)
	if err != nil {
		return err
	}
	fc.pushBreak()

	var defaultNode *ast.Node
	var jmpDefaultOrEnd int
	for _, c := range n.Cases {
		if c.Kind == ast.Default {
			defaultNode = c
			continue
		}
		hit := fc.allocReg()
		lit := fc.allocReg()
		fc.emitRI(LDI, lit, 0, uint64(c.IVal))
		if c.CaseHi > c.IVal {
			// range: hit = (cond >= lo) && (cond <= hi)
			loOK := fc.allocReg()
			fc.emitRRR(CGE, loOK, cond, lit, 0)
			hiLit := fc.allocReg()
			fc.emitRI(LDI, hiLit, 0, uint64(c.CaseHi))
			hiOK := fc.allocReg()
			fc.emitRRR(CLE, hiOK, cond, hiLit, 0)
			fc.emitRRR(AND, hit, loOK, hiOK, 0)
		} else {
			fc.emitRRR(CEQ, hit, cond, lit, 0)
		}
		w := fc.emitRI(JNZ, hit, 0, 0)
		fc.caseJumpPatch[c] = w
	}
	jmpDefaultOrEnd = fc.emitRI(JMP, 0, 0, 0)
	if defaultNode != nil {
		fc.caseJumpPatch[defaultNode] = jmpDefaultOrEnd
	}

	if err := fc.compileStmt(n.Then); err != nil {
		return err
	}
	end := fc.here()
	if defaultNode == nil {
		fc.patchImm(jmpDefaultOrEnd, uint64(end))
	}
	fc.popBreak(end)
	return nil
}
