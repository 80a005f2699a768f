// Much of this package's dispatch-loop shape is adapted from the Starlark
// source code: https://github.com/google/starlark-go/tree/ee8ed142361c69d52fe8e9fb5e311d2a0a7c02de
//
// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package machine implements the register-based virtual machine that
// executes lang/compiler's bytecode: the register file, the four memory
// segments, the heap allocator, and the fetch-decode-dispatch loop.
package machine

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/jcc-lang/jcc/lang/compiler"
	"github.com/jcc-lang/jcc/lang/ctype"
	"github.com/jcc-lang/jcc/lang/ffi"
)

// run is the dispatch loop: the teacher's own fetch-decode-switch shape
// (labeled loop, an inFlightErr variable set by any opcode that can fail
// and checked once per iteration), generalized from an operand-stack
// machine to a register file plus four segments.
func (th *Thread) run() (int64, error) {
	mem := th.mem
	regs := &th.regs
	text := th.prog.Text

	var inFlightErr error
	var exitCode int64

loop:
	for {
		th.steps++
		if th.steps >= th.maxSteps {
			th.ctxCancel()
			inFlightErr = fmt.Errorf("thread cancelled: step limit exceeded")
			break loop
		}
		select {
		case <-th.ctx.Done():
			inFlightErr = fmt.Errorf("thread cancelled: %v", th.ctx.Err())
			break loop
		default:
		}

		if th.Debugger.Hook != nil {
			if reason := th.Debugger.probe(regs.PC, regs.SP, regs.BP); reason != StopNone {
				if th.Debugger.Hook(th, reason) {
					th.Debugger.stepping = true
				}
			}
		}

		pc := regs.PC
		op := compiler.Opcode(text[pc])
		var o compiler.Operand
		var imm uint64
		switch op.Shape() {
		case compiler.ShapeNone:
			regs.PC = pc + 1
		case compiler.ShapeRRR:
			o = compiler.UnpackOperand(text[pc+1])
			regs.PC = pc + 2
		case compiler.ShapeRI:
			o = compiler.UnpackOperand(text[pc+1])
			imm = text[pc+2]
			regs.PC = pc + 3
		}

		switch op {
		case compiler.NOP:

		case compiler.LDI:
			regs.SetInt(o.Dst, imm)

		case compiler.MOV:
			regs.SetInt(o.Dst, regs.Int(o.Src1))

		case compiler.LEA:
			switch {
			case o.Flags&compiler.FlagFrame != 0:
				regs.SetInt(o.Dst, uint64(int64(regs.BP)+int64(imm)))
			case o.Flags&compiler.FlagCode != 0:
				regs.SetInt(o.Dst, imm)
			default:
				regs.SetInt(o.Dst, dataBase+imm)
			}

		case compiler.ADD:
			regs.SetInt(o.Dst, regs.Int(o.Src1)+regs.Int(o.Src2))
		case compiler.SUB:
			regs.SetInt(o.Dst, regs.Int(o.Src1)-regs.Int(o.Src2))
		case compiler.MUL:
			regs.SetInt(o.Dst, regs.Int(o.Src1)*regs.Int(o.Src2))
		case compiler.DIV:
			y := regs.Int(o.Src2)
			if y == 0 {
				inFlightErr = fmt.Errorf("division by zero")
				break loop
			}
			if o.Flags&compiler.FlagUnsigned != 0 {
				regs.SetInt(o.Dst, regs.Int(o.Src1)/y)
			} else {
				regs.SetInt(o.Dst, uint64(int64(regs.Int(o.Src1))/int64(y)))
			}
		case compiler.MOD:
			y := regs.Int(o.Src2)
			if y == 0 {
				inFlightErr = fmt.Errorf("division by zero")
				break loop
			}
			if o.Flags&compiler.FlagUnsigned != 0 {
				regs.SetInt(o.Dst, regs.Int(o.Src1)%y)
			} else {
				regs.SetInt(o.Dst, uint64(int64(regs.Int(o.Src1))%int64(y)))
			}
		case compiler.NEG:
			regs.SetInt(o.Dst, uint64(-int64(regs.Int(o.Src1))))

		case compiler.AND:
			regs.SetInt(o.Dst, regs.Int(o.Src1)&regs.Int(o.Src2))
		case compiler.OR:
			regs.SetInt(o.Dst, regs.Int(o.Src1)|regs.Int(o.Src2))
		case compiler.XOR:
			regs.SetInt(o.Dst, regs.Int(o.Src1)^regs.Int(o.Src2))
		case compiler.SHL:
			regs.SetInt(o.Dst, regs.Int(o.Src1)<<(regs.Int(o.Src2)&63))
		case compiler.SHR:
			if o.Flags&compiler.FlagUnsigned != 0 {
				regs.SetInt(o.Dst, regs.Int(o.Src1)>>(regs.Int(o.Src2)&63))
			} else {
				regs.SetInt(o.Dst, uint64(int64(regs.Int(o.Src1))>>(regs.Int(o.Src2)&63)))
			}
		case compiler.NOT:
			if regs.Int(o.Src1) == 0 {
				regs.SetInt(o.Dst, 1)
			} else {
				regs.SetInt(o.Dst, 0)
			}
		case compiler.BNOT:
			regs.SetInt(o.Dst, ^regs.Int(o.Src1))

		case compiler.CLT, compiler.CLE, compiler.CGT, compiler.CGE, compiler.CEQ, compiler.CNE:
			regs.SetInt(o.Dst, boolU64(compareInt(op, regs.Int(o.Src1), regs.Int(o.Src2), o.Flags&compiler.FlagUnsigned != 0)))

		case compiler.FADD:
			regs.SetFlt(o.Dst, regs.Flt(o.Src1)+regs.Flt(o.Src2))
		case compiler.FSUB:
			regs.SetFlt(o.Dst, regs.Flt(o.Src1)-regs.Flt(o.Src2))
		case compiler.FMUL:
			regs.SetFlt(o.Dst, regs.Flt(o.Src1)*regs.Flt(o.Src2))
		case compiler.FDIV:
			regs.SetFlt(o.Dst, regs.Flt(o.Src1)/regs.Flt(o.Src2))
		case compiler.FNEG:
			regs.SetFlt(o.Dst, -regs.Flt(o.Src1))
		case compiler.FLT, compiler.FLE, compiler.FGT, compiler.FGE, compiler.FEQ, compiler.FNE:
			regs.SetInt(o.Dst, boolU64(compareFlt(op, regs.Flt(o.Src1), regs.Flt(o.Src2))))
		case compiler.I2F:
			if o.Flags&compiler.FlagTrapOvf != 0 {
				regs.SetFlt(o.Dst, math.Float64frombits(regs.Int(o.Src1)))
			} else {
				regs.SetFlt(o.Dst, float64(int64(regs.Int(o.Src1))))
			}
		case compiler.F2I:
			regs.SetInt(o.Dst, uint64(int64(regs.Flt(o.Src1))))
		case compiler.FMOV:
			regs.SetFlt(o.Dst, regs.Flt(o.Src1))

		case compiler.LD1, compiler.LD2, compiler.LD4, compiler.LD8:
			n := loadSize(op)
			addr := regs.Int(o.Src1)
			if th.mem.Heap.Flags.CheckPointers {
				if err := mem.Heap.CheckPointer(addr, n, ctype.Void); err != nil {
					inFlightErr = err
					break loop
				}
			}
			v, err := mem.Load(addr, n)
			if err != nil {
				inFlightErr = err
				break loop
			}
			regs.SetInt(o.Dst, v)

		case compiler.ST1, compiler.ST2, compiler.ST4, compiler.ST8:
			n := storeSize(op)
			addr := regs.Int(o.Dst)
			if th.mem.Heap.Flags.CheckPointers {
				if err := mem.Heap.CheckPointer(addr, n, ctype.Void); err != nil {
					inFlightErr = err
					break loop
				}
			}
			if err := mem.Store(addr, n, regs.Int(o.Src1)); err != nil {
				inFlightErr = err
				break loop
			}

		case compiler.FLD:
			v, err := mem.Load(regs.Int(o.Src1), 8)
			if err != nil {
				inFlightErr = err
				break loop
			}
			regs.SetFlt(o.Dst, math.Float64frombits(v))
		case compiler.FST:
			if err := mem.Store(regs.Int(o.Dst), 8, math.Float64bits(regs.Flt(o.Src1))); err != nil {
				inFlightErr = err
				break loop
			}

		case compiler.SX1:
			regs.SetInt(o.Dst, uint64(int64(int8(regs.Int(o.Src1)))))
		case compiler.SX2:
			regs.SetInt(o.Dst, uint64(int64(int16(regs.Int(o.Src1)))))
		case compiler.SX4:
			regs.SetInt(o.Dst, uint64(int64(int32(regs.Int(o.Src1)))))
		case compiler.ZX1:
			regs.SetInt(o.Dst, uint64(uint8(regs.Int(o.Src1))))
		case compiler.ZX2:
			regs.SetInt(o.Dst, uint64(uint16(regs.Int(o.Src1))))
		case compiler.ZX4:
			regs.SetInt(o.Dst, uint64(uint32(regs.Int(o.Src1))))

		case compiler.JMP:
			regs.PC = uint32(imm)
		case compiler.JZ:
			if regs.Int(o.Dst) == 0 {
				regs.PC = uint32(imm)
			}
		case compiler.JNZ:
			if regs.Int(o.Dst) != 0 {
				regs.PC = uint32(imm)
			}
		case compiler.JMPI:
			regs.PC = uint32(regs.Int(o.Src1))
		case compiler.JMPT:
			idx, err := mem.Load(dataBase+imm+regs.Int(o.Dst)*8, 8)
			if err != nil {
				inFlightErr = err
				break loop
			}
			regs.PC = uint32(idx)

		case compiler.CALL:
			if th.MaxCallStackDepth > 0 && len(th.frames) >= th.MaxCallStackDepth {
				inFlightErr = fmt.Errorf("call stack depth exceeded")
				break loop
			}
			ret := regs.PC
			regs.SP -= 8
			if err := mem.Store(regs.SP, 8, uint64(ret)); err != nil {
				inFlightErr = err
				break loop
			}
			th.shadow.push(ret)
			th.frames = append(th.frames, frame{fn: th.prog.FuncByAddr(uint32(imm)), bp: regs.BP})
			regs.PC = uint32(imm)

		case compiler.CALLI:
			if th.MaxCallStackDepth > 0 && len(th.frames) >= th.MaxCallStackDepth {
				inFlightErr = fmt.Errorf("call stack depth exceeded")
				break loop
			}
			target := uint32(regs.Int(o.Src1))
			ret := regs.PC
			regs.SP -= 8
			if err := mem.Store(regs.SP, 8, uint64(ret)); err != nil {
				inFlightErr = err
				break loop
			}
			th.shadow.push(ret)
			th.frames = append(th.frames, frame{fn: th.prog.FuncByAddr(target), bp: regs.BP})
			regs.PC = target

		case compiler.ENTER:
			regs.SP -= 8
			if err := mem.Store(regs.SP, 8, regs.BP); err != nil {
				inFlightErr = err
				break loop
			}
			regs.BP = regs.SP
			regs.SP -= imm
			if o.Flags&compiler.EnterFlagStackCanary != 0 {
				if err := mem.Store(regs.BP-8, 8, th.canary); err != nil {
					inFlightErr = err
					break loop
				}
			}
			if o.Flags&compiler.EnterFlagVariadic != 0 { // spill every argument register into the va_area at the new SP
				vaBase := regs.SP
				for i := 0; i < maxArgRegs; i++ {
					if err := mem.Store(vaBase+uint64(i)*8, 8, regs.Int(uint8(firstArgReg+i))); err != nil {
						inFlightErr = err
						break loop
					}
				}
				for i := 0; i < maxFArgRegs; i++ {
					if err := mem.Store(vaBase+uint64(maxArgRegs+i)*8, 8, math.Float64bits(regs.Flt(uint8(firstFArg+i)))); err != nil {
						inFlightErr = err
						break loop
					}
				}
			}

		case compiler.LEAVE:
			if th.Safety.StackCanary {
				got, err := mem.Load(regs.BP-8, 8)
				if err != nil {
					inFlightErr = err
					break loop
				}
				if got != th.canary {
					inFlightErr = fmt.Errorf("STACK CANARY CORRUPTED: frame at bp=0x%x", regs.BP)
					break loop
				}
			}
			regs.SP = regs.BP
			savedBP, err := mem.Load(regs.SP, 8)
			if err != nil {
				inFlightErr = err
				break loop
			}
			regs.SP += 8
			retAddr, err := mem.Load(regs.SP, 8)
			if err != nil {
				inFlightErr = err
				break loop
			}
			regs.SP += 8
			regs.BP = savedBP
			if len(th.frames) > 0 {
				th.frames = th.frames[:len(th.frames)-1]
			}
			if retAddr == 0 {
				exitCode = int64(regs.Int(regRetReg))
				break loop
			}
			if err := th.shadow.pop(uint32(retAddr)); err != nil {
				inFlightErr = err
				break loop
			}
			regs.PC = uint32(retAddr)

		case compiler.ADJUST:
			regs.SP -= imm
		case compiler.PUSH:
			regs.SP -= 8
			if err := mem.Store(regs.SP, 8, regs.Int(o.Dst)); err != nil {
				inFlightErr = err
				break loop
			}
		case compiler.POP:
			v, err := mem.Load(regs.SP, 8)
			if err != nil {
				inFlightErr = err
				break loop
			}
			regs.SP += 8
			regs.SetInt(o.Dst, v)

		case compiler.MALLOC:
			addr, err := mem.Heap.Malloc(regs.Int(o.Src1), pc, ctype.Void)
			if err != nil {
				inFlightErr = err
				break loop
			}
			regs.SetInt(o.Dst, addr)
		case compiler.FREE:
			if err := mem.Heap.Free(regs.Int(o.Src1)); err != nil {
				inFlightErr = err
				break loop
			}
		case compiler.CALLOC:
			addr, err := mem.Heap.Calloc(regs.Int(o.Src1), regs.Int(o.Src2), pc, ctype.Void)
			if err != nil {
				inFlightErr = err
				break loop
			}
			regs.SetInt(o.Dst, addr)
		case compiler.REALLOC:
			addr, err := mem.Heap.Realloc(regs.Int(o.Src1), regs.Int(o.Src2), pc, ctype.Void)
			if err != nil {
				inFlightErr = err
				break loop
			}
			regs.SetInt(o.Dst, addr)
		case compiler.MEMCPY:
			n := regs.Int(o.Src2)
			src, err := mem.Bytes(regs.Int(o.Src1), int(n))
			if err != nil {
				inFlightErr = err
				break loop
			}
			dst, err := mem.Bytes(regs.Int(o.Dst), int(n))
			if err != nil {
				inFlightErr = err
				break loop
			}
			copy(dst, src)

		case compiler.CHKPTR, compiler.CHKBOUNDS, compiler.CHKTYPE:
			if !th.Safety.Bounds {
				continue loop
			}
			if err := mem.Heap.CheckPointer(regs.Int(o.Src1), int(regs.Int(o.Src2)), ctype.Void); err != nil {
				inFlightErr = err
				break loop
			}
		case compiler.CHKALIGN:
			if th.Safety.Bounds && regs.Int(o.Src1)%regs.Int(o.Src2) != 0 {
				inFlightErr = fmt.Errorf("misaligned access at 0x%x", regs.Int(o.Src1))
				break loop
			}
		case compiler.CHKINIT, compiler.MARKINIT, compiler.SCOPEIN, compiler.SCOPEOUT:
			// Recognized opcodes, reserved for the -i uninitialized-read
			// tracker; not yet implemented, so always a NOP (see DESIGN.md).

		case compiler.SETJMP:
			buf, err := mem.Bytes(regs.Int(o.Src1), 32)
			if err != nil {
				inFlightErr = err
				break loop
			}
			binary.LittleEndian.PutUint32(buf[0:], regs.PC)
			binary.LittleEndian.PutUint64(buf[8:], regs.SP)
			binary.LittleEndian.PutUint64(buf[16:], regs.BP)
			buf[24] = o.Dst
			regs.SetInt(o.Dst, 0)
		case compiler.LONGJMP:
			buf, err := mem.Bytes(regs.Int(o.Src1), 32)
			if err != nil {
				inFlightErr = err
				break loop
			}
			val := regs.Int(o.Src2)
			if val == 0 {
				val = 1
			}
			targetPC := binary.LittleEndian.Uint32(buf[0:])
			targetSP := binary.LittleEndian.Uint64(buf[8:])
			targetBP := binary.LittleEndian.Uint64(buf[16:])
			dstReg := buf[24]
			regs.PC = targetPC
			regs.SP = targetSP
			regs.BP = targetBP
			regs.SetInt(dstReg, val)

		case compiler.CALLF:
			if err := th.callFFI(int(o.Dst), imm, o.Flags); err != nil {
				inFlightErr = err
				break loop
			}

		case compiler.HALT:
			break loop

		default:
			inFlightErr = fmt.Errorf("illegal opcode %s at pc=%d", op, pc)
			break loop
		}
	}

	if inFlightErr != nil {
		fn := th.prog.FuncByAddr(regs.PC)
		name := ""
		if fn != nil {
			name = fn.Name
		}
		return exitCode, &Fault{Message: inFlightErr.Error(), PC: regs.PC, Func: name, Backtrace: th.backtrace()}
	}
	return exitCode, nil
}

// These mirror lang/compiler's unexported calling-convention constants
// (regRet, firstArgReg, maxArgRegs, firstFArg, maxFArgRegs): the two
// packages must agree on the register assignment, but compiler's copy is
// unexported since nothing outside codegen needs it except this dispatch
// loop's variadic spill and CALLF marshaling.
const (
	regRetReg   = 1
	firstArgReg = 1
	maxArgRegs  = 8
	firstFArg   = 0
	maxFArgRegs = 8
)

func loadSize(op compiler.Opcode) int {
	switch op {
	case compiler.LD1:
		return 1
	case compiler.LD2:
		return 2
	case compiler.LD4:
		return 4
	default:
		return 8
	}
}

func storeSize(op compiler.Opcode) int {
	switch op {
	case compiler.ST1:
		return 1
	case compiler.ST2:
		return 2
	case compiler.ST4:
		return 4
	default:
		return 8
	}
}

func boolU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func compareInt(op compiler.Opcode, x, y uint64, unsigned bool) bool {
	if unsigned {
		switch op {
		case compiler.CLT:
			return x < y
		case compiler.CLE:
			return x <= y
		case compiler.CGT:
			return x > y
		case compiler.CGE:
			return x >= y
		case compiler.CEQ:
			return x == y
		default:
			return x != y
		}
	}
	sx, sy := int64(x), int64(y)
	switch op {
	case compiler.CLT:
		return sx < sy
	case compiler.CLE:
		return sx <= sy
	case compiler.CGT:
		return sx > sy
	case compiler.CGE:
		return sx >= sy
	case compiler.CEQ:
		return sx == sy
	default:
		return sx != sy
	}
}

func compareFlt(op compiler.Opcode, x, y float64) bool {
	switch op {
	case compiler.FLT:
		return x < y
	case compiler.FLE:
		return x <= y
	case compiler.FGT:
		return x > y
	case compiler.FGE:
		return x >= y
	case compiler.FEQ:
		return x == y
	default:
		return x != y
	}
}

// callFFI marshals CALLF's arguments (R1.. for int, F0.. for float, the
// low nargs bits of doubleMask selecting which bank each positional
// argument came from) and dispatches through th.FFI.
func (th *Thread) callFFI(nargs int, tableIndex uint64, doubleMask uint8) error {
	if th.FFI == nil {
		return fmt.Errorf("CALLF: no FFI table attached")
	}
	entry := th.FFI.At(int(tableIndex))
	if entry == nil {
		return fmt.Errorf("CALLF: no host function registered at index %d", tableIndex)
	}
	var args ffi.Args
	ii, fi := uint8(1), uint8(0)
	for i := 0; i < nargs; i++ {
		if doubleMask&(1<<uint(i)) != 0 {
			args.Floats = append(args.Floats, th.regs.Flt(fi))
			args.IsFloat = append(args.IsFloat, true)
			fi++
		} else {
			args.Ints = append(args.Ints, th.regs.Int(ii))
			args.IsFloat = append(args.IsFloat, false)
			ii++
		}
	}
	intRes, fltRes, err := entry.Call(args)
	if err != nil {
		return err
	}
	if entry.ReturnsDouble {
		th.regs.SetFlt(0, fltRes)
	} else {
		th.regs.SetInt(regRetReg, intRes)
	}
	return nil
}
