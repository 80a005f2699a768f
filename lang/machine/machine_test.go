package machine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jcc-lang/jcc/lang/compiler"
	"github.com/jcc-lang/jcc/lang/machine"
)

// asm builds a minimal single-function Program out of raw instruction
// words, wrapping body between an ENTER/LEAVE pair so the sentinel return
// address Thread.Run pushes is honored the same way a real compiled
// function's prologue/epilogue would exercise it.
func asm(frameSize uint64, body ...uint64) *compiler.Program {
	text := []uint64{
		uint64(compiler.ENTER), compiler.PackOperand(compiler.Operand{}), frameSize,
	}
	text = append(text, body...)
	text = append(text, uint64(compiler.LEAVE))
	return &compiler.Program{
		Text:    text,
		EntryPC: 0,
		Funcs:   []compiler.FuncInfo{{Name: "main", Addr: 0, FrameSize: int64(frameSize)}},
	}
}

func ldi(dst uint8, imm uint64) []uint64 {
	return []uint64{uint64(compiler.LDI), compiler.PackOperand(compiler.Operand{Dst: dst}), imm}
}

func rrr2(op compiler.Opcode, dst, src1, src2 uint8) []uint64 {
	return []uint64{uint64(op), compiler.PackOperand(compiler.Operand{Dst: dst, Src1: src1, Src2: src2})}
}

func TestReturnsIntLiteral(t *testing.T) {
	var body []uint64
	body = append(body, ldi(9, 42)...)
	body = append(body, rrr2(compiler.MOV, 1, 9, 0)...)
	p := asm(0, body...)

	th := &machine.Thread{}
	code, err := th.Run(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, int64(42), code)
}

func TestArithmetic(t *testing.T) {
	var body []uint64
	body = append(body, ldi(9, 30)...)
	body = append(body, ldi(10, 12)...)
	body = append(body, rrr2(compiler.ADD, 11, 9, 10)...)
	body = append(body, rrr2(compiler.MOV, 1, 11, 0)...)
	p := asm(0, body...)

	th := &machine.Thread{}
	code, err := th.Run(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, int64(42), code)
}

func TestDivisionByZeroFaults(t *testing.T) {
	var body []uint64
	body = append(body, ldi(9, 1)...)
	body = append(body, ldi(10, 0)...)
	body = append(body, rrr2(compiler.DIV, 11, 9, 10)...)
	body = append(body, rrr2(compiler.MOV, 1, 11, 0)...)
	p := asm(0, body...)

	th := &machine.Thread{}
	_, err := th.Run(context.Background(), p)
	require.Error(t, err)

	var fault *machine.Fault
	require.ErrorAs(t, err, &fault)
	require.Contains(t, fault.Message, "division by zero")
}

func TestMallocFreeRoundTrip(t *testing.T) {
	var body []uint64
	body = append(body, ldi(9, 16)...)
	body = append(body, []uint64{
		uint64(compiler.MALLOC), compiler.PackOperand(compiler.Operand{Dst: 10, Src1: 9}),
	}...)
	body = append(body, rrr2(compiler.MOV, 1, 10, 0)...) // R1 = pointer, nonzero if allocated
	body = append(body, []uint64{
		uint64(compiler.FREE), compiler.PackOperand(compiler.Operand{Src1: 10}),
	}...)
	p := asm(0, body...)

	th := &machine.Thread{}
	code, err := th.Run(context.Background(), p)
	require.NoError(t, err)
	require.NotZero(t, code)
}

func TestMaxStepsAborts(t *testing.T) {
	// An infinite loop: JMP back to its own address.
	p := &compiler.Program{
		Text: []uint64{
			uint64(compiler.JMP), compiler.PackOperand(compiler.Operand{}), 0,
		},
		EntryPC: 0,
	}
	th := &machine.Thread{MaxSteps: 10}
	_, err := th.Run(context.Background(), p)
	require.Error(t, err)
}

func TestCloseReportsNoLeaksWhenNotTracking(t *testing.T) {
	th := &machine.Thread{}
	_, err := th.Run(context.Background(), asm(0, append(ldi(9, 1), rrr2(compiler.MOV, 1, 9, 0)...)...))
	require.NoError(t, err)
	require.Empty(t, th.Close())
}
