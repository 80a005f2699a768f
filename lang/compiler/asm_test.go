package compiler_test

import (
	"testing"

	"github.com/jcc-lang/jcc/lang/compiler"
	"github.com/stretchr/testify/require"
)

func TestDasmAsmRoundTrip(t *testing.T) {
	src := &compiler.Program{
		EntryPC: 0,
		Data:    []byte{1, 2, 3, 4},
		Funcs: []compiler.FuncInfo{
			{Name: "main", Addr: 0, FrameSize: 16, NumParams: 0},
		},
	}
	src.Text = []uint64{
		uint64(compiler.LDI), compiler.PackOperand(compiler.Operand{Dst: 9}), 42,
		uint64(compiler.MOV), compiler.PackOperand(compiler.Operand{Dst: 1, Src1: 9}),
		uint64(compiler.LEAVE),
	}

	text, err := compiler.Dasm(src)
	require.NoError(t, err)

	out, err := compiler.Asm(text)
	require.NoError(t, err)
	require.Equal(t, src.Data, out.Data)
	require.Len(t, out.Funcs, 1)
	require.Equal(t, "main", out.Funcs[0].Name)
	require.Equal(t, int64(16), out.Funcs[0].FrameSize)
	require.Equal(t, src.Text, out.Text)
}

func TestOpcodeShapeAndSafety(t *testing.T) {
	require.Equal(t, compiler.ShapeNone, compiler.NOP.Shape())
	require.Equal(t, compiler.ShapeRRR, compiler.ADD.Shape())
	require.Equal(t, compiler.ShapeRI, compiler.LDI.Shape())
	require.True(t, compiler.CHKBOUNDS.IsSafety())
	require.False(t, compiler.ADD.IsSafety())
}
