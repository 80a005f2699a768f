package ffi_test

import (
	"testing"

	"github.com/jcc-lang/jcc/lang/ffi"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndCallInt(t *testing.T) {
	tbl := ffi.NewTable()
	require.NoError(t, tbl.Register("add", func(a, b int64) int64 { return a + b }))

	idx, ok := tbl.Index("add")
	require.True(t, ok)
	e := tbl.At(idx)
	require.NotNil(t, e)
	require.False(t, e.ReturnsDouble)

	intRes, _, err := e.Call(ffi.Args{
		Ints:    []uint64{2, 40},
		IsFloat: []bool{false, false},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(42), intRes)
}

func TestRegisterAndCallFloat(t *testing.T) {
	tbl := ffi.NewTable()
	require.NoError(t, tbl.Register("sqrt_ish", func(x float64) float64 { return x * x }))

	idx, ok := tbl.Index("sqrt_ish")
	require.True(t, ok)
	e := tbl.At(idx)
	require.True(t, e.ReturnsDouble)

	_, fltRes, err := e.Call(ffi.Args{
		Floats:  []float64{3},
		IsFloat: []bool{true},
	})
	require.NoError(t, err)
	require.Equal(t, 9.0, fltRes)
}

func TestCallReturningUnsignedWidth(t *testing.T) {
	tbl := ffi.NewTable()
	require.NoError(t, tbl.Register("strlen", func(addr uint64) uint64 { return addr + 1 }))

	idx, ok := tbl.Index("strlen")
	require.True(t, ok)
	e := tbl.At(idx)
	require.False(t, e.ReturnsDouble)

	intRes, _, err := e.Call(ffi.Args{
		Ints:    []uint64{41},
		IsFloat: []bool{false},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(42), intRes)
}

func TestRegisterRejectsNonFunc(t *testing.T) {
	tbl := ffi.NewTable()
	require.Error(t, tbl.Register("bad", 42))
}

func TestIndexUnknownName(t *testing.T) {
	tbl := ffi.NewTable()
	_, ok := tbl.Index("missing")
	require.False(t, ok)
}
