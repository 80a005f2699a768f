package ctype_test

import (
	"testing"

	"github.com/jcc-lang/jcc/lang/ctype"
	"github.com/stretchr/testify/require"
)

func TestNewStructSizeAlign(t *testing.T) {
	// struct { char c; int i; char d; } -> padded to align(4): size 12
	members := []*ctype.Member{
		{Name: "c", Type: ctype.TyChar},
		{Name: "i", Type: ctype.TyInt},
		{Name: "d", Type: ctype.TyChar},
	}
	st := ctype.NewStruct("S", members, false, false)
	require.EqualValues(t, 4, st.Align)
	require.EqualValues(t, 0, members[0].Offset)
	require.EqualValues(t, 4, members[1].Offset)
	require.EqualValues(t, 8, members[2].Offset)
	require.EqualValues(t, 12, st.Size)
}

func TestNewUnionSize(t *testing.T) {
	members := []*ctype.Member{
		{Name: "i", Type: ctype.TyInt},
		{Name: "d", Type: ctype.TyDouble},
	}
	un := ctype.NewStruct("U", members, false, true)
	require.EqualValues(t, 8, un.Align)
	require.EqualValues(t, 8, un.Size)
	for _, m := range members {
		require.EqualValues(t, 0, m.Offset)
	}
}

func TestArrayDecay(t *testing.T) {
	arr := ctype.ArrayOf(ctype.TyInt, 5)
	require.EqualValues(t, 20, arr.Size)
	ptr := ctype.Decay(arr)
	require.Equal(t, ctype.Ptr, ptr.Kind)
	require.Same(t, ctype.TyInt, ptr.Base)
}

func TestIncompleteArray(t *testing.T) {
	arr := ctype.ArrayOf(ctype.TyInt, -1)
	require.False(t, arr.IsComplete())
	require.EqualValues(t, -1, arr.Size)
}

func TestIsCompatiblePointerVoid(t *testing.T) {
	voidPtr := ctype.PointerTo(ctype.TyVoid)
	intPtr := ctype.PointerTo(ctype.TyInt)
	require.True(t, ctype.IsCompatible(voidPtr, intPtr))
	require.True(t, ctype.IsCompatible(intPtr, voidPtr))
}

func TestMemberIndex(t *testing.T) {
	members := []*ctype.Member{
		{Name: "x", Type: ctype.TyInt},
		{Name: "y", Type: ctype.TyInt},
	}
	st := ctype.NewStruct("P", members, false, false)
	idx := ctype.NewMemberIndex(st)
	require.Same(t, members[1], idx.Find("y"))
	require.Nil(t, idx.Find("z"))
}
