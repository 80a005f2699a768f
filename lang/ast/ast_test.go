package ast_test

import (
	"bytes"
	"testing"

	"github.com/jcc-lang/jcc/lang/ast"
	"github.com/jcc-lang/jcc/lang/ctype"
	"github.com/stretchr/testify/require"
)

func TestNewBinaryPointerScaling(t *testing.T) {
	intPtr := ctype.PointerTo(ctype.TyInt)
	p := &ast.Node{Kind: ast.VarRef, Typ: intPtr}
	i := &ast.Node{Kind: ast.VarRef, Typ: ctype.TyInt}

	add := ast.NewBinary(ast.Add, p, i, ast.Node{}.Tok)
	require.Equal(t, ast.Mul, add.Rhs.Kind)
	require.EqualValues(t, 4, add.Rhs.Rhs.IVal)

	add2 := ast.NewBinary(ast.Add, i, p, ast.Node{}.Tok)
	require.Same(t, p, add2.Lhs)
	require.Equal(t, ast.Mul, add2.Rhs.Kind)
}

func TestMarkLiveTransitive(t *testing.T) {
	helper := &ast.Obj{Name: "helper", IsFunction: true}
	unused := &ast.Obj{Name: "unused", IsFunction: true}
	main := &ast.Obj{Name: "main", IsFunction: true, IsRoot: true, Refs: []string{"helper"}}
	ast.MarkLive([]*ast.Obj{main, helper, unused})

	require.True(t, main.IsLive)
	require.True(t, helper.IsLive)
	require.False(t, unused.IsLive)
}

func TestPrinter(t *testing.T) {
	n := &ast.Node{Kind: ast.Return, Lhs: &ast.Node{Kind: ast.IntLit, IVal: 42, Typ: ctype.TyInt}}
	var buf bytes.Buffer
	p := &ast.Printer{Output: &buf}
	require.NoError(t, p.Print(n))
	require.Contains(t, buf.String(), "return")
	require.Contains(t, buf.String(), "int-lit")
}

func TestInitializerFlattenGlobal(t *testing.T) {
	arr := ctype.ArrayOf(ctype.TyInt, 3)
	init := ast.NewInitializer(arr)
	init.Children[1] = &ast.Initializer{Type: ctype.TyInt, Expr: &ast.Node{Kind: ast.IntLit, IVal: 7, Typ: ctype.TyInt}}

	buf, relocs := init.FlattenGlobal()
	require.Len(t, buf, 12)
	require.Empty(t, relocs)
	require.EqualValues(t, 7, buf[4])
}
