package token_test

import (
	"testing"

	"github.com/jcc-lang/jcc/lang/token"
	"github.com/stretchr/testify/require"
)

func TestTokenString(t *testing.T) {
	cases := []struct {
		tok  token.Token
		want string
	}{
		{token.PLUS, "+"},
		{token.ARROW, "->"},
		{token.RETURN, "return"},
		{token.IDENT, "identifier"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.tok.String())
	}
}

func TestPositionString(t *testing.T) {
	p := token.Position{Filename: "a.c", Line: 3, Col: 7}
	require.Equal(t, "a.c:3:7", p.String())
	require.True(t, p.IsValid())
	require.False(t, (token.Position{}).IsValid())
}

func TestFileLine(t *testing.T) {
	f := token.NewFile("a.c", []byte("int a;\nint b;\n"))
	require.Equal(t, "int a;", f.Line(1))
	require.Equal(t, "int b;", f.Line(2))
	require.Equal(t, "", f.Line(3))
}
