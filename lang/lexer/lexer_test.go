package lexer_test

import (
	"testing"

	"github.com/jcc-lang/jcc/lang/lexer"
	"github.com/jcc-lang/jcc/lang/token"
	"github.com/stretchr/testify/require"
)

func TestFromRunesBasic(t *testing.T) {
	toks, err := lexer.FromRunes("a.c", []byte("int main() { return 42; }"))
	require.NoError(t, err)

	var kinds []token.Token
	for _, tv := range toks {
		kinds = append(kinds, tv.Tok)
	}
	require.Equal(t, []token.Token{
		token.KW_INT, token.IDENT, token.LPAREN, token.RPAREN, token.LBRACE,
		token.RETURN, token.INT, token.SEMI, token.RBRACE, token.EOF,
	}, kinds)
}

func TestAdaptRejectsMissingEOF(t *testing.T) {
	_, err := lexer.Adapt(lexer.Source{Filename: "a.c", Tokens: []token.TokenAndValue{{Tok: token.IDENT}}})
	require.Error(t, err)
}

func TestAdaptAccepts(t *testing.T) {
	toks, err := lexer.FromRunes("a.c", []byte("x"))
	require.NoError(t, err)
	got, err := lexer.Adapt(lexer.Source{Filename: "a.c", Tokens: toks})
	require.NoError(t, err)
	require.Equal(t, toks, got)
}
