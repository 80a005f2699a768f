package parser_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jcc-lang/jcc/lang/ast"
	"github.com/jcc-lang/jcc/lang/ctype"
	"github.com/jcc-lang/jcc/lang/lexer"
	"github.com/jcc-lang/jcc/lang/parser"
)

func parse(t *testing.T, src string) []*ast.Obj {
	t.Helper()
	toks, err := lexer.FromRunes("a.c", []byte(src))
	require.NoError(t, err)
	objs, err := parser.ParseTokens(0, "a.c", toks)
	require.NoError(t, err)
	return objs
}

func TestParseFunctionDefinition(t *testing.T) {
	objs := parse(t, "int add(int a, int b) { return a + b; }")
	require.Len(t, objs, 1)
	fn := objs[0]
	require.Equal(t, "add", fn.Name)
	require.True(t, fn.IsFunction)
	require.True(t, fn.IsDefinition)
	require.True(t, fn.IsRoot)
	require.Len(t, fn.Params, 2)
	require.Equal(t, "a", fn.Params[0].Name)
	require.Equal(t, "b", fn.Params[1].Name)
	require.NotNil(t, fn.Body)
}

func TestParseGlobalVariable(t *testing.T) {
	objs := parse(t, "int counter = 41;")
	require.Len(t, objs, 1)
	g := objs[0]
	require.Equal(t, "counter", g.Name)
	require.False(t, g.IsFunction)
	require.Equal(t, ctype.Int, g.Type.Kind)
	require.True(t, g.IsDefinition)
}

func TestStaticPrototypeIsNotLive(t *testing.T) {
	objs := parse(t, `
		static int unused(void) { return 1; }
		int main(void) { return 0; }
	`)
	require.Len(t, objs, 2)

	var unused, main *ast.Obj
	for _, o := range objs {
		switch o.Name {
		case "unused":
			unused = o
		case "main":
			main = o
		}
	}
	require.NotNil(t, unused)
	require.NotNil(t, main)
	require.True(t, main.IsLive)
	require.False(t, unused.IsLive)
}

func TestStaticCalledByLiveFunctionStaysLive(t *testing.T) {
	objs := parse(t, `
		static int helper(void) { return 7; }
		int main(void) { return helper(); }
	`)

	var helper *ast.Obj
	for _, o := range objs {
		if o.Name == "helper" {
			helper = o
		}
	}
	require.NotNil(t, helper)
	require.True(t, helper.IsLive)
}

func TestExternPrototypeHasNoBody(t *testing.T) {
	objs := parse(t, `
		extern int puts(const char *s);
		int main(void) { return puts("hi"); }
	`)

	var puts *ast.Obj
	for _, o := range objs {
		if o.Name == "puts" {
			puts = o
		}
	}
	require.NotNil(t, puts)
	require.True(t, puts.IsFunction)
	require.Nil(t, puts.Body)
}

func TestParseErrorRecoveryAccumulatesDiagnostics(t *testing.T) {
	toks, err := lexer.FromRunes("a.c", []byte("int a = ; int b = 2;"))
	require.NoError(t, err)
	_, err = parser.ParseTokens(parser.Recover, "a.c", toks)
	require.Error(t, err)

	var errs parser.ErrorList
	require.ErrorAs(t, err, &errs)
	require.NotEmpty(t, errs)
}

func TestParseWithoutRecoveryStopsOnFirstError(t *testing.T) {
	toks, err := lexer.FromRunes("a.c", []byte("int a = ;"))
	require.NoError(t, err)
	_, err = parser.ParseTokens(0, "a.c", toks)
	require.Error(t, err)
}
