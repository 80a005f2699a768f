package machine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jcc-lang/jcc/lang/ast"
	"github.com/jcc-lang/jcc/lang/compiler"
	"github.com/jcc-lang/jcc/lang/lexer"
	"github.com/jcc-lang/jcc/lang/machine"
	"github.com/jcc-lang/jcc/lang/parser"
)

// compileSource runs src through the full lexer/parser/compiler pipeline
// maincmd.go drives in production (internal/maincmd/pipeline.go), so these
// tests exercise the same path a real `jcc file.c` invocation does rather
// than hand-assembled bytecode like machine_test.go's other cases. This
// module has no preprocessor of its own (lang/lexer's doc comment, §4.2),
// so src must not use #include/#define: va_list is the only stdarg.h name
// the parser predeclares on its own (lang/parser/parser.go).
func compileSource(t *testing.T, src string, safety compiler.Safety) *compiler.Program {
	t.Helper()
	toks, err := lexer.FromRunes("<test>", []byte(src))
	require.NoError(t, err)
	objs, err := parser.ParseTokens(0, "<test>", toks)
	require.NoError(t, err)
	prog, err := compiler.CompileFiles([][]*ast.Obj{objs}, safety)
	require.NoError(t, err)
	return prog
}

func runSource(t *testing.T, src string) (int64, *machine.Thread) {
	t.Helper()
	prog := compileSource(t, src, compiler.DefaultSafety)
	th := &machine.Thread{}
	code, err := th.Run(context.Background(), prog)
	require.NoError(t, err)
	return code, th
}

// TestExecReturnLiteral covers spec.md §8's first table row: `return 42;`
// exits 42.
func TestExecReturnLiteral(t *testing.T) {
	code, _ := runSource(t, `int main(void) { return 42; }`)
	require.Equal(t, int64(42), code)
}

// TestExecNestedVariadicSum covers §8's second row: nested variadic calls
// (outer's va_arg values fed into inner's own va_start/va_arg session) sum
// to 18. inner(2,1,2)=3, inner(2,2,4)=6, inner(2,3,6)=9, total 18.
func TestExecNestedVariadicSum(t *testing.T) {
	src := `
int inner(int n, ...) {
	va_list ap;
	va_start(ap, n);
	int sum = 0;
	for (int i = 0; i < n; i++) {
		sum += va_arg(ap, int);
	}
	va_end(ap);
	return sum;
}

int outer(int n, ...) {
	va_list ap;
	va_start(ap, n);
	int total = 0;
	for (int i = 0; i < n; i++) {
		int v = va_arg(ap, int);
		total += inner(2, v, 2 * v);
	}
	va_end(ap);
	return total;
}

int main(void) {
	return outer(3, 1, 2, 3);
}
`
	code, _ := runSource(t, src)
	require.Equal(t, int64(18), code)
}

// TestExecStaticCounter covers §8's row on function-local statics: a static
// initialized once and incremented across three calls settles at 3.
func TestExecStaticCounter(t *testing.T) {
	src := `
int bump(void) {
	static int c = 0;
	c++;
	return c;
}

int main(void) {
	bump();
	bump();
	return bump();
}
`
	code, _ := runSource(t, src)
	require.Equal(t, int64(3), code)
}

// TestExecSumDoubles covers §8's final row: a variadic function summing
// floating-point arguments, checked with an epsilon since the table reports
// success as exit code 42 rather than truncating the float itself.
func TestExecSumDoubles(t *testing.T) {
	src := `
double sum_doubles(int n, ...) {
	va_list ap;
	va_start(ap, n);
	double sum = 0;
	for (int i = 0; i < n; i++) {
		sum += va_arg(ap, double);
	}
	va_end(ap);
	return sum;
}

int main(void) {
	double got = sum_doubles(3, 1.5, 2.5, 3.0);
	double diff = got - 7.0;
	if (diff < 0) diff = -diff;
	if (diff < 0.0001) {
		return 42;
	}
	return 1;
}
`
	code, _ := runSource(t, src)
	require.Equal(t, int64(42), code)
}

// TestExecRecursionHoldsShadowStack exercises the CFI shadow stack
// (lang/machine/cfi.go) end to end through ordinary nested recursive
// calls: every CALL/LEAVE pair must stay in lock step for a plain
// factorial to return the right value at all, since a lock-step violation
// aborts the run with a *Fault rather than producing a wrong answer.
func TestExecRecursionHoldsShadowStack(t *testing.T) {
	src := `
int fact(int n) {
	if (n <= 1) {
		return 1;
	}
	return n * fact(n - 1);
}

int main(void) {
	return fact(5);
}
`
	code, _ := runSource(t, src)
	require.Equal(t, int64(120), code)
}
