package compiler_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jcc-lang/jcc/lang/ast"
	"github.com/jcc-lang/jcc/lang/compiler"
	"github.com/jcc-lang/jcc/lang/lexer"
	"github.com/jcc-lang/jcc/lang/machine"
	"github.com/jcc-lang/jcc/lang/parser"
)

func compileSource(t *testing.T, src string) *compiler.Program {
	t.Helper()
	toks, err := lexer.FromRunes("<test>", []byte(src))
	require.NoError(t, err)
	objs, err := parser.ParseTokens(0, "<test>", toks)
	require.NoError(t, err)
	prog, err := compiler.CompileFiles([][]*ast.Obj{objs}, compiler.DefaultSafety)
	require.NoError(t, err)
	return prog
}

// retBufSlotLEA returns fn's copy-to-retbuf LEA line from Dasm's listing:
// the one whose flags operand (the trailing field) is 0, distinguishing it
// from the FlagFrame-tagged LEAs (func.go's frameReg) that address p.x/p.y
// inside the same function body.
func retBufSlotLEA(t *testing.T, dasm, fn string) string {
	t.Helper()
	for _, f := range strings.Split(dasm, "function: ") {
		if !strings.HasPrefix(f, fn+"\n") {
			continue
		}
		for _, line := range strings.Split(f, "\n") {
			if strings.Contains(line, "lea") && strings.HasSuffix(line, ",0") {
				return line
			}
		}
	}
	return ""
}

// TestRetBufDistinctSlotsPerReturnStatement confirms layoutRetBufPool/
// nextRetBuf (lang/compiler/compiler.go) assign each struct-returning
// function's own return statement a distinct offset in the rotating pool:
// before this was wired, every struct return shared the pool's first slot
// (nextRetBuf was dead code), so two still-live results would alias.
func TestRetBufDistinctSlotsPerReturnStatement(t *testing.T) {
	src := `
struct Point { int x; int y; };

struct Point g(void) {
	struct Point p;
	p.x = 1;
	p.y = 2;
	return p;
}

struct Point h(void) {
	struct Point p;
	p.x = 3;
	p.y = 4;
	return p;
}

struct Point passthrough(void) {
	return g();
}

int main(void) {
	return 0;
}
`
	prog := compileSource(t, src)
	dasm, err := compiler.Dasm(prog)
	require.NoError(t, err)
	text := string(dasm)

	gSlot := retBufSlotLEA(t, text, "g")
	hSlot := retBufSlotLEA(t, text, "h")
	pSlot := retBufSlotLEA(t, text, "passthrough")

	require.NotEmpty(t, gSlot)
	require.NotEmpty(t, hSlot)
	require.NotEmpty(t, pSlot)
	require.NotEqual(t, gSlot, hSlot, "g and h's struct returns must not share a retbuf slot")
	require.NotEqual(t, gSlot, pSlot, "g and passthrough's struct returns must not share a retbuf slot")
	require.NotEqual(t, hSlot, pSlot, "h and passthrough's struct returns must not share a retbuf slot")
}

// TestRetBufPassthroughChainRuns is the one struct-by-value consumption
// pattern this compiler implements correctly end to end: a function whose
// entire return expression is itself a struct-returning call. structAddr
// (lang/compiler/addr.go) resolves that nested call straight to its
// already-buffered pointer, and the enclosing return's own MEMCPY copies
// it into a second, distinct slot — this must not fault even across
// several levels and repeated calls.
//
// Consuming a struct-returning call's result any other way (`struct T a =
// f();`, or passing one as a by-value argument) goes through the generic
// scalar compileAssign/ABI path instead, which does not byte-copy an
// aggregate — see DESIGN.md's struct-return entry for why those patterns
// are out of scope here.
func TestRetBufPassthroughChainRuns(t *testing.T) {
	src := `
struct Point { int x; int y; };

struct Point g(void) {
	struct Point p;
	p.x = 1;
	p.y = 2;
	return p;
}

struct Point h(void) {
	struct Point p;
	p.x = 3;
	p.y = 4;
	return p;
}

struct Point passthrough_g(void) {
	return g();
}

struct Point passthrough_h(void) {
	return h();
}

int main(void) {
	passthrough_g();
	passthrough_h();
	g();
	h();
	passthrough_g();
	return 7;
}
`
	prog := compileSource(t, src)
	th := &machine.Thread{}
	code, err := th.Run(context.Background(), prog)
	require.NoError(t, err)
	require.Equal(t, int64(7), code)
}
