// Package maincmd implements the jcc driver CLI: flag parsing, source
// loading, and wiring the frontend/compiler/machine pipeline together for
// cmd/jcc. The Cmd/mainer.Parser/mainer.Stdio shape is carried over from
// the teacher's own CLI (internal/maincmd/maincmd.go), generalized from a
// fixed three-subcommand dispatch to a single-mode compile-and-run driver
// with repeatable include/macro flags, since jcc has no subcommands of its
// own (SPEC_FULL.md §6.1).
package maincmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/mna/mainer"

	"github.com/jcc-lang/jcc/lang/compiler"
)

const binName = "jcc"

var (
	shortUsage = fmt.Sprintf(`
usage: %s [<option>...] <file>...
Run '%[1]s --help' for details.
`, binName)

	longUsage = fmt.Sprintf(`usage: %s [<option>...] <file>...
       %[1]s -h|--help
       %[1]s --version

A self-contained C11 compiler and register-VM executor.

Valid flag options are:
       -I path                    Append to quote-include search list.
       -D name[=value]            Define macro (empty defaults to "1").
       -U name                    Undefine macro.
       -o file                    Save compiled bytecode image; skip execution.
       -P                         After preprocessing, print token stream;
                                  skip further stages.
       -X                         Skip preprocessing.
       -S                         Do not auto-load standard-library FFI
                                  functions.
       -a                         Dump AST (reserved).
       -v                         Accepted; has no effect.
       -g                         Enable interactive debugger.
       -b -f -t -z -s -k -p -l -i Enable individual runtime safety features
                                  (bounds, UAF, type, uninitialized, stack
                                  canary, heap canary, pointer sanitizer,
                                  leak detection, stack instrumentation);
                                  -t, -z and -i are accepted and have no
                                  effect.
       -                          Read source from standard input.
       -h --help                  Show this help and exit.
       --version                  Print version and exit.

JCC_BOUNDS, JCC_UAF, JCC_TYPE, JCC_INIT, JCC_STACK_CANARY, JCC_HEAP_CANARY,
JCC_PTR_SANITIZER, JCC_LEAK_DETECT, JCC_STACK_INSTR: set to a truthy value
to force the matching -b/-f/-t/-z/-s/-k/-p/-l/-i feature on regardless of
flags, e.g. for a CI wrapper that wants a safety floor it cannot be
overridden below.

More information:
       https://github.com/jcc-lang/jcc
`, binName)
)

// Cmd holds one invocation's parsed flags and positional file arguments.
type Cmd struct {
	BuildVersion string
	BuildDate    string

	Help    bool `flag:"h,help"`
	Version bool `flag:"version"`

	Out string `flag:"o"`

	PrintTokens bool `flag:"P"`
	NoPreproc   bool `flag:"X"`
	NoStdlibFFI bool `flag:"S"`
	DumpAST     bool `flag:"a"`
	Verbose     bool `flag:"v"`
	Debugger    bool `flag:"g"`

	SafetyBounds bool `flag:"b"`
	SafetyUAF    bool `flag:"f"`
	SafetyType   bool `flag:"t"`
	SafetyInit   bool `flag:"z"`
	StackCanary  bool `flag:"s"`
	HeapCanary   bool `flag:"k"`
	PtrSanitizer bool `flag:"p"`
	LeakDetect   bool `flag:"l"`
	StackInstr   bool `flag:"i"`

	includes []string
	defines  map[string]string
	undefs   []string
	files    []string
}

func (c *Cmd) SetArgs(_ []string)         {}
func (c *Cmd) SetFlags(_ map[string]bool) {}

// envSafety mirrors Cmd's safety booleans for env.Parse: JCC_* environment
// overrides let a deployment force safety features on without editing
// every invocation's argv, e.g. a CI wrapper that always wants bounds
// checking regardless of what flags a given build script happens to pass.
// mainer.Parser's own EnvVars support is not used for this because it
// derives variable names from struct field names, not the JCC_BOUNDS-style
// names this CLI documents.
type envSafety struct {
	Bounds       bool `env:"JCC_BOUNDS"`
	UAF          bool `env:"JCC_UAF"`
	Type         bool `env:"JCC_TYPE"`
	Init         bool `env:"JCC_INIT"`
	StackCanary  bool `env:"JCC_STACK_CANARY"`
	HeapCanary   bool `env:"JCC_HEAP_CANARY"`
	PtrSanitizer bool `env:"JCC_PTR_SANITIZER"`
	LeakDetect   bool `env:"JCC_LEAK_DETECT"`
	StackInstr   bool `env:"JCC_STACK_INSTR"`
}

// applyEnvSafety ORs the JCC_* environment overrides into the already
// flag-parsed safety booleans: an override can only turn a feature on,
// never off, so a deployment's environment can raise the safety floor
// without a build script's explicit flags being able to silently lower it.
func (c *Cmd) applyEnvSafety() error {
	var e envSafety
	if err := env.Parse(&e); err != nil {
		return fmt.Errorf("parsing JCC_* environment overrides: %w", err)
	}
	c.SafetyBounds = c.SafetyBounds || e.Bounds
	c.SafetyUAF = c.SafetyUAF || e.UAF
	c.SafetyType = c.SafetyType || e.Type
	c.SafetyInit = c.SafetyInit || e.Init
	c.StackCanary = c.StackCanary || e.StackCanary
	c.HeapCanary = c.HeapCanary || e.HeapCanary
	c.PtrSanitizer = c.PtrSanitizer || e.PtrSanitizer
	c.LeakDetect = c.LeakDetect || e.LeakDetect
	c.StackInstr = c.StackInstr || e.StackInstr
	return nil
}

func (c *Cmd) Validate() error {
	if c.Help || c.Version {
		return nil
	}
	if len(c.files) == 0 {
		return fmt.Errorf("no input files")
	}
	return nil
}

// parseRepeatable pulls the repeatable -I/-D/-U flags, "-" (read stdin) and
// positional files out of args by hand, since mainer.Parser's struct-tag
// flags only cover scalar bool/string fields (SPEC_FULL.md §6.1). It
// returns the remaining args for mainer.Parser to handle.
func (c *Cmd) parseRepeatable(args []string) []string {
	c.defines = map[string]string{}
	var rest []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-":
			c.files = append(c.files, "-")
		case a == "-I" && i+1 < len(args):
			i++
			c.includes = append(c.includes, args[i])
		case strings.HasPrefix(a, "-I") && len(a) > 2:
			c.includes = append(c.includes, a[2:])
		case a == "-D" && i+1 < len(args):
			i++
			name, value, _ := strings.Cut(args[i], "=")
			c.defines[name] = value
		case strings.HasPrefix(a, "-D") && len(a) > 2:
			name, value, _ := strings.Cut(a[2:], "=")
			c.defines[name] = value
		case a == "-U" && i+1 < len(args):
			i++
			c.undefs = append(c.undefs, args[i])
		case strings.HasPrefix(a, "-U") && len(a) > 2:
			c.undefs = append(c.undefs, a[2:])
		case strings.HasPrefix(a, "-") && len(a) > 1:
			rest = append(rest, a)
		default:
			c.files = append(c.files, a)
		}
	}
	return rest
}

func (c *Cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	rest := c.parseRepeatable(args[1:])

	p := mainer.Parser{EnvVars: false, EnvPrefix: binName + "_"}
	if err := p.Parse(append([]string{args[0]}, rest...), c); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid arguments: %s\n%s", err, shortUsage)
		return mainer.InvalidArgs
	}
	if err := c.applyEnvSafety(); err != nil {
		fmt.Fprintf(stdio.Stderr, "%s\n", err)
		return mainer.InvalidArgs
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.Success
	case c.Version:
		fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, c.BuildVersion, c.BuildDate)
		return mainer.Success
	}

	if err := c.Validate(); err != nil {
		fmt.Fprintf(stdio.Stderr, "%s\n%s", err, shortUsage)
		return mainer.InvalidArgs
	}

	ctx := mainer.CancelOnSignal(context.Background(), os.Interrupt)
	code, err := c.run(ctx, stdio)
	if err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		if code >= 0 {
			code = 1
		}
	}
	return mainer.ExitCode(code)
}

// run drives the pipeline: read sources, tokenize, parse, compile, then
// either save the image (-o) or execute it.
func (c *Cmd) run(ctx context.Context, stdio mainer.Stdio) (int, error) {
	toks, err := c.tokenizeAll(stdio)
	if err != nil {
		return 1, err
	}
	if c.PrintTokens {
		printTokens(stdio, toks)
		return 0, nil
	}

	units, err := c.parseAll(toks)
	if err != nil {
		return 1, err
	}
	if c.DumpAST {
		if err := dumpAST(stdio, units); err != nil {
			return 1, err
		}
		return 0, nil
	}

	safety := compiler.Safety{Bounds: c.SafetyBounds || c.PtrSanitizer, Init: c.SafetyInit, StackCanary: c.StackCanary}
	prog, err := compiler.CompileFiles(units, safety)
	if err != nil {
		return 1, err
	}

	if c.Out != "" {
		return 0, c.saveImage(prog)
	}

	return c.execute(ctx, stdio, prog)
}
