package maincmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mna/mainer"

	"github.com/jcc-lang/jcc/lang/ast"
	"github.com/jcc-lang/jcc/lang/compiler"
	"github.com/jcc-lang/jcc/lang/lexer"
	"github.com/jcc-lang/jcc/lang/machine"
	"github.com/jcc-lang/jcc/lang/parser"
	"github.com/jcc-lang/jcc/lang/token"
)

type tokenFile struct {
	name string
	toks []token.TokenAndValue
}

func readSource(name string, stdin io.Reader) ([]byte, string, error) {
	if name == "-" {
		b, err := io.ReadAll(stdin)
		return b, "<stdin>", err
	}
	b, err := os.ReadFile(name)
	return b, name, err
}

func (c *Cmd) tokenizeAll(stdio mainer.Stdio) ([]tokenFile, error) {
	var out []tokenFile
	for _, f := range c.files {
		src, name, err := readSource(f, stdio.Stdin)
		if err != nil {
			return nil, err
		}
		toks, err := lexer.FromRunes(name, src)
		if err != nil {
			return nil, err
		}
		out = append(out, tokenFile{name: name, toks: toks})
	}
	return out, nil
}

func printTokens(stdio mainer.Stdio, files []tokenFile) {
	for _, tf := range files {
		for _, t := range tf.toks {
			fmt.Fprintf(stdio.Stdout, "%s: %s\n", t.Pos, t.Tok)
		}
	}
}

func (c *Cmd) parseAll(files []tokenFile) ([][]*ast.Obj, error) {
	var units [][]*ast.Obj
	for _, tf := range files {
		objs, err := parser.ParseTokens(parser.Recover, tf.name, tf.toks)
		if err != nil {
			return nil, err
		}
		units = append(units, objs)
	}
	return units, nil
}

func dumpAST(stdio mainer.Stdio, units [][]*ast.Obj) error {
	printer := &ast.Printer{Output: stdio.Stdout}
	for _, objs := range units {
		for _, o := range objs {
			if o.IsFunction {
				fmt.Fprintf(stdio.Stdout, "function %q\n", o.Name)
				if o.Body != nil {
					if err := printer.Print(o.Body); err != nil {
						return err
					}
				}
			} else {
				fmt.Fprintf(stdio.Stdout, "global %q : %s\n", o.Name, o.Type.Kind)
			}
		}
	}
	return nil
}

func (c *Cmd) saveImage(prog *compiler.Program) error {
	data, err := compiler.Save(prog)
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.Out, data, 0o644); err != nil {
		return err
	}
	if !c.Debugger {
		return nil
	}
	dbg := debugSymbolsFor(prog)
	sym, err := compiler.SaveDebugSymbols(dbg)
	if err != nil {
		return err
	}
	return os.WriteFile(c.Out+"dbg", sym, 0o644)
}

// debugSymbolsFor builds the .jccdbg sidecar payload from a Program's
// FuncInfo table: function name/address pairs and their embedded source
// line maps, written only when -g is set alongside -o.
func debugSymbolsFor(prog *compiler.Program) *compiler.DebugSymbols {
	dbg := &compiler.DebugSymbols{Version: compiler.Version}
	for _, fn := range prog.Funcs {
		dbg.Functions = append(dbg.Functions, compiler.FuncDebugSymbols{
			Name:  fn.Name,
			Addr:  fn.Addr,
			Lines: fn.Source,
		})
	}
	return dbg
}

func (c *Cmd) execute(ctx context.Context, stdio mainer.Stdio, prog *compiler.Program) (int, error) {
	var hook machine.DebugHook
	if c.Debugger {
		hook = replDebugHook(stdio)
	}
	m := machine.New(machine.Options{
		Stdout: stdio.Stdout, Stderr: stdio.Stderr, Stdin: stdio.Stdin,
		HeapFlags: machine.HeapFlags{
			Canaries:      c.HeapCanary,
			TrackUAF:      c.SafetyUAF,
			TrackLeaks:    c.LeakDetect,
			CheckPointers: c.PtrSanitizer,
		},
		Safety:    compiler.Safety{Bounds: c.SafetyBounds || c.PtrSanitizer, Init: c.SafetyInit, StackCanary: c.StackCanary},
		DebugHook: hook,
	})
	for _, ip := range c.includes {
		m.AddIncludePath(ip)
	}
	for name, val := range c.defines {
		m.DefineMacro(name, val)
	}
	for _, u := range c.undefs {
		m.UndefineMacro(u)
	}
	if !c.NoStdlibFFI {
		registerStdlibFFI(m, stdio)
	}
	m.Load(prog)

	code, err := m.Run(ctx, append([]string{"jcc"}, c.files...))
	for _, leak := range m.Close() {
		fmt.Fprintln(stdio.Stderr, leak)
	}
	return code, err
}
