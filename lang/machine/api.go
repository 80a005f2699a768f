package machine

import (
	"context"
	"io"

	"github.com/jcc-lang/jcc/lang/compiler"
	"github.com/jcc-lang/jcc/lang/ffi"
)

// Options configures a Machine at construction, mirroring the Thread
// fields an embedder is expected to set (SPEC_FULL.md §6.3).
type Options struct {
	Stdout, Stderr io.Writer
	Stdin          io.Reader

	MaxSteps          int
	MaxCallStackDepth int
	StackSize         int

	HeapFlags HeapFlags
	Safety    compiler.Safety

	// DebugHook, if non-nil, enables the interactive debugger (-g).
	DebugHook DebugHook
}

// Machine is the embedder-facing wrapper around a Thread: it owns the FFI
// registration table and the include-path/macro bookkeeping the driver CLI
// threads through to the external preprocessor (SPEC_FULL.md §6.3 — this
// package never interprets -I/-D/-U itself, it only records them for
// whatever preprocessing stage ran before lang/lexer saw the source).
type Machine struct {
	th   *Thread
	ffi  *ffi.Table
	prog *compiler.Program

	includePaths []string
	macros       map[string]string
}

// New constructs a Machine ready to Load a Program and Run it.
func New(opts Options) *Machine {
	th := &Thread{
		Stdout:            opts.Stdout,
		Stderr:            opts.Stderr,
		Stdin:             opts.Stdin,
		MaxSteps:          opts.MaxSteps,
		MaxCallStackDepth: opts.MaxCallStackDepth,
		StackSize:         opts.StackSize,
		HeapFlags:         opts.HeapFlags,
		Safety:            opts.Safety,
	}
	table := ffi.NewTable()
	th.FFI = table
	if opts.DebugHook != nil {
		th.Debugger.Hook = opts.DebugHook
	}
	return &Machine{th: th, ffi: table, macros: map[string]string{}}
}

// AddIncludePath records p for the external preprocessor (-I).
func (m *Machine) AddIncludePath(p string) { m.includePaths = append(m.includePaths, p) }

// IncludePaths returns every path recorded by AddIncludePath, in order.
func (m *Machine) IncludePaths() []string { return append([]string(nil), m.includePaths...) }

// DefineMacro records name=value for the external preprocessor (-D); an
// empty value defaults to "1", matching `-Dname` with no `=value`.
func (m *Machine) DefineMacro(name, value string) {
	if value == "" {
		value = "1"
	}
	m.macros[name] = value
}

// UndefineMacro records that name should be undefined (-U), overriding any
// earlier DefineMacro for the same name.
func (m *Machine) UndefineMacro(name string) { delete(m.macros, name) }

// Macros returns the current name -> value table built by DefineMacro and
// UndefineMacro, for the external preprocessor to consume.
func (m *Machine) Macros() map[string]string {
	out := make(map[string]string, len(m.macros))
	for k, v := range m.macros {
		out[k] = v
	}
	return out
}

// RegisterFFI binds name to fn for the program's CALLF sites (see
// lang/ffi.Table.Register).
func (m *Machine) RegisterFFI(name string, fn any) error { return m.ffi.Register(name, fn) }

// ReadCString reads a NUL-terminated string out of VM memory at addr, for
// FFI entries that receive a `char*`.
func (m *Machine) ReadCString(addr uint64) (string, error) { return m.th.ReadCString(addr) }

// ReadBytes copies n bytes out of VM memory at addr, for FFI entries that
// receive a sized buffer.
func (m *Machine) ReadBytes(addr uint64, n int) ([]byte, error) { return m.th.ReadBytes(addr, n) }

// WriteBytes copies src into VM memory at addr, for FFI entries that fill a
// caller-supplied buffer.
func (m *Machine) WriteBytes(addr uint64, src []byte) error { return m.th.WriteBytes(addr, src) }

// Load attaches a compiled program, replacing any previously loaded one.
func (m *Machine) Load(p *compiler.Program) { m.prog = p }

// AddBreakpoint arms a stop at addr (a text word offset), keeping any
// breakpoints already set.
func (m *Machine) AddBreakpoint(addr uint32) {
	m.th.Debugger.SetBreakpoints(append(m.th.Debugger.breakpoints, addr))
}

// RemoveBreakpoint clears addr from the breakpoint set, if present.
func (m *Machine) RemoveBreakpoint(addr uint32) {
	kept := m.th.Debugger.breakpoints[:0]
	for _, a := range m.th.Debugger.breakpoints {
		if a != addr {
			kept = append(kept, a)
		}
	}
	m.th.Debugger.SetBreakpoints(kept)
}

// Run executes the loaded program with argv marshaled as a conventional
// `int argc, char **argv`, returning main's return value as exitCode, or a
// negative code and a *Fault if the program trapped.
func (m *Machine) Run(ctx context.Context, argv []string) (exitCode int, err error) {
	n, err := m.th.RunWithArgv(ctx, m.prog, argv)
	if err != nil {
		return -1, err
	}
	return int(n), nil
}

// Close reports outstanding allocations (when -l leak tracking is on) and
// releases the Machine's resources.
func (m *Machine) Close() []string { return m.th.Close() }
