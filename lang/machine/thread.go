package machine

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/jcc-lang/jcc/lang/compiler"
	"github.com/jcc-lang/jcc/lang/ffi"
)

// Thread executes one compiled Program. Unlike the teacher's Thread (which
// could run arbitrary Starlark Callables via Call), this VM always runs a
// single compiled C translation unit starting at Program.EntryPC, so there
// is no callStack-of-Callables indirection — frames are tracked only for
// diagnostics (see frame.go).
type Thread struct {
	// Name optionally names the thread, for diagnostics.
	Name string

	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader

	// MaxSteps bounds the number of dispatched instructions before the
	// thread is cancelled; <= 0 means no limit.
	MaxSteps int

	// MaxCallStackDepth bounds call nesting; <= 0 means no limit.
	MaxCallStackDepth int

	// StackSize is the byte size of the VM's stack segment.
	StackSize int

	// Heap gates the allocator's optional safety/debugging behavior
	// (-c/-u/-l/-p).
	HeapFlags HeapFlags

	// Safety gates, through Bounds, whether the CHKPTR/CHKBOUNDS/CHKTYPE/
	// CHKALIGN opcodes check or are treated as NOPs; CHKINIT/MARKINIT/
	// SCOPEIN/SCOPEOUT are NOPs whatever it holds. It is the compiler's own
	// Safety struct, so a program can be run with a different Bounds setting
	// than it was compiled with.
	Safety compiler.Safety

	// FFI resolves CALLF targets. May be nil if the program makes no
	// foreign calls.
	FFI *ffi.Table

	Debugger Debugger

	ctx       context.Context
	ctxCancel func()

	mem    *Memory
	regs   Regs
	shadow shadowStack
	frames []frame
	prog   *compiler.Program

	steps, maxSteps uint64

	canary uint64 // session-random stack-canary value; see newHeap's canarySeed for the same pattern

	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader
}

func (th *Thread) init() {
	if th.MaxSteps <= 0 {
		th.maxSteps--
	} else {
		th.maxSteps = uint64(th.MaxSteps)
	}
	if th.Safety.StackCanary {
		var seed [8]byte
		_, _ = rand.Read(seed[:])
		v := binary.LittleEndian.Uint64(seed[:])
		v &^= 0xff << 24 // force one all-zero byte so a NUL-terminated overrun can't forge a match
		th.canary = v
	}
	if th.Stdout != nil {
		th.stdout = th.Stdout
	} else {
		th.stdout = os.Stdout
	}
	if th.Stderr != nil {
		th.stderr = th.Stderr
	} else {
		th.stderr = os.Stderr
	}
	if th.Stdin != nil {
		th.stdin = th.Stdin
	} else {
		th.stdin = os.Stdin
	}
	if th.StackSize <= 0 {
		th.StackSize = 1 << 20
	}
}

// Fault is returned by Run when the program aborts due to a safety
// violation (NULL dereference, UAF, canary mismatch, CFI violation,
// division by zero) rather than a clean return from main. Signed integer
// overflow does not fault: no opcode traps on it.
type Fault struct {
	Message    string
	PC         uint32
	Func       string
	Backtrace  []string
}

func (f *Fault) Error() string {
	if f.Func != "" {
		return fmt.Sprintf("%s (in %s at pc=%d)", f.Message, f.Func, f.PC)
	}
	return fmt.Sprintf("%s (at pc=%d)", f.Message, f.PC)
}

// Run loads p and executes it starting at p.EntryPC, with initial integer
// argument registers args (e.g. argc in R1, argv in R2 for main). It
// returns main's integer result (R1 at the point the top-level frame's
// LEAVE executes) or a *Fault.
func (th *Thread) Run(ctx context.Context, p *compiler.Program, args ...uint64) (int64, error) {
	th.init()
	ctx, cancel := context.WithCancel(ctx)
	th.ctx = ctx
	th.ctxCancel = cancel
	defer cancel()

	p = th.ownedCopy(p)
	th.prog = p
	th.mem = NewMemory(p.Data, th.StackSize)
	th.mem.Heap.Flags = th.HeapFlags
	applyRelocations(th.mem, p)
	if err := th.resolveFFIImports(p); err != nil {
		return -1, err
	}

	for i, a := range args {
		th.regs.SetInt(uint8(i+1), a)
	}

	th.regs.SP = th.mem.StackTop() - 8
	if err := th.mem.Store(th.regs.SP, 8, 0); err != nil { // sentinel return address
		return -1, err
	}
	th.regs.PC = p.EntryPC

	return th.run()
}

// Close reports every allocation still outstanding when -l leak tracking
// is enabled. Call after Run returns.
func (th *Thread) Close() []string {
	if th.mem == nil {
		return nil
	}
	var report []string
	for addr, rec := range th.mem.Heap.LeakReport() {
		fn := th.prog.FuncByAddr(rec.allocPC)
		name := "?"
		if fn != nil {
			name = fn.Name
		}
		report = append(report, fmt.Sprintf("leaked %d bytes at 0x%x, allocated in %s", rec.size, addr, name))
	}
	return report
}

// ReadCString reads a NUL-terminated byte string starting at addr, for FFI
// entries that receive a `char*` (e.g. puts, strlen substitutes).
func (th *Thread) ReadCString(addr uint64) (string, error) {
	var b []byte
	for i := 0; ; i++ {
		buf, err := th.mem.Bytes(addr+uint64(i), 1)
		if err != nil {
			return "", err
		}
		if buf[0] == 0 {
			return string(b), nil
		}
		b = append(b, buf[0])
	}
}

// ReadBytes returns a copy of n bytes at addr, for FFI entries that receive
// a sized buffer (e.g. fwrite substitutes).
func (th *Thread) ReadBytes(addr uint64, n int) ([]byte, error) {
	buf, err := th.mem.Bytes(addr, n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), buf...), nil
}

// WriteBytes copies src into VM memory starting at addr, for FFI entries
// that fill a caller-supplied buffer (e.g. fgets substitutes).
func (th *Thread) WriteBytes(addr uint64, src []byte) error {
	buf, err := th.mem.Bytes(addr, len(src))
	if err != nil {
		return err
	}
	copy(buf, src)
	return nil
}

// RunWithArgv is Run specialized for a process-shaped entry point: it
// marshals argv onto the VM stack as a conventional `int argc, char
// **argv` pair (each string NUL-terminated, the pointer array itself
// below them, both below the initial SP) before jumping to p.EntryPC.
func (th *Thread) RunWithArgv(ctx context.Context, p *compiler.Program, argv []string) (int64, error) {
	th.init()
	ctx, cancel := context.WithCancel(ctx)
	th.ctx = ctx
	th.ctxCancel = cancel
	defer cancel()

	p = th.ownedCopy(p)
	th.prog = p
	th.mem = NewMemory(p.Data, th.StackSize)
	th.mem.Heap.Flags = th.HeapFlags
	applyRelocations(th.mem, p)
	if err := th.resolveFFIImports(p); err != nil {
		return -1, err
	}

	sp := th.mem.StackTop()

	strAddrs := make([]uint64, len(argv))
	for i, s := range argv {
		b := append([]byte(s), 0)
		sp -= uint64(len(b))
		sp &^= 7
		dst, err := th.mem.Bytes(sp, len(b))
		if err != nil {
			return -1, err
		}
		copy(dst, b)
		strAddrs[i] = sp
	}

	sp -= uint64(len(strAddrs)+1) * 8
	sp &^= 7
	argvPtr := sp
	for i, a := range strAddrs {
		if err := th.mem.Store(sp+uint64(i)*8, 8, a); err != nil {
			return -1, err
		}
	}
	if err := th.mem.Store(sp+uint64(len(strAddrs))*8, 8, 0); err != nil { // NULL-terminated argv
		return -1, err
	}

	sp -= 8
	if err := th.mem.Store(sp, 8, 0); err != nil { // sentinel return address
		return -1, err
	}
	th.regs.SP = sp
	th.regs.SetInt(1, uint64(len(argv)))
	th.regs.SetInt(2, argvPtr)
	th.regs.PC = p.EntryPC

	return th.run()
}

// ownedCopy returns a shallow copy of p with its own Text slice, so
// resolveFFIImports can patch CALLF table indices in place without mutating
// a Program the caller may Run again against a different FFI table (e.g.
// the same image reloaded with a different set of registered host
// functions).
func (th *Thread) ownedCopy(p *compiler.Program) *compiler.Program {
	cp := *p
	cp.Text = append([]uint64(nil), p.Text...)
	return &cp
}

// resolveFFIImports rewrites every CALLF instruction's table-index
// immediate from its program-local FFIImports ordinal to th.FFI's actual
// registration index, the way applyRelocations patches data pointers once
// every address is known. A program with no CALLF sites or no FFI table
// attached is left untouched.
func (th *Thread) resolveFFIImports(p *compiler.Program) error {
	if len(p.FFIImports) == 0 {
		return nil
	}
	if th.FFI == nil {
		return fmt.Errorf("program calls %d host function(s) but no FFI table is attached", len(p.FFIImports))
	}
	resolved := make([]int, len(p.FFIImports))
	for i, imp := range p.FFIImports {
		idx, ok := th.FFI.Index(imp.Name)
		if !ok {
			return fmt.Errorf("no host function registered for %q", imp.Name)
		}
		resolved[i] = idx
	}

	text := p.Text
	for pc := 0; pc < len(text); {
		op := compiler.Opcode(text[pc])
		switch op.Shape() {
		case compiler.ShapeNone:
			pc++
		case compiler.ShapeRRR:
			pc += 2
		case compiler.ShapeRI:
			if op == compiler.CALLF {
				text[pc+2] = uint64(resolved[text[pc+2]])
			}
			pc += 3
		default:
			pc++
		}
	}
	return nil
}

func applyRelocations(mem *Memory, p *compiler.Program) {
	for _, r := range p.Relocations {
		var target uint64
		switch r.Kind {
		case compiler.RelocData:
			target = dataBase + uint64(r.Addr)
		case compiler.RelocFunc:
			target = uint64(r.Addr) // function addresses are text word offsets, not data pointers
		}
		_ = mem.Store(dataBase+uint64(r.Offset), 8, target+uint64(r.Addend))
	}
}
