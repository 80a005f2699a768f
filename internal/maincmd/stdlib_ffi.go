package maincmd

import (
	"fmt"
	"math"
	"os"

	"github.com/mna/mainer"

	"github.com/jcc-lang/jcc/lang/machine"
)

// registerStdlibFFI binds the small set of libc functions a freestanding
// VM program can declare as an extern prototype and call through CALLF:
// the ones whose effect is entirely host-side I/O or math, as opposed to
// malloc/free/calloc/realloc/memcpy, which the compiler lowers to
// dedicated opcodes against the VM's own heap instead (SPEC_FULL.md §4.5,
// §4.6). Disabled by -S for programs that bring their own libc shim.
func registerStdlibFFI(m *machine.Machine, stdio mainer.Stdio) {
	reg := func(name string, fn any) {
		if err := m.RegisterFFI(name, fn); err != nil {
			fmt.Fprintf(stdio.Stderr, "jcc: registering %s: %s\n", name, err)
		}
	}

	reg("putchar", func(c int32) int32 {
		fmt.Fprintf(stdio.Stdout, "%c", byte(c))
		return c
	})

	reg("puts", func(addr uint64) int32 {
		s, err := m.ReadCString(addr)
		if err != nil {
			return -1
		}
		fmt.Fprintln(stdio.Stdout, s)
		return int32(len(s) + 1)
	})

	reg("strlen", func(addr uint64) uint64 {
		s, err := m.ReadCString(addr)
		if err != nil {
			return 0
		}
		return uint64(len(s))
	})

	reg("exit", func(code int32) int32 {
		os.Exit(int(code))
		return 0
	})

	reg("abort", func() int32 {
		os.Exit(134)
		return 0
	})

	reg("sqrt", math.Sqrt)
	reg("pow", math.Pow)
	reg("fabs", math.Abs)
	reg("floor", math.Floor)
	reg("ceil", math.Ceil)
	reg("fmod", math.Mod)
}
