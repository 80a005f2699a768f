package machine

import "github.com/jcc-lang/jcc/lang/compiler"

// frame records one active call, kept only for diagnostics (fault reports,
// leak reports, the debugger's backtrace): the VM's actual control state
// (return address, saved bp) lives on the real Stack segment, written by
// CALL (return address) and ENTER (saved bp) and read by LEAVE, not
// duplicated here.
type frame struct {
	fn *compiler.FuncInfo
	bp uint64
}

// CallStack renders th's active call stack, most recent first. Exported for
// embedders driving an interactive debugger (-g) that want to print a
// backtrace at a breakpoint.
func (th *Thread) CallStack() []string { return th.backtrace() }

// backtrace renders th's active call stack, most recent first, for a fault
// report.
func (th *Thread) backtrace() []string {
	lines := make([]string, 0, len(th.frames))
	for i := len(th.frames) - 1; i >= 0; i-- {
		fr := th.frames[i]
		name := "?"
		if fr.fn != nil {
			name = fr.fn.Name
		}
		lines = append(lines, name)
	}
	return lines
}
