package maincmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/mna/mainer"

	"github.com/jcc-lang/jcc/lang/machine"
)

// replDebugHook builds the -g interactive debugger: a minimal line-oriented
// REPL over stdio, reporting why the thread stopped and accepting
// continue/step/backtrace/quit commands (SPEC_FULL.md §6.1's -g flag).
func replDebugHook(stdio mainer.Stdio) machine.DebugHook {
	in := bufio.NewScanner(stdio.Stdin)
	return func(th *machine.Thread, reason machine.StopReason) bool {
		fmt.Fprintf(stdio.Stdout, "stopped: %s\n", reasonString(reason))
		for {
			fmt.Fprint(stdio.Stdout, "(jccdbg) ")
			if !in.Scan() {
				return false
			}
			switch strings.TrimSpace(in.Text()) {
			case "c", "continue":
				return false
			case "s", "step":
				return true
			case "bt", "backtrace":
				for _, line := range th.CallStack() {
					fmt.Fprintln(stdio.Stdout, line)
				}
			case "q", "quit":
				return false
			default:
				fmt.Fprintln(stdio.Stdout, "commands: c(ontinue) s(tep) bt q(uit)")
			}
		}
	}
}

func reasonString(r machine.StopReason) string {
	switch r {
	case machine.StopBreakpoint:
		return "breakpoint"
	case machine.StopStep:
		return "step"
	case machine.StopStepOver:
		return "step-over"
	case machine.StopStepOut:
		return "step-out"
	default:
		return "unknown"
	}
}
