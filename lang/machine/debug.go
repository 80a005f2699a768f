package machine

import "sort"

// StopReason explains why Thread.Run suspended execution for the debugger.
type StopReason int

const (
	StopNone StopReason = iota
	StopBreakpoint
	StopStep
	StopStepOver
	StopStepOut
)

// DebugHook is the embedder's REPL collaborator: invoked with the thread
// and the reason it stopped, before the tripping instruction executes. It
// returns true to keep single-stepping (re-arm StopStep for the next
// instruction) or false to resume normal execution.
type DebugHook func(th *Thread, reason StopReason) (keepStepping bool)

// Debugger holds the state lang/machine consults before every instruction
// when a DebugHook is attached: a sorted breakpoint set plus the three
// stepping modes (single-step, step-over, step-out).
type Debugger struct {
	Hook DebugHook

	breakpoints []uint32 // sorted text word offsets

	stepping    bool
	stepOverSP  uint64 // valid only while stepping over a CALL
	stepOverSet bool
	stepOutBP   uint64
	stepOutSet  bool
}

// SetBreakpoints replaces the breakpoint set with addrs, sorted for
// binary-search probing in the dispatch loop.
func (d *Debugger) SetBreakpoints(addrs []uint32) {
	d.breakpoints = append([]uint32(nil), addrs...)
	sort.Slice(d.breakpoints, func(i, j int) bool { return d.breakpoints[i] < d.breakpoints[j] })
}

func (d *Debugger) hasBreakpoint(pc uint32) bool {
	i := sort.Search(len(d.breakpoints), func(i int) bool { return d.breakpoints[i] >= pc })
	return i < len(d.breakpoints) && d.breakpoints[i] == pc
}

// StepIn arms single-step mode: the hook fires before the very next
// instruction regardless of call depth.
func (d *Debugger) StepIn() { d.stepping = true }

// StepOver arms a stop when control returns to the same frame (sp back to
// its current value) without descending into a callee.
func (d *Debugger) StepOver(sp uint64) { d.stepOverSP, d.stepOverSet = sp, true }

// StepOut arms a stop when the current frame returns to its caller.
func (d *Debugger) StepOut(bp uint64) { d.stepOutBP, d.stepOutSet = bp, true }

// probe is called once per fetched instruction; it reports the stop
// reason (StopNone if execution should proceed uninterrupted) and clears
// any one-shot stepping mode that fired.
func (d *Debugger) probe(pc uint32, sp, bp uint64) StopReason {
	switch {
	case d.hasBreakpoint(pc):
		return StopBreakpoint
	case d.stepping:
		d.stepping = false
		return StopStep
	case d.stepOverSet && sp >= d.stepOverSP:
		d.stepOverSet = false
		return StopStepOver
	case d.stepOutSet && bp > d.stepOutBP:
		d.stepOutSet = false
		return StopStepOut
	}
	return StopNone
}
