package sim

import "fmt"

// Action tells the Scheduler what a frame did when it was resumed.
type Action uint8

const (
	// ActionYield suspends the thread until its next scheduling turn.
	ActionYield Action = iota
	// ActionCall pushes a nested frame; the caller resumes when it returns.
	ActionCall
	// ActionReturn pops the frame and hands its result to the parent.
	ActionReturn
	// ActionFail aborts the whole scheduler with an error.
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionYield:
		return "yield"
	case ActionCall:
		return "call"
	case ActionReturn:
		return "return"
	case ActionFail:
		return "fail"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

// Result is the value a frame is resumed with: the return of a nested
// call, or the zero Result after a yield or on first entry.
type Result struct {
	Value int64
	Err   error
}

// Step is what a frame hands back to the Scheduler each time it runs.
type Step struct {
	Action Action
	Value  int64 // yielded or returned value
	Err    error // returned or fatal error
	Callee Frame // set for ActionCall
}

// Frame is one suspendable computation on a thread's call stack. The frame
// keeps its own position between resumptions; the Scheduler only sees Steps.
type Frame interface {
	Resume(t *Thread, in Result) Step
}

// FrameFunc adapts a closure (usually capturing its own state) to Frame.
type FrameFunc func(t *Thread, in Result) Step

// Resume calls f.
func (f FrameFunc) Resume(t *Thread, in Result) Step {
	return f(t, in)
}

// Yield suspends the thread and records v as the turn's value.
func Yield(v int64) Step {
	return Step{Action: ActionYield, Value: v}
}

// Call runs f as a nested frame within the same scheduling turn.
func Call(f Frame) Step {
	return Step{Action: ActionCall, Callee: f}
}

// Return completes the frame with v.
func Return(v int64) Step {
	return Step{Action: ActionReturn, Value: v}
}

// ReturnErr completes the frame with an error the parent may handle.
func ReturnErr(err error) Step {
	return Step{Action: ActionReturn, Err: err}
}

// Fail aborts the scheduler. Use it only for conditions that make further
// progress on the host unsafe.
func Fail(err error) Step {
	return Step{Action: ActionFail, Err: err}
}
