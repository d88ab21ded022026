// sim/scheduler.go
package sim

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Thread is a logical thread: an id and an explicit stack of frames.
// It is owned by the Scheduler that spawned it.
type Thread struct {
	id       int
	stack    []Frame
	resume   Result // value the top frame resumes with
	lastTurn int64  // value recorded by the most recent yield
	turns    int
	result   Result
	done     bool
}

// ID returns the thread id, unique within its Scheduler.
func (t *Thread) ID() int { return t.id }

// Depth returns the number of frames currently on the stack.
func (t *Thread) Depth() int { return len(t.stack) }

// LastTurn returns the value recorded by the thread's latest yield.
func (t *Thread) LastTurn() int64 { return t.lastTurn }

// Turns returns how many times the thread has yielded.
func (t *Thread) Turns() int { return t.turns }

// Done reports whether the top-level frame has returned.
func (t *Thread) Done() bool { return t.done }

// Result returns what the top-level frame returned. Only meaningful once Done.
func (t *Thread) Result() Result { return t.result }

func (t *Thread) String() string {
	return fmt.Sprintf("Thread: (ID: %d, Depth: %d, Turns: %d)", t.id, len(t.stack), t.turns)
}

// ThreadFailure records a thread whose top-level frame returned an error.
type ThreadFailure struct {
	ThreadID int
	Err      error
}

// Scheduler runs logical threads cooperatively and round-robin on a single
// goroutine. A thread gives up control only by yielding; nested calls run
// inside the same turn.
type Scheduler struct {
	runQ     []*Thread // FIFO, re-enqueued at the tail on yield
	nextID   int
	turns    int64
	failures []ThreadFailure
	// OnTurn, if set, observes every yield with the yielding thread.
	OnTurn func(t *Thread)
}

// NewScheduler returns an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Spawn creates a thread whose top-level computation is f and appends it to
// the run queue. Ids are assigned monotonically from 0.
func (s *Scheduler) Spawn(f Frame) *Thread {
	if f == nil {
		panic("Spawn: frame must not be nil")
	}
	t := &Thread{id: s.nextID, stack: []Frame{f}}
	s.nextID++
	s.runQ = append(s.runQ, t)
	logrus.Debugf("[sched] spawned thread %d", t.id)
	return t
}

// Len returns the number of runnable threads.
func (s *Scheduler) Len() int {
	return len(s.runQ)
}

// Turns returns the number of completed scheduling turns.
func (s *Scheduler) Turns() int64 {
	return s.turns
}

// Failures returns the threads that terminated with an error.
func (s *Scheduler) Failures() []ThreadFailure {
	return s.failures
}

// Turn runs one scheduling turn: the head thread resumes and keeps running
// through calls and returns until it yields or terminates. Reports false
// when there was nothing to run. A frame that fails aborts with its error.
func (s *Scheduler) Turn() (bool, error) {
	if len(s.runQ) == 0 {
		return false, nil
	}
	t := s.runQ[0]
	s.runQ = s.runQ[1:]
	s.turns++

	in := t.resume
	for {
		top := t.stack[len(t.stack)-1]
		step := top.Resume(t, in)
		switch step.Action {
		case ActionCall:
			if step.Callee == nil {
				panic(fmt.Sprintf("thread %d: call with nil frame", t.id))
			}
			t.stack = append(t.stack, step.Callee)
			in = Result{}
		case ActionYield:
			t.lastTurn = step.Value
			t.turns++
			t.resume = Result{}
			s.runQ = append(s.runQ, t)
			if s.OnTurn != nil {
				s.OnTurn(t)
			}
			return true, nil
		case ActionReturn:
			t.stack[len(t.stack)-1] = nil
			t.stack = t.stack[:len(t.stack)-1]
			in = Result{Value: step.Value, Err: step.Err}
			if len(t.stack) == 0 {
				s.terminate(t, in)
				return true, nil
			}
		case ActionFail:
			err := step.Err
			if err == nil {
				err = fmt.Errorf("frame failed without error")
			}
			return true, fmt.Errorf("thread %d: %w", t.id, err)
		default:
			panic(fmt.Sprintf("thread %d: unknown action %v", t.id, step.Action))
		}
	}
}

func (s *Scheduler) terminate(t *Thread, res Result) {
	t.done = true
	t.result = res
	if res.Err != nil {
		logrus.Warnf("[sched] thread %d terminated with error: %v", t.id, res.Err)
		s.failures = append(s.failures, ThreadFailure{ThreadID: t.id, Err: res.Err})
		return
	}
	logrus.Debugf("[sched] thread %d terminated, result=%d", t.id, res.Value)
}

// Run executes turns until the run queue is empty, ctx is cancelled, or a
// frame fails.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ran, err := s.Turn()
		if err != nil {
			return err
		}
		if !ran {
			return nil
		}
	}
}
