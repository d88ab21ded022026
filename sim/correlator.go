package sim

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
)

type pendingKey struct {
	addr   Address
	thread int
}

// Correlator books request ids for the logical threads of one client and
// matches responses arriving on that client's response channel back to the
// thread that issued them, whatever order they arrive in.
type Correlator struct {
	client    int
	nextID    int64
	requests  *BoundedChannel[Request]
	responses *BoundedChannel[Response]
	pending   map[pendingKey]int64
	mailbox   map[int64]Response
	closed    bool
}

// NewCorrelator binds a correlator to the channel pair of client.
func NewCorrelator(client int, requests *BoundedChannel[Request], responses *BoundedChannel[Response]) *Correlator {
	if requests == nil || responses == nil {
		panic("NewCorrelator: channels must not be nil")
	}
	return &Correlator{
		client:    client,
		requests:  requests,
		responses: responses,
		pending:   make(map[pendingKey]int64),
		mailbox:   make(map[int64]Response),
	}
}

// Client returns the client index this correlator serves.
func (c *Correlator) Client() int { return c.client }

// Outstanding returns the number of issued but unclaimed requests.
func (c *Correlator) Outstanding() int { return len(c.pending) }

// MailboxLen returns the number of responses held for other threads.
func (c *Correlator) MailboxLen() int { return len(c.mailbox) }

// IssueRead books an id for a READ of addr by t and enqueues the request.
func (c *Correlator) IssueRead(t *Thread, addr Address) (int64, error) {
	return c.issue(t, addr, CommandRead)
}

// IssueFetchInc books an id for a FETCH_INC of addr by t and enqueues the request.
func (c *Correlator) IssueFetchInc(t *Thread, addr Address) (int64, error) {
	return c.issue(t, addr, CommandFetchInc)
}

func (c *Correlator) issue(t *Thread, addr Address, cmd Command) (int64, error) {
	if c.closed {
		panic(fmt.Sprintf("client %d: issue after Close", c.client))
	}
	key := pendingKey{addr: addr, thread: t.ID()}
	if id, ok := c.pending[key]; ok {
		return 0, fmt.Errorf("thread %d address %#x (request %d): %w", t.ID(), uint64(addr), id, ErrDoubleIssue)
	}
	id := c.nextID
	c.nextID++
	c.pending[key] = id
	c.requests.Put(Request{Address: addr, Command: cmd, ID: id})
	logrus.Debugf("[client %d] thread %d issued %s %#x as request %d", c.client, t.ID(), cmd, uint64(addr), id)
	return id, nil
}

// Await returns a frame that suspends its thread until the response to the
// thread's outstanding request on addr arrives, then returns its value.
func (c *Correlator) Await(addr Address) Frame {
	return FrameFunc(func(t *Thread, _ Result) Step {
		key := pendingKey{addr: addr, thread: t.ID()}
		id, ok := c.pending[key]
		if !ok {
			return ReturnErr(fmt.Errorf("thread %d address %#x: %w", t.ID(), uint64(addr), ErrNotIssued))
		}
		resp, found := c.claim(id)
		if !found {
			// Let the Delegate goroutine run before the next turn comes round.
			runtime.Gosched()
			return Yield(0)
		}
		delete(c.pending, key)
		if resp.Err != nil {
			return ReturnErr(resp.Err)
		}
		return Return(resp.Value)
	})
}

// claim looks for id in the mailbox, then drains the response channel until
// id shows up, stashing every other response in the mailbox.
func (c *Correlator) claim(id int64) (Response, bool) {
	if resp, ok := c.mailbox[id]; ok {
		delete(c.mailbox, id)
		return resp, true
	}
	for {
		resp, ok := c.responses.TryGet()
		if !ok {
			return Response{}, false
		}
		if resp.ID == id {
			return resp, true
		}
		c.mailbox[resp.ID] = resp
	}
}

// Read returns a frame that issues a READ of addr and awaits it.
func (c *Correlator) Read(addr Address) Frame {
	return c.op(addr, CommandRead)
}

// FetchInc returns a frame that issues a FETCH_INC of addr and awaits it.
func (c *Correlator) FetchInc(addr Address) Frame {
	return c.op(addr, CommandFetchInc)
}

func (c *Correlator) op(addr Address, cmd Command) Frame {
	issued := false
	return FrameFunc(func(t *Thread, in Result) Step {
		if !issued {
			if c.requests.Len() == c.requests.Cap() {
				// queue full: wait a turn instead of blocking every thread of the client
				runtime.Gosched()
				return Yield(0)
			}
			if _, err := c.issue(t, addr, cmd); err != nil {
				return ReturnErr(err)
			}
			issued = true
			return Call(c.Await(addr))
		}
		if in.Err != nil {
			return ReturnErr(in.Err)
		}
		return Return(in.Value)
	})
}

// Close sends KILL for this client's queue. After it no response will be
// delivered to the client. Safe to call more than once.
func (c *Correlator) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.requests.Put(Request{Command: CommandKill, ID: c.nextID})
	logrus.Debugf("[client %d] sent KILL with %d requests outstanding", c.client, len(c.pending))
}
