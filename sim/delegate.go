// sim/delegate.go
package sim

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/dsm-sim/sim/trace"
)

// DelegateState is the lifecycle state of a Delegate's client queues.
type DelegateState string

const (
	DelegateActive   DelegateState = "active"   // every client queue open
	DelegateDraining DelegateState = "draining" // some client queues closed by KILL
	DelegateStopped  DelegateState = "stopped"  // all client queues closed
)

// DelegateConfig bounds how long a Delegate keeps a remote request alive.
type DelegateConfig struct {
	// MaxRetries is the number of send attempts before a request to an
	// unreachable host is failed back to its thread.
	MaxRetries int
	// RetryInterval is the minimum wait between send attempts.
	RetryInterval time.Duration
	// RemoteTimeout fails a sent remote request that has not completed in
	// time. Zero disables the timeout.
	RemoteTimeout time.Duration
	// Trace selects decision tracing.
	Trace trace.TraceLevel
}

// DefaultDelegateConfig returns the settings used when none are given.
func DefaultDelegateConfig() DelegateConfig {
	return DelegateConfig{
		MaxRetries:    8,
		RetryInterval: 10 * time.Millisecond,
		RemoteTimeout: 5 * time.Second,
		Trace:         trace.TraceLevelNone,
	}
}

// DelegateMetrics counts what a Delegate did. Read it after Run returns.
type DelegateMetrics struct {
	LocalOps      int64 // client requests answered from local memory
	RemoteIssued  int64 // client requests forwarded to another host
	RemoteServed  int64 // peer requests answered from local memory
	RemoteDone    int64 // remote responses delivered to a client
	Dropped       int64 // responses discarded for closed clients or expired requests
	Failed        int64 // requests failed back to their thread
	Retries       int64 // repeated send attempts
	Iterations    int64
	ClientsClosed int64
}

type clientPort struct {
	requests  *BoundedChannel[Request]
	responses *BoundedChannel[Response]
	open      bool
	backlog   []Response // responses waiting for room in the channel
}

// remoteOp is a client request forwarded to another host, keyed by its tagged id.
type remoteOp struct {
	client   int
	id       int64 // client's own request id
	dest     int
	req      Request // tagged
	attempts int
	retryAt  time.Time
	sentAt   time.Time
	inFlight bool
}

type pendingReply struct {
	dest     int
	resp     Response
	attempts int
	retryAt  time.Time
}

// Delegate is the per-host event loop mediating between the host's clients,
// its MemoryStore and the Network. It is the only writer of the store.
type Delegate struct {
	host     int
	resolver Resolver
	store    *MemoryStore
	net      Network
	cfg      DelegateConfig

	clients []*clientPort
	open    int
	state   DelegateState

	outstanding map[int64]*remoteOp
	resendQ     []int64 // tagged ids of outstanding ops waiting for a successful send
	replyQ      []pendingReply

	metrics     DelegateMetrics
	trace       *trace.DelegateTrace
	now         func() time.Time
	stopped     chan struct{}
	stoppedOnce sync.Once
}

// NewDelegate creates the Delegate for resolver.Self().
func NewDelegate(resolver Resolver, store *MemoryStore, net Network, cfg DelegateConfig) *Delegate {
	if store == nil || net == nil {
		panic("NewDelegate: store and network must not be nil")
	}
	if store.Size() < resolver.Space().Size() {
		panic(fmt.Sprintf("NewDelegate: store of %d words cannot back a %d-word host", store.Size(), resolver.Space().Size()))
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	d := &Delegate{
		host:        resolver.Self(),
		resolver:    resolver,
		store:       store,
		net:         net,
		cfg:         cfg,
		state:       DelegateStopped,
		outstanding: make(map[int64]*remoteOp),
		now:         time.Now,
		stopped:     make(chan struct{}),
	}
	if cfg.Trace.Enabled() {
		d.trace = trace.NewDelegateTrace(d.host)
	}
	return d
}

// AttachClient registers a client's channel pair and returns its index.
// Clients must be attached before Run; at most MaxClientsPerHost fit.
func (d *Delegate) AttachClient(requests *BoundedChannel[Request], responses *BoundedChannel[Response]) int {
	if requests == nil || responses == nil {
		panic("AttachClient: channels must not be nil")
	}
	if len(d.clients) >= MaxClientsPerHost {
		panic(fmt.Sprintf("AttachClient: host %d already has %d clients", d.host, MaxClientsPerHost))
	}
	d.clients = append(d.clients, &clientPort{requests: requests, responses: responses, open: true})
	d.open++
	d.state = DelegateActive
	return len(d.clients) - 1
}

// Host returns the host this Delegate serves.
func (d *Delegate) Host() int { return d.host }

// State returns the lifecycle state.
func (d *Delegate) State() DelegateState { return d.state }

// Stopped is closed once every client queue has been closed.
func (d *Delegate) Stopped() <-chan struct{} { return d.stopped }

// Metrics returns the counters accumulated so far.
func (d *Delegate) Metrics() DelegateMetrics { return d.metrics }

// Trace returns the decision trace, or nil when tracing is off.
func (d *Delegate) Trace() *trace.DelegateTrace { return d.trace }

// Outstanding returns the number of remote requests awaiting completion.
func (d *Delegate) Outstanding() int { return len(d.outstanding) }

// Run iterates until ctx is cancelled. The loop keeps serving peers after
// its own clients stop, since other hosts may still address its memory.
// It returns the first fatal error.
func (d *Delegate) Run(ctx context.Context) error {
	d.updateState()
	logrus.Infof("[host %d] delegate running with %d clients", d.host, len(d.clients))
	for {
		select {
		case <-ctx.Done():
			logrus.Infof("[host %d] delegate shutting down (state=%s, outstanding=%d)", d.host, d.state, len(d.outstanding))
			return nil
		default:
		}
		worked, err := d.Step()
		if err != nil {
			logrus.Errorf("[host %d] delegate aborted: %v", d.host, err)
			return err
		}
		if !worked {
			runtime.Gosched()
		}
	}
}

// Step runs one iteration of the loop and reports whether it did any work.
func (d *Delegate) Step() (bool, error) {
	d.metrics.Iterations++
	worked := false

	// 1. one request from each open client queue
	for i, c := range d.clients {
		if !c.open {
			continue
		}
		if d.flush(c) {
			worked = true
		}
		req, ok := c.requests.TryGet()
		if !ok {
			continue
		}
		worked = true
		if err := d.handleClient(i, c, req); err != nil {
			return worked, err
		}
	}
	if len(d.resendQ) > 0 || len(d.replyQ) > 0 {
		if err := d.retry(); err != nil {
			return worked, err
		}
	}

	// 2. one inbound request from a peer
	env, ok, err := d.net.PollInbound()
	if err != nil && !errors.Is(err, ErrNetworkUnavailable) {
		return worked, fmt.Errorf("host %d: poll inbound: %w", d.host, err)
	}
	if ok {
		worked = true
		if err := d.serve(env); err != nil {
			return worked, err
		}
	}

	// 3. every completed outbound request
	for {
		resp, ok, err := d.net.PollCompletions()
		if err != nil && !errors.Is(err, ErrNetworkUnavailable) {
			return worked, fmt.Errorf("host %d: poll completions: %w", d.host, err)
		}
		if !ok {
			break
		}
		worked = true
		d.complete(resp)
	}

	if d.expire() {
		worked = true
	}
	d.updateState()
	return worked, nil
}

func (d *Delegate) handleClient(client int, c *clientPort, req Request) error {
	switch req.Command {
	case CommandKill:
		c.open = false
		c.backlog = nil
		d.open--
		d.metrics.ClientsClosed++
		logrus.Infof("[host %d] client %d closed, %d open", d.host, client, d.open)
		return nil
	case CommandRead, CommandFetchInc:
		loc, err := d.resolver.Resolve(req.Address)
		if err != nil {
			return fmt.Errorf("host %d client %d request %d: %w", d.host, client, req.ID, err)
		}
		d.recordRoute(client, req, loc)
		if loc.Local {
			v, err := d.apply(req.Command, loc.Offset)
			if err != nil {
				return fmt.Errorf("host %d client %d request %d: %w", d.host, client, req.ID, err)
			}
			d.metrics.LocalOps++
			d.deliver(c, Response{ID: req.ID, Value: v})
			return nil
		}
		tagged := req
		tagged.ID = TagRequestID(client, req.ID)
		op := &remoteOp{client: client, id: req.ID, dest: loc.Host, req: tagged}
		d.outstanding[tagged.ID] = op
		d.metrics.RemoteIssued++
		return d.sendRequest(op)
	default:
		return fmt.Errorf("host %d client %d: command %v: %w", d.host, client, req.Command, ErrProtocol)
	}
}

// apply performs a memory command against the local store.
func (d *Delegate) apply(cmd Command, offset uint64) (int64, error) {
	switch cmd {
	case CommandRead:
		return d.store.Read(offset)
	case CommandFetchInc:
		return d.store.FetchInc(offset)
	case CommandKill:
		return 0, fmt.Errorf("KILL is not a memory command: %w", ErrProtocol)
	default:
		return 0, fmt.Errorf("command %v: %w", cmd, ErrProtocol)
	}
}

func (d *Delegate) sendRequest(op *remoteOp) error {
	op.attempts++
	err := d.net.SendRequest(op.dest, op.req)
	if err == nil {
		op.inFlight = true
		op.sentAt = d.now()
		return nil
	}
	if !errors.Is(err, ErrNetworkUnavailable) {
		return fmt.Errorf("host %d: send request to host %d: %w", d.host, op.dest, err)
	}
	if op.attempts >= d.cfg.MaxRetries {
		logrus.Warnf("[host %d] giving up on request %d to host %d after %d attempts", d.host, op.req.ID, op.dest, op.attempts)
		d.fail(op.req.ID, fmt.Errorf("host %d after %d attempts: %w", op.dest, op.attempts, err))
		return nil
	}
	logrus.Debugf("[host %d] request %d to host %d deferred: %v", d.host, op.req.ID, op.dest, err)
	op.retryAt = d.now().Add(d.cfg.RetryInterval)
	d.resendQ = append(d.resendQ, op.req.ID)
	return nil
}

func (d *Delegate) sendResponse(r pendingReply) error {
	r.attempts++
	err := d.net.SendResponse(r.dest, r.resp)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNetworkUnavailable) {
		return fmt.Errorf("host %d: send response to host %d: %w", d.host, r.dest, err)
	}
	if r.attempts >= d.cfg.MaxRetries {
		// the requester's own timeout covers the lost reply
		logrus.Warnf("[host %d] dropping response %d to host %d after %d attempts", d.host, r.resp.ID, r.dest, r.attempts)
		d.metrics.Dropped++
		return nil
	}
	r.retryAt = d.now().Add(d.cfg.RetryInterval)
	d.replyQ = append(d.replyQ, r)
	return nil
}

// retry makes one more attempt at every deferred send whose interval has passed.
func (d *Delegate) retry() error {
	now := d.now()
	resend := d.resendQ
	d.resendQ = nil
	for _, tagged := range resend {
		op, ok := d.outstanding[tagged]
		if !ok {
			continue
		}
		if now.Before(op.retryAt) {
			d.resendQ = append(d.resendQ, tagged)
			continue
		}
		d.metrics.Retries++
		if err := d.sendRequest(op); err != nil {
			return err
		}
	}
	replies := d.replyQ
	d.replyQ = nil
	for _, r := range replies {
		if now.Before(r.retryAt) {
			d.replyQ = append(d.replyQ, r)
			continue
		}
		d.metrics.Retries++
		if err := d.sendResponse(r); err != nil {
			return err
		}
	}
	return nil
}

// serve answers a peer's request against local memory.
func (d *Delegate) serve(env Envelope) error {
	req := env.Request
	switch req.Command {
	case CommandRead, CommandFetchInc:
	default:
		return fmt.Errorf("host %d: command %v from host %d: %w", d.host, req.Command, env.From, ErrProtocol)
	}
	loc, err := d.resolver.Resolve(req.Address)
	if err != nil {
		return fmt.Errorf("host %d: request %d from host %d: %w", d.host, req.ID, env.From, err)
	}
	if !loc.Local {
		return fmt.Errorf("host %d: request %d from host %d misrouted to owner %d: %w", d.host, req.ID, env.From, loc.Host, ErrProtocol)
	}
	v, err := d.apply(req.Command, loc.Offset)
	if err != nil {
		return fmt.Errorf("host %d: request %d from host %d: %w", d.host, req.ID, env.From, err)
	}
	d.metrics.RemoteServed++
	if d.trace != nil {
		d.trace.RecordServe(trace.ServeRecord{
			Host: d.host, From: env.From, RequestID: req.ID,
			Address: uint64(req.Address), Command: req.Command.String(), Value: v,
		})
	}
	return d.sendResponse(pendingReply{dest: env.From, resp: Response{ID: req.ID, Value: v}})
}

// complete routes a remote response back to the client that asked for it.
func (d *Delegate) complete(resp Response) {
	op, ok := d.outstanding[resp.ID]
	client, id := UntagRequestID(resp.ID)
	if !ok {
		// already failed by timeout or retry exhaustion
		d.drop(client, id, "late response")
		return
	}
	delete(d.outstanding, resp.ID)
	c := d.clients[op.client]
	if !c.open {
		d.drop(client, id, ErrUnknownRoute.Error())
		return
	}
	d.metrics.RemoteDone++
	d.deliver(c, Response{ID: id, Value: resp.Value, Err: resp.Err})
}

// expire fails sent requests older than RemoteTimeout.
func (d *Delegate) expire() bool {
	if d.cfg.RemoteTimeout <= 0 || len(d.outstanding) == 0 {
		return false
	}
	now := d.now()
	expired := false
	for tagged, op := range d.outstanding {
		if op.inFlight && now.Sub(op.sentAt) > d.cfg.RemoteTimeout {
			logrus.Warnf("[host %d] request %d to host %d timed out", d.host, tagged, op.dest)
			d.fail(tagged, fmt.Errorf("host %d after %v: %w", op.dest, d.cfg.RemoteTimeout, ErrRemoteTimeout))
			expired = true
		}
	}
	return expired
}

// fail removes an outstanding op and hands its thread a failure result.
func (d *Delegate) fail(tagged int64, err error) {
	op, ok := d.outstanding[tagged]
	if !ok {
		return
	}
	delete(d.outstanding, tagged)
	d.metrics.Failed++
	if d.trace != nil {
		d.trace.RecordDrop(trace.DropRecord{Host: d.host, Client: op.client, RequestID: op.id, Reason: err.Error()})
	}
	c := d.clients[op.client]
	if !c.open {
		return
	}
	d.deliver(c, Response{ID: op.id, Err: err})
}

func (d *Delegate) drop(client int, id int64, reason string) {
	d.metrics.Dropped++
	logrus.Debugf("[host %d] dropped response %d for client %d: %s", d.host, id, client, reason)
	if d.trace != nil {
		d.trace.RecordDrop(trace.DropRecord{Host: d.host, Client: client, RequestID: id, Reason: reason})
	}
}

// deliver hands resp to the client without ever blocking the loop.
func (d *Delegate) deliver(c *clientPort, resp Response) {
	if len(c.backlog) == 0 && c.responses.TryPut(resp) {
		return
	}
	c.backlog = append(c.backlog, resp)
}

func (d *Delegate) flush(c *clientPort) bool {
	n := 0
	for n < len(c.backlog) && c.responses.TryPut(c.backlog[n]) {
		n++
	}
	c.backlog = c.backlog[n:]
	return n > 0
}

func (d *Delegate) recordRoute(client int, req Request, loc Location) {
	if d.trace == nil {
		return
	}
	d.trace.RecordRoute(trace.RouteRecord{
		Host: d.host, Client: client, RequestID: req.ID,
		Address: uint64(req.Address), Command: req.Command.String(),
		Owner: loc.Host, Local: loc.Local,
	})
}

func (d *Delegate) updateState() {
	switch {
	case d.open == 0:
		d.state = DelegateStopped
		d.stoppedOnce.Do(func() { close(d.stopped) })
	case d.open < len(d.clients):
		d.state = DelegateDraining
	default:
		d.state = DelegateActive
	}
}
