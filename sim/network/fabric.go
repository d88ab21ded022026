// Package network provides an in-process message fabric implementing
// sim.Network for every host of a simulated cluster. Frames are encoded with
// protowire and queued per (source, destination) pair, so each stream is
// FIFO while nothing is ordered across streams.
package network

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/inference-sim/dsm-sim/sim"
)

// errHostDown is what the fabric reports for a send touching a down host.
// Endpoints wrap it as sim.ErrNetworkUnavailable.
var errHostDown = errors.New("host down")

type link struct {
	src, dst int
}

// FabricStats counts traffic through the fabric.
type FabricStats struct {
	RequestFrames  int64
	ResponseFrames int64
	Bytes          int64
	Refused        int64
}

// Fabric is the shared medium between all hosts of one simulation.
type Fabric struct {
	mu        sync.Mutex
	hosts     int
	requests  map[link][][]byte
	responses map[link][][]byte
	down      map[int]bool
	stats     FabricStats
}

// NewFabric creates a fabric connecting hosts hosts, all reachable.
func NewFabric(hosts int) *Fabric {
	if hosts < 1 {
		panic(fmt.Sprintf("NewFabric: hosts must be >= 1, got %d", hosts))
	}
	return &Fabric{
		hosts:     hosts,
		requests:  make(map[link][][]byte),
		responses: make(map[link][][]byte),
		down:      make(map[int]bool),
	}
}

// Hosts returns the number of connected hosts.
func (f *Fabric) Hosts() int { return f.hosts }

// SetReachable marks host up or down. Sends to or from a down host fail;
// frames already queued stay queued.
func (f *Fabric) SetReachable(host int, up bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if up {
		delete(f.down, host)
	} else {
		f.down[host] = true
	}
	logrus.Infof("[fabric] host %d reachable=%v", host, up)
}

// Stats returns a copy of the traffic counters.
func (f *Fabric) Stats() FabricStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// InFlight returns the number of queued frames of both kinds.
func (f *Fabric) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, q := range f.requests {
		n += len(q)
	}
	for _, q := range f.responses {
		n += len(q)
	}
	return n
}

func (f *Fabric) push(queues map[link][][]byte, src, dst int, frame []byte) error {
	if dst < 0 || dst >= f.hosts {
		return fmt.Errorf("destination %d outside %d-host fabric", dst, f.hosts)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[src] || f.down[dst] {
		f.stats.Refused++
		return errHostDown
	}
	l := link{src: src, dst: dst}
	queues[l] = append(queues[l], frame)
	f.stats.Bytes += int64(len(frame))
	return nil
}

// pop takes the head frame of the first non-empty stream into dst, scanning
// sources from start. Returns the source, or -1.
func (f *Fabric) pop(queues map[link][][]byte, dst, start int) ([]byte, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < f.hosts; i++ {
		src := (start + i) % f.hosts
		l := link{src: src, dst: dst}
		q := queues[l]
		if len(q) == 0 {
			continue
		}
		frame := q[0]
		if len(q) == 1 {
			delete(queues, l)
		} else {
			queues[l] = q[1:]
		}
		return frame, src
	}
	return nil, -1
}

// BreakerConfig tunes the per-peer circuit breakers of an Endpoint.
type BreakerConfig struct {
	// FailureThreshold consecutive failed sends open the circuit.
	FailureThreshold uint32
	// Cooldown is how long an open circuit refuses sends before probing.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the breaker settings used by the cluster.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 3, Cooldown: 50 * time.Millisecond}
}

// Endpoint is one host's view of the fabric. It implements sim.Network and
// is used only by that host's Delegate goroutine.
type Endpoint struct {
	fabric     *Fabric
	host       int
	breakers   []*gobreaker.CircuitBreaker
	inCursor   int
	doneCursor int
}

var _ sim.Network = (*Endpoint)(nil)

// Endpoint returns the network handle for host.
func (f *Fabric) Endpoint(host int, cfg BreakerConfig) *Endpoint {
	if host < 0 || host >= f.hosts {
		panic(fmt.Sprintf("Endpoint: host %d outside %d-host fabric", host, f.hosts))
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	e := &Endpoint{fabric: f, host: host, breakers: make([]*gobreaker.CircuitBreaker, f.hosts)}
	for peer := range e.breakers {
		threshold := cfg.FailureThreshold
		e.breakers[peer] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        fmt.Sprintf("host%d->host%d", host, peer),
			MaxRequests: 1,
			Timeout:     cfg.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logrus.Infof("[fabric] breaker %s: %s -> %s", name, from, to)
			},
		})
	}
	return e
}

// Host returns the host this endpoint belongs to.
func (e *Endpoint) Host() int { return e.host }

// BreakerState returns the circuit state towards peer.
func (e *Endpoint) BreakerState(peer int) gobreaker.State {
	return e.breakers[peer].State()
}

func (e *Endpoint) send(queues map[link][][]byte, dest int, frame []byte) error {
	if dest < 0 || dest >= len(e.breakers) {
		return fmt.Errorf("host %d: destination %d outside %d-host fabric", e.host, dest, len(e.breakers))
	}
	_, err := e.breakers[dest].Execute(func() (interface{}, error) {
		return nil, e.fabric.push(queues, e.host, dest, frame)
	})
	if err != nil {
		return fmt.Errorf("host %d -> host %d: %w: %w", e.host, dest, err, sim.ErrNetworkUnavailable)
	}
	return nil
}

// SendRequest queues req on the stream to dest.
func (e *Endpoint) SendRequest(dest int, req sim.Request) error {
	if err := e.send(e.fabric.requests, dest, EncodeRequest(req)); err != nil {
		return err
	}
	e.fabric.mu.Lock()
	e.fabric.stats.RequestFrames++
	e.fabric.mu.Unlock()
	return nil
}

// SendResponse queues resp on the stream back to dest.
func (e *Endpoint) SendResponse(dest int, resp sim.Response) error {
	if err := e.send(e.fabric.responses, dest, EncodeResponse(resp)); err != nil {
		return err
	}
	e.fabric.mu.Lock()
	e.fabric.stats.ResponseFrames++
	e.fabric.mu.Unlock()
	return nil
}

// PollInbound returns one request addressed to this host. Sources are
// scanned round-robin so a busy peer cannot hide the others.
func (e *Endpoint) PollInbound() (sim.Envelope, bool, error) {
	frame, src := e.fabric.pop(e.fabric.requests, e.host, e.inCursor)
	if src < 0 {
		return sim.Envelope{}, false, nil
	}
	e.inCursor = (src + 1) % e.fabric.hosts
	req, err := DecodeRequest(frame)
	if err != nil {
		return sim.Envelope{}, false, fmt.Errorf("host %d: frame from host %d: %w: %w", e.host, src, err, sim.ErrProtocol)
	}
	return sim.Envelope{From: src, Request: req}, true, nil
}

// PollCompletions returns one response to a request this host sent.
func (e *Endpoint) PollCompletions() (sim.Response, bool, error) {
	frame, src := e.fabric.pop(e.fabric.responses, e.host, e.doneCursor)
	if src < 0 {
		return sim.Response{}, false, nil
	}
	e.doneCursor = (src + 1) % e.fabric.hosts
	resp, err := DecodeResponse(frame)
	if err != nil {
		return sim.Response{}, false, fmt.Errorf("host %d: frame from host %d: %w: %w", e.host, src, err, sim.ErrProtocol)
	}
	return resp, true, nil
}
