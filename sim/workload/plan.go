package workload

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/dsm-sim/sim"
)

// Layout describes the cluster a Plan generates threads for.
type Layout struct {
	Space          sim.AddressSpace
	Hosts          int // hosts in the roster, at most Space.Hosts()
	ClientsPerHost int
}

// Words returns the number of addressable words across the roster.
func (l Layout) Words() uint64 {
	return uint64(l.Hosts) * l.Space.Size()
}

// Address maps a global word index onto the roster, host-major.
func (l Layout) Address(index uint64) sim.Address {
	size := l.Space.Size()
	return l.Space.Compose(int(index/size), index%size)
}

// Plan builds thread programs for one workload on one Layout. Programs of
// different clients run on different goroutines; the observation log is the
// only state they share.
type Plan struct {
	spec   Spec
	layout Layout
	rng    *sim.PartitionedRNG

	counters []sim.Address
	cycle    []uint64 // chase only: global word indices in cycle order

	mu       sync.Mutex
	observed map[sim.Address][]int64
}

// NewPlan validates spec against layout and prepares the shared addresses.
func NewPlan(spec Spec, layout Layout, rng *sim.PartitionedRNG) (*Plan, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if layout.Hosts < 1 || layout.Hosts > layout.Space.Hosts() {
		return nil, fmt.Errorf("layout: %d hosts do not fit a %d-bit host selector", layout.Hosts, layout.Space.HostBits())
	}
	if layout.ClientsPerHost < 1 {
		return nil, fmt.Errorf("layout: clients per host must be >= 1, got %d", layout.ClientsPerHost)
	}
	p := &Plan{
		spec:     spec,
		layout:   layout,
		rng:      rng,
		observed: make(map[sim.Address][]int64),
	}
	switch spec.Kind {
	case KindFetchInc, KindNested:
		if uint64(spec.Counters) > layout.Words() {
			return nil, fmt.Errorf("%d counters exceed %d addressable words", spec.Counters, layout.Words())
		}
		p.counters = make([]sim.Address, spec.Counters)
		for i := range p.counters {
			// counter i lives on host i mod H so the storm crosses hosts
			host := i % layout.Hosts
			p.counters[i] = layout.Space.Compose(host, uint64(i/layout.Hosts))
		}
	case KindChase:
		if uint64(p.TotalThreads()) > layout.Words() {
			return nil, fmt.Errorf("%d threads exceed %d words in the chase cycle", p.TotalThreads(), layout.Words())
		}
		perm := rng.ForSubsystem(sim.SubsystemMemory).Perm(int(layout.Words()))
		p.cycle = make([]uint64, len(perm))
		for i, g := range perm {
			p.cycle[i] = uint64(g)
		}
	}
	logrus.Infof("workload %s: %d threads x %d ops over %d hosts", spec.Kind, p.TotalThreads(), spec.OpsPerThread, layout.Hosts)
	return p, nil
}

// Spec returns the workload spec.
func (p *Plan) Spec() Spec { return p.spec }

// TotalThreads returns the number of threads across the cluster.
func (p *Plan) TotalThreads() int {
	return p.layout.Hosts * p.layout.ClientsPerHost * p.spec.ThreadsPerClient
}

// TotalOps returns the number of memory operations the workload issues.
func (p *Plan) TotalOps() int64 {
	return int64(p.TotalThreads()) * int64(p.spec.OpsPerThread)
}

// Counters returns the shared counter addresses of a fetch-inc or nested plan.
func (p *Plan) Counters() []sim.Address {
	return append([]sim.Address(nil), p.counters...)
}

// Seed writes the initial memory image. stores is indexed by host.
// Only the chase workload has a non-zero image: each word holds the global
// address of its successor in the cycle.
func (p *Plan) Seed(stores []*sim.MemoryStore) error {
	if len(stores) != p.layout.Hosts {
		return fmt.Errorf("seed: %d stores for %d hosts", len(stores), p.layout.Hosts)
	}
	if p.spec.Kind != KindChase {
		return nil
	}
	size := p.layout.Space.Size()
	for i, g := range p.cycle {
		next := p.layout.Address(p.cycle[(i+1)%len(p.cycle)])
		if err := stores[g/size].Write(g%size, int64(next)); err != nil {
			return fmt.Errorf("seed: word %d: %w", g, err)
		}
	}
	return nil
}

// globalThread numbers threads host-major, then client, then thread.
func (p *Plan) globalThread(host, client, thread int) int {
	return (host*p.layout.ClientsPerHost+client)*p.spec.ThreadsPerClient + thread
}

// ChaseStart returns the address the given thread starts its chase from.
// Threads start at evenly spaced points of the cycle so their sections do
// not overlap until they have walked len(cycle)/threads steps.
func (p *Plan) ChaseStart(host, client, thread int) sim.Address {
	k := p.globalThread(host, client, thread)
	return p.layout.Address(p.cycle[k*len(p.cycle)/p.TotalThreads()])
}

// ChaseEnd returns where a chase of n steps from the given thread's start
// ends up.
func (p *Plan) ChaseEnd(host, client, thread, n int) sim.Address {
	k := p.globalThread(host, client, thread)
	pos := k * len(p.cycle) / p.TotalThreads()
	return p.layout.Address(p.cycle[(pos+n)%len(p.cycle)])
}

// Threads returns the top-level frames for every thread of one client.
func (p *Plan) Threads(host, client int, c *sim.Correlator) []sim.Frame {
	frames := make([]sim.Frame, p.spec.ThreadsPerClient)
	for i := range frames {
		switch p.spec.Kind {
		case KindFetchInc:
			frames[i] = p.fetchIncThread(p.globalThread(host, client, i), c)
		case KindRead:
			frames[i] = p.readThread(host, client, i, c)
		case KindChase:
			frames[i] = p.chaseThread(host, client, i, c)
		case KindNested:
			frames[i] = p.nestedThread(p.globalThread(host, client, i), c)
		default:
			panic(fmt.Sprintf("Threads: unhandled kind %q", p.spec.Kind))
		}
	}
	return frames
}

func (p *Plan) observe(addr sim.Address, v int64) {
	p.mu.Lock()
	p.observed[addr] = append(p.observed[addr], v)
	p.mu.Unlock()
}

// Observed returns, per counter, the sorted values returned by its FETCH_INCs.
func (p *Plan) Observed() map[sim.Address][]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[sim.Address][]int64, len(p.observed))
	for addr, vs := range p.observed {
		sorted := append([]int64(nil), vs...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		out[addr] = sorted
	}
	return out
}
