package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/inference-sim/dsm-sim/sim"
	"github.com/inference-sim/dsm-sim/sim/network"
	"github.com/inference-sim/dsm-sim/sim/trace"
	"github.com/inference-sim/dsm-sim/sim/workload"
)

// Config describes the roster and the per-host resources of a cluster.
type Config struct {
	Hosts          []string // roster; a host's id is its index
	OffsetBits     uint     // each host owns 2^OffsetBits words
	ClientsPerHost int
	QueueCapacity  int
	Delegate       sim.DelegateConfig
	Breaker        network.BreakerConfig
	Seed           int64
}

// DefaultConfig returns a two-host cluster with one client each.
func DefaultConfig() Config {
	return Config{
		Hosts:          []string{"host0", "host1"},
		OffsetBits:     10,
		ClientsPerHost: 1,
		QueueCapacity:  64,
		Delegate:       sim.DefaultDelegateConfig(),
		Breaker:        network.DefaultBreakerConfig(),
		Seed:           42,
	}
}

// Validate checks the config before any resource is built.
func (c Config) Validate() error {
	if len(c.Hosts) < 1 {
		return fmt.Errorf("roster must name at least one host")
	}
	seen := make(map[string]bool, len(c.Hosts))
	for i, name := range c.Hosts {
		if name == "" {
			return fmt.Errorf("host %d: empty name", i)
		}
		if seen[name] {
			return fmt.Errorf("host %d: duplicate name %q", i, name)
		}
		seen[name] = true
	}
	if c.OffsetBits == 0 || sim.HostBitsFor(len(c.Hosts))+c.OffsetBits > 63 {
		return fmt.Errorf("offset bits %d do not fit a 63-bit address with %d hosts", c.OffsetBits, len(c.Hosts))
	}
	if c.OffsetBits > 30 {
		return fmt.Errorf("offset bits %d exceed the 30-bit limit of in-process memory", c.OffsetBits)
	}
	if c.ClientsPerHost < 1 {
		return fmt.Errorf("clients per host must be >= 1, got %d", c.ClientsPerHost)
	}
	if c.ClientsPerHost > sim.MaxClientsPerHost {
		return fmt.Errorf("clients per host must be <= %d, got %d", sim.MaxClientsPerHost, c.ClientsPerHost)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue capacity must be >= 1, got %d", c.QueueCapacity)
	}
	if c.Delegate.MaxRetries < 1 {
		return fmt.Errorf("max retries must be >= 1, got %d", c.Delegate.MaxRetries)
	}
	if c.Delegate.RetryInterval < 0 {
		return fmt.Errorf("retry interval must not be negative, got %v", c.Delegate.RetryInterval)
	}
	// a lost reply would otherwise park its thread forever
	if c.Delegate.RemoteTimeout <= 0 {
		return fmt.Errorf("remote timeout must be > 0, got %v", c.Delegate.RemoteTimeout)
	}
	if !trace.IsValidTraceLevel(string(c.Delegate.Trace)) {
		return fmt.Errorf("unknown trace level %q", c.Delegate.Trace)
	}
	return nil
}

// Client is one core of a host: a Scheduler running logical threads, and
// the Correlator tying them to the host's Delegate.
type Client struct {
	Index      int
	Scheduler  *sim.Scheduler
	Correlator *sim.Correlator
	Threads    []*sim.Thread
}

// Host is one roster entry with everything it owns.
type Host struct {
	ID       int
	Name     string
	Store    *sim.MemoryStore
	Delegate *sim.Delegate
	Endpoint *network.Endpoint
	Clients  []*Client
}

// Cluster runs one workload across every host of a roster.
type Cluster struct {
	config  Config
	space   sim.AddressSpace
	fabric  *network.Fabric
	hosts   []*Host
	plan    *workload.Plan
	hasRun  bool
	metrics *sim.Metrics
}

// New builds the hosts, wires them to a shared fabric and spawns the
// workload's threads. Memory is seeded before New returns.
func New(config Config, spec workload.Spec) (*Cluster, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("cluster config: %w", err)
	}
	n := len(config.Hosts)
	space := sim.NewAddressSpace(sim.HostBitsFor(n), config.OffsetBits)
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(config.Seed))
	plan, err := workload.NewPlan(spec, workload.Layout{Space: space, Hosts: n, ClientsPerHost: config.ClientsPerHost}, rng)
	if err != nil {
		return nil, fmt.Errorf("workload: %w", err)
	}

	c := &Cluster{
		config: config,
		space:  space,
		fabric: network.NewFabric(n),
		hosts:  make([]*Host, n),
		plan:   plan,
	}
	stores := make([]*sim.MemoryStore, n)
	for id, name := range config.Hosts {
		store := sim.NewMemoryStore(space.Size())
		ep := c.fabric.Endpoint(id, config.Breaker)
		h := &Host{
			ID:       id,
			Name:     name,
			Store:    store,
			Endpoint: ep,
			Delegate: sim.NewDelegate(sim.NewResolver(space, id, n), store, ep, config.Delegate),
			Clients:  make([]*Client, config.ClientsPerHost),
		}
		for i := range h.Clients {
			requests := sim.NewBoundedChannel[sim.Request](config.QueueCapacity)
			responses := sim.NewBoundedChannel[sim.Response](config.QueueCapacity)
			index := h.Delegate.AttachClient(requests, responses)
			cl := &Client{
				Index:      index,
				Scheduler:  sim.NewScheduler(),
				Correlator: sim.NewCorrelator(index, requests, responses),
			}
			for _, f := range plan.Threads(id, index, cl.Correlator) {
				cl.Threads = append(cl.Threads, cl.Scheduler.Spawn(f))
			}
			h.Clients[i] = cl
		}
		stores[id] = store
		c.hosts[id] = h
	}
	if err := plan.Seed(stores); err != nil {
		return nil, err
	}
	logrus.Infof("cluster: %d hosts x %d clients, %d words per host", n, config.ClientsPerHost, space.Size())
	return c, nil
}

// Hosts returns the hosts in roster order.
func (c *Cluster) Hosts() []*Host { return c.hosts }

// Space returns the global address layout.
func (c *Cluster) Space() sim.AddressSpace { return c.space }

// Fabric returns the network shared by all hosts.
func (c *Cluster) Fabric() *network.Fabric { return c.fabric }

// Plan returns the workload plan.
func (c *Cluster) Plan() *workload.Plan { return c.plan }

// Run executes the workload and returns once every client has finished and
// sent KILL, or on the first fatal error. Each Delegate and each client
// Scheduler runs on its own goroutine. Panics if called more than once.
func (c *Cluster) Run(ctx context.Context) error {
	if c.hasRun {
		panic("Cluster.Run() called more than once")
	}
	c.hasRun = true

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	// Delegates outlive their own clients to keep serving peers, so they get
	// a context of their own that is cancelled once every host has stopped.
	dctx, stopDelegates := context.WithCancel(gctx)
	defer stopDelegates()

	for _, h := range c.hosts {
		h := h
		g.Go(func() error {
			return h.Delegate.Run(dctx)
		})
		for _, cl := range h.Clients {
			cl := cl
			g.Go(func() error {
				if err := cl.Scheduler.Run(gctx); err != nil {
					return fmt.Errorf("host %s client %d: %w", h.Name, cl.Index, err)
				}
				cl.Correlator.Close()
				return nil
			})
		}
	}
	g.Go(func() error {
		for _, h := range c.hosts {
			select {
			case <-h.Delegate.Stopped():
			case <-gctx.Done():
				return nil
			}
		}
		logrus.Infof("cluster: all hosts stopped")
		stopDelegates()
		return nil
	})

	err := g.Wait()
	c.metrics = c.aggregate(time.Since(start))
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Cluster) aggregate(elapsed time.Duration) *sim.Metrics {
	m := sim.NewMetrics()
	m.Hosts = len(c.hosts)
	m.Elapsed = elapsed
	for _, h := range c.hosts {
		dm := h.Delegate.Metrics()
		m.AddDelegate(dm)
		m.CompletedOps += dm.LocalOps + dm.RemoteDone
		for _, cl := range h.Clients {
			m.Cores++
			m.Threads += len(cl.Threads)
			m.FailedThreads += len(cl.Scheduler.Failures())
		}
	}
	return m
}

// AggregatedMetrics returns the run's metrics. Nil before Run returns.
func (c *Cluster) AggregatedMetrics() *sim.Metrics { return c.metrics }

// Traces returns the decision trace of every host, in roster order.
// Entries are nil when tracing is off.
func (c *Cluster) Traces() []*trace.DelegateTrace {
	out := make([]*trace.DelegateTrace, len(c.hosts))
	for i, h := range c.hosts {
		out[i] = h.Delegate.Trace()
	}
	return out
}
