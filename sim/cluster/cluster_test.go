package cluster

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/dsm-sim/sim"
	"github.com/inference-sim/dsm-sim/sim/trace"
	"github.com/inference-sim/dsm-sim/sim/workload"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

func testConfig(hosts int) Config {
	cfg := DefaultConfig()
	cfg.Hosts = make([]string, hosts)
	for i := range cfg.Hosts {
		cfg.Hosts[i] = string(rune('a' + i))
	}
	cfg.OffsetBits = 4
	cfg.QueueCapacity = 8
	cfg.Delegate.RetryInterval = time.Millisecond
	return cfg
}

func runCluster(t *testing.T, cfg Config, spec workload.Spec) *Cluster {
	t.Helper()
	c, err := New(cfg, spec)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))
	return c
}

func TestCluster_FetchIncStormIsAtomic(t *testing.T) {
	// GIVEN 3 hosts x 2 clients x 3 threads, 20 increments each over 3 counters
	cfg := testConfig(3)
	cfg.ClientsPerHost = 2
	spec := workload.Spec{Kind: workload.KindFetchInc, ThreadsPerClient: 3, OpsPerThread: 20, Counters: 3}

	// WHEN the cluster runs to completion
	c := runCluster(t, cfg, spec)

	// THEN no increment was lost or duplicated on any counter
	m := c.AggregatedMetrics()
	require.NotNil(t, m)
	assert.Equal(t, c.Plan().TotalOps(), m.CompletedOps)
	assert.Equal(t, 6, m.Cores)
	assert.Equal(t, 18, m.Threads)
	assert.Equal(t, int64(0), m.Failed)
	assert.Equal(t, 0, m.FailedThreads)
	assert.Positive(t, m.RemoteOps)

	space := c.Space()
	var total int64
	for addr, values := range c.Plan().Observed() {
		for i, v := range values {
			require.Equal(t, int64(i), v, "counter %#x", uint64(addr))
		}
		final, err := c.Hosts()[space.Owner(addr)].Store.Read(space.Offset(addr))
		require.NoError(t, err)
		assert.Equal(t, int64(len(values)), final)
		total += final
	}
	assert.Equal(t, c.Plan().TotalOps(), total)

	for _, h := range c.Hosts() {
		assert.Equal(t, sim.DelegateStopped, h.Delegate.State())
		for _, cl := range h.Clients {
			for _, th := range cl.Threads {
				assert.Equal(t, int64(20), th.Result().Value)
			}
		}
	}
}

func TestCluster_ChaseAcrossHosts(t *testing.T) {
	// GIVEN a pointer chase spanning 2 hosts
	cfg := testConfig(2)
	spec := workload.Spec{Kind: workload.KindChase, ThreadsPerClient: 2, OpsPerThread: 25}

	c := runCluster(t, cfg, spec)

	// THEN every thread lands where the seeded cycle says
	for _, h := range c.Hosts() {
		for _, cl := range h.Clients {
			for i, th := range cl.Threads {
				require.NoError(t, th.Result().Err)
				assert.Equal(t, int64(c.Plan().ChaseEnd(h.ID, cl.Index, i, 25)), th.Result().Value)
			}
		}
	}
}

func TestCluster_TraceRecordsRoutes(t *testing.T) {
	cfg := testConfig(2)
	cfg.Delegate.Trace = trace.TraceLevelDecisions
	spec := workload.Spec{Kind: workload.KindNested, ThreadsPerClient: 2, OpsPerThread: 5, Counters: 2}

	c := runCluster(t, cfg, spec)

	traces := c.Traces()
	require.Len(t, traces, 2)
	s := trace.Summarize(traces...)
	assert.Equal(t, int(c.Plan().TotalOps()), s.LocalRoutes+s.RemoteRoutes)
	assert.Positive(t, s.RemoteRoutes)
	assert.Equal(t, s.RemoteRoutes, s.Served)
}

func TestCluster_UnreachableHostFailsThreadsNotRun(t *testing.T) {
	// GIVEN host b cut off and reads that always go remote
	cfg := testConfig(2)
	cfg.Delegate.MaxRetries = 3
	rf := 1.0
	spec := workload.Spec{Kind: workload.KindRead, ThreadsPerClient: 2, OpsPerThread: 3, RemoteFraction: &rf}
	c, err := New(cfg, spec)
	require.NoError(t, err)
	c.Fabric().SetReachable(1, false)

	// WHEN the cluster runs
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	// THEN every thread failed with a network error instead of hanging
	m := c.AggregatedMetrics()
	assert.Equal(t, 4, m.FailedThreads)
	assert.Equal(t, int64(4), m.Failed)
	for _, h := range c.Hosts() {
		for _, cl := range h.Clients {
			for _, f := range cl.Scheduler.Failures() {
				assert.ErrorIs(t, f.Err, sim.ErrNetworkUnavailable)
			}
		}
	}
}

func TestCluster_RunTwicePanics(t *testing.T) {
	c := runCluster(t, testConfig(1), workload.Spec{Kind: workload.KindRead, ThreadsPerClient: 1, OpsPerThread: 1})
	assert.Panics(t, func() { _ = c.Run(context.Background()) })
}

func TestCluster_CancelledContext(t *testing.T) {
	// GIVEN a long-running workload and an already-cancelled context
	c, err := New(testConfig(2), workload.Spec{Kind: workload.KindRead, ThreadsPerClient: 2, OpsPerThread: 1_000_000})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// WHEN it runs
	err = c.Run(ctx)

	// THEN it returns promptly with the cancellation
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotNil(t, c.AggregatedMetrics())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty roster", func(c *Config) { c.Hosts = nil }},
		{"duplicate host", func(c *Config) { c.Hosts = []string{"a", "a"} }},
		{"empty name", func(c *Config) { c.Hosts = []string{"a", ""} }},
		{"zero offset bits", func(c *Config) { c.OffsetBits = 0 }},
		{"huge offset bits", func(c *Config) { c.OffsetBits = 40 }},
		{"no clients", func(c *Config) { c.ClientsPerHost = 0 }},
		{"no queue", func(c *Config) { c.QueueCapacity = 0 }},
		{"no retries", func(c *Config) { c.Delegate.MaxRetries = 0 }},
		{"too many clients", func(c *Config) { c.ClientsPerHost = sim.MaxClientsPerHost + 1 }},
		{"negative retry interval", func(c *Config) { c.Delegate.RetryInterval = -time.Millisecond }},
		{"negative timeout", func(c *Config) { c.Delegate.RemoteTimeout = -time.Second }},
		{"timeout disabled", func(c *Config) { c.Delegate.RemoteTimeout = 0 }},
		{"bad trace", func(c *Config) { c.Delegate.Trace = "everything" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
			_, err := New(cfg, workload.DefaultSpec())
			assert.Error(t, err)
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestNew_InvalidWorkload(t *testing.T) {
	_, err := New(DefaultConfig(), workload.Spec{Kind: "scan"})
	assert.Error(t, err)
}
