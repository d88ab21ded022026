package workload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/dsm-sim/sim"
	"github.com/inference-sim/dsm-sim/sim/internal/testutil"
	"github.com/inference-sim/dsm-sim/sim/network"
)

func newRNG() *sim.PartitionedRNG {
	return sim.NewPartitionedRNG(sim.NewSimulationKey(7))
}

// runLocal runs every thread of spec on a single host, stepping the
// Scheduler and the Delegate alternately on the test goroutine.
func runLocal(t *testing.T, spec Spec, offsetBits uint) (*Plan, []*sim.Thread, *sim.MemoryStore) {
	t.Helper()
	space := sim.NewAddressSpace(0, offsetBits)
	plan, err := NewPlan(spec, Layout{Space: space, Hosts: 1, ClientsPerHost: 1}, newRNG())
	require.NoError(t, err)
	store := sim.NewMemoryStore(space.Size())
	require.NoError(t, plan.Seed([]*sim.MemoryStore{store}))

	ep := network.NewFabric(1).Endpoint(0, network.DefaultBreakerConfig())
	requests := sim.NewBoundedChannel[sim.Request](8)
	responses := sim.NewBoundedChannel[sim.Response](8)
	d := sim.NewDelegate(sim.NewResolver(space, 0, 1), store, ep, sim.DefaultDelegateConfig())
	client := d.AttachClient(requests, responses)
	c := sim.NewCorrelator(client, requests, responses)
	s := sim.NewScheduler()
	var threads []*sim.Thread
	for _, f := range plan.Threads(0, client, c) {
		threads = append(threads, s.Spawn(f))
	}

	testutil.StepUntil(t, 100000, func() error {
		if _, err := s.Turn(); err != nil {
			return err
		}
		_, err := d.Step()
		return err
	}, func() bool { return s.Len() == 0 })
	require.Empty(t, s.Failures())
	return plan, threads, store
}

func assertContiguous(t *testing.T, observed map[sim.Address][]int64) {
	t.Helper()
	for addr, values := range observed {
		for i, v := range values {
			assert.Equal(t, int64(i), v, "counter %#x position %d", uint64(addr), i)
		}
	}
}

func TestNewPlan_CountersSpreadAcrossHosts(t *testing.T) {
	// GIVEN 2 hosts and 4 counters
	spec := DefaultSpec()
	spec.Counters = 4
	space := sim.NewAddressSpace(1, 3)

	plan, err := NewPlan(spec, Layout{Space: space, Hosts: 2, ClientsPerHost: 1}, newRNG())

	// THEN counters alternate hosts and fill offsets from 0
	require.NoError(t, err)
	assert.Equal(t, []sim.Address{
		space.Compose(0, 0), space.Compose(1, 0), space.Compose(0, 1), space.Compose(1, 1),
	}, plan.Counters())
	assert.Equal(t, 8, plan.TotalThreads())
	assert.Equal(t, int64(800), plan.TotalOps())
}

func TestNewPlan_RejectsBadLayout(t *testing.T) {
	space := sim.NewAddressSpace(1, 2)
	_, err := NewPlan(DefaultSpec(), Layout{Space: space, Hosts: 3, ClientsPerHost: 1}, newRNG())
	assert.Error(t, err)

	_, err = NewPlan(DefaultSpec(), Layout{Space: space, Hosts: 2, ClientsPerHost: 0}, newRNG())
	assert.Error(t, err)

	spec := DefaultSpec()
	spec.Counters = 9
	_, err = NewPlan(spec, Layout{Space: space, Hosts: 2, ClientsPerHost: 1}, newRNG())
	assert.Error(t, err)
}

func TestSeed_ChaseIsSingleCycle(t *testing.T) {
	// GIVEN a chase plan over 2 hosts of 8 words
	spec := DefaultSpec()
	spec.Kind = KindChase
	spec.ThreadsPerClient = 2
	space := sim.NewAddressSpace(1, 3)
	layout := Layout{Space: space, Hosts: 2, ClientsPerHost: 1}
	plan, err := NewPlan(spec, layout, newRNG())
	require.NoError(t, err)
	stores := []*sim.MemoryStore{sim.NewMemoryStore(8), sim.NewMemoryStore(8)}

	// WHEN memory is seeded
	require.NoError(t, plan.Seed(stores))

	// THEN following pointers from any word visits all 16 words before returning
	start := layout.Address(0)
	at := start
	seen := make(map[sim.Address]bool)
	for i := 0; i < 16; i++ {
		require.False(t, seen[at], "word %#x visited twice", uint64(at))
		seen[at] = true
		v, err := stores[space.Owner(at)].Read(space.Offset(at))
		require.NoError(t, err)
		at = sim.Address(v)
	}
	assert.Equal(t, start, at)
	assert.Len(t, seen, 16)
}

func TestSeed_WrongStoreCount(t *testing.T) {
	plan, err := NewPlan(DefaultSpec(), Layout{Space: sim.NewAddressSpace(1, 3), Hosts: 2, ClientsPerHost: 1}, newRNG())
	require.NoError(t, err)
	assert.Error(t, plan.Seed([]*sim.MemoryStore{sim.NewMemoryStore(8)}))
}

func TestSeed_SameSeedSameCycle(t *testing.T) {
	spec := DefaultSpec()
	spec.Kind = KindChase
	layout := Layout{Space: sim.NewAddressSpace(0, 5), Hosts: 1, ClientsPerHost: 1}
	a, err := NewPlan(spec, layout, newRNG())
	require.NoError(t, err)
	b, err := NewPlan(spec, layout, newRNG())
	require.NoError(t, err)
	assert.Equal(t, a.ChaseStart(0, 0, 1), b.ChaseStart(0, 0, 1))
	assert.Equal(t, a.ChaseEnd(0, 0, 3, 9), b.ChaseEnd(0, 0, 3, 9))
}
