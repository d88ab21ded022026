package workload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/dsm-sim/sim"
)

func TestFetchIncThreads_CountersStayContiguous(t *testing.T) {
	// GIVEN 3 threads doing 4 increments each over 2 counters
	spec := Spec{Kind: KindFetchInc, ThreadsPerClient: 3, OpsPerThread: 4, Counters: 2}

	// WHEN they run to completion
	plan, threads, store := runLocal(t, spec, 3)

	// THEN each thread reports its ops, each counter saw 0..n-1, and memory agrees
	for _, th := range threads {
		assert.Equal(t, int64(4), th.Result().Value)
	}
	observed := plan.Observed()
	assertContiguous(t, observed)
	total := 0
	for _, addr := range plan.Counters() {
		v, err := store.Read(uint64(addr))
		require.NoError(t, err)
		assert.Equal(t, int64(len(observed[addr])), v)
		total += len(observed[addr])
	}
	assert.Equal(t, 12, total)
}

func TestNestedThreads_PropagateThroughCallChain(t *testing.T) {
	spec := Spec{Kind: KindNested, ThreadsPerClient: 2, OpsPerThread: 3, Counters: 1}

	plan, threads, store := runLocal(t, spec, 2)

	for _, th := range threads {
		assert.True(t, th.Done())
		assert.Equal(t, int64(3), th.Result().Value)
	}
	assertContiguous(t, plan.Observed())
	v, err := store.Read(0)
	require.NoError(t, err)
	assert.Equal(t, int64(6), v)
}

func TestChaseThreads_EndWhereTheCycleSays(t *testing.T) {
	// GIVEN 2 threads chasing 5 steps through a 16-word cycle
	spec := Spec{Kind: KindChase, ThreadsPerClient: 2, OpsPerThread: 5}

	plan, threads, _ := runLocal(t, spec, 4)

	// THEN each ends at the address 5 steps past its start
	for i, th := range threads {
		assert.Equal(t, int64(plan.ChaseEnd(0, 0, i, 5)), th.Result().Value)
	}
	assert.NotEqual(t, plan.ChaseStart(0, 0, 0), plan.ChaseStart(0, 0, 1))
}

func TestReadThreads_SumStoredValues(t *testing.T) {
	// GIVEN reads over zeroed memory
	spec := Spec{Kind: KindRead, ThreadsPerClient: 2, OpsPerThread: 10}

	_, threads, _ := runLocal(t, spec, 3)

	for _, th := range threads {
		assert.Equal(t, int64(0), th.Result().Value)
	}
}

func TestReadThreads_RemoteFractionSteersOwner(t *testing.T) {
	tests := []struct {
		name   string
		rf     float64
		remote bool
	}{
		{"all local", 0, false},
		{"all remote", 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN host 1 of 4 running read threads
			rf := tt.rf
			spec := Spec{Kind: KindRead, ThreadsPerClient: 4, OpsPerThread: 1, RemoteFraction: &rf}
			space := sim.NewAddressSpace(2, 3)
			plan, err := NewPlan(spec, Layout{Space: space, Hosts: 4, ClientsPerHost: 1}, newRNG())
			require.NoError(t, err)
			requests := sim.NewBoundedChannel[sim.Request](8)
			c := sim.NewCorrelator(0, requests, sim.NewBoundedChannel[sim.Response](8))
			s := sim.NewScheduler()
			for _, f := range plan.Threads(1, 0, c) {
				s.Spawn(f)
			}

			// WHEN each thread issues its first read
			for i := 0; i < 4; i++ {
				_, err := s.Turn()
				require.NoError(t, err)
			}

			// THEN the owner is host 1 exactly when no remote reads were asked for
			require.Equal(t, 4, requests.Len())
			for requests.HasData() {
				owner := space.Owner(requests.Get().Address)
				assert.Less(t, owner, 4)
				assert.Equal(t, tt.remote, owner != 1)
			}
		})
	}
}

func TestThreads_ZeroOpsReturnImmediately(t *testing.T) {
	spec := Spec{Kind: KindFetchInc, ThreadsPerClient: 2, OpsPerThread: 0, Counters: 1}

	_, threads, _ := runLocal(t, spec, 2)

	for _, th := range threads {
		assert.True(t, th.Done())
		assert.Equal(t, int64(0), th.Result().Value)
	}
}
