package sim

import (
	"math"
	"math/rand"
	"testing"
)

func TestSimulationKey_Creation(t *testing.T) {
	tests := []struct {
		name string
		seed int64
	}{
		{"positive seed", 42},
		{"zero seed", 0},
		{"negative seed", -1},
		{"max int64", math.MaxInt64},
		{"min int64", math.MinInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := NewSimulationKey(tt.seed)
			if int64(key) != tt.seed {
				t.Errorf("NewSimulationKey(%d) = %d, want %d", tt.seed, key, tt.seed)
			}
		})
	}
}

func TestPartitionedRNG_DeterministicDerivation(t *testing.T) {
	// GIVEN two RNGs built from the same key
	rng1 := NewPartitionedRNG(NewSimulationKey(42))
	rng2 := NewPartitionedRNG(NewSimulationKey(42))
	name := SubsystemThread(1, 0, 3)

	// WHEN the same subsystem is drawn from both
	// THEN the sequences are identical
	for i := 0; i < 5; i++ {
		a, b := rng1.ForSubsystem(name).Int63(), rng2.ForSubsystem(name).Int63()
		if a != b {
			t.Errorf("value %d: got %v and %v, want identical", i, a, b)
		}
	}
}

func TestPartitionedRNG_ThreadStreamsIsolated(t *testing.T) {
	// GIVEN two RNGs from the same key
	rngA := NewPartitionedRNG(NewSimulationKey(42))
	rngB := NewPartitionedRNG(NewSimulationKey(42))

	// WHEN A draws heavily from thread 0 before touching thread 1
	for i := 0; i < 10; i++ {
		rngA.ForSubsystem(SubsystemThread(0, 0, 0)).Int63()
	}

	// THEN thread 1's first value is unaffected
	if got, want := rngA.ForSubsystem(SubsystemThread(0, 0, 1)).Int63(), rngB.ForSubsystem(SubsystemThread(0, 0, 1)).Int63(); got != want {
		t.Errorf("thread 1 first value = %v, want %v (isolation broken)", got, want)
	}
}

func TestPartitionedRNG_WorkloadUsesMasterSeed(t *testing.T) {
	seed := int64(42)
	workloadRNG := NewPartitionedRNG(NewSimulationKey(seed)).ForSubsystem(SubsystemWorkload)
	directRNG := rand.New(rand.NewSource(seed))

	for i := 0; i < 10; i++ {
		if got, want := workloadRNG.Float64(), directRNG.Float64(); got != want {
			t.Errorf("value %d: workload RNG = %v, direct RNG = %v", i, got, want)
		}
	}
}

func TestPartitionedRNG_MemoryDiffersFromWorkload(t *testing.T) {
	rng := NewPartitionedRNG(NewSimulationKey(42))
	if rng.ForSubsystem(SubsystemMemory).Int63() == rng.ForSubsystem(SubsystemWorkload).Int63() {
		t.Error("memory and workload subsystems produced the same first value")
	}
}

func TestPartitionedRNG_CachesInstance(t *testing.T) {
	rng := NewPartitionedRNG(NewSimulationKey(42))
	if rng.ForSubsystem(SubsystemMemory) != rng.ForSubsystem(SubsystemMemory) {
		t.Error("ForSubsystem returned different instances for same name")
	}
	if len(rng.subsystems) != 1 {
		t.Errorf("have %d subsystems, want 1", len(rng.subsystems))
	}
	if rng.Key() != SimulationKey(42) {
		t.Errorf("Key() = %v, want 42", rng.Key())
	}
}

func TestFnv1a64_NoCollisionsAcrossThreads(t *testing.T) {
	hashes := make(map[int64]string)
	names := []string{SubsystemWorkload, SubsystemMemory}
	for h := 0; h < 4; h++ {
		for c := 0; c < 4; c++ {
			for th := 0; th < 4; th++ {
				names = append(names, SubsystemThread(h, c, th))
			}
		}
	}
	for _, name := range names {
		h := fnv1a64(name)
		if existing, ok := hashes[h]; ok {
			t.Errorf("hash collision: %q and %q both hash to %d", name, existing, h)
		}
		hashes[h] = name
	}
}

func TestSubsystemThread(t *testing.T) {
	if got := SubsystemThread(2, 1, 7); got != "thread_2_1_7" {
		t.Errorf("SubsystemThread(2, 1, 7) = %q, want thread_2_1_7", got)
	}
}

func BenchmarkPartitionedRNG_ForSubsystem_CacheHit(b *testing.B) {
	rng := NewPartitionedRNG(NewSimulationKey(42))
	rng.ForSubsystem(SubsystemWorkload)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rng.ForSubsystem(SubsystemWorkload)
	}
}
