package workload

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Kind names a thread program.
type Kind string

const (
	// KindFetchInc hammers a small set of shared counters with FETCH_INC.
	KindFetchInc Kind = "fetch-inc"
	// KindRead issues uniformly random READs.
	KindRead Kind = "read"
	// KindChase follows a pointer chain laid out as one random cycle.
	KindChase Kind = "chase"
	// KindNested increments counters through a three-level call chain.
	KindNested Kind = "nested"
)

var validKinds = map[Kind]bool{
	KindFetchInc: true,
	KindRead:     true,
	KindChase:    true,
	KindNested:   true,
}

// Spec is the workload configuration.
// Loaded from YAML via LoadSpec(path).
type Spec struct {
	Version string `yaml:"version"`
	Kind    Kind   `yaml:"kind"`
	// ThreadsPerClient logical threads are spawned on every client.
	ThreadsPerClient int `yaml:"threads_per_client"`
	// OpsPerThread memory operations are issued by each thread.
	OpsPerThread int `yaml:"ops_per_thread"`
	// Counters is the number of shared counters for fetch-inc and nested,
	// spread round-robin over the hosts.
	Counters int `yaml:"counters,omitempty"`
	// RemoteFraction is the probability that a read targets another host.
	// Nil means uniform over all hosts.
	RemoteFraction *float64 `yaml:"remote_fraction,omitempty"`
}

// DefaultSpec returns the fetch-inc storm used when no spec file is given.
func DefaultSpec() Spec {
	return Spec{
		Version:          "1",
		Kind:             KindFetchInc,
		ThreadsPerClient: 4,
		OpsPerThread:     100,
		Counters:         4,
	}
}

// LoadSpec reads and parses a YAML workload spec. Unknown keys are rejected.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workload spec: %w", err)
	}
	return ParseSpec(data)
}

// ParseSpec parses a YAML workload spec from data. Fields absent from data
// keep their DefaultSpec values.
func ParseSpec(data []byte) (*Spec, error) {
	spec := DefaultSpec()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parsing workload spec: %w", err)
	}
	if spec.Version == "" {
		spec.Version = "1"
	}
	if spec.Version != "1" {
		logrus.Warnf("workload spec version %q is not known; reading it as version 1", spec.Version)
		spec.Version = "1"
	}
	return &spec, nil
}

// Validate checks that all fields in the spec are valid.
func (s *Spec) Validate() error {
	if !validKinds[s.Kind] {
		return fmt.Errorf("unknown kind %q; valid: fetch-inc, read, chase, nested", s.Kind)
	}
	if s.ThreadsPerClient < 1 {
		return fmt.Errorf("threads_per_client must be >= 1, got %d", s.ThreadsPerClient)
	}
	if s.OpsPerThread < 0 {
		return fmt.Errorf("ops_per_thread must be >= 0, got %d", s.OpsPerThread)
	}
	if (s.Kind == KindFetchInc || s.Kind == KindNested) && s.Counters < 1 {
		return fmt.Errorf("counters must be >= 1 for %q, got %d", s.Kind, s.Counters)
	}
	if s.RemoteFraction != nil {
		rf := *s.RemoteFraction
		if math.IsNaN(rf) || rf < 0 || rf > 1 {
			return fmt.Errorf("remote_fraction must be in [0, 1], got %f", rf)
		}
	}
	return nil
}
