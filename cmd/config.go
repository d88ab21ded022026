package cmd

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/dsm-sim/sim/cluster"
	"github.com/inference-sim/dsm-sim/sim/trace"
	"github.com/inference-sim/dsm-sim/sim/workload"
)

// FileConfig is the YAML layout of --config. Zero-valued fields leave the
// built-in defaults in place.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type FileConfig struct {
	Version          string        `yaml:"version"`
	Hosts            []string      `yaml:"hosts"`
	OffsetBits       uint          `yaml:"offset_bits"`
	ClientsPerHost   int           `yaml:"clients_per_host"`
	QueueCapacity    int           `yaml:"queue_capacity"`
	Seed             *int64        `yaml:"seed"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryInterval    time.Duration `yaml:"retry_interval"`
	RemoteTimeout    time.Duration `yaml:"remote_timeout"`
	BreakerThreshold uint32        `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
	Trace            string        `yaml:"trace"`
	Workload         yaml.Node     `yaml:"workload"`

	workload *workload.Spec
}

// loadConfig reads a cluster config file with strict field checking.
func loadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*FileConfig, error) {
	var fc FileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&fc); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if fc.Trace != "" && !trace.IsValidTraceLevel(fc.Trace) {
		return nil, fmt.Errorf("parsing config: unknown trace level %q", fc.Trace)
	}
	if !fc.Workload.IsZero() {
		// re-encode so the section gets the workload defaults and strict checks
		raw, err := yaml.Marshal(&fc.Workload)
		if err != nil {
			return nil, fmt.Errorf("parsing config: workload: %w", err)
		}
		spec, err := workload.ParseSpec(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
		fc.workload = spec
	}
	return &fc, nil
}

// apply overlays the non-zero fields of fc onto cfg and spec.
func (fc *FileConfig) apply(cfg *cluster.Config, spec *workload.Spec) {
	if len(fc.Hosts) > 0 {
		cfg.Hosts = append([]string(nil), fc.Hosts...)
	}
	if fc.OffsetBits != 0 {
		cfg.OffsetBits = fc.OffsetBits
	}
	if fc.ClientsPerHost != 0 {
		cfg.ClientsPerHost = fc.ClientsPerHost
	}
	if fc.QueueCapacity != 0 {
		cfg.QueueCapacity = fc.QueueCapacity
	}
	if fc.Seed != nil {
		cfg.Seed = *fc.Seed
	}
	if fc.MaxRetries != 0 {
		cfg.Delegate.MaxRetries = fc.MaxRetries
	}
	if fc.RetryInterval != 0 {
		cfg.Delegate.RetryInterval = fc.RetryInterval
	}
	if fc.RemoteTimeout != 0 {
		cfg.Delegate.RemoteTimeout = fc.RemoteTimeout
	}
	if fc.BreakerThreshold != 0 {
		cfg.Breaker.FailureThreshold = fc.BreakerThreshold
	}
	if fc.BreakerCooldown != 0 {
		cfg.Breaker.Cooldown = fc.BreakerCooldown
	}
	if fc.Trace != "" {
		cfg.Delegate.Trace = trace.TraceLevel(fc.Trace)
	}
	if fc.workload != nil {
		*spec = *fc.workload
	}
}

// hostNames returns the default roster of n hosts.
func hostNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("host%d", i)
	}
	return names
}
