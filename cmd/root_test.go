package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/dsm-sim/sim/cluster"
	"github.com/inference-sim/dsm-sim/sim/workload"
)

// resetFlags restores every run flag to its default and clears Changed.
func resetFlags(t *testing.T) {
	t.Helper()
	runCmd.Flags().VisitAll(func(f *pflag.Flag) {
		require.NoError(t, f.Value.Set(f.DefValue))
		f.Changed = false
	})
}

func TestResolveConfig_FlagsOverrideFile(t *testing.T) {
	resetFlags(t)
	t.Cleanup(func() { resetFlags(t) })

	// GIVEN a config file with 3 hosts and a chase workload
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))
	require.NoError(t, runCmd.Flags().Set("config", path))

	// AND flags overriding the host count and ops
	require.NoError(t, runCmd.Flags().Set("hosts", "4"))
	require.NoError(t, runCmd.Flags().Set("ops", "7"))

	// WHEN the configuration is resolved
	cfg, spec, err := resolveConfig(runCmd)

	// THEN explicit flags win, file values fill the rest
	require.NoError(t, err)
	assert.Equal(t, []string{"host0", "host1", "host2", "host3"}, cfg.Hosts)
	assert.Equal(t, uint(6), cfg.OffsetBits)
	assert.Equal(t, 7, spec.OpsPerThread)
	assert.Equal(t, workload.KindChase, spec.Kind)
}

func TestResolveConfig_DefaultsWhenNothingSet(t *testing.T) {
	resetFlags(t)

	cfg, spec, err := resolveConfig(runCmd)

	require.NoError(t, err)
	assert.Equal(t, cluster.DefaultConfig(), cfg)
	assert.Equal(t, workload.DefaultSpec(), spec)
}

func TestResolveConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		flag, value string
	}{
		{"trace", "loud"},
		{"kind", "scan"},
		{"clients", "0"},
		{"max-retries", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			resetFlags(t)
			t.Cleanup(func() { resetFlags(t) })
			require.NoError(t, runCmd.Flags().Set(tt.flag, tt.value))

			_, _, err := resolveConfig(runCmd)

			assert.Error(t, err)
		})
	}
}

func TestRunExperiment_HarnessProtocol(t *testing.T) {
	// GIVEN a small fetch-inc experiment on 2 hosts
	cfg := cluster.DefaultConfig()
	cfg.OffsetBits = 4
	spec := workload.Spec{Kind: workload.KindFetchInc, ThreadsPerClient: 2, OpsPerThread: 10, Counters: 2}
	var out, diag bytes.Buffer

	// WHEN it runs
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, runExperiment(ctx, cfg, spec, &out, &diag))

	// THEN stdout is exactly the sentinels followed by one record
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "reqb", lines[0])
	assert.Equal(t, "reqe", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "{'ncores': 2, 'latency': "), lines[2])
	assert.Contains(t, lines[2], "'ops': 40")
	assert.Contains(t, lines[2], "'failed': 0}")
}

func TestRunExperiment_SummaryGoesToDiagnostics(t *testing.T) {
	summary = true
	t.Cleanup(func() { summary = false })
	cfg := cluster.DefaultConfig()
	cfg.OffsetBits = 4
	cfg.Delegate.Trace = "decisions"
	spec := workload.Spec{Kind: workload.KindRead, ThreadsPerClient: 1, OpsPerThread: 5}
	var out, diag bytes.Buffer

	require.NoError(t, runExperiment(context.Background(), cfg, spec, &out, &diag))

	assert.Contains(t, diag.String(), "=== Simulation Metrics ===")
	assert.Contains(t, diag.String(), "=== Delegate Trace Summary ===")
	assert.NotContains(t, out.String(), "Simulation Metrics")
}

func TestRunExperiment_InvalidConfigPrintsNothing(t *testing.T) {
	cfg := cluster.DefaultConfig()
	cfg.Hosts = nil
	var out, diag bytes.Buffer

	err := runExperiment(context.Background(), cfg, workload.DefaultSpec(), &out, &diag)

	assert.Error(t, err)
	assert.Empty(t, out.String())
}
