package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/dsm-sim/sim"
	"github.com/inference-sim/dsm-sim/sim/cluster"
	"github.com/inference-sim/dsm-sim/sim/trace"
	"github.com/inference-sim/dsm-sim/sim/workload"
)

var (
	configPath string // Optional YAML cluster config
	specPath   string // Optional YAML workload spec
	logLevel   string // Log verbosity level
	seed       int64  // Seed for workload generation
	timeout    time.Duration

	// cluster shape
	numHosts       int
	offsetBits     uint
	clientsPerHost int
	queueCapacity  int

	// delegate bounds
	maxRetries    int
	retryInterval time.Duration
	remoteTimeout time.Duration
	traceLevel    string
	summary       bool

	// workload overrides
	kind             string
	threadsPerClient int
	opsPerThread     int
	counters         int
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "dsm-sim",
	Short: "Simulated distributed shared memory runtime",
}

// runCmd executes one experiment using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a workload across a simulated cluster",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg, spec, err := resolveConfig(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		if err := runExperiment(ctx, cfg, spec, os.Stdout, os.Stderr); err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// resolveConfig layers built-in defaults, the optional config and workload
// files, then every flag the user set explicitly.
func resolveConfig(cmd *cobra.Command) (cluster.Config, workload.Spec, error) {
	cfg := cluster.DefaultConfig()
	spec := workload.DefaultSpec()
	if configPath != "" {
		fc, err := loadConfig(configPath)
		if err != nil {
			return cfg, spec, err
		}
		fc.apply(&cfg, &spec)
	}
	if specPath != "" {
		s, err := workload.LoadSpec(specPath)
		if err != nil {
			return cfg, spec, err
		}
		spec = *s
	}

	flags := cmd.Flags()
	if flags.Changed("hosts") {
		cfg.Hosts = hostNames(numHosts)
	}
	if flags.Changed("offset-bits") {
		cfg.OffsetBits = offsetBits
	}
	if flags.Changed("clients") {
		cfg.ClientsPerHost = clientsPerHost
	}
	if flags.Changed("queue-capacity") {
		cfg.QueueCapacity = queueCapacity
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("max-retries") {
		cfg.Delegate.MaxRetries = maxRetries
	}
	if flags.Changed("retry-interval") {
		cfg.Delegate.RetryInterval = retryInterval
	}
	if flags.Changed("remote-timeout") {
		cfg.Delegate.RemoteTimeout = remoteTimeout
	}
	if flags.Changed("trace") {
		if !trace.IsValidTraceLevel(traceLevel) {
			return cfg, spec, fmt.Errorf("unknown trace level %q; valid: none, decisions", traceLevel)
		}
		cfg.Delegate.Trace = trace.TraceLevel(traceLevel)
	}
	if flags.Changed("kind") {
		spec.Kind = workload.Kind(kind)
	}
	if flags.Changed("threads") {
		spec.ThreadsPerClient = threadsPerClient
	}
	if flags.Changed("ops") {
		spec.OpsPerThread = opsPerThread
	}
	if flags.Changed("counters") {
		spec.Counters = counters
	}
	if err := cfg.Validate(); err != nil {
		return cfg, spec, err
	}
	return cfg, spec, spec.Validate()
}

// runExperiment brackets one cluster run with the harness sentinels and
// writes the result record to out. Diagnostics go to diag.
func runExperiment(ctx context.Context, cfg cluster.Config, spec workload.Spec, out, diag io.Writer) error {
	logrus.Infof("Starting %s workload on %d hosts x %d clients, offset bits=%d, seed=%d",
		spec.Kind, len(cfg.Hosts), cfg.ClientsPerHost, cfg.OffsetBits, cfg.Seed)

	c, err := cluster.New(cfg, spec)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, sim.ExperimentBegin)
	runErr := c.Run(ctx)
	fmt.Fprintln(out, sim.ExperimentEnd)
	if runErr != nil {
		return runErr
	}

	m := c.AggregatedMetrics()
	fmt.Fprintln(out, m.Record())
	if summary {
		m.Print(diag)
		if cfg.Delegate.Trace.Enabled() {
			printTraceSummary(diag, trace.Summarize(c.Traces()...))
		}
	}
	checkCounters(c)
	return nil
}

// checkCounters warns when a counter workload lost or duplicated increments.
func checkCounters(c *cluster.Cluster) {
	spec := c.Plan().Spec()
	if spec.Kind != workload.KindFetchInc && spec.Kind != workload.KindNested {
		return
	}
	space := c.Space()
	for addr, values := range c.Plan().Observed() {
		for i, v := range values {
			if v != int64(i) {
				logrus.Warnf("counter %#x: FETCH_INC results are not contiguous at position %d (got %d)", uint64(addr), i, v)
				break
			}
		}
		final, err := c.Hosts()[space.Owner(addr)].Store.Read(space.Offset(addr))
		if err == nil && final != int64(len(values)) {
			logrus.Warnf("counter %#x: final value %d after %d observed increments", uint64(addr), final, len(values))
		}
	}
}

func printTraceSummary(w io.Writer, s *trace.TraceSummary) {
	fmt.Fprintln(w, "=== Delegate Trace Summary ===")
	fmt.Fprintf(w, "Local / Remote Routes: %d / %d (remote fraction %.3f)\n", s.LocalRoutes, s.RemoteRoutes, s.RemoteFraction)
	fmt.Fprintf(w, "Served / Dropped     : %d / %d\n", s.Served, s.Dropped)
	owners := make([]int, 0, len(s.OwnerDistribution))
	for host := range s.OwnerDistribution {
		owners = append(owners, host)
	}
	sort.Ints(owners)
	for _, host := range owners {
		fmt.Fprintf(w, "  owner %d: %d\n", host, s.OwnerDistribution[host])
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	defaults := cluster.DefaultConfig()
	spec := workload.DefaultSpec()

	runCmd.Flags().StringVar(&configPath, "config", "", "YAML cluster config file")
	runCmd.Flags().StringVar(&specPath, "workload", "", "YAML workload spec file (overrides the config's workload section)")
	runCmd.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().Int64Var(&seed, "seed", defaults.Seed, "Seed for workload generation")
	runCmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort the run after this long (0 = no limit)")
	runCmd.Flags().BoolVar(&summary, "summary", false, "Print a human-readable summary to stderr")

	// Cluster shape
	runCmd.Flags().IntVar(&numHosts, "hosts", len(defaults.Hosts), "Number of hosts in the roster")
	runCmd.Flags().UintVar(&offsetBits, "offset-bits", defaults.OffsetBits, "Each host owns 2^offset-bits words")
	runCmd.Flags().IntVar(&clientsPerHost, "clients", defaults.ClientsPerHost, "Clients (cores) per host")
	runCmd.Flags().IntVar(&queueCapacity, "queue-capacity", defaults.QueueCapacity, "Capacity of each client request/response channel")

	// Delegate bounds
	runCmd.Flags().IntVar(&maxRetries, "max-retries", defaults.Delegate.MaxRetries, "Send attempts before a request to an unreachable host fails")
	runCmd.Flags().DurationVar(&retryInterval, "retry-interval", defaults.Delegate.RetryInterval, "Minimum wait between send attempts")
	runCmd.Flags().DurationVar(&remoteTimeout, "remote-timeout", defaults.Delegate.RemoteTimeout, "Fail remote requests unanswered after this long (must be > 0)")
	runCmd.Flags().StringVar(&traceLevel, "trace", string(trace.TraceLevelNone), "Delegate trace level (none, decisions)")

	// Workload overrides
	runCmd.Flags().StringVar(&kind, "kind", string(spec.Kind), "Workload kind (fetch-inc, read, chase, nested)")
	runCmd.Flags().IntVar(&threadsPerClient, "threads", spec.ThreadsPerClient, "Logical threads per client")
	runCmd.Flags().IntVar(&opsPerThread, "ops", spec.OpsPerThread, "Memory operations per thread")
	runCmd.Flags().IntVar(&counters, "counters", spec.Counters, "Shared counters for fetch-inc and nested workloads")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
