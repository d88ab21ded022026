// Tracks simulation-wide counters and renders the experiment record consumed
// by the external benchmark harness.

package sim

import (
	"fmt"
	"io"
	"strconv"
	"time"
)

// Harness sentinels written to stdout around an experiment.
const (
	ExperimentBegin = "reqb"
	ExperimentEnd   = "reqe"
)

// Metrics aggregates statistics about a simulation run
// for final reporting.
type Metrics struct {
	Hosts   int // hosts in the roster
	Cores   int // clients across all hosts, each running one scheduler
	Threads int // logical threads spawned

	CompletedOps  int64 // memory operations returned to threads
	FailedThreads int   // threads whose top-level frame returned an error

	LocalOps     int64
	RemoteOps    int64
	RemoteServed int64
	Dropped      int64
	Failed       int64
	Retries      int64
	Iterations   int64

	Elapsed time.Duration
}

// NewMetrics returns zeroed Metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// AddDelegate folds one Delegate's counters into m.
func (m *Metrics) AddDelegate(dm DelegateMetrics) {
	m.LocalOps += dm.LocalOps
	m.RemoteOps += dm.RemoteIssued
	m.RemoteServed += dm.RemoteServed
	m.Dropped += dm.Dropped
	m.Failed += dm.Failed
	m.Retries += dm.Retries
	m.Iterations += dm.Iterations
}

// Latency returns the mean wall-clock seconds per completed operation,
// seen from a single core.
func (m *Metrics) Latency() float64 {
	if m.CompletedOps == 0 {
		return 0
	}
	perCore := float64(m.CompletedOps) / float64(max(m.Cores, 1))
	return m.Elapsed.Seconds() / perCore
}

// Record renders the single bracket-delimited key/value line the harness
// captures once per experiment.
func (m *Metrics) Record() string {
	return fmt.Sprintf("{'ncores': %d, 'latency': %s, 'nthreads': %d, 'hosts': %d, 'ops': %d, 'remote_ops': %d, 'failed': %d}",
		m.Cores, strconv.FormatFloat(m.Latency(), 'g', -1, 64), m.Threads, m.Hosts, m.CompletedOps, m.RemoteOps, m.Failed)
}

// Print writes a human-readable summary.
func (m *Metrics) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Metrics ===")
	fmt.Fprintf(w, "Hosts / Cores / Threads : %d / %d / %d\n", m.Hosts, m.Cores, m.Threads)
	fmt.Fprintf(w, "Completed Ops        : %d\n", m.CompletedOps)
	fmt.Fprintf(w, "Local / Remote Ops   : %d / %d\n", m.LocalOps, m.RemoteOps)
	fmt.Fprintf(w, "Served For Peers     : %d\n", m.RemoteServed)
	fmt.Fprintf(w, "Failed / Dropped     : %d / %d\n", m.Failed, m.Dropped)
	fmt.Fprintf(w, "Send Retries         : %d\n", m.Retries)
	if m.FailedThreads > 0 {
		fmt.Fprintf(w, "Failed Threads       : %d\n", m.FailedThreads)
	}
	fmt.Fprintf(w, "Elapsed              : %v\n", m.Elapsed)
	if m.CompletedOps > 0 {
		fmt.Fprintf(w, "Latency Per Op       : %.3g s\n", m.Latency())
	}
}
