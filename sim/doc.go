// Package sim provides the core of a simulated distributed shared memory
// runtime: a flat global address space partitioned across hosts, with
// cooperative threads issuing remote reads and fetch-and-increments.
//
// # Reading Guide
//
// Start with these files to understand the runtime kernel:
//   - scheduler.go, frame.go: logical threads as explicit frame stacks, run round-robin
//   - correlator.go: request ids, the response mailbox and the await suspension point
//   - delegate.go: the per-host loop that owns local memory and talks to peers
//
// # Architecture
//
// The sim package defines the data model, interfaces and the per-host pieces;
// sub-packages wire them together:
//   - sim/network/: in-process fabric implementing Network, with a wire codec and per-peer breakers
//   - sim/cluster/: host roster, one Delegate per host and one Scheduler per client
//   - sim/workload/: thread programs (counter storm, random reads, pointer chase)
//   - sim/trace/: Delegate decision trace recording
//
// # Concurrency
//
// Each client's Scheduler runs on its own goroutine; each host's Delegate runs
// on another. They share only BoundedChannels. The MemoryStore of a host is
// touched by its Delegate alone, so every operation on it is atomic.
package sim
