// Package trace provides decision-trace recording for delegate analysis.
// This package has no dependencies on sim/ or sim/cluster/: it stores pure data types.
package trace

// RouteRecord captures how a Delegate routed a request issued by one of its clients.
type RouteRecord struct {
	Host      int
	Client    int
	RequestID int64
	Address   uint64
	Command   string
	Owner     int
	Local     bool
}

// ServeRecord captures a request from a peer host serviced against local memory.
type ServeRecord struct {
	Host      int
	From      int
	RequestID int64
	Address   uint64
	Command   string
	Value     int64
}

// DropRecord captures a response or request that was discarded or failed.
type DropRecord struct {
	Host      int
	Client    int
	RequestID int64
	Reason    string
}
