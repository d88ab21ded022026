package trace

// TraceLevel controls the verbosity of delegate tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures every routing, serving and drop decision.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// Enabled reports whether level records anything.
func (l TraceLevel) Enabled() bool {
	return l == TraceLevelDecisions
}

// DelegateTrace collects the decisions of a single Delegate. It is written
// only by that Delegate's goroutine and read after the Delegate stops.
type DelegateTrace struct {
	Host   int
	Routes []RouteRecord
	Served []ServeRecord
	Drops  []DropRecord
}

// NewDelegateTrace creates a DelegateTrace ready for recording.
func NewDelegateTrace(host int) *DelegateTrace {
	return &DelegateTrace{
		Host:   host,
		Routes: make([]RouteRecord, 0),
		Served: make([]ServeRecord, 0),
		Drops:  make([]DropRecord, 0),
	}
}

// RecordRoute appends a routing decision.
func (dt *DelegateTrace) RecordRoute(record RouteRecord) {
	dt.Routes = append(dt.Routes, record)
}

// RecordServe appends a serviced remote request.
func (dt *DelegateTrace) RecordServe(record ServeRecord) {
	dt.Served = append(dt.Served, record)
}

// RecordDrop appends a dropped or failed request.
func (dt *DelegateTrace) RecordDrop(record DropRecord) {
	dt.Drops = append(dt.Drops, record)
}

// RemoteRoutes returns the routes that left the host.
func (dt *DelegateTrace) RemoteRoutes() []RouteRecord {
	out := make([]RouteRecord, 0, len(dt.Routes))
	for _, r := range dt.Routes {
		if !r.Local {
			out = append(out, r)
		}
	}
	return out
}
