package trace

// TraceSummary aggregates statistics from one or more DelegateTraces.
type TraceSummary struct {
	LocalRoutes       int
	RemoteRoutes      int
	Served            int
	Dropped           int
	RemoteFraction    float64
	OwnerDistribution map[int]int // owning host → count of routed requests
}

// Summarize computes aggregate statistics over the given traces.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(traces ...*DelegateTrace) *TraceSummary {
	summary := &TraceSummary{
		OwnerDistribution: make(map[int]int),
	}
	for _, dt := range traces {
		if dt == nil {
			continue
		}
		for _, r := range dt.Routes {
			if r.Local {
				summary.LocalRoutes++
			} else {
				summary.RemoteRoutes++
			}
			summary.OwnerDistribution[r.Owner]++
		}
		summary.Served += len(dt.Served)
		summary.Dropped += len(dt.Drops)
	}
	if total := summary.LocalRoutes + summary.RemoteRoutes; total > 0 {
		summary.RemoteFraction = float64(summary.RemoteRoutes) / float64(total)
	}
	return summary
}
