package detect

import (
	"sort"

	"github.com/obsidianstack/sentinel/pkg/types"
)

// rankRoutes returns up to n routes ordered by key descending, skipping
// excluded routes and those keep rejects. Ties keep snapshot order.
func rankRoutes(routes []types.RouteStat, exclude map[string]bool, n int,
	keep func(types.RouteStat) bool, key func(types.RouteStat) float64) []types.RouteStat {
	if n <= 0 {
		return nil
	}
	candidates := make([]types.RouteStat, 0, len(routes))
	for _, r := range routes {
		if exclude[r.Route] || !keep(r) {
			continue
		}
		candidates = append(candidates, r)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return key(candidates[i]) > key(candidates[j])
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates
}

// slowestRoutes ranks routes by average latency.
func slowestRoutes(routes []types.RouteStat, exclude map[string]bool, n int) []types.RouteStat {
	return rankRoutes(routes, exclude, n,
		func(types.RouteStat) bool { return true },
		func(r types.RouteStat) float64 { return r.AvgLatencyMs })
}

// erroringRoutes ranks routes with at least one error by error count.
func erroringRoutes(routes []types.RouteStat, exclude map[string]bool, n int) []types.RouteStat {
	return rankRoutes(routes, exclude, n,
		func(r types.RouteStat) bool { return r.Errors > 0 },
		func(r types.RouteStat) float64 { return float64(r.Errors) })
}

func excludeSet(routes []string) map[string]bool {
	m := make(map[string]bool, len(routes))
	for _, r := range routes {
		m[r] = true
	}
	return m
}
