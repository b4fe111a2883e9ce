package types

import "math"

// SelfRoute is the route services use to expose their own telemetry. It is
// excluded from top-offender ranking by default.
const SelfRoute = "GET /telemetry"

// TelemetrySnapshot is one service's telemetry document as served by its
// /telemetry endpoint. Fields the detector does not consume are carried so
// they can be logged alongside signals.
type TelemetrySnapshot struct {
	Service   string       `json:"service"`
	Timestamp int64        `json:"timestamp,omitempty"` // unix millis, as reported by the service
	UptimeMs  int64        `json:"uptime_ms,omitempty"`
	Process   ProcessStats `json:"process"`
	HTTP      HTTPStats    `json:"http"`
	Routes    []RouteStat  `json:"routes"`
}

// HTTPStats holds the aggregate request counters of a service.
type HTTPStats struct {
	TotalRequests int64   `json:"total_requests"`
	TotalErrors   int64   `json:"total_errors"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	RPS           float64 `json:"rps"`
	P95LatencyMs  float64 `json:"p95_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms"`
}

// ProcessStats holds process-level resource figures. Not used for detection.
type ProcessStats struct {
	RSSMb      float64 `json:"rss_mb"`
	HeapUsedMb float64 `json:"heap_used_mb"`
	HeapMaxMb  float64 `json:"heap_max_mb"`
}

// RouteStat is the per-route breakdown of a snapshot.
type RouteStat struct {
	Route        string  `json:"route"`
	Count        int64   `json:"count"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	Errors       int64   `json:"errors"`
}

// Normalize fills an empty service name with fallback and clamps negative
// counters and latencies to zero. NaN and infinite values become zero so
// they never reach a baseline. It returns the snapshot for chaining.
func (s *TelemetrySnapshot) Normalize(fallback string) *TelemetrySnapshot {
	if s.Service == "" {
		s.Service = fallback
	}
	s.Process.RSSMb = NonNegative(s.Process.RSSMb)
	s.Process.HeapUsedMb = NonNegative(s.Process.HeapUsedMb)
	s.Process.HeapMaxMb = NonNegative(s.Process.HeapMaxMb)
	s.HTTP.TotalRequests = max(s.HTTP.TotalRequests, 0)
	s.HTTP.TotalErrors = max(s.HTTP.TotalErrors, 0)
	s.HTTP.AvgLatencyMs = NonNegative(s.HTTP.AvgLatencyMs)
	s.HTTP.RPS = NonNegative(s.HTTP.RPS)
	s.HTTP.P95LatencyMs = NonNegative(s.HTTP.P95LatencyMs)
	s.HTTP.P99LatencyMs = NonNegative(s.HTTP.P99LatencyMs)
	for i := range s.Routes {
		r := &s.Routes[i]
		r.Count = max(r.Count, 0)
		r.Errors = max(r.Errors, 0)
		r.AvgLatencyMs = NonNegative(r.AvgLatencyMs)
	}
	return s
}

// NonNegative returns v, or 0 when v is negative, NaN or infinite.
func NonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
