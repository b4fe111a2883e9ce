package types

import "time"

// Kind identifies which detector produced a Signal.
type Kind string

const (
	KindLatencySpike Kind = "latency_spike"
	KindErrorBurst   Kind = "error_burst"
)

// Severity is the urgency attached to a Signal.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rule names the decision branch that made a detector fire.
type Rule string

const (
	// RuleFlatBaseline fires on an absolute jump against a zero-variance history.
	RuleFlatBaseline Rule = "flat_baseline"
	// RuleZScore fires on a statistically significant deviation.
	RuleZScore Rule = "zscore"
)

// Metric names carried in Signal.Metric.
const (
	MetricAvgLatency = "http.avg_latency_ms"
	MetricErrorDelta = "http.error_delta"
)

// Signal is one fired anomaly. It is never mutated after emission.
type Signal struct {
	Service        string      `json:"service"`
	Kind           Kind        `json:"kind"`
	Severity       Severity    `json:"severity"`
	Confidence     float64     `json:"confidence"`
	Metric         string      `json:"metric"`
	Current        float64     `json:"current"`
	BaselineMean   float64     `json:"baseline_mean"`
	BaselineStdDev float64     `json:"baseline_stddev"`
	ZScore         ZScore      `json:"z_score"`
	Rule           Rule        `json:"rule"`
	TopRoutes      []RouteStat `json:"top_routes,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// SeverityFromZ maps a z-score to a severity: >=4 critical, >=3 warning, else info.
func SeverityFromZ(z ZScore) Severity {
	switch {
	case z.AtLeast(4):
		return SeverityCritical
	case z.AtLeast(3):
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
