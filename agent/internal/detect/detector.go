package detect

import (
	"time"

	"github.com/obsidianstack/sentinel/agent/internal/config"
	"github.com/obsidianstack/sentinel/agent/internal/stats"
	"github.com/obsidianstack/sentinel/pkg/types"
)

// maxConfidence is reported whenever a rule fires at full certainty.
const maxConfidence = 0.99

// Observation is the input of one detector decision.
type Observation struct {
	Service string
	// History holds the signal's rolling history with the current value last.
	History []float64
	Routes  []types.RouteStat
	At      time.Time
}

// current splits the observation into the value under test and the window
// preceding it. ok is false while the history is shorter than minHistory.
func (o Observation) current(minHistory int) (cur float64, prev []float64, ok bool) {
	n := len(o.History)
	if n < minHistory || n == 0 {
		return 0, nil, false
	}
	return o.History[n-1], o.History[:n-1], true
}

// Detector decides whether an observation is anomalous.
type Detector interface {
	Kind() types.Kind
	// Detect returns the signal to emit, or nil.
	Detect(obs Observation) *types.Signal
}

// LatencyDetector flags increases of the average request latency.
type LatencyDetector struct {
	cfg     config.Detection
	exclude map[string]bool
}

// NewLatencyDetector returns a LatencyDetector using cfg's thresholds.
func NewLatencyDetector(cfg config.Detection) *LatencyDetector {
	return &LatencyDetector{cfg: cfg, exclude: excludeSet(cfg.ExcludeRoutes)}
}

func (d *LatencyDetector) Kind() types.Kind { return types.KindLatencySpike }

// Detect fires when the current latency exceeds the baseline mean by at least
// MinJumpMs and either the baseline is flat and current >= MinCurrentMs, or
// the baseline varies and z >= ZThreshold. Latency decreases never fire.
func (d *LatencyDetector) Detect(obs Observation) *types.Signal {
	cur, prev, ok := obs.current(d.cfg.MinHistory)
	if !ok {
		return nil
	}
	s := stats.Summarize(prev, cur)
	if cur <= s.Mean || cur-s.Mean < d.cfg.Latency.MinJumpMs {
		return nil
	}

	var rule types.Rule
	switch {
	case s.StdDev == 0 && cur >= d.cfg.Latency.MinCurrentMs:
		rule = types.RuleFlatBaseline
	case s.StdDev != 0 && s.Z.AtLeast(d.cfg.ZThreshold):
		rule = types.RuleZScore
	default:
		return nil
	}

	sev, conf := d.grade(rule, s.Z)
	return &types.Signal{
		Service:        obs.Service,
		Kind:           types.KindLatencySpike,
		Severity:       sev,
		Confidence:     conf,
		Metric:         types.MetricAvgLatency,
		Current:        cur,
		BaselineMean:   s.Mean,
		BaselineStdDev: s.StdDev,
		ZScore:         s.Z,
		Rule:           rule,
		TopRoutes:      slowestRoutes(obs.Routes, d.exclude, d.cfg.TopRoutes),
		Timestamp:      obs.At,
	}
}

// grade derives severity and confidence. In fixed mode every latency spike is
// critical at maximum confidence; scaled mode grades z-rule spikes by z.
func (d *LatencyDetector) grade(rule types.Rule, z types.ZScore) (types.Severity, float64) {
	if d.cfg.Latency.SeverityMode != config.SeverityModeScaled || rule == types.RuleFlatBaseline {
		return types.SeverityCritical, maxConfidence
	}
	return types.SeverityFromZ(z), confidenceFromZ(z)
}

// confidenceFromZ maps z onto [0.5, 0.99].
func confidenceFromZ(z types.ZScore) float64 {
	if z.IsInf() {
		return maxConfidence
	}
	return min(max(0.5+z.Value()/10, 0.5), maxConfidence)
}

// ErrorBurstDetector flags sudden increases of new errors per round.
type ErrorBurstDetector struct {
	cfg     config.Detection
	exclude map[string]bool
}

// NewErrorBurstDetector returns an ErrorBurstDetector using cfg's thresholds.
func NewErrorBurstDetector(cfg config.Detection) *ErrorBurstDetector {
	return &ErrorBurstDetector{cfg: cfg, exclude: excludeSet(cfg.ExcludeRoutes)}
}

func (d *ErrorBurstDetector) Kind() types.Kind { return types.KindErrorBurst }

// Detect fires when at least one new error arrived and either the delta
// history is flat and delta >= FlatMinDelta, or z >= ZThreshold and the delta
// exceeds the baseline mean. With Errors.RequireAboveMean the flat rule is
// held to the mean as well.
func (d *ErrorBurstDetector) Detect(obs Observation) *types.Signal {
	delta, prev, ok := obs.current(d.cfg.MinHistory)
	if !ok || delta <= 0 {
		return nil
	}
	s := stats.Summarize(prev, delta)
	if delta <= s.Mean && (s.StdDev != 0 || d.cfg.Errors.RequireAboveMean) {
		return nil
	}

	var rule types.Rule
	switch {
	case s.StdDev == 0 && delta >= d.cfg.Errors.FlatMinDelta:
		rule = types.RuleFlatBaseline
	case s.StdDev != 0 && s.Z.AtLeast(d.cfg.ZThreshold):
		rule = types.RuleZScore
	default:
		return nil
	}

	sev := types.SeverityCritical
	if rule == types.RuleZScore {
		sev = types.SeverityFromZ(s.Z)
	}
	return &types.Signal{
		Service:        obs.Service,
		Kind:           types.KindErrorBurst,
		Severity:       sev,
		Confidence:     maxConfidence,
		Metric:         types.MetricErrorDelta,
		Current:        delta,
		BaselineMean:   s.Mean,
		BaselineStdDev: s.StdDev,
		ZScore:         s.Z,
		Rule:           rule,
		TopRoutes:      erroringRoutes(obs.Routes, d.exclude, d.cfg.TopRoutes),
		Timestamp:      obs.At,
	}
}
