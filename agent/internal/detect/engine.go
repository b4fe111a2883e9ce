package detect

import (
	"log/slog"
	"time"

	"github.com/obsidianstack/sentinel/agent/internal/baseline"
	"github.com/obsidianstack/sentinel/agent/internal/config"
	"github.com/obsidianstack/sentinel/agent/internal/metrics"
	"github.com/obsidianstack/sentinel/pkg/types"
)

// Result is the outcome of processing one snapshot.
type Result struct {
	Service string
	// Emitted are the signals that passed the cooldown gate, in detector order.
	Emitted []*types.Signal
	// Suppressed are signals a detector raised but the gate held back.
	Suppressed []*types.Signal
	// LatencyPoints and ErrorPoints are the history lengths after recording.
	LatencyPoints int
	ErrorPoints   int
}

// Engine updates baselines from snapshots and runs the detectors. It is
// constructed by the caller and shares the baseline store with it.
type Engine struct {
	store   *baseline.Store
	gate    Gate
	latency *LatencyDetector
	errors  *ErrorBurstDetector
}

// NewEngine returns an Engine over store using cfg's thresholds.
func NewEngine(store *baseline.Store, cfg config.Detection) *Engine {
	return &Engine{
		store:   store,
		gate:    Gate{Window: cfg.Cooldown},
		latency: NewLatencyDetector(cfg),
		errors:  NewErrorBurstDetector(cfg),
	}
}

// Process records snap into the baseline of snap.Service and evaluates every
// detector against it. History is updated before the cooldown gate is
// consulted, so suppression never skews the baseline.
func (e *Engine) Process(snap *types.TelemetrySnapshot, now time.Time) *Result {
	id := snap.Service
	latHist := e.store.RecordLatency(id, snap.HTTP.AvgLatencyMs)
	e.store.RecordErrorDelta(id, snap.HTTP.TotalErrors)
	b := e.store.GetOrCreate(id)

	out := &Result{
		Service:       id,
		LatencyPoints: len(latHist),
		ErrorPoints:   len(b.ErrorDeltaHistory),
	}

	checks := []struct {
		det     Detector
		history []float64
	}{
		{e.latency, latHist},
		{e.errors, b.ErrorDeltaHistory},
	}
	for _, c := range checks {
		sig := c.det.Detect(Observation{
			Service: id,
			History: c.history,
			Routes:  snap.Routes,
			At:      now,
		})
		if sig == nil {
			continue
		}
		if !e.gate.Allow(b, sig.Kind, now) {
			out.Suppressed = append(out.Suppressed, sig)
			metrics.ObserveSuppressed(id, string(sig.Kind))
			slog.Debug("detect: signal suppressed by cooldown",
				"service", id, "kind", sig.Kind, "last", b.LastSignalAt[sig.Kind])
			continue
		}
		e.gate.Mark(b, sig.Kind, now)
		out.Emitted = append(out.Emitted, sig)
		metrics.ObserveSignal(id, string(sig.Kind), string(sig.Severity))
		slog.Warn("detect: signal fired",
			"service", id,
			"kind", sig.Kind,
			"severity", sig.Severity,
			"rule", sig.Rule,
			"current", sig.Current,
			"mean", sig.BaselineMean,
			"stddev", sig.BaselineStdDev,
			"z", sig.ZScore.String(),
		)
	}

	metrics.ObserveBaseline(id, out.LatencyPoints, out.ErrorPoints)
	return out
}
