// Package detect decides, per sampling round, whether a service's latest
// telemetry deviates enough from its rolling baseline to raise a signal.
//
// detector.go holds the two detectors. Both stay silent until a history holds
// MinHistory points (current included) and compare the current value against
// the history that precedes it:
//
//   - LatencyDetector fires on avg_latency_ms increases that are both
//     statistically significant (or a jump off a flat baseline) and at least
//     MinJumpMs in absolute terms.
//   - ErrorBurstDetector fires on the per-round increase of total_errors.
//
// cooldown.go provides Gate, which suppresses repeated signals of one kind for
// one service within a window. The gate only filters emission; histories are
// always updated.
//
// engine.go ties the baseline store, the detectors and the gate together.
// Engine.Process accepts an explicit time so tests control the clock.
package detect
