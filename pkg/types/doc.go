// Package types defines the shared data contract of the sentinel agent: the
// telemetry snapshot it consumes, the signals it emits and the run report
// handed to downstream collaborators. These are plain JSON-tagged structs with
// no behaviour beyond normalisation and encoding.
package types
