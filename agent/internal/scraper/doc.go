// Package scraper fetches telemetry snapshots from the monitored services.
//
// Two formats are supported, selected per service by config.Service.Format:
//   - json (json.go): the service's /telemetry document, decoded directly
//     into types.TelemetrySnapshot.
//   - prometheus (prometheus.go): a Prometheus text exposition whose request,
//     error and latency families (labelled by route) are folded into the
//     same snapshot shape.
//
// Authentication (API key, bearer token, basic) is handled by the shared
// authRoundTripper in base.go. Every client carries a per-fetch timeout so a
// hung service surfaces as an error for that service only.
package scraper
