package scraper

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/sentinel/agent/internal/config"
	"github.com/obsidianstack/sentinel/pkg/types"
)

// Metric families read from a Prometheus text exposition. Request families
// carry a "route" label; the snapshot totals are their sums. Latency comes
// from the http_request_duration_ms summary or histogram, falling back to a
// standalone _sum series divided by the request count.
const (
	promServiceInfo    = "telemetry_service_info"
	promRequests       = "http_requests_total"
	promErrors         = "http_request_errors_total"
	promLatency        = "http_request_duration_ms"
	promLatencySum     = "http_request_duration_ms_sum"
	promLatencyP95     = "http_request_duration_ms_p95"
	promLatencyP99     = "http_request_duration_ms_p99"
	promResidentMemory = "process_resident_memory_bytes"
	promJVMMemoryUsed  = "jvm_memory_used_bytes"
	promGoHeapAlloc    = "go_memstats_heap_alloc_bytes"
	labelService       = "service"
	labelRoute         = "route"
	labelArea          = "area"
	bytesPerMB         = 1024 * 1024
	promAcceptHeader   = "text/plain;version=0.0.4"
)

type promScraper struct {
	svc    config.Service
	client *http.Client
}

// Scrape fetches a Prometheus text exposition and folds it into a snapshot.
func (s *promScraper) Scrape(ctx context.Context) (*types.TelemetrySnapshot, error) {
	var mfs map[string]*dto.MetricFamily
	err := fetch(ctx, s.client, s.svc.URL, promAcceptHeader, func(r io.Reader) error {
		var err error
		mfs, err = parseMetrics(r)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("scraper %q: %w", s.svc.Name, err)
	}
	return snapshotFromFamilies(mfs).Normalize(s.svc.Name), nil
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// snapshotFromFamilies maps the request, latency and process families onto a
// TelemetrySnapshot. Routes appear in first-seen order across the requests,
// errors and latency families. A route whose latency sum is not a finite,
// non-negative number reports 0 and is left out of the service average.
func snapshotFromFamilies(mfs map[string]*dto.MetricFamily) *types.TelemetrySnapshot {
	snap := &types.TelemetrySnapshot{}

	if mf := mfs[promServiceInfo]; mf != nil {
		for _, m := range mf.GetMetric() {
			if name := labelValue(m, labelService); name != "" {
				snap.Service = name
				break
			}
		}
	}

	counts := byRoute(mfs[promRequests])
	errs := byRoute(mfs[promErrors])
	observed := latencyByRoute(mfs[promLatency])
	latSums := byRoute(mfs[promLatencySum])

	var totalLatency, totalObserved float64
	for _, route := range routeOrder(mfs[promRequests], mfs[promErrors], mfs[promLatency]) {
		count := counts[route]
		lat, ok := observed[route]
		if !ok {
			lat = latency{sum: latSums[route], count: count}
		}
		if count == 0 {
			count = lat.count
		}
		rs := types.RouteStat{
			Route:  route,
			Count:  toCount(count),
			Errors: toCount(errs[route]),
		}
		if avg := lat.sum / lat.count; lat.count > 0 && types.NonNegative(avg) == avg {
			rs.AvgLatencyMs = avg
			totalLatency += lat.sum
			totalObserved += lat.count
		}
		snap.Routes = append(snap.Routes, rs)
		snap.HTTP.TotalRequests += rs.Count
		snap.HTTP.TotalErrors += rs.Errors
	}
	if totalObserved > 0 {
		snap.HTTP.AvgLatencyMs = totalLatency / totalObserved
	}
	snap.HTTP.P95LatencyMs = maxValue(mfs[promLatencyP95])
	if snap.HTTP.P95LatencyMs == 0 {
		snap.HTTP.P95LatencyMs = maxQuantile(mfs[promLatency], 0.95)
	}
	snap.HTTP.P99LatencyMs = maxValue(mfs[promLatencyP99])
	if snap.HTTP.P99LatencyMs == 0 {
		snap.HTTP.P99LatencyMs = maxQuantile(mfs[promLatency], 0.99)
	}

	snap.Process.RSSMb = sumFamily(mfs[promResidentMemory]) / bytesPerMB
	if mf := mfs[promJVMMemoryUsed]; mf != nil {
		for _, m := range mf.GetMetric() {
			if labelValue(m, labelArea) == "heap" {
				snap.Process.HeapUsedMb += metricValue(m) / bytesPerMB
			}
		}
	} else {
		snap.Process.HeapUsedMb = sumFamily(mfs[promGoHeapAlloc]) / bytesPerMB
	}
	return snap
}

// latency is the accumulated observation sum and count of one route.
type latency struct {
	sum, count float64
}

// latencyByRoute reads per-route sums and counts from a summary or histogram
// family. Other metric types are ignored.
func latencyByRoute(mf *dto.MetricFamily) map[string]latency {
	out := make(map[string]latency)
	if mf == nil {
		return out
	}
	for _, m := range mf.GetMetric() {
		var sum float64
		var count uint64
		switch {
		case m.Summary != nil:
			sum, count = m.Summary.GetSampleSum(), m.Summary.GetSampleCount()
		case m.Histogram != nil:
			sum, count = m.Histogram.GetSampleSum(), m.Histogram.GetSampleCount()
		default:
			continue
		}
		r := labelValue(m, labelRoute)
		l := out[r]
		l.sum += sum
		l.count += float64(count)
		out[r] = l
	}
	return out
}

// maxQuantile returns the largest value of quantile q across a summary
// family, or 0.
func maxQuantile(mf *dto.MetricFamily, q float64) float64 {
	var out float64
	if mf == nil {
		return out
	}
	for _, m := range mf.GetMetric() {
		for _, qv := range m.GetSummary().GetQuantile() {
			if qv.GetQuantile() == q {
				out = max(out, types.NonNegative(qv.GetValue()))
			}
		}
	}
	return out
}

// toCount converts a sample value to a counter, mapping negative and
// non-finite values to 0.
func toCount(v float64) int64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v >= math.MaxInt64 {
		return 0
	}
	return int64(v)
}

// byRoute sums a family's samples per route label.
func byRoute(mf *dto.MetricFamily) map[string]float64 {
	out := make(map[string]float64)
	if mf == nil {
		return out
	}
	for _, m := range mf.GetMetric() {
		out[labelValue(m, labelRoute)] += metricValue(m)
	}
	return out
}

// routeOrder lists the distinct routes of the given families in first-seen order.
func routeOrder(families ...*dto.MetricFamily) []string {
	seen := make(map[string]bool)
	var order []string
	for _, mf := range families {
		if mf == nil {
			continue
		}
		for _, m := range mf.GetMetric() {
			r := labelValue(m, labelRoute)
			if r == "" || seen[r] {
				continue
			}
			seen[r] = true
			order = append(order, r)
		}
	}
	return order
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil (metric not present in the scrape).
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		total += metricValue(m)
	}
	return total
}

// maxValue returns the largest sample of a gauge family, or 0.
func maxValue(mf *dto.MetricFamily) float64 {
	var out float64
	if mf == nil {
		return out
	}
	for _, m := range mf.GetMetric() {
		out = max(out, metricValue(m))
	}
	return out
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	default:
		return 0
	}
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
