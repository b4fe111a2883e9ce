package report

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/obsidianstack/sentinel/agent/internal/config"
	"github.com/obsidianstack/sentinel/pkg/types"
)

var baseTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func spikeSignal(service string, at time.Time) *types.Signal {
	return &types.Signal{
		Service:        service,
		Kind:           types.KindLatencySpike,
		Severity:       types.SeverityCritical,
		Confidence:     0.99,
		Metric:         types.MetricAvgLatency,
		Current:        400,
		BaselineMean:   100,
		BaselineStdDev: 0,
		ZScore:         types.Infinite(),
		Rule:           types.RuleFlatBaseline,
		TopRoutes:      []types.RouteStat{{Route: "GET /users", Count: 10, AvgLatencyMs: 400}},
		Timestamp:      at,
	}
}

func sampleReport() *types.Report {
	return &types.Report{
		RunID:       "run-1",
		GeneratedAt: baseTime.Add(time.Minute),
		Samples:     3,
		IntervalMs:  2000,
		Signals: []types.Record{
			{Signal: spikeSignal("users-service", baseTime)},
			{Failure: &types.FetchFailure{Service: "payments", Error: "unexpected status 503", Round: 2, Timestamp: baseTime.Add(2 * time.Second)}},
		},
	}
}

// --- FileWriter ---

func TestFileWriter_WritesIndentedReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "anomaly-signals.json")
	w := NewFileWriter(path)

	if err := w.Publish(context.Background(), sampleReport()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "\n  \"run_id\": \"run-1\"") {
		t.Errorf("report not indented:\n%s", data)
	}

	var got types.Report
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(got.SignalList()) != 1 || len(got.Failures()) != 1 {
		t.Fatalf("records = %+v", got.Signals)
	}
	if !got.SignalList()[0].ZScore.IsInf() {
		t.Error("infinite z-score lost in file round trip")
	}
}

func TestFileWriter_EmptyReportStillWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	if err := NewFileWriter(path).Publish(context.Background(), &types.Report{RunID: "empty", Samples: 1}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"signals": []`) {
		t.Errorf("empty signals should encode as []:\n%s", data)
	}
}

func TestFileWriter_UnwritablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// A regular file where the parent directory should be.
	if err := NewFileWriter(filepath.Join(blocker, "report.json")).Publish(context.Background(), sampleReport()); err == nil {
		t.Fatal("expected error writing beneath a file")
	}
}

// --- Archive ---

func openTestArchive(t *testing.T, retention time.Duration) *Archive {
	t.Helper()
	a, err := OpenArchive(filepath.Join(t.TempDir(), "state", "signals.db"), retention)
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArchive_PublishAndQuery(t *testing.T) {
	a := openTestArchive(t, 0)
	ctx := context.Background()

	if err := a.Publish(ctx, sampleReport()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	all, err := a.Query(ctx, ArchiveQuery{RunID: "run-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("rows = %d, want 2", len(all))
	}
	// Newest first: the failure was recorded after the signal.
	if !all[0].Failure || all[0].Service != "payments" || all[0].Record.Failure.Round != 2 {
		t.Errorf("row 0 = %+v", all[0])
	}
	sig := all[1]
	if sig.Failure || sig.Kind != types.KindLatencySpike || sig.Severity != types.SeverityCritical {
		t.Errorf("row 1 = %+v", sig)
	}
	if sig.Record.Signal == nil || !sig.Record.Signal.ZScore.IsInf() || !sig.RecordedAt.Equal(baseTime) {
		t.Errorf("signal row decoded as %+v", sig.Record.Signal)
	}

	users, err := a.Query(ctx, ArchiveQuery{Service: "users-service"})
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 {
		t.Errorf("service filter returned %d rows", len(users))
	}
}

func TestArchive_RetentionPrunesOldRecords(t *testing.T) {
	a := openTestArchive(t, time.Hour)
	ctx := context.Background()

	old := &types.Report{RunID: "old", Signals: []types.Record{{Signal: spikeSignal("users-service", baseTime)}}}
	fresh := &types.Report{RunID: "fresh", Signals: []types.Record{{Signal: spikeSignal("users-service", baseTime.Add(3*time.Hour))}}}

	a.now = func() time.Time { return baseTime }
	if err := a.Publish(ctx, old); err != nil {
		t.Fatal(err)
	}

	a.now = func() time.Time { return baseTime.Add(3 * time.Hour) }
	if err := a.Publish(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	rows, err := a.Query(ctx, ArchiveQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].RunID != "fresh" {
		t.Fatalf("rows after prune = %+v", rows)
	}
}

// --- Notifier ---

type capture struct {
	mu     sync.Mutex
	bodies []string
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, string(b))
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func TestNotifier_DeliversSignalsOnly(t *testing.T) {
	var slack, teams, generic capture
	slackSrv := httptest.NewServer(slack.handler(http.StatusOK))
	defer slackSrv.Close()
	teamsSrv := httptest.NewServer(teams.handler(http.StatusOK))
	defer teamsSrv.Close()
	httpSrv := httptest.NewServer(generic.handler(http.StatusOK))
	defer httpSrv.Close()

	t.Setenv("TEST_SLACK_URL", slackSrv.URL)
	t.Setenv("TEST_TEAMS_URL", teamsSrv.URL)
	t.Setenv("TEST_HTTP_URL", httpSrv.URL)

	n := NewNotifier([]config.WebhookConfig{
		{Type: "slack", URLEnv: "TEST_SLACK_URL"},
		{Type: "teams", URLEnv: "TEST_TEAMS_URL"},
		{Type: "http", URLEnv: "TEST_HTTP_URL"},
		{Type: "slack", URLEnv: "TEST_UNSET_URL"},
	})
	if err := n.Publish(context.Background(), sampleReport()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(slack.bodies) != 1 || !strings.Contains(slack.bodies[0], "[CRITICAL]") ||
		!strings.Contains(slack.bodies[0], "latency_spike on users-service") {
		t.Errorf("slack bodies = %v", slack.bodies)
	}
	if len(teams.bodies) != 1 || !strings.Contains(teams.bodies[0], `"themeColor":"FF4F6A"`) {
		t.Errorf("teams bodies = %v", teams.bodies)
	}
	if len(generic.bodies) != 1 {
		t.Fatalf("http bodies = %v", generic.bodies)
	}
	var payload struct {
		RunID  string       `json:"run_id"`
		Signal types.Signal `json:"signal"`
	}
	if err := json.Unmarshal([]byte(generic.bodies[0]), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.RunID != "run-1" || payload.Signal.Service != "users-service" || !payload.Signal.ZScore.IsInf() {
		t.Errorf("http payload = %+v", payload)
	}
}

func TestNotifier_RetriesTransientFailures(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusBadGateway))
	defer srv.Close()
	t.Setenv("TEST_HTTP_URL", srv.URL)

	n := NewNotifier([]config.WebhookConfig{{Type: "http", URLEnv: "TEST_HTTP_URL"}})
	n.retryDelay = time.Millisecond

	err := n.Publish(context.Background(), sampleReport())
	if err == nil || !strings.Contains(err.Error(), "1 webhook deliveries failed") {
		t.Fatalf("err = %v", err)
	}
	if len(c.bodies) != retryAttempts {
		t.Errorf("attempts = %d, want %d", len(c.bodies), retryAttempts)
	}
}

func TestNotifier_PermanentFailureNotRetried(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusBadRequest))
	defer srv.Close()
	t.Setenv("TEST_HTTP_URL", srv.URL)

	n := NewNotifier([]config.WebhookConfig{{Type: "http", URLEnv: "TEST_HTTP_URL"}})
	n.retryDelay = time.Millisecond

	if err := n.Publish(context.Background(), sampleReport()); err == nil {
		t.Fatal("expected delivery error")
	}
	if len(c.bodies) != 1 {
		t.Errorf("attempts = %d, want 1", len(c.bodies))
	}
}

func TestNotifier_RecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	t.Setenv("TEST_HTTP_URL", srv.URL)

	n := NewNotifier([]config.WebhookConfig{{Type: "http", URLEnv: "TEST_HTTP_URL"}})
	n.retryDelay = time.Millisecond

	if err := n.Publish(context.Background(), sampleReport()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

// --- backoff ---

func TestBackoff_GrowsAndResets(t *testing.T) {
	bo := newBackoff(100 * time.Millisecond)

	first := bo.next()
	if first > 125*time.Millisecond {
		t.Errorf("first backoff too large: %v", first)
	}
	for i := 0; i < 10; i++ {
		if d := bo.next(); d > retryMax*5/4 {
			t.Errorf("backoff[%d] = %v, exceeds max with jitter", i, d)
		}
	}
	bo.reset()
	if after := bo.next(); after > 125*time.Millisecond {
		t.Errorf("backoff after reset too large: %v", after)
	}
}

// --- Multi ---

type stubSink struct {
	name  string
	err   error
	calls int
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Publish(context.Context, *types.Report) error {
	s.calls++
	return s.err
}

func TestMulti_AttemptsEverySink(t *testing.T) {
	errA := errors.New("disk full")
	a := &stubSink{name: "a", err: errA}
	b := &stubSink{name: "b", err: errors.New("second")}
	c := &stubSink{name: "c"}

	err := Multi{a, b, c}.Publish(context.Background(), sampleReport())
	if !errors.Is(err, errA) {
		t.Errorf("err = %v, want first sink error", err)
	}
	if a.calls != 1 || b.calls != 1 || c.calls != 1 {
		t.Errorf("calls = %d/%d/%d, want 1 each", a.calls, b.calls, c.calls)
	}
}
