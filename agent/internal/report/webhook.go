package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/obsidianstack/sentinel/agent/internal/config"
	"github.com/obsidianstack/sentinel/pkg/types"
)

const webhookTimeout = 10 * time.Second

// Notifier posts every fired signal of a report to the configured webhooks.
// Fetch failures are not delivered.
type Notifier struct {
	webhooks []config.WebhookConfig
	client   *http.Client

	// attempts and retryDelay control redelivery of transient failures.
	attempts   int
	retryDelay time.Duration
}

// NewNotifier returns a Notifier for the given targets.
func NewNotifier(webhooks []config.WebhookConfig) *Notifier {
	return &Notifier{
		webhooks: webhooks,
		client:   &http.Client{Timeout: webhookTimeout},

		attempts:   retryAttempts,
		retryDelay: retryInitial,
	}
}

// Name implements Sink.
func (n *Notifier) Name() string { return "webhook" }

// Publish implements Sink. Every target is attempted for every signal;
// transient failures are retried with backoff and the number of deliveries
// that still failed is reported as an error.
func (n *Notifier) Publish(ctx context.Context, rep *types.Report) error {
	var failed int
	bo := newBackoff(n.retryDelay)
	for _, sig := range rep.SignalList() {
		for _, wh := range n.webhooks {
			url := wh.URL()
			if url == "" {
				continue
			}

			var send func() error
			switch wh.Type {
			case "slack":
				send = func() error { return n.sendSlack(ctx, url, sig) }
			case "teams":
				send = func() error { return n.sendTeams(ctx, url, sig) }
			case "http":
				send = func() error { return n.sendHTTP(ctx, url, rep.RunID, sig) }
			default:
				slog.Warn("report: unknown webhook type, skipping", "type", wh.Type)
				continue
			}

			bo.reset()
			err := retry(ctx, n.attempts, bo, send)

			if err != nil {
				failed++
				slog.Error("report: webhook delivery failed",
					"type", wh.Type,
					"service", sig.Service,
					"kind", sig.Kind,
					"err", err,
				)
				continue
			}
			slog.Debug("report: webhook delivered",
				"type", wh.Type,
				"service", sig.Service,
				"kind", sig.Kind,
			)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d webhook deliveries failed", failed)
	}
	return nil
}

func (n *Notifier) sendSlack(ctx context.Context, url string, sig *types.Signal) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s", severityLabel(sig.Severity), summary(sig)),
	})
	return n.post(ctx, url, body)
}

func (n *Notifier) sendTeams(ctx context.Context, url string, sig *types.Signal) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(sig.Severity),
		"summary":    fmt.Sprintf("%s on %s", sig.Kind, sig.Service),
		"title":      fmt.Sprintf("Sentinel Signal: %s", sig.Kind),
		"text":       summary(sig),
	}
	body, _ := json.Marshal(payload)
	return n.post(ctx, url, body)
}

func (n *Notifier) sendHTTP(ctx context.Context, url, runID string, sig *types.Signal) error {
	body, err := json.Marshal(map[string]interface{}{"run_id": runID, "signal": sig})
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}
	return n.post(ctx, url, body)
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

// summary renders a one-line description of sig for chat targets.
func summary(sig *types.Signal) string {
	return fmt.Sprintf("%s on %s: %s = %.1f (baseline %.1f ± %.1f, z=%s)",
		sig.Kind, sig.Service, sig.Metric, sig.Current,
		sig.BaselineMean, sig.BaselineStdDev, sig.ZScore)
}

func severityLabel(s types.Severity) string {
	switch s {
	case types.SeverityCritical:
		return "[CRITICAL]"
	case types.SeverityWarning:
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s types.Severity) string {
	switch s {
	case types.SeverityCritical:
		return "FF4F6A"
	case types.SeverityWarning:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
