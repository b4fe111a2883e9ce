package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
agent:
  samples: 5
  interval: 500ms
  fetch_timeout: 2s
  services:
    - name: users-service
      url: "http://localhost:8081/telemetry"
    - name: orders-service
      url: "http://localhost:8082/metrics"
      format: prometheus
      auth:
        mode: bearer
        token_env: ORDERS_TOKEN
    - name: billing-service
      url: "https://billing.internal/telemetry"
      auth:
        mode: mtls
        cert_file: /etc/sentinel/client.crt
        key_file: /etc/sentinel/client.key
        ca_file: /etc/sentinel/ca.pem
  detection:
    cooldown: 2m
    latency:
      severity_mode: scaled
    errors:
      require_above_mean: false
`
	cfg := loadFromString(t, yaml)

	if cfg.Agent.Samples != 5 {
		t.Errorf("samples: got %d", cfg.Agent.Samples)
	}
	if cfg.Agent.Interval != 500*time.Millisecond {
		t.Errorf("interval: got %v", cfg.Agent.Interval)
	}
	if cfg.Agent.FetchTimeout != 2*time.Second {
		t.Errorf("fetch_timeout: got %v", cfg.Agent.FetchTimeout)
	}
	if len(cfg.Agent.Services) != 3 {
		t.Fatalf("services: got %d, want 3", len(cfg.Agent.Services))
	}
	if cfg.Agent.Services[0].Format != FormatJSON {
		t.Errorf("default format: got %q, want %q", cfg.Agent.Services[0].Format, FormatJSON)
	}
	if cfg.Agent.Services[1].Format != FormatPrometheus {
		t.Errorf("format: got %q", cfg.Agent.Services[1].Format)
	}
	if a := cfg.Agent.Services[2].Auth; a.Mode != "mtls" || a.CertFile != "/etc/sentinel/client.crt" ||
		a.KeyFile != "/etc/sentinel/client.key" || a.CAFile != "/etc/sentinel/ca.pem" {
		t.Errorf("mtls auth: got %+v", a)
	}
	if cfg.Agent.Detection.Cooldown != 2*time.Minute {
		t.Errorf("cooldown: got %v", cfg.Agent.Detection.Cooldown)
	}
	if cfg.Agent.Detection.Latency.SeverityMode != SeverityModeScaled {
		t.Errorf("severity_mode: got %q", cfg.Agent.Detection.Latency.SeverityMode)
	}
	if cfg.Agent.Detection.Errors.RequireAboveMean {
		t.Error("require_above_mean: got true, want false")
	}
	// Untouched nested fields keep their defaults.
	if cfg.Agent.Detection.Errors.FlatMinDelta != DefaultFlatMinDelta {
		t.Errorf("flat_min_delta: got %v, want default", cfg.Agent.Detection.Errors.FlatMinDelta)
	}
	if cfg.Agent.Detection.Latency.MinJumpMs != DefaultMinJumpMs {
		t.Errorf("min_jump_ms: got %v, want default", cfg.Agent.Detection.Latency.MinJumpMs)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	a := cfg.Agent
	if a.Samples != DefaultSamples || a.Interval != DefaultInterval {
		t.Errorf("samples/interval: got %d/%v", a.Samples, a.Interval)
	}
	if a.Detection.HistorySize != 30 || a.Detection.MinHistory != 10 {
		t.Errorf("history sizes: got %d/%d", a.Detection.HistorySize, a.Detection.MinHistory)
	}
	if a.Detection.Cooldown != 60*time.Second {
		t.Errorf("cooldown: got %v", a.Detection.Cooldown)
	}
	if !a.Detection.Errors.RequireAboveMean {
		t.Error("require_above_mean: default should be true")
	}
	if len(a.Detection.ExcludeRoutes) != 1 || a.Detection.ExcludeRoutes[0] != "GET /telemetry" {
		t.Errorf("exclude_routes: got %v", a.Detection.ExcludeRoutes)
	}
	if a.State.BaselinePath != DefaultBaselinePath || a.State.ReportPath != DefaultReportPath {
		t.Errorf("state paths: got %+v", a.State)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SENTINEL_LOG_LEVEL", "debug")
	t.Setenv("SENTINEL_LOG_FORMAT", "text")
	t.Setenv("SENTINEL_REPORT_PATH", "/tmp/report.json")

	cfg := loadFromString(t, "agent: {}\n")
	if cfg.Agent.Logging.Level != "debug" {
		t.Errorf("log level: got %q", cfg.Agent.Logging.Level)
	}
	if cfg.Agent.Logging.JSON {
		t.Error("log format override to text not applied")
	}
	if cfg.Agent.State.ReportPath != "/tmp/report.json" {
		t.Errorf("report path: got %q", cfg.Agent.State.ReportPath)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero samples", "agent:\n  samples: 0\n"},
		{"negative interval", "agent:\n  interval: -1s\n"},
		{"missing name", "agent:\n  services:\n    - url: http://x\n"},
		{"missing url", "agent:\n  services:\n    - name: a\n"},
		{"duplicate name", "agent:\n  services:\n    - {name: a, url: http://x}\n    - {name: a, url: http://y}\n"},
		{"unknown format", "agent:\n  services:\n    - {name: a, url: http://x, format: xml}\n"},
		{"unknown auth", "agent:\n  services:\n    - name: a\n      url: http://x\n      auth: {mode: magictoken}\n"},
		{"mtls without key", "agent:\n  services:\n    - name: a\n      url: https://x\n      auth: {mode: mtls, cert_file: c.pem}\n"},
		{"history below min", "agent:\n  detection:\n    history_size: 5\n"},
		{"severity mode", "agent:\n  detection:\n    latency: {severity_mode: loud}\n"},
		{"archive backend", "agent:\n  archive: {backend: postgres}\n"},
		{"webhook type", "agent:\n  webhooks:\n    - {type: pager, url_env: X}\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadStringErr(t, tc.yaml); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestAuthConfig_Resolvers(t *testing.T) {
	t.Setenv("TEST_API_KEY", "supersecret")
	t.Setenv("TEST_BEARER_TOKEN", "mytoken")
	t.Setenv("TEST_PASSWORD", "hunter2")
	a := AuthConfig{KeyEnv: "TEST_API_KEY", TokenEnv: "TEST_BEARER_TOKEN", PasswordEnv: "TEST_PASSWORD"}
	if got := a.Key(); got != "supersecret" {
		t.Errorf("Key(): got %q", got)
	}
	if got := a.Token(); got != "mytoken" {
		t.Errorf("Token(): got %q", got)
	}
	if got := a.Password(); got != "hunter2" {
		t.Errorf("Password(): got %q", got)
	}
	if got := (AuthConfig{}).Key(); got != "" {
		t.Errorf("Key() with no KeyEnv: got %q, want empty", got)
	}
}

func TestWebhookConfig_URL(t *testing.T) {
	t.Setenv("SLACK_URL", "https://hooks.example.com/slack")
	w := WebhookConfig{Type: "slack", URLEnv: "SLACK_URL"}
	if got := w.URL(); got != "https://hooks.example.com/slack" {
		t.Errorf("URL(): got %q", got)
	}
}

func TestPath_Env(t *testing.T) {
	t.Setenv("SENTINEL_CONFIG", "/etc/sentinel/config.yaml")
	if got := Path(); got != "/etc/sentinel/config.yaml" {
		t.Errorf("Path(): got %q", got)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  samples: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c *Config) { got <- c }) }()

	// Rewrite until the watcher has been registered and picks the change up.
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case c := <-got:
			// A reload may observe the truncated file mid-write; wait for the final content.
			if c.Agent.Samples != 7 {
				continue
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch returned error: %v", err)
			}
			return
		case <-ticker.C:
			_ = os.WriteFile(path, []byte("agent:\n  samples: 7\n"), 0o600)
		case <-deadline:
			t.Fatal("no reload observed within 5s")
		}
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
