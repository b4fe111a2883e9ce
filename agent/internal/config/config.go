package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultConfigPath    = "config.yaml"
	DefaultSamples       = 1
	DefaultInterval      = 2000 * time.Millisecond
	DefaultFetchTimeout  = 5 * time.Second
	DefaultBaselinePath  = "state/baselines.json"
	DefaultReportPath    = "reports/anomaly-signals.json"
	DefaultArchivePath   = "state/signals.db"
	DefaultRetention     = 7 * 24 * time.Hour
	DefaultHistorySize   = 30
	DefaultMinHistory    = 10
	DefaultZThreshold    = 3.0
	DefaultCooldown      = 60 * time.Second
	DefaultTopRoutes     = 3
	DefaultMinCurrentMs  = 250.0
	DefaultMinJumpMs     = 200.0
	DefaultFlatMinDelta  = 5.0
	SeverityModeFixed    = "fixed"
	SeverityModeScaled   = "scaled"
	FormatJSON           = "json"
	FormatPrometheus     = "prometheus"
	ArchiveBackendSQLite = "sqlite"
)

// Config is the top-level configuration. Fields map 1:1 to config.example.yaml.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all sentinel settings.
type AgentConfig struct {
	// Samples is the number of sampling rounds per run.
	Samples int `yaml:"samples"`

	// Interval is the pause between two rounds.
	Interval time.Duration `yaml:"interval"`

	// FetchTimeout bounds a single snapshot fetch so one hung service
	// cannot stall the round.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// Services is the ordered registry of monitored services.
	Services []Service `yaml:"services"`

	State     StateConfig     `yaml:"state"`
	Detection Detection       `yaml:"detection"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

// Service describes one monitored service.
type Service struct {
	// Name identifies the service when its snapshot does not declare one.
	Name string `yaml:"name"`

	// URL is the full telemetry endpoint.
	URL string `yaml:"url"`

	// Format is json (the /telemetry document) or prometheus (text exposition).
	Format string `yaml:"format"`

	Auth AuthConfig `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`
}

// AuthConfig specifies how the sentinel authenticates to a service.
type AuthConfig struct {
	// Mode is one of: apikey | bearer | basic | mtls | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header carrying the API key (apikey mode).
	Header string `yaml:"header"`
	// KeyEnv names the environment variable holding the API key.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv names the environment variable holding the bearer token.
	TokenEnv string `yaml:"token_env"`

	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`

	// CertFile and KeyFile are the client certificate pair (mtls mode).
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	// CAFile, when set, is the CA bundle used to verify the service.
	CAFile string `yaml:"ca_file"`
}

// Key returns the API key resolved from the environment.
func (a AuthConfig) Key() string { return envOrEmpty(a.KeyEnv) }

// Token returns the bearer token resolved from the environment.
func (a AuthConfig) Token() string { return envOrEmpty(a.TokenEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string { return envOrEmpty(a.PasswordEnv) }

// TLSConfig holds per-service TLS dial options.
type TLSConfig struct {
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// StateConfig locates the durable documents written by a run.
type StateConfig struct {
	BaselinePath string `yaml:"baseline_path"`
	ReportPath   string `yaml:"report_path"`
}

// Detection tunes the detectors and the cooldown gate.
type Detection struct {
	// HistorySize is the capacity of every rolling history.
	HistorySize int `yaml:"history_size"`

	// MinHistory is the number of points, current included, required before
	// a detector evaluates at all.
	MinHistory int `yaml:"min_history"`

	// ZThreshold is the minimum z-score for the statistical rules.
	ZThreshold float64 `yaml:"z_threshold"`

	// Cooldown suppresses repeated signals of one kind for one service.
	Cooldown time.Duration `yaml:"cooldown"`

	// TopRoutes is the number of offending routes attached to a signal.
	TopRoutes int `yaml:"top_routes"`

	// ExcludeRoutes are never ranked as offenders.
	ExcludeRoutes []string `yaml:"exclude_routes"`

	Latency LatencyRules `yaml:"latency"`
	Errors  ErrorRules   `yaml:"errors"`
}

// LatencyRules configures the latency spike detector.
type LatencyRules struct {
	// MinCurrentMs is the floor the current latency must reach on a flat baseline.
	MinCurrentMs float64 `yaml:"min_current_ms"`

	// MinJumpMs is the minimum increase over the baseline mean.
	MinJumpMs float64 `yaml:"min_jump_ms"`

	// SeverityMode is fixed (always critical/0.99) or scaled (derived from z).
	SeverityMode string `yaml:"severity_mode"`
}

// ErrorRules configures the error burst detector.
type ErrorRules struct {
	// FlatMinDelta is the per-round error increase that fires on a flat baseline.
	FlatMinDelta float64 `yaml:"flat_min_delta"`

	// RequireAboveMean also holds the flat-baseline rule to delta > mean, so a
	// steady non-zero error rate is not reported as a burst. When false, a
	// flat delta history fires on any delta >= FlatMinDelta.
	RequireAboveMean bool `yaml:"require_above_mean"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`

	// File, when set, sends logs to a size-rotated file instead of stdout.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	// Textfile is written after every round for the node-exporter textfile
	// collector. Empty disables the export.
	Textfile string `yaml:"textfile"`
}

// ArchiveConfig configures the optional historical signal archive.
type ArchiveConfig struct {
	// Backend selects the archive implementation: sqlite. Empty disables it.
	Backend string `yaml:"backend"`

	// Path is the filesystem path of the SQLite database file.
	Path string `yaml:"path"`

	// Retention is how long archived records are kept.
	Retention time.Duration `yaml:"retention"`
}

// WebhookConfig defines one webhook delivery target for fired signals.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string { return envOrEmpty(w.URLEnv) }

func envOrEmpty(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// Path returns the config file to load: $SENTINEL_CONFIG when set, otherwise
// DefaultConfigPath if it exists, otherwise "" (built-in defaults only).
func Path() string {
	if v := os.Getenv("SENTINEL_CONFIG"); v != "" {
		return v
	}
	if _, err := os.Stat(DefaultConfigPath); err == nil {
		return DefaultConfigPath
	}
	return ""
}

// Load reads and parses the YAML config file at path. An empty path yields the
// defaults. Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	fillZeroes(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Samples:      DefaultSamples,
			Interval:     DefaultInterval,
			FetchTimeout: DefaultFetchTimeout,
			State: StateConfig{
				BaselinePath: DefaultBaselinePath,
				ReportPath:   DefaultReportPath,
			},
			Detection: Detection{
				HistorySize:   DefaultHistorySize,
				MinHistory:    DefaultMinHistory,
				ZThreshold:    DefaultZThreshold,
				Cooldown:      DefaultCooldown,
				TopRoutes:     DefaultTopRoutes,
				ExcludeRoutes: []string{"GET /telemetry"},
				Latency: LatencyRules{
					MinCurrentMs: DefaultMinCurrentMs,
					MinJumpMs:    DefaultMinJumpMs,
					SeverityMode: SeverityModeFixed,
				},
				Errors: ErrorRules{FlatMinDelta: DefaultFlatMinDelta, RequireAboveMean: true},
			},
			Logging: LoggingConfig{Level: "info", JSON: true, MaxSizeMB: 50, MaxBackups: 3},
			Archive: ArchiveConfig{Path: DefaultArchivePath, Retention: DefaultRetention},
		},
	}
}

// DefaultDetection returns the default detector tuning.
func DefaultDetection() Detection {
	return defaults().Agent.Detection
}

// fillZeroes restores defaults for fields a config file set to an empty value
// and fills per-service format defaults.
func fillZeroes(cfg *Config) {
	a := &cfg.Agent
	if a.State.BaselinePath == "" {
		a.State.BaselinePath = DefaultBaselinePath
	}
	if a.State.ReportPath == "" {
		a.State.ReportPath = DefaultReportPath
	}
	if a.Detection.Latency.SeverityMode == "" {
		a.Detection.Latency.SeverityMode = SeverityModeFixed
	}
	if a.Archive.Path == "" {
		a.Archive.Path = DefaultArchivePath
	}
	for i := range a.Services {
		if a.Services[i].Format == "" {
			a.Services[i].Format = FormatJSON
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Agent.Logging.Level = v
	}
	if v := os.Getenv("SENTINEL_LOG_FORMAT"); v != "" {
		cfg.Agent.Logging.JSON = strings.EqualFold(v, "json")
	}
	if v := os.Getenv("SENTINEL_BASELINE_PATH"); v != "" {
		cfg.Agent.State.BaselinePath = v
	}
	if v := os.Getenv("SENTINEL_REPORT_PATH"); v != "" {
		cfg.Agent.State.ReportPath = v
	}
	if v := os.Getenv("SENTINEL_METRICS_TEXTFILE"); v != "" {
		cfg.Agent.Metrics.Textfile = v
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.Samples <= 0 {
		return fmt.Errorf("agent.samples must be positive")
	}
	if a.Interval < 0 {
		return fmt.Errorf("agent.interval must not be negative")
	}
	if a.FetchTimeout <= 0 {
		return fmt.Errorf("agent.fetch_timeout must be positive")
	}

	seen := make(map[string]bool, len(a.Services))
	for i, svc := range a.Services {
		if svc.Name == "" {
			return fmt.Errorf("services[%d]: name is required", i)
		}
		if seen[svc.Name] {
			return fmt.Errorf("services[%d]: duplicate name %q", i, svc.Name)
		}
		seen[svc.Name] = true
		if svc.URL == "" {
			return fmt.Errorf("services[%d] %q: url is required", i, svc.Name)
		}
		switch svc.Format {
		case FormatJSON, FormatPrometheus:
		default:
			return fmt.Errorf("services[%d] %q: unknown format %q", i, svc.Name, svc.Format)
		}
		switch svc.Auth.Mode {
		case "apikey", "bearer", "basic", "none", "":
		case "mtls":
			if svc.Auth.CertFile == "" || svc.Auth.KeyFile == "" {
				return fmt.Errorf("services[%d] %q: mtls requires cert_file and key_file", i, svc.Name)
			}
		default:
			return fmt.Errorf("services[%d] %q: unknown auth mode %q", i, svc.Name, svc.Auth.Mode)
		}
	}

	d := a.Detection
	if d.MinHistory < 2 {
		return fmt.Errorf("detection.min_history must be at least 2")
	}
	if d.HistorySize < d.MinHistory {
		return fmt.Errorf("detection.history_size (%d) must be >= min_history (%d)", d.HistorySize, d.MinHistory)
	}
	if d.ZThreshold <= 0 {
		return fmt.Errorf("detection.z_threshold must be positive")
	}
	if d.Cooldown < 0 {
		return fmt.Errorf("detection.cooldown must not be negative")
	}
	if d.TopRoutes < 0 {
		return fmt.Errorf("detection.top_routes must not be negative")
	}
	switch d.Latency.SeverityMode {
	case SeverityModeFixed, SeverityModeScaled:
	default:
		return fmt.Errorf("detection.latency.severity_mode: unknown mode %q", d.Latency.SeverityMode)
	}

	switch a.Archive.Backend {
	case "", ArchiveBackendSQLite:
	default:
		return fmt.Errorf("archive.backend: unknown backend %q", a.Archive.Backend)
	}
	for i, wh := range a.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("webhooks[%d]: unknown type %q", i, wh.Type)
		}
	}
	return nil
}
