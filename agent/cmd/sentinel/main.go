package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/obsidianstack/sentinel/agent/internal/baseline"
	"github.com/obsidianstack/sentinel/agent/internal/config"
	"github.com/obsidianstack/sentinel/agent/internal/detect"
	"github.com/obsidianstack/sentinel/agent/internal/logging"
	"github.com/obsidianstack/sentinel/agent/internal/report"
	"github.com/obsidianstack/sentinel/agent/internal/sampler"
)

// publishTimeout bounds the sinks after the run, which may outlive a
// cancelled run context.
const publishTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		samples    int
		intervalMs int
	)
	cmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Sample service telemetry and report latency spikes and error bursts",
		Long: `sentinel polls every registered service's telemetry endpoint for a fixed
number of rounds, keeps a rolling baseline per service and writes the fired
anomaly signals to a report file.

The config file is read from $SENTINEL_CONFIG, falling back to ./config.yaml.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.Path()
			cfg, err := config.Load(path)
			if err != nil {
				slog.Error("failed to load config", "path", path, "err", err)
				return err
			}
			if cmd.Flags().Changed("samples") {
				if samples <= 0 {
					return fmt.Errorf("--samples must be positive, got %d", samples)
				}
				cfg.Agent.Samples = samples
			}
			if cmd.Flags().Changed("interval-ms") {
				if intervalMs < 0 {
					return fmt.Errorf("--interval-ms must not be negative, got %d", intervalMs)
				}
				cfg.Agent.Interval = time.Duration(intervalMs) * time.Millisecond
			}

			slog.SetDefault(logging.New(cfg.Agent.Logging))
			slog.Info("sentinel starting",
				"config", path,
				"services", len(cfg.Agent.Services),
				"samples", cfg.Agent.Samples,
				"interval", cfg.Agent.Interval,
			)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := run(ctx, path, cfg); err != nil {
				slog.Error("sentinel failed", "err", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&samples, "samples", config.DefaultSamples, "number of sampling rounds")
	cmd.Flags().IntVar(&intervalMs, "interval-ms", int(config.DefaultInterval/time.Millisecond),
		"pause between rounds in milliseconds")
	return cmd
}

// run executes one detection run and publishes its report. Only a failure to
// write the report file is returned; other sinks are best effort.
func run(ctx context.Context, cfgPath string, cfg *config.Config) error {
	a := cfg.Agent

	store := baseline.Open(a.State.BaselinePath, a.Detection.HistorySize)
	engine := detect.NewEngine(store, a.Detection)
	smp := sampler.New(a.Services, engine, store, sampler.OptionsFrom(a))

	if len(a.Services) == 0 {
		slog.Warn("no services configured, report will be empty")
	}

	// Registry changes apply at the next round; detection settings need a restart.
	if cfgPath != "" {
		go func() {
			if err := config.Watch(ctx, cfgPath, func(updated *config.Config) {
				smp.UpdateServices(updated.Agent.Services)
				slog.Info("config hot-reloaded", "services", len(updated.Agent.Services))
			}); err != nil && ctx.Err() == nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	rep, err := smp.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sampler: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := report.NewFileWriter(a.State.ReportPath).Publish(pubCtx, rep); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	sinks, closeSinks := optionalSinks(a)
	defer closeSinks()
	if len(sinks) > 0 {
		if err := sinks.Publish(pubCtx, rep); err != nil {
			slog.Warn("some report sinks failed", "err", err)
		}
	}

	slog.Info("sentinel finished",
		"run_id", rep.RunID,
		"signals", len(rep.SignalList()),
		"failures", len(rep.Failures()),
		"report", a.State.ReportPath,
	)
	return nil
}

// optionalSinks builds the archive and webhook sinks enabled in the config.
func optionalSinks(a config.AgentConfig) (report.Multi, func()) {
	var (
		sinks  report.Multi
		closer = func() {}
	)
	if a.Archive.Backend == config.ArchiveBackendSQLite {
		archive, err := report.OpenArchive(a.Archive.Path, a.Archive.Retention)
		if err != nil {
			slog.Error("archive disabled", "path", a.Archive.Path, "err", err)
		} else {
			sinks = append(sinks, archive)
			closer = func() {
				if err := archive.Close(); err != nil {
					slog.Warn("archive close failed", "err", err)
				}
			}
		}
	}
	if len(a.Webhooks) > 0 {
		sinks = append(sinks, report.NewNotifier(a.Webhooks))
	}
	return sinks, closer
}
