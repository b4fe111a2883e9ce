package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/sentinel/agent/internal/baseline"
	"github.com/obsidianstack/sentinel/agent/internal/config"
	"github.com/obsidianstack/sentinel/agent/internal/detect"
	"github.com/obsidianstack/sentinel/agent/internal/metrics"
	"github.com/obsidianstack/sentinel/agent/internal/scraper"
	"github.com/obsidianstack/sentinel/pkg/types"
)

// Options controls the shape of a run.
type Options struct {
	Samples      int
	Interval     time.Duration
	FetchTimeout time.Duration
	// MetricsTextfile, when set, receives the Prometheus registry after every round.
	MetricsTextfile string
}

// OptionsFrom derives run options from the agent config.
func OptionsFrom(cfg config.AgentConfig) Options {
	return Options{
		Samples:         cfg.Samples,
		Interval:        cfg.Interval,
		FetchTimeout:    cfg.FetchTimeout,
		MetricsTextfile: cfg.Metrics.Textfile,
	}
}

// ScraperFactory builds the scraper for one service.
type ScraperFactory func(svc config.Service, timeout time.Duration) (scraper.Scraper, error)

// target is a registered service with its scraper, or the error that
// prevented building one.
type target struct {
	svc config.Service
	s   scraper.Scraper
	err error
}

// Sampler runs sampling rounds over the service registry. Run must not be
// called concurrently; UpdateServices may be called from any goroutine.
type Sampler struct {
	engine *detect.Engine
	store  *baseline.Store
	opts   Options

	newScraper ScraperFactory
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	targets []target

	mu      sync.Mutex
	pending []config.Service
	reload  bool
}

// New returns a Sampler over services. engine and store must share state:
// the engine records into store and the sampler persists it.
func New(services []config.Service, engine *detect.Engine, store *baseline.Store, opts Options) *Sampler {
	if opts.Samples <= 0 {
		opts.Samples = config.DefaultSamples
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = config.DefaultFetchTimeout
	}
	s := &Sampler{
		engine:     engine,
		store:      store,
		opts:       opts,
		newScraper: scraper.New,
		now:        time.Now,
		sleep:      sleepCtx,
	}
	s.targets = s.build(services)
	return s
}

// UpdateServices replaces the service registry. The new list takes effect at
// the start of the next round.
func (s *Sampler) UpdateServices(services []config.Service) {
	cp := make([]config.Service, len(services))
	copy(cp, services)

	s.mu.Lock()
	s.pending = cp
	s.reload = true
	s.mu.Unlock()
}

func (s *Sampler) applyPending() {
	s.mu.Lock()
	services, ok := s.pending, s.reload
	s.pending, s.reload = nil, false
	s.mu.Unlock()

	if !ok {
		return
	}
	s.targets = s.build(services)
	slog.Info("sampler: service registry reloaded", "services", len(s.targets))
}

func (s *Sampler) build(services []config.Service) []target {
	out := make([]target, 0, len(services))
	for _, svc := range services {
		sc, err := s.newScraper(svc, s.opts.FetchTimeout)
		if err != nil {
			slog.Error("sampler: could not build scraper", "service", svc.Name, "err", err)
		}
		out = append(out, target{svc: svc, s: sc, err: err})
	}
	return out
}

// Run executes the configured number of rounds and returns the aggregate
// report. When ctx is cancelled, Run stops before the next fetch, persists
// the store and returns the partial report together with ctx.Err().
func (s *Sampler) Run(ctx context.Context) (*types.Report, error) {
	report := &types.Report{
		RunID:      uuid.NewString(),
		Samples:    s.opts.Samples,
		IntervalMs: s.opts.Interval.Milliseconds(),
		Signals:    []types.Record{},
	}
	slog.Info("sampler: run started",
		"run_id", report.RunID,
		"samples", s.opts.Samples,
		"interval", s.opts.Interval,
		"services", len(s.targets),
		"history_capacity", s.store.Capacity(),
	)

	for round := 1; round <= s.opts.Samples; round++ {
		if ctx.Err() != nil {
			break
		}
		s.applyPending()

		start := s.now()
		report.Signals = append(report.Signals, s.runRound(ctx, round)...)
		s.flush()
		metrics.ObserveRound(s.now().Sub(start))
		if err := metrics.WriteTextfile(s.opts.MetricsTextfile); err != nil {
			slog.Warn("sampler: metrics textfile write failed", "path", s.opts.MetricsTextfile, "err", err)
		}

		if round == s.opts.Samples {
			break
		}
		if err := s.sleep(ctx, s.opts.Interval); err != nil {
			break
		}
	}

	report.GeneratedAt = s.now().UTC()
	if err := ctx.Err(); err != nil {
		slog.Warn("sampler: run interrupted, returning partial report",
			"run_id", report.RunID, "records", len(report.Signals))
		return report, err
	}
	slog.Info("sampler: run finished",
		"run_id", report.RunID,
		"signals", len(report.SignalList()),
		"failures", len(report.Failures()),
	)
	return report, nil
}

// runRound samples every target once, in registry order.
func (s *Sampler) runRound(ctx context.Context, round int) []types.Record {
	var out []types.Record
	for _, t := range s.targets {
		if ctx.Err() != nil {
			return out
		}
		out = append(out, s.sampleOne(ctx, round, t)...)
	}
	return out
}

// sampleOne fetches and processes a single service. Any error or panic is
// turned into a FetchFailure record for the round.
func (s *Sampler) sampleOne(ctx context.Context, round int, t target) (recs []types.Record) {
	fail := func(err error) []types.Record {
		metrics.ObserveFetchFailure(t.svc.Name)
		slog.Warn("sampler: service skipped this round",
			"service", t.svc.Name, "round", round, "err", err)
		return []types.Record{{Failure: &types.FetchFailure{
			Service:   t.svc.Name,
			Error:     err.Error(),
			Round:     round,
			Timestamp: s.now().UTC(),
		}}}
	}

	defer func() {
		if r := recover(); r != nil {
			recs = fail(fmt.Errorf("panic: %v", r))
		}
	}()

	if t.err != nil {
		return fail(t.err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	snap, err := t.s.Scrape(fetchCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fail(err)
	}

	res := s.engine.Process(snap, s.now().UTC())
	for _, sig := range res.Emitted {
		recs = append(recs, types.Record{Signal: sig})
	}
	slog.Debug("sampler: service sampled",
		"service", res.Service,
		"round", round,
		"latency_ms", snap.HTTP.AvgLatencyMs,
		"total_errors", snap.HTTP.TotalErrors,
		"emitted", len(res.Emitted),
		"suppressed", len(res.Suppressed),
	)
	return recs
}

func (s *Sampler) flush() {
	if err := s.store.Save(); err != nil {
		slog.Error("sampler: baseline save failed", "path", s.store.Path(), "err", err)
		return
	}
	slog.Debug("sampler: baseline saved", "path", s.store.Path(), "services", s.store.Len())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
