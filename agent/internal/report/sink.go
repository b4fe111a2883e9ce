package report

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/obsidianstack/sentinel/pkg/types"
)

// Sink receives the aggregate report at the end of a run.
type Sink interface {
	Name() string
	Publish(ctx context.Context, rep *types.Report) error
}

// Multi publishes to every sink in order. All sinks are attempted; the first
// error is returned.
type Multi []Sink

// Name implements Sink.
func (m Multi) Name() string { return "multi" }

// Publish implements Sink.
func (m Multi) Publish(ctx context.Context, rep *types.Report) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, rep); err != nil {
			slog.Error("report: sink failed", "sink", s.Name(), "run_id", rep.RunID, "err", err)
			if first == nil {
				first = fmt.Errorf("report: %s: %w", s.Name(), err)
			}
			continue
		}
		slog.Debug("report: sink published", "sink", s.Name(), "run_id", rep.RunID)
	}
	return first
}
