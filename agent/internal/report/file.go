package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/obsidianstack/sentinel/agent/internal/fsutil"
	"github.com/obsidianstack/sentinel/pkg/types"
)

// FileWriter writes the report as an indented JSON document at Path,
// replacing any previous report.
type FileWriter struct {
	Path string
}

// NewFileWriter returns a FileWriter for path.
func NewFileWriter(path string) *FileWriter {
	return &FileWriter{Path: path}
}

// Name implements Sink.
func (w *FileWriter) Name() string { return "file" }

// Publish implements Sink.
func (w *FileWriter) Publish(_ context.Context, rep *types.Report) error {
	if rep.Signals == nil {
		rep.Signals = []types.Record{}
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := fsutil.WriteFileAtomic(w.Path, append(data, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", w.Path, err)
	}
	slog.Info("report: written",
		"path", w.Path,
		"signals", len(rep.SignalList()),
		"failures", len(rep.Failures()),
	)
	return nil
}
