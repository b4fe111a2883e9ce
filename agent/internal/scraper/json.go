package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/obsidianstack/sentinel/agent/internal/config"
	"github.com/obsidianstack/sentinel/pkg/types"
)

type jsonScraper struct {
	svc    config.Service
	client *http.Client
}

// Scrape fetches the service's /telemetry JSON document. Missing fields decode
// as zero values; the snapshot is normalised against the configured name.
func (s *jsonScraper) Scrape(ctx context.Context) (*types.TelemetrySnapshot, error) {
	var snap types.TelemetrySnapshot
	err := fetch(ctx, s.client, s.svc.URL, "application/json", func(r io.Reader) error {
		if err := json.NewDecoder(r).Decode(&snap); err != nil {
			return fmt.Errorf("decode json: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scraper %q: %w", s.svc.Name, err)
	}
	return snap.Normalize(s.svc.Name), nil
}
