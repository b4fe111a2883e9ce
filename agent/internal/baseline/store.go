// Package baseline keeps the rolling per-service history the detectors compare
// against, and persists it as a single JSON document between rounds and runs.
package baseline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/obsidianstack/sentinel/agent/internal/fsutil"
	"github.com/obsidianstack/sentinel/pkg/types"
)

// DefaultCapacity is the number of points each rolling history retains.
const DefaultCapacity = 30

// ServiceBaseline is the durable state tracked for one service.
type ServiceBaseline struct {
	// LatencyHistory holds avg_latency_ms samples, oldest first.
	LatencyHistory []float64 `json:"latency_history"`

	// ErrorDeltaHistory holds the per-round increase of total_errors, oldest first.
	ErrorDeltaHistory []float64 `json:"error_delta_history"`

	// LastTotalErrors is the cumulative error count seen last round. Nil until
	// the service has been observed once.
	LastTotalErrors *int64 `json:"last_total_errors,omitempty"`

	// LastSignalAt records when each signal kind last fired, for cooldown.
	LastSignalAt map[types.Kind]time.Time `json:"last_signal_at,omitempty"`
}

// document is the on-disk shape of the store.
type document struct {
	Services map[string]*ServiceBaseline `json:"services"`
}

// Store holds every service baseline of a run. It is owned by the sampler
// goroutine and is not safe for concurrent use.
type Store struct {
	path     string
	capacity int
	services map[string]*ServiceBaseline
}

// New returns an empty Store persisted at path.
func New(path string, capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{path: path, capacity: capacity, services: make(map[string]*ServiceBaseline)}
}

// Open returns a Store seeded from the document at path. Histories longer
// than capacity are cut down to their newest entries.
func Open(path string, capacity int) *Store {
	s := New(path, capacity)
	for id, b := range Load(path) {
		if b == nil {
			continue
		}
		b.LatencyHistory = truncate(b.LatencyHistory, s.capacity)
		b.ErrorDeltaHistory = truncate(b.ErrorDeltaHistory, s.capacity)
		s.services[id] = b
	}
	return s
}

// Load reads the document at path. A missing or unparsable file yields an
// empty map: the run starts from a cold baseline rather than failing.
func Load(path string) map[string]*ServiceBaseline {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("baseline: read failed, starting empty", "path", path, "err", err)
		}
		return map[string]*ServiceBaseline{}
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("baseline: unparsable store, starting empty", "path", path, "err", err)
		return map[string]*ServiceBaseline{}
	}
	if doc.Services == nil {
		return map[string]*ServiceBaseline{}
	}
	return doc.Services
}

// Save overwrites the document at path with the full store. The file is
// written next to its destination and renamed into place.
func (s *Store) Save() error {
	data, err := json.MarshalIndent(document{Services: s.services}, "", "  ")
	if err != nil {
		return fmt.Errorf("baseline: encode: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("baseline: save %s: %w", s.path, err)
	}
	return nil
}

// Path returns the document location.
func (s *Store) Path() string { return s.path }

// Capacity returns the per-history capacity.
func (s *Store) Capacity() int { return s.capacity }

// Get returns the baseline for id without creating it.
func (s *Store) Get(id string) (*ServiceBaseline, bool) {
	b, ok := s.services[id]
	return b, ok
}

// GetOrCreate returns the baseline for id, creating an empty one on first sight.
func (s *Store) GetOrCreate(id string) *ServiceBaseline {
	if b, ok := s.services[id]; ok {
		return b
	}
	b := &ServiceBaseline{
		LatencyHistory:    []float64{},
		ErrorDeltaHistory: []float64{},
		LastSignalAt:      make(map[types.Kind]time.Time),
	}
	s.services[id] = b
	return b
}

// Len returns the number of services with a baseline.
func (s *Store) Len() int { return len(s.services) }

// Services returns the known service ids in sorted order.
func (s *Store) Services() []string {
	ids := make([]string, 0, len(s.services))
	for id := range s.services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RecordLatency appends v to the latency history of id and returns the
// updated history, current value last. Negative and non-finite values are
// recorded as 0; the store document cannot hold NaN or Inf.
func (s *Store) RecordLatency(id string, v float64) []float64 {
	b := s.GetOrCreate(id)
	b.LatencyHistory = push(b.LatencyHistory, types.NonNegative(v), s.capacity)
	return b.LatencyHistory
}

// RecordErrorDelta derives the error increase since the last observation of
// id from the cumulative count, appends it and returns it. The first
// observation yields 0; a counter reset is clamped to 0.
func (s *Store) RecordErrorDelta(id string, cumulative int64) float64 {
	b := s.GetOrCreate(id)
	last := cumulative
	if b.LastTotalErrors != nil {
		last = *b.LastTotalErrors
	}
	delta := float64(cumulative - last)
	if delta < 0 {
		delta = 0
	}
	b.ErrorDeltaHistory = push(b.ErrorDeltaHistory, delta, s.capacity)
	b.LastTotalErrors = &cumulative
	return delta
}

// push appends v and drops the oldest entries beyond capacity.
func push(h []float64, v float64, capacity int) []float64 {
	h = append(h, v)
	return truncate(h, capacity)
}

// truncate keeps the newest capacity entries of h in a fresh slice.
func truncate(h []float64, capacity int) []float64 {
	if len(h) <= capacity {
		return h
	}
	out := make([]float64, capacity)
	copy(out, h[len(h)-capacity:])
	return out
}
