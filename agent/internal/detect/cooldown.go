package detect

import (
	"time"

	"github.com/obsidianstack/sentinel/agent/internal/baseline"
	"github.com/obsidianstack/sentinel/pkg/types"
)

// Gate suppresses repeated signals of the same kind for the same service.
// Its state lives in ServiceBaseline.LastSignalAt so it survives restarts.
type Gate struct {
	Window time.Duration
}

// Allow reports whether kind may fire for b at now: it never fired, or it
// last fired at least Window ago.
func (g Gate) Allow(b *baseline.ServiceBaseline, kind types.Kind, now time.Time) bool {
	last, ok := b.LastSignalAt[kind]
	if !ok {
		return true
	}
	return now.Sub(last) >= g.Window
}

// Mark records that kind fired for b at now.
func (g Gate) Mark(b *baseline.ServiceBaseline, kind types.Kind, now time.Time) {
	if b.LastSignalAt == nil {
		b.LastSignalAt = make(map[types.Kind]time.Time)
	}
	b.LastSignalAt[kind] = now
}
