package advisor

import (
	"sync"
	"time"

	"github.com/aristath/steward/internal/events"
)

// progressInterval is the minimum gap between SessionProgress events.
// Terminal updates (percent >= 100) bypass the throttle so completion
// is never dropped.
const progressInterval = 100 * time.Millisecond

// progressReporter rate-limits session progress events on the bus.
type progressReporter struct {
	events    *events.Manager
	sessionID string

	mu       sync.Mutex
	lastEmit time.Time
}

func newProgressReporter(evts *events.Manager, sessionID string) *progressReporter {
	return &progressReporter{events: evts, sessionID: sessionID}
}

// report emits a SessionProgress event unless one went out within
// progressInterval. percent is overall pipeline completion, 0..100.
func (p *progressReporter) report(stage string, percent float64, message string) {
	if p.events == nil {
		return
	}

	now := time.Now()
	p.mu.Lock()
	if percent < 100 && now.Sub(p.lastEmit) < progressInterval {
		p.mu.Unlock()
		return
	}
	p.lastEmit = now
	p.mu.Unlock()

	p.events.EmitTyped(events.SessionProgress, "advisor", &events.SessionProgressData{
		SessionID: p.sessionID,
		Stage:     stage,
		Percent:   percent,
		Message:   message,
	})
}
