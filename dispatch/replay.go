package dispatch

import (
	"sync"
	"time"

	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// Replay guard defaults.
const (
	DefaultReplayCooldown       = 10 * time.Second
	DefaultReplayPruneThreshold = 1000
)

type replayKey struct{}

// replayGuard remembers when each call id was last seen on one connection.
type replayGuard struct {
	mu       sync.Mutex
	seen     map[string]time.Time
	cooldown time.Duration
	prune    int
}

func newReplayGuard(cooldown time.Duration, prune int) *replayGuard {
	return &replayGuard{
		seen:     make(map[string]time.Time),
		cooldown: cooldown,
		prune:    prune,
	}
}

// admit records id and reports whether it was not seen within the cooldown.
func (g *replayGuard) admit(id string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.seen[id]; ok && now.Sub(last) < g.cooldown {
		return false
	}
	g.seen[id] = now

	if len(g.seen) > g.prune {
		for k, t := range g.seen {
			if now.Sub(t) >= g.cooldown {
				delete(g.seen, k)
			}
		}
	}
	return true
}

func (g *replayGuard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// replayGuardFor returns the guard stored on conn, creating it on first use.
func (e *Engine) replayGuardFor(conn *protocol.Connection) *replayGuard {
	if g, ok := conn.Value(replayKey{}).(*replayGuard); ok {
		return g
	}
	g := conn.LoadOrStoreValue(replayKey{}, newReplayGuard(e.replayCooldown, e.replayPrune))
	return g.(*replayGuard)
}
