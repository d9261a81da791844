package throttle

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/oggyb/anon-relay/internal/session"
)

const defaultCacheSize = 100_000

// MemoryGuard keeps per-user windows in process memory. Windows of the
// least recently active users are evicted once the cache is full; an
// evicted user starts with an empty window.
type MemoryGuard struct {
	cfg     Config
	mu      sync.Mutex
	windows *lru.Cache[session.UserID, []time.Time]
}

var _ Guard = (*MemoryGuard)(nil)

func NewMemoryGuard(cfg Config, cacheSize int) *MemoryGuard {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	// only errors on a non-positive size
	windows, _ := lru.New[session.UserID, []time.Time](cacheSize)
	return &MemoryGuard{cfg: cfg.normalized(), windows: windows}
}

func (g *MemoryGuard) Check(_ context.Context, id session.UserID, now time.Time) (Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts, _ := g.windows.Get(id)
	start := now.Add(-g.cfg.Window)

	n := 0
	for _, t := range ts {
		if !t.Before(start) && !t.After(now) {
			n++
		}
	}
	if n >= g.cfg.MaxActions {
		return Throttled, nil
	}

	kept := make([]time.Time, 0, len(ts)+1)
	for _, t := range ts {
		if !t.Before(start) {
			kept = append(kept, t)
		}
	}
	g.windows.Add(id, append(kept, now))
	return Allowed, nil
}

// Len returns the number of tracked users.
func (g *MemoryGuard) Len() int {
	return g.windows.Len()
}
