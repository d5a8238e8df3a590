package presence

import (
	"context"
	"time"

	"PPresence/logger"

	"go.uber.org/zap"
)

// StaleAfter is the freshness window for presence entries.
const StaleAfter = 30 * time.Second

// Reaper evicts entries whose LastSeen fell outside the window.
type Reaper struct {
	store  *Store
	window time.Duration
}

func NewReaper(store *Store) *Reaper {
	return &Reaper{store: store, window: StaleAfter}
}

// Reap removes every entry with LastSeen strictly older than now-30s and
// returns the removed ids.
func (r *Reaper) Reap(now time.Time) []string {
	cutoff := now.Add(-r.window)
	var stale []string
	for _, u := range r.store.Users() {
		if u.LastSeen.Before(cutoff) {
			stale = append(stale, u.ID)
		}
	}
	if len(stale) > 0 {
		r.store.RemoveMany(stale)
		logger.Debug("[presence] reaped stale entries", zap.Strings("ids", stale))
	}
	return stale
}

// Run reaps every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 10 * time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			r.Reap(now)
		}
	}
}
