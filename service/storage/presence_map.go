package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// LegacyPresenceTTL matches the client-side staleness window.
const LegacyPresenceTTL = 30 * time.Second

// PresenceEntry is one row of the legacy polling presence map.
type PresenceEntry struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Image    string    `json:"image,omitempty"`
	Status   string    `json:"status,omitempty"`
	LastSeen time.Time `json:"-"`
}

// PresenceMap backs GET/POST /api/presence.
type PresenceMap interface {
	Touch(ctx context.Context, e PresenceEntry) error
	List(ctx context.Context) ([]PresenceEntry, error)
	Remove(ctx context.Context, id string) error
}

// MemoryPresence is the single-node PresenceMap used when no Redis is configured.
type MemoryPresence struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]PresenceEntry
	now func() time.Time
}

func NewMemoryPresence(ttl time.Duration) *MemoryPresence {
	if ttl <= 0 {
		ttl = LegacyPresenceTTL
	}
	return &MemoryPresence{ttl: ttl, m: make(map[string]PresenceEntry), now: time.Now}
}

func (p *MemoryPresence) Touch(_ context.Context, e PresenceEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.LastSeen = p.now()
	if old, ok := p.m[e.ID]; ok && e.Status == "" {
		e.Status = old.Status
	}
	p.m[e.ID] = e
	return nil
}

// List returns live entries ordered by id and drops expired ones.
func (p *MemoryPresence) List(_ context.Context) ([]PresenceEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := p.now().Add(-p.ttl)
	out := make([]PresenceEntry, 0, len(p.m))
	for id, e := range p.m {
		if e.LastSeen.Before(cutoff) {
			delete(p.m, id)
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *MemoryPresence) Remove(_ context.Context, id string) error {
	p.mu.Lock()
	delete(p.m, id)
	p.mu.Unlock()
	return nil
}
