package presence

import (
	"context"
	"sync"
	"time"

	"PPresence/logger"
	"PPresence/service/apiclient"

	"go.uber.org/zap"
)

const DefaultPollEvery = 10 * time.Second

// PresenceAPI is the legacy HTTP presence endpoint.
type PresenceAPI interface {
	GetPresence(ctx context.Context) ([]apiclient.PresenceEntry, error)
	PostPresence(ctx context.Context, name, image string) ([]apiclient.PresenceEntry, error)
	DeletePresence(ctx context.Context) error
}

// Poller is the non-realtime fallback: it heartbeats over HTTP and relies
// on the reaper to drop users who stopped polling.
type Poller struct {
	api    PresenceAPI
	store  *Store
	reaper *Reaper
	every  time.Duration
	reapEv time.Duration
	now    func() time.Time

	mu   sync.Mutex
	self User
}

func NewPoller(api PresenceAPI, store *Store, self User, every time.Duration) *Poller {
	if every <= 0 {
		every = DefaultPollEvery
	}
	return &Poller{
		api:    api,
		store:  store,
		reaper: NewReaper(store),
		self:   self,
		every:  every,
		reapEv: StaleAfter / 3,
		now:    time.Now,
	}
}

// Poll runs one round: heartbeat, fetch, upsert, reap.
func (p *Poller) Poll(ctx context.Context) error {
	p.mu.Lock()
	self := p.self
	p.mu.Unlock()
	if _, err := p.api.PostPresence(ctx, self.Name, self.Image); err != nil {
		p.store.SetConnected(false)
		return err
	}
	entries, err := p.api.GetPresence(ctx)
	if err != nil {
		p.store.SetConnected(false)
		return err
	}

	now := p.now()
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		u := User{ID: e.ID, Name: e.Name, Image: e.Image, LastSeen: now}
		if s, err := ParseStatus(e.Status); err == nil {
			u.Status = s
		} else if old, ok := p.store.Get(e.ID); ok {
			u.Status = old.Status
		} else {
			u.Status = Available
		}
		p.store.Upsert(u)
	}
	p.reaper.Reap(now)
	p.store.SetConnected(true)
	return nil
}

// Run polls immediately and then on every tick until ctx is done. The
// reaper runs on its own tick so peers still expire while the API is down.
func (p *Poller) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reaper.Run(ctx, p.reapEv)
	}()
	defer wg.Wait()

	t := time.NewTicker(p.every)
	defer t.Stop()
	for {
		if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("[presence] poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// SetProfile changes what the next heartbeat sends and the local entry.
func (p *Poller) SetProfile(name, image string) {
	p.mu.Lock()
	p.self.Name, p.self.Image = name, image
	id := p.self.ID
	p.mu.Unlock()
	p.store.Update(id, func(u *User) { u.Name, u.Image = name, image })
}

// Leave removes us from the server's map instead of waiting for the TTL.
func (p *Poller) Leave(ctx context.Context) error {
	p.store.SetConnected(false)
	return p.api.DeletePresence(ctx)
}
