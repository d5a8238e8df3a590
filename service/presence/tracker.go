package presence

import (
	"context"
	"sync"
	"time"

	"PPresence/logger"
	"PPresence/service/natsx"
	"PPresence/service/topics"
	"PPresence/tools/safe"

	"go.uber.org/zap"
)

const DefaultHeartbeat = 10 * time.Second

// member is the payload of enter/update/leave on presence:global.
type member struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Image  string `json:"image,omitempty"`
	Status string `json:"status,omitempty"`
}

// Tracker keeps the store in step with presence:global. Every client
// announces itself with enter, refreshes with update, answers sync
// requests and says leave on the way out.
type Tracker struct {
	reg       *natsx.Registry
	store     *Store
	reaper    *Reaper
	heartbeat time.Duration
	now       func() time.Time
	status    func() Status

	mu          sync.Mutex
	self        User
	started     bool
	subs        []*natsx.Subscription
	cancelState func()
	stop        context.CancelFunc
	done        chan struct{}
}

type TrackerOption func(*Tracker)

func WithHeartbeat(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.heartbeat = d
		}
	}
}

func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithStatusSource makes announcements carry fn's value instead of the
// status given at construction.
func WithStatusSource(fn func() Status) TrackerOption {
	return func(t *Tracker) { t.status = fn }
}

func NewTracker(reg *natsx.Registry, store *Store, self User, opts ...TrackerOption) *Tracker {
	if self.ID == "" {
		self.ID = reg.Identity()
	}
	if self.Status == "" {
		self.Status = Available
	}
	t := &Tracker{
		reg:       reg,
		store:     store,
		reaper:    NewReaper(store),
		heartbeat: DefaultHeartbeat,
		now:       time.Now,
		self:      self,
	}
	for _, fn := range opts {
		fn(t)
	}
	return t
}

// Start seeds the store with the local user, subscribes and announces.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	self := t.self
	t.mu.Unlock()

	self.LastSeen = t.now()
	self.Status = t.selfStatus()
	t.store.SetAll([]User{self})

	sub, err := t.reg.Subscribe(ctx, topics.PresenceGlobal, "", t.onEvent)
	if err != nil {
		t.mu.Lock()
		t.started = false
		t.mu.Unlock()
		return err
	}
	cancelState := t.reg.Transport().OnStateChange(t.onState)

	hbCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.cancelState = cancelState
	t.stop = stop
	t.done = done
	t.mu.Unlock()

	t.announce(ctx)
	safe.SafeGo("presence-heartbeat", func() {
		defer close(done)
		t.heartbeatLoop(hbCtx)
	})
	return nil
}

func (t *Tracker) announce(ctx context.Context) {
	if err := t.reg.Publish(ctx, topics.PresenceGlobal, topics.EventEnter, t.selfMember()); err != nil {
		logger.Warn("[presence] enter failed", zap.Error(err))
	}
	if err := t.reg.Publish(ctx, topics.PresenceGlobal, topics.EventSync, nil); err != nil {
		logger.Warn("[presence] sync request failed", zap.Error(err))
	}
}

func (t *Tracker) onState(c natsx.StateChange) {
	online := c.Current.Online()
	t.store.SetConnected(online)
	if online && c.Previous != c.Current && c.Previous != natsx.StateInitialized && c.Previous != natsx.StateConnecting {
		// back from an outage: peers may have reaped us
		t.touchSelf()
		t.announce(context.Background())
	}
}

func (t *Tracker) selfStatus() Status {
	if t.status != nil {
		if st := t.status(); st != "" {
			return st
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.self.Status
}

func (t *Tracker) selfMember() member {
	t.mu.Lock()
	self := t.self
	t.mu.Unlock()
	return member{ID: self.ID, Name: self.Name, Image: self.Image, Status: string(t.selfStatus())}
}

func (t *Tracker) touchSelf() {
	m := t.selfMember()
	now := t.now()
	if !t.store.Update(m.ID, func(u *User) { u.LastSeen = now }) {
		t.mu.Lock()
		self := t.self
		t.mu.Unlock()
		self.Status = Status(m.Status)
		self.LastSeen = now
		t.store.Upsert(self)
	}
}

// UpdateSelf changes the local profile and publishes it.
func (t *Tracker) UpdateSelf(ctx context.Context, name, image string) error {
	t.mu.Lock()
	t.self.Name, t.self.Image = name, image
	id := t.self.ID
	t.mu.Unlock()
	t.store.Update(id, func(u *User) { u.Name, u.Image = name, image })
	return t.reg.Publish(ctx, topics.PresenceGlobal, topics.EventUpdate, t.selfMember())
}

func (t *Tracker) heartbeatLoop(ctx context.Context) {
	tk := time.NewTicker(t.heartbeat)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			t.Beat(ctx)
		}
	}
}

// Beat refreshes the local entry, publishes update and reaps silent peers.
func (t *Tracker) Beat(ctx context.Context) {
	t.touchSelf()
	if err := t.reg.Publish(ctx, topics.PresenceGlobal, topics.EventUpdate, t.selfMember()); err != nil {
		logger.Debug("[presence] heartbeat publish failed", zap.Error(err))
	}
	t.reaper.Reap(t.now())
}

func (t *Tracker) onEvent(ctx context.Context, env natsx.Envelope) {
	switch env.Event {
	case topics.EventEnter, topics.EventUpdate:
		var m member
		if err := env.Decode(&m); err != nil {
			logger.Warn("[presence] bad member payload", zap.String("event", env.Event), zap.Error(err))
			return
		}
		if m.ID == "" {
			m.ID = env.Identity
		}
		if m.ID == "" {
			return
		}
		t.apply(m)

	case topics.EventLeave:
		id := env.Identity
		var m member
		if err := env.Decode(&m); err == nil && m.ID != "" {
			id = m.ID
		}
		if id == t.selfID() && env.SenderID != t.reg.SenderID() {
			// same identity on another device left; we are still here
			return
		}
		t.store.Remove(id)

	case topics.EventSync:
		if env.SenderID == t.reg.SenderID() {
			return
		}
		if err := t.reg.Publish(ctx, topics.PresenceGlobal, topics.EventUpdate, t.selfMember()); err != nil {
			logger.Debug("[presence] sync reply failed", zap.Error(err))
		}
	}
}

// apply refreshes the profile and LastSeen of m. The status in a presence
// payload only seeds a new entry; after that status:updates owns it.
func (t *Tracker) apply(m member) {
	now := t.now()
	if t.store.Update(m.ID, func(u *User) {
		u.Name, u.Image, u.LastSeen = m.Name, m.Image, now
	}) {
		return
	}
	u := User{ID: m.ID, Name: m.Name, Image: m.Image, LastSeen: now, Status: Available}
	if m.ID == t.selfID() {
		u.Status = t.selfStatus()
	} else if s, err := ParseStatus(m.Status); err == nil {
		u.Status = s
	}
	t.store.Upsert(u)
}

func (t *Tracker) selfID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.self.ID
}

// Stop publishes leave and releases every subscription.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = false
	subs, stop, done, cancelState := t.subs, t.stop, t.done, t.cancelState
	t.subs, t.stop, t.done, t.cancelState = nil, nil, nil, nil
	self := t.self
	t.mu.Unlock()

	stop()
	<-done
	cancelState()

	err := t.reg.Publish(ctx, topics.PresenceGlobal, topics.EventLeave, member{ID: self.ID})
	for _, s := range subs {
		s.Unsubscribe()
	}
	t.store.SetConnected(false)
	return err
}
