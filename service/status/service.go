// Package status keeps the local user's status value and reconciles it
// with every other client through status:updates.
package status

import (
	"context"
	"sync"
	"time"

	"PPresence/logger"
	"PPresence/service/natsx"
	"PPresence/service/presence"
	"PPresence/service/topics"
	"PPresence/tools"

	"go.uber.org/zap"
)

// Update is the status-update payload.
type Update struct {
	UserID    string `json:"userId"`
	State     string `json:"state"`
	Timestamp int64  `json:"timestamp"`
}

// API persists the status. Its POST side publishes status-update itself.
type API interface {
	GetStatus(ctx context.Context) (string, error)
	PostStatus(ctx context.Context, state string) error
}

type Service struct {
	identity string
	store    *presence.Store
	reg      *natsx.Registry
	api      API
	now      func() time.Time

	mu      sync.Mutex
	value   presence.Status
	applied map[string]int64 // userId -> last applied timestamp
	sub     *natsx.Subscription
}

type Option func(*Service)

// WithAPI routes SetStatus through the collaborator instead of publishing directly.
func WithAPI(api API) Option {
	return func(s *Service) { s.api = api }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(identity string, store *presence.Store, reg *natsx.Registry, opts ...Option) *Service {
	s := &Service{
		identity: identity,
		store:    store,
		reg:      reg,
		now:      time.Now,
		value:    presence.Available,
		applied:  make(map[string]int64),
	}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

// GetStatus is local only.
func (s *Service) GetStatus() presence.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// SetStatus applies v locally and to the store before any network call,
// then persists or publishes it. On failure the local value stands.
func (s *Service) SetStatus(ctx context.Context, v presence.Status) error {
	st, err := presence.ParseStatus(string(v))
	if err != nil {
		return err
	}
	ts := s.now().UnixMilli()

	s.mu.Lock()
	s.value = st
	// with an API the server stamps the broadcast; our clock must not join
	// the comparison
	if s.api == nil && ts > s.applied[s.identity] {
		s.applied[s.identity] = ts
	}
	s.mu.Unlock()
	s.mirror(st)

	if s.api != nil {
		if err := s.api.PostStatus(ctx, string(st)); err != nil {
			logger.Warn("[status] persist failed, keeping local value", zap.String("state", string(st)), zap.Error(err))
			return err
		}
		return nil
	}
	if s.reg == nil {
		return nil
	}
	return s.reg.Publish(ctx, topics.StatusUpdates, topics.EventStatusUpdate, Update{UserID: s.identity, State: string(st), Timestamp: ts})
}

func (s *Service) mirror(st presence.Status) {
	if !s.store.Update(s.identity, func(u *presence.User) { u.Status = st }) {
		s.store.Upsert(presence.User{ID: s.identity, Status: st, LastSeen: s.now()})
	}
}

// Load fetches the persisted value; unset means Available.
func (s *Service) Load(ctx context.Context) (presence.Status, error) {
	if s.api == nil {
		return s.GetStatus(), nil
	}
	raw, err := s.api.GetStatus(ctx)
	if err != nil {
		return s.GetStatus(), err
	}
	st := presence.Available
	if raw != "" {
		if parsed, perr := presence.ParseStatus(raw); perr == nil {
			st = parsed
		} else {
			logger.Warn("[status] unknown persisted state", zap.String("state", raw))
		}
	}
	s.mu.Lock()
	s.value = st
	s.mu.Unlock()
	s.mirror(st)
	return st, nil
}

// Start listens for status-update on status:updates.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	started := s.sub != nil
	s.mu.Unlock()
	if started || s.reg == nil {
		return nil
	}
	sub, err := s.reg.Subscribe(ctx, topics.StatusUpdates, topics.EventStatusUpdate, s.onUpdate)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	sub.Unsubscribe()
}

func (s *Service) onUpdate(_ context.Context, env natsx.Envelope) {
	var u Update
	if err := env.Decode(&u); err != nil {
		logger.Warn("[status] bad status-update", zap.Error(err))
		return
	}
	if u.UserID == "" {
		u.UserID = env.Identity
	}
	st, err := presence.ParseStatus(u.State)
	if u.UserID == "" || err != nil {
		logger.Warn("[status] dropping status-update", zap.String("userId", u.UserID), zap.String("state", u.State))
		return
	}
	if u.Timestamp == 0 {
		u.Timestamp = env.TS
	}

	s.mu.Lock()
	if u.Timestamp < s.applied[u.UserID] {
		s.mu.Unlock()
		logger.Debug("[status] stale status-update ignored", zap.String("userId", u.UserID), zap.Time("at", tools.UnixMilli(u.Timestamp)))
		return
	}
	s.applied[u.UserID] = u.Timestamp
	if u.UserID == s.identity {
		s.value = st
	}
	s.mu.Unlock()

	s.store.Update(u.UserID, func(p *presence.User) { p.Status = st })
}
