// Package realtime wires the presence components together for one signed-in
// identity at a time.
package realtime

import (
	"context"
	"sync"
	"time"

	"PPresence/logger"
	"PPresence/service/natsx"
	"PPresence/service/presence"
	"PPresence/service/relay"
	"PPresence/service/status"
	"PPresence/tools/errs"
	"PPresence/tools/safe"

	"go.uber.org/zap"
)

// API is the collaborator HTTP surface; *apiclient.Client satisfies it.
type API interface {
	presence.PresenceAPI
	status.API
}

type Config struct {
	Nats          natsx.NatsxConfig
	Heartbeat     time.Duration // 默认 presence.DefaultHeartbeat
	PollEvery     time.Duration // 仅轮询模式
	ReleaseSettle time.Duration
}

type Option func(*Engine)

func WithDialer(d natsx.Dialer) Option {
	return func(e *Engine) { e.dialOpts = append(e.dialOpts, natsx.WithDialer(d)) }
}

// WithAPI persists status through the collaborator. Polling mode requires it.
func WithAPI(api API) Option {
	return func(e *Engine) { e.api = api }
}

// WithPolling replaces the live tracker with HTTP polling. Status and entity
// updates are unavailable in this mode.
func WithPolling() Option {
	return func(e *Engine) { e.polling = true }
}

type Engine struct {
	cfg      Config
	dialOpts []natsx.ManagerOption
	api      API
	polling  bool

	store *presence.Store
	mgr   *natsx.ConnManager

	mu   sync.Mutex
	sess *Session
}

func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{cfg: cfg, store: presence.NewStore()}
	for _, fn := range opts {
		fn(e)
	}
	e.mgr = natsx.NewConnManager(cfg.Nats, e.dialOpts...)
	return e
}

// Store is stable across sessions; it is emptied on sign-out.
func (e *Engine) Store() *presence.Store { return e.store }

// Session returns the active session or nil.
func (e *Engine) Session() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess
}

// Session is everything that belongs to one signed-in identity.
type Session struct {
	User     presence.User
	Registry *natsx.Registry // 轮询模式下为 nil
	Tracker  *presence.Tracker
	Status   *status.Service
	Relay    *relay.Relay

	poller   *presence.Poller
	stopPoll context.CancelFunc
	pollDone chan struct{}
}

// Attach forwards to the relay.
func (s *Session) Attach(ctx context.Context, scope relay.Scope, entityID string, h relay.Handlers) (func(), error) {
	if s.Relay == nil {
		return nil, errs.ErrClosed.WrapMsg("entity updates need a live connection")
	}
	return s.Relay.Attach(ctx, scope, entityID, h)
}

// UpdateProfile changes the local user's name and image and tells peers:
// live sessions announce an update, polling sessions send it with the next
// heartbeat.
func (s *Session) UpdateProfile(ctx context.Context, name, image string) error {
	if s.Tracker != nil {
		return s.Tracker.UpdateSelf(ctx, name, image)
	}
	if s.poller != nil {
		s.poller.SetProfile(name, image)
		return nil
	}
	return errs.ErrClosed.WrapMsg("no active presence")
}

// SignIn starts a session for user. Signing in as the current identity
// returns the existing session; another identity first tears the old one
// down completely.
func (e *Engine) SignIn(ctx context.Context, user presence.User) (*Session, error) {
	if user.ID == "" {
		return nil, errs.ErrConfig.WrapMsg("identity missing")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess != nil {
		if e.sess.User.ID == user.ID {
			return e.sess, nil
		}
		logger.Info("[realtime] identity switch", zap.String("from", e.sess.User.ID), zap.String("to", user.ID))
		e.teardownLocked(ctx)
	}

	var (
		sess *Session
		err  error
	)
	if e.polling {
		sess, err = e.startPolling(ctx, user)
	} else {
		sess, err = e.startLive(ctx, user)
	}
	if err != nil {
		return nil, err
	}
	e.sess = sess
	logger.Info("[realtime] signed in", zap.String("identity", user.ID), zap.Bool("polling", e.polling))
	return sess, nil
}

func (e *Engine) startLive(ctx context.Context, user presence.User) (*Session, error) {
	t, err := e.mgr.GetConnection(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	reg := natsx.NewRegistry(t, append(e.cfg.Nats.RegistryOptions(), natsx.WithReleaseSettle(e.cfg.ReleaseSettle))...)

	var sopts []status.Option
	if e.api != nil {
		sopts = append(sopts, status.WithAPI(e.api))
	}
	st := status.NewService(user.ID, e.store, reg, sopts...)
	if e.api != nil {
		if _, err := st.Load(ctx); err != nil {
			logger.Warn("[realtime] status load failed, using default", zap.Error(err))
		}
	}
	user.Status = st.GetStatus()

	topts := []presence.TrackerOption{presence.WithStatusSource(st.GetStatus)}
	if e.cfg.Heartbeat > 0 {
		topts = append(topts, presence.WithHeartbeat(e.cfg.Heartbeat))
	}
	tr := presence.NewTracker(reg, e.store, user, topts...)

	fail := func(err error) (*Session, error) {
		st.Stop()
		_ = tr.Stop(ctx)
		reg.Close()
		_ = e.mgr.Close()
		e.resetStore()
		return nil, err
	}
	if err := tr.Start(ctx); err != nil {
		return fail(errs.WrapMsg(err, "presence start"))
	}
	if err := st.Start(ctx); err != nil {
		return fail(errs.WrapMsg(err, "status start"))
	}
	return &Session{User: user, Registry: reg, Tracker: tr, Status: st, Relay: relay.New(reg)}, nil
}

func (e *Engine) startPolling(ctx context.Context, user presence.User) (*Session, error) {
	if e.api == nil {
		return nil, errs.ErrConfig.WrapMsg("polling needs an API client")
	}
	st := status.NewService(user.ID, e.store, nil, status.WithAPI(e.api))
	if _, err := st.Load(ctx); err != nil {
		logger.Warn("[realtime] status load failed, using default", zap.Error(err))
	}
	user.Status = st.GetStatus()
	user.LastSeen = time.Now()
	e.store.SetAll([]presence.User{user})

	p := presence.NewPoller(e.api, e.store, user, e.cfg.PollEvery)
	pctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	safe.SafeGo("presence-poller", func() {
		defer close(done)
		p.Run(pctx)
	})
	return &Session{User: user, Status: st, poller: p, stopPoll: stop, pollDone: done}, nil
}

// SignOut stops the session: relay, status, presence (leave), registry,
// connection, store. Safe without a session.
func (e *Engine) SignOut(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardownLocked(ctx)
}

func (e *Engine) teardownLocked(ctx context.Context) {
	s := e.sess
	e.sess = nil
	if s == nil {
		return
	}
	if s.Relay != nil {
		s.Relay.Close()
	}
	if s.Status != nil {
		s.Status.Stop()
	}
	if s.Tracker != nil {
		if err := s.Tracker.Stop(ctx); err != nil {
			logger.Warn("[realtime] leave failed", zap.String("identity", s.User.ID), zap.Error(err))
		}
	}
	if s.stopPoll != nil {
		s.stopPoll()
		<-s.pollDone
		if err := s.poller.Leave(ctx); err != nil {
			logger.Warn("[realtime] presence delete failed", zap.String("identity", s.User.ID), zap.Error(err))
		}
	}
	if s.Registry != nil {
		s.Registry.Close()
	}
	if err := e.mgr.Close(); err != nil {
		logger.Warn("[realtime] close connection", zap.Error(err))
	}
	e.resetStore()
	logger.Info("[realtime] signed out", zap.String("identity", s.User.ID))
}

func (e *Engine) resetStore() {
	e.store.SetAll(nil)
	e.store.SetConnected(false)
}

// Close is SignOut with a bounded context.
func (e *Engine) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.SignOut(ctx)
}
