package natsx

import (
	"context"
	"sync"

	"PPresence/logger"
	"PPresence/tools/errs"

	"go.uber.org/zap"
)

// Dialer opens a transport for one identity.
type Dialer func(ctx context.Context, cfg NatsxConfig, identity string) (Transport, error)

// DialNats is the default Dialer.
func DialNats(_ context.Context, cfg NatsxConfig, identity string) (Transport, error) {
	return NewNatsxClient(cfg, identity)
}

// ConnManager 统一门面：每个进程同一时刻只持有一个身份的一条连接
type ConnManager struct {
	cfg  NatsxConfig
	dial Dialer

	mu      sync.Mutex
	current Transport
}

type ManagerOption func(*ConnManager)

func WithDialer(d Dialer) ManagerOption {
	return func(m *ConnManager) {
		if d != nil {
			m.dial = d
		}
	}
}

func NewConnManager(cfg NatsxConfig, opts ...ManagerOption) *ConnManager {
	m := &ConnManager{cfg: cfg, dial: DialNats}
	for _, fn := range opts {
		fn(m)
	}
	return m
}

// GetConnection returns the live connection for identity. The same identity
// gets the same instance; a different one closes the old connection before
// the new one is dialed.
func (m *ConnManager) GetConnection(ctx context.Context, identity string) (Transport, error) {
	if identity == "" {
		return nil, errs.ErrConfig.WrapMsg("identity missing")
	}
	if err := m.cfg.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		if m.current.Identity() == identity {
			return m.current, nil
		}
		old := m.current
		m.current = nil
		logger.Info("[natsx] identity changed, closing previous connection",
			zap.String("from", old.Identity()), zap.String("to", identity))
		if err := old.Close(); err != nil {
			logger.Warn("[natsx] close previous connection", zap.Error(err))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t, err := m.dial(ctx, m.cfg, identity)
	if err != nil {
		return nil, err
	}
	m.current = t
	return t, nil
}

// Current returns the live connection or nil.
func (m *ConnManager) Current() Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close 释放资源（优雅关闭连接）
func (m *ConnManager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	t := m.current
	m.current = nil
	m.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Close()
}
