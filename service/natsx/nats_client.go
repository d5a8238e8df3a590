package natsx

import (
	"context"
	"strings"
	"sync"
	"time"

	"PPresence/logger"
	"PPresence/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	DefaultRequestTimeout    = 10 * time.Second
	DefaultDisconnectedRetry = 5 * time.Second
	DefaultSuspendedRetry    = 30 * time.Second
	DefaultSuspendAfter      = 2 * time.Minute
	DefaultDrainTimeout      = 5 * time.Second
	DefaultDedupWindow       = time.Minute
)

// NatsxConfig 客户端配置
type NatsxConfig struct {
	Servers []string `mapstructure:"servers"`
	Name    string   `mapstructure:"name"`

	// 认证：Token、User/Password、CredsFile 至少一种
	Token     string `mapstructure:"token"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	CredsFile string `mapstructure:"creds_file"`

	SubjectPrefix string `mapstructure:"subject_prefix"`

	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	DisconnectedRetry time.Duration `mapstructure:"disconnected_retry"`
	SuspendedRetry    time.Duration `mapstructure:"suspended_retry"`
	SuspendAfter      time.Duration `mapstructure:"suspend_after"`
	DrainTimeout      time.Duration `mapstructure:"drain_timeout"`
	// DedupWindow 同一 msgID 在窗口内只处理一次
	DedupWindow time.Duration `mapstructure:"dedup_window"`
}

func (c *NatsxConfig) withDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.DisconnectedRetry == 0 {
		c.DisconnectedRetry = DefaultDisconnectedRetry
	}
	if c.SuspendedRetry == 0 {
		c.SuspendedRetry = DefaultSuspendedRetry
	}
	if c.SuspendAfter == 0 {
		c.SuspendAfter = DefaultSuspendAfter
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.DedupWindow == 0 {
		c.DedupWindow = DefaultDedupWindow
	}
}

// RegistryOptions 按配置组装 Registry：subject 前缀、去重窗口、入站日志
func (c NatsxConfig) RegistryOptions() []RegistryOption {
	c.withDefaults()
	return []RegistryOption{
		WithSubjectPrefix(c.SubjectPrefix),
		WithIdemStore(NewMemIdem(c.DedupWindow)),
		WithMiddlewares(NatsxLogMiddleware()),
	}
}

// Validate reports missing servers or credentials as a configuration error.
func (c NatsxConfig) Validate() error {
	if len(c.Servers) == 0 {
		return errs.ErrConfig.WrapMsg("nats servers missing")
	}
	if c.Token == "" && c.CredsFile == "" && (c.User == "" || c.Password == "") {
		return errs.ErrConfig.WrapMsg("nats credentials missing")
	}
	return nil
}

// NatsxClient 统一客户端，一个身份一条连接
type NatsxClient struct {
	cfg      NatsxConfig
	identity string
	nc       *nats.Conn
	hub      *StateHub

	mu           sync.Mutex
	suspendTimer *time.Timer
	closing      bool
	closed       chan struct{}
	closeOnce    sync.Once
}

// NewNatsxClient 连接 NATS。
// Only configuration problems are returned; connection failures surface as state.
func NewNatsxClient(cfg NatsxConfig, identity string) (*NatsxClient, error) {
	if identity == "" {
		return nil, errs.ErrConfig.WrapMsg("identity missing")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.withDefaults()

	c := &NatsxClient{
		cfg:      cfg,
		identity: identity,
		hub:      NewStateHub(),
		closed:   make(chan struct{}),
	}
	name := cfg.Name
	if name == "" {
		name = "presence"
	}

	opts := []nats.Option{
		nats.Name(name + ":" + identity),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.Timeout(cfg.RequestTimeout),
		nats.DrainTimeout(cfg.DrainTimeout),
		nats.CustomReconnectDelay(c.reconnectDelay),
		nats.ConnectHandler(func(*nats.Conn) { c.setState(StateConnected, nil) }),
		nats.ReconnectHandler(func(*nats.Conn) { c.setState(StateConnected, nil) }),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if c.isClosing() {
				return
			}
			c.setState(StateDisconnected, err)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) { c.onClosed(nc.LastError()) }),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Warn("[natsx] async error", zap.String("identity", identity), zap.String("subject", subject), zap.Error(err))
		}),
	}
	switch {
	case cfg.CredsFile != "":
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	case cfg.Token != "":
		opts = append(opts, nats.Token(cfg.Token))
	default:
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	c.setState(StateConnecting, nil)
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		// 连接失败只体现在状态上
		c.setState(StateFailed, err)
		c.markClosed()
		return c, nil
	}
	c.nc = nc
	if nc.IsConnected() {
		c.setState(StateConnected, nil)
	}
	return c, nil
}

func (c *NatsxClient) Identity() string { return c.identity }

func (c *NatsxClient) State() ConnectionState { return c.hub.Current() }

func (c *NatsxClient) OnStateChange(fn func(StateChange)) func() { return c.hub.Subscribe(fn) }

// reconnectDelay 断线期间短间隔重试，挂起后长间隔重试
func (c *NatsxClient) reconnectDelay(attempts int) time.Duration {
	switch c.State() {
	case StateSuspended:
		return c.cfg.SuspendedRetry
	case StateConnecting:
		// initial connect did not succeed; state observers may publish, so not inline
		go c.setState(StateDisconnected, nats.ErrNoServers)
	}
	return c.cfg.DisconnectedRetry
}

func (c *NatsxClient) setState(s ConnectionState, reason error) {
	if c.isClosing() && s != StateDisconnected && s != StateFailed {
		return
	}
	if !c.hub.Set(s, reason) {
		return
	}
	logger.Info("[natsx] connection state", zap.String("identity", c.identity), zap.Stringer("state", s), zap.Error(reason))

	c.mu.Lock()
	defer c.mu.Unlock()
	switch s {
	case StateDisconnected:
		if c.suspendTimer == nil && !c.closing {
			c.suspendTimer = time.AfterFunc(c.cfg.SuspendAfter, func() {
				if c.State() == StateDisconnected {
					c.setState(StateSuspended, nil)
				}
			})
		}
	case StateConnected, StateFailed:
		if c.suspendTimer != nil {
			c.suspendTimer.Stop()
			c.suspendTimer = nil
		}
	}
}

func (c *NatsxClient) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *NatsxClient) onClosed(lastErr error) {
	if c.isClosing() {
		c.hub.Set(StateDisconnected, nil)
	} else {
		c.setState(StateFailed, lastErr)
	}
	c.markClosed()
}

func (c *NatsxClient) markClosed() { c.closeOnce.Do(func() { close(c.closed) }) }

// Subscribe 订阅一个 subject，回调在 nats 的投递协程上执行
func (c *NatsxClient) Subscribe(subject string, cb func(NatsxMessage)) (Unsubscriber, error) {
	if c.nc == nil || c.isClosing() {
		return nil, errs.ErrClosed.WrapMsg("connection unavailable", "subject", subject)
	}
	sub, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		cb(NatsxMessage{
			Subject: m.Subject,
			Data:    append([]byte(nil), m.Data...),
			Header:  headerToMap(m.Header),
		})
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "nats subscribe", "subject", subject)
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
	return sub, nil
}

// Publish 发布；断线期间由 nats 的重连缓冲区暂存
func (c *NatsxClient) Publish(ctx context.Context, subject string, data []byte, hdr map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.nc == nil || c.isClosing() {
		return errs.ErrClosed.WrapMsg("connection unavailable", "subject", subject)
	}
	return c.sendCore(subject, data, hdr)
}

// Close 优雅关闭：先 Drain，超时后强制关闭
func (c *NatsxClient) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	if c.suspendTimer != nil {
		c.suspendTimer.Stop()
		c.suspendTimer = nil
	}
	c.mu.Unlock()

	if c.nc == nil {
		return nil
	}
	if err := c.nc.Drain(); err != nil {
		logger.Warn("[natsx] drain failed", zap.String("identity", c.identity), zap.Error(err))
		c.nc.Close()
	}
	select {
	case <-c.closed:
	case <-time.After(c.cfg.DrainTimeout + time.Second):
		c.nc.Close()
	}
	c.hub.Set(StateDisconnected, nil)
	return nil
}
