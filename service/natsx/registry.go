package natsx

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"PPresence/logger"
	"PPresence/service/topics"
	"PPresence/tools/errs"
	"PPresence/tools/safe"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultReleaseSettle = 100 * time.Millisecond

type registryOptions struct {
	prefix string
	settle time.Duration
	idem   IdemStore
	mws    []NatsxMiddleware
}

type RegistryOption func(*registryOptions)

func WithSubjectPrefix(p string) RegistryOption {
	return func(o *registryOptions) { o.prefix = p }
}

// WithReleaseSettle sets how long a detached channel lingers before release.
func WithReleaseSettle(d time.Duration) RegistryOption {
	return func(o *registryOptions) { o.settle = d }
}

func WithIdemStore(s IdemStore) RegistryOption {
	return func(o *registryOptions) { o.idem = s }
}

// WithMiddlewares appends to the inbound chain, after recovery and dedup.
func WithMiddlewares(mws ...NatsxMiddleware) RegistryOption {
	return func(o *registryOptions) { o.mws = append(o.mws, mws...) }
}

// Registry maps (topic, event, handler) triples onto one transport
// subscription per topic.
type Registry struct {
	t        Transport
	opts     registryOptions
	senderID string

	mu       sync.Mutex
	channels map[string]*channel
	nextID   uint64
	closed   bool
}

func NewRegistry(t Transport, opts ...RegistryOption) *Registry {
	o := registryOptions{settle: DefaultReleaseSettle}
	for _, fn := range opts {
		fn(&o)
	}
	if o.idem == nil {
		o.idem = NewMemIdem(time.Minute)
	}
	return &Registry{
		t:        t,
		opts:     o,
		senderID: uuid.NewString(),
		channels: make(map[string]*channel),
	}
}

// SenderID identifies envelopes published through this registry.
func (r *Registry) SenderID() string { return r.senderID }

func (r *Registry) Identity() string { return r.t.Identity() }

func (r *Registry) Transport() Transport { return r.t }

// Subscribe registers handler for event on topic; event "" receives every event.
// After Close it returns an inert subscription.
func (r *Registry) Subscribe(ctx context.Context, topic, event string, handler EventHandler) (*Subscription, error) {
	if err := topics.Validate(topic); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errs.ErrArgs.WrapMsg("nil handler", "topic", topic)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		logger.Debug("[natsx] subscribe after close ignored", zap.String("topic", topic), zap.String("event", event))
		return &Subscription{topic: topic, event: event}, nil
	}

	ch, ok := r.channels[topic]
	if !ok {
		ch = &channel{topic: topic, subject: topics.Subject(r.opts.prefix, topic)}
		r.channels[topic] = ch
	}
	ch.stopRelease()

	r.nextID++
	e := &entry{id: r.nextID, event: event, handler: handler}
	ch.entries = append(ch.entries, e)

	if ch.state != ChannelAttached {
		if err := r.attachLocked(ch); err != nil {
			ch.remove(e.id)
			if len(ch.entries) == 0 {
				r.scheduleReleaseLocked(ch)
			}
			return nil, errs.WrapMsg(err, "attach channel", "topic", topic)
		}
	}
	return &Subscription{r: r, topic: topic, event: event, id: e.id}, nil
}

func (r *Registry) attachLocked(ch *channel) error {
	ch.state = ChannelAttaching
	h := NatsxChain(r.dispatcher(ch), r.middlewares()...)
	sub, err := r.t.Subscribe(ch.subject, func(msg NatsxMessage) {
		_ = h(context.Background(), msg)
	})
	if err != nil {
		ch.state = ChannelFailed
		return err
	}
	ch.sub = sub
	ch.state = ChannelAttached
	logger.Debug("[natsx] channel attached", zap.String("topic", ch.topic))
	return nil
}

func (r *Registry) middlewares() []NatsxMiddleware {
	mws := []NatsxMiddleware{
		NatsxRecoverMiddleware(),
		NatsxIdemMiddleware(r.opts.idem, 0),
	}
	return append(mws, r.opts.mws...)
}

// dispatcher decodes one inbound message and fans it out to the handlers
// registered at delivery time.
func (r *Registry) dispatcher(ch *channel) NatsxHandler {
	return func(ctx context.Context, msg NatsxMessage) error {
		env, err := parseEnvelope(ch.topic, msg.Data)
		if err != nil {
			logger.Warn("[natsx] dropping malformed event", zap.String("topic", ch.topic), zap.Error(err))
			return nil
		}

		r.mu.Lock()
		if r.channels[ch.topic] != ch {
			r.mu.Unlock()
			return nil
		}
		targets := ch.matching(env.Event)
		r.mu.Unlock()

		for _, e := range targets {
			if !r.stillRegistered(ch, e.id) {
				continue
			}
			handler := e.handler
			if err := safe.Call(func() error { handler(ctx, env); return nil }); err != nil {
				logger.Error("[natsx] event handler panicked", zap.String("topic", ch.topic), zap.String("event", env.Event), zap.Error(err))
			}
		}
		return nil
	}
}

func (r *Registry) stillRegistered(ch *channel, id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ch.has(id)
}

func (r *Registry) active(s *Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[s.topic]
	return ok && ch.has(s.id)
}

// Unsubscribe removes exactly the handler behind sub. Unknown or already
// removed subscriptions are ignored.
func (r *Registry) Unsubscribe(sub *Subscription) {
	if sub == nil || sub.r != r {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[sub.topic]
	if !ok || !ch.remove(sub.id) {
		return
	}
	if len(ch.entries) > 0 {
		return
	}
	r.detachLocked(ch)
	r.scheduleReleaseLocked(ch)
}

func (r *Registry) detachLocked(ch *channel) {
	if ch.sub == nil {
		if !ch.state.Terminal() {
			ch.state = ChannelDetached
		}
		return
	}
	ch.state = ChannelDetaching
	if err := ch.sub.Unsubscribe(); err != nil {
		logger.Warn("[natsx] detach failed", zap.String("topic", ch.topic), zap.Error(err))
		ch.state = ChannelFailed
	} else {
		ch.state = ChannelDetached
	}
	ch.sub = nil
}

// scheduleReleaseLocked drops the channel after the settle delay unless it
// was re-subscribed in between.
func (r *Registry) scheduleReleaseLocked(ch *channel) {
	ch.stopRelease()
	release := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.releaseLocked(ch)
	}
	if r.opts.settle <= 0 {
		r.releaseLocked(ch)
		return
	}
	ch.release = time.AfterFunc(r.opts.settle, release)
}

func (r *Registry) releaseLocked(ch *channel) {
	if r.channels[ch.topic] != ch || len(ch.entries) > 0 {
		return
	}
	if !ch.state.Terminal() {
		logger.Warn("[natsx] release skipped, channel not settled", zap.String("topic", ch.topic), zap.Stringer("state", ch.state))
		return
	}
	ch.release = nil
	delete(r.channels, ch.topic)
	logger.Debug("[natsx] channel released", zap.String("topic", ch.topic))
}

// Publish wraps payload in an Envelope and sends it on topic.
// After Close it is a no-op.
func (r *Registry) Publish(ctx context.Context, topic, event string, payload any) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		logger.Debug("[natsx] publish after close ignored", zap.String("topic", topic), zap.String("event", event))
		return nil
	}
	if err := topics.Validate(topic); err != nil {
		return err
	}
	if event == "" {
		return errs.ErrArgs.WrapMsg("empty event", "topic", topic)
	}
	data, err := MarshalData(payload)
	if err != nil {
		return err
	}
	env := Envelope{
		ID:       uuid.NewString(),
		Topic:    topic,
		Event:    event,
		Data:     data,
		SenderID: r.senderID,
		Identity: r.t.Identity(),
		TS:       time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return errs.WrapMsg(err, "marshal envelope")
	}
	hdr := map[string]string{HeaderMsgID: env.ID}
	return r.t.Publish(ctx, topics.Subject(r.opts.prefix, topic), raw, hdr)
}

// ChannelState reports the lifecycle state of topic's channel, if one exists.
func (r *Registry) ChannelState(topic string) (ChannelState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[topic]
	if !ok {
		return ChannelInitialized, false
	}
	return ch.state, true
}

// Handlers counts the handlers registered on topic.
func (r *Registry) Handlers(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[topic]; ok {
		return len(ch.entries)
	}
	return 0
}

func (r *Registry) Channels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Close detaches every channel. The transport itself stays open; only
// ConnManager closes it.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for topic, ch := range r.channels {
		ch.stopRelease()
		ch.entries = nil
		r.detachLocked(ch)
		delete(r.channels, topic)
	}
}
