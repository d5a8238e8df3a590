// Package natsxtest provides an in-memory transport for tests. Delivery is
// synchronous: Publish returns after every subscriber callback has run.
package natsxtest

import (
	"context"
	"sync"

	"PPresence/service/natsx"
	"PPresence/tools/errs"
)

type Bus struct {
	mu        sync.Mutex
	next      int
	subs      map[string]map[int]func(natsx.NatsxMessage)
	published []natsx.NatsxMessage
	conns     []*Conn
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]func(natsx.NatsxMessage))}
}

// Conn returns a connected transport for identity.
func (b *Bus) Conn(identity string) *Conn {
	c := &Conn{bus: b, identity: identity, hub: natsx.NewStateHub()}
	c.hub.Set(natsx.StateConnected, nil)
	b.mu.Lock()
	b.conns = append(b.conns, c)
	b.mu.Unlock()
	return c
}

// Dialer plugs the bus into natsx.ConnManager.
func (b *Bus) Dialer() natsx.Dialer {
	return func(_ context.Context, _ natsx.NatsxConfig, identity string) (natsx.Transport, error) {
		return b.Conn(identity), nil
	}
}

// Subscribers counts live transport subscriptions on subject.
func (b *Bus) Subscribers(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[subject])
}

func (b *Bus) Published() []natsx.NatsxMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]natsx.NatsxMessage(nil), b.published...)
}

func (b *Bus) Conns() []*Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Conn(nil), b.conns...)
}

// Inject delivers raw bytes on subject as if some peer had published them.
func (b *Bus) Inject(subject string, data []byte, hdr map[string]string) {
	b.deliver(natsx.NatsxMessage{Subject: subject, Data: data, Header: hdr})
}

func (b *Bus) deliver(msg natsx.NatsxMessage) {
	b.mu.Lock()
	b.published = append(b.published, msg)
	cbs := make([]func(natsx.NatsxMessage), 0, len(b.subs[msg.Subject]))
	for _, cb := range b.subs[msg.Subject] {
		cbs = append(cbs, cb)
	}
	b.mu.Unlock()
	for _, cb := range cbs {
		cb(msg)
	}
}

// Conn is one identity's transport on the bus.
type Conn struct {
	bus      *Bus
	identity string
	hub      *natsx.StateHub

	mu            sync.Mutex
	closed        bool
	failSubscribe error
	failPublish   error
	subs          map[int]string
}

func (c *Conn) Identity() string { return c.identity }

func (c *Conn) State() natsx.ConnectionState { return c.hub.Current() }

// SetState drives the connection through a transition, e.g. a simulated outage.
func (c *Conn) SetState(s natsx.ConnectionState) { c.hub.Set(s, nil) }

func (c *Conn) OnStateChange(fn func(natsx.StateChange)) func() { return c.hub.Subscribe(fn) }

// FailSubscribe makes later Subscribe calls return err (nil restores).
func (c *Conn) FailSubscribe(err error) {
	c.mu.Lock()
	c.failSubscribe = err
	c.mu.Unlock()
}

// FailPublish makes later Publish calls return err (nil restores).
func (c *Conn) FailPublish(err error) {
	c.mu.Lock()
	c.failPublish = err
	c.mu.Unlock()
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Subscribe(subject string, cb func(natsx.NatsxMessage)) (natsx.Unsubscriber, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errs.ErrClosed.WrapMsg("conn closed")
	}
	if c.failSubscribe != nil {
		err := c.failSubscribe
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	b := c.bus
	b.mu.Lock()
	b.next++
	id := b.next
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[int]func(natsx.NatsxMessage))
	}
	b.subs[subject][id] = cb
	b.mu.Unlock()

	c.mu.Lock()
	if c.subs == nil {
		c.subs = make(map[int]string)
	}
	c.subs[id] = subject
	c.mu.Unlock()
	return &busSub{c: c, id: id, subject: subject}, nil
}

func (c *Conn) Publish(ctx context.Context, subject string, data []byte, hdr map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed, fail := c.closed, c.failPublish
	c.mu.Unlock()
	if closed {
		return errs.ErrClosed.WrapMsg("conn closed")
	}
	if fail != nil {
		return fail
	}
	c.bus.deliver(natsx.NatsxMessage{Subject: subject, Data: append([]byte(nil), data...), Header: hdr})
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	c.bus.mu.Lock()
	for id, subject := range subs {
		delete(c.bus.subs[subject], id)
	}
	c.bus.mu.Unlock()
	c.hub.Set(natsx.StateDisconnected, nil)
	return nil
}

type busSub struct {
	c       *Conn
	id      int
	subject string
	once    sync.Once
}

func (s *busSub) Unsubscribe() error {
	s.once.Do(func() {
		s.c.bus.mu.Lock()
		delete(s.c.bus.subs[s.subject], s.id)
		s.c.bus.mu.Unlock()
		s.c.mu.Lock()
		delete(s.c.subs, s.id)
		s.c.mu.Unlock()
	})
	return nil
}
