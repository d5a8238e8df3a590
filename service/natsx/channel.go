package natsx

import (
	"context"
	"time"
)

// ChannelState 频道生命周期
type ChannelState int

const (
	ChannelInitialized ChannelState = iota
	ChannelAttaching
	ChannelAttached
	ChannelDetaching
	ChannelDetached
	ChannelFailed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelInitialized:
		return "initialized"
	case ChannelAttaching:
		return "attaching"
	case ChannelAttached:
		return "attached"
	case ChannelDetaching:
		return "detaching"
	case ChannelDetached:
		return "detached"
	case ChannelFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal states are the only ones a channel may be released from.
func (s ChannelState) Terminal() bool {
	return s == ChannelInitialized || s == ChannelDetached || s == ChannelFailed
}

// EventHandler receives decoded envelopes for a topic.
type EventHandler func(ctx context.Context, env Envelope)

type entry struct {
	id      uint64
	event   string // "" = every event
	handler EventHandler
}

// channel owns the single transport subscription of one topic.
// All fields are guarded by Registry.mu.
type channel struct {
	topic   string
	subject string
	state   ChannelState
	sub     Unsubscriber
	entries []*entry
	release *time.Timer
}

func (ch *channel) matching(event string) []*entry {
	out := make([]*entry, 0, len(ch.entries))
	for _, e := range ch.entries {
		if e.event == "" || e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (ch *channel) remove(id uint64) bool {
	for i, e := range ch.entries {
		if e.id == id {
			ch.entries = append(ch.entries[:i], ch.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (ch *channel) has(id uint64) bool {
	for _, e := range ch.entries {
		if e.id == id {
			return true
		}
	}
	return false
}

func (ch *channel) stopRelease() {
	if ch.release != nil {
		ch.release.Stop()
		ch.release = nil
	}
}

// Subscription is the token returned by Registry.Subscribe.
type Subscription struct {
	r     *Registry
	topic string
	event string
	id    uint64
}

func (s *Subscription) Topic() string { return s.topic }
func (s *Subscription) Event() string { return s.event }

// Active reports whether the handler is still registered.
func (s *Subscription) Active() bool {
	if s == nil || s.r == nil {
		return false
	}
	return s.r.active(s)
}

// Unsubscribe removes this handler only. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.r == nil {
		return
	}
	s.r.Unsubscribe(s)
}
