// Package relay binds entity-scoped topics to local mutation callbacks.
// It does no merging; callers apply payloads to their own state.
package relay

import (
	"context"
	"sync"

	"PPresence/logger"
	"PPresence/service/natsx"
	"PPresence/service/topics"
	"PPresence/tools/errs"

	"go.uber.org/zap"
)

type Scope int

const (
	ScopeProject Scope = iota
	ScopeTeam
	ScopeCardComments
	ScopeUser
)

func (s Scope) String() string {
	switch s {
	case ScopeProject:
		return "project"
	case ScopeTeam:
		return "team"
	case ScopeCardComments:
		return "card-comments"
	case ScopeUser:
		return "user"
	}
	return "unknown"
}

// Topic returns the channel name for entityID in this scope.
func (s Scope) Topic(entityID string) (string, error) {
	if err := topics.ValidID(entityID); err != nil {
		return "", err
	}
	switch s {
	case ScopeProject:
		return topics.Project(entityID), nil
	case ScopeTeam:
		return topics.Team(entityID), nil
	case ScopeCardComments:
		return topics.CardComments(entityID), nil
	case ScopeUser:
		return topics.User(entityID), nil
	}
	return "", errs.ErrArgs.WrapMsg("unknown scope", "scope", int(s))
}

type Handler = natsx.EventHandler

// Handlers left nil are not subscribed.
type Handlers struct {
	OnCreated  Handler // card:created, or comment:created on card comments
	OnUpdated  Handler // card:updated
	OnDeleted  Handler // card:deleted
	OnActivity Handler // activity:created

	OnMembership   Handler // member:added|accepted|declined|removed
	OnEntity       Handler // project:* and team:* lifecycle
	OnNotification Handler // notification on user:<id>
}

type binding struct {
	event   string
	handler Handler
}

func (h Handlers) bindings(s Scope) []binding {
	var out []binding
	add := func(fn Handler, evs ...string) {
		if fn == nil {
			return
		}
		for _, ev := range evs {
			out = append(out, binding{event: ev, handler: fn})
		}
	}
	switch s {
	case ScopeProject, ScopeTeam:
		add(h.OnCreated, topics.EventCardCreated)
		add(h.OnUpdated, topics.EventCardUpdated)
		add(h.OnDeleted, topics.EventCardDeleted)
		add(h.OnActivity, topics.EventActivityCreated)
		add(h.OnMembership, topics.MemberEvents...)
		if s == ScopeProject {
			add(h.OnEntity, topics.EventProjectUpdated, topics.EventProjectDeleted, topics.EventProjectArchiveStatusChange)
		} else {
			add(h.OnEntity, topics.EventTeamUpdated, topics.EventTeamDeleted,
				topics.EventProjectCreated, topics.EventProjectUpdated, topics.EventProjectDeleted, topics.EventProjectArchiveStatusChange)
		}
	case ScopeCardComments:
		add(h.OnCreated, topics.EventCommentCreated)
	case ScopeUser:
		add(h.OnNotification, topics.EventNotification)
	}
	return out
}

type attachment struct {
	topic string
	subs  []*natsx.Subscription
	once  sync.Once
}

func (a *attachment) release() {
	a.once.Do(func() {
		for _, s := range a.subs {
			s.Unsubscribe()
		}
	})
}

// Relay tracks at most one live attachment per topic.
type Relay struct {
	reg *natsx.Registry

	mu       sync.Mutex
	attached map[string]*attachment
}

func New(reg *natsx.Registry) *Relay {
	return &Relay{reg: reg, attached: make(map[string]*attachment)}
}

// Attach subscribes one handler per event. A previous attachment for the
// same entity is cleaned up first. The returned cleanup is idempotent.
func (r *Relay) Attach(ctx context.Context, scope Scope, entityID string, h Handlers) (func(), error) {
	topic, err := scope.Topic(entityID)
	if err != nil {
		return nil, err
	}
	bs := h.bindings(scope)
	if len(bs) == 0 {
		return nil, errs.ErrArgs.WrapMsg("no handlers for scope", "scope", scope.String())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.attached[topic]; ok {
		old.release()
		delete(r.attached, topic)
	}

	att := &attachment{topic: topic}
	for _, b := range bs {
		sub, err := r.reg.Subscribe(ctx, topic, b.event, b.handler)
		if err != nil {
			att.release()
			return nil, errs.WrapMsg(err, "relay attach", "topic", topic, "event", b.event)
		}
		att.subs = append(att.subs, sub)
	}
	r.attached[topic] = att
	logger.Debug("[relay] attached", zap.String("topic", topic), zap.Int("events", len(att.subs)))

	return func() { r.detach(att) }, nil
}

func (r *Relay) detach(att *attachment) {
	r.mu.Lock()
	if r.attached[att.topic] == att {
		delete(r.attached, att.topic)
	}
	r.mu.Unlock()
	att.release()
}

// Attached reports whether entityID has a live attachment in scope.
func (r *Relay) Attached(scope Scope, entityID string) bool {
	topic, err := scope.Topic(entityID)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.attached[topic]
	return ok
}

// Close releases every attachment.
func (r *Relay) Close() {
	r.mu.Lock()
	atts := make([]*attachment, 0, len(r.attached))
	for _, a := range r.attached {
		atts = append(atts, a)
	}
	r.attached = make(map[string]*attachment)
	r.mu.Unlock()
	for _, a := range atts {
		a.release()
	}
}
