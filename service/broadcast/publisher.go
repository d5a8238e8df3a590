// Package broadcast is the server side of the loop: route handlers call it
// after committing a change so subscribed clients converge.
package broadcast

import (
	"context"
	"time"

	"PPresence/logger"
	"PPresence/service/events"
	"PPresence/service/natsx"
	"PPresence/service/topics"

	"go.uber.org/zap"
)

// StatusUpdate mirrors the status-update payload.
type StatusUpdate struct {
	UserID    string `json:"userId"`
	State     string `json:"state"`
	Timestamp int64  `json:"timestamp"`
}

type Publisher struct {
	p   natsx.Publisher
	now func() time.Time
}

func New(p natsx.Publisher) *Publisher {
	return &Publisher{p: p, now: time.Now}
}

// Retrying wraps p so a publish is retried before the error reaches the route.
func Retrying(p natsx.Publisher, retries int, backoff time.Duration) *Publisher {
	return New(&natsx.NatsxSyncPublisher{P: p, Retries: retries, Backoff: backoff})
}

// Publish sends any event on any known topic.
func (b *Publisher) Publish(ctx context.Context, topic, event string, data any) error {
	err := b.p.Publish(ctx, topic, event, data)
	if err != nil {
		logger.Warn("[broadcast] publish failed", zap.String("topic", topic), zap.String("event", event), zap.Error(err))
	}
	return err
}

func (b *Publisher) StatusUpdated(ctx context.Context, userID, state string) error {
	return b.Publish(ctx, topics.StatusUpdates, topics.EventStatusUpdate, StatusUpdate{
		UserID:    userID,
		State:     state,
		Timestamp: b.now().UnixMilli(),
	})
}

func (b *Publisher) CardCreated(ctx context.Context, c events.Card) error {
	return b.Publish(ctx, topics.Project(c.ProjectID), topics.EventCardCreated, c)
}

func (b *Publisher) CardUpdated(ctx context.Context, c events.Card) error {
	return b.Publish(ctx, topics.Project(c.ProjectID), topics.EventCardUpdated, c)
}

func (b *Publisher) CardDeleted(ctx context.Context, projectID, cardID string) error {
	return b.Publish(ctx, topics.Project(projectID), topics.EventCardDeleted, events.CardRef{ID: cardID, ProjectID: projectID})
}

func (b *Publisher) ActivityCreated(ctx context.Context, a events.Activity) error {
	return b.Publish(ctx, topics.Project(a.ProjectID), topics.EventActivityCreated, a)
}

func (b *Publisher) CommentCreated(ctx context.Context, c events.Comment) error {
	return b.Publish(ctx, topics.CardComments(c.CardID), topics.EventCommentCreated, c)
}

// Member publishes a membership change on the project feed, and on the
// team feed too when the member carries a team.
func (b *Publisher) Member(ctx context.Context, event string, m events.Member) error {
	var firstErr error
	if m.ProjectID != "" {
		firstErr = b.Publish(ctx, topics.Project(m.ProjectID), event, m)
	}
	if m.TeamID != "" {
		if err := b.Publish(ctx, topics.Team(m.TeamID), event, m); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Project publishes a project lifecycle event on its own feed and its team's.
func (b *Publisher) Project(ctx context.Context, event string, p events.Project) error {
	var firstErr error
	if event != topics.EventProjectCreated {
		firstErr = b.Publish(ctx, topics.Project(p.ID), event, p)
	}
	if p.TeamID != "" {
		if err := b.Publish(ctx, topics.Team(p.TeamID), event, p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *Publisher) Team(ctx context.Context, event string, t events.Team) error {
	return b.Publish(ctx, topics.Team(t.ID), event, t)
}

func (b *Publisher) Notify(ctx context.Context, n events.Notification) error {
	return b.Publish(ctx, topics.User(n.UserID), topics.EventNotification, n)
}
