package relay

import (
	"context"
	"errors"
	"testing"

	"PPresence/service/events"
	"PPresence/service/natsx"
	"PPresence/service/natsx/natsxtest"
	"PPresence/service/topics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Relay, *natsx.Registry, *natsxtest.Conn) {
	t.Helper()
	bus := natsxtest.NewBus()
	conn := bus.Conn("me")
	reg := natsx.NewRegistry(conn)
	t.Cleanup(reg.Close)
	return New(reg), reg, conn
}

func cardKey(c events.Card) string { return c.ID }

func TestAttachAppliesCardEvents(t *testing.T) {
	ctx := context.Background()
	r, reg, _ := setup(t)

	cards := NewCollection(cardKey, events.Card{ID: "c0", Title: "seed"})
	var activities []events.Activity
	cleanup, err := r.Attach(ctx, ScopeProject, "p1", Handlers{
		OnCreated:  Decoded(func(_ context.Context, c events.Card) { cards.Append(c) }),
		OnUpdated:  Decoded(func(_ context.Context, c events.Card) { cards.Replace(c) }),
		OnDeleted:  Decoded(func(_ context.Context, c events.CardRef) { cards.Remove(c.ID) }),
		OnActivity: Decoded(func(_ context.Context, a events.Activity) { activities = append(activities, a) }),
	})
	require.NoError(t, err)
	defer cleanup()

	topic := topics.Project("p1")
	require.NoError(t, reg.Publish(ctx, topic, topics.EventCardCreated, events.Card{ID: "c1", Title: "new"}))
	require.NoError(t, reg.Publish(ctx, topic, topics.EventCardCreated, events.Card{ID: "c1", Title: "new"}))
	require.NoError(t, reg.Publish(ctx, topic, topics.EventCardUpdated, events.Card{ID: "c1", Title: "edited"}))
	require.NoError(t, reg.Publish(ctx, topic, topics.EventCardDeleted, events.CardRef{ID: "c0"}))
	require.NoError(t, reg.Publish(ctx, topic, topics.EventActivityCreated, events.Activity{ID: "a1", UserID: "u1", Action: "moved"}))
	require.NoError(t, reg.Publish(ctx, topic, topics.EventMemberAdded, events.Member{UserID: "u9"}))

	items := cards.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "edited", items[0].Title)
	require.Len(t, activities, 1)
	assert.Equal(t, "moved", activities[0].Action)
}

func TestReattachDoesNotLeak(t *testing.T) {
	ctx := context.Background()
	r, reg, _ := setup(t)
	topic := topics.Project("p1")

	var first, second int
	cleanup1, err := r.Attach(ctx, ScopeProject, "p1", Handlers{
		OnCreated: func(context.Context, natsx.Envelope) { first++ },
		OnUpdated: func(context.Context, natsx.Envelope) { first++ },
	})
	require.NoError(t, err)
	_, err = r.Attach(ctx, ScopeProject, "p1", Handlers{
		OnCreated: func(context.Context, natsx.Envelope) { second++ },
		OnUpdated: func(context.Context, natsx.Envelope) { second++ },
	})
	require.NoError(t, err)

	assert.Equal(t, 2, reg.Handlers(topic), "exactly one live set")
	require.NoError(t, reg.Publish(ctx, topic, topics.EventCardCreated, nil))
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)

	// the stale cleanup must not tear down the newer attachment
	cleanup1()
	assert.Equal(t, 2, reg.Handlers(topic))
	assert.True(t, r.Attached(ScopeProject, "p1"))
}

func TestCleanupIsSymmetricAndIdempotent(t *testing.T) {
	ctx := context.Background()
	r, reg, _ := setup(t)
	topic := topics.Team("t1")

	// an unrelated owner on the same topic
	var other int
	otherSub, err := reg.Subscribe(ctx, topic, topics.EventTeamUpdated, func(context.Context, natsx.Envelope) { other++ })
	require.NoError(t, err)
	defer otherSub.Unsubscribe()

	cleanup, err := r.Attach(ctx, ScopeTeam, "t1", Handlers{
		OnEntity:     func(context.Context, natsx.Envelope) {},
		OnMembership: func(context.Context, natsx.Envelope) {},
	})
	require.NoError(t, err)
	assert.Equal(t, 1+6+4, reg.Handlers(topic))

	cleanup()
	cleanup()
	assert.Equal(t, 1, reg.Handlers(topic))
	assert.False(t, r.Attached(ScopeTeam, "t1"))

	require.NoError(t, reg.Publish(ctx, topic, topics.EventTeamUpdated, events.Team{ID: "t1"}))
	assert.Equal(t, 1, other)
}

func TestAttachRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	r, reg, conn := setup(t)

	conn.FailSubscribe(errors.New("not authorized"))
	_, err := r.Attach(ctx, ScopeCardComments, "c1", Handlers{OnCreated: func(context.Context, natsx.Envelope) {}})
	require.Error(t, err)
	assert.Equal(t, 0, reg.Handlers(topics.CardComments("c1")))
	assert.False(t, r.Attached(ScopeCardComments, "c1"))
}

func TestAttachValidation(t *testing.T) {
	ctx := context.Background()
	r, _, _ := setup(t)

	_, err := r.Attach(ctx, ScopeUser, "u1", Handlers{OnCreated: func(context.Context, natsx.Envelope) {}})
	assert.Error(t, err, "user scope only carries notifications")
	_, err = r.Attach(ctx, ScopeProject, "p.1", Handlers{OnCreated: func(context.Context, natsx.Envelope) {}})
	assert.Error(t, err)

	var got []events.Notification
	cleanup, err := r.Attach(ctx, ScopeUser, "u1", Handlers{
		OnNotification: Decoded(func(_ context.Context, n events.Notification) { got = append(got, n) }),
	})
	require.NoError(t, err)
	defer cleanup()
	r.Close()
	assert.False(t, r.Attached(ScopeUser, "u1"))
}

func TestCollection(t *testing.T) {
	c := NewCollection(cardKey, events.Card{ID: "a"}, events.Card{ID: "b"}, events.Card{ID: "a", Title: "dup"})
	require.Equal(t, 2, c.Len())
	assert.Equal(t, "dup", c.Items()[0].Title)
	assert.False(t, c.Replace(events.Card{ID: "zz"}))
	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	assert.Equal(t, "b", c.Items()[0].ID)
}
