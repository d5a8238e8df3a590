package presence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"PPresence/service/natsx"
	"PPresence/service/natsx/natsxtest"
	"PPresence/service/topics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(users []User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

func TestJoinLeaveScenario(t *testing.T) {
	bus := natsxtest.NewBus()
	reg := natsx.NewRegistry(bus.Conn("me"))
	defer reg.Close()
	store := NewStore()
	tr := NewTracker(reg, store, User{ID: "me"})

	store.SetAll(nil)
	data, _ := json.Marshal(member{ID: "u1", Name: "Ann", Status: "Available"})
	tr.onEvent(context.Background(), natsx.Envelope{Event: topics.EventEnter, Data: data, Identity: "u1", SenderID: "other"})

	require.Equal(t, 1, store.Len())
	u, _ := store.Get("u1")
	assert.Equal(t, "Ann", u.Name)
	assert.Equal(t, Available, u.Status)

	tr.onEvent(context.Background(), natsx.Envelope{Event: topics.EventLeave, Identity: "u1", SenderID: "other"})
	assert.Equal(t, 0, store.Len())
}

func TestTrackersConverge(t *testing.T) {
	ctx := context.Background()
	bus := natsxtest.NewBus()
	connA := bus.Conn("u1")
	regA, regB := natsx.NewRegistry(connA), natsx.NewRegistry(bus.Conn("u2"))
	defer regA.Close()
	defer regB.Close()

	storeA, storeB := NewStore(), NewStore()
	trA := NewTracker(regA, storeA, User{ID: "u1", Name: "Ann"}, WithHeartbeat(time.Hour))
	trB := NewTracker(regB, storeB, User{ID: "u2", Name: "Bob", Status: Busy}, WithHeartbeat(time.Hour))

	require.NoError(t, trA.Start(ctx))
	defer trA.Stop(ctx)
	require.NoError(t, trB.Start(ctx))

	assert.ElementsMatch(t, []string{"u1", "u2"}, ids(storeA.OnlineUsers()))
	assert.ElementsMatch(t, []string{"u1", "u2"}, ids(storeB.OnlineUsers()), "sync answered by peers")
	bob, _ := storeA.Get("u2")
	assert.Equal(t, Busy, bob.Status)

	// outage: A degrades to an empty list, then re-announces on reconnect
	storeB.Remove("u1")
	connA.SetState(natsx.StateDisconnected)
	assert.Empty(t, storeA.OnlineUsers())
	connA.SetState(natsx.StateConnected)
	assert.Len(t, storeA.OnlineUsers(), 2)
	_, ok := storeB.Get("u1")
	assert.True(t, ok)

	require.NoError(t, trB.Stop(ctx))
	assert.Equal(t, []string{"u1"}, ids(storeA.Users()))
	assert.Equal(t, 0, regB.Handlers(topics.PresenceGlobal))
}

func TestTrackerBeatRefreshesAndReaps(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	bus := natsxtest.NewBus()
	reg := natsx.NewRegistry(bus.Conn("me"))
	defer reg.Close()
	store := NewStore()
	tr := NewTracker(reg, store, User{ID: "me"}, WithHeartbeat(time.Hour), WithClock(func() time.Time { return now }))
	require.NoError(t, tr.Start(ctx))
	defer tr.Stop(ctx)

	store.Upsert(User{ID: "ghost", LastSeen: now.Add(-time.Minute)})
	now = now.Add(40 * time.Second)
	tr.Beat(ctx)

	assert.Equal(t, []string{"me"}, ids(store.Users()))
	me, _ := store.Get("me")
	assert.Equal(t, now, me.LastSeen)
}

func TestTrackerIgnoresMalformed(t *testing.T) {
	bus := natsxtest.NewBus()
	reg := natsx.NewRegistry(bus.Conn("me"))
	defer reg.Close()
	store := NewStore()
	tr := NewTracker(reg, store, User{ID: "me"})

	assert.NotPanics(t, func() {
		tr.onEvent(context.Background(), natsx.Envelope{Event: topics.EventUpdate, Data: json.RawMessage(`[1]`)})
	})
	assert.Equal(t, 0, store.Len())
}

func TestTrackerStatusComesFromSource(t *testing.T) {
	ctx := context.Background()
	bus := natsxtest.NewBus()
	reg := natsx.NewRegistry(bus.Conn("me"))
	defer reg.Close()
	store := NewStore()
	current := Available
	tr := NewTracker(reg, store, User{ID: "me"}, WithHeartbeat(time.Hour), WithStatusSource(func() Status { return current }))
	require.NoError(t, tr.Start(ctx))
	defer tr.Stop(ctx)

	current = Busy
	store.Update("me", func(u *User) { u.Status = Busy })

	// our own heartbeat from before the change arrives late
	stale, _ := json.Marshal(member{ID: "me", Name: "Me", Status: "Available"})
	tr.onEvent(ctx, natsx.Envelope{Event: topics.EventUpdate, Data: stale, Identity: "me", SenderID: reg.SenderID()})
	me, _ := store.Get("me")
	assert.Equal(t, Busy, me.Status)
	assert.Equal(t, "Me", me.Name)

	tr.Beat(ctx)
	pub := bus.Published()
	require.NotEmpty(t, pub)
	var env natsx.Envelope
	require.NoError(t, json.Unmarshal(pub[len(pub)-1].Data, &env))
	var m member
	require.NoError(t, env.Decode(&m))
	assert.Equal(t, topics.EventUpdate, env.Event)
	assert.Equal(t, "Busy", m.Status)

	// a peer already listed keeps the status status:updates gave it
	store.Upsert(User{ID: "u1", Status: Focused})
	peer, _ := json.Marshal(member{ID: "u1", Name: "Ann", Status: "Available"})
	tr.onEvent(ctx, natsx.Envelope{Event: topics.EventUpdate, Data: peer, Identity: "u1", SenderID: "other"})
	u1, _ := store.Get("u1")
	assert.Equal(t, Focused, u1.Status)
	assert.Equal(t, "Ann", u1.Name)
}
