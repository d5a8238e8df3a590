package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"PPresence/service/apiclient"
	"PPresence/service/events"
	"PPresence/service/natsx"
	"PPresence/service/natsx/natsxtest"
	"PPresence/service/presence"
	"PPresence/service/relay"
	"PPresence/service/topics"
	"PPresence/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cfg = Config{
	Nats:          natsx.NatsxConfig{Servers: []string{"nats://test"}, Token: "t", SubjectPrefix: "pp"},
	Heartbeat:     time.Hour,
	ReleaseSettle: time.Millisecond,
}

func ids(s *presence.Store) []string {
	var out []string
	for _, u := range s.Users() {
		out = append(out, u.ID)
	}
	sort.Strings(out)
	return out
}

func TestEnginesConverge(t *testing.T) {
	ctx := context.Background()
	bus := natsxtest.NewBus()
	a := New(cfg, WithDialer(bus.Dialer()))
	b := New(cfg, WithDialer(bus.Dialer()))
	defer a.Close()
	defer b.Close()

	_, err := a.SignIn(ctx, presence.User{ID: "u1", Name: "Ann"})
	require.NoError(t, err)
	sb, err := b.SignIn(ctx, presence.User{ID: "u2", Name: "Bob"})
	require.NoError(t, err)

	assert.Equal(t, []string{"u1", "u2"}, ids(a.Store()))
	assert.Equal(t, []string{"u1", "u2"}, ids(b.Store()))
	assert.True(t, a.Store().Connected())

	require.NoError(t, sb.Status.SetStatus(ctx, presence.Busy))
	u2, ok := a.Store().Get("u2")
	require.True(t, ok)
	assert.Equal(t, presence.Busy, u2.Status)

	require.NoError(t, sb.UpdateProfile(ctx, "Robert", "https://img/r.png"))
	u2, _ = a.Store().Get("u2")
	assert.Equal(t, "Robert", u2.Name)
	assert.Equal(t, presence.Busy, u2.Status)

	again, err := b.SignIn(ctx, presence.User{ID: "u2"})
	require.NoError(t, err)
	assert.Same(t, sb, again)
	assert.Len(t, bus.Conns(), 2)
}

func TestEngineIdentitySwitch(t *testing.T) {
	ctx := context.Background()
	bus := natsxtest.NewBus()
	a := New(cfg, WithDialer(bus.Dialer()))
	b := New(cfg, WithDialer(bus.Dialer()))
	defer a.Close()
	defer b.Close()

	_, err := a.SignIn(ctx, presence.User{ID: "u1"})
	require.NoError(t, err)
	_, err = b.SignIn(ctx, presence.User{ID: "u2"})
	require.NoError(t, err)

	_, err = b.SignIn(ctx, presence.User{ID: "u3"})
	require.NoError(t, err)

	conns := bus.Conns()
	require.Len(t, conns, 3)
	assert.True(t, conns[1].Closed(), "old identity's connection closed")
	assert.Equal(t, []string{"u1", "u3"}, ids(a.Store()))
	assert.Equal(t, []string{"u1", "u3"}, ids(b.Store()))

	b.SignOut(ctx)
	assert.Nil(t, b.Session())
	assert.Zero(t, b.Store().Len())
	assert.False(t, b.Store().Connected())
	assert.Equal(t, []string{"u1"}, ids(a.Store()))
	assert.Eventually(t, func() bool {
		return bus.Subscribers("pp."+topics.StatusUpdates) == 1 && bus.Subscribers("pp."+topics.PresenceGlobal) == 1
	}, time.Second, 5*time.Millisecond)

	b.SignOut(ctx)
}

func TestSessionAttachRelaysCards(t *testing.T) {
	ctx := context.Background()
	bus := natsxtest.NewBus()
	e := New(cfg, WithDialer(bus.Dialer()))
	defer e.Close()
	s, err := e.SignIn(ctx, presence.User{ID: "u1"})
	require.NoError(t, err)

	cards := relay.NewCollection(func(c events.Card) string { return c.ID })
	cleanup, err := s.Attach(ctx, relay.ScopeProject, "p1", relay.Handlers{
		OnCreated: relay.Decoded(func(_ context.Context, c events.Card) { cards.Append(c) }),
	})
	require.NoError(t, err)
	require.NoError(t, s.Registry.Publish(ctx, topics.Project("p1"), topics.EventCardCreated, events.Card{ID: "c1", ProjectID: "p1"}))
	assert.Equal(t, 1, cards.Len())

	cleanup()
	assert.Equal(t, 0, s.Registry.Handlers(topics.Project("p1")))
}

func inject(t *testing.T, bus *natsxtest.Bus, topic, event, id string, payload any, ts int64) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(natsx.Envelope{ID: id, Topic: topic, Event: event, Data: data, SenderID: "peer", TS: ts})
	require.NoError(t, err)
	bus.Inject(topics.Subject("pp", topic), raw, map[string]string{natsx.HeaderMsgID: id})
}

func TestDelayedHeartbeatKeepsOwnStatus(t *testing.T) {
	ctx := context.Background()
	bus := natsxtest.NewBus()
	a := New(cfg, WithDialer(bus.Dialer()))
	b := New(cfg, WithDialer(bus.Dialer()))
	defer a.Close()
	defer b.Close()

	sa, err := a.SignIn(ctx, presence.User{ID: "u1", Name: "Ann"})
	require.NoError(t, err)
	_, err = b.SignIn(ctx, presence.User{ID: "u2"})
	require.NoError(t, err)

	require.NoError(t, sa.Status.SetStatus(ctx, presence.Busy))
	// heartbeat sent before the change, delivered after it
	inject(t, bus, topics.PresenceGlobal, topics.EventUpdate, "hb-old",
		map[string]string{"id": "u1", "name": "Ann", "status": "Available"}, 0)

	me, _ := a.Store().Get("u1")
	assert.Equal(t, presence.Busy, me.Status)
	peer, _ := b.Store().Get("u1")
	assert.Equal(t, presence.Busy, peer.Status)

	sa.Tracker.Beat(ctx)
	me, _ = a.Store().Get("u1")
	peer, _ = b.Store().Get("u1")
	assert.Equal(t, presence.Busy, sa.Status.GetStatus())
	assert.Equal(t, presence.Busy, me.Status)
	assert.Equal(t, presence.Busy, peer.Status)
}

func TestEntityAndStatusEventsInEitherOrder(t *testing.T) {
	ctx := context.Background()
	bus := natsxtest.NewBus()
	a := New(cfg, WithDialer(bus.Dialer()))
	b := New(cfg, WithDialer(bus.Dialer()))
	defer a.Close()
	defer b.Close()

	s, err := a.SignIn(ctx, presence.User{ID: "u1"})
	require.NoError(t, err)
	_, err = b.SignIn(ctx, presence.User{ID: "u2"})
	require.NoError(t, err)

	cards := relay.NewCollection(func(c events.Card) string { return c.ID })
	cleanup, err := s.Attach(ctx, relay.ScopeProject, "p1", relay.Handlers{
		OnCreated: relay.Decoded(func(_ context.Context, c events.Card) { cards.Append(c) }),
	})
	require.NoError(t, err)
	defer cleanup()

	now := time.Now().UnixMilli()
	status := func(id, state string, ts int64) {
		inject(t, bus, topics.StatusUpdates, topics.EventStatusUpdate, id,
			map[string]any{"userId": "u2", "state": state, "timestamp": ts}, ts)
	}
	card := func(id string) {
		inject(t, bus, topics.Project("p1"), topics.EventCardCreated, "env-"+id, events.Card{ID: id, ProjectID: "p1"}, now)
	}

	card("c1")
	status("s1", "Busy", now+1)
	u2, _ := a.Store().Get("u2")
	assert.Equal(t, presence.Busy, u2.Status)

	status("s2", "Focused", now+2)
	card("c2")
	u2, _ = a.Store().Get("u2")
	assert.Equal(t, presence.Focused, u2.Status)
	assert.Equal(t, 2, cards.Len())
}

func TestEngineRejectsMissingIdentity(t *testing.T) {
	e := New(cfg, WithDialer(natsxtest.NewBus().Dialer()))
	_, err := e.SignIn(context.Background(), presence.User{})
	assert.Equal(t, errs.ConfigError, errs.Code(err))

	bad := New(Config{}, WithDialer(natsxtest.NewBus().Dialer()))
	_, err = bad.SignIn(context.Background(), presence.User{ID: "u1"})
	assert.Equal(t, errs.ConfigError, errs.Code(err))
	assert.Zero(t, bad.Store().Len())

	_, err = New(cfg, WithPolling()).SignIn(context.Background(), presence.User{ID: "u1"})
	assert.Equal(t, errs.ConfigError, errs.Code(err))
}

type fakeAPI struct {
	mu     sync.Mutex
	users  []apiclient.PresenceEntry
	status  string
	posts   int
	deletes int
}

func (f *fakeAPI) GetPresence(context.Context) ([]apiclient.PresenceEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiclient.PresenceEntry(nil), f.users...), nil
}

func (f *fakeAPI) PostPresence(ctx context.Context, _, _ string) ([]apiclient.PresenceEntry, error) {
	f.mu.Lock()
	f.posts++
	f.mu.Unlock()
	return f.GetPresence(ctx)
}

func (f *fakeAPI) DeletePresence(context.Context) error {
	f.mu.Lock()
	f.deletes++
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) GetStatus(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeAPI) PostStatus(_ context.Context, s string) error {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
	return nil
}

func TestEnginePollingMode(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{
		users:  []apiclient.PresenceEntry{{ID: "u1"}, {ID: "u9", Name: "Zed", Status: "Focused"}},
		status: "Busy",
	}
	e := New(Config{PollEvery: time.Hour}, WithAPI(api), WithPolling())
	s, err := e.SignIn(ctx, presence.User{ID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, presence.Busy, s.Status.GetStatus())

	assert.Eventually(t, func() bool { return e.Store().Len() == 2 && e.Store().Connected() }, time.Second, 5*time.Millisecond)
	_, err = s.Attach(ctx, relay.ScopeTeam, "t1", relay.Handlers{})
	assert.Error(t, err)

	require.NoError(t, s.Status.SetStatus(ctx, presence.Focused))
	st, _ := api.GetStatus(ctx)
	assert.Equal(t, "Focused", st)

	require.NoError(t, s.UpdateProfile(ctx, "Ann", ""))
	me, _ := e.Store().Get("u1")
	assert.Equal(t, "Ann", me.Name)

	e.SignOut(ctx)
	assert.Zero(t, e.Store().Len())
	api.mu.Lock()
	assert.Equal(t, 1, api.deletes, "sign-out removes us from the legacy map")
	api.mu.Unlock()
}
