package status

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"PPresence/service/natsx"
	"PPresence/service/natsx/natsxtest"
	"PPresence/service/presence"
	"PPresence/service/topics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAPI struct {
	mock.Mock
	onPost func()
}

func (m *mockAPI) GetStatus(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockAPI) PostStatus(ctx context.Context, state string) error {
	if m.onPost != nil {
		m.onPost()
	}
	return m.Called(ctx, state).Error(0)
}

func seeded(id string) *presence.Store {
	s := presence.NewStore()
	s.Upsert(presence.User{ID: id, Status: presence.Available})
	return s
}

func TestSetStatusIsOptimistic(t *testing.T) {
	store := seeded("me")
	api := &mockAPI{}
	svc := NewService("me", store, nil, WithAPI(api))

	var seenLocal presence.Status
	var seenStore presence.Status
	api.onPost = func() {
		seenLocal = svc.GetStatus()
		u, _ := store.Get("me")
		seenStore = u.Status
	}
	api.On("PostStatus", mock.Anything, "Busy").Return(nil).Once()

	require.NoError(t, svc.SetStatus(context.Background(), "busy"))
	assert.Equal(t, presence.Busy, seenLocal, "local value set before the request")
	assert.Equal(t, presence.Busy, seenStore, "store mirrored before the request")
	api.AssertExpectations(t)
}

func TestSetStatusFailureKeepsLocalValue(t *testing.T) {
	store := seeded("me")
	api := &mockAPI{}
	api.On("PostStatus", mock.Anything, "Focused").Return(errors.New("500 persistence failure"))
	svc := NewService("me", store, nil, WithAPI(api))

	assert.Error(t, svc.SetStatus(context.Background(), presence.Focused))
	assert.Equal(t, presence.Focused, svc.GetStatus())
	u, _ := store.Get("me")
	assert.Equal(t, presence.Focused, u.Status)
}

func TestSetStatusRejectsUnknown(t *testing.T) {
	svc := NewService("me", seeded("me"), nil)
	assert.Error(t, svc.SetStatus(context.Background(), "Asleep"))
	assert.Equal(t, presence.Available, svc.GetStatus())
}

func TestBroadcastReachesPeers(t *testing.T) {
	ctx := context.Background()
	bus := natsxtest.NewBus()
	regA, regB := natsx.NewRegistry(bus.Conn("u1")), natsx.NewRegistry(bus.Conn("u2"))
	defer regA.Close()
	defer regB.Close()

	storeA := seeded("u1")
	storeB := seeded("u2")
	storeB.Upsert(presence.User{ID: "u1", Status: presence.Available})

	a := NewService("u1", storeA, regA)
	b := NewService("u2", storeB, regB)
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))
	defer a.Stop()
	defer b.Stop()

	require.NoError(t, a.SetStatus(ctx, presence.Busy))

	u1, _ := storeB.Get("u1")
	assert.Equal(t, presence.Busy, u1.Status)
	assert.Equal(t, presence.Available, b.GetStatus(), "peer's own value untouched")
	assert.Equal(t, 2, storeB.Len())
}

func inject(bus *natsxtest.Bus, u Update, id string) {
	data, _ := json.Marshal(u)
	raw, _ := json.Marshal(natsx.Envelope{ID: id, Event: topics.EventStatusUpdate, Data: data, TS: u.Timestamp})
	bus.Inject(topics.StatusUpdates, raw, map[string]string{natsx.HeaderMsgID: id})
}

func TestOnUpdateGuardsAndCorrects(t *testing.T) {
	ctx := context.Background()
	bus := natsxtest.NewBus()
	reg := natsx.NewRegistry(bus.Conn("me"))
	defer reg.Close()
	store := seeded("me")
	store.Upsert(presence.User{ID: "u1", Status: presence.Available})

	now := time.UnixMilli(5_000)
	svc := NewService("me", store, reg, WithClock(func() time.Time { return now }))
	require.NoError(t, svc.Start(ctx))

	inject(bus, Update{UserID: "u1", State: "Busy", Timestamp: 2_000}, "a")
	inject(bus, Update{UserID: "u1", State: "Focused", Timestamp: 1_000}, "b") // older, dropped
	u1, _ := store.Get("u1")
	assert.Equal(t, presence.Busy, u1.Status)

	inject(bus, Update{UserID: "ghost", State: "Busy", Timestamp: 3_000}, "c")
	_, ok := store.Get("ghost")
	assert.False(t, ok, "updates never create entries")

	inject(bus, Update{UserID: "u1", State: "nonsense", Timestamp: 9_000}, "d")
	u1, _ = store.Get("u1")
	assert.Equal(t, presence.Busy, u1.Status)

	// a newer value for the local identity (set on another device) wins
	inject(bus, Update{UserID: "me", State: "Focused", Timestamp: 6_000}, "e")
	assert.Equal(t, presence.Focused, svc.GetStatus())
	me, _ := store.Get("me")
	assert.Equal(t, presence.Focused, me.Status)
}

func TestServerStampedUpdateBeatsFastClock(t *testing.T) {
	ctx := context.Background()
	bus := natsxtest.NewBus()
	reg := natsx.NewRegistry(bus.Conn("me"))
	defer reg.Close()
	store := seeded("me")

	server := time.UnixMilli(1_700_000_000_000)
	api := &mockAPI{}
	api.On("PostStatus", mock.Anything, "Busy").Return(nil).Once()
	svc := NewService("me", store, reg, WithAPI(api), WithClock(func() time.Time { return server.Add(2 * time.Minute) }))
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop()

	require.NoError(t, svc.SetStatus(ctx, presence.Busy))
	inject(bus, Update{UserID: "me", State: "Busy", Timestamp: server.UnixMilli()}, "confirm")
	assert.Equal(t, presence.Busy, svc.GetStatus())

	// set on another device 30s later by the server's clock
	inject(bus, Update{UserID: "me", State: "Focused", Timestamp: server.Add(30 * time.Second).UnixMilli()}, "other-device")
	assert.Equal(t, presence.Focused, svc.GetStatus())
	me, _ := store.Get("me")
	assert.Equal(t, presence.Focused, me.Status)
	api.AssertExpectations(t)
}

func TestLoadDefaultsToAvailable(t *testing.T) {
	api := &mockAPI{}
	api.On("GetStatus", mock.Anything).Return("", nil).Once()
	api.On("GetStatus", mock.Anything).Return("focused", nil).Once()
	store := seeded("me")
	svc := NewService("me", store, nil, WithAPI(api))

	st, err := svc.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, presence.Available, st)

	st, err = svc.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, presence.Focused, st)
	me, _ := store.Get("me")
	assert.Equal(t, presence.Focused, me.Status)
}
