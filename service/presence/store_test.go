package presence

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertIsIdempotentByID(t *testing.T) {
	s := NewStore()
	s.Upsert(User{ID: "u1", Name: "Ann", Status: Available})
	s.Upsert(User{ID: "u2", Name: "Bob"})
	s.Upsert(User{ID: "u1", Name: "Ann B", Status: Busy})
	s.Upsert(User{ID: "u1", Name: "Ann C", Status: Focused})

	require.Equal(t, 2, s.Len())
	u, ok := s.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "Ann C", u.Name)
	assert.Equal(t, Focused, u.Status)
	assert.Equal(t, "u1", s.Users()[0].ID, "replace keeps position")
}

func TestSetAllCollapsesDuplicates(t *testing.T) {
	s := NewStore()
	s.Upsert(User{ID: "old"})
	s.SetAll([]User{{ID: "a", Name: "1"}, {ID: "b"}, {ID: "a", Name: "2"}, {ID: ""}})

	users := s.Users()
	require.Len(t, users, 2)
	assert.Equal(t, "2", users[0].Name)
	_, ok := s.Get("old")
	assert.False(t, ok)
}

func TestRemoveReindexes(t *testing.T) {
	s := NewStore()
	s.SetAll([]User{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))

	s.Upsert(User{ID: "c", Name: "C"})
	require.Equal(t, 2, s.Len())
	u, _ := s.Get("c")
	assert.Equal(t, "C", u.Name)
	assert.Equal(t, 2, s.RemoveMany([]string{"b", "c", "zz"}))
	assert.Equal(t, 0, s.Len())
}

func TestOnlineUsersEmptyWhileDisconnected(t *testing.T) {
	s := NewStore()
	s.Upsert(User{ID: "a"})
	assert.Empty(t, s.OnlineUsers())

	s.SetConnected(true)
	assert.Len(t, s.OnlineUsers(), 1)
	s.SetConnected(false)
	assert.Empty(t, s.OnlineUsers())
	assert.Equal(t, 1, s.Len(), "the table itself is kept")
}

func TestStoreListeners(t *testing.T) {
	s := NewStore()
	var snaps []Snapshot
	cancel := s.Subscribe(func(sn Snapshot) { snaps = append(snaps, sn) })

	s.Upsert(User{ID: "a"})
	s.SetConnected(true)
	s.SetConnected(true) // unchanged, no event
	s.Update("a", func(u *User) { u.Status = Busy })
	cancel()
	s.Remove("a")

	require.Len(t, snaps, 3)
	assert.True(t, snaps[2].Connected)
	assert.Equal(t, Busy, snaps[2].Users[0].Status)
}

func TestStoreListenersSeeMutationOrder(t *testing.T) {
	s := NewStore()
	var (
		mu   sync.Mutex
		last Snapshot
		n    int
	)
	s.Subscribe(func(sn Snapshot) {
		mu.Lock()
		last = sn
		n++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("u%d-%d", g, i%5)
				s.Upsert(User{ID: id, Status: Busy})
				s.Remove(id)
				s.Upsert(User{ID: id})
			}
		}(g)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 4*200*3, n, "one snapshot per mutation")
	assert.Equal(t, s.Snapshot(), last, "the final snapshot is delivered last")
}

func TestListenerMayMutate(t *testing.T) {
	s := NewStore()
	var seen []int
	s.Subscribe(func(sn Snapshot) {
		seen = append(seen, len(sn.Users))
		if len(sn.Users) == 1 {
			s.Upsert(User{ID: "echo"})
		}
	})
	s.Upsert(User{ID: "a"})
	assert.Equal(t, []int{1, 2}, seen)
	assert.Equal(t, 2, s.Len())
}

func TestReaperWindow(t *testing.T) {
	now := time.Now()
	s := NewStore()
	s.SetAll([]User{
		{ID: "old", LastSeen: now.Add(-31 * time.Second)},
		{ID: "fresh", LastSeen: now.Add(-29 * time.Second)},
		{ID: "edge", LastSeen: now.Add(-30 * time.Second)},
	})

	removed := NewReaper(s).Reap(now)
	assert.Equal(t, []string{"old"}, removed)
	_, ok := s.Get("fresh")
	assert.True(t, ok)
	_, ok = s.Get("edge")
	assert.True(t, ok, "exactly 30s is not older than the window")
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ann", User{ID: "x", Name: " Ann "}.DisplayName())
	assert.Equal(t, "ann", User{ID: "ann@example.com"}.DisplayName())
	assert.Equal(t, "User abcdef", User{ID: "abcdef123"}.DisplayName())
	assert.Equal(t, "User ab", User{ID: "ab"}.DisplayName())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("busy")
	require.NoError(t, err)
	assert.Equal(t, Busy, s)

	_, err = ParseStatus("Sleeping")
	assert.Error(t, err)

	RegisterStatus("Sleeping")
	s, err = ParseStatus("SLEEPING")
	require.NoError(t, err)
	assert.Equal(t, Status("Sleeping"), s)
}
