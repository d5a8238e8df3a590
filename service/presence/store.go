package presence

import (
	"sync"
)

// Snapshot is what listeners receive after every mutation.
type Snapshot struct {
	Users     []User
	Connected bool
}

// Store is the single shared presence table. Entries keep insertion order
// and there is never more than one entry per ID.
type Store struct {
	mu        sync.RWMutex
	users     []User
	index     map[string]int
	connected bool

	lmu       sync.Mutex // listeners, pending, draining; taken after mu
	nextL     int
	listeners map[int]func(Snapshot)
	pending   []Snapshot
	draining  bool
}

func NewStore() *Store {
	return &Store{
		index:     make(map[string]int),
		listeners: make(map[int]func(Snapshot)),
	}
}

// SetAll replaces the table. Duplicate IDs collapse, last one wins.
func (s *Store) SetAll(users []User) {
	s.mu.Lock()
	s.users = s.users[:0]
	s.index = make(map[string]int, len(users))
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		s.upsertLocked(u)
	}
	s.notifyLocked()
}

// Upsert finds by ID and replaces in place, or appends.
func (s *Store) Upsert(u User) {
	if u.ID == "" {
		return
	}
	s.mu.Lock()
	s.upsertLocked(u)
	s.notifyLocked()
}

func (s *Store) upsertLocked(u User) {
	if i, ok := s.index[u.ID]; ok {
		s.users[i] = u
		return
	}
	s.index[u.ID] = len(s.users)
	s.users = append(s.users, u)
}

// Update applies fn to the entry for id if it exists.
func (s *Store) Update(id string, fn func(*User)) bool {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	fn(&s.users[i])
	s.users[i].ID = id
	s.notifyLocked()
	return true
}

func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	if !s.removeLocked(id) {
		s.mu.Unlock()
		return false
	}
	s.notifyLocked()
	return true
}

// RemoveMany drops every listed id and notifies once.
func (s *Store) RemoveMany(ids []string) int {
	s.mu.Lock()
	n := 0
	for _, id := range ids {
		if s.removeLocked(id) {
			n++
		}
	}
	if n == 0 {
		s.mu.Unlock()
		return 0
	}
	s.notifyLocked()
	return n
}

func (s *Store) removeLocked(id string) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.users = append(s.users[:i], s.users[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.users); j++ {
		s.index[s.users[j].ID] = j
	}
	return true
}

func (s *Store) SetConnected(v bool) {
	s.mu.Lock()
	if s.connected == v {
		s.mu.Unlock()
		return
	}
	s.connected = v
	s.notifyLocked()
}

func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Users returns a copy of every entry in insertion order.
func (s *Store) Users() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]User(nil), s.users...)
}

// OnlineUsers is what a presence list should render: empty while the
// connection is down.
func (s *Store) OnlineUsers() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return nil
	}
	return append([]User(nil), s.users...)
}

func (s *Store) Get(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.index[id]; ok {
		return s.users[i], true
	}
	return User{}, false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{Users: append([]User(nil), s.users...), Connected: s.connected}
}

// Subscribe registers a listener called after every mutation.
func (s *Store) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.lmu.Lock()
	id := s.nextL
	s.nextL++
	s.listeners[id] = fn
	s.lmu.Unlock()
	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

// notifyLocked queues the table as of this mutation and releases mu.
// Snapshots reach listeners in mutation order, one at a time; a listener
// that mutates the store sees its own change delivered after it returns.
func (s *Store) notifyLocked() {
	s.lmu.Lock()
	if len(s.listeners) == 0 {
		s.lmu.Unlock()
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, s.snapshotLocked())
	start := !s.draining
	s.draining = true
	s.lmu.Unlock()
	s.mu.Unlock()
	if start {
		s.drain()
	}
}

func (s *Store) drain() {
	done := false
	defer func() {
		if !done {
			s.lmu.Lock()
			s.draining = false
			s.lmu.Unlock()
		}
	}()
	for {
		s.lmu.Lock()
		if len(s.pending) == 0 {
			s.draining = false
			s.lmu.Unlock()
			done = true
			return
		}
		snap := s.pending[0]
		s.pending = s.pending[1:]
		fns := make([]func(Snapshot), 0, len(s.listeners))
		for _, fn := range s.listeners {
			fns = append(fns, fn)
		}
		s.lmu.Unlock()

		for _, fn := range fns {
			fn(snap)
		}
	}
}
