package natsx

import (
	"sync"
)

// ConnectionState 连接状态
type ConnectionState int

const (
	StateInitialized ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateSuspended
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateSuspended:
		return "suspended"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Online reports whether the transport can currently exchange messages.
func (s ConnectionState) Online() bool { return s == StateConnected }

// StateChange is delivered to OnStateChange observers.
type StateChange struct {
	Previous ConnectionState
	Current  ConnectionState
	Reason   error
}

// StateHub fans out state transitions in order.
// Observers run outside the hub's lock and may call Set or Subscribe; the
// resulting changes are queued and delivered after the running callback
// returns, on whichever goroutine is already delivering.
type StateHub struct {
	mu        sync.Mutex
	state     ConnectionState
	next      int
	observers map[int]func(StateChange)

	queue    []delivery
	draining bool
}

type delivery struct {
	fns    []func(StateChange)
	change StateChange
}

func NewStateHub() *StateHub {
	return &StateHub{observers: make(map[int]func(StateChange))}
}

func (h *StateHub) Current() ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Set moves to state s. A transition to the current state is ignored.
func (h *StateHub) Set(s ConnectionState, reason error) bool {
	h.mu.Lock()
	if h.state == s {
		h.mu.Unlock()
		return false
	}
	change := StateChange{Previous: h.state, Current: s, Reason: reason}
	h.state = s
	fns := make([]func(StateChange), 0, len(h.observers))
	for _, fn := range h.observers {
		fns = append(fns, fn)
	}
	h.enqueueAndDrain(delivery{fns: fns, change: change})
	return true
}

// Subscribe registers fn and emits the current state to it ahead of any
// later transition.
func (h *StateHub) Subscribe(fn func(StateChange)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	h.mu.Lock()
	id := h.next
	h.next++
	h.observers[id] = fn
	cur := h.state
	h.enqueueAndDrain(delivery{fns: []func(StateChange){fn}, change: StateChange{Previous: cur, Current: cur}})

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.observers, id)
			h.mu.Unlock()
		})
	}
}

// enqueueAndDrain is called with mu held and releases it.
func (h *StateHub) enqueueAndDrain(d delivery) {
	h.queue = append(h.queue, d)
	if h.draining {
		h.mu.Unlock()
		return
	}
	h.draining = true
	h.mu.Unlock()
	h.drain()
}

func (h *StateHub) drain() {
	done := false
	defer func() {
		if !done {
			// an observer panicked; let the next Set deliver the rest
			h.mu.Lock()
			h.draining = false
			h.mu.Unlock()
		}
	}()
	for {
		h.mu.Lock()
		if len(h.queue) == 0 {
			h.draining = false
			h.mu.Unlock()
			done = true
			return
		}
		d := h.queue[0]
		h.queue = h.queue[1:]
		h.mu.Unlock()

		for _, fn := range d.fns {
			fn(d.change)
		}
	}
}
