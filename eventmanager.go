package xembed

import (
	"context"
	"sync"
	"sync/atomic"
)

// Listener receives inbound wire messages routed to one experience.
//
// Listeners run on the goroutine that delivers host window messages, which
// is also the one that delivers replies. A listener must not block on a
// reply: wrap Send or Request in a goroutine when a message should trigger
// another request, or the request times out.
type Listener func(ctx context.Context, msg *PostMessageEvent)

// ListenerID is the handle returned by AddEventListener. Listeners are
// removed by handle since Go funcs cannot be compared.
type ListenerID uint64

type registeredListener struct {
	id ListenerID
	fn Listener
}

// EventManager routes messages to listeners keyed by experience identity.
// One manager is shared by every experience of an embedding context.
type EventManager struct {
	mu        sync.Mutex
	listeners map[string][]registeredListener
	cleanups  map[string][]func()
	seq       atomic.Uint64
}

func NewEventManager() *EventManager {
	return &EventManager{
		listeners: make(map[string][]registeredListener),
		cleanups:  make(map[string][]func()),
	}
}

// AddEventListener appends listener to the identity's list. With
// registerForCleanup the listener is also removed when the experience is
// cleaned up. The same func added twice is invoked twice.
func (m *EventManager) AddEventListener(identity string, listener Listener, registerForCleanup bool) (ListenerID, error) {
	if identity == "" {
		return 0, ErrInvalidIdentity
	}
	if listener == nil {
		return 0, ErrInvalidListener
	}

	id := ListenerID(m.seq.Add(1))

	m.mu.Lock()
	m.listeners[identity] = append(m.listeners[identity], registeredListener{id: id, fn: listener})
	if registerForCleanup {
		m.cleanups[identity] = append(m.cleanups[identity], func() {
			_ = m.RemoveEventListener(identity, id)
		})
	}
	m.mu.Unlock()

	return id, nil
}

// InvokeEventListener calls every listener of identity, in registration
// order, on the calling goroutine.
func (m *EventManager) InvokeEventListener(ctx context.Context, identity string, msg *PostMessageEvent) error {
	m.mu.Lock()
	list, ok := m.listeners[identity]
	if !ok {
		m.mu.Unlock()
		return ErrNoListeners
	}
	// snapshot: listeners may add or remove listeners while running
	snapshot := make([]registeredListener, len(list))
	copy(snapshot, list)
	m.mu.Unlock()

	for _, l := range snapshot {
		l.fn(ctx, msg)
	}
	return nil
}

func (m *EventManager) RemoveEventListener(identity string, id ListenerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list, ok := m.listeners[identity]
	if !ok {
		return ErrNoListeners
	}
	kept := make([]registeredListener, 0, len(list))
	for _, l := range list {
		if l.id != id {
			kept = append(kept, l)
		}
	}
	m.listeners[identity] = kept
	return nil
}

// AddEventListenerForCleanup registers a callback that only runs on cleanup,
// for resources other than listeners that must die with the experience.
func (m *EventManager) AddEventListenerForCleanup(identity string, callback func()) error {
	if identity == "" {
		return ErrInvalidIdentity
	}
	if callback == nil {
		return ErrInvalidListener
	}
	m.mu.Lock()
	m.cleanups[identity] = append(m.cleanups[identity], callback)
	m.mu.Unlock()
	return nil
}

// CleanUpCallbacksForExperience runs and forgets the cleanup callbacks of
// identity and empties its listener list. A second call is a no-op.
func (m *EventManager) CleanUpCallbacksForExperience(identity string) {
	m.mu.Lock()
	callbacks, ok := m.cleanups[identity]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.cleanups, identity)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}

	m.mu.Lock()
	m.listeners[identity] = []registeredListener{}
	m.mu.Unlock()
}

// ListenerCount reports how many listeners are registered for identity.
func (m *EventManager) ListenerCount(identity string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners[identity])
}
