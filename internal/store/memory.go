package store

import (
	"sort"
	"sync"
)

const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// Subscribers receive updates via buffered channels (buffer size 100). Updates
// are sent non-blocking; if a subscriber's buffer is full, the update is dropped
// for that subscriber.
type MemoryStore struct {
	mu          sync.RWMutex
	events      map[string]Event
	subscribers map[chan Event]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory [Store] implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:      make(map[string]Event),
		subscribers: make(map[chan Event]struct{}),
	}
}

// Publish stores an [Event] and notifies all subscribers.
func (m *MemoryStore) Publish(event Event) {
	m.mu.Lock()
	m.events[event.Target] = event
	m.mu.Unlock()

	m.notifySubscribers(event)
}

// Get returns the latest event for target.
func (m *MemoryStore) Get(target string) (Event, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	event, ok := m.events[target]
	return event, ok
}

// GetAll returns the latest event of every target, sorted by target.
func (m *MemoryStore) GetAll() []Event {
	m.mu.RLock()
	events := make([]Event, 0, len(m.events))
	for _, event := range m.events {
		events = append(events, event)
	}
	m.mu.RUnlock()

	sort.Slice(events, func(i, j int) bool {
		return events[i].Target < events[j].Target
	})
	return events
}

// Subscribe creates a new subscription and returns a channel for receiving updates.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent resource leaks.
func (m *MemoryStore) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
// Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

func (m *MemoryStore) notifySubscribers(event Event) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- event:
		default:
			// subscriber is slow, drop the message
		}
	}
}
