package store

import (
	"context"
	"sync"
)

// Shared is an in-memory key space shared by several views, like one browser origin with many tabs.
type Shared struct {
	mu    sync.Mutex
	data  map[string]string
	views map[*Memory]struct{}
}

// NewShared returns an empty shared key space.
func NewShared() *Shared {
	return &Shared{data: map[string]string{}, views: map[*Memory]struct{}{}}
}

// Open returns a new view. Writes through one view notify every other view's watchers.
func (s *Shared) Open() *Memory {
	m := &Memory{shared: s}
	s.mu.Lock()
	s.views[m] = struct{}{}
	s.mu.Unlock()
	return m
}

// NewMemory is a single view over a private key space.
func NewMemory() *Memory { return NewShared().Open() }

// Memory is one view over a Shared key space.
type Memory struct {
	shared *Shared

	mu   sync.Mutex
	subs []chan Event
}

// Get returns the value for key.
func (m *Memory) Get(key string) (string, bool, error) {
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	v, ok := m.shared.data[key]
	return v, ok, nil
}

// Set writes value and notifies the other views.
func (m *Memory) Set(key, value string) error {
	m.shared.mu.Lock()
	m.shared.data[key] = value
	m.shared.mu.Unlock()
	m.shared.broadcast(m, key)
	return nil
}

// Delete removes key and notifies the other views.
func (m *Memory) Delete(key string) error {
	m.shared.mu.Lock()
	_, ok := m.shared.data[key]
	delete(m.shared.data, key)
	m.shared.mu.Unlock()
	if ok {
		m.shared.broadcast(m, key)
	}
	return nil
}

// Watch subscribes to changes made through other views.
func (m *Memory) Watch(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 16)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, c := range m.subs {
			if c == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (s *Shared) broadcast(from *Memory, key string) {
	s.mu.Lock()
	targets := make([]*Memory, 0, len(s.views))
	for v := range s.views {
		if v != from {
			targets = append(targets, v)
		}
	}
	s.mu.Unlock()

	for _, v := range targets {
		v.notify(Event{Key: key})
	}
}

// notify never blocks: a full buffer already guarantees the watcher will reconcile.
func (m *Memory) notify(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.subs {
		select {
		case c <- ev:
		default:
		}
	}
}
