package localstore

import (
	"context"
	"sync"
)

// Memory is a non-durable Store for tests and ephemeral CLI sessions.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
	notify *notifier
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]string),
		notify: newNotifier(),
	}
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()

	m.notify.publish(key, value)
	return nil
}

func (m *Memory) SetMany(ctx context.Context, entries map[string]string) error {
	m.mu.Lock()
	for k, v := range entries {
		m.values[k] = v
	}
	m.mu.Unlock()

	for k, v := range entries {
		m.notify.publish(k, v)
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *Memory) Watch(key string) (<-chan string, func()) {
	return m.notify.watch(key)
}

func (m *Memory) Close() error {
	m.notify.closeAll()
	return nil
}
