// Package localstore provides the durable per-device key-value storage the
// identity resolver persists into.
package localstore

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("key not found")

// Store is durable local key-value storage with change notifications.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// SetMany writes all entries atomically.
	SetMany(ctx context.Context, entries map[string]string) error
	Delete(ctx context.Context, key string) error
	// Watch delivers every new value written to key until cancel is called.
	Watch(key string) (updates <-chan string, cancel func())
	Close() error
}

// notifier fans out writes to watchers. Slow watchers only ever see the
// latest value.
type notifier struct {
	mu       sync.Mutex
	watchers map[string]map[int]chan string
	nextID   int
}

func newNotifier() *notifier {
	return &notifier{watchers: make(map[string]map[int]chan string)}
}

func (n *notifier) watch(key string) (<-chan string, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan string, 1)
	if n.watchers[key] == nil {
		n.watchers[key] = make(map[int]chan string)
	}
	n.watchers[key][id] = ch

	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		byID, ok := n.watchers[key]
		if !ok {
			return
		}
		if _, ok := byID[id]; !ok {
			return
		}
		delete(byID, id)
		if len(byID) == 0 {
			delete(n.watchers, key)
		}
		close(ch)
	}
}

func (n *notifier) publish(key, value string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.watchers[key] {
		select {
		case ch <- value:
		default:
			// replace the stale pending value with the newest one
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- value:
			default:
			}
		}
	}
}

func (n *notifier) closeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for key, byID := range n.watchers {
		for _, ch := range byID {
			close(ch)
		}
		delete(n.watchers, key)
	}
}
