package remote

import (
	"context"
	"fmt"
	"sync"
)

// WriteOp records a single Write call.
type WriteOp struct {
	Path   string
	Fields map[string]any
}

// WriteHook can veto a write before it is applied. Returning an error makes
// Write fail without touching the tree.
type WriteHook func(op WriteOp) error

type memorySubscription struct {
	path string
	fn   func(Snapshot)
}

// MemoryStore is an in-process Store. Snapshots are delivered synchronously
// and in write order, which keeps tests deterministic.
type MemoryStore struct {
	mu     sync.Mutex
	root   map[string]any
	subs   map[int]*memorySubscription
	nextID int
	hook   WriteHook
	writes []WriteOp
	closed bool

	// deliverMu serialises write+notify so subscribers observe changes in order.
	deliverMu sync.Mutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		root: make(map[string]any),
		subs: make(map[int]*memorySubscription),
	}
}

// SetWriteHook installs hook for subsequent writes. Pass nil to remove it.
func (m *MemoryStore) SetWriteHook(hook WriteHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = hook
}

// Writes returns the writes applied so far.
func (m *MemoryStore) Writes() []WriteOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WriteOp, len(m.writes))
	copy(out, m.writes)
	return out
}

// ResetWrites forgets recorded writes.
func (m *MemoryStore) ResetWrites() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = nil
}

// Read implements Store.
func (m *MemoryStore) Read(ctx context.Context, path string) (Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	snap := m.subtree(path)
	return snap, snap != nil, nil
}

// Write implements Store.
func (m *MemoryStore) Write(ctx context.Context, path string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	segments := Split(path)
	if len(segments) == 0 {
		return fmt.Errorf("write: empty path")
	}

	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	op := WriteOp{Path: path, Fields: cloneMap(fields)}
	if m.hook != nil {
		if err := m.hook(op); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}

	node := m.root
	for _, seg := range segments {
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[seg] = child
		}
		node = child
	}
	for k, v := range fields {
		if v == nil {
			delete(node, k)
			continue
		}
		node[k] = cloneValue(v)
	}
	prune(m.root, segments)
	m.writes = append(m.writes, op)

	type delivery struct {
		fn   func(Snapshot)
		snap Snapshot
	}
	var deliveries []delivery
	for _, sub := range m.subs {
		if Related(sub.path, path) {
			deliveries = append(deliveries, delivery{fn: sub.fn, snap: m.subtree(sub.path)})
		}
	}
	m.mu.Unlock()

	for _, d := range deliveries {
		d.fn(d.snap)
	}
	return nil
}

// Subscribe implements Store.
func (m *MemoryStore) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	id := m.nextID
	m.nextID++
	m.subs[id] = &memorySubscription{path: path, fn: fn}
	initial := m.subtree(path)
	m.mu.Unlock()

	fn(initial)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}, nil
}

// SubscriberCount returns the number of live subscriptions.
func (m *MemoryStore) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Close drops all subscriptions; later calls fail with ErrClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[int]*memorySubscription)
	return nil
}

// subtree returns a deep copy of the node at path. Caller holds mu.
func (m *MemoryStore) subtree(path string) Snapshot {
	node := m.root
	for _, seg := range Split(path) {
		child, ok := node[seg].(map[string]any)
		if !ok {
			return nil
		}
		node = child
	}
	if len(node) == 0 {
		return nil
	}
	return Snapshot(cloneMap(node))
}

// prune removes empty maps along segments, deepest first.
func prune(root map[string]any, segments []string) {
	if len(segments) == 0 {
		return
	}
	child, ok := root[segments[0]].(map[string]any)
	if !ok {
		return
	}
	prune(child, segments[1:])
	if len(child) == 0 {
		delete(root, segments[0])
	}
}
