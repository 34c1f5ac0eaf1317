// Package remote defines the push-based, path-addressable store rooms are
// synchronised through.
package remote

import (
	"context"
	"errors"
	"strings"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("remote store closed")

// Snapshot is a full subtree as delivered by the store: nested
// map[string]any documents holding JSON-compatible values.
type Snapshot map[string]any

// Store is the contract the room engine consumes. Delivery is at-least-once
// and there are no transactions across paths.
type Store interface {
	// Read returns the subtree at path. ok is false when nothing exists there.
	Read(ctx context.Context, path string) (snap Snapshot, ok bool, err error)

	// Write merges fields into the node at path. A nil field value deletes
	// that field and everything below it.
	Write(ctx context.Context, path string, fields map[string]any) error

	// Subscribe calls fn with the full subtree at path now and after every
	// change to it. A nil snapshot means the subtree no longer exists.
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (unsubscribe func(), err error)
}

// Join builds a slash separated path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split breaks a path into its non-empty segments.
func Split(path string) []string {
	raw := strings.Split(path, "/")
	out := raw[:0]
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Related reports whether a change at one path is visible from the other,
// that is one path is an ancestor of (or equal to) the other.
func Related(a, b string) bool {
	as, bs := Split(a), Split(b)
	n := len(as)
	if len(bs) < n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// Child returns the nested document at key, or nil.
func (s Snapshot) Child(key string) Snapshot {
	if s == nil {
		return nil
	}
	switch v := s[key].(type) {
	case Snapshot:
		return v
	case map[string]any:
		return Snapshot(v)
	default:
		return nil
	}
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	return Snapshot(cloneMap(s))
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Snapshot:
		return cloneMap(val)
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
