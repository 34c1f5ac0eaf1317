// Package natskv implements remote.Store on a NATS JetStream key-value bucket.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pointing/go/internal/remote"
)

// Config holds connection settings for the KV-backed store.
type Config struct {
	URL           string
	Bucket        string
	MaxReconnects int
	ReconnectWait time.Duration
	// MaxUpdateAttempts bounds optimistic-concurrency retries on a merge.
	MaxUpdateAttempts int
}

// DefaultConfig returns default KV store configuration.
func DefaultConfig() Config {
	return Config{
		URL:               nats.DefaultURL,
		Bucket:            "pointing",
		MaxReconnects:     -1, // Infinite
		ReconnectWait:     2 * time.Second,
		MaxUpdateAttempts: 5,
	}
}

// Store is a remote.Store backed by JetStream KV. Every node is one JSON
// document; subtrees are read and watched with wildcard key filters.
type Store struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	config Config

	mu     sync.Mutex
	subs   map[int]context.CancelFunc
	nextID int
}

var _ remote.Store = (*Store)(nil)

// Connect dials NATS and opens (or creates) the configured bucket.
func Connect(ctx context.Context, config Config) (*Store, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := ensureBucket(ctx, js, config.Bucket)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	return New(nc, kv, config), nil
}

// New wraps an already opened bucket. nc may be nil when the caller owns the
// connection.
func New(nc *nats.Conn, kv jetstream.KeyValue, config Config) *Store {
	if config.MaxUpdateAttempts <= 0 {
		config.MaxUpdateAttempts = DefaultConfig().MaxUpdateAttempts
	}
	return &Store{
		nc:     nc,
		kv:     kv,
		config: config,
		subs:   make(map[int]context.CancelFunc),
	}
}

// ensureBucket gets the bucket or creates it
func ensureBucket(ctx context.Context, js jetstream.JetStream, bucket string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		log.Info().Str("bucket", bucket).Msg("using existing KV bucket")
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, err
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Planning poker rooms",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	log.Info().Str("bucket", bucket).Msg("created KV bucket")
	return kv, nil
}

// Read implements remote.Store.
func (s *Store) Read(ctx context.Context, path string) (remote.Snapshot, bool, error) {
	filter, err := subtreeFilter(path)
	if err != nil {
		return nil, false, err
	}

	watcher, err := s.kv.Watch(ctx, filter, jetstream.IgnoreDeletes())
	if err != nil {
		return nil, false, fmt.Errorf("watch %s: %w", filter, err)
	}
	defer watcher.Stop()

	docs := make(map[string]map[string]any)
	for {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case entry, ok := <-watcher.Updates():
			if !ok {
				return nil, false, remote.ErrClosed
			}
			if entry == nil {
				snap := buildSnapshot(path, docs)
				return snap, snap != nil, nil
			}
			fields, err := decodeDoc(entry.Value())
			if err != nil {
				return nil, false, fmt.Errorf("decode %s: %w", entry.Key(), err)
			}
			docs[entry.Key()] = fields
		}
	}
}

// Write implements remote.Store. The merge is a compare-and-swap on the
// node's document, retried on revision conflicts.
func (s *Store) Write(ctx context.Context, path string, fields map[string]any) error {
	key, err := docKey(path)
	if err != nil {
		return err
	}

	for field, v := range fields {
		if v != nil {
			continue
		}
		if err := s.purgeSubtree(ctx, remote.Join(path, field)); err != nil {
			return fmt.Errorf("delete %s/%s: %w", path, field, err)
		}
	}

	for attempt := 1; ; attempt++ {
		err := s.mergeOnce(ctx, key, fields)
		if err == nil {
			return nil
		}
		if !errors.Is(err, jetstream.ErrKeyExists) || attempt >= s.config.MaxUpdateAttempts {
			return fmt.Errorf("write %s: %w", key, err)
		}
		log.Debug().Str("key", key).Int("attempt", attempt).Msg("revision conflict, retrying merge")
	}
}

func (s *Store) mergeOnce(ctx context.Context, key string, fields map[string]any) error {
	doc := make(map[string]any)
	var revision uint64

	entry, err := s.kv.Get(ctx, key)
	switch {
	case err == nil:
		revision = entry.Revision()
		if doc, err = decodeDoc(entry.Value()); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
	case errors.Is(err, jetstream.ErrKeyNotFound):
	default:
		return err
	}

	for k, v := range fields {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}

	if len(doc) == 0 {
		if revision == 0 {
			return nil
		}
		return s.kv.Delete(ctx, key, jetstream.LastRevision(revision))
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if revision == 0 {
		_, err = s.kv.Create(ctx, key, data)
		return err
	}
	_, err = s.kv.Update(ctx, key, data, revision)
	return err
}

// purgeSubtree deletes every document at or below path.
func (s *Store) purgeSubtree(ctx context.Context, path string) error {
	filter, err := subtreeFilter(path)
	if err != nil {
		return err
	}

	watcher, err := s.kv.Watch(ctx, filter, jetstream.IgnoreDeletes(), jetstream.MetaOnly())
	if err != nil {
		return err
	}
	defer watcher.Stop()

	var keys []string
	for entry := range watcher.Updates() {
		if entry == nil {
			break
		}
		keys = append(keys, entry.Key())
	}

	for _, key := range keys {
		if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

// Subscribe implements remote.Store. The first snapshot is delivered once the
// watcher has replayed the current values.
func (s *Store) Subscribe(ctx context.Context, path string, fn func(remote.Snapshot)) (func(), error) {
	filter, err := subtreeFilter(path)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	watcher, err := s.kv.Watch(subCtx, filter)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", filter, err)
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = cancel
	s.mu.Unlock()

	go s.runWatcher(subCtx, path, watcher, fn)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			cancel()
		})
	}, nil
}

func (s *Store) runWatcher(ctx context.Context, path string, watcher jetstream.KeyWatcher, fn func(remote.Snapshot)) {
	defer func() {
		if err := watcher.Stop(); err != nil {
			log.Debug().Err(err).Str("path", path).Msg("failed to stop KV watcher")
		}
	}()

	docs := make(map[string]map[string]any)
	initialized := false

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				log.Warn().Str("path", path).Msg("KV watcher closed")
				return
			}
			if entry == nil {
				initialized = true
				fn(buildSnapshot(path, docs))
				continue
			}

			switch entry.Operation() {
			case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
				delete(docs, entry.Key())
			default:
				fields, err := decodeDoc(entry.Value())
				if err != nil {
					log.Error().Err(err).Str("key", entry.Key()).Msg("skipping undecodable document")
					continue
				}
				docs[entry.Key()] = fields
			}

			if initialized {
				fn(buildSnapshot(path, docs))
			}
		}
	}
}

// IsConnected reports whether the NATS connection is up. A store whose
// connection is owned by the caller always reports true.
func (s *Store) IsConnected() bool {
	return s.nc == nil || s.nc.IsConnected()
}

// Close cancels all subscriptions and closes the connection if owned.
func (s *Store) Close() error {
	s.mu.Lock()
	for id, cancel := range s.subs {
		cancel()
		delete(s.subs, id)
	}
	s.mu.Unlock()

	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}

func decodeDoc(data []byte) (map[string]any, error) {
	doc := make(map[string]any)
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
