/*
Package kv wraps a JetStream key-value bucket with the narrow Get/Put/
Delete/Keys/Watch surface the mesh and workload reconcilers need, so callers
depend on this interface rather than the full nats.go KeyValue API.
*/
package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Store is a JetStream key-value bucket handle. Multiple reconcilers and
// handlers share one Store concurrently; the underlying nats.go client is
// safe for that, and Store adds no locking of its own.
type Store struct {
	kv jetstream.KeyValue
}

// Open binds to bucket, creating it with the given history depth if it does
// not already exist.
func Open(nc *nats.Conn, bucket string, history uint8) (*Store, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("kv: jetstream context: %w", err)
	}

	ctx := context.Background()
	store, err := js.KeyValue(ctx, bucket)
	if err != nil {
		store, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket, History: history})
		if err != nil {
			return nil, fmt.Errorf("kv: open or create bucket %s: %w", bucket, err)
		}
	}
	return &Store{kv: store}, nil
}

// Get returns the raw bytes stored under key, or jetstream.ErrKeyNotFound if
// absent.
func (s *Store) Get(key string) ([]byte, error) {
	ctx := context.Background()
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return entry.Value(), nil
}

// Exists reports whether key currently has a value (not deleted/purged).
func (s *Store) Exists(key string) (bool, error) {
	_, err := s.Get(key)
	if err == nil {
		return true, nil
	}
	if errIsKeyNotFound(err) {
		return false, nil
	}
	return false, err
}

// Put stores value under key, returning the new revision.
func (s *Store) Put(key string, value []byte) (uint64, error) {
	ctx := context.Background()
	rev, err := s.kv.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv: put %s: %w", key, err)
	}
	return rev, nil
}

// Delete removes key.
func (s *Store) Delete(key string) error {
	ctx := context.Background()
	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("kv: delete %s: %w", key, err)
	}
	return nil
}

// Keys lists every key currently present in the bucket. An empty bucket
// returns an empty slice, not an error.
func (s *Store) Keys() ([]string, error) {
	ctx := context.Background()
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errIsNoKeys(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv: list keys: %w", err)
	}
	var keys []string
	for k := range lister.Keys() {
		keys = append(keys, k)
	}
	return keys, nil
}

// KeysWithPrefix lists every key with the given prefix.
func (s *Store) KeysWithPrefix(prefix string) ([]string, error) {
	all, err := s.Keys()
	if err != nil {
		return nil, err
	}
	var matched []string
	for _, k := range all {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			matched = append(matched, k)
		}
	}
	return matched, nil
}

// Watcher receives key-value update notifications for a subject pattern.
type Watcher struct {
	w jetstream.KeyWatcher
}

// Watch subscribes to updates matching pattern (e.g. ">" for every key).
// Wildcards match only whole dot-separated tokens, so "device/dev-a/>"
// does not match keys such as "device/dev-a/web".
func (s *Store) Watch(pattern string) (*Watcher, error) {
	ctx := context.Background()
	w, err := s.kv.Watch(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("kv: watch %s: %w", pattern, err)
	}
	return &Watcher{w: w}, nil
}

// Updates returns the channel of incoming key-value updates. A nil entry
// marks the end of the initial state replay, matching jetstream.KeyWatcher's
// own convention.
func (w *Watcher) Updates() <-chan jetstream.KeyValueEntry { return w.w.Updates() }

// Stop releases the underlying watch subscription.
func (w *Watcher) Stop() error { return w.w.Stop() }

func errIsKeyNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound)
}

func errIsNoKeys(err error) bool {
	return errors.Is(err, jetstream.ErrNoKeysFound)
}
