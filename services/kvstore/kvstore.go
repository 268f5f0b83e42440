// Package kvstore is the bundled IEtcdService stand-in, grounded on the
// source's EtcdService.h/IEtcdService.h. No distributed-etcd client
// library appears anywhere in the retrieved example pack (see DESIGN.md),
// so this implements the same get/put/watch surface against
// go.etcd.io/bbolt, an embedded key-value store already used for durable
// local storage in the cuemby-warren example repo — the closest available
// stand-in for a "durable service discovery / config store" role.
package kvstore

import (
	"context"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"

	"synapse/pkg/ids"
)

// IEtcdService is the interface dependents register against for durable
// key-value storage and change notification.
type IEtcdService interface {
	Put(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	Watch(key string) (ch <-chan WatchEvent, cancel func())
}

// InterfaceHash is the stable hash dependents register against.
var InterfaceHash = ids.InterfaceOf[IEtcdService]()

// WatchEvent is delivered to a Watch subscriber whenever its key changes.
type WatchEvent struct {
	Key     string
	Value   string
	Deleted bool
}

var bucketName = []byte("synapse")

// Service is the bundled IEtcdService implementation, backed by a single
// bbolt database file.
type Service struct {
	db *bbolt.DB

	mu       sync.Mutex
	watchers map[string][]chan WatchEvent
}

// New opens (creating if necessary) the bbolt database at path.
func New(path string) (*Service, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kvstore: create bucket: %w", err)
	}
	return &Service{db: db, watchers: make(map[string][]chan WatchEvent)}, nil
}

// Close closes the underlying database.
func (s *Service) Close() error { return s.db.Close() }

// Put stores value under key, durably.
func (s *Service) Put(ctx context.Context, key, value string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return err
	}
	s.notify(WatchEvent{Key: key, Value: value})
	return nil
}

// Get retrieves the value stored under key, if present.
func (s *Service) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v != nil {
			found = true
			value = string(v)
		}
		return nil
	})
	return value, found, err
}

// Delete removes key.
func (s *Service) Delete(ctx context.Context, key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
	if err != nil {
		return err
	}
	s.notify(WatchEvent{Key: key, Deleted: true})
	return nil
}

// Watch subscribes to changes for key. cancel must be called to release
// the subscription once the caller is done.
func (s *Service) Watch(key string) (<-chan WatchEvent, func()) {
	ch := make(chan WatchEvent, 8)
	s.mu.Lock()
	s.watchers[key] = append(s.watchers[key], ch)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.watchers[key]
		for i, c := range list {
			if c == ch {
				s.watchers[key] = append(list[:i], list[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

func (s *Service) notify(e WatchEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers[e.Key] {
		select {
		case ch <- e:
		default:
		}
	}
}
