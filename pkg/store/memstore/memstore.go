// Package memstore is an in-process store.Store. Every client sharing one
// Store sees every write, including its own, synchronously.
package memstore

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/astromechza/groupmap/pkg/store"
)

type Store struct {
	feed    *store.Feed
	offline atomic.Bool
	writes  atomic.Int64
	removes atomic.Int64
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{feed: store.NewFeed()}
}

// SetOffline makes every subsequent call fail with store.ErrStoreUnavailable
// until it is turned back on.
func (s *Store) SetOffline(offline bool) {
	s.offline.Store(offline)
}

// Writes counts successful Write calls.
func (s *Store) Writes() int64 {
	return s.writes.Load()
}

func (s *Store) Removes() int64 {
	return s.removes.Load()
}

func (s *Store) Write(ctx context.Context, key string, value any) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.writes.Add(1)
	s.feed.Set(key, value)
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.removes.Add(1)
	s.feed.Delete(key)
	return nil
}

func (s *Store) SnapshotAll(ctx context.Context) (map[string]any, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.feed.Snapshot(), nil
}

func (s *Store) SubscribeValue(key string, h store.ValueHandler) {
	s.feed.SubscribeValue(key, h)
}

func (s *Store) SubscribeChildAdded(h store.ChildAddedHandler) {
	s.feed.SubscribeChildAdded(h)
}

func (s *Store) SubscribeChildRemoved(h store.ChildRemovedHandler) {
	s.feed.SubscribeChildRemoved(h)
}

func (s *Store) Close() {
	s.feed.Close()
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrStoreUnavailable, err)
	}
	if s.offline.Load() {
		return fmt.Errorf("%w: offline", store.ErrStoreUnavailable)
	}
	return nil
}
