// Package redisstore is a store.Store on Redis. The namespace is one hash;
// every write and remove is published on a channel so other clients hear
// about it, and a periodic resync from the hash repairs anything a dropped
// subscription missed.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/astromechza/groupmap/pkg/store"
)

type event struct {
	Op    string          `json:"op"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

const (
	opSet = "set"
	opDel = "del"
)

type Store struct {
	rdb     redis.UniversalClient
	hash    string
	channel string
	feed    *store.Feed
	logger  *slog.Logger
	resync  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ store.Store = (*Store)(nil)

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithResync sets how often the full hash is re-read. Zero disables it.
func WithResync(d time.Duration) Option {
	return func(s *Store) {
		s.resync = d
	}
}

// Open subscribes to namespace and loads its current contents.
func Open(ctx context.Context, rdb redis.UniversalClient, namespace string, opts ...Option) (*Store, error) {
	s := &Store{
		rdb:     rdb,
		hash:    "groupmap:" + namespace,
		channel: "groupmap:" + namespace + ":events",
		feed:    store.NewFeed(),
		logger:  slog.Default(),
		resync:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	pubsub := rdb.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: failed to subscribe: %w", store.ErrStoreUnavailable, err)
	}
	if err := s.Resync(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer pubsub.Close()
		s.run(runCtx, pubsub.Channel())
	}()
	return s, nil
}

func (s *Store) run(ctx context.Context, messages <-chan *redis.Message) {
	var tick <-chan time.Time
	if s.resync > 0 {
		t := time.NewTicker(s.resync)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			s.apply(msg.Payload)
		case <-tick:
			if err := s.Resync(ctx); err != nil {
				s.logger.Warn("resync failed", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) apply(payload string) {
	var ev event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		s.logger.Warn("dropping event", "err", err)
		return
	}
	switch ev.Op {
	case opSet:
		var v any
		if err := json.Unmarshal(ev.Value, &v); err != nil {
			s.logger.Warn("dropping event", "key", ev.Key, "err", err)
			return
		}
		s.feed.Set(ev.Key, v)
	case opDel:
		s.feed.Delete(ev.Key)
	default:
		s.logger.Warn("dropping event", "op", ev.Op)
	}
}

// Resync re-reads the whole hash and reports whatever differs.
func (s *Store) Resync(ctx context.Context) error {
	snap, err := s.read(ctx)
	if err != nil {
		return err
	}
	s.feed.Reconcile(snap)
	return nil
}

func (s *Store) read(ctx context.Context) (map[string]any, error) {
	raw, err := s.rdb.HGetAll(ctx, s.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrStoreUnavailable, err)
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			// still reported, so the reader can reject it
			decoded = v
		}
		out[k] = decoded
	}
	return out, nil
}

func (s *Store) Write(ctx context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	ev, err := json.Marshal(event{Op: opSet, Key: key, Value: encoded})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.hash, key, string(encoded))
		pipe.Publish(ctx, s.channel, string(ev))
		return nil
	}); err != nil {
		return fmt.Errorf("%w: failed to write %s: %w", store.ErrStoreUnavailable, key, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	ev, err := json.Marshal(event{Op: opDel, Key: key})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.hash, key)
		pipe.Publish(ctx, s.channel, string(ev))
		return nil
	}); err != nil {
		return fmt.Errorf("%w: failed to remove %s: %w", store.ErrStoreUnavailable, key, err)
	}
	return nil
}

// SnapshotAll reads the hash directly rather than the local view.
func (s *Store) SnapshotAll(ctx context.Context) (map[string]any, error) {
	return s.read(ctx)
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

func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.feed.Close()
	return nil
}

// IsUnavailable reports whether err came from an unreachable Redis.
func IsUnavailable(err error) bool {
	return errors.Is(err, store.ErrStoreUnavailable)
}
