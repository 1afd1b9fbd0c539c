// Package docstore is a store.Store backed by an automerge document: each
// namespace key is a key of the document's root map. Replicas converge by
// exchanging automerge sync messages through Peers; concurrent writes to one
// key resolve to the same winner on every replica.
package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/automerge/automerge-go"

	"github.com/astromechza/groupmap/pkg/store"
)

type Store struct {
	mu    sync.Mutex
	doc   *automerge.Doc
	peers map[*Peer]struct{}
	// seq numbers snapshots in the order they were taken under mu
	seq uint64

	// pubMu orders publication to the feed; published is the newest seq
	// staged so far
	pubMu     sync.Mutex
	published uint64

	feed   *store.Feed
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithActorID sets the automerge actor id of this replica; it must be hex.
func WithActorID(id string) Option {
	return func(s *Store) {
		if err := s.doc.SetActorID(id); err != nil {
			s.logger.Error("failed to set actor id", "actor", id, "err", err)
		}
	}
}

func New(opts ...Option) (*Store, error) {
	return newStore(automerge.New(), opts...)
}

// Load opens a replica from saved document bytes.
func Load(raw []byte, opts ...Option) (*Store, error) {
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load doc: %w", err)
	}
	return newStore(doc, opts...)
}

func newStore(doc *automerge.Doc, opts ...Option) (*Store, error) {
	s := &Store{
		doc:    doc,
		peers:  make(map[*Peer]struct{}),
		feed:   store.NewFeed(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	snap, seq, err := s.versionLocked()
	if err != nil {
		return nil, err
	}
	s.changed(snap, seq)
	return s, nil
}

func (s *Store) Write(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrStoreUnavailable, err)
	}
	s.mu.Lock()
	if err := s.doc.Path(key).Set(value); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	snap, seq, err := s.commitLocked("write " + key)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.changed(snap, seq)
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrStoreUnavailable, err)
	}
	s.mu.Lock()
	keys, err := s.doc.RootMap().Keys()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to list keys: %w", err)
	}
	found := false
	for _, k := range keys {
		if k == key {
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return nil
	}
	if err := s.doc.RootMap().Delete(key); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	snap, seq, err := s.commitLocked("remove " + key)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.changed(snap, seq)
	return nil
}

func (s *Store) SnapshotAll(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrStoreUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
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

// Save returns the full document.
func (s *Store) Save() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Save()
}

func (s *Store) Heads() []automerge.ChangeHash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Heads()
}

func (s *Store) ActorID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.ActorID()
}

// Fork returns an independent copy of the document.
func (s *Store) Fork() (*automerge.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Fork()
}

func (s *Store) Close() {
	s.feed.Close()
}

func (s *Store) commitLocked(msg string) (map[string]any, uint64, error) {
	if _, err := s.doc.Commit(msg); err != nil {
		return nil, 0, fmt.Errorf("failed to commit: %w", err)
	}
	return s.versionLocked()
}

// versionLocked snapshots the document and numbers the snapshot.
func (s *Store) versionLocked() (map[string]any, uint64, error) {
	snap, err := s.snapshotLocked()
	if err != nil {
		return nil, 0, err
	}
	s.seq++
	return snap, s.seq, nil
}

// changed publishes a new document state to subscribers and wakes every peer
// so it can forward the change. A snapshot older than one already published
// is dropped: the newer one already contains its changes.
func (s *Store) changed(snap map[string]any, seq uint64) {
	s.pubMu.Lock()
	if seq > s.published {
		s.published = seq
		s.feed.Stage(snap)
	}
	s.pubMu.Unlock()
	s.feed.Flush()

	s.mu.Lock()
	for p := range s.peers {
		p.wake()
	}
	s.mu.Unlock()
}

func (s *Store) snapshotLocked() (map[string]any, error) {
	root := s.doc.RootMap()
	keys, err := root.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		v, err := root.Get(k)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", k, err)
		}
		out[k] = plain(v)
	}
	return out, nil
}

// plain converts an automerge value into the JSON-shaped values store.Store
// deals in.
func plain(v *automerge.Value) any {
	switch v.Kind() {
	case automerge.KindMap:
		m := v.Map()
		keys, err := m.Keys()
		if err != nil {
			return nil
		}
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			e, err := m.Get(k)
			if err != nil {
				continue
			}
			out[k] = plain(e)
		}
		return out
	case automerge.KindStr:
		return v.Str()
	case automerge.KindFloat64:
		return v.Float64()
	case automerge.KindInt64:
		return v.Int64()
	case automerge.KindUint64:
		return v.Uint64()
	case automerge.KindBool:
		return v.Bool()
	case automerge.KindNull, automerge.KindVoid:
		return nil
	default:
		return v.Interface()
	}
}
