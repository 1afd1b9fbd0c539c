// Package eventloop runs callbacks one at a time on a single goroutine, so
// that store notifications and user gestures never overlap.
package eventloop

import (
	"context"
	"sync"

	"github.com/astromechza/groupmap/pkg/store"
)

type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post queues fn and never blocks, so it is safe to call from inside a
// callback that is already running on the loop.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do posts fn and waits until it has run.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes queued callbacks in order until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		for fn := l.next(); fn != nil; fn = l.next() {
			fn()
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		select {
		case <-l.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}

// Store returns s with every subscription handler moved onto the loop.
func (l *Loop) Store(s store.Store) store.Store {
	return &loopStore{Store: s, loop: l}
}

type loopStore struct {
	store.Store
	loop *Loop
}

func (s *loopStore) SubscribeValue(key string, h store.ValueHandler) {
	s.Store.SubscribeValue(key, store.ValueHandlerFunc(func(key string, value any, present bool) {
		s.loop.Post(func() { h.OnValueChanged(key, value, present) })
	}))
}

func (s *loopStore) SubscribeChildAdded(h store.ChildAddedHandler) {
	s.Store.SubscribeChildAdded(store.ChildAddedHandlerFunc(func(key string, value any) {
		s.loop.Post(func() { h.OnChildAdded(key, value) })
	}))
}

func (s *loopStore) SubscribeChildRemoved(h store.ChildRemovedHandler) {
	s.Store.SubscribeChildRemoved(store.ChildRemovedHandlerFunc(func(key string) {
		s.loop.Post(func() { h.OnChildRemoved(key) })
	}))
}
