// Package store defines the replicated key-value namespace that groups are
// synchronized through, plus Feed, the notification fan-out shared by the
// implementations in the sub-packages.
package store

import (
	"context"
	"errors"
)

// ErrStoreUnavailable wraps any failure to reach the backing store.
var ErrStoreUnavailable = errors.New("store unavailable")

// Values are JSON-shaped: map[string]any, []any, string, float64, int64, bool.
type Store interface {
	Write(ctx context.Context, key string, value any) error
	Remove(ctx context.Context, key string) error
	SnapshotAll(ctx context.Context) (map[string]any, error)

	// SubscribeValue fires once with the current value, then on every change.
	SubscribeValue(key string, h ValueHandler)
	SubscribeChildAdded(h ChildAddedHandler)
	SubscribeChildRemoved(h ChildRemovedHandler)
}

type ValueHandler interface {
	OnValueChanged(key string, value any, present bool)
}

type ChildAddedHandler interface {
	OnChildAdded(key string, value any)
}

type ChildRemovedHandler interface {
	OnChildRemoved(key string)
}

type ValueHandlerFunc func(key string, value any, present bool)

func (f ValueHandlerFunc) OnValueChanged(key string, value any, present bool) {
	f(key, value, present)
}

type ChildAddedHandlerFunc func(key string, value any)

func (f ChildAddedHandlerFunc) OnChildAdded(key string, value any) {
	f(key, value)
}

type ChildRemovedHandlerFunc func(key string)

func (f ChildRemovedHandlerFunc) OnChildRemoved(key string) {
	f(key)
}
