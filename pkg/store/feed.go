package store

import (
	"reflect"
	"sort"
	"sync"
)

// Feed tracks the last known value of every key in a namespace and delivers
// change notifications to subscribers. Deliveries are queued and run one at a
// time, in the order the changes were applied, by whichever goroutine applied
// them. A handler that changes the feed does not recurse: its notifications
// run after it returns.
type Feed struct {
	mu       sync.Mutex
	state    map[string]any
	values   map[string][]ValueHandler
	added    []ChildAddedHandler
	removed  []ChildRemovedHandler
	queue    []func()
	draining bool
}

func NewFeed() *Feed {
	return &Feed{
		state:  make(map[string]any),
		values: make(map[string][]ValueHandler),
	}
}

// Set records value for key and notifies subscribers even if it is unchanged.
func (f *Feed) Set(key string, value any) {
	f.mu.Lock()
	f.set(key, Clone(value), true)
	f.mu.Unlock()
	f.drain()
}

func (f *Feed) Delete(key string) {
	f.mu.Lock()
	f.delete(key)
	f.mu.Unlock()
	f.drain()
}

// Reconcile replaces the whole state with snapshot, notifying only for keys
// that were added, removed or changed.
func (f *Feed) Reconcile(snapshot map[string]any) {
	f.Stage(snapshot)
	f.Flush()
}

// Stage applies snapshot like Reconcile and queues the notifications without
// delivering them. Callers that order snapshots under their own lock stage
// under it and Flush after releasing it.
func (f *Feed) Stage(snapshot map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range sortedKeys(f.state) {
		if _, ok := snapshot[key]; !ok {
			f.delete(key)
		}
	}
	for _, key := range sortedKeys(snapshot) {
		f.set(key, Clone(snapshot[key]), false)
	}
}

// Flush delivers queued notifications. If another goroutine is already
// delivering, it picks them up instead.
func (f *Feed) Flush() {
	f.drain()
}

func (f *Feed) Snapshot() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]any, len(f.state))
	for k, v := range f.state {
		out[k] = Clone(v)
	}
	return out
}

func (f *Feed) Get(key string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.state[key]
	return Clone(v), ok
}

func (f *Feed) SubscribeValue(key string, h ValueHandler) {
	f.mu.Lock()
	f.values[key] = append(f.values[key], h)
	v, ok := f.state[key]
	v = Clone(v)
	f.queue = append(f.queue, func() { h.OnValueChanged(key, v, ok) })
	f.mu.Unlock()
	f.drain()
}

// SubscribeChildAdded only reports keys added after the call; use Snapshot
// for the existing ones.
func (f *Feed) SubscribeChildAdded(h ChildAddedHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, h)
}

func (f *Feed) SubscribeChildRemoved(h ChildRemovedHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, h)
}

// Close drops every subscription. Queued deliveries still run.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = make(map[string][]ValueHandler)
	f.added = nil
	f.removed = nil
}

func (f *Feed) set(key string, value any, always bool) {
	prev, existed := f.state[key]
	if existed && !always && reflect.DeepEqual(prev, value) {
		return
	}
	f.state[key] = value
	if !existed {
		for _, h := range f.added {
			v := Clone(value)
			f.queue = append(f.queue, func() { h.OnChildAdded(key, v) })
		}
	}
	for _, h := range f.values[key] {
		v := Clone(value)
		f.queue = append(f.queue, func() { h.OnValueChanged(key, v, true) })
	}
}

func (f *Feed) delete(key string) {
	if _, ok := f.state[key]; !ok {
		return
	}
	delete(f.state, key)
	for _, h := range f.removed {
		f.queue = append(f.queue, func() { h.OnChildRemoved(key) })
	}
	for _, h := range f.values[key] {
		f.queue = append(f.queue, func() { h.OnValueChanged(key, nil, false) })
	}
}

func (f *Feed) drain() {
	f.mu.Lock()
	if f.draining {
		f.mu.Unlock()
		return
	}
	f.draining = true
	for len(f.queue) > 0 {
		next := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		next()
		f.mu.Lock()
	}
	f.draining = false
	f.mu.Unlock()
}

// Clone deep-copies JSON-shaped values so subscribers never share maps with
// the store.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
