package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	kind    string
	key     string
	value   any
	present bool
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) OnValueChanged(key string, value any, present bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{"value", key, value, present})
}

func (r *recorder) OnChildAdded(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{"added", key, value, true})
}

func (r *recorder) OnChildRemoved(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{kind: "removed", key: key})
}

func TestFeedSubscribeValueFiresImmediately(t *testing.T) {
	f := NewFeed()
	r := &recorder{}
	f.SubscribeValue("group1", r)
	f.Set("group1", "a")
	f.SubscribeValue("group1", ValueHandlerFunc(func(key string, value any, present bool) {
		r.OnValueChanged("second:"+key, value, present)
	}))

	assert.Equal(t, []event{
		{"value", "group1", nil, false},
		{"value", "group1", "a", true},
		{"value", "second:group1", "a", true},
	}, r.events)
}

func TestFeedChildEvents(t *testing.T) {
	f := NewFeed()
	r := &recorder{}
	f.SubscribeChildAdded(r)
	f.SubscribeChildRemoved(r)

	f.Set("group1", "a")
	f.Set("group1", "b")
	f.Delete("group1")
	f.Delete("group1")

	assert.Equal(t, []event{
		{"added", "group1", "a", true},
		{kind: "removed", key: "group1"},
	}, r.events)
}

func TestFeedSetAlwaysNotifies(t *testing.T) {
	f := NewFeed()
	r := &recorder{}
	f.SubscribeValue("k", r)
	f.Set("k", "v")
	f.Set("k", "v")
	assert.Len(t, r.events, 3)
}

func TestFeedReconcileOnlyReportsChanges(t *testing.T) {
	f := NewFeed()
	f.Set("a", map[string]any{"x": 1.0})
	f.Set("b", "keep")
	r := &recorder{}
	f.SubscribeChildAdded(r)
	f.SubscribeChildRemoved(r)
	f.SubscribeValue("a", r)
	f.SubscribeValue("b", r)
	r.events = nil

	f.Reconcile(map[string]any{
		"a": map[string]any{"x": 2.0},
		"b": "keep",
		"c": "new",
	})
	assert.Equal(t, []event{
		{"value", "a", map[string]any{"x": 2.0}, true},
		{"added", "c", "new", true},
	}, r.events)

	r.events = nil
	f.Reconcile(map[string]any{"c": "new"})
	assert.ElementsMatch(t, []event{
		{kind: "removed", key: "a"},
		{"value", "a", nil, false},
		{kind: "removed", key: "b"},
		{"value", "b", nil, false},
	}, r.events)
}

func TestFeedHandlersDoNotRecurse(t *testing.T) {
	f := NewFeed()
	var order []string
	f.SubscribeValue("a", ValueHandlerFunc(func(key string, value any, present bool) {
		if !present {
			return
		}
		order = append(order, "a:start")
		f.Set("b", "from-a")
		order = append(order, "a:end")
	}))
	f.SubscribeValue("b", ValueHandlerFunc(func(key string, value any, present bool) {
		if present {
			order = append(order, "b")
		}
	}))
	f.Set("a", "x")
	assert.Equal(t, []string{"a:start", "a:end", "b"}, order)
}

func TestFeedClonesValues(t *testing.T) {
	f := NewFeed()
	in := map[string]any{"position": map[string]any{"lat": 1.0}}
	f.Set("k", in)
	in["position"].(map[string]any)["lat"] = 2.0

	got, ok := f.Get("k")
	require.True(t, ok)
	assert.Equal(t, 1.0, got.(map[string]any)["position"].(map[string]any)["lat"])
}

func TestFeedClose(t *testing.T) {
	f := NewFeed()
	r := &recorder{}
	f.SubscribeChildAdded(r)
	f.Close()
	f.Set("k", "v")
	assert.Empty(t, r.events)
	assert.Equal(t, map[string]any{"k": "v"}, f.Snapshot())
}

func TestFeedStageWaitsForFlush(t *testing.T) {
	f := NewFeed()
	r := &recorder{}
	f.SubscribeValue("group1", r)
	f.SubscribeChildAdded(r)

	f.Stage(map[string]any{"group1": "a"})
	v, ok := f.Get("group1")
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, []event{{"value", "group1", nil, false}}, r.events)

	f.Flush()
	assert.Equal(t, []event{
		{"value", "group1", nil, false},
		{"added", "group1", "a", true},
		{"value", "group1", "a", true},
	}, r.events)
}
