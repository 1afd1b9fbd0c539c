// Package engine keeps the local registry consistent with the shared store.
//
// Local gestures (move, recolor, add, remove) become full-value store writes.
// Store notifications become registry updates, and only registry updates:
// the inbound path never writes back, and a notification that carries what
// the registry already shows is dropped. That is what stops a client from
// re-broadcasting its own echo.
//
// An Engine is not safe for concurrent use. All calls, including the store
// handler callbacks, must come from one goroutine (see package eventloop).
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/astromechza/groupmap/pkg/group"
	"github.com/astromechza/groupmap/pkg/registry"
	"github.com/astromechza/groupmap/pkg/store"
)

var (
	ErrMalformedValue = errors.New("malformed remote value")
	ErrUnknownGroup   = errors.New("unknown group")
)

type RemovePolicy string

const (
	// RemoveHighest always removes the highest-numbered live group.
	RemoveHighest RemovePolicy = "highest"
	// RemoveChosen removes the group the user picked.
	RemoveChosen RemovePolicy = "chosen"
)

type Config struct {
	Prefix          string
	MaxGroups       int
	MinGroups       int
	DefaultPosition group.Position
	DefaultColor    group.Color
	// Palette is used for new groups when ColorBySlot is set: slot i gets
	// Palette[(i-1) % len(Palette)].
	Palette      []group.Color
	ColorBySlot  bool
	RemovePolicy RemovePolicy
	// MapViewKey is the reserved key holding the shared viewport. Empty
	// disables map view sync.
	MapViewKey string
}

func DefaultConfig() Config {
	return Config{
		Prefix:          "group",
		MaxGroups:       12,
		MinGroups:       1,
		DefaultPosition: group.Position{Lat: 35.316, Lng: 139.55},
		DefaultColor:    "#3388ff",
		Palette: []group.Color{
			"#3388ff", "#e6194b", "#3cb44b", "#ffe119", "#f58231", "#911eb4",
			"#46f0f0", "#f032e6", "#bcf60c", "#fabebe", "#008080", "#9a6324",
		},
		RemovePolicy: RemoveHighest,
		MapViewKey:   "mapView",
	}
}

func (c Config) Naming() group.Naming {
	return group.NewNaming(c.Prefix)
}

// MapViewSink receives the shared viewport whenever it changes.
type MapViewSink interface {
	OnMapView(v group.MapView)
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

func WithMapViewSink(s MapViewSink) Option {
	return func(e *Engine) {
		e.mapView = s
	}
}

type Engine struct {
	cfg      Config
	naming   group.Naming
	alloc    group.Allocator
	store    store.Store
	registry *registry.Registry
	logger   *slog.Logger
	mapView  MapViewSink

	// keys with an active value subscription; they last for the session
	subscribed map[string]bool
	started    bool
}

var (
	_ store.ValueHandler        = (*Engine)(nil)
	_ store.ChildAddedHandler   = (*Engine)(nil)
	_ store.ChildRemovedHandler = (*Engine)(nil)
)

func New(cfg Config, st store.Store, reg *registry.Registry, opts ...Option) *Engine {
	naming := cfg.Naming()
	e := &Engine{
		cfg:        cfg,
		naming:     naming,
		alloc:      group.Allocator{Naming: naming, Max: cfg.MaxGroups},
		store:      st,
		registry:   reg,
		logger:     slog.Default(),
		subscribed: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start registers the namespace handlers and loads every existing group.
// Handlers are registered before the snapshot is read so nothing added in
// between is missed.
func (e *Engine) Start(ctx context.Context) error {
	if e.started {
		return nil
	}
	e.store.SubscribeChildAdded(e)
	e.store.SubscribeChildRemoved(e)
	if e.cfg.MapViewKey != "" && e.mapView != nil {
		e.store.SubscribeValue(e.cfg.MapViewKey, store.ValueHandlerFunc(e.onMapView))
	}
	e.started = true

	snap, err := e.store.SnapshotAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot groups: %w", err)
	}
	keys := make([]string, 0, len(snap))
	for key := range snap {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		e.OnChildAdded(key, snap[key])
	}
	e.logger.Info("engine started", "groups", e.registry.Len())
	return nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// groupName maps a store key to a group name, rejecting every key that is
// not a group key in range.
func (e *Engine) groupName(key string) (group.Name, bool) {
	if !e.naming.Matches(key, e.cfg.MaxGroups) {
		return "", false
	}
	return group.Name(key), true
}

// liveGroups returns the group names in snap ordered by slot.
func (e *Engine) liveGroups(snap map[string]any) []group.Name {
	type slot struct {
		name  group.Name
		index int
	}
	slots := make([]slot, 0, len(snap))
	for key := range snap {
		if name, ok := e.groupName(key); ok {
			idx, _ := e.naming.Index(key)
			slots = append(slots, slot{name, idx})
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].index < slots[j].index })
	out := make([]group.Name, len(slots))
	for i, s := range slots {
		out[i] = s.name
	}
	return out
}
