package engine

import (
	"fmt"

	"github.com/astromechza/groupmap/pkg/group"
)

// OnValueChanged applies a value notification. An absent value is an
// authoritative removal.
func (e *Engine) OnValueChanged(key string, value any, present bool) {
	name, ok := e.groupName(key)
	if !ok {
		return
	}
	if !present {
		if e.registry.Remove(name) {
			e.logger.Info("group removed", "group", name)
		}
		return
	}
	d, err := e.parse(key, value)
	if err != nil {
		return
	}
	if rec, ok := e.registry.Get(name); ok && rec.Descriptor.Equal(d) {
		return
	}
	e.registry.Upsert(name, d)
	e.logger.Debug("applied remote value", "group", name, "position", d.Position, "color", d.Color)
}

// OnChildAdded registers a group seen for the first time and subscribes to
// its value for the rest of the session.
func (e *Engine) OnChildAdded(key string, value any) {
	name, ok := e.groupName(key)
	if !ok {
		return
	}
	if _, exists := e.registry.Get(name); !exists {
		if d, err := e.parse(key, value); err == nil {
			e.registry.Upsert(name, d)
			e.logger.Info("group added", "group", name, "position", d.Position, "color", d.Color)
		}
	}
	if !e.subscribed[key] {
		e.subscribed[key] = true
		e.store.SubscribeValue(key, e)
	}
}

func (e *Engine) OnChildRemoved(key string) {
	name, ok := e.groupName(key)
	if !ok {
		return
	}
	if e.registry.Remove(name) {
		e.logger.Info("group removed", "group", name)
	}
}

func (e *Engine) parse(key string, value any) (group.Descriptor, error) {
	d, err := group.ParseDescriptor(value, e.cfg.DefaultColor)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrMalformedValue, key, err)
		e.logger.Warn("dropping remote value", "key", key, "err", err)
		return group.Descriptor{}, err
	}
	return d, nil
}

func (e *Engine) onMapView(key string, value any, present bool) {
	if !present {
		return
	}
	v, err := group.ParseMapView(value)
	if err != nil {
		e.logger.Warn("dropping map view", "key", key, "err", fmt.Errorf("%w: %w", ErrMalformedValue, err))
		return
	}
	e.mapView.OnMapView(v)
}
