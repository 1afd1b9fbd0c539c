// Package view renders markers as log lines. It stands in for a map widget
// and has no synchronization logic.
package view

import (
	"log/slog"
	"sync/atomic"

	"github.com/astromechza/groupmap/pkg/group"
	"github.com/astromechza/groupmap/pkg/registry"
)

type Factory struct {
	logger *slog.Logger
	live   atomic.Int64
}

var _ registry.ViewFactory = (*Factory)(nil)

func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{logger: logger}
}

func (f *Factory) NewView(name group.Name, d group.Descriptor) registry.View {
	f.live.Add(1)
	m := &Marker{factory: f, name: name, position: d.Position, color: d.Color}
	f.logger.Info("marker placed", "group", name, "position", d.Position, "color", d.Color)
	return m
}

// Live is the number of markers not yet released.
func (f *Factory) Live() int64 {
	return f.live.Load()
}

// OnMapView logs the shared viewport.
func (f *Factory) OnMapView(v group.MapView) {
	f.logger.Info("map view", "center", v.Center, "zoom", v.Zoom)
}

type Marker struct {
	factory  *Factory
	name     group.Name
	position group.Position
	color    group.Color
	released bool
}

func (m *Marker) Move(p group.Position) {
	m.position = p
	m.factory.logger.Info("marker moved", "group", m.name, "position", p)
}

func (m *Marker) Recolor(c group.Color) {
	m.color = c
	m.factory.logger.Info("marker recolored", "group", m.name, "color", c)
}

func (m *Marker) Release() {
	if m.released {
		return
	}
	m.released = true
	m.factory.live.Add(-1)
	m.factory.logger.Info("marker removed", "group", m.name)
}

func (m *Marker) Position() group.Position { return m.position }

func (m *Marker) Color() group.Color { return m.color }
