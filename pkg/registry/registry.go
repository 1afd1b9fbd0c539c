// Package registry holds what this client currently renders: one record per
// group name, each owning its view. It is not safe for concurrent use; callers
// drive it from a single event loop.
package registry

import (
	"sort"

	"github.com/astromechza/groupmap/pkg/group"
)

// View is a rendered marker. Updates are applied in place.
type View interface {
	Move(p group.Position)
	Recolor(c group.Color)
	Release()
}

type ViewFactory interface {
	NewView(name group.Name, d group.Descriptor) View
}

type Record struct {
	Name       group.Name
	Index      int
	Descriptor group.Descriptor
	View       View
}

type Registry struct {
	naming  group.Naming
	views   ViewFactory
	records map[group.Name]*Record
}

func New(naming group.Naming, views ViewFactory) *Registry {
	return &Registry{
		naming:  naming,
		views:   views,
		records: make(map[group.Name]*Record),
	}
}

// Upsert creates the record and its view if absent, otherwise moves and
// recolors the existing view as needed.
func (r *Registry) Upsert(name group.Name, d group.Descriptor) View {
	rec, ok := r.records[name]
	if !ok {
		idx, _ := r.naming.Index(string(name))
		rec = &Record{Name: name, Index: idx, Descriptor: d, View: r.views.NewView(name, d)}
		r.records[name] = rec
		return rec.View
	}
	if !rec.Descriptor.Position.Equal(d.Position) {
		rec.View.Move(d.Position)
	}
	if rec.Descriptor.Color != d.Color {
		rec.View.Recolor(d.Color)
	}
	rec.Descriptor = d
	return rec.View
}

// Remove releases and forgets name. It reports whether anything was removed.
func (r *Registry) Remove(name group.Name) bool {
	rec, ok := r.records[name]
	if !ok {
		return false
	}
	delete(r.records, name)
	rec.View.Release()
	return true
}

func (r *Registry) Get(name group.Name) (Record, bool) {
	rec, ok := r.records[name]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// All returns the records ordered by numeric suffix.
func (r *Registry) All() []Record {
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (r *Registry) Names() []group.Name {
	all := r.All()
	names := make([]group.Name, len(all))
	for i, rec := range all {
		names[i] = rec.Name
	}
	return names
}

func (r *Registry) Len() int {
	return len(r.records)
}
