package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/astromechza/groupmap/pkg/group"
	"github.com/astromechza/groupmap/pkg/store"
)

// Move shows the new position immediately and writes the full descriptor.
// A failed write is not rolled back; the next notification for the key
// corrects the view.
func (e *Engine) Move(ctx context.Context, name group.Name, p group.Position) error {
	rec, ok := e.registry.Get(name)
	if !ok {
		return fmt.Errorf("failed to move %s: %w", name, ErrUnknownGroup)
	}
	if !p.Valid() {
		return fmt.Errorf("failed to move %s: %w: position %s", name, group.ErrMalformed, p)
	}
	d := rec.Descriptor
	d.Position = p
	return e.write(ctx, name, rec.Descriptor, d)
}

func (e *Engine) Recolor(ctx context.Context, name group.Name, c group.Color) error {
	rec, ok := e.registry.Get(name)
	if !ok {
		return fmt.Errorf("failed to recolor %s: %w", name, ErrUnknownGroup)
	}
	if c == "" {
		return fmt.Errorf("failed to recolor %s: %w: empty color", name, group.ErrMalformed)
	}
	d := rec.Descriptor
	d.Color = c
	return e.write(ctx, name, rec.Descriptor, d)
}

func (e *Engine) write(ctx context.Context, name group.Name, prev, next group.Descriptor) error {
	if prev.Equal(next) {
		return nil
	}
	e.registry.Upsert(name, next)
	if err := e.store.Write(ctx, string(name), next.Raw()); err != nil {
		err = unavailable(err)
		e.logger.Warn("write failed, keeping local state", "group", name, "err", err)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// Add writes a new group into the lowest free slot of the live set read
// fresh from the store. When every slot is taken it does nothing and returns
// group.ErrAllocationExhausted. Two clients racing for the same slot both
// write it; the store keeps the last write and both converge on it.
func (e *Engine) Add(ctx context.Context) (group.Name, error) {
	snap, err := e.store.SnapshotAll(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read live groups: %w", unavailable(err))
	}
	live := make([]string, 0, len(snap))
	for key := range snap {
		live = append(live, key)
	}
	name, err := e.alloc.Allocate(live)
	if err != nil {
		e.logger.Debug("add ignored", "err", err)
		return "", err
	}
	idx, _ := e.naming.Index(string(name))
	d := group.Descriptor{Position: e.cfg.DefaultPosition, Color: e.slotColor(idx)}
	if err := e.store.Write(ctx, string(name), d.Raw()); err != nil {
		return "", fmt.Errorf("failed to add %s: %w", name, unavailable(err))
	}
	e.logger.Info("group created", "group", name)
	return name, nil
}

// RemoveRequested applies the configured remove policy. name is ignored
// under RemoveHighest.
func (e *Engine) RemoveRequested(ctx context.Context, name group.Name) error {
	if e.cfg.RemovePolicy == RemoveChosen {
		return e.Remove(ctx, name)
	}
	return e.RemoveHighest(ctx)
}

func (e *Engine) RemoveHighest(ctx context.Context) error {
	live, err := e.live(ctx)
	if err != nil {
		return err
	}
	if len(live) <= e.cfg.MinGroups {
		e.logger.Debug("remove ignored, at minimum", "groups", len(live))
		return nil
	}
	return e.remove(ctx, live[len(live)-1])
}

// Remove deletes name from the store. The view goes away when the removal
// notification comes back, not here. Unknown names are ignored.
func (e *Engine) Remove(ctx context.Context, name group.Name) error {
	live, err := e.live(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, n := range live {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		e.logger.Debug("remove ignored, unknown group", "group", name)
		return nil
	}
	if len(live) <= e.cfg.MinGroups {
		e.logger.Debug("remove ignored, at minimum", "groups", len(live))
		return nil
	}
	return e.remove(ctx, name)
}

func (e *Engine) SetMapView(ctx context.Context, v group.MapView) error {
	if e.cfg.MapViewKey == "" {
		return nil
	}
	if err := e.store.Write(ctx, e.cfg.MapViewKey, v.Raw()); err != nil {
		return fmt.Errorf("failed to write map view: %w", unavailable(err))
	}
	return nil
}

func (e *Engine) remove(ctx context.Context, name group.Name) error {
	if err := e.store.Remove(ctx, string(name)); err != nil {
		return fmt.Errorf("failed to remove %s: %w", name, unavailable(err))
	}
	e.logger.Info("group removal requested", "group", name)
	return nil
}

func (e *Engine) live(ctx context.Context) ([]group.Name, error) {
	snap, err := e.store.SnapshotAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read live groups: %w", unavailable(err))
	}
	return e.liveGroups(snap), nil
}

func (e *Engine) slotColor(idx int) group.Color {
	if e.cfg.ColorBySlot && len(e.cfg.Palette) > 0 && idx > 0 {
		return e.cfg.Palette[(idx-1)%len(e.cfg.Palette)]
	}
	return e.cfg.DefaultColor
}

func unavailable(err error) error {
	if errors.Is(err, store.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", store.ErrStoreUnavailable, err)
}
