// Package console is the line-oriented UI: each input line is one gesture
// (add, remove, move, recolor, change view) forwarded to the engine.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/astromechza/groupmap/pkg/engine"
	"github.com/astromechza/groupmap/pkg/group"
	"github.com/astromechza/groupmap/pkg/registry"
)

const usage = `commands:
  add                      add a group in the lowest free slot
  remove [name]            remove a group
  move <name> <lat> <lng>  move a group
  color <name> <color>     recolor a group
  view <lat> <lng> <zoom>  change the shared map view
  list                     list groups
  help                     show this text`

// Actions is the gesture surface of engine.Engine.
type Actions interface {
	Add(ctx context.Context) (group.Name, error)
	RemoveRequested(ctx context.Context, name group.Name) error
	Move(ctx context.Context, name group.Name, p group.Position) error
	Recolor(ctx context.Context, name group.Name, c group.Color) error
	SetMapView(ctx context.Context, v group.MapView) error
	Config() engine.Config
}

type Kind string

const (
	KindAdd    Kind = "add"
	KindRemove Kind = "remove"
	KindMove   Kind = "move"
	KindColor  Kind = "color"
	KindView   Kind = "view"
	KindList   Kind = "list"
	KindHelp   Kind = "help"
)

type Command struct {
	Kind     Kind
	Name     group.Name
	Position group.Position
	Color    group.Color
	Zoom     int
}

var ErrUsage = errors.New("bad command")

func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty line", ErrUsage)
	}
	args := fields[1:]
	c := Command{Kind: Kind(strings.ToLower(fields[0]))}
	switch c.Kind {
	case KindAdd, KindList, KindHelp:
		if len(args) != 0 {
			return Command{}, fmt.Errorf("%w: %s takes no arguments", ErrUsage, c.Kind)
		}
	case KindRemove:
		if len(args) > 1 {
			return Command{}, fmt.Errorf("%w: remove takes at most one group", ErrUsage)
		}
		if len(args) == 1 {
			c.Name = group.Name(args[0])
		}
	case KindMove:
		if len(args) != 3 {
			return Command{}, fmt.Errorf("%w: move <name> <lat> <lng>", ErrUsage)
		}
		c.Name = group.Name(args[0])
		p, err := parsePosition(args[1], args[2])
		if err != nil {
			return Command{}, err
		}
		c.Position = p
	case KindColor:
		if len(args) != 2 {
			return Command{}, fmt.Errorf("%w: color <name> <color>", ErrUsage)
		}
		c.Name = group.Name(args[0])
		c.Color = group.Color(args[1])
	case KindView:
		if len(args) != 3 {
			return Command{}, fmt.Errorf("%w: view <lat> <lng> <zoom>", ErrUsage)
		}
		p, err := parsePosition(args[0], args[1])
		if err != nil {
			return Command{}, err
		}
		zoom, err := strconv.Atoi(args[2])
		if err != nil {
			return Command{}, fmt.Errorf("%w: zoom %q", ErrUsage, args[2])
		}
		c.Position = p
		c.Zoom = zoom
	default:
		return Command{}, fmt.Errorf("%w: unknown command %q", ErrUsage, fields[0])
	}
	return c, nil
}

func parsePosition(lat, lng string) (group.Position, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return group.Position{}, fmt.Errorf("%w: latitude %q", ErrUsage, lat)
	}
	ln, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return group.Position{}, fmt.Errorf("%w: longitude %q", ErrUsage, lng)
	}
	return group.Position{Lat: la, Lng: ln}, nil
}

type Console struct {
	actions Actions
	records func() []registry.Record
	// exec runs fn where the engine may be touched, e.g. eventloop.Loop.Do.
	exec func(ctx context.Context, fn func()) error
}

func New(actions Actions, records func() []registry.Record, exec func(ctx context.Context, fn func()) error) *Console {
	if exec == nil {
		exec = func(_ context.Context, fn func()) error {
			fn()
			return nil
		}
	}
	return &Console{actions: actions, records: records, exec: exec}
}

// Run reads commands until in is exhausted or ctx is cancelled.
func (c *Console) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cmd, err := Parse(line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n%s\n", err, usage)
			continue
		}
		if err := c.Execute(ctx, cmd, out); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read commands: %w", err)
	}
	return nil
}

// Execute runs one command. Action failures are reported on out; only a
// failure to reach the engine is returned.
func (c *Console) Execute(ctx context.Context, cmd Command, out io.Writer) error {
	var err error
	execErr := c.exec(ctx, func() {
		switch cmd.Kind {
		case KindAdd:
			var name group.Name
			name, err = c.actions.Add(ctx)
			if errors.Is(err, group.ErrAllocationExhausted) {
				err = nil
			} else if err == nil {
				fmt.Fprintf(out, "added %s\n", name)
			}
		case KindRemove:
			if cmd.Name == "" && c.actions.Config().RemovePolicy == engine.RemoveChosen {
				fmt.Fprintf(out, "error: %v: remove needs a group name\n%s\n", ErrUsage, usage)
				return
			}
			err = c.actions.RemoveRequested(ctx, cmd.Name)
		case KindMove:
			err = c.actions.Move(ctx, cmd.Name, cmd.Position)
		case KindColor:
			err = c.actions.Recolor(ctx, cmd.Name, cmd.Color)
		case KindView:
			err = c.actions.SetMapView(ctx, group.MapView{Center: cmd.Position, Zoom: cmd.Zoom})
		case KindList:
			for _, rec := range c.records() {
				fmt.Fprintf(out, "%s %s %s\n", rec.Name, rec.Descriptor.Position, rec.Descriptor.Color)
			}
		case KindHelp:
			fmt.Fprintln(out, usage)
		}
	})
	if execErr != nil {
		return execErr
	}
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
	}
	return nil
}
