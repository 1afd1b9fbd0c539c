package console

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/groupmap/pkg/engine"
	"github.com/astromechza/groupmap/pkg/group"
	"github.com/astromechza/groupmap/pkg/registry"
	"github.com/astromechza/groupmap/pkg/store/memstore"
	"github.com/astromechza/groupmap/pkg/view"
)

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		line string
		want Command
	}{
		{"add", Command{Kind: KindAdd}},
		{"ADD", Command{Kind: KindAdd}},
		{"remove", Command{Kind: KindRemove}},
		{"remove group3", Command{Kind: KindRemove, Name: "group3"}},
		{"move group1 35.32 139.56", Command{Kind: KindMove, Name: "group1", Position: group.Position{Lat: 35.32, Lng: 139.56}}},
		{"color group2 #ff0000", Command{Kind: KindColor, Name: "group2", Color: "#ff0000"}},
		{"view 35.316 139.55 14", Command{Kind: KindView, Position: group.Position{Lat: 35.316, Lng: 139.55}, Zoom: 14}},
		{"  list  ", Command{Kind: KindList}},
	} {
		t.Run(tc.line, func(t *testing.T) {
			got, err := Parse(tc.line)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	for _, line := range []string{
		"", "jump", "add 1", "remove a b", "move group1 1", "move group1 x 2", "color group1", "view 1 2 z",
	} {
		t.Run("bad "+line, func(t *testing.T) {
			_, err := Parse(line)
			assert.ErrorIs(t, err, ErrUsage)
		})
	}
}

func TestRunAgainstEngine(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := engine.DefaultConfig()
	cfg.RemovePolicy = engine.RemoveChosen
	st := memstore.New()
	reg := registry.New(cfg.Naming(), view.NewFactory(logger))
	e := engine.New(cfg, st, reg, engine.WithLogger(logger))
	require.NoError(t, e.Start(context.Background()))

	c := New(e, reg.All, nil)
	in := strings.NewReader(strings.Join([]string{
		"add",
		"add",
		"# comment",
		"move group2 35.32 139.56",
		"color group1 #ff0000",
		"remove group1",
		"bogus",
		"move group9 1 1",
		"list",
	}, "\n"))
	var out bytes.Buffer
	require.NoError(t, c.Run(context.Background(), in, &out))

	assert.Equal(t, []group.Name{"group2"}, reg.Names())
	rec, _ := reg.Get("group2")
	assert.Equal(t, group.Position{Lat: 35.32, Lng: 139.56}, rec.Descriptor.Position)
	text := out.String()
	assert.Contains(t, text, "added group1")
	assert.Contains(t, text, "added group2")
	assert.Contains(t, text, "unknown command")
	assert.Contains(t, text, "unknown group")
	assert.Contains(t, text, "group2 (35.320000,139.560000)")
}

func TestAddWhenFullIsSilent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := engine.DefaultConfig()
	cfg.MaxGroups = 1
	st := memstore.New()
	reg := registry.New(cfg.Naming(), view.NewFactory(logger))
	e := engine.New(cfg, st, reg, engine.WithLogger(logger))
	require.NoError(t, e.Start(context.Background()))

	c := New(e, reg.All, nil)
	var out bytes.Buffer
	require.NoError(t, c.Run(context.Background(), strings.NewReader("add\nadd\n"), &out))
	assert.Equal(t, "added group1\n", out.String())
}

func TestRemoveWithoutNameUnderChosenPolicy(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := engine.DefaultConfig()
	cfg.RemovePolicy = engine.RemoveChosen
	st := memstore.New()
	reg := registry.New(cfg.Naming(), view.NewFactory(logger))
	e := engine.New(cfg, st, reg, engine.WithLogger(logger))
	require.NoError(t, e.Start(context.Background()))

	c := New(e, reg.All, nil)
	var out bytes.Buffer
	require.NoError(t, c.Run(context.Background(), strings.NewReader("add\nadd\nremove\n"), &out))
	assert.Contains(t, out.String(), "remove needs a group name")
	assert.Contains(t, out.String(), "remove [name]")
	assert.Equal(t, []group.Name{"group1", "group2"}, reg.Names())
	assert.Equal(t, int64(0), st.Removes())
}

func TestRemoveWithoutNameUnderHighestPolicy(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := engine.DefaultConfig()
	st := memstore.New()
	reg := registry.New(cfg.Naming(), view.NewFactory(logger))
	e := engine.New(cfg, st, reg, engine.WithLogger(logger))
	require.NoError(t, e.Start(context.Background()))

	c := New(e, reg.All, nil)
	var out bytes.Buffer
	require.NoError(t, c.Run(context.Background(), strings.NewReader("add\nadd\nremove\n"), &out))
	assert.NotContains(t, out.String(), "error")
	assert.Equal(t, []group.Name{"group1"}, reg.Names())
}
