package viz

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/groupmap/pkg/group"
	"github.com/astromechza/groupmap/pkg/store/docstore"
)

func history(t *testing.T) *docstore.Store {
	st, err := docstore.New(docstore.WithActorID("aabbccdd"))
	require.NoError(t, err)
	ctx := context.Background()
	d := group.Descriptor{Position: group.Position{Lat: 1, Lng: 2}, Color: "red"}
	require.NoError(t, st.Write(ctx, "group1", d.Raw()))
	d.Position.Lat = 3
	require.NoError(t, st.Write(ctx, "group1", d.Raw()))
	require.NoError(t, st.Write(ctx, "group2", d.Raw()))
	require.NoError(t, st.Remove(ctx, "group1"))
	return st
}

func TestHistory(t *testing.T) {
	doc, err := history(t).Fork()
	require.NoError(t, err)

	steps, err := History(doc, "group1")
	require.NoError(t, err)
	require.Len(t, steps, 4)
	assert.Contains(t, steps[0].Value, `"red"`)
	assert.Contains(t, steps[1].Value, `"lat":3`)
	assert.Equal(t, "null", steps[3].Value)
	assert.Empty(t, steps[0].Deps)
	assert.Equal(t, []string{steps[2].Hash}, steps[3].Deps)
	assert.Equal(t, "aabbccdd", steps[0].Actor)
}

func TestRender(t *testing.T) {
	doc, err := history(t).Fork()
	require.NoError(t, err)

	var buff bytes.Buffer
	require.NoError(t, Render(doc, "group2", &buff))
	assert.Contains(t, buff.String(), "<svg")

	out := filepath.Join(t.TempDir(), "out.svg")
	require.NoError(t, RenderToFile(doc, "group2", out))
	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<svg")
}
