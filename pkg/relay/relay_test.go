package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/groupmap/pkg/engine"
	"github.com/astromechza/groupmap/pkg/eventloop"
	"github.com/astromechza/groupmap/pkg/group"
	"github.com/astromechza/groupmap/pkg/registry"
	"github.com/astromechza/groupmap/pkg/store/docstore"
	"github.com/astromechza/groupmap/pkg/view"
	"github.com/astromechza/groupmap/pkg/wire"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func startServer(t *testing.T, db *sql.DB) (*Server, *httptest.Server) {
	t.Helper()
	s := New(db, WithLogger(quietLogger()))
	require.NoError(t, s.Init(context.Background()))
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return s, srv
}

// connect syncs replica with the relay until the test ends.
func connect(t *testing.T, srv *httptest.Server, replica *docstore.Store) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stores/default/sync"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	peer := replica.NewPeer()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = wire.Sync(ctx, conn, peer)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		peer.Close()
	})
}

func getGroups(t *testing.T, srv *httptest.Server) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(srv.URL + "/stores/default/groups")
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestSyncBackupRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.sqlite3")
	db := openDB(t, path)
	s, srv := startServer(t, db)

	resp, err := http.Get(srv.URL + "/stores/default/latest")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	replica, err := docstore.New()
	require.NoError(t, err)
	connect(t, srv, replica)
	d := group.Descriptor{Position: group.Position{Lat: 35.316, Lng: 139.55}, Color: "#ff0000"}
	require.NoError(t, replica.Write(context.Background(), "group1", d.Raw()))

	require.Eventually(t, func() bool {
		code, groups := getGroups(t, srv)
		return code == http.StatusOK && groups["group1"] != nil
	}, 5*time.Second, 20*time.Millisecond)

	resp, err = http.Get(srv.URL + "/stores/default/latest")
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	latest, err := docstore.Load(raw)
	require.NoError(t, err)
	snap, err := latest.SnapshotAll(context.Background())
	require.NoError(t, err)
	got, err := group.ParseDescriptor(snap["group1"], "")
	require.NoError(t, err)
	assert.Equal(t, d, got)

	require.NoError(t, s.Backup(context.Background()))

	restored := New(openDB(t, path), WithLogger(quietLogger()))
	require.NoError(t, restored.Init(context.Background()))
	var ids []string
	restored.Stores(func(id string, st *docstore.Store) {
		ids = append(ids, id)
		snap, err := st.SnapshotAll(context.Background())
		require.NoError(t, err)
		assert.Contains(t, snap, "group1")
	})
	assert.Equal(t, []string{"default"}, ids)
}

func TestRejectsBadStoreNames(t *testing.T) {
	_, srv := startServer(t, openDB(t, filepath.Join(t.TempDir(), "relay.sqlite3")))
	resp, err := http.Get(srv.URL + "/stores/a.b/groups")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type session struct {
	loop     *eventloop.Loop
	engine   *engine.Engine
	registry *registry.Registry
}

func newSession(t *testing.T, srv *httptest.Server) *session {
	t.Helper()
	replica, err := docstore.New()
	require.NoError(t, err)
	connect(t, srv, replica)

	loop := eventloop.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	cfg := engine.DefaultConfig()
	reg := registry.New(cfg.Naming(), view.NewFactory(quietLogger()))
	e := engine.New(cfg, loop.Store(replica), reg, engine.WithLogger(quietLogger()))
	var startErr error
	require.NoError(t, loop.Do(context.Background(), func() { startErr = e.Start(context.Background()) }))
	require.NoError(t, startErr)
	return &session{loop: loop, engine: e, registry: reg}
}

func (s *session) position(t *testing.T, name group.Name) (group.Position, bool) {
	var rec registry.Record
	var ok bool
	require.NoError(t, s.loop.Do(context.Background(), func() { rec, ok = s.registry.Get(name) }))
	return rec.Descriptor.Position, ok
}

func TestClientsConvergeThroughRelay(t *testing.T) {
	_, srv := startServer(t, openDB(t, filepath.Join(t.TempDir(), "relay.sqlite3")))
	one := newSession(t, srv)
	two := newSession(t, srv)

	var name group.Name
	var err error
	require.NoError(t, one.loop.Do(context.Background(), func() { name, err = one.engine.Add(context.Background()) }))
	require.NoError(t, err)
	require.Equal(t, group.Name("group1"), name)

	require.Eventually(t, func() bool {
		_, ok := two.position(t, name)
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	moved := group.Position{Lat: 35.320, Lng: 139.56}
	require.NoError(t, one.loop.Do(context.Background(), func() { err = one.engine.Move(context.Background(), name, moved) }))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		p, ok := two.position(t, name)
		return ok && p == moved
	}, 5*time.Second, 20*time.Millisecond)
}
