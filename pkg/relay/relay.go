// Package relay hosts shared namespaces for groupmap clients. Each namespace
// is an automerge document held in memory, synced to clients over websockets
// and backed up to sqlite.
package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/groupmap/pkg/store/docstore"
	"github.com/astromechza/groupmap/pkg/wire"
)

type Server struct {
	database *sql.DB
	cache    *sync.Map
	// serializes namespace creation
	createMu sync.Mutex
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

func New(db *sql.DB, opts ...Option) *Server {
	s := &Server{
		database: db,
		cache:    new(sync.Map),
		logger:   slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP API:
//
//	GET /stores/{store}/latest  saved automerge document
//	GET /stores/{store}/groups  JSON snapshot of every key
//	GET /stores/{store}/sync    websocket automerge sync session
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			s.logger.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	r.Methods(http.MethodGet).Path("/stores/{store:[A-Za-z0-9_-]+}/latest").HandlerFunc(s.getLatest)
	r.Methods(http.MethodGet).Path("/stores/{store:[A-Za-z0-9_-]+}/groups").HandlerFunc(s.getGroups)
	r.Methods(http.MethodGet).Path("/stores/{store:[A-Za-z0-9_-]+}/sync").HandlerFunc(s.syncStore)
	return r
}

func (s *Server) lookup(id string) (*docstore.Store, bool) {
	raw, ok := s.cache.Load(id)
	if !ok {
		return nil, false
	}
	st, ok := raw.(*docstore.Store)
	return st, ok
}

// namespace returns the namespace id, creating and persisting it if needed.
func (s *Server) namespace(ctx context.Context, id string) (*docstore.Store, error) {
	if st, ok := s.lookup(id); ok {
		return st, nil
	}
	s.createMu.Lock()
	defer s.createMu.Unlock()
	if st, ok := s.lookup(id); ok {
		return st, nil
	}
	st, err := docstore.New(docstore.WithLogger(s.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := s.insert(ctx, id, st.Save()); err != nil {
		return nil, err
	}
	s.cache.Store(id, st)
	s.logger.Info("created store", "store", id)
	return st, nil
}

func (s *Server) getLatest(writer http.ResponseWriter, request *http.Request) {
	st, ok := s.lookup(mux.Vars(request)["store"])
	if !ok {
		writer.WriteHeader(http.StatusNotFound)
		return
	}
	writer.Header().Add("Content-Type", "application/octet-stream")
	if _, err := writer.Write(st.Save()); err != nil {
		s.logger.Error("failed to write out", "err", err)
	}
}

func (s *Server) getGroups(writer http.ResponseWriter, request *http.Request) {
	st, ok := s.lookup(mux.Vars(request)["store"])
	if !ok {
		writer.WriteHeader(http.StatusNotFound)
		return
	}
	snap, err := st.SnapshotAll(request.Context())
	if err != nil {
		s.logger.Error("failed to snapshot", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(snap); err != nil {
		s.logger.Error("failed to encode snapshot", "err", err)
	}
}

func (s *Server) syncStore(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["store"]
	st, err := s.namespace(request.Context(), id)
	if err != nil {
		s.logger.Error("failed to open store", "store", id, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	peer := st.NewPeer()
	defer peer.Close()
	s.logger.Info("client connected", "store", id, "remote", conn.RemoteAddr())
	if err := wire.Sync(request.Context(), conn, peer); err != nil {
		s.logger.Error("failed to sync", "store", id, "err", err)
	}
	s.logger.Info("client disconnected", "store", id, "remote", conn.RemoteAddr())
}
