package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/astromechza/groupmap/pkg/cache"
	"github.com/astromechza/groupmap/pkg/config"
	"github.com/astromechza/groupmap/pkg/discovery"
	"github.com/astromechza/groupmap/pkg/store"
	"github.com/astromechza/groupmap/pkg/store/docstore"
	"github.com/astromechza/groupmap/pkg/wire"
)

func openRelay(ctx context.Context, cfg config.Client, logger *slog.Logger, wg *sync.WaitGroup) (store.Store, func(), error) {
	addr := cfg.Relay
	if addr == "" {
		browseCtx, cancel := context.WithTimeout(ctx, cfg.Discovery)
		found, err := discovery.Browse(browseCtx)
		cancel()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to find a relay: %w", err)
		}
		addr = found
	}
	baseUrl, err := url.Parse("http://" + addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse relay address: %w", err)
	}

	var c *cache.Cache
	if cfg.Cache != "" {
		if c, err = cache.Open(cfg.Cache); err != nil {
			return nil, nil, err
		}
	}

	opts := []docstore.Option{docstore.WithLogger(logger), docstore.WithActorID(newActorID())}
	replica, err := loadReplica(ctx, http.DefaultClient, baseUrl, cfg.Store, c, opts...)
	if err != nil {
		if c != nil {
			_ = c.Close()
		}
		return nil, nil, err
	}
	slog.Info("established base doc", "heads", replica.Heads(), "actor", replica.ActorID())

	cl := &client{baseUrl: baseUrl, store: cfg.Store, replica: replica}
	wg.Add(1)
	go func() {
		defer wg.Done()
		cl.connectAndSyncContinuously(ctx)
	}()

	return replica, func() {
		if c != nil {
			if err := c.Put(cfg.Store, replica.Save()); err != nil {
				slog.Error("failed to cache replica", "err", err)
			}
			_ = c.Close()
		}
		replica.Close()
	}, nil
}

// newActorID is a random automerge actor id.
func newActorID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// loadReplica starts from the cached replica if there is one, otherwise from
// the relay's latest document. A namespace the relay has never seen, or a
// relay that is down, starts empty and catches up once sync connects.
func loadReplica(ctx context.Context, hc *http.Client, baseUrl *url.URL, name string, c *cache.Cache, opts ...docstore.Option) (*docstore.Store, error) {
	if c != nil {
		raw, err := c.Get(name)
		if err == nil {
			slog.Info("loaded cached replica", "store", name)
			return docstore.Load(raw, opts...)
		} else if !errors.Is(err, cache.ErrNotFound) {
			return nil, fmt.Errorf("failed to read cache: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseUrl.JoinPath("stores", name, "latest").String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		slog.Warn("relay unreachable, starting empty", "err", err)
		return docstore.New(opts...)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read body from get: %w", err)
		}
		return docstore.Load(raw, opts...)
	case http.StatusNotFound:
		return docstore.New(opts...)
	default:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
}

type client struct {
	baseUrl *url.URL
	store   string
	replica *docstore.Store
}

func (c *client) connectAndSyncContinuously(ctx context.Context) {
	for ctx.Err() == nil {
		b := backoff.NewExponentialBackOff()
		b.MaxInterval = 30 * time.Second
		b.MaxElapsedTime = 0
		err := backoff.RetryNotify(func() error {
			return c.connectAndSync(ctx)
		}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
			slog.Error("failed to sync", "err", err, "retry", next)
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("gave up syncing", "err", err)
		}
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
		}
	}
	slog.Info("stopping scheduled sync")
}

func (c *client) connectAndSync(ctx context.Context) error {
	u := c.baseUrl.JoinPath("stores", c.store, "sync")
	u.Scheme = "ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()
	peer := c.replica.NewPeer()
	defer peer.Close()
	slog.Info("connected to relay", "url", u.String())
	if err := wire.Sync(ctx, conn, peer); err != nil {
		return fmt.Errorf("failed to sync: %w", err)
	}
	return nil
}
