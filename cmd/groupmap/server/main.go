package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/pflag"

	"github.com/astromechza/groupmap/pkg/config"
	"github.com/astromechza/groupmap/pkg/discovery"
	"github.com/astromechza/groupmap/pkg/relay"
	"github.com/astromechza/groupmap/pkg/store/docstore"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cfg, err := config.LoadServer(os.Args[0], os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	} else if err != nil {
		return err
	}
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("Opening database", "path", cfg.Database)
	db, err := sql.Open("sqlite3", cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := relay.New(db, relay.WithLogger(logger))
	if err := s.Init(ctx); err != nil {
		return err
	}
	slog.Info("Ensured initial tables exist")

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RunBackups(ctx, cfg.Backup)
	}()

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	httpServer := &http.Server{Handler: s.Router()}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()
	slog.Info("listening", "addr", listener.Addr().String())

	if cfg.Advertise {
		_, rawPort, _ := net.SplitHostPort(listener.Addr().String())
		port, _ := strconv.Atoi(rawPort)
		withdraw, err := discovery.Advertise(port, cfg.Store)
		if err != nil {
			slog.Error("failed to advertise", "err", err)
		} else {
			defer withdraw()
		}
	}

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()
	_ = httpServer.Close()

	wg.Wait()

	if err := s.Backup(context.Background()); err != nil {
		return fmt.Errorf("failed final backup: %w", err)
	}
	s.Stores(func(id string, st *docstore.Store) {
		slog.Info("final state", "store", id, "heads", st.Heads())
	})
	return nil
}
