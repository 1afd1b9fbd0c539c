package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/astromechza/groupmap/pkg/config"
	"github.com/astromechza/groupmap/pkg/console"
	"github.com/astromechza/groupmap/pkg/engine"
	"github.com/astromechza/groupmap/pkg/eventloop"
	"github.com/astromechza/groupmap/pkg/registry"
	"github.com/astromechza/groupmap/pkg/store"
	"github.com/astromechza/groupmap/pkg/store/redisstore"
	"github.com/astromechza/groupmap/pkg/view"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cfg, err := config.LoadClient(os.Args[0], os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	} else if err != nil {
		return err
	}
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := new(sync.WaitGroup)

	var backend store.Store
	var finish func()
	switch cfg.Backend {
	case config.BackendRedis:
		backend, finish, err = openRedis(ctx, cfg, logger)
	default:
		backend, finish, err = openRelay(ctx, cfg, logger, wg)
	}
	if err != nil {
		return err
	}

	loop := eventloop.New()
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = loop.Run(ctx)
	}()

	ecfg := cfg.Groups.Engine()
	factory := view.NewFactory(logger)
	reg := registry.New(ecfg.Naming(), factory)
	eng := engine.New(ecfg, loop.Store(backend), reg, engine.WithLogger(logger), engine.WithMapViewSink(factory))

	var startErr error
	if err := loop.Do(ctx, func() { startErr = eng.Start(ctx) }); err != nil {
		return err
	}
	if startErr != nil {
		cancel()
		wg.Wait()
		finish()
		return startErr
	}

	con := console.New(eng, reg.All, loop.Do)
	go func() {
		if err := con.Run(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("console stopped", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()

	wg.Wait()
	finish()
	return nil
}

func openRedis(ctx context.Context, cfg config.Client, logger *slog.Logger) (store.Store, func(), error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis})
	st, err := redisstore.Open(ctx, rdb, cfg.Store, redisstore.WithLogger(logger), redisstore.WithResync(cfg.RedisResync))
	if err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to open redis store: %w", err)
	}
	slog.Info("connected to redis", "addr", cfg.Redis, "store", cfg.Store)
	return st, func() {
		_ = st.Close()
		_ = rdb.Close()
	}, nil
}
