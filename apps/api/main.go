package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mahaj/pulse/pkg/api"
	"github.com/mahaj/pulse/pkg/auth"
	"github.com/mahaj/pulse/pkg/config"
	"github.com/mahaj/pulse/pkg/events"
	"github.com/mahaj/pulse/pkg/logging"
	"github.com/mahaj/pulse/pkg/presence"
	"github.com/mahaj/pulse/pkg/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	authn, err := auth.New(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}

	// The embedded badger store allows one process only; run the API against
	// scylla when the gateway is up.
	gw, err := store.Open(store.Options{
		Backend:        cfg.StoreBackend,
		BadgerPath:     cfg.BadgerPath,
		ScyllaHosts:    cfg.Hosts(),
		ScyllaKeyspace: cfg.ScyllaKeyspace,
	}, log)
	if err != nil {
		return err
	}
	closers := []func() error{gw.Close}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
	}()

	var opts []api.Option
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		closers = append(closers, rdb.Close)
		opts = append(opts, api.WithPresence(presence.NewRedisReader(rdb, cfg.RedisPresenceKey)))
	}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		publisher := events.NewPublisher(events.NewWriter(brokers, cfg.KafkaTopic))
		closers = append(closers, publisher.Close)
		opts = append(opts, api.WithActions(publisher))
	}

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.New(log, authn, gw, opts...).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("API service listening", zap.String("addr", cfg.APIAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", cfg.APIAddr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
