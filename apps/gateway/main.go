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

	"github.com/mahaj/pulse/pkg/auth"
	"github.com/mahaj/pulse/pkg/config"
	"github.com/mahaj/pulse/pkg/events"
	"github.com/mahaj/pulse/pkg/hub"
	"github.com/mahaj/pulse/pkg/logging"
	"github.com/mahaj/pulse/pkg/metrics"
	"github.com/mahaj/pulse/pkg/notify"
	"github.com/mahaj/pulse/pkg/presence"
	"github.com/mahaj/pulse/pkg/snowflake"
	"github.com/mahaj/pulse/pkg/store"
	"github.com/mahaj/pulse/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
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
	ids, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return err
	}

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
		log.Info("closing resources")
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	hubOpts := []hub.Option{hub.WithMetrics(m)}
	var mirror *presence.RedisMirror
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		closers = append(closers, rdb.Close)
		mirror = presence.NewRedisMirror(rdb, cfg.RedisPresenceKey, cfg.RedisPresenceChannel, log)
		hubOpts = append(hubOpts, hub.WithMirror(mirror))
	}
	h := hub.New(log, gw, ids, hubOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return h.Run(ctx) })
	if mirror != nil {
		g.Go(func() error { return mirror.Run(ctx) })
	}

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		fanout := notify.NewService(log, gw, h, ids)
		consumer := events.NewConsumer(log, events.NewReader(brokers, cfg.KafkaTopic, cfg.KafkaGroupID), fanout)
		closers = append(closers, consumer.Close)
		g.Go(func() error { return consumer.Run(ctx) })
		log.Info("consuming domain actions", zap.Strings("brokers", brokers), zap.String("topic", cfg.KafkaTopic))
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", transport.NewServer(log, h,
		transport.WithAuthenticator(authn),
		transport.WithBuffer(cfg.SessionBuffer)))
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	g.Go(func() error {
		log.Info("gateway listening", zap.String("addr", cfg.GatewayAddr), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", cfg.GatewayAddr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
