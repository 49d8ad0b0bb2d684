package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	appcfg "github.com/park285/cube-duel/internal/config"
	"github.com/park285/cube-duel/internal/api"
	"github.com/park285/cube-duel/internal/obslog"
	"github.com/park285/cube-duel/internal/round"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, feed, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		obslog.L().Fatal("store_init_error", zap.String("store", cfg.Store), zap.Error(err))
	}
	defer closeStore()

	mgr := round.NewManager(store, round.WithScrambleLength(cfg.ScrambleLength))
	srv := api.NewServer(mgr, feed, api.WithScrambleLength(cfg.ScrambleLength))
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		obslog.L().Info("http_listen", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obslog.L().Error("http_serve_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	obslog.L().Info("shutdown_begin")
	// hijacked websocket conns are not tracked by Shutdown
	srv.Close()
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		obslog.L().Warn("http_shutdown_error", zap.Error(err))
	}
}

// openStore returns the configured store, its change feed, and a closer for both.
func openStore(ctx context.Context, cfg *appcfg.AppConfig) (round.Store, round.Feed, func(), error) {
	switch cfg.Store {
	case appcfg.StorePostgres:
		pg, err := round.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		feed, err := round.NewPostgresFeed(cfg.DatabaseURL)
		if err != nil {
			_ = pg.Close()
			return nil, nil, nil, err
		}
		if cfg.RoundTTL > 0 {
			obslog.L().Warn("round_ttl_ignored", zap.String("store", cfg.Store))
		}
		return pg, feed, func() {
			_ = feed.Close()
			_ = pg.Close()
		}, nil
	default:
		rs, err := round.OpenRedis(ctx, cfg.RedisURL, cfg.RoundTTL)
		if err != nil {
			return nil, nil, nil, err
		}
		return rs, rs, func() { _ = rs.Close() }, nil
	}
}

