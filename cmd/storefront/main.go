package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/storefront/internal/app"
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/credentials"
	"github.com/fjod/go_cart/storefront/pkg/logger"
	"github.com/redis/go-redis/v9"

	h "github.com/fjod/go_cart/storefront/internal/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("error", os.Stderr).Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, os.Stdout)

	var substrate credentials.Substrate
	if cfg.Credentials.Backend == config.CredentialsRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		substrate = credentials.NewRedisSubstrate(rdb, cfg.Credentials.Namespace)
		log.Info("credentials stored in redis", "addr", cfg.Redis.Addr)
	}

	engine := app.New(cfg, substrate, log)

	startCtx, cancel := context.WithTimeout(context.Background(), cfg.API.Timeout)
	if err := engine.Start(startCtx); err != nil {
		log.Error("failed to restore session", "error", err)
	}
	cancel()

	srv := &http.Server{
		Addr:         "127.0.0.1:" + cfg.Server.HTTPPort,
		Handler:      h.NewHandler(engine, cfg.Server.RequestTimeout, log).Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("storefront bridge starting", "addr", srv.Addr, "api", cfg.API.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	engine.Close()

	log.Info("server exited")
}
