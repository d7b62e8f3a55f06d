package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/ads-optimizer/internal/amzads"
	"github.com/ignite/ads-optimizer/internal/api"
	"github.com/ignite/ads-optimizer/internal/config"
	"github.com/ignite/ads-optimizer/internal/pkg/distlock"
	"github.com/ignite/ads-optimizer/internal/pkg/logger"
	"github.com/ignite/ads-optimizer/internal/rules"
	"github.com/ignite/ads-optimizer/internal/store"
	syncengine "github.com/ignite/ads-optimizer/internal/sync"
	"github.com/ignite/ads-optimizer/internal/token"
)

func main() {
	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("migrating schema: %v", err)
	}
	logger.Info("store ready")

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, falling back to advisory locks", "error", err)
			redisClient = nil
		}
	}

	adsClient := amzads.NewClient(cfg.Ads)
	tokens := token.NewManager(st, cfg.Ads)
	recon := syncengine.NewReconciler(st, adsClient, tokens, cfg.Sync)
	executor := rules.NewExecutor(st, adsClient, tokens, cfg.Rules)

	lockFor := func(accountID string) distlock.DistLock {
		return distlock.ForAccount(redisClient, st.DB(), accountID, distlock.DefaultTTL)
	}
	engine := syncengine.NewEngine(st, recon, cfg.Sync, nil, lockFor)

	health := api.NewHealthChecker(st.DB(), redisClient)
	handlers := api.NewHandlers(st, engine, executor, health)
	server := api.NewServer(cfg.Server, handlers)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	go func() {
		logger.Info("API server listening", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
}
