package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/ads-optimizer/internal/amzads"
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
	ruleEngine := rules.NewEngine(st, cfg.Rules)
	executor := rules.NewExecutor(st, adsClient, tokens, cfg.Rules)

	// After each account syncs, its rules run against the fresh metrics
	// while the account lock is still held.
	afterSync := func(ctx context.Context, account *store.Account) error {
		actions, err := ruleEngine.EvaluateAccount(ctx, account)
		if err != nil {
			return err
		}
		if len(actions) == 0 {
			return nil
		}
		applied, err := executor.ExecuteActions(ctx, account, actions)
		if err != nil {
			return err
		}
		logger.Info("rule actions executed", "account", account.ID,
			"proposed", len(actions), "applied", applied)
		return nil
	}

	lockFor := func(accountID string) distlock.DistLock {
		return distlock.ForAccount(redisClient, st.DB(), accountID, distlock.DefaultTTL)
	}
	engine := syncengine.NewEngine(st, recon, cfg.Sync, afterSync, lockFor)

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("sync worker starting", "drive_interval", cfg.Sync.DriveInterval().String())
	if err := engine.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("worker error: %v", err)
	}
}
