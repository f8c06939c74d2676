// Copyright 2025 James Ross
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/seo-batch/job-engine/internal/api"
	"github.com/seo-batch/job-engine/internal/broker"
	"github.com/seo-batch/job-engine/internal/config"
	"github.com/seo-batch/job-engine/internal/dispatcher"
	"github.com/seo-batch/job-engine/internal/generator"
	"github.com/seo-batch/job-engine/internal/generatephase"
	"github.com/seo-batch/job-engine/internal/jobstore"
	"github.com/seo-batch/job-engine/internal/obs"
	"github.com/seo-batch/job-engine/internal/publishphase"
	"github.com/seo-batch/job-engine/internal/recovery"
	"github.com/seo-batch/job-engine/internal/redisclient"
	"github.com/seo-batch/job-engine/internal/storeapi"
	"github.com/seo-batch/job-engine/internal/tenantlock"
	"github.com/seo-batch/job-engine/internal/usage"
)

var version = "dev"

func main() {
	var role string
	var configPath string
	var workerConcurrency int
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&role, "role", "all", "Role to run: worker|recovery|api|migrate|all")
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.IntVar(&workerConcurrency, "worker-concurrency", 4, "Number of dispatcher goroutines consuming the broker")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	if role == "migrate" {
		runMigrate(cfg, logger)
		return
	}

	rdb := redisclient.New(cfg)
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("pgxpool init failed", obs.Err(err))
	}
	defer pool.Close()

	store := jobstore.New(pool, logger)
	lock := tenantlock.New(rdb, cfg.TenantLock.Namespace)
	brk := broker.New(rdb, logger, cfg.Broker.Namespace, broker.Policy{
		Attempts: cfg.Broker.Attempts, BaseBackoff: cfg.Broker.BaseBackoff,
	})
	usageCounter := usage.New(pool, logger, cfg.Usage.FreeTimeZone)

	genClient := generator.New(generator.Config{
		BaseURL: cfg.Generator.BaseURL, APIKey: cfg.Generator.APIKey,
		MaxAttempts: cfg.Generator.MaxAttempts, BaseBackoff: cfg.Generator.Backoff.Base,
		Timeout: cfg.Generator.Timeout,
		Limits: generator.Limits{TMax: cfg.Generator.TitleMax, DMax: cfg.Generator.DescMax, AMax: cfg.Generator.AltMax},
		BreakerWindow: cfg.CircuitBreaker.Window, BreakerCooldown: cfg.CircuitBreaker.CooldownPeriod,
		BreakerFailureThresh: cfg.CircuitBreaker.FailureThreshold, BreakerMinSamples: cfg.CircuitBreaker.MinSamples,
	}, logger)

	storeClient := storeapi.New(storeapi.Config{
		Endpoint: cfg.StoreAPI.Endpoint, APIToken: cfg.StoreAPI.APIToken,
		MaxAttempts: cfg.StoreAPI.MaxAttempts, BaseBackoff: cfg.StoreAPI.Backoff.Base,
		Timeout: cfg.StoreAPI.Timeout,
		MinAvailable: cfg.StoreAPI.ThrottleMinAvail, MaxWait: cfg.StoreAPI.ThrottleMaxWait,
		BreakerWindow: cfg.CircuitBreaker.Window, BreakerCooldown: cfg.CircuitBreaker.CooldownPeriod,
		BreakerFailureThresh: cfg.CircuitBreaker.FailureThreshold, BreakerMinSamples: cfg.CircuitBreaker.MinSamples,
	}, logger)

	genRunner := &generatephase.Runner{
		Store: store, Generator: genClient, StoreAPI: storeClient, TenantLock: lock, Log: logger,
		LeaseTTL: cfg.Lease.TTL, TenantLockTTL: cfg.TenantLock.TTL,
	}
	pubRunner := &publishphase.Runner{
		Store: store, StoreAPI: storeClient, TenantLock: lock, Log: logger,
		LeaseTTL: cfg.Lease.TTL, TenantLockTTL: cfg.TenantLock.TTL,
	}
	disp := &dispatcher.Dispatcher{
		Store: store, TenantLock: lock, Usage: usageCounter, Generate: genRunner, Publish: pubRunner, Log: logger,
		LeaseTTL: cfg.Lease.TTL, TenantLockTTL: cfg.TenantLock.TTL,
		LockRetryDelay: cfg.TenantLock.RetryDelay, FreeMonthlyLimit: cfg.Usage.FreeMonthlyLimit,
	}

	readyCheck := func(c context.Context) error {
		if _, err := rdb.Ping(c).Result(); err != nil {
			return err
		}
		return pool.Ping(c)
	}
	httpSrv := obs.StartHTTPServer(cfg, readyCheck)
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()
	obs.StartQueueLengthUpdater(ctx, cfg, brk, logger)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}()

	promoteEvery := cfg.Broker.PromoteEvery
	if promoteEvery <= 0 {
		promoteEvery = time.Second
	}

	switch role {
	case "worker":
		go brk.Promote(ctx, promoteEvery)
		runWorker(ctx, brk, disp, cfg, workerConcurrency, logger)
	case "recovery":
		loop := &recovery.Loop{Store: store, Log: logger, Interval: cfg.Recovery.Interval, StaleAfter: cfg.Recovery.StuckAfter}
		loop.Run(ctx)
	case "api":
		runAPI(ctx, store, brk, storeClient, cfg, logger)
	case "all":
		go brk.Promote(ctx, promoteEvery)
		go runWorker(ctx, brk, disp, cfg, workerConcurrency, logger)
		loop := &recovery.Loop{Store: store, Log: logger, Interval: cfg.Recovery.Interval, StaleAfter: cfg.Recovery.StuckAfter}
		go loop.Run(ctx)
		runAPI(ctx, store, brk, storeClient, cfg, logger)
	default:
		logger.Fatal("unknown role", obs.String("role", role))
	}
}

func runWorker(ctx context.Context, brk *broker.Broker, disp *dispatcher.Dispatcher, cfg *config.Config, concurrency int, logger *zap.Logger) {
	if concurrency <= 0 {
		concurrency = 1
	}
	done := make(chan struct{}, concurrency)
	for i := 0; i < concurrency; i++ {
		consumerID := fmt.Sprintf("worker-%d", i)
		go func() {
			defer func() { done <- struct{}{} }()
			if err := brk.Consume(ctx, consumerID, cfg.Broker.PopTimeout, disp.Handle); err != nil && ctx.Err() == nil {
				logger.Error("consumer exited", obs.String("consumer_id", consumerID), obs.Err(err))
			}
		}()
	}
	for i := 0; i < concurrency; i++ {
		<-done
	}
}

func runAPI(ctx context.Context, store *jobstore.Store, brk *broker.Broker, storeClient *storeapi.Client, cfg *config.Config, logger *zap.Logger) {
	a := api.New(store, brk, storeClient, logger)
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: a.Router()}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	logger.Info("intake API listening", obs.String("addr", cfg.HTTP.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("intake API server error", obs.Err(err))
	}
}

func runMigrate(cfg *config.Config, logger *zap.Logger) {
	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		logger.Fatal("migrate: open db failed", obs.Err(err))
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		logger.Fatal("migrate: set dialect failed", obs.Err(err))
	}
	dir := cfg.Database.MigrationDir
	if dir == "" {
		dir = "internal/jobstore/migrations"
	}
	if err := goose.Up(db, dir); err != nil {
		logger.Fatal("migrate: up failed", obs.Err(err))
	}
	logger.Info("migrations applied")
}
