// Package main wires together the job scrape service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	gcpstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/hirewire/jobscraper/internal/api"
	"github.com/hirewire/jobscraper/internal/browser"
	cachememory "github.com/hirewire/jobscraper/internal/cache/memory"
	cacheredis "github.com/hirewire/jobscraper/internal/cache/redis"
	"github.com/hirewire/jobscraper/internal/clock/system"
	"github.com/hirewire/jobscraper/internal/config"
	"github.com/hirewire/jobscraper/internal/dispatcher"
	"github.com/hirewire/jobscraper/internal/hash/sha256"
	"github.com/hirewire/jobscraper/internal/id/uuid"
	"github.com/hirewire/jobscraper/internal/logging"
	publishermemory "github.com/hirewire/jobscraper/internal/publisher/memory"
	publisherpubsub "github.com/hirewire/jobscraper/internal/publisher/pubsub"
	queuememory "github.com/hirewire/jobscraper/internal/queue/memory"
	"github.com/hirewire/jobscraper/internal/scrape"
	"github.com/hirewire/jobscraper/internal/scraper"
	snapshotgcs "github.com/hirewire/jobscraper/internal/snapshot/gcs"
	snapshotmemory "github.com/hirewire/jobscraper/internal/snapshot/memory"
	storememory "github.com/hirewire/jobscraper/internal/store/memory"
	storepostgres "github.com/hirewire/jobscraper/internal/store/postgres"
	"github.com/hirewire/jobscraper/internal/telemetry"
	"github.com/hirewire/jobscraper/internal/worker"
)

var blockedAssetExtensions = []string{"png", "jpg", "jpeg", "gif", "css", "woff2"}

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	telemetry.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	ledger, closeLedger, err := newLedger(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	defer closeLedger()

	cache, closeCache := newCache(cfg)
	defer closeCache()

	publisher, closePublisher, err := newPublisher(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}
	defer closePublisher()

	snapshots, closeSnapshots, err := newSnapshotStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init snapshot store: %w", err)
	}
	defer closeSnapshots()

	var blocked []string
	if cfg.Browser.BlockResourceAssets {
		blocked = browser.AssetBlockPatterns(blockedAssetExtensions)
	}
	pages, err := browser.New(browser.Config{
		WSEndpoint:         cfg.Browser.WSEndpoint,
		UserAgent:          cfg.Browser.UserAgent,
		NavigationTimeout:  cfg.NavTimeout(),
		FieldReadTimeout:   cfg.FieldReadTimeout(),
		BlockedURLPatterns: blocked,
	})
	if err != nil {
		return fmt.Errorf("init browser: %w", err)
	}
	defer pages.Close()

	registry := scraper.NewRegistry(map[string]scrape.Strategy{
		scraper.SeekHost: scraper.NewSeek(),
	})
	queue := queuememory.NewQueue(cfg.Queue.Depth)
	clock := system.New()

	dispatch, err := dispatcher.New(dispatcher.Config{
		Resolver:      registry,
		Fingerprinter: sha256.New(),
		Cache:         cache,
		Ledger:        ledger,
		Queue:         queue,
		IDGenerator:   uuid.New(),
		Clock:         clock,
		Logger:        logger.Named("dispatcher"),
	})
	if err != nil {
		return fmt.Errorf("init dispatcher: %w", err)
	}

	retry := scrape.TaskRetryPolicy()
	if cfg.Queue.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Queue.MaxAttempts
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Queue.Workers; i++ {
		w, err := worker.New(worker.Config{
			Ledger:              ledger,
			Queue:               queue,
			Browser:             pages,
			Resolver:            registry,
			Publisher:           publisher,
			Snapshots:           snapshots,
			Clock:               clock,
			Logger:              logger.Named("worker").With(zap.Int("index", i)),
			Topic:               cfg.PubSub.TopicName,
			SnapshotPrefix:      cfg.Storage.Prefix,
			SnapshotContentType: cfg.Storage.ContentType,
			Retry:               retry,
		})
		if err != nil {
			return fmt.Errorf("init worker: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	apiServer := api.NewServer(dispatch, logger.Named("api"),
		time.Duration(cfg.Server.TimeoutSeconds)*time.Second)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	wg.Wait()
	logger.Info("shutdown complete")
	return nil
}

func newLedger(ctx context.Context, cfg config.Config) (scrape.Ledger, func(), error) {
	switch cfg.DB.Provider {
	case "postgres":
		ledger, err := storepostgres.NewLedger(ctx, storepostgres.LedgerConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
			Cooldown: cfg.Cooldown(),
		})
		if err != nil {
			return nil, nil, err
		}
		if cfg.DB.MigrateOnStart {
			if err := ledger.Migrate(ctx); err != nil {
				ledger.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return ledger, ledger.Close, nil
	case "memory":
		ledger := storememory.NewLedger(cfg.Cooldown(), system.New())
		return ledger, ledger.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown db provider %q", cfg.DB.Provider)
	}
}

func newCache(cfg config.Config) (scrape.DedupCache, func()) {
	if cfg.Cache.Provider == "redis" {
		cache := cacheredis.NewCache(cfg.Cache.RedisAddr, cfg.Cache.KeyPrefix, cfg.Cooldown())
		return cache, func() {
			if err := cache.Close(); err != nil {
				zap.L().Warn("redis close failed", zap.Error(err))
			}
		}
	}
	return cachememory.NewCache(cfg.Cooldown(), system.New()), func() {}
}

func newPublisher(ctx context.Context, cfg config.Config) (scrape.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" {
		return publishermemory.New(), func() {}, nil
	}
	client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	publisher := publisherpubsub.New(client.Topic(cfg.PubSub.TopicName))
	closeFn := func() {
		publisher.Stop()
		if err := client.Close(); err != nil {
			zap.L().Warn("pubsub close failed", zap.Error(err))
		}
	}
	return publisher, closeFn, nil
}

func newSnapshotStore(ctx context.Context, cfg config.Config) (scrape.BlobStore, func(), error) {
	if cfg.Storage.Provider != "gcs" {
		return snapshotmemory.NewBlobStore(), func() {}, nil
	}
	client, err := gcpstorage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("storage client: %w", err)
	}
	store, err := snapshotgcs.New(client, snapshotgcs.Config{Bucket: cfg.Storage.GCSBucket})
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			zap.L().Warn("storage close failed", zap.Error(err))
		}
	}
	return store, closeFn, nil
}
