// The worker process drains the validation job queue: it connects to
// Postgres, Redis, and the blob store, warms the reference cache, then runs
// a fixed-size pool of workers that execute the ingestion + validation
// pipeline for each queued run until it receives SIGINT/SIGTERM, at which
// point it stops accepting jobs and drains in-flight work.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/montignypatrik/facnet-validator-core/internal/blobstore"
	"github.com/montignypatrik/facnet-validator-core/internal/cache"
	"github.com/montignypatrik/facnet-validator-core/internal/config"
	"github.com/montignypatrik/facnet-validator-core/internal/logging"
	"github.com/montignypatrik/facnet-validator-core/internal/orchestrator"
	"github.com/montignypatrik/facnet-validator-core/internal/queue"
	"github.com/montignypatrik/facnet-validator-core/internal/store"
	"github.com/montignypatrik/facnet-validator-core/internal/validationlog"
)

// lateInvalidator breaks the construction cycle between the persistence
// gateway (which invalidates cache keys on reference writes) and the
// reference cache (which reads through the gateway on miss). Invalidations
// issued before bind are no-ops; nothing can be cached yet at that point.
type lateInvalidator struct {
	cache *cache.ReferenceCache
}

func (l *lateInvalidator) Invalidate(ctx context.Context, key string) error {
	if l.cache == nil {
		return nil
	}
	return l.cache.Invalidate(ctx, key)
}

func main() {
	cfg := config.Load()

	logger := logging.New(logging.Config{
		Level:   logging.Level(cfg.LogLevel),
		Format:  cfg.LogFormat,
		Service: "validation-worker",
	})
	log := logging.Component(logger, "main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.WithError(err).Fatal("failed to apply database schema")
	}

	redisOpts, err := redis.ParseURL(cfg.CacheURL)
	if err != nil {
		log.WithError(err).Fatal("invalid cache/queue DSN")
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	invalidator := &lateInvalidator{}
	gateway := store.New(db, invalidator, logging.Component(logger, "store"))
	refCache := cache.New(redisClient, gateway, logging.Component(logger, "cache"))
	invalidator.cache = refCache

	blobs, err := blobstore.New(ctx, blobstore.Config{
		Endpoint:  cfg.FileStoreEndpoint,
		Region:    cfg.FileStoreRegion,
		AccessKey: cfg.FileStoreAccessKey,
		SecretKey: cfg.FileStoreSecretKey,
		Bucket:    cfg.FileStoreBucket,
		PathStyle: cfg.FileStoreEndpoint != "",
	})
	if err != nil {
		log.WithError(err).Fatal("failed to configure blob store")
	}

	// Warm-up precedes accepting work. A failed warm-up is
	// not fatal: the cache degrades to direct gateway reads.
	warmCtx, warmCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := refCache.Warm(warmCtx); err != nil {
		log.WithError(err).Warn("reference cache warm-up incomplete, continuing degraded")
	}
	warmCancel()

	sink := validationlog.New(gateway, logging.Component(logger, "validationlog"))
	orch := orchestrator.New(
		gateway,
		refCache,
		blobs,
		sink,
		logging.Component(logger, "orchestrator"),
		cfg.WorkerConcurrency,
	)

	jobQueue := queue.New(redisClient)
	pool := queue.NewPool(jobQueue, orch, queue.PoolConfig{
		Workers:     cfg.WorkerConcurrency,
		DrainWindow: cfg.ShutdownDrainTimeout,
	}, logging.Component(logger, "worker"))

	pool.Start()
	log.WithField("workers", cfg.WorkerConcurrency).Info("validation worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down, draining in-flight jobs")
	pool.Stop()
	if err := refCache.Drain(); err != nil {
		log.WithError(err).Warn("reference cache drain failed")
	}
	log.Info("validation worker stopped")
}
