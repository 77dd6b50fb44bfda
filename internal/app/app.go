// Package app builds the pipeline and its backends from configuration. The
// server, worker and CLI binaries all start here.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/VoteDrop/internal/config"
	"github.com/dharsanguruparan/VoteDrop/internal/database"
	"github.com/dharsanguruparan/VoteDrop/internal/inflight"
	"github.com/dharsanguruparan/VoteDrop/internal/logging"
	"github.com/dharsanguruparan/VoteDrop/internal/pipeline"
	"github.com/dharsanguruparan/VoteDrop/internal/processing"
	"github.com/dharsanguruparan/VoteDrop/internal/queue"
	"github.com/dharsanguruparan/VoteDrop/internal/repository"
	"github.com/dharsanguruparan/VoteDrop/internal/s3storage"
	"github.com/dharsanguruparan/VoteDrop/internal/storage"
)

// lockTTL bounds how long a crashed process can keep a dataset busy.
const lockTTL = 2 * time.Minute

// App holds the wired dependencies and the resources to release on exit.
type App struct {
	Config   *config.Config
	Logger   *logrus.Logger
	Pipeline *pipeline.Pipeline
	// Archive is nil unless object storage is configured.
	Archive *s3storage.Storage

	redis   *redis.Client
	closers []func()
}

// Build connects the configured backends. Close must be called when done.
func Build(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	log := logging.Component(logger, "app")

	if cfg.Store == config.StoreRedis || cfg.Dispatch == config.DispatchAsynq {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		a.closers = append(a.closers, func() { _ = client.Close() })
	}

	var (
		pending storage.PendingStore
		applied storage.AppliedStore
	)
	switch cfg.Store {
	case config.StoreMemory:
		mem := storage.NewMemoryStore()
		pending, applied = mem.Pending(), mem.Applied()
	case config.StoreRedis:
		rs := storage.NewRedisStore(a.redis, cfg.RedisPrefix, logger)
		pending, applied = rs.Pending(), rs.Applied()
	case config.StorePostgres:
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := database.EnsureSchema(ctx, pool); err != nil {
			a.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		pending = repository.NewDatasetRepository(pool, logger)
		applied = repository.NewVoteRepository(pool)
	default:
		a.Close()
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	var guard inflight.Guard = inflight.NewLocal()
	if a.redis != nil {
		guard = inflight.NewRedis(a.redis, cfg.RedisPrefix, lockTTL, logger)
	}

	var archiver pipeline.Archiver
	if cfg.ArchiveEnabled() {
		store, err := s3storage.New(cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := store.EnsureBuckets(ctx); err != nil {
			// Archiving is best effort; uploads keep working without it.
			log.WithError(err).Warn("object storage unavailable")
		}
		archiver = store
		a.Archive = store
	}

	a.Pipeline = pipeline.New(pending, applied, pipeline.Options{
		VerifyDelay: cfg.VerifyDelay,
		ApplyDelay:  cfg.ApplyDelay,
		Guard:       guard,
		Archiver:    archiver,
		Logger:      logger,
	})
	log.WithFields(logrus.Fields{"store": cfg.Store, "dispatch": cfg.Dispatch, "archive": archiver != nil}).Info("pipeline ready")
	return a, nil
}

// RedisOpt is the asynq connection for the configured Redis.
func (a *App) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPassword,
		DB:       a.Config.RedisDB,
	}
}

// Dispatcher returns where verify/apply jobs go: the in-process pool or the
// Redis-backed queue consumed by cmd/worker.
func (a *App) Dispatcher() processing.Dispatcher {
	if a.Config.Dispatch == config.DispatchAsynq {
		client := queue.NewClient(asynq.NewClient(a.RedisOpt()))
		a.closers = append(a.closers, func() { _ = client.Close() })
		return client
	}
	return processing.New(a.Pipeline, a.Config.ProcessingPool, a.Logger)
}

// Close releases every connection Build opened, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
