// Package app opens the backends shared by the api and worker binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"lipsync/internal/config"
	"lipsync/internal/pkg/logger"
	"lipsync/internal/pkg/shutdown"
	"lipsync/internal/ports"
	"lipsync/internal/progress"
	"lipsync/internal/repositories"
	"lipsync/internal/storage"
	"lipsync/internal/worker"
	"lipsync/internal/worker/queue"
)

const connectTimeout = 10 * time.Second

// Infra holds the opened backends. RDB is nil when Redis is not configured.
type Infra struct {
	Store  ports.RunStore
	RDB    *redis.Client
	SP     ports.StorageProvider
	Queue  queue.Queue
	Broker progress.Broker
}

// Open connects to every backend cfg names and registers each one's teardown
// with mgr. Without DATABASE_URL runs live in memory; without REDIS_ADDR the
// queue and progress events stay in process.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger, mgr *shutdown.Manager) (*Infra, error) {
	inf := &Infra{}

	if cfg.Database.URL != "" {
		log.Info("connecting to PostgreSQL")
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		mgr.RegisterSimple("postgres", pool.Close)

		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		err = pool.Ping(pingCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}

		repo := repositories.NewRunRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate runs table: %w", err)
		}
		inf.Store = repo
		log.Info("PostgreSQL connected")
	} else {
		log.Warn("DATABASE_URL not set, runs are kept in memory only")
		inf.Store = repositories.NewMemoryRunStore()
	}

	if cfg.RedisEnabled() {
		log.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		mgr.Register("redis", func(ctx context.Context) error { return rdb.Close() })

		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}

		inf.RDB = rdb
		inf.Queue = queue.NewRedisQueue(rdb, cfg.Worker.QueueName)
		inf.Broker = progress.NewRedisBroker(rdb, log)
		log.Info("Redis connected", "queue", cfg.Worker.QueueName)
	} else {
		inf.Queue = queue.NewMemoryQueue(0)
		inf.Broker = progress.NewMemoryBroker()
	}

	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	inf.SP = sp
	log.Info("storage provider initialized", "provider", sp.Provider())

	return inf, nil
}

// StartWorker runs the worker loop in the background. Its shutdown handler
// cancels in-flight runs and waits for them to be recorded.
func StartWorker(cfg *config.Config, inf *Infra, log *logger.Logger, mgr *shutdown.Manager) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = worker.Run(ctx, worker.Deps{
			Queue:       inf.Queue,
			Store:       inf.Store,
			SP:          inf.SP,
			Broker:      inf.Broker,
			Tool:        cfg.Tool,
			Log:         log,
			Concurrency: cfg.Worker.Concurrency,
		})
	}()

	mgr.Register("worker", func(sctx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-sctx.Done():
			return fmt.Errorf("worker did not stop: %w", sctx.Err())
		}
	})
}
