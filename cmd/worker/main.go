package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glizzus/opuskit/internal/config"
	"github.com/glizzus/opuskit/internal/datalayer"
	"github.com/glizzus/opuskit/internal/repository"
	"github.com/glizzus/opuskit/internal/worker"
	"github.com/glizzus/opuskit/pkg/opuskit"
	"github.com/redis/go-redis/v9"
)

var dryRun = flag.Bool("dry-run", false, "Do not touch Postgres or MinIO, keep job history in memory")

func runWorkerForever(ctx context.Context) error {
	slog.SetLogLoggerLevel(slog.LevelDebug)
	if err := config.LoadEnv(); err != nil {
		if os.IsNotExist(err) {
			slog.Warn("No .env file found, continuing without it")
		} else {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	redisConfig, err := config.NewRedisConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load redis config: %w", err)
	}
	transcodeConfig, err := config.NewTranscodeConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load transcode config: %w", err)
	}
	options, err := opuskit.OptionsFromConfig(transcodeConfig)
	if err != nil {
		return fmt.Errorf("invalid transcode config: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        redisConfig.Addr,
		Password:    redisConfig.Password,
		DB:          redisConfig.DB,
		DialTimeout: redisConfig.DialTimeout,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	var jobs repository.JobRepository
	resolver := &datalayer.Resolver{}
	if *dryRun {
		slog.Info("Dry run mode: job history is kept in memory and s3:// locators are rejected")
		jobs = repository.NewMemoryJobRepository()
	} else {
		pool, err := datalayer.NewPostgresPoolFromEnv(ctx)
		if err != nil {
			return fmt.Errorf("failed to create postgres pool: %w", err)
		}
		defer pool.Close()
		if err := datalayer.MigratePostgres(pool); err != nil {
			return fmt.Errorf("failed to migrate postgres: %w", err)
		}
		version, err := datalayer.SchemaVersion(pool)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		slog.Info("Job history ready", slog.Uint64("schema_version", uint64(version)))
		jobs = repository.NewPostgresJobRepository(pool)

		storage, err := datalayer.NewMinioStorageFromEnv()
		if err != nil {
			return fmt.Errorf("failed to create minio storage: %w", err)
		}
		if err := storage.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure bucket: %w", err)
		}
		resolver.Objects = storage
	}

	consumer, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %w", err)
	}
	receiver, err := worker.NewRedisJobReceiver(ctx, rdb, consumer)
	if err != nil {
		return fmt.Errorf("failed to create job receiver: %w", err)
	}

	runner := &worker.Runner{
		Jobs:         jobs,
		Cancels:      worker.NewRedisCancelList(rdb),
		Concurrency:  transcodeConfig.WorkerConcurrency,
		PollInterval: time.Second,
		Options:      append(options, opuskit.WithResolver(resolver)),
	}

	slog.Info("Worker started",
		slog.String("consumer", consumer),
		slog.Int("concurrency", transcodeConfig.WorkerConcurrency),
	)
	for {
		received, err := receiver.ReceiveJobs(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to receive jobs: %w", err)
		}
		if len(received) == 0 {
			continue
		}
		if err := runner.Run(ctx, received...); err != nil {
			return fmt.Errorf("failed to run jobs: %w", err)
		}
		if err := receiver.Ack(ctx, received...); err != nil {
			return err
		}
	}
}

func main() {
	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runWorkerForever(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Worker encountered an error", slog.Any("error", err))
		os.Exit(1)
	}
}
