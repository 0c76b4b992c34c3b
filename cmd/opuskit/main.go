package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glizzus/opuskit/internal/config"
	"github.com/glizzus/opuskit/internal/datalayer"
	"github.com/glizzus/opuskit/internal/generator"
	"github.com/glizzus/opuskit/internal/presenters"
	"github.com/glizzus/opuskit/internal/repository"
	"github.com/glizzus/opuskit/internal/worker"
	"github.com/glizzus/opuskit/pkg/opuskit"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

var uuidGenerator = generator.UUIDV4Generator{}

// newResolver serves local files, and s3:// locators too when MinIO is
// configured.
func newResolver(ctx context.Context) *datalayer.Resolver {
	resolver := &datalayer.Resolver{}
	minioConfig, err := config.NewMinioConfigFromEnv()
	if err != nil {
		slog.Debug("MinIO is not configured, only local files are available", slog.Any("error", err))
		return resolver
	}
	storage, err := datalayer.NewMinioStorage(minioConfig)
	if err != nil {
		slog.Warn("Failed to create MinIO client", slog.Any("error", err))
		return resolver
	}
	if err := storage.EnsureBucket(ctx); err != nil {
		slog.Warn("Failed to ensure MinIO bucket", slog.String("bucket", storage.Bucket()), slog.Any("error", err))
	}
	resolver.Objects = storage
	return resolver
}

func transcodeOptions(c *cli.Context) ([]opuskit.Option, error) {
	cfg, err := config.NewTranscodeConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load transcode config: %w", err)
	}
	if c.IsSet("bitrate") {
		cfg.Bitrate = c.Int("bitrate")
	}
	if c.IsSet("frame-duration") {
		cfg.FrameDuration = c.Duration("frame-duration")
	}
	if c.IsSet("application") {
		cfg.Application = c.String("application")
	}
	if c.IsSet("keep-partial") {
		cfg.KeepPartial = c.Bool("keep-partial")
	}
	opts, err := opuskit.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return append(opts, opuskit.WithResolver(newResolver(c.Context))), nil
}

type runner interface {
	Start(ctx context.Context, onComplete func(opuskit.Result, error)) error
	Wait() (opuskit.Result, error)
}

func runAndReport(c *cli.Context, r runner) error {
	start := time.Now()
	if err := r.Start(c.Context, nil); err != nil {
		return cli.Exit("Failed to start: "+err.Error(), 1)
	}
	res, err := r.Wait()
	if err != nil {
		var pe *opuskit.Error
		if errors.As(err, &pe) && pe.PartialPath != "" {
			log.Printf("Partial output kept at %s", pe.PartialPath)
		}
		return cli.Exit(err.Error(), 1)
	}
	log.Println(presenters.BuildResult(res, time.Since(start)))
	if hint := presenters.BuildFramesHint(res); hint != "" {
		log.Println(hint)
	}
	return nil
}

func newRedisClient() (*redis.Client, error) {
	redisConfig, err := config.NewRedisConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load redis config: %w", err)
	}
	return redis.NewClient(&redis.Options{
		Addr:        redisConfig.Addr,
		Password:    redisConfig.Password,
		DB:          redisConfig.DB,
		DialTimeout: redisConfig.DialTimeout,
	}), nil
}

func newJobRepository(ctx context.Context) (*repository.PostgresJobRepository, func(), error) {
	pool, err := datalayer.NewPostgresPoolFromEnv(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := datalayer.MigratePostgres(pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to migrate postgres: %w", err)
	}
	return repository.NewPostgresJobRepository(pool), pool.Close, nil
}

var encoderFlags = []cli.Flag{
	&cli.IntFlag{Name: "bitrate", Usage: "Target bitrate in bits per second"},
	&cli.DurationFlag{Name: "frame-duration", Usage: "Opus frame duration (2.5ms to 60ms)"},
	&cli.StringFlag{Name: "application", Usage: "audio, voip or lowdelay"},
}

// .frames inputs carry no header, so decode takes their format as flags.
var framesFlags = []cli.Flag{
	&cli.IntFlag{Name: "frames-rate", Value: 48000, Usage: "Output sample rate for a .frames input"},
	&cli.IntFlag{Name: "frames-channels", Value: 2, Usage: "Channel count of a .frames input"},
	&cli.UintFlag{Name: "pre-skip", Usage: "Pre-skip of a .frames input, as printed by remux"},
}

var keepPartialFlag = &cli.BoolFlag{Name: "keep-partial", Usage: "Keep partial output as <output>.partial on failure"}

func main() {
	if err := config.LoadEnv(); err != nil {
		if os.IsNotExist(err) {
			slog.Debug("No .env file found, continuing without it")
		} else {
			log.Fatalf("Failed to load .env file: %v", err)
		}
	}

	app := &cli.App{
		Name:        "opuskit",
		Usage:       "Decode and encode Ogg-Opus",
		Description: "Transcodes between Ogg-Opus and PCM locally or through the job worker",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Log debug output"},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "decode",
				Usage:     "Decode an Ogg-Opus (or .frames) file to WAV or raw PCM",
				ArgsUsage: "<input> <output>",
				Flags:     append([]cli.Flag{keepPartialFlag}, framesFlags...),
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return cli.Exit("decode needs an input and an output", 1)
					}
					opts, err := transcodeOptions(c)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					if c.IsSet("frames-rate") || c.IsSet("frames-channels") || c.IsSet("pre-skip") {
						opts = append(opts, opuskit.WithFramesFormat(c.Int("frames-rate"), c.Int("frames-channels"), uint32(c.Uint("pre-skip"))))
					}
					return runAndReport(c, opuskit.NewDecoder(c.Args().Get(0), c.Args().Get(1), opts...))
				},
			},
			{
				Name:      "encode",
				Usage:     "Encode WAV, FLAC, MP3, raw PCM or anything ffmpeg reads to Ogg-Opus",
				ArgsUsage: "<input>",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output locator; generated when empty"},
					keepPartialFlag,
				}, encoderFlags...),
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("encode needs exactly one input", 1)
					}
					opts, err := transcodeOptions(c)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					if output := c.String("output"); output != "" {
						opts = append(opts, opuskit.WithOutput(output))
					}
					return runAndReport(c, opuskit.NewEncoder(c.Args().Get(0), opts...))
				},
			},
			{
				Name:      "remux",
				Usage:     "Rewrite an Ogg-Opus file as length-prefixed .frames",
				ArgsUsage: "<input> <output>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return cli.Exit("remux needs an input and an output", 1)
					}
					opts, err := transcodeOptions(c)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					return runAndReport(c, opuskit.NewRemuxer(c.Args().Get(0), c.Args().Get(1), opts...))
				},
			},
			{
				Name:  "enqueue",
				Usage: "Queue a job for the worker",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Usage: "decode, encode or remux", Required: true},
					&cli.StringFlag{Name: "input", Usage: "Input locator", Required: true},
					&cli.StringFlag{Name: "output", Usage: "Output locator"},
				},
				Action: func(c *cli.Context) error {
					kind, err := worker.ParseJobKind(c.String("kind"))
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					id, err := uuidGenerator.Next()
					if err != nil {
						return cli.Exit("Failed to generate job ID: "+err.Error(), 1)
					}
					job := worker.TranscodeJob{
						ID:         id,
						Kind:       kind,
						Input:      c.String("input"),
						Output:     c.String("output"),
						EnqueuedAt: time.Now(),
					}

					repo, closeRepo, err := newJobRepository(c.Context)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					defer closeRepo()
					if err := repo.Save(c.Context, repository.JobRecord{
						ID: job.ID, Kind: string(job.Kind), Input: job.Input, Output: job.Output,
					}); err != nil {
						return cli.Exit("Failed to record job: "+err.Error(), 1)
					}

					rdb, err := newRedisClient()
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					defer rdb.Close()
					handler, err := worker.NewRedisJobHandler(c.Context, rdb)
					if err != nil {
						return cli.Exit("Failed to create job handler: "+err.Error(), 1)
					}
					if err := handler.HandleJobs(c.Context, job); err != nil {
						return cli.Exit("Failed to enqueue job: "+err.Error(), 1)
					}
					log.Printf("Enqueued %s job %s", job.Kind, job.ID)
					return nil
				},
			},
			{
				Name:      "cancel",
				Usage:     "Ask the worker to cancel a job",
				ArgsUsage: "<job id>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("cancel needs a job ID", 1)
					}
					rdb, err := newRedisClient()
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					defer rdb.Close()
					if err := worker.NewRedisCancelList(rdb).Cancel(c.Context, c.Args().First()); err != nil {
						return cli.Exit(err.Error(), 1)
					}
					log.Printf("Cancellation requested for %s", c.Args().First())
					return nil
				},
			},
			{
				Name:  "jobs",
				Usage: "List recent jobs",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "How many jobs to show"},
				},
				Action: func(c *cli.Context) error {
					repo, closeRepo, err := newJobRepository(c.Context)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					defer closeRepo()

					jobs, err := repo.List(c.Context, c.Int("limit"))
					if err != nil {
						return cli.Exit("Failed to retrieve jobs: "+err.Error(), 1)
					}
					fmt.Fprint(c.App.Writer, presenters.BuildJobList(jobs))
					return nil
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("Error running CLI: %v", err)
	}
}
