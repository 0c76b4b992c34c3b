package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// TranscodeConfig holds the codec defaults and pipeline policy shared by
// the CLI and the worker.
type TranscodeConfig struct {
	Bitrate       int           `env:"OPUSKIT_BITRATE, default=64000"`
	Complexity    int           `env:"OPUSKIT_COMPLEXITY, default=10"`
	FrameDuration time.Duration `env:"OPUSKIT_FRAME_DURATION, default=20ms"`
	VBR           bool          `env:"OPUSKIT_VBR, default=true"`
	Application   string        `env:"OPUSKIT_APPLICATION, default=audio"`

	// OutputDir is where encoder outputs go when no output is named. It may
	// be an s3:// prefix.
	OutputDir   string `env:"OPUSKIT_OUTPUT_DIR, default=out"`
	FFmpegPath  string `env:"OPUSKIT_FFMPEG_PATH, default=ffmpeg"`
	KeepPartial bool   `env:"OPUSKIT_KEEP_PARTIAL, default=false"`

	RawSampleRate int `env:"OPUSKIT_RAW_SAMPLE_RATE, default=48000"`
	RawChannels   int `env:"OPUSKIT_RAW_CHANNELS, default=1"`

	WorkerConcurrency int `env:"OPUSKIT_WORKER_CONCURRENCY, default=2"`
}

func NewTranscodeConfigFromEnv() (*TranscodeConfig, error) {
	return newTranscodeConfig(context.Background(), envconfig.OsLookuper())
}

func newTranscodeConfig(ctx context.Context, lookuper envconfig.Lookuper) (*TranscodeConfig, error) {
	var cfg TranscodeConfig
	if err := process(ctx, lookuper, &cfg); err != nil {
		return nil, err
	}
	if cfg.RawSampleRate <= 0 || cfg.RawChannels <= 0 {
		return nil, fmt.Errorf("raw PCM format %dHz/%dch is invalid", cfg.RawSampleRate, cfg.RawChannels)
	}
	if cfg.WorkerConcurrency < 1 {
		return nil, fmt.Errorf("OPUSKIT_WORKER_CONCURRENCY must be at least 1, got %d", cfg.WorkerConcurrency)
	}
	return &cfg, nil
}
