// Package opuskit decodes Ogg-Opus into PCM and encodes audio into
// Ogg-Opus. Each Decoder or Encoder runs once on a goroutine of its own
// and reports through a completion callback.
package opuskit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glizzus/opuskit/internal/config"
	"github.com/glizzus/opuskit/internal/datalayer"
	"github.com/glizzus/opuskit/internal/generator"
	"github.com/glizzus/opuskit/internal/opus"
	"github.com/glizzus/opuskit/internal/pcm"
	"github.com/glizzus/opuskit/internal/pipeline"
)

type (
	Result        = pipeline.Result
	State         = pipeline.State
	Phase         = pipeline.Phase
	Error         = pipeline.Error
	Kind          = pipeline.Kind
	Storage       = datalayer.MediaStorage
	EncoderConfig = opus.EncoderConfig
	PCMOptions    = pcm.OpenOptions
)

const (
	KindUnknown              = pipeline.KindUnknown
	KindInputNotFound        = pipeline.KindInputNotFound
	KindUnsupportedContainer = pipeline.KindUnsupportedContainer
	KindCorruptHeader        = pipeline.KindCorruptHeader
	KindCorruptStream        = pipeline.KindCorruptStream
	KindUnsupportedConfig    = pipeline.KindUnsupportedConfig
	KindInvalidFrameSize     = pipeline.KindInvalidFrameSize
	KindDecodeFailure        = pipeline.KindDecodeFailure
	KindEncodeFailure        = pipeline.KindEncodeFailure
	KindOutputWriteFailure   = pipeline.KindOutputWriteFailure
	KindCancelled            = pipeline.KindCancelled
	KindContractViolation    = pipeline.KindContractViolation
)

var (
	ErrCancelled      = pipeline.ErrCancelled
	ErrAlreadyStarted = pipeline.ErrAlreadyStarted
)

// KindOf classifies an error returned through a completion.
func KindOf(err error) Kind { return pipeline.KindOf(err) }

// DefaultEncoderConfig is 64 kb/s VBR, complexity 10, 20 ms frames.
func DefaultEncoderConfig() EncoderConfig { return opus.DefaultEncoderConfig() }

type options struct {
	storage     Storage
	encoder     EncoderConfig
	output      string
	outputDir   string
	logger      *slog.Logger
	notifier    func(func())
	keepPartial bool
	pcm         PCMOptions
	framesInfo  opus.StreamInfo
}

type Option func(*options)

// WithResolver sets where inputs are read from and outputs written to.
// The default only serves local files.
func WithResolver(s Storage) Option {
	return func(o *options) { o.storage = s }
}

func WithEncoderConfig(cfg EncoderConfig) Option {
	return func(o *options) { o.encoder = cfg }
}

// WithOutput names the encoder output instead of generating one.
func WithOutput(output string) Option {
	return func(o *options) { o.output = output }
}

// WithOutputDir is where generated encoder outputs go.
func WithOutputDir(dir string) Option {
	return func(o *options) { o.outputDir = dir }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithNotifier runs completions through notify, for callers that need them
// on a particular goroutine.
func WithNotifier(notify func(func())) Option {
	return func(o *options) { o.notifier = notify }
}

func WithKeepPartial(keep bool) Option {
	return func(o *options) { o.keepPartial = keep }
}

func WithPCMOptions(opts PCMOptions) Option {
	return func(o *options) { o.pcm = opts }
}

// WithFramesFormat describes headerless .frames inputs. A .frames file
// does not record its pre-skip, so pass the PreSkip of the Result that
// produced it; with zero, the decoder start-up samples stay in the output.
func WithFramesFormat(sampleRate, channels int, preSkip uint32) Option {
	return func(o *options) {
		o.framesInfo = opus.StreamInfo{SampleRate: sampleRate, Channels: channels, PreSkip: preSkip}
	}
}

// OptionsFromConfig turns environment configuration into options.
func OptionsFromConfig(cfg *config.TranscodeConfig) ([]Option, error) {
	app, err := opus.ParseApplication(cfg.Application)
	if err != nil {
		return nil, err
	}
	enc := EncoderConfig{
		Bitrate:       cfg.Bitrate,
		Complexity:    cfg.Complexity,
		FrameDuration: cfg.FrameDuration,
		VBR:           cfg.VBR,
		Application:   app,
	}
	if err := enc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid encoder configuration: %w", err)
	}
	pcmOpts := pcm.DefaultOpenOptions()
	pcmOpts.FFmpegPath = cfg.FFmpegPath
	pcmOpts.RawFormat = pcm.Format{SampleRate: cfg.RawSampleRate, Channels: cfg.RawChannels}
	return []Option{
		WithEncoderConfig(enc),
		WithOutputDir(cfg.OutputDir),
		WithKeepPartial(cfg.KeepPartial),
		WithPCMOptions(pcmOpts),
	}, nil
}

func buildOptions(opts []Option) options {
	o := options{
		storage: &datalayer.Resolver{},
		encoder: opus.DefaultEncoderConfig(),
		logger:  slog.Default(),
		pcm:     pcm.DefaultOpenOptions(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) driver(job pipeline.Job, attrs ...any) *pipeline.Driver {
	driverOpts := []pipeline.Option{
		pipeline.WithLogger(o.logger.With(attrs...)),
		pipeline.WithKeepPartial(o.keepPartial),
	}
	if o.notifier != nil {
		driverOpts = append(driverOpts, pipeline.WithNotifier(o.notifier))
	}
	return pipeline.NewDriver(job, driverOpts...)
}

// run is what Decoder and Encoder share.
type run struct {
	driver *pipeline.Driver
}

// Start begins processing and returns at once. onComplete is called
// exactly once, with a zero Result and an error when the run did not
// complete. Calling Start a second time returns ErrAlreadyStarted.
func (r *run) Start(ctx context.Context, onComplete func(Result, error)) error {
	return r.driver.Start(ctx, onComplete)
}

// Cancel requests cancellation. It is safe to call at any time.
func (r *run) Cancel() { r.driver.Cancel() }

func (r *run) State() State { return r.driver.State() }

// Done is closed once the run has finished and its completion was handed
// to the notifier.
func (r *run) Done() <-chan struct{} { return r.driver.Done() }

// Wait blocks until the run has finished and returns its outcome.
func (r *run) Wait() (Result, error) { return r.driver.Outcome() }

// Decoder decodes one Ogg-Opus input into PCM. Outputs ending in .wav get
// a WAV header; anything else is raw s16le.
type Decoder struct{ run }

func NewDecoder(input, output string, opts ...Option) *Decoder {
	o := buildOptions(opts)
	job := pipeline.NewDecodeJob(input, output, o.storage)
	job.FramesInfo = o.framesInfo
	return &Decoder{run{o.driver(job, slog.String("input", input), slog.String("direction", "decode"))}}
}

// Encoder encodes one audio input into Ogg-Opus.
type Encoder struct{ run }

func NewEncoder(input string, opts ...Option) *Encoder {
	o := buildOptions(opts)
	job := pipeline.NewEncodeJob(input, o.output, o.storage, o.encoder)
	job.Names = &generator.OutputPathGenerator{Dir: o.outputDir, Ext: ".opus"}
	job.PCM = o.pcm
	return &Encoder{run{o.driver(job, slog.String("input", input), slog.String("direction", "encode"))}}
}

// Remuxer rewrites an Ogg-Opus input in the length-prefixed .frames
// format without decoding it. The Ogg header does not survive, so the
// Result carries the pre-skip and channel count that WithFramesFormat needs
// to decode the output.
type Remuxer struct{ run }

func NewRemuxer(input, output string, opts ...Option) *Remuxer {
	o := buildOptions(opts)
	job := pipeline.NewRemuxJob(input, output, o.storage)
	return &Remuxer{run{o.driver(job, slog.String("input", input), slog.String("direction", "remux"))}}
}
