package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	JobStream     = "transcode_jobs"
	ConsumerGroup = "transcode_workers"
	CancelSet     = "transcode_cancelled"
)

type JobKind string

const (
	KindDecode JobKind = "decode"
	KindEncode JobKind = "encode"
	KindRemux  JobKind = "remux"
)

func ParseJobKind(s string) (JobKind, error) {
	switch k := JobKind(strings.ToLower(s)); k {
	case KindDecode, KindEncode, KindRemux:
		return k, nil
	}
	return "", fmt.Errorf("unknown job kind %q", s)
}

// TranscodeJob is one unit of work on the job stream.
type TranscodeJob struct {
	ID   string
	Kind JobKind
	// Input and Output are locators. An empty Output on an encode job asks
	// for a generated name.
	Input      string
	Output     string
	EnqueuedAt time.Time

	// MessageID is the stream entry the job was read from.
	MessageID string
}

func (j TranscodeJob) LogAttrs() []any {
	return []any{
		slog.String("jobID", j.ID),
		slog.String("kind", string(j.Kind)),
		slog.String("input", j.Input),
		slog.String("output", j.Output),
	}
}

type JobHandler interface {
	HandleJobs(ctx context.Context, jobs ...TranscodeJob) error
}

type PrintingJobHandler struct{}

func (h *PrintingJobHandler) HandleJobs(ctx context.Context, jobs ...TranscodeJob) error {
	for _, job := range jobs {
		slog.InfoContext(
			ctx,
			"Handling Transcode Job",
			append(job.LogAttrs(), slog.String("enqueuedAt", job.EnqueuedAt.Format("2006-01-02 15:04:05")))...,
		)
	}
	return nil
}

// RedisJobHandler enqueues jobs on the job stream.
type RedisJobHandler struct {
	client *redis.Client
}

func NewRedisJobHandler(ctx context.Context, client *redis.Client) (*RedisJobHandler, error) {
	if err := ensureGroup(ctx, client); err != nil {
		return nil, err
	}
	return &RedisJobHandler{client: client}, nil
}

func ensureGroup(ctx context.Context, client *redis.Client) error {
	err := client.XGroupCreateMkStream(ctx, JobStream, ConsumerGroup, "$").Err()
	if err != nil && !errors.Is(err, redis.Nil) && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func (h *RedisJobHandler) HandleJobs(ctx context.Context, jobs ...TranscodeJob) error {
	_, err := h.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, job := range jobs {
			enqueuedAt := job.EnqueuedAt
			if enqueuedAt.IsZero() {
				enqueuedAt = time.Now()
			}
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: JobStream,
				Values: map[string]any{
					"jobID":      job.ID,
					"kind":       string(job.Kind),
					"input":      job.Input,
					"output":     job.Output,
					"enqueuedAt": enqueuedAt.Format(time.RFC3339),
				},
			})
		}
		return nil
	})
	return err
}

var (
	_ JobHandler = (*PrintingJobHandler)(nil)
	_ JobHandler = (*RedisJobHandler)(nil)
)
