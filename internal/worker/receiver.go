package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisJobReceiver reads jobs from the job stream as one consumer of the
// worker group.
type RedisJobReceiver struct {
	client   *redis.Client
	consumer string
	count    int64
	block    time.Duration
}

func NewRedisJobReceiver(ctx context.Context, client *redis.Client, consumer string) (*RedisJobReceiver, error) {
	if err := ensureGroup(ctx, client); err != nil {
		return nil, err
	}
	return &RedisJobReceiver{client: client, consumer: consumer, count: 10, block: 5 * time.Second}, nil
}

// ReceiveJobs blocks until jobs arrive or the block timeout passes, in
// which case it returns no jobs. Malformed entries are acknowledged and
// dropped.
func (r *RedisJobReceiver) ReceiveJobs(ctx context.Context) ([]TranscodeJob, error) {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: r.consumer,
		Streams:  []string{JobStream, ">"},
		Count:    r.count,
		Block:    r.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job stream: %w", err)
	}

	var jobs []TranscodeJob
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			job, err := parseMessage(msg)
			if err != nil {
				slog.WarnContext(ctx, "Dropping malformed job",
					slog.String("messageID", msg.ID), slog.Any("error", err))
				if err := r.client.XAck(ctx, JobStream, ConsumerGroup, msg.ID).Err(); err != nil {
					return nil, fmt.Errorf("failed to ack malformed job %s: %w", msg.ID, err)
				}
				continue
			}
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// Ack marks jobs as handled.
func (r *RedisJobReceiver) Ack(ctx context.Context, jobs ...TranscodeJob) error {
	if len(jobs) == 0 {
		return nil
	}
	ids := make([]string, len(jobs))
	for i, job := range jobs {
		ids[i] = job.MessageID
	}
	if err := r.client.XAck(ctx, JobStream, ConsumerGroup, ids...).Err(); err != nil {
		return fmt.Errorf("failed to ack jobs: %w", err)
	}
	return nil
}

func parseMessage(msg redis.XMessage) (TranscodeJob, error) {
	str := func(key string) string {
		v, _ := msg.Values[key].(string)
		return v
	}
	kind, err := ParseJobKind(str("kind"))
	if err != nil {
		return TranscodeJob{}, err
	}
	job := TranscodeJob{
		ID:        str("jobID"),
		Kind:      kind,
		Input:     str("input"),
		Output:    str("output"),
		MessageID: msg.ID,
	}
	if job.ID == "" || job.Input == "" {
		return TranscodeJob{}, errors.New("job needs an ID and an input")
	}
	if job.Kind != KindEncode && job.Output == "" {
		return TranscodeJob{}, fmt.Errorf("%s job needs an output", job.Kind)
	}
	if at := str("enqueuedAt"); at != "" {
		if job.EnqueuedAt, err = time.Parse(time.RFC3339, at); err != nil {
			return TranscodeJob{}, fmt.Errorf("bad enqueuedAt: %w", err)
		}
	}
	return job, nil
}
