package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// CancelList records jobs whose cancellation was requested.
type CancelList interface {
	Cancel(ctx context.Context, jobID string) error
	IsCancelled(ctx context.Context, jobID string) (bool, error)
}

type RedisCancelList struct {
	client *redis.Client
}

func NewRedisCancelList(client *redis.Client) *RedisCancelList {
	return &RedisCancelList{client: client}
}

func (l *RedisCancelList) Cancel(ctx context.Context, jobID string) error {
	if err := l.client.SAdd(ctx, CancelSet, jobID).Err(); err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}
	return nil
}

func (l *RedisCancelList) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	cancelled, err := l.client.SIsMember(ctx, CancelSet, jobID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check cancellation of job %s: %w", jobID, err)
	}
	return cancelled, nil
}

type MemoryCancelList struct {
	mu        sync.Mutex
	cancelled map[string]struct{}
}

func NewMemoryCancelList() *MemoryCancelList {
	return &MemoryCancelList{cancelled: make(map[string]struct{})}
}

func (l *MemoryCancelList) Cancel(_ context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancelled[jobID] = struct{}{}
	return nil
}

func (l *MemoryCancelList) IsCancelled(_ context.Context, jobID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.cancelled[jobID]
	return ok, nil
}

var (
	_ CancelList = (*RedisCancelList)(nil)
	_ CancelList = (*MemoryCancelList)(nil)
)
