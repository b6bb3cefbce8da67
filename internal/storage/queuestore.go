package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openmobilityfoundation/mds-audit-service/internal/queue"
)

// QueueStore persists the submission queue's pending events in Redis so they
// survive restarts. It implements queue.SnapshotStore.
type QueueStore struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// NewQueueStore creates a Redis-backed queue snapshot store.
func NewQueueStore(client *redis.Client, key string, logger *zap.Logger) *QueueStore {
	return &QueueStore{client: client, key: key, logger: logger}
}

// Save replaces the stored snapshot with the given events.
func (s *QueueStore) Save(ctx context.Context, events []*queue.Event) error {
	if len(events) == 0 {
		if err := s.client.Del(ctx, s.key).Err(); err != nil {
			return fmt.Errorf("clear queue snapshot: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal queue snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("store queue snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot, or nil when none exists.
func (s *QueueStore) Load(ctx context.Context) ([]*queue.Event, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load queue snapshot: %w", err)
	}

	var events []*queue.Event
	if err := json.Unmarshal(data, &events); err != nil {
		// A corrupt snapshot should not keep the queue from starting.
		s.logger.Warn("discarding unreadable queue snapshot", zap.Error(err))
		return nil, nil
	}
	return events, nil
}
