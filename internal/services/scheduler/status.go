package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/goatkit/ticketforge/internal/models"
)

// StatusStore keeps the latest run status of each job.
type StatusStore interface {
	Save(ctx context.Context, job *models.ScheduledJob) error
	Load(ctx context.Context) (map[string]models.ScheduledJob, error)
}

// RedisStatusStore stores job status as JSON in one Redis hash keyed by slug.
type RedisStatusStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStatusStore creates a status store on key.
func NewRedisStatusStore(client redis.UniversalClient, key string) *RedisStatusStore {
	if key == "" {
		key = "ticketforge:scheduler:status"
	}
	return &RedisStatusStore{client: client, key: key}
}

// Save writes one job's status.
func (r *RedisStatusStore) Save(ctx context.Context, job *models.ScheduledJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("scheduler: marshal status: %w", err)
	}
	return r.client.HSet(ctx, r.key, job.Slug, raw).Err()
}

// Load returns every stored status.
func (r *RedisStatusStore) Load(ctx context.Context) (map[string]models.ScheduledJob, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.ScheduledJob, len(raw))
	for slug, v := range raw {
		var job models.ScheduledJob
		if err := json.Unmarshal([]byte(v), &job); err != nil {
			continue
		}
		out[slug] = job
	}
	return out, nil
}
