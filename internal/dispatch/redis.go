package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a durable dispatcher backed by a Redis list.
// Producers LPUSH JSON tasks; Run pops them with BRPOP.
// Undecodable tasks and tasks with no handler go to the dead-letter list.
type Redis struct {
	client   redis.UniversalClient
	registry *Registry
	opts     options
	metrics  *dispatchMetrics
}

// NewRedis creates a Redis dispatcher. Call Run to consume.
func NewRedis(client redis.UniversalClient, registry *Registry, opts ...Option) *Redis {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Redis{
		client:   client,
		registry: registry,
		opts:     o,
		metrics:  globalDispatchMetrics(),
	}
}

// Dispatch pushes task onto the queue.
func (r *Redis) Dispatch(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("dispatch: encode task: %w", err)
	}
	if err := r.client.LPush(ctx, r.opts.QueueKey, data).Err(); err != nil {
		r.metrics.rejected(task.Kind, "redis")
		return fmt.Errorf("dispatch: enqueue %s: %w", task.Kind, err)
	}
	r.metrics.enqueued(task.Kind, "redis")
	return nil
}

// Run consumes tasks with the configured number of workers until ctx ends.
func (r *Redis) Run(ctx context.Context) error {
	errCh := make(chan error, r.opts.Workers)
	for i := 0; i < r.opts.Workers; i++ {
		go func() { errCh <- r.consume(ctx) }()
	}
	var first error
	for i := 0; i < r.opts.Workers; i++ {
		if err := <-errCh; err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (r *Redis) consume(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := r.client.BRPop(ctx, r.opts.PollWait, r.opts.QueueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			r.opts.Logger.Printf("dispatch: redis pop failed: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		// BRPOP returns [key, value]
		if len(res) != 2 {
			continue
		}
		r.process(ctx, []byte(res[1]))
	}
}

// process handles one raw queue entry.
func (r *Redis) process(ctx context.Context, raw []byte) {
	var task Task
	if err := json.Unmarshal(raw, &task); err != nil || task.Kind == "" {
		r.opts.Logger.Printf("dispatch: undecodable task moved to %s", r.opts.DeadKey)
		r.deadLetter(ctx, raw)
		return
	}
	if !r.registry.Has(task.Kind) {
		r.opts.Logger.Printf("dispatch: no handler for %s, task %s moved to %s", task.Kind, task.ID, r.opts.DeadKey)
		r.deadLetter(ctx, raw)
		return
	}
	_ = runTask(ctx, r.registry, task, r.opts, r.metrics, "redis")
}

func (r *Redis) deadLetter(ctx context.Context, raw []byte) {
	r.metrics.deadLettered()
	// detached so a shutdown does not lose the entry
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.client.LPush(dctx, r.opts.DeadKey, raw).Err(); err != nil {
		r.opts.Logger.Printf("dispatch: dead-letter push failed: %v", err)
	}
}

// DeadLetters returns the raw entries currently in the dead-letter list.
func (r *Redis) DeadLetters(ctx context.Context) ([]string, error) {
	return r.client.LRange(ctx, r.opts.DeadKey, 0, -1).Result()
}
