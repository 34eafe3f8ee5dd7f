// Package queue is the Redis-backed work channel between the API/recovery
// side and the render workers. Delivery is at-least-once: messages move from
// a ready list into an in-flight sorted set under a visibility deadline, and
// expired leases are pushed back onto the ready list.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"image-cache-service/internal/config"
	"image-cache-service/internal/models"
)

const (
	readyKey    = "cachegen:ready"
	inflightKey = "cachegen:inflight"
)

// Queue publishes and leases cache work messages.
type Queue struct {
	client        *redis.Client
	visibilityTTL time.Duration
}

// New builds a queue client from config.
func New(cfg config.Config) *Queue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &Queue{client: client, visibilityTTL: visibility}
}

// NewWithClient wraps an existing client; used by tests.
func NewWithClient(client *redis.Client, visibility time.Duration) *Queue {
	return &Queue{client: client, visibilityTTL: visibility}
}

// Delivery is a leased message plus the raw payload needed to ack it.
type Delivery struct {
	Message models.WorkMessage
	raw     string
}

// Publish appends one work message to the ready list.
func (q *Queue) Publish(ctx context.Context, msg models.WorkMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal work message: %w", err)
	}
	if err := q.client.RPush(ctx, readyKey, payload).Err(); err != nil {
		return fmt.Errorf("push work message: %w", err)
	}
	return nil
}

// Dequeue pops the next ready message and places it in-flight under the
// visibility deadline. ok is false when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (Delivery, bool, error) {
	deadline := time.Now().Add(q.visibilityTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{readyKey, inflightKey}, deadline).Result()
	if err == redis.Nil {
		return Delivery{}, false, nil
	}
	if err != nil {
		return Delivery{}, false, fmt.Errorf("dequeue: %w", err)
	}
	raw, ok := res.(string)
	if !ok {
		return Delivery{}, false, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	var msg models.WorkMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return Delivery{}, false, fmt.Errorf("decode work message: %w", err)
	}
	return Delivery{Message: msg, raw: raw}, true, nil
}

// Ack removes a delivered message from in-flight tracking.
func (q *Queue) Ack(ctx context.Context, d Delivery) error {
	return q.client.ZRem(ctx, inflightKey, d.raw).Err()
}

// ExtendLease pushes the visibility deadline forward for a slow render.
func (q *Queue) ExtendLease(ctx context.Context, d Delivery, extension time.Duration) error {
	return q.client.ZAdd(ctx, inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: d.raw,
	}).Err()
}

// RequeueExpired reclaims messages whose lease lapsed, returning them to the
// ready list. Returns how many were reclaimed.
func (q *Queue) RequeueExpired(ctx context.Context, now time.Time, limit int64) (int, error) {
	payloads, err := q.client.ZRangeByScore(ctx, inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan expired leases: %w", err)
	}
	if len(payloads) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, p := range payloads {
		pipe.ZRem(ctx, inflightKey, p)
		pipe.RPush(ctx, readyKey, p)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("requeue expired: %w", err)
	}
	return len(payloads), nil
}

// Depth returns the number of messages waiting in the ready list.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, readyKey).Result()
}

// InFlight returns the number of leased messages.
func (q *Queue) InFlight(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, inflightKey).Result()
}

var dequeueScript = redis.NewScript(`
local msg = redis.call('LPOP', KEYS[1])
if msg then
  redis.call('ZADD', KEYS[2], ARGV[1], msg)
  return msg
end
return nil
`)
