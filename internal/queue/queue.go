// Package queue is a durable at-least-once work queue on Redis lists.
//
// Producers LPUSH onto the pending list. A consumer atomically moves an item
// into its own processing list with BLMOVE and removes it with LREM once the
// item has been handled.
//
// Every consumer holds a heartbeat key with a TTL while it runs. Items in the
// processing list of a consumer whose heartbeat expired are moved back to the
// pending list by Reclaim on any live consumer, and by Recover when a consumer
// with the same name starts again.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kiranshivaraju/modeltrain/pkg/models"
)

var (
	// ErrNoWork is returned by Dequeue when nothing arrived before the timeout.
	ErrNoWork = errors.New("no work available")
	// ErrConsumerInUse is returned by Heartbeat when another live process
	// holds the same consumer name.
	ErrConsumerInUse = errors.New("consumer name held by another process")
)

// heartbeatScript sets the heartbeat key unless another process owns it.
var heartbeatScript = redis.NewScript(`
local owner = redis.call('GET', KEYS[1])
if owner and owner ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// releaseScript deletes the heartbeat key only if this process owns it.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// requeueScript moves one payload from a processing list to the producer end
// of the pending list.
var requeueScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) > 0 then
	redis.call('LPUSH', KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// Delivery is a dequeued work item. Raw is the exact list payload and is
// needed to acknowledge the item.
type Delivery struct {
	Item models.WorkItem
	Raw  string
}

// RedisQueue implements the training work queue.
type RedisQueue struct {
	client   *redis.Client
	name     string
	consumer string
	token    string
	now      func() time.Time
}

// NewRedisQueue creates a queue from a Redis URL. consumer names this process
// on the queue; two live processes must not share it.
func NewRedisQueue(redisURL, name, consumer string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse queue URL: %w", err)
	}
	return NewRedisQueueWithClient(redis.NewClient(opts), name, consumer), nil
}

// NewRedisQueueWithClient wraps an existing client.
func NewRedisQueueWithClient(client *redis.Client, name, consumer string) *RedisQueue {
	return &RedisQueue{
		client:   client,
		name:     name,
		consumer: consumer,
		token:    uuid.NewString(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Enqueue appends item to the pending list and returns its delivery id.
// It does not wait for the item to be processed.
func (q *RedisQueue) Enqueue(ctx context.Context, item models.WorkItem) (string, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = q.now()
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("encode work item: %w", err)
	}
	if err := q.client.LPush(ctx, PendingKey(q.name), payload).Err(); err != nil {
		return "", fmt.Errorf("enqueue work item: %w", err)
	}
	return item.ID, nil
}

// Dequeue blocks up to timeout for the next item and moves it into this
// consumer's processing list.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.client.BLMove(ctx, PendingKey(q.name), ProcessingKey(q.name, q.consumer),
		"RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoWork
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue work item: %w", err)
	}

	var item models.WorkItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		// Drop undecodable payloads instead of redelivering them forever.
		_ = q.client.LRem(ctx, ProcessingKey(q.name, q.consumer), 1, raw).Err()
		return nil, fmt.Errorf("decode work item: %w", err)
	}
	return &Delivery{Item: item, Raw: raw}, nil
}

// Ack removes a handled delivery from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.client.LRem(ctx, ProcessingKey(q.name, q.consumer), 1, d.Raw).Err(); err != nil {
		return fmt.Errorf("ack work item %s: %w", d.Item.ID, err)
	}
	return nil
}

// Requeue puts a delivery that could not be handled back on the pending list
// behind the items already waiting.
func (q *RedisQueue) Requeue(ctx context.Context, d *Delivery) error {
	moved, err := requeueScript.Run(ctx, q.client,
		[]string{ProcessingKey(q.name, q.consumer), PendingKey(q.name)}, d.Raw).Int()
	if err != nil {
		return fmt.Errorf("requeue work item %s: %w", d.Item.ID, err)
	}
	if moved == 0 {
		return fmt.Errorf("requeue work item %s: not in processing list", d.Item.ID)
	}
	return nil
}

// Heartbeat marks this consumer alive for ttl. It fails with
// ErrConsumerInUse while another process holds the same consumer name.
func (q *RedisQueue) Heartbeat(ctx context.Context, ttl time.Duration) error {
	ok, err := heartbeatScript.Run(ctx, q.client,
		[]string{HeartbeatKey(q.name, q.consumer)}, q.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if ok == 0 {
		return fmt.Errorf("%w: %s", ErrConsumerInUse, q.consumer)
	}
	return nil
}

// Release drops this consumer's heartbeat so the name can be reused at once.
func (q *RedisQueue) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, q.client,
		[]string{HeartbeatKey(q.name, q.consumer)}, q.token).Err(); err != nil {
		return fmt.Errorf("release heartbeat: %w", err)
	}
	return nil
}

// Recover moves every item left in this consumer's processing list back to
// the consuming end of the pending list and returns how many were moved.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	return q.drain(ctx, ProcessingKey(q.name, q.consumer))
}

// Reclaim moves the items of every other consumer whose heartbeat expired
// back to the pending list and returns how many were moved.
func (q *RedisQueue) Reclaim(ctx context.Context) (int, error) {
	prefix := ProcessingKey(q.name, "")
	moved := 0

	iter := q.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		consumer := strings.TrimPrefix(iter.Val(), prefix)
		if consumer == q.consumer {
			continue
		}

		alive, err := q.client.Exists(ctx, HeartbeatKey(q.name, consumer)).Result()
		if err != nil {
			return moved, fmt.Errorf("check consumer %s: %w", consumer, err)
		}
		if alive > 0 {
			continue
		}

		n, err := q.drain(ctx, iter.Val())
		moved += n
		if err != nil {
			return moved, fmt.Errorf("reclaim from consumer %s: %w", consumer, err)
		}
	}
	if err := iter.Err(); err != nil {
		return moved, fmt.Errorf("scan processing lists: %w", err)
	}
	return moved, nil
}

func (q *RedisQueue) drain(ctx context.Context, processing string) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, processing, PendingKey(q.name), "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover work items: %w", err)
		}
		moved++
	}
}

// Len returns the number of items waiting to be dequeued.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, PendingKey(q.name)).Result()
}
