package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
)

const (
	defaultVisibilityTimeout = 5 * time.Minute
	promoteBatch             = 100
)

// RedisQueueBroker stores each job in a hash (job:<id>) and its position in a
// per-queue sorted set. Ready jobs are ordered by priority, then enqueue time;
// delayed retries wait in queue:<name>:delayed until due. Dequeued jobs sit in
// processing:<name>, scored by their visibility deadline, until acknowledged;
// expired entries are reclaimed as failed attempts.
type RedisQueueBroker struct {
	client            *redis.Client
	visibilityTimeout time.Duration
	now               func() time.Time
}

type RedisOption func(*RedisQueueBroker)

// WithVisibilityTimeout sets how long a dequeued job may stay unacknowledged
// before it is redelivered.
func WithVisibilityTimeout(d time.Duration) RedisOption {
	return func(b *RedisQueueBroker) { b.visibilityTimeout = d }
}

func NewRedisQueueBroker(addr, password string, db int, opts ...RedisOption) *RedisQueueBroker {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisQueueBrokerWithClient(rdb, opts...)
}

func NewRedisQueueBrokerWithClient(client *redis.Client, opts ...RedisOption) *RedisQueueBroker {
	b := &RedisQueueBroker{
		client:            client,
		visibilityTimeout: defaultVisibilityTimeout,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func readyKey(queue string) string { return "queue:" + queue }
func delayedKey(queue string) string { return "queue:" + queue + ":delayed" }
func deadKey(queue string) string { return "queue:" + queue + ":dead" }
func jobKey(id string) string { return "job:" + id }
func processingKey(queue string) string { return "processing:" + queue }

// readyScore sorts higher priorities first and FIFO within a priority.
func readyScore(priority int, at time.Time) float64 {
	return float64(-priority)*1e13 + float64(at.UnixMilli())
}

func (r *RedisQueueBroker) Enqueue(ctx context.Context, queue string, message *domain.QueueMessage) error {
	if message.ID == "" {
		return errors.New("message id is required")
	}
	message.Queue = queue
	if message.MaxAttempts <= 0 {
		message.MaxAttempts = domain.DefaultMaxAttempts
	}

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, jobKey(message.ID)).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			r.writeJob(ctx, pipe, queue, message)
			return nil
		})
		return err
	}, jobKey(message.ID))
	if errors.Is(err, redis.TxFailedErr) {
		// A concurrent enqueue of the same id won.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", message.ID, err)
	}
	return nil
}

func (r *RedisQueueBroker) writeJob(ctx context.Context, pipe redis.Pipeliner, queue string, message *domain.QueueMessage) {
	pipe.HSet(ctx, jobKey(message.ID),
		"queue", queue,
		"payload", message.Payload,
		"priority", message.Priority,
		"attempts", message.Attempts,
		"max_attempts", message.MaxAttempts,
		"backoff_type", string(message.Backoff.Type),
		"backoff_delay_ms", message.Backoff.Delay.Milliseconds(),
		"backoff_max_ms", message.Backoff.Max.Milliseconds(),
		"remove_on_complete", message.RemoveOnComplete,
		"state", "waiting",
	)
	pipe.ZAdd(ctx, readyKey(queue), &redis.Z{
		Score:  readyScore(message.Priority, r.now()),
		Member: message.ID,
	})
}

func (r *RedisQueueBroker) Dequeue(ctx context.Context, queues []string, timeout time.Duration) (*domain.QueueMessage, error) {
	if len(queues) == 0 {
		return nil, errors.New("no queues specified")
	}
	keys := make([]string, len(queues))
	for i, q := range queues {
		if err := r.reclaimExpired(ctx, q); err != nil {
			return nil, err
		}
		if err := r.promoteDue(ctx, q); err != nil {
			return nil, err
		}
		keys[i] = readyKey(q)
	}

	popped, err := r.client.BZPopMin(ctx, timeout, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop job: %w", err)
	}

	id, ok := popped.Member.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected member type %T", popped.Member)
	}
	fields, err := r.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if len(fields) == 0 {
		// Removed between enqueue and pop.
		return nil, nil
	}

	message := decodeMessage(id, fields)
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, processingKey(message.Queue), &redis.Z{
		Score:  float64(r.now().Add(r.visibilityTimeout).UnixMilli()),
		Member: id,
	})
	pipe.HSet(ctx, jobKey(id), "state", "active")
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to mark job %s active: %w", id, err)
	}
	return message, nil
}

func (r *RedisQueueBroker) Ack(ctx context.Context, message *domain.QueueMessage) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, processingKey(message.Queue), message.ID)
		if message.RemoveOnComplete {
			pipe.Del(ctx, jobKey(message.ID))
		} else {
			pipe.HSet(ctx, jobKey(message.ID), "state", "completed")
		}
		return nil
	})
	return err
}

func (r *RedisQueueBroker) Nack(ctx context.Context, message *domain.QueueMessage) error {
	attempts, err := r.client.HIncrBy(ctx, jobKey(message.ID), "attempts", 1).Result()
	if err != nil {
		return fmt.Errorf("failed to record attempt for job %s: %w", message.ID, err)
	}
	message.Attempts = int(attempts)

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, processingKey(message.Queue), message.ID)

		if message.MaxAttempts > 0 && message.Attempts >= message.MaxAttempts {
			pipe.HSet(ctx, jobKey(message.ID), "state", "failed")
			pipe.RPush(ctx, deadKey(message.Queue), message.ID)
			return nil
		}

		now := r.now()
		delay := message.Backoff.Next(message.Attempts)
		if delay <= 0 {
			pipe.HSet(ctx, jobKey(message.ID), "state", "waiting")
			pipe.ZAdd(ctx, readyKey(message.Queue), &redis.Z{Score: readyScore(message.Priority, now), Member: message.ID})
			return nil
		}
		pipe.HSet(ctx, jobKey(message.ID), "state", "delayed")
		pipe.ZAdd(ctx, delayedKey(message.Queue), &redis.Z{
			Score:  float64(now.Add(delay).UnixMilli()),
			Member: message.ID,
		})
		return nil
	})
	return err
}

// DeadLetters lists the ids of jobs that exhausted their attempts.
func (r *RedisQueueBroker) DeadLetters(ctx context.Context, queue string) ([]string, error) {
	return r.client.LRange(ctx, deadKey(queue), 0, -1).Result()
}

func (r *RedisQueueBroker) Close() error {
	return r.client.Close()
}

// reclaimExpired treats jobs whose visibility deadline passed as failed
// attempts, so a consumer that died after Dequeue does not lose them.
func (r *RedisQueueBroker) reclaimExpired(ctx context.Context, queue string) error {
	expired, err := r.client.ZRangeByScore(ctx, processingKey(queue), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(r.now().UnixMilli(), 10),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read expired jobs: %w", err)
	}

	for _, id := range expired {
		removed, err := r.client.ZRem(ctx, processingKey(queue), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			// Acknowledged or reclaimed by another consumer.
			continue
		}
		fields, err := r.client.HGetAll(ctx, jobKey(id)).Result()
		if err != nil {
			return fmt.Errorf("failed to load job %s: %w", id, err)
		}
		if len(fields) == 0 {
			continue
		}
		if err := r.Nack(ctx, decodeMessage(id, fields)); err != nil {
			return fmt.Errorf("failed to reclaim job %s: %w", id, err)
		}
	}
	return nil
}

func (r *RedisQueueBroker) promoteDue(ctx context.Context, queue string) error {
	now := r.now()
	due, err := r.client.ZRangeByScore(ctx, delayedKey(queue), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read delayed jobs: %w", err)
	}

	for _, id := range due {
		removed, err := r.client.ZRem(ctx, delayedKey(queue), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			// Another consumer promoted it.
			continue
		}
		priority, _ := r.client.HGet(ctx, jobKey(id), "priority").Int()
		pipe := r.client.TxPipeline()
		pipe.HSet(ctx, jobKey(id), "state", "waiting")
		pipe.ZAdd(ctx, readyKey(queue), &redis.Z{Score: readyScore(priority, now), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func decodeMessage(id string, fields map[string]string) *domain.QueueMessage {
	atoi := func(key string) int {
		n, _ := strconv.Atoi(fields[key])
		return n
	}
	msOf := func(key string) time.Duration {
		n, _ := strconv.ParseInt(fields[key], 10, 64)
		return time.Duration(n) * time.Millisecond
	}
	removeOnComplete, _ := strconv.ParseBool(fields["remove_on_complete"])

	return &domain.QueueMessage{
		ID:          id,
		Queue:       fields["queue"],
		Payload:     []byte(fields["payload"]),
		Priority:    atoi("priority"),
		Attempts:    atoi("attempts"),
		MaxAttempts: atoi("max_attempts"),
		Backoff: domain.BackoffPolicy{
			Type:  domain.BackoffType(fields["backoff_type"]),
			Delay: msOf("backoff_delay_ms"),
			Max:   msOf("backoff_max_ms"),
		},
		RemoveOnComplete: removeOnComplete,
	}
}
