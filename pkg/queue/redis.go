package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"MarketCascade/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// promoteScript moves one due retry back onto the queue. The ZREM guard makes the
// move happen once even with several replicas promoting.
const promoteScript = `if redis.call("ZREM", KEYS[1], ARGV[1]) == 1 then
	redis.call("LPUSH", KEYS[2], ARGV[1])
	return 1
end
return 0`

// RedisQueue is a list-backed job queue with a delayed-retry sorted set and a
// dead-letter list. It works producer-only when no job is registered.
type RedisQueue struct {
	client *redis.Client
	config Config
	prefix string
	l      *logger.Logger
	now    func() time.Time
	newID  func() string

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures RedisQueue.
type Option func(*RedisQueue)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(r *RedisQueue) { r.l = l }
}

// NewRedisQueue creates a queue on client. Nothing runs until Start.
func NewRedisQueue(client *redis.Client, config Config, opts ...Option) *RedisQueue {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 10 * time.Second
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = time.Second
	}
	r := &RedisQueue{
		client: client,
		config: config,
		prefix: "cascade:queue",
		l:      logger.Nop(),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
		jobs:   make(map[string]Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds jobs; the last registration of a type wins.
func (r *RedisQueue) Register(jobs ...Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range jobs {
		r.jobs[job.Type()] = job
		r.l.Info("job registered", logger.String("type", job.Type()))
	}
}

// Start pings redis and, when jobs are registered, starts the workers and the
// retry promoter.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("queue already running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.running = true
	if len(r.jobs) == 0 {
		return nil
	}
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.wg.Add(1)
	go r.retryLoop()
	r.l.Info("redis queue started", logger.Int("workers", r.config.Workers), logger.String("prefix", r.prefix))
	return nil
}

// Stop cancels the workers and waits for them or ctx.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("queue stop: %w", ctx.Err())
	case <-done:
		return nil
	}
}

// Enqueue pushes a message. A consumer queue refuses types it has no job for.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	if len(r.jobs) > 0 {
		if _, ok := r.jobs[msgType]; !ok {
			r.mu.RUnlock()
			return fmt.Errorf("no job registered for type %q", msgType)
		}
	}
	r.mu.RUnlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	data, err := json.Marshal(Message{
		ID:         r.newID(),
		Type:       msgType,
		Payload:    raw,
		EnqueuedAt: r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.queueKey(), data).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

// DeadLetters returns up to n dead-lettered messages, newest first.
func (r *RedisQueue) DeadLetters(ctx context.Context, n int64) ([]Message, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := r.client.LRange(ctx, r.deadKey(), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange dlq: %w", err)
	}
	out := make([]Message, 0, len(rows))
	for _, row := range rows {
		var m Message
		if err := json.Unmarshal([]byte(row), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	for r.ctx.Err() == nil {
		msg, err := r.pop(r.ctx)
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			r.l.Error("queue pop failed", logger.Int("worker_id", id), logger.Error(err))
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if msg != nil {
			r.process(r.ctx, *msg)
		}
	}
}

// pop blocks up to PollTimeout; nil, nil means nothing arrived.
func (r *RedisQueue) pop(ctx context.Context) (*Message, error) {
	res, err := r.client.BRPop(ctx, r.config.PollTimeout, r.queueKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		r.l.Error("queue message undecodable", logger.Error(err))
		return nil, nil
	}
	return &msg, nil
}

func (r *RedisQueue) process(ctx context.Context, msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.deadLetter(ctx, msg, fmt.Errorf("no job for type %q", msg.Type))
		return
	}

	start := r.now()
	err := job.Handle(ctx, msg.Payload)
	if err == nil {
		r.l.Debug("job done", logger.String("id", msg.ID), logger.String("type", msg.Type),
			logger.Duration("elapsed", r.now().Sub(start)))
		return
	}
	if errors.Is(err, context.Canceled) {
		// shutting down; the message is retried by the next consumer
		r.retry(context.Background(), msg, err)
		return
	}
	if IsPermanent(err) || msg.Attempts >= r.config.RetryLimit {
		r.deadLetter(ctx, msg, err)
		return
	}
	r.retry(ctx, msg, err)
}

func (r *RedisQueue) retry(ctx context.Context, msg Message, cause error) {
	msg.Attempts++
	msg.LastError = cause.Error()
	data, err := json.Marshal(msg)
	if err != nil {
		r.l.Error("marshal retry", logger.Error(err))
		return
	}
	due := r.now().Add(r.config.RetryDelay)
	if err := r.client.ZAdd(ctx, r.retryKey(), redis.Z{Score: float64(due.UnixMilli()), Member: data}).Err(); err != nil {
		r.l.Error("schedule retry failed", logger.String("id", msg.ID), logger.Error(err))
		return
	}
	r.l.Warn("job failed, retry scheduled",
		logger.String("id", msg.ID),
		logger.String("type", msg.Type),
		logger.Int("attempt", msg.Attempts),
		logger.Time("retry_at", due),
		logger.Error(cause))
}

func (r *RedisQueue) deadLetter(ctx context.Context, msg Message, cause error) {
	msg.LastError = cause.Error()
	data, err := json.Marshal(msg)
	if err != nil {
		r.l.Error("marshal dlq", logger.Error(err))
		return
	}
	if err := r.client.LPush(ctx, r.deadKey(), data).Err(); err != nil {
		r.l.Error("dead letter failed", logger.String("id", msg.ID), logger.Error(err))
		return
	}
	r.l.Error("job dead-lettered",
		logger.String("id", msg.ID),
		logger.String("type", msg.Type),
		logger.Int("attempts", msg.Attempts),
		logger.Error(cause))
}

func (r *RedisQueue) retryLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.RetryDelay / 2)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.promoteDue(r.ctx); err != nil && r.ctx.Err() == nil {
				r.l.Error("promote retries failed", logger.Error(err))
			}
		}
	}
}

// promoteDue moves retries whose time has come back onto the queue.
func (r *RedisQueue) promoteDue(ctx context.Context) (int, error) {
	due, err := r.client.ZRangeByScore(ctx, r.retryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(r.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("fetch retries: %w", err)
	}
	moved := 0
	for _, member := range due {
		n, err := r.client.Eval(ctx, promoteScript, []string{r.retryKey(), r.queueKey()}, member).Int()
		if err != nil {
			return moved, fmt.Errorf("promote retry: %w", err)
		}
		moved += n
	}
	return moved, nil
}

func (r *RedisQueue) queueKey() string { return r.prefix + ":messages" }
func (r *RedisQueue) retryKey() string { return r.prefix + ":retry" }
func (r *RedisQueue) deadKey() string  { return r.prefix + ":dlq" }

var _ Enqueuer = (*RedisQueue)(nil)
