package task

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "ClawAgent/internal/errors"
	"ClawAgent/pkg/logger"
)

// DefaultRedisQueue 是任务 ID 所在的 Redis list。
const DefaultRedisQueue = "claw:tasks"

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现任务队列：LPUSH 入队，BRPOP 出队。
type RedisQueue struct {
	client *redis.Client
	queue  string
	wait   time.Duration
}

// NewRedisQueue 创建 Redis 队列实例。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败")
	}
	return newRedisQueue(client, cfg), nil
}

func newRedisQueue(client *redis.Client, cfg RedisQueueConfig) *RedisQueue {
	queue := cfg.Queue
	if queue == "" {
		queue = DefaultRedisQueue
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, queue: queue, wait: wait}
}

// Publish 将任务投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, taskID string) error {
	if err := q.client.LPush(ctx, q.queue, taskID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布任务失败")
	}
	return nil
}

// Consume 通过 BRPOP 取任务，处理失败的任务被放回队尾等待重试。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	log := logger.Named("task.queue")
	return runWorkers(ctx, workerCount, func(ctx context.Context) error {
		for ctx.Err() == nil {
			values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
			switch {
			case errors.Is(err, redis.Nil):
				continue
			case err != nil && (ctx.Err() != nil || errors.Is(err, redis.ErrClosed)):
				return err
			case err != nil:
				return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取任务失败")
			case len(values) != 2:
				continue
			}
			if !dispatch(ctx, log, handler, values[1], "处理任务失败，重新入队") {
				_ = q.client.RPush(ctx, q.queue, values[1]).Err()
			}
		}
		return ctx.Err()
	})
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
