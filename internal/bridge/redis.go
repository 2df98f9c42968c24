package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"ClawAgent/internal/correlator"
	xerrors "ClawAgent/internal/errors"
	"ClawAgent/pkg/logger"
)

const (
	defaultRedisRequestChannel = "claw:tool:requests"
	defaultRedisResultChannel  = "claw:tool:results"
)

// RedisConfig 描述 Redis 发布订阅通道的连接参数。
type RedisConfig struct {
	Address        string
	Password       string
	DB             int
	RequestChannel string
	ResultChannel  string
}

// RedisBridge 通过 Redis Pub/Sub 与外部执行方交换请求与结果。
type RedisBridge struct {
	client         *redis.Client
	requestChannel string
	resultChannel  string
}

// NewRedisBridge 创建 Redis 通道实例。
func NewRedisBridge(cfg RedisConfig) (*RedisBridge, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	requests := cfg.RequestChannel
	if requests == "" {
		requests = defaultRedisRequestChannel
	}
	results := cfg.ResultChannel
	if results == "" {
		results = defaultRedisResultChannel
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisBridge{client: client, requestChannel: requests, resultChannel: results}, nil
}

// RequestChannel 返回请求频道名称。
func (b *RedisBridge) RequestChannel() string { return b.requestChannel }

// ResultChannel 返回结果频道名称。
func (b *RedisBridge) ResultChannel() string { return b.resultChannel }

// Notify 将请求以 JSON 发布到请求频道。
func (b *RedisBridge) Notify(ctx context.Context, req correlator.Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeNotifyFailed, err, "序列化工具请求失败")
	}
	if err := b.client.Publish(ctx, b.requestChannel, payload).Err(); err != nil {
		return fmt.Errorf("Redis 发布工具请求失败: %w", err)
	}
	return nil
}

// Run 订阅结果频道并把结果交给 sink。
func (b *RedisBridge) Run(ctx context.Context, sink ResultSink) error {
	sub := b.client.Subscribe(ctx, b.resultChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("订阅 Redis 结果频道失败: %w", err)
	}

	log := logger.Named("bridge")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			result, err := decodeResult([]byte(msg.Payload))
			if err != nil {
				log.Warn("忽略无法解析的工具结果", slog.String("channel", msg.Channel), slog.Any("error", err))
				continue
			}
			sink.Complete(result)
		}
	}
}

// Close 关闭 Redis 连接。
func (b *RedisBridge) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

var _ Bridge = (*RedisBridge)(nil)
