package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"ClawAgent/internal/correlator"
	xerrors "ClawAgent/internal/errors"
	"ClawAgent/pkg/logger"
)

// RabbitMQConfig 描述 RabbitMQ 通道的连接参数。
type RabbitMQConfig struct {
	URL          string
	RequestQueue string
	ResultQueue  string
	Durable      bool
}

// RabbitMQBridge 把请求写入请求队列，并从结果队列读取执行结果。
type RabbitMQBridge struct {
	conn         *amqp.Connection
	ch           *amqp.Channel
	requestQueue string
	resultQueue  string
}

// NewRabbitMQBridge 创建 RabbitMQ 通道实例。
func NewRabbitMQBridge(cfg RabbitMQConfig) (*RabbitMQBridge, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	requests := cfg.RequestQueue
	if requests == "" {
		requests = "claw.tool.requests"
	}
	results := cfg.ResultQueue
	if results == "" {
		results = "claw.tool.results"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	for _, queue := range []string{requests, results} {
		if _, err := ch.QueueDeclare(queue, cfg.Durable, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("声明 RabbitMQ 队列 %s 失败: %w", queue, err)
		}
	}
	return &RabbitMQBridge{conn: conn, ch: ch, requestQueue: requests, resultQueue: results}, nil
}

// Notify 将请求发布到请求队列。
func (b *RabbitMQBridge) Notify(ctx context.Context, req correlator.Request) error {
	if b == nil || b.ch == nil {
		return errors.New("RabbitMQ 通道未初始化")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeNotifyFailed, err, "序列化工具请求失败")
	}
	return b.ch.PublishWithContext(ctx, "", b.requestQueue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: req.RequestID,
		Body:          payload,
	})
}

// Run 消费结果队列并把结果交给 sink。
func (b *RabbitMQBridge) Run(ctx context.Context, sink ResultSink) error {
	if b == nil || b.ch == nil {
		return errors.New("RabbitMQ 通道未初始化")
	}
	msgs, err := b.ch.Consume(b.resultQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("订阅 RabbitMQ 结果队列失败: %w", err)
	}

	log := logger.Named("bridge")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			result, err := decodeResult(msg.Body)
			if err != nil {
				if msg.CorrelationId == "" {
					log.Warn("忽略无法解析的工具结果", slog.Any("error", err))
					_ = msg.Ack(false)
					continue
				}
				// 消息体缺少 requestId 时回退到 AMQP correlation id。
				var fallback correlator.Result
				if jsonErr := json.Unmarshal(msg.Body, &fallback); jsonErr != nil {
					log.Warn("忽略无法解析的工具结果", slog.Any("error", jsonErr))
					_ = msg.Ack(false)
					continue
				}
				fallback.RequestID = msg.CorrelationId
				result = fallback
			}
			sink.Complete(result)
			_ = msg.Ack(false)
		}
	}
}

// Close 关闭 RabbitMQ 连接。
func (b *RabbitMQBridge) Close() error {
	if b == nil {
		return nil
	}
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

var _ Bridge = (*RabbitMQBridge)(nil)
