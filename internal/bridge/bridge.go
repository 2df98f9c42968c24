// Package bridge 把关联器的工具请求投递给外部执行方，并把执行结果送回关联器。
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ClawAgent/internal/correlator"
)

// ResultSink 接收外部执行结果，*correlator.Correlator 实现了该接口。
type ResultSink interface {
	Complete(result correlator.Result) bool
}

// Bridge 是一条双向的工具执行通道。
type Bridge interface {
	correlator.Notifier
	// Run 持续接收结果并交给 sink，直到 ctx 结束或通道关闭。
	Run(ctx context.Context, sink ResultSink) error
	Close() error
}

// Executor 在进程内执行工具请求。
type Executor interface {
	Execute(ctx context.Context, req correlator.Request) correlator.Result
}

// ExecutorFunc 允许以函数形式实现 Executor。
type ExecutorFunc func(ctx context.Context, req correlator.Request) correlator.Result

// Execute 实现 Executor 接口。
func (f ExecutorFunc) Execute(ctx context.Context, req correlator.Request) correlator.Result {
	return f(ctx, req)
}

var errMissingRequestID = errors.New("结果缺少 requestId")

func decodeResult(payload []byte) (correlator.Result, error) {
	var result correlator.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return correlator.Result{}, fmt.Errorf("解析工具结果失败: %w", err)
	}
	result.RequestID = strings.TrimSpace(result.RequestID)
	if result.RequestID == "" {
		return correlator.Result{}, errMissingRequestID
	}
	return result, nil
}
