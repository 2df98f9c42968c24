package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"ClawAgent/internal/correlator"
	xerrors "ClawAgent/internal/errors"
	"ClawAgent/pkg/logger"
)

const (
	jsonRPCVersion   = "2.0"
	methodExecute    = "tool.execute"
	methodToolResult = "tool.result"
	maxLineBytes     = 4 * 1024 * 1024
)

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// StdioBridge 通过按行分隔的 JSON-RPC 2.0 消息与 sidecar 进程通信。
// 请求以 tool.execute 通知写出；结果可以是 tool.result 通知，也可以是带 result 的响应。
type StdioBridge struct {
	mu     sync.Mutex
	writer io.Writer
	reader io.Reader
	closer io.Closer
}

// NewStdioBridge 创建 stdio 通道。closer 可以为 nil。
func NewStdioBridge(w io.Writer, r io.Reader, closer io.Closer) *StdioBridge {
	return &StdioBridge{writer: w, reader: r, closer: closer}
}

// Notify 写出一条 tool.execute 通知。
func (b *StdioBridge) Notify(_ context.Context, req correlator.Request) error {
	params, err := json.Marshal(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeNotifyFailed, err, "序列化工具请求失败")
	}
	line, err := json.Marshal(rpcEnvelope{JSONRPC: jsonRPCVersion, Method: methodExecute, Params: params})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeNotifyFailed, err, "序列化 JSON-RPC 消息失败")
	}
	line = append(line, '\n')

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.writer.Write(line); err != nil {
		return fmt.Errorf("写入 sidecar 失败: %w", err)
	}
	return nil
}

// Run 逐行读取 sidecar 输出。格式错误的行记录日志后跳过，读到 EOF 时返回 nil。
func (b *StdioBridge) Run(ctx context.Context, sink ResultSink) error {
	log := logger.Named("bridge")
	lines := make(chan []byte)
	errCh := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(b.reader)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			result, ok, err := parseRPCLine(line)
			if err != nil {
				log.Warn("忽略无法解析的 sidecar 消息", slog.Any("error", err))
				continue
			}
			if ok {
				sink.Complete(result)
			}
		}
	}
}

// parseRPCLine 解析一行 JSON-RPC 消息。ok 为 false 表示消息与工具结果无关。
func parseRPCLine(line []byte) (correlator.Result, bool, error) {
	var env rpcEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return correlator.Result{}, false, fmt.Errorf("无效的 JSON: %w", err)
	}
	if env.JSONRPC != jsonRPCVersion {
		return correlator.Result{}, false, fmt.Errorf("不支持的 jsonrpc 版本 %q", env.JSONRPC)
	}

	switch {
	case env.Method == methodToolResult:
		result, err := decodeResult(env.Params)
		return result, err == nil, err
	case env.Method != "":
		return correlator.Result{}, false, nil
	case env.Result != nil:
		result, err := decodeResult(env.Result)
		return result, err == nil, err
	case env.Error != nil:
		var id string
		if err := json.Unmarshal(env.ID, &id); err != nil || id == "" {
			return correlator.Result{}, false, fmt.Errorf("错误响应缺少字符串 id")
		}
		return correlator.Result{RequestID: id, OK: false, Error: env.Error.Message}, true, nil
	}
	return correlator.Result{}, false, fmt.Errorf("无法识别的 JSON-RPC 消息")
}

// Close 关闭底层进程管道。
func (b *StdioBridge) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

var _ Bridge = (*StdioBridge)(nil)
