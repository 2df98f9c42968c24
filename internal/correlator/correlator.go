// Package correlator 将异步的工具执行请求与其结果按请求 ID 配对。
package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "ClawAgent/internal/errors"
	"ClawAgent/pkg/logger"
)

// DefaultTimeout 是未指定超时时的等待时长。
const DefaultTimeout = 30 * time.Second

// Request 是发往外部执行方的单向通知。
// 能力调用使用 Capability/Action/Params/Destructive，终端调用使用 Command/Args/Cwd。
type Request struct {
	RequestID   string         `json:"requestId"`
	Capability  string         `json:"capability,omitempty"`
	Action      string         `json:"action,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	Destructive bool           `json:"destructive,omitempty"`
	Command     string         `json:"command,omitempty"`
	Args        []string       `json:"args,omitempty"`
	Cwd         string         `json:"cwd,omitempty"`
}

// IsTerminal 表示该请求是否为终端命令。
func (r Request) IsTerminal() bool { return r.Command != "" }

// terminalRequest 是终端通知的线上格式，args 与 cwd 总是出现。
type terminalRequest struct {
	RequestID string   `json:"requestId"`
	Command   string   `json:"command"`
	Args      []string `json:"args"`
	Cwd       string   `json:"cwd"`
}

// MarshalJSON 让终端请求按 {requestId, command, args, cwd} 输出。
func (r Request) MarshalJSON() ([]byte, error) {
	if r.IsTerminal() {
		args := r.Args
		if args == nil {
			args = []string{}
		}
		return json.Marshal(terminalRequest{RequestID: r.RequestID, Command: r.Command, Args: args, Cwd: r.Cwd})
	}
	type plain Request
	return json.Marshal(plain(r))
}

// Result 是外部执行方回传的结果。
type Result struct {
	RequestID string `json:"requestId"`
	OK        bool   `json:"ok"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Notifier 负责把请求投递给外部执行方，不等待回应。
type Notifier interface {
	Notify(ctx context.Context, req Request) error
}

// NotifierFunc 允许以函数形式实现 Notifier。
type NotifierFunc func(ctx context.Context, req Request) error

// Notify 实现 Notifier 接口。
func (f NotifierFunc) Notify(ctx context.Context, req Request) error { return f(ctx, req) }

// Option 自定义 Correlator 行为。
type Option func(*Correlator)

// WithDefaultTimeout 设置 Request/Dispatch 未指定超时时使用的时长。
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(c *Correlator) {
		if timeout > 0 {
			c.defaultTimeout = timeout
		}
	}
}

// WithIDGenerator 替换请求 ID 生成函数。
func WithIDGenerator(fn func() string) Option {
	return func(c *Correlator) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// WithTimeoutHook 注册请求超时时的回调，常用于指标统计。
func WithTimeoutHook(fn func(Request)) Option {
	return func(c *Correlator) {
		c.onTimeout = fn
	}
}

// Correlator 维护待完成的请求表。
type Correlator struct {
	notifier       Notifier
	defaultTimeout time.Duration
	newID          func() string
	onTimeout      func(Request)

	mu      sync.Mutex
	pending map[string]*Future
}

// New 创建关联器。
func New(notifier Notifier, opts ...Option) *Correlator {
	c := &Correlator{
		notifier:       notifier,
		defaultTimeout: DefaultTimeout,
		newID:          uuid.NewString,
		pending:        make(map[string]*Future),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Future 表示尚未完成的请求。
type Future struct {
	id      string
	request Request
	owner   *Correlator
	timer   *time.Timer
	done    chan struct{}
	result  Result
	err     error
}

// ID 返回请求 ID。
func (f *Future) ID() string { return f.id }

// Done 在请求完成、超时或被放弃后关闭。
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait 阻塞直到结果到达、超时或 ctx 结束。ctx 结束时该请求被放弃。
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		err := xerrors.Wrap(xerrors.CodeCancelled, ctx.Err(), "等待工具结果被中断")
		if f.owner.settle(f.id, Result{}, err) {
			return Result{}, err
		}
		<-f.done
		return f.result, f.err
	}
}

// Dispatch 登记请求并发出通知，返回可等待的 Future。
func (c *Correlator) Dispatch(ctx context.Context, req Request, timeout time.Duration) (*Future, error) {
	if c.notifier == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置工具通知通道")
	}
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	id := strings.TrimSpace(req.RequestID)
	if id == "" {
		id = c.newID()
	}
	req.RequestID = id

	f := &Future{id: id, request: req, owner: c, done: make(chan struct{})}

	c.mu.Lock()
	if _, exists := c.pending[id]; exists {
		c.mu.Unlock()
		return nil, xerrors.New(xerrors.CodeCorrelationConflict,
			fmt.Sprintf("请求 %s 仍在等待结果", id), xerrors.WithMetadata("request_id", id))
	}
	c.pending[id] = f
	f.timer = time.AfterFunc(timeout, func() { c.expire(f, timeout) })
	c.mu.Unlock()

	if err := c.notifier.Notify(ctx, req); err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeNotifyFailed, err, "投递工具请求失败",
			xerrors.WithMetadata("request_id", id))
		c.settle(id, Result{}, wrapped)
		return nil, wrapped
	}
	return f, nil
}

// Request 发出请求并等待结果。
func (c *Correlator) Request(ctx context.Context, req Request, timeout time.Duration) (Result, error) {
	f, err := c.Dispatch(ctx, req, timeout)
	if err != nil {
		return Result{}, err
	}
	return f.Wait(ctx)
}

// Complete 用外部结果完成匹配的请求。未知或已完成的 ID 静默忽略并返回 false。
func (c *Correlator) Complete(result Result) bool {
	id := strings.TrimSpace(result.RequestID)
	if id == "" {
		return false
	}
	result.RequestID = id
	if !c.settle(id, result, nil) {
		logger.L().Debug("忽略未匹配的工具结果", slog.String("request_id", id))
		return false
	}
	return true
}

// Pending 返回仍在等待的请求数量。
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close 以取消错误结束所有等待中的请求。
func (c *Correlator) Close() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.settle(id, Result{}, xerrors.New(xerrors.CodeCancelled, "关联器已关闭"))
	}
}

func (c *Correlator) expire(f *Future, timeout time.Duration) {
	err := xerrors.New(xerrors.CodeCorrelationTimeout,
		fmt.Sprintf("工具请求 %s 在 %s 内未返回结果", f.id, timeout),
		xerrors.WithMetadata("request_id", f.id))
	if c.settle(f.id, Result{}, err) {
		logger.L().Warn("工具请求超时", slog.String("request_id", f.id), slog.Duration("timeout", timeout))
		if c.onTimeout != nil {
			c.onTimeout(f.request)
		}
	}
}

// settle 在锁内移除条目后再通知等待方，保证每个请求只有一个结局。
func (c *Correlator) settle(id string, result Result, err error) bool {
	c.mu.Lock()
	f, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}

	if f.timer != nil {
		f.timer.Stop()
	}
	f.result = result
	f.err = err
	close(f.done)
	return true
}
