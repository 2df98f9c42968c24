package errors

import (
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
	CodeCancelled             Code = "CANCELLED"

	// 模型调用
	CodeModelUnavailable Code = "MODEL_UNAVAILABLE"
	CodeModelTransient   Code = "MODEL_TRANSIENT"
	CodeModelFatal       Code = "MODEL_FATAL"

	// 工具执行通道
	CodeCorrelationTimeout  Code = "CORRELATION_TIMEOUT"
	CodeCorrelationConflict Code = "CORRELATION_CONFLICT"
	CodeNotifyFailed        Code = "NOTIFY_FAILED"
	CodeCommandFailed       Code = "COMMAND_FAILED"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               {"unknown error", SeverityCritical, false, true},
		CodeInvalidArgument:       {"invalid argument", SeverityInfo, false, false},
		CodeNotFound:              {"resource not found", SeverityInfo, false, false},
		CodeConflict:              {"resource conflict", SeverityWarning, false, false},
		CodeInitializationFailure: {"service not initialized", SeverityWarning, true, true},
		CodeStorageFailure:        {"storage failure", SeverityCritical, true, true},
		CodeQueueFailure:          {"queue failure", SeverityCritical, true, true},
		CodeTimeout:               {"operation timed out", SeverityWarning, true, true},
		CodeCancelled:             {"operation cancelled", SeverityInfo, false, false},
		CodeModelUnavailable:      {"model not configured", SeverityInfo, false, false},
		CodeModelTransient:        {"model temporarily unavailable", SeverityWarning, true, false},
		CodeModelFatal:            {"model invocation failed", SeverityCritical, false, true},
		CodeCorrelationTimeout:    {"tool result not received in time", SeverityWarning, true, false},
		CodeCorrelationConflict:   {"request id already pending", SeverityWarning, false, false},
		CodeNotifyFailed:          {"failed to notify tool executor", SeverityCritical, true, true},
		CodeCommandFailed:         {"command execution failed", SeverityWarning, false, false},
	}
)

// Register 允许业务模块在 init 阶段注册新的错误码描述，重复注册会覆盖旧值。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性，未注册的错误码按 UNKNOWN 处理。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
	severity  *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息，会出现在结构化日志中。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRetryable 覆盖错误码默认的可重试属性。
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.retryable = &retryable }
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) { e.severity = &sev }
}

// New 创建一个新的错误实例，message 为空时使用错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口，格式为 "[CODE] message: cause"。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 让 errors.Is 按错误码比较两个 *Error。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不含错误码与原因的描述。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// LogValue 实现 slog.LogValuer，slog.Any("error", err) 会输出结构化字段。
func (e *Error) LogValue() slog.Value {
	if e == nil {
		return slog.Value{}
	}
	attrs := []slog.Attr{
		slog.String("code", string(e.code)),
		slog.String("message", e.message),
		slog.String("severity", string(e.Severity())),
		slog.Bool("retryable", e.Retryable()),
	}
	if AttributesOf(e.code).Alert {
		attrs = append(attrs, slog.Bool("alert", true))
	}
	if e.cause != nil {
		attrs = append(attrs, slog.String("cause", e.cause.Error()))
	}
	keys := make([]string, 0, len(e.metadata))
	for k := range e.metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, e.metadata[k]))
	}
	return slog.GroupValue(attrs...)
}

// From 从错误链中取出最外层的 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	if err != nil && stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	e, ok := From(err)
	return ok && e.Retryable()
}

// HasCode 判断错误链中任意一层是否带有指定错误码。
func HasCode(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.code == code {
			return true
		}
		err = stdErrors.Unwrap(err)
	}
	return false
}
