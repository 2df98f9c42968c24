package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	xerrors "ClawAgent/internal/errors"
)

// ErrorKind 描述模型调用失败的类别。
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindTransient
	ErrorKindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindTransient:
		return "transient"
	case ErrorKindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// StatusError 携带模型服务返回的 HTTP 状态码。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("模型服务返回错误状态 %d", e.StatusCode)
	}
	return fmt.Sprintf("模型服务返回错误状态 %d: %s", e.StatusCode, e.Body)
}

var transientMarkers = []string{
	"timeout",
	"timed out",
	"503",
	"502",
	"504",
	"overloaded",
	"connection reset",
	"temporarily unavailable",
}

var fatalMarkers = []string{
	"process terminated",
	"signal: killed",
	"closed",
}

// Classify 判断错误是否值得重试。结构化信号优先，其次才匹配错误文本。
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}

	switch {
	case xerrors.HasCode(err, xerrors.CodeModelTransient), xerrors.HasCode(err, xerrors.CodeCorrelationTimeout):
		return ErrorKindTransient
	case xerrors.HasCode(err, xerrors.CodeModelFatal), xerrors.HasCode(err, xerrors.CodeCancelled):
		return ErrorKindFatal
	}

	if errors.Is(err, context.Canceled) {
		return ErrorKindFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTransient
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch code := statusErr.StatusCode; {
		case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
			return ErrorKindTransient
		case code >= 400:
			return ErrorKindFatal
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTransient
	}

	message := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(message, marker) {
			return ErrorKindTransient
		}
	}
	for _, marker := range fatalMarkers {
		if strings.Contains(message, marker) {
			return ErrorKindFatal
		}
	}
	return ErrorKindUnknown
}

// IsTransient 是 Classify 的便捷封装。
func IsTransient(err error) bool {
	return Classify(err) == ErrorKindTransient
}
