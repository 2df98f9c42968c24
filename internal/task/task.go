package task

import xerrors "ClawAgent/internal/errors"

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal 表示状态不会再发生变化。
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// ExecutionResult 保存一次编排运行的结果。
type ExecutionResult struct {
	FinalResult   string   `json:"final_result"`
	Plan          []string `json:"plan,omitempty"`
	StepResults   []string `json:"step_results,omitempty"`
	StepsExecuted int      `json:"steps_executed"`
	NodeVisits    int      `json:"node_visits"`
	Cancelled     bool     `json:"cancelled,omitempty"`
}

// Task 描述了排队执行的编排任务。
type Task struct {
	ID             string            `json:"id"`
	Goal           string            `json:"task"`
	Context        map[string]string `json:"context,omitempty"`
	BrowserContext map[string]any    `json:"browser_context,omitempty"`
	Status         Status            `json:"status"`
	Attempts       int               `json:"attempts"`
	MaxRetries     int               `json:"max_retries"`
	LastError      string            `json:"last_error,omitempty"`
	ErrorCode      string            `json:"error_code,omitempty"`
	Result         *ExecutionResult  `json:"result,omitempty"`
	CreatedAt      int64             `json:"created_at"`
	UpdatedAt      int64             `json:"updated_at"`
}

// SubmitRequest 是提交任务时携带的参数。
type SubmitRequest struct {
	ID             string            `json:"id,omitempty"`
	Task           string            `json:"task"`
	Context        map[string]string `json:"context,omitempty"`
	BrowserContext map[string]any    `json:"browser_context,omitempty"`
}

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrTaskCompleted 表示任务已经结束。
	ErrTaskCompleted = xerrors.New(CodeTaskCompleted, "task already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrTaskExhausted 表示任务的重试次数已经耗尽。
	ErrTaskExhausted = xerrors.New(CodeTaskExhausted, "task retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
	// ErrTaskCancelled 表示任务已被取消。
	ErrTaskCancelled = xerrors.New(CodeTaskCancelled, "task cancelled", xerrors.WithSeverity(xerrors.SeverityInfo))
)

const (
	CodeTaskNotFound    xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict    xerrors.Code = "TASK_CONFLICT"
	CodeTaskCompleted   xerrors.Code = "TASK_COMPLETED"
	CodeTaskExhausted   xerrors.Code = "TASK_RETRIES_EXHAUSTED"
	CodeTaskCancelled   xerrors.Code = "TASK_CANCELLED"
	CodeTaskValidation  xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeTaskPublish     xerrors.Code = "TASK_PUBLISH_FAILED"
	CodeTaskProcessing  xerrors.Code = "TASK_PROCESSING_FAILED"
	CodeTaskInterrupted xerrors.Code = "TASK_INTERRUPTED"
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:  "task not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:  "task conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTaskCompleted, xerrors.Attributes{
		Message:  "task already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskExhausted, xerrors.Attributes{
		Message:  "task retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeTaskCancelled, xerrors.Attributes{
		Message:  "task cancelled",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{
		Message:  "task validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskPublish, xerrors.Attributes{
		Message:   "failed to publish task",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeTaskProcessing, xerrors.Attributes{
		Message:   "task execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeTaskInterrupted, xerrors.Attributes{
		Message:   "task interrupted by shutdown",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// IsTaskError 判断错误是否为指定的任务错误。
func IsTaskError(err error, target xerrors.Code) bool {
	return xerrors.HasCode(err, target)
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func cloneContext(values map[string]string) map[string]string {
	if values == nil {
		return nil
	}
	cloned := make(map[string]string, len(values))
	for key, value := range values {
		cloned[key] = value
	}
	return cloned
}

func cloneBrowserContext(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	cloned := make(map[string]any, len(values))
	for key, value := range values {
		cloned[key] = value
	}
	return cloned
}

func cloneResult(result *ExecutionResult) *ExecutionResult {
	if result == nil {
		return nil
	}
	clone := *result
	clone.Plan = append([]string(nil), result.Plan...)
	clone.StepResults = append([]string(nil), result.StepResults...)
	return &clone
}

func cloneTask(task *Task) *Task {
	clone := *task
	clone.Result = cloneResult(task.Result)
	clone.Context = cloneContext(task.Context)
	clone.BrowserContext = cloneBrowserContext(task.BrowserContext)
	return &clone
}
