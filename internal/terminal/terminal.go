// Package terminal 提供执行外部命令的能力，支持本地执行和经由关联通道转发。
package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"ClawAgent/internal/correlator"
	xerrors "ClawAgent/internal/errors"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultOutputLimit = 64 * 1024
)

// Command 描述一次命令执行请求。
type Command struct {
	Name string
	Args []string
	Dir  string
}

// Result 是命令执行结果。非零退出码仍属于正常结果。
type Result struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Runner 执行命令。
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// LocalRunner 通过 os/exec 在本机执行命令。
type LocalRunner struct {
	Timeout     time.Duration
	OutputLimit int
	Shell       string
}

// NewLocalRunner 创建本地执行器，零值参数使用默认值。
func NewLocalRunner(timeout time.Duration, outputLimit int) *LocalRunner {
	return &LocalRunner{Timeout: timeout, OutputLimit: outputLimit, Shell: "sh"}
}

// Run 实现 Runner 接口。没有参数且命令中含有 shell 语法时交给 shell 解释。
func (r *LocalRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Result{}, xerrors.New(xerrors.CodeInvalidArgument, "命令不能为空")
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := r.OutputLimit
	if limit <= 0 {
		limit = defaultOutputLimit
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var command *exec.Cmd
	if len(cmd.Args) == 0 && needsShell(name) {
		shell := r.Shell
		if shell == "" {
			shell = "sh"
		}
		command = exec.CommandContext(runCtx, shell, "-c", name)
	} else {
		command = exec.CommandContext(runCtx, name, cmd.Args...)
	}
	if cmd.Dir != "" {
		command.Dir = cmd.Dir
	}

	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}
	command.Stdout = stdout
	command.Stderr = stderr

	err := command.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}

	if ctxErr := runCtx.Err(); ctxErr != nil {
		result.ExitCode = -1
		if errors.Is(ctxErr, context.DeadlineExceeded) && ctx.Err() == nil {
			return result, xerrors.Wrap(xerrors.CodeTimeout, ctxErr, fmt.Sprintf("命令执行超过 %s", timeout))
		}
		return result, xerrors.Wrap(xerrors.CodeCancelled, ctxErr, "命令执行被中断")
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return result, xerrors.Wrap(xerrors.CodeCommandFailed, err, "启动命令失败")
}

func needsShell(command string) bool {
	return strings.ContainsAny(command, " \t|&;<>$`*")
}

type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}

// CorrelatedRunner 把命令转发给外部执行方，并等待关联结果。
type CorrelatedRunner struct {
	correlator *correlator.Correlator
	timeout    time.Duration
}

// NewCorrelatedRunner 创建转发执行器，timeout 为 0 时使用关联器默认值。
func NewCorrelatedRunner(c *correlator.Correlator, timeout time.Duration) *CorrelatedRunner {
	return &CorrelatedRunner{correlator: c, timeout: timeout}
}

// Run 实现 Runner 接口。
func (r *CorrelatedRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if r.correlator == nil {
		return Result{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置关联器")
	}
	args := cmd.Args
	if args == nil {
		args = []string{}
	}
	res, err := r.correlator.Request(ctx, correlator.Request{
		Command: cmd.Name,
		Args:    args,
		Cwd:     cmd.Dir,
	}, r.timeout)
	if err != nil {
		return Result{}, err
	}
	if !res.OK {
		msg := res.Error
		if msg == "" {
			msg = "外部执行方返回失败"
		}
		return Result{}, xerrors.New(xerrors.CodeCommandFailed, msg)
	}
	return decodeResult(res.Data)
}

func decodeResult(data any) (Result, error) {
	if data == nil {
		return Result{}, nil
	}
	if text, ok := data.(string); ok {
		return Result{Stdout: text}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Result{}, xerrors.Wrap(xerrors.CodeCommandFailed, err, "无法解析命令结果")
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, xerrors.Wrap(xerrors.CodeCommandFailed, err, "无法解析命令结果")
	}
	return result, nil
}

var (
	_ Runner = (*LocalRunner)(nil)
	_ Runner = (*CorrelatedRunner)(nil)
)
