package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"

	"ClawAgent/pkg/logger"
)

// ProcessConfig 描述以子进程方式启动的 sidecar。
type ProcessConfig struct {
	Command string
	Args    []string
	Dir     string
}

type processCloser struct {
	cmd   *exec.Cmd
	stdin io.Closer
}

func (p *processCloser) Close() error {
	err := p.stdin.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	if waitErr := p.cmd.Wait(); waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			err = errors.Join(err, waitErr)
		}
	}
	return err
}

// StartProcess 启动 sidecar 进程，并通过其 stdin/stdout 建立 StdioBridge。
func StartProcess(ctx context.Context, cfg ProcessConfig) (*StdioBridge, error) {
	if cfg.Command == "" {
		return nil, errors.New("sidecar 命令不能为空")
	}
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("创建 sidecar stdin 失败: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("创建 sidecar stdout 失败: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("创建 sidecar stderr 失败: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("启动 sidecar 失败: %w", err)
	}

	log := logger.Named("sidecar")
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Debug(scanner.Text())
		}
	}()
	log.Info("sidecar 已启动", slog.String("command", cfg.Command), slog.Int("pid", cmd.Process.Pid))

	return NewStdioBridge(stdin, stdout, &processCloser{cmd: cmd, stdin: stdin}), nil
}
