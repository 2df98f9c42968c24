package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	xerrors "ClawAgent/internal/errors"
	"ClawAgent/internal/llm"
)

// Client 通过调用 Python 脚本实现大模型推理。
//
// 脚本从标准输入读取 {"messages": [...], "timestamp": n}，
// 并向标准输出写入 {"content": "..."} 或 {"error": "...", "retryable": bool}。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

// Invoke 把消息序列写入脚本标准输入，读取标准输出中的回复。
func (c *Client) Invoke(ctx context.Context, messages []llm.Message) (string, error) {
	encoded, err := json.Marshal(request{Messages: messages, Timestamp: time.Now().Unix()})
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化请求失败")
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	command.Dir = c.workingDir
	command.Stdin = bytes.NewReader(encoded)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", xerrors.Wrap(xerrors.CodeModelFatal, err, "Python 脚本进程异常退出",
			xerrors.WithMetadata("stderr", truncate(strings.TrimSpace(stderr.String()), 512)))
	}

	var resp response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", xerrors.Wrap(xerrors.CodeModelFatal, err, "解析 Python 输出失败")
	}
	if resp.Error != "" {
		code := xerrors.CodeModelFatal
		if resp.Retryable {
			code = xerrors.CodeModelTransient
		}
		return "", xerrors.New(code, fmt.Sprintf("Python 脚本返回错误: %s", resp.Error))
	}
	if resp.Content == "" {
		return resp.Reply, nil
	}
	return resp.Content, nil
}

type request struct {
	Messages  []llm.Message `json:"messages"`
	Timestamp int64         `json:"timestamp"`
}

// response 兼容 content 与 reply 两种字段名；retryable 为 true 的错误按瞬时错误处理。
type response struct {
	Content   string `json:"content"`
	Reply     string `json:"reply"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}

var _ llm.Client = (*Client)(nil)
