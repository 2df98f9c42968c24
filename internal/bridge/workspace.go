package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ClawAgent/internal/correlator"
)

// WorkspaceExecutor 在进程内处理 filesystem.* 与 dailylog.append 请求，
// 其余能力返回失败结果，由外部执行方负责。
type WorkspaceExecutor struct {
	Root        string
	DailyLogDir string
	Now         func() time.Time
}

// Execute 实现 Executor 接口。
func (w *WorkspaceExecutor) Execute(_ context.Context, req correlator.Request) correlator.Result {
	data, err := w.execute(req)
	if err != nil {
		return correlator.Result{RequestID: req.RequestID, OK: false, Error: err.Error()}
	}
	return correlator.Result{RequestID: req.RequestID, OK: true, Data: data}
}

func (w *WorkspaceExecutor) execute(req correlator.Request) (any, error) {
	if req.IsTerminal() {
		return nil, fmt.Errorf("terminal commands are not handled by the workspace executor")
	}
	switch req.Capability + "." + req.Action {
	case "filesystem.read":
		path, err := w.resolve(req.Params)
		if err != nil {
			return nil, err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	case "filesystem.write":
		path, err := w.resolve(req.Params)
		if err != nil {
			return nil, err
		}
		content, _ := req.Params["content"].(string)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, err
		}
		return map[string]any{"written": len(content)}, nil
	case "filesystem.list":
		path, err := w.resolve(req.Params)
		if err != nil {
			return nil, err
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		return names, nil
	case "filesystem.delete":
		path, err := w.resolve(req.Params)
		if err != nil {
			return nil, err
		}
		if err := os.Remove(path); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": true}, nil
	case "dailylog.append":
		return w.appendDailyLog(req.Params)
	default:
		return nil, fmt.Errorf("capability %s.%s is not available in this workspace", req.Capability, req.Action)
	}
}

// resolve 把请求路径限定在工作目录之内。
func (w *WorkspaceExecutor) resolve(params map[string]any) (string, error) {
	raw, _ := params["path"].(string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("path is required")
	}
	root, err := filepath.Abs(w.Root)
	if err != nil {
		return "", err
	}
	target := filepath.Clean(filepath.Join(root, raw))
	if filepath.IsAbs(raw) {
		target = filepath.Clean(raw)
	}
	if !within(root, target) {
		return "", fmt.Errorf("path %s is outside the workspace", raw)
	}
	// 符号链接可能指向工作目录之外，按解析后的真实路径再判断一次。
	realRoot, err := evalExisting(root)
	if err != nil {
		return "", err
	}
	realTarget, err := evalExisting(target)
	if err != nil {
		return "", err
	}
	if !within(realRoot, realTarget) {
		return "", fmt.Errorf("path %s is outside the workspace", raw)
	}
	return target, nil
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// evalExisting 解析 path 中已存在部分的符号链接，不存在的尾部原样拼回。
func evalExisting(path string) (string, error) {
	var tail []string
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path, nil
		}
		tail = append(tail, filepath.Base(current))
		current = parent
	}
}

func (w *WorkspaceExecutor) appendDailyLog(params map[string]any) (any, error) {
	entry, _ := params["entry"].(string)
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil, fmt.Errorf("entry is required")
	}
	dir := w.DailyLogDir
	if dir == "" {
		dir = filepath.Join(w.Root, "dailylog")
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, ts.Format("2006-01-02")+".md")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if _, err := fmt.Fprintf(file, "- [%s] %s\n", ts.Format("15:04:05"), entry); err != nil {
		return nil, err
	}
	return map[string]any{"file": filepath.Base(path)}, nil
}

var _ Executor = (*WorkspaceExecutor)(nil)
