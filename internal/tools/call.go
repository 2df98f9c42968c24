package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolCall 是解析结果的封闭联合类型：*TerminalCall、*AgentCall 或 *InvalidCall。
type ToolCall interface {
	toolName() string
}

// TerminalCall 请求执行一条外部命令。
type TerminalCall struct {
	Command string
	Args    []string
	Cwd     string
}

// AgentCall 请求经由关联通道执行的能力动作。
type AgentCall struct {
	Tool        string
	Capability  string
	Action      string
	Params      map[string]any
	Destructive bool
}

// InvalidCall 表示格式错误或校验失败的调用，永远不会被分发。
type InvalidCall struct {
	Tool  string
	Error string
}

func (*TerminalCall) toolName() string  { return TerminalTool }
func (c *AgentCall) toolName() string   { return c.Tool }
func (c *InvalidCall) toolName() string { return c.Tool }

// Name 返回调用对应的工具名称，未知时为空。
func Name(call ToolCall) string {
	if call == nil {
		return ""
	}
	return call.toolName()
}

// Parse 从模型输出中提取至多一个工具调用。
// 返回 nil 表示文本是最终回答而非工具调用。
func (c *Catalog) Parse(text string) ToolCall {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil
	}
	name, ok := raw["tool"].(string)
	if !ok {
		return nil
	}
	params := extractParams(raw)

	if name == TerminalTool {
		return parseTerminal(params)
	}

	def, found := c.Lookup(name)
	if !found {
		return &InvalidCall{Tool: name, Error: "Unknown tool: " + name}
	}

	var missing []string
	for _, key := range def.Required {
		if isMissing(params, key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &InvalidCall{Tool: name, Error: "Missing params: " + strings.Join(missing, ", ")}
	}

	if def.Validate != nil {
		if err := def.Validate(params); err != nil {
			return &InvalidCall{Tool: name, Error: err.Error()}
		}
	}

	return &AgentCall{
		Tool:        name,
		Capability:  def.Capability,
		Action:      def.Action,
		Params:      params,
		Destructive: def.Destructive,
	}
}

// extractParams 优先使用 params 对象，否则取除 tool/params 之外的顶层字段。
func extractParams(raw map[string]any) map[string]any {
	if nested, ok := raw["params"].(map[string]any); ok {
		return nested
	}
	params := make(map[string]any, len(raw))
	for key, value := range raw {
		if key == "tool" || key == "params" {
			continue
		}
		params[key] = value
	}
	return params
}

func isMissing(params map[string]any, key string) bool {
	value, ok := params[key]
	if !ok || value == nil {
		return true
	}
	if s, isString := value.(string); isString && strings.TrimSpace(s) == "" {
		return true
	}
	return false
}

func parseTerminal(params map[string]any) ToolCall {
	command, _ := params["command"].(string)
	command = strings.TrimSpace(command)
	if command == "" {
		return &InvalidCall{Tool: TerminalTool, Error: "terminalExec requires a non-empty command"}
	}

	args := []string{}
	switch raw := params["args"].(type) {
	case []any:
		for _, item := range raw {
			if s, ok := item.(string); ok {
				args = append(args, s)
			} else {
				args = append(args, fmt.Sprint(item))
			}
		}
	case string:
		if raw != "" {
			args = append(args, raw)
		}
	}

	cwd, _ := params["cwd"].(string)
	return &TerminalCall{Command: command, Args: args, Cwd: strings.TrimSpace(cwd)}
}
