package tools

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "ClawAgent/internal/errors"
)

// TerminalTool 是执行终端命令的伪工具名称，不在目录中声明。
const TerminalTool = "terminalExec"

// Definition 描述目录中的一个工具。
type Definition struct {
	Name        string   `yaml:"name" json:"name"`
	Capability  string   `yaml:"capability" json:"capability"`
	Action      string   `yaml:"action" json:"action"`
	Description string   `yaml:"description" json:"description"`
	Required    []string `yaml:"required" json:"required,omitempty"`
	Optional    []string `yaml:"optional" json:"optional,omitempty"`
	Destructive bool     `yaml:"destructive" json:"destructive"`

	// Validate 在必填参数齐全后执行，返回的错误信息会原样反馈给模型。
	Validate func(params map[string]any) error `yaml:"-" json:"-"`
}

// Catalog 是按声明顺序排列的只读工具表。
type Catalog struct {
	defs  []Definition
	index map[string]int
}

// NewCatalog 使用给定定义构建目录，名称重复时返回错误。
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{index: make(map[string]int, len(defs))}
	if err := c.add(defs); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) add(defs []Definition) error {
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "工具名称不能为空")
		}
		if name == TerminalTool {
			return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("工具名称 %s 为保留名称", name))
		}
		if _, exists := c.index[name]; exists {
			return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("工具 %s 重复定义", name))
		}
		def.Name = name
		def.Required = append([]string(nil), def.Required...)
		def.Optional = append([]string(nil), def.Optional...)
		c.index[name] = len(c.defs)
		c.defs = append(c.defs, def)
	}
	return nil
}

// Extend 返回追加了额外定义的新目录，原目录保持不变。
func (c *Catalog) Extend(defs ...Definition) (*Catalog, error) {
	next := &Catalog{
		defs:  make([]Definition, 0, len(c.defs)+len(defs)),
		index: make(map[string]int, len(c.defs)+len(defs)),
	}
	if err := next.add(c.defs); err != nil {
		return nil, err
	}
	if err := next.add(defs); err != nil {
		return nil, err
	}
	return next, nil
}

// Lookup 按名称查找工具定义。
func (c *Catalog) Lookup(name string) (Definition, bool) {
	idx, ok := c.index[name]
	if !ok {
		return Definition{}, false
	}
	return c.defs[idx], true
}

// Definitions 返回目录条目的副本。
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Len 返回目录中的工具数量。
func (c *Catalog) Len() int { return len(c.defs) }

// Describe 渲染适合放入提示词的工具清单。
func (c *Catalog) Describe() string {
	var builder strings.Builder
	for _, def := range c.defs {
		builder.WriteString(describeLine(def.Name, def.Description, def.Required, def.Optional))
		builder.WriteByte('\n')
	}
	builder.WriteString(describeLine(TerminalTool,
		"Run a command on the host and return its exit code, stdout and stderr.",
		[]string{"command"}, []string{"args", "cwd"}))
	return builder.String()
}

func describeLine(name, description string, required, optional []string) string {
	params := make([]string, 0, len(required)+len(optional))
	params = append(params, required...)
	for _, p := range optional {
		params = append(params, p+"?")
	}
	if len(params) == 0 {
		return fmt.Sprintf("%s: %s", name, description)
	}
	return fmt.Sprintf("%s: %s (params: %s)", name, description, strings.Join(params, ", "))
}

type definitionsFile struct {
	Tools []Definition `yaml:"tools"`
}

// LoadDefinitions 从 YAML 文件读取额外的工具定义。
func LoadDefinitions(path string) ([]Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取工具定义文件失败")
	}
	var file definitionsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析工具定义文件失败")
	}
	for i := range file.Tools {
		def := &file.Tools[i]
		if def.Capability == "" || def.Action == "" {
			capability, action, found := strings.Cut(def.Name, ".")
			if !found {
				return nil, xerrors.New(xerrors.CodeInvalidArgument,
					fmt.Sprintf("工具 %s 缺少 capability/action", def.Name))
			}
			if def.Capability == "" {
				def.Capability = capability
			}
			if def.Action == "" {
				def.Action = action
			}
		}
	}
	return file.Tools, nil
}
