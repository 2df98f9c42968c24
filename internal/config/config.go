package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "CLAW_CONFIG"

// DefaultPath 是未设置环境变量时使用的配置文件路径。
var DefaultPath = filepath.Join("configs", "claw.json")

// Config 描述了 ClawAgent 在启动阶段需要加载的核心配置。
type Config struct {
	Server       ServerConfig       `json:"server"`
	Storage      StorageConfig      `json:"storage"`
	TaskQueue    TaskQueueConfig    `json:"task_queue"`
	LLM          LLMConfig          `json:"llm"`
	Bridge       BridgeConfig       `json:"bridge"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Terminal     TerminalConfig     `json:"terminal"`
	Tools        ToolsConfig        `json:"tools"`
	Logging      LoggingConfig      `json:"logging"`
	Metrics      MetricsConfig      `json:"metrics"`
}

// ServerConfig 控制 API 服务的监听地址。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 描述任务状态的存储后端。
type StorageConfig struct {
	TaskStore TaskStoreConfig `json:"task_store"`
}

// TaskStoreConfig 支持 memory 与 mysql 两种驱动。
type TaskStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
	Retries                int    `json:"retries"`
}

// ConnMaxLifetime 返回连接最长存活时间。
func (c TaskStoreConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSeconds) * time.Second
}

// ConnMaxIdleTime 返回连接最长空闲时间。
func (c TaskStoreConfig) ConnMaxIdleTime() time.Duration {
	return time.Duration(c.ConnMaxIdleTimeSeconds) * time.Second
}

// TaskQueueConfig 描述任务队列。
type TaskQueueConfig struct {
	Driver   string              `json:"driver"`
	Worker   int                 `json:"worker"`
	Size     int                 `json:"size"`
	Redis    RedisQueueConfig    `json:"redis"`
	RabbitMQ RabbitMQQueueConfig `json:"rabbitmq"`
}

// RedisQueueConfig 对应 Redis list 队列。
type RedisQueueConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQQueueConfig 对应 RabbitMQ 队列。
type RabbitMQQueueConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// LLMConfig 按角色配置模型，未配置的角色回退到 primary。
type LLMConfig struct {
	Primary   ModelConfig `json:"primary"`
	Secondary ModelConfig `json:"secondary"`
	Subagent  ModelConfig `json:"subagent"`
}

// Roles 返回按角色名索引的模型配置，只包含已配置的角色。
func (c LLMConfig) Roles() map[string]ModelConfig {
	roles := make(map[string]ModelConfig, 3)
	for name, m := range map[string]ModelConfig{
		"primary":   c.Primary,
		"secondary": c.Secondary,
		"subagent":  c.Subagent,
	} {
		if m.Configured() {
			roles[name] = m
		}
	}
	return roles
}

// ModelConfig 描述单个模型角色的调用方式。
type ModelConfig struct {
	Provider string             `json:"provider"`
	OpenAI   OpenAIConfig       `json:"openai"`
	Python   PythonBridgeConfig `json:"python_bridge"`
}

// Configured 判断该角色是否有可用的 provider。
func (m ModelConfig) Configured() bool {
	switch m.Provider {
	case "openai":
		return m.OpenAI.Model != "" || m.OpenAI.APIKey != "" || m.OpenAI.APIKeyEnv != ""
	case "python_bridge":
		return m.Python.ScriptPath != ""
	default:
		return false
	}
}

// OpenAIConfig 对应 OpenAI 兼容接口。
type OpenAIConfig struct {
	APIKey         string  `json:"api_key"`
	APIKeyEnv      string  `json:"api_key_env"`
	BaseURL        string  `json:"base_url"`
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	TimeoutSeconds int     `json:"timeout_seconds"`
}

// Timeout 返回单次请求的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResolveAPIKey 优先使用显式配置，其次读取环境变量。
func (c OpenAIConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	if c.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable"`
	ScriptPath       string `json:"script_path"`
	WorkingDir       string `json:"working_dir"`
}

// BridgeConfig 选择工具执行通道。
type BridgeConfig struct {
	Driver        string              `json:"driver"`
	Buffer        int                 `json:"buffer"`
	WorkspaceRoot string              `json:"workspace_root"`
	DailyLogDir   string              `json:"daily_log_dir"`
	Redis         RedisBridgeConfig   `json:"redis"`
	RabbitMQ      RabbitBridgeConfig  `json:"rabbitmq"`
	Process       ProcessBridgeConfig `json:"process"`
}

// RedisBridgeConfig 使用 pub/sub 频道收发工具请求与结果。
type RedisBridgeConfig struct {
	Address        string `json:"address"`
	Password       string `json:"password"`
	DB             int    `json:"db"`
	RequestChannel string `json:"request_channel"`
	ResultChannel  string `json:"result_channel"`
}

// RabbitBridgeConfig 使用两条队列收发工具请求与结果。
type RabbitBridgeConfig struct {
	URL          string `json:"url"`
	RequestQueue string `json:"request_queue"`
	ResultQueue  string `json:"result_queue"`
	Durable      bool   `json:"durable"`
}

// ProcessBridgeConfig 描述通过标准输入输出通信的 sidecar 进程。
type ProcessBridgeConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Dir     string   `json:"dir"`
}

// OrchestratorConfig 覆盖编排限制，零值表示使用默认值。
type OrchestratorConfig struct {
	MaxToolIterations      int `json:"max_tool_iterations"`
	MaxConsecutiveFailures int `json:"max_consecutive_failures"`
	ObservationLimit       int `json:"observation_limit"`
	StepCap                int `json:"step_cap"`
	NodeVisitBail          int `json:"node_visit_bail"`
	ModelTimeoutSeconds    int `json:"model_timeout_seconds"`
	AgentTimeoutSeconds    int `json:"agent_timeout_seconds"`
}

// ModelTimeout 返回单次模型调用的超时。
func (c OrchestratorConfig) ModelTimeout() time.Duration {
	return time.Duration(c.ModelTimeoutSeconds) * time.Second
}

// AgentTimeout 返回单次关联请求的超时。
func (c OrchestratorConfig) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutSeconds) * time.Second
}

// TerminalConfig 控制 terminal 工具的执行位置。
type TerminalConfig struct {
	Mode           string `json:"mode"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	OutputLimit    int    `json:"output_limit"`
}

// Timeout 返回单条命令的超时。
func (c TerminalConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ToolsConfig 允许通过 YAML 文件追加工具定义。
type ToolsConfig struct {
	DefinitionsPath string `json:"definitions_path"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string         `json:"level"`
	Format      string         `json:"format"`
	OutputPaths []string       `json:"output_paths"`
	Audit       AuditLogConfig `json:"audit"`
}

// AuditLogConfig 控制按天切分的审计日志。
type AuditLogConfig struct {
	Enabled       bool   `json:"enabled"`
	Dir           string `json:"dir"`
	RetentionDays int    `json:"retention_days"`
}

// MetricsConfig 控制 Prometheus 指标暴露。Address 为空时只挂在 API 服务的 /metrics 上。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// ResolvePath 返回配置文件路径：优先 CLAW_CONFIG，其次默认路径。
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return env
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	baseDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		baseDir = filepath.Dir(path)
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回不依赖配置文件的默认配置，相对路径基于 baseDir。
func Default(baseDir string) *Config {
	var cfg Config
	cfg.applyDefaults(baseDir)
	return &cfg
}

// Validate 检查驱动名称等取值是否合法。
func (c *Config) Validate() error {
	switch c.Storage.TaskStore.Driver {
	case "memory":
	case "mysql":
		if c.Storage.TaskStore.DSN == "" {
			return errors.New("mysql 任务存储需要配置 dsn")
		}
	default:
		return fmt.Errorf("未知的任务存储驱动: %s", c.Storage.TaskStore.Driver)
	}
	switch c.TaskQueue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("未知的队列驱动: %s", c.TaskQueue.Driver)
	}
	switch c.Bridge.Driver {
	case "memory", "redis", "rabbitmq":
	case "stdio":
		if c.Bridge.Process.Command == "" {
			return errors.New("stdio 通道需要配置 process.command")
		}
	default:
		return fmt.Errorf("未知的工具通道: %s", c.Bridge.Driver)
	}
	switch c.Terminal.Mode {
	case "local", "correlated":
	default:
		return fmt.Errorf("未知的终端模式: %s", c.Terminal.Mode)
	}
	for name, m := range map[string]ModelConfig{
		"primary": c.LLM.Primary, "secondary": c.LLM.Secondary, "subagent": c.LLM.Subagent,
	} {
		switch m.Provider {
		case "", "openai", "python_bridge":
		default:
			return fmt.Errorf("%s 模型使用了未知的 provider: %s", name, m.Provider)
		}
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.TaskStore.Retries <= 0 {
		c.Storage.TaskStore.Retries = 3
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Worker <= 0 {
		c.TaskQueue.Worker = 1
	}
	if c.TaskQueue.Size <= 0 {
		c.TaskQueue.Size = 1024
	}

	for _, m := range []*ModelConfig{&c.LLM.Primary, &c.LLM.Secondary, &c.LLM.Subagent} {
		if m.Provider != "python_bridge" {
			continue
		}
		if m.Python.PythonExecutable == "" {
			m.Python.PythonExecutable = "python3"
		}
		m.Python.WorkingDir = resolve(baseDir, m.Python.WorkingDir, baseDir)
	}

	if c.Bridge.Driver == "" {
		c.Bridge.Driver = "memory"
	}
	if c.Bridge.Buffer <= 0 {
		c.Bridge.Buffer = 64
	}
	c.Bridge.WorkspaceRoot = resolve(baseDir, c.Bridge.WorkspaceRoot, filepath.Join(baseDir, "workspace"))
	c.Bridge.DailyLogDir = resolve(baseDir, c.Bridge.DailyLogDir, filepath.Join(c.Bridge.WorkspaceRoot, "memory"))
	if c.Bridge.Process.Dir != "" {
		c.Bridge.Process.Dir = resolve(baseDir, c.Bridge.Process.Dir, baseDir)
	}

	if c.Terminal.Mode == "" {
		c.Terminal.Mode = "local"
	}
	if c.Terminal.TimeoutSeconds <= 0 {
		c.Terminal.TimeoutSeconds = 60
	}
	if c.Terminal.OutputLimit <= 0 {
		c.Terminal.OutputLimit = 64 * 1024
	}

	if c.Tools.DefinitionsPath != "" {
		c.Tools.DefinitionsPath = resolve(baseDir, c.Tools.DefinitionsPath, "")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Dir != "" {
		c.Logging.Audit.Dir = resolve(baseDir, c.Logging.Audit.Dir, "")
	}
}

// resolve 把相对路径转换为基于 baseDir 的绝对路径，空值使用 fallback。
func resolve(baseDir, value, fallback string) string {
	if value == "" {
		return fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
