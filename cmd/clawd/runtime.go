package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"ClawAgent/internal/bridge"
	"ClawAgent/internal/config"
	"ClawAgent/internal/correlator"
	"ClawAgent/internal/llm"
	"ClawAgent/internal/llm/openai"
	"ClawAgent/internal/llm/pythonbridge"
	"ClawAgent/internal/observability/metrics"
	"ClawAgent/internal/orchestrator"
	"ClawAgent/internal/terminal"
	"ClawAgent/internal/tools"
	"ClawAgent/pkg/logger"
)

// daemon 汇集一次进程生命周期内共享的组件。
type daemon struct {
	cfg          *config.Config
	log          *slog.Logger
	metrics      *metrics.Metrics
	catalog      *tools.Catalog
	correlator   *correlator.Correlator
	bridge       bridge.Bridge
	orchestrator *orchestrator.Orchestrator

	closers []io.Closer
}

func newDaemon(ctx context.Context, cfg *config.Config) (*daemon, error) {
	d := &daemon{cfg: cfg, log: logger.Named("clawd"), metrics: metrics.New()}

	catalog, err := loadCatalog(cfg.Tools)
	if err != nil {
		return nil, err
	}
	d.catalog = catalog

	models, err := buildModels(cfg.LLM)
	if err != nil {
		return nil, err
	}

	b, err := openBridge(ctx, cfg.Bridge)
	if err != nil {
		return nil, err
	}
	d.bridge = b
	d.closers = append(d.closers, b)

	d.correlator = correlator.New(b, correlator.WithTimeoutHook(d.metrics.ObserveCorrelationTimeout))
	d.metrics.WatchGauge("correlations_pending", "等待外部结果的关联请求数。", func() float64 {
		return float64(d.correlator.Pending())
	})

	var runner terminal.Runner
	switch cfg.Terminal.Mode {
	case "correlated":
		runner = terminal.NewCorrelatedRunner(d.correlator, cfg.Terminal.Timeout())
	default:
		runner = terminal.NewLocalRunner(cfg.Terminal.Timeout(), cfg.Terminal.OutputLimit)
	}

	sinks := orchestrator.MultiSink{orchestrator.LogSink{Logger: logger.Named("orchestrator.events")}}
	if cfg.Metrics.Enabled {
		sinks = append(sinks, d.metrics.EventSink())
	}

	d.orchestrator = orchestrator.New(models,
		orchestrator.WithCatalog(catalog),
		orchestrator.WithTerminal(runner),
		orchestrator.WithAgentDispatcher(orchestrator.NewCorrelatedDispatcher(d.correlator, cfg.Orchestrator.AgentTimeout())),
		orchestrator.WithEventSink(sinks),
		orchestrator.WithLimits(limitsFrom(cfg.Orchestrator)),
		orchestrator.WithModelTimeout(cfg.Orchestrator.ModelTimeout()),
	)
	return d, nil
}

// start 启动结果接收循环；memory 通道额外在进程内执行工作区请求。
func (d *daemon) start(ctx context.Context) {
	go func() {
		if err := d.bridge.Run(ctx, d.correlator); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Error("工具通道退出", slog.Any("error", err))
		}
	}()
	if mem, ok := d.bridge.(*bridge.MemoryBridge); ok {
		executor := &bridge.WorkspaceExecutor{Root: d.cfg.Bridge.WorkspaceRoot, DailyLogDir: d.cfg.Bridge.DailyLogDir}
		go func() {
			if err := mem.Serve(ctx, executor); err != nil && !errors.Is(err, context.Canceled) {
				d.log.Error("进程内执行器退出", slog.Any("error", err))
			}
		}()
	}
}

func (d *daemon) Close() error {
	d.correlator.Close()
	var err error
	for i := len(d.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, d.closers[i].Close())
	}
	d.closers = nil
	return err
}

func loadCatalog(cfg config.ToolsConfig) (*tools.Catalog, error) {
	catalog := tools.DefaultCatalog()
	if cfg.DefinitionsPath == "" {
		return catalog, nil
	}
	defs, err := tools.LoadDefinitions(cfg.DefinitionsPath)
	if err != nil {
		return nil, err
	}
	return catalog.Extend(defs...)
}

func buildModels(cfg config.LLMConfig) (*llm.Roles, error) {
	models := make(map[llm.ModelRole]llm.Client)
	for name, spec := range cfg.Roles() {
		client, err := createLLMClient(spec)
		if err != nil {
			return nil, fmt.Errorf("%s 模型初始化失败: %w", name, err)
		}
		models[llm.ModelRole(name)] = client
	}
	return llm.NewRoles(models), nil
}

func createLLMClient(spec config.ModelConfig) (llm.Client, error) {
	switch spec.Provider {
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(spec.Python.WorkingDir, spec.Python.ScriptPath)
		return pythonbridge.NewClient(spec.Python.PythonExecutable, scriptPath, spec.Python.WorkingDir)
	case "openai":
		apiKey := spec.OpenAI.ResolveAPIKey()
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:      apiKey,
			BaseURL:     spec.OpenAI.BaseURL,
			Model:       spec.OpenAI.Model,
			Temperature: spec.OpenAI.Temperature,
			Timeout:     spec.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", spec.Provider)
	}
}

func openBridge(ctx context.Context, cfg config.BridgeConfig) (bridge.Bridge, error) {
	switch cfg.Driver {
	case "", "memory":
		return bridge.NewMemoryBridge(cfg.Buffer), nil
	case "redis":
		return bridge.NewRedisBridge(bridge.RedisConfig{
			Address:        cfg.Redis.Address,
			Password:       cfg.Redis.Password,
			DB:             cfg.Redis.DB,
			RequestChannel: cfg.Redis.RequestChannel,
			ResultChannel:  cfg.Redis.ResultChannel,
		})
	case "rabbitmq":
		return bridge.NewRabbitMQBridge(bridge.RabbitMQConfig{
			URL:          cfg.RabbitMQ.URL,
			RequestQueue: cfg.RabbitMQ.RequestQueue,
			ResultQueue:  cfg.RabbitMQ.ResultQueue,
			Durable:      cfg.RabbitMQ.Durable,
		})
	case "stdio":
		return bridge.StartProcess(ctx, bridge.ProcessConfig{
			Command: cfg.Process.Command,
			Args:    cfg.Process.Args,
			Dir:     cfg.Process.Dir,
		})
	default:
		return nil, fmt.Errorf("未知的工具通道: %s", cfg.Driver)
	}
}

func limitsFrom(cfg config.OrchestratorConfig) orchestrator.Limits {
	limits := orchestrator.DefaultLimits()
	if cfg.MaxToolIterations > 0 {
		limits.MaxToolIterations = cfg.MaxToolIterations
	}
	if cfg.MaxConsecutiveFailures > 0 {
		limits.MaxConsecutiveFailures = cfg.MaxConsecutiveFailures
	}
	if cfg.ObservationLimit > 0 {
		limits.ObservationLimit = cfg.ObservationLimit
	}
	if cfg.StepCap > 0 {
		limits.StepCap = cfg.StepCap
	}
	if cfg.NodeVisitBail > 0 {
		limits.NodeVisitBail = cfg.NodeVisitBail
	}
	return limits
}
