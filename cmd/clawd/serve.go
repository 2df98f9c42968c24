package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"ClawAgent/internal/api"
	"ClawAgent/internal/config"
	storagemysql "ClawAgent/internal/storage/mysql"
	"ClawAgent/internal/task"
	"ClawAgent/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP API 与任务处理器",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Address = addr
		}
		if err := initLogger(cfg); err != nil {
			return err
		}
		defer logger.Sync()
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "覆盖 server.address")
}

func serve(ctx context.Context, cfg *config.Config) error {
	d, err := newDaemon(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()
	d.start(ctx)

	store, err := openTaskStore(ctx, cfg.Storage.TaskStore)
	if err != nil {
		return err
	}
	queue, err := openTaskQueue(cfg.TaskQueue)
	if err != nil {
		_ = store.Close()
		return err
	}

	processor := task.NewProcessor(d.orchestrator, store, queue, queue,
		task.WithWorkerCount(cfg.TaskQueue.Worker),
		task.WithProcessorLogger(logger.Named("task.processor")),
		task.WithCompletionHook(func(_ *task.Task, status task.Status, elapsed time.Duration) {
			d.metrics.ObserveTask(string(status), elapsed)
		}),
	)
	service := task.NewService(store, queue, cfg.Storage.TaskStore.Retries, task.WithCanceller(processor))
	defer func() {
		if err := service.Close(); err != nil {
			d.log.Warn("关闭任务服务失败", slog.Any("error", err))
		}
	}()
	d.metrics.WatchGauge("tasks_active", "本进程正在执行的任务数。", func() float64 {
		return float64(processor.Active())
	})

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	opts := []api.Option{api.WithCorrelator(d.correlator), api.WithCatalog(d.catalog)}
	if cfg.Metrics.Enabled {
		opts = append(opts, api.WithMetrics(d.metrics))
		if cfg.Metrics.Address != "" {
			go func() {
				if err := d.metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
					d.log.Error("指标服务异常退出", slog.Any("error", err))
				}
			}()
		}
	}

	server := api.NewServer(cfg.Server.Address, service, opts...)
	d.log.Info("clawd 已启动", slog.String("address", cfg.Server.Address),
		slog.String("bridge", cfg.Bridge.Driver), slog.String("task_store", cfg.Storage.TaskStore.Driver),
		slog.String("task_queue", cfg.TaskQueue.Driver))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openTaskStore(ctx context.Context, cfg config.TaskStoreConfig) (task.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		return task.NewMySQLStore(ctx, storagemysql.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime(),
			ConnMaxIdleTime: cfg.ConnMaxIdleTime(),
		})
	default:
		return nil, fmt.Errorf("未知的任务存储驱动: %s", cfg.Driver)
	}
}

func openTaskQueue(cfg config.TaskQueueConfig) (task.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return task.NewMemoryQueue(cfg.Size), nil
	case "redis":
		return task.NewRedisQueue(task.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}
