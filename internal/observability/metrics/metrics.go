package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ClawAgent/internal/correlator"
	"ClawAgent/internal/orchestrator"
)

const namespace = "claw"

// Metrics 持有进程内所有 Prometheus 指标。每个实例使用独立的 Registry，便于测试。
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	events              *prometheus.CounterVec
	toolDispatches      *prometheus.CounterVec
	correlationTimeouts *prometheus.CounterVec
	tasks               *prometheus.CounterVec
	taskDuration        *prometheus.HistogramVec
}

// New 创建并注册全部指标。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestration_events_total",
			Help:      "Orchestration events by type.",
		}, []string{"type"}),
		toolDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_dispatches_total",
			Help:      "Tool calls dispatched by the executor, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		correlationTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_timeouts_total",
			Help:      "Correlated tool requests that expired without a result.",
		}, []string{"capability"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_processed_total",
			Help:      "Queued tasks processed, by resulting status.",
		}, []string{"status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time of one task processing attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpErrors,
		m.httpDuration,
		m.events,
		m.toolDispatches,
		m.correlationTimeouts,
		m.tasks,
		m.taskDuration,
	)
	return m
}

// Registry 返回底层 Registry。
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler 以 Prometheus 文本格式暴露指标。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest 记录一次 HTTP 请求。
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		m.httpErrors.WithLabelValues(handler, method).Inc()
	}
	m.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Middleware 为处理器记录请求数量与耗时。
func (m *Metrics) Middleware(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		m.ObserveHTTPRequest(handler, r.Method, recorder.status, time.Since(started))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// EventSink 返回把编排事件计入指标的 sink。
func (m *Metrics) EventSink() orchestrator.EventSink {
	return orchestrator.EventSinkFunc(func(_ context.Context, event orchestrator.Event) {
		m.events.WithLabelValues(string(event.Type)).Inc()
		if event.Type == orchestrator.EventToolExecuted {
			outcome := "error"
			if event.OK {
				outcome = "ok"
			}
			m.toolDispatches.WithLabelValues(event.Tool, outcome).Inc()
		}
	})
}

// ObserveCorrelationTimeout 可直接作为 correlator.WithTimeoutHook 的回调。
func (m *Metrics) ObserveCorrelationTimeout(req correlator.Request) {
	capability := req.Capability
	if req.IsTerminal() {
		capability = "terminal"
	}
	if capability == "" {
		capability = "unknown"
	}
	m.correlationTimeouts.WithLabelValues(capability).Inc()
}

// ObserveTask 记录一次任务处理的结果状态与耗时。
func (m *Metrics) ObserveTask(status string, elapsed time.Duration) {
	m.tasks.WithLabelValues(status).Inc()
	m.taskDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// WatchGauge 注册一个在抓取时求值的 gauge，例如待完成的关联请求数。
func (m *Metrics) WatchGauge(name, help string, value func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, value))
}

// StartServer 启动只暴露 /metrics 的独立 HTTP 服务，直到 ctx 结束。
func (m *Metrics) StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
