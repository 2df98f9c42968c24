package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ClawAgent/internal/correlator"
	xerrors "ClawAgent/internal/errors"
	"ClawAgent/internal/observability/metrics"
	"ClawAgent/internal/task"
	"ClawAgent/internal/tools"
	"ClawAgent/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Server 负责暴露 REST 接口：任务提交与查询、工具结果回传以及工具目录。
type Server struct {
	addr       string
	tasks      *task.Service
	correlator *correlator.Correlator
	catalog    *tools.Catalog
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithCorrelator 启用 POST /api/v1/tool-results。
func WithCorrelator(c *correlator.Correlator) Option {
	return func(s *Server) { s.correlator = c }
}

// WithCatalog 启用 GET /api/v1/tools。
func WithCatalog(catalog *tools.Catalog) Option {
	return func(s *Server) { s.catalog = catalog }
}

// WithMetrics 为每个路由记录请求指标，并挂载 /metrics。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, tasks *task.Service, opts ...Option) *Server {
	s := &Server{addr: addr, tasks: tasks, log: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回挂载了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "tasks", "/api/v1/tasks", s.handleTasks)
	s.route(mux, "task_stats", "/api/v1/tasks/stats", s.handleTaskStats)
	s.route(mux, "task_detail", "/api/v1/tasks/", s.handleTaskDetail)
	s.route(mux, "tool_results", "/api/v1/tool-results", s.handleToolResult)
	s.route(mux, "tools", "/api/v1/tools", s.handleTools)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) route(mux *http.ServeMux, name, pattern string, handler http.HandlerFunc) {
	if s.metrics != nil {
		mux.Handle(pattern, s.metrics.Middleware(name, handler))
		return
	}
	mux.Handle(pattern, handler)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTask(w, r)
	case http.MethodGet:
		s.handleListTasks(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET/POST"))
	}
}

// handleCreateTask 提交任务并立即返回排队中的任务记录。
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	var req task.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": list})
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"))
		return
	}
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stats, err := s.tasks.Stats(r.Context(), opts...)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleTaskDetail 处理 GET /api/v1/tasks/{id} 与 POST /api/v1/tasks/{id}/cancel。
func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeInvalidArgument, "缺少任务 ID"))
		return
	}
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		found, err := s.tasks.Get(r.Context(), id)
		if err != nil {
			writeTaskError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, found)
	case action == "cancel" && r.Method == http.MethodPost:
		cancelled, err := s.tasks.Cancel(r.Context(), id)
		if err != nil {
			writeTaskError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, cancelled)
	case action != "" && action != "cancel":
		writeError(w, http.StatusNotFound, xerrors.New(xerrors.CodeNotFound, "未知的任务操作"))
	default:
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidArgument, "不支持的请求方法"))
	}
}

// handleToolResult 接收外部执行方回传的工具结果并完成对应的关联请求。
func (s *Server) handleToolResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 POST"))
		return
	}
	if s.correlator == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "工具关联器未初始化"))
		return
	}
	var result correlator.Result
	if err := decodeJSON(r, &result); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(result.RequestID) == "" {
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeInvalidArgument, "requestId 不能为空"))
		return
	}
	if !s.correlator.Complete(result) {
		writeError(w, http.StatusNotFound, xerrors.New(xerrors.CodeNotFound, "没有等待该 requestId 的请求"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"requestId": result.RequestID, "matched": true})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"))
		return
	}
	if s.catalog == nil {
		writeJSON(w, http.StatusOK, map[string]any{"tools": []tools.Definition{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools":       s.catalog.Definitions(),
		"description": s.catalog.Describe(),
	})
}

func parseListOptions(r *http.Request) ([]task.ListOption, error) {
	query := r.URL.Query()
	var opts []task.ListOption
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须为正整数")
		}
		opts = append(opts, task.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "offset 必须为非负整数")
		}
		opts = append(opts, task.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(part))
			if !task.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务状态: "+string(status))
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := query.Get("has_result"); raw != "" {
		hasResult, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "has_result 必须为布尔值")
		}
		opts = append(opts, task.WithResultPresence(hasResult))
	}
	if raw := query.Get("since"); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "since 必须为 Unix 秒")
		}
		opts = append(opts, task.WithUpdatedSince(time.Unix(ts, 0)))
	}
	if query.Get("order") == "asc" {
		opts = append(opts, task.WithAscending())
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}
	return opts, nil
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeTaskError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

// statusFor 把统一错误码映射为 HTTP 状态码。
func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case task.CodeTaskNotFound, xerrors.CodeNotFound:
		return http.StatusNotFound
	case task.CodeTaskValidation, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case task.CodeTaskCompleted, task.CodeTaskConflict, task.CodeTaskCancelled, xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	code := xerrors.CodeOf(err)
	body := errorBody{Code: string(code), Message: strings.TrimPrefix(err.Error(), "["+string(code)+"] ")}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "服务已关闭"))
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
