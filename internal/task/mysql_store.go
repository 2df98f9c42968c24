package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "ClawAgent/internal/errors"
	storagemysql "ClawAgent/internal/storage/mysql"
)

const taskColumns = `id, goal, context_json, browser_context_json, status, attempts, max_retries, last_error, error_code,
        final_result, result_json, created_at, updated_at`

// MySQLStore 使用 MySQL 记录任务状态。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 建立连接池、执行迁移并返回 MySQLStore。
func NewMySQLStore(ctx context.Context, cfg storagemysql.Config) (*MySQLStore, error) {
	db, err := storagemysql.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := storagemysql.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &MySQLStore{db: db}, nil
}

// Create 插入新的任务记录。
func (s *MySQLStore) Create(ctx context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if strings.TrimSpace(task.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	now := time.Now().Unix()
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	contextValue, err := marshalJSON(task.Context, len(task.Context) > 0)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务 context 失败")
	}
	browserValue, err := marshalJSON(task.BrowserContext, len(task.BrowserContext) > 0)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务 browser_context 失败")
	}

	const stmt = `INSERT INTO task_states
        (id, goal, context_json, browser_context_json, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		task.ID,
		task.Goal,
		contextValue,
		browserValue,
		string(task.Status),
		task.Attempts,
		task.MaxRetries,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrTaskConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// Get 查询指定任务。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM task_states WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return task, nil
}

// Claim 将任务标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Task, error) {
	const stmt = `UPDATE task_states SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status = ? AND attempts < max_retries`

	res, err := s.db.ExecContext(ctx, stmt, string(StatusRunning), time.Now().Unix(), id, string(StatusPending))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	task, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if affected == 0 {
		if err := claimError(task); err != nil {
			return task, err
		}
		return task, ErrTaskConflict
	}
	return task, nil
}

// MarkSucceeded 将任务标记为成功并保存执行结果。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error {
	const stmt = `UPDATE task_states SET status = ?, final_result = ?, result_json = ?, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ?`

	encoded, err := marshalJSON(result, true)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码执行结果失败")
	}
	res, err := s.db.ExecContext(ctx, stmt, string(StatusSucceeded), result.FinalResult, encoded, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务成功失败")
	}
	return requireAffected(res)
}

// MarkFailed 记录失败原因。非终止的失败会让任务回到待执行状态。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	const stmt = `UPDATE task_states SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`

	res, err := s.db.ExecContext(ctx, stmt, string(failureStatus(terminal)), lastError, string(code), time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务失败失败")
	}
	return requireAffected(res)
}

// MarkCancelled 取消尚未结束的任务。
func (s *MySQLStore) MarkCancelled(ctx context.Context, id string, result *ExecutionResult) error {
	const stmt = `UPDATE task_states SET status = ?, error_code = ?, updated_at = ?,
        final_result = COALESCE(?, final_result), result_json = COALESCE(?, result_json)
        WHERE id = ? AND status IN (?, ?)`

	var finalResult, encoded sql.NullString
	if result != nil {
		var err error
		if encoded, err = marshalJSON(result, true); err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码执行结果失败")
		}
		finalResult = sql.NullString{String: result.FinalResult, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusCancelled),
		string(CodeTaskCancelled),
		time.Now().Unix(),
		finalResult,
		encoded,
		id,
		string(StatusPending),
		string(StatusRunning),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务取消失败")
	}
	if rows, _ := res.RowsAffected(); rows > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrTaskCompleted
}

// List 返回符合过滤条件的任务。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Task, error) {
	opts.normalize()

	query := `SELECT ` + taskColumns + ` FROM task_states`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	if opts.Ascending {
		query += " ORDER BY updated_at ASC, created_at ASC, id ASC"
	} else {
		query += " ORDER BY updated_at DESC, created_at DESC, id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	tasks := make([]*Task, 0, opts.Limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return tasks, nil
}

// Stats 返回符合过滤条件的任务聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (TaskStats, error) {
	opts.normalize()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS succeeded,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS cancelled,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM task_states`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{
		string(StatusPending),
		string(StatusRunning),
		string(StatusSucceeded),
		string(StatusFailed),
		string(StatusCancelled),
	}
	args = append(args, filterArgs...)

	var stats TaskStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.Cancelled,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task                              Task
		status                            string
		contextJSON, browserJSON, lastErr sql.NullString
		finalResult, resultJSON           sql.NullString
	)
	if err := row.Scan(
		&task.ID,
		&task.Goal,
		&contextJSON,
		&browserJSON,
		&status,
		&task.Attempts,
		&task.MaxRetries,
		&lastErr,
		&task.ErrorCode,
		&finalResult,
		&resultJSON,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	task.Status = Status(status)
	task.LastError = lastErr.String
	if err := unmarshalJSON(contextJSON, &task.Context); err != nil {
		return nil, fmt.Errorf("解析 context_json: %w", err)
	}
	if err := unmarshalJSON(browserJSON, &task.BrowserContext); err != nil {
		return nil, fmt.Errorf("解析 browser_context_json: %w", err)
	}
	if resultJSON.Valid && strings.TrimSpace(resultJSON.String) != "" {
		var result ExecutionResult
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("解析 result_json: %w", err)
		}
		if result.FinalResult == "" {
			result.FinalResult = finalResult.String
		}
		task.Result = &result
	}
	return &task, nil
}

func requireAffected(res sql.Result) error {
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func marshalJSON(value any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func unmarshalJSON(raw sql.NullString, target any) error {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), target)
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.Since > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.Since)
	}
	if opts.Until > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.Until)
	}
	if opts.HasResult != nil {
		if *opts.HasResult {
			conditions = append(conditions, "result_json IS NOT NULL")
		} else {
			conditions = append(conditions, "result_json IS NULL")
		}
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR goal LIKE ? OR last_error LIKE ? OR final_result LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
