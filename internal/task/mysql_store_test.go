package task

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ClawAgent/internal/storage/mysql/mysqltest"
)

var taskColumnNames = []string{
	"id", "goal", "context_json", "browser_context_json", "status", "attempts", "max_retries",
	"last_error", "error_code", "final_result", "result_json", "created_at", "updated_at",
}

const selectTaskByID = `SELECT ` + taskColumns + ` FROM task_states WHERE id = ?`

func taskRow(id string, status Status, attempts int, resultJSON any) []driver.Value {
	return []driver.Value{
		id, "open docs", `{"lang":"en"}`, nil, string(status), int64(attempts), int64(3),
		nil, "", nil, resultJSON, int64(100), int64(200),
	}
}

func TestMySQLStoreCreateDetectsDuplicate(t *testing.T) {
	insert := `INSERT INTO task_states
        (id, goal, context_json, browser_context_json, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	db, drv := mysqltest.NewDB(t,
		mysqltest.Exec(insert, mysqltest.Result{Affected: 1}).WithArgs(func(args []driver.Value) error {
			if args[2] != `{"lang":"en"}` {
				return fmt.Errorf("unexpected context arg %v", args[2])
			}
			if args[3] != nil {
				return fmt.Errorf("empty browser context should be NULL, got %v", args[3])
			}
			return nil
		}),
		mysqltest.Exec(insert, mysqltest.Result{}).WithError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}),
	)
	store := &MySQLStore{db: db}
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Task{ID: "t1", Goal: "open docs", Context: map[string]string{"lang": "en"}, Status: StatusPending, MaxRetries: 3}))
	err := store.Create(ctx, &Task{ID: "t1", Goal: "open docs", Status: StatusPending, MaxRetries: 3})
	assert.True(t, IsTaskError(err, CodeTaskConflict))
	drv.AssertConsumed(t)
}

func TestMySQLStoreGetDecodesRow(t *testing.T) {
	result := `{"final_result":"done","plan":["open docs"],"step_results":["done"],"steps_executed":1,"node_visits":4}`
	db, drv := mysqltest.NewDB(t,
		mysqltest.Query(selectTaskByID, mysqltest.Rows{Columns: taskColumnNames, Values: [][]driver.Value{taskRow("t1", StatusSucceeded, 1, result)}}),
		mysqltest.Query(selectTaskByID, mysqltest.Rows{Columns: taskColumnNames}),
	)
	store := &MySQLStore{db: db}
	ctx := context.Background()

	task, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, task.Status)
	assert.Equal(t, map[string]string{"lang": "en"}, task.Context)
	assert.Nil(t, task.BrowserContext)
	require.NotNil(t, task.Result)
	assert.Equal(t, "done", task.Result.FinalResult)
	assert.Equal(t, 4, task.Result.NodeVisits)

	_, err = store.Get(ctx, "missing")
	assert.True(t, IsTaskError(err, CodeTaskNotFound))
	drv.AssertConsumed(t)
}

func TestMySQLStoreClaimExplainsRejection(t *testing.T) {
	claim := `UPDATE task_states SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status = ? AND attempts < max_retries`

	db, drv := mysqltest.NewDB(t,
		mysqltest.Exec(claim, mysqltest.Result{Affected: 1}),
		mysqltest.Query(selectTaskByID, mysqltest.Rows{Columns: taskColumnNames, Values: [][]driver.Value{taskRow("t1", StatusRunning, 1, nil)}}),
		mysqltest.Exec(claim, mysqltest.Result{Affected: 0}),
		mysqltest.Query(selectTaskByID, mysqltest.Rows{Columns: taskColumnNames, Values: [][]driver.Value{taskRow("t2", StatusCancelled, 0, nil)}}),
		mysqltest.Exec(claim, mysqltest.Result{Affected: 0}),
		mysqltest.Query(selectTaskByID, mysqltest.Rows{Columns: taskColumnNames, Values: [][]driver.Value{taskRow("t3", StatusPending, 3, nil)}}),
	)
	store := &MySQLStore{db: db}
	ctx := context.Background()

	claimed, err := store.Claim(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, claimed.Status)

	_, err = store.Claim(ctx, "t2")
	assert.True(t, IsTaskError(err, CodeTaskCancelled))

	_, err = store.Claim(ctx, "t3")
	assert.True(t, IsTaskError(err, CodeTaskExhausted))
	drv.AssertConsumed(t)
}

func TestMySQLStoreMarkFailedKeepsRetryablePending(t *testing.T) {
	update := `UPDATE task_states SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`
	expectStatus := func(want Status) func([]driver.Value) error {
		return func(args []driver.Value) error {
			if args[0] != string(want) {
				return fmt.Errorf("want status %s got %v", want, args[0])
			}
			return nil
		}
	}

	db, drv := mysqltest.NewDB(t,
		mysqltest.Exec(update, mysqltest.Result{Affected: 1}).WithArgs(expectStatus(StatusPending)),
		mysqltest.Exec(update, mysqltest.Result{Affected: 1}).WithArgs(expectStatus(StatusFailed)),
		mysqltest.Exec(update, mysqltest.Result{Affected: 0}),
	)
	store := &MySQLStore{db: db}
	ctx := context.Background()

	require.NoError(t, store.MarkFailed(ctx, "t1", CodeTaskProcessing, "boom", false))
	require.NoError(t, store.MarkFailed(ctx, "t1", CodeTaskProcessing, "boom", true))
	assert.True(t, IsTaskError(store.MarkFailed(ctx, "gone", CodeTaskProcessing, "boom", true), CodeTaskNotFound))
	drv.AssertConsumed(t)
}

func TestMySQLStoreMarkCancelled(t *testing.T) {
	update := `UPDATE task_states SET status = ?, error_code = ?, updated_at = ?,
        final_result = COALESCE(?, final_result), result_json = COALESCE(?, result_json)
        WHERE id = ? AND status IN (?, ?)`

	db, drv := mysqltest.NewDB(t,
		mysqltest.Exec(update, mysqltest.Result{Affected: 1}).WithArgs(func(args []driver.Value) error {
			if args[3] != "partial" {
				return errors.New("final result should be stored")
			}
			return nil
		}),
		mysqltest.Exec(update, mysqltest.Result{Affected: 0}),
		mysqltest.Query(selectTaskByID, mysqltest.Rows{Columns: taskColumnNames, Values: [][]driver.Value{taskRow("t2", StatusSucceeded, 1, nil)}}),
	)
	store := &MySQLStore{db: db}
	ctx := context.Background()

	require.NoError(t, store.MarkCancelled(ctx, "t1", &ExecutionResult{FinalResult: "partial", Cancelled: true}))
	assert.True(t, IsTaskError(store.MarkCancelled(ctx, "t2", nil), CodeTaskCompleted))
	drv.AssertConsumed(t)
}

func TestMySQLStoreStats(t *testing.T) {
	db, drv := mysqltest.NewDB(t,
		mysqltest.Query("", mysqltest.Rows{
			Columns: []string{"total", "pending", "running", "succeeded", "failed", "cancelled", "oldest", "newest"},
			Values:  [][]driver.Value{{int64(5), int64(1), int64(1), int64(1), int64(1), int64(1), int64(10), int64(20)}},
		}).WithArgs(func(args []driver.Value) error {
			if len(args) != 6 || args[5] != string(StatusFailed) {
				return fmt.Errorf("unexpected args %v", args)
			}
			return nil
		}),
	)
	store := &MySQLStore{db: db}

	stats, err := store.Stats(context.Background(), newListOptions(WithStatuses(StatusFailed)))
	require.NoError(t, err)
	assert.Equal(t, TaskStats{Total: 5, Pending: 1, Running: 1, Succeeded: 1, Failed: 1, Cancelled: 1, OldestUpdatedAt: 10, NewestUpdatedAt: 20}, stats)
	drv.AssertConsumed(t)
}

func TestBuildFilterClause(t *testing.T) {
	opts := newListOptions(
		WithStatuses(StatusPending, StatusRunning),
		WithResultPresence(false),
		WithQuery("docs"),
	)
	clause, args := buildFilterClause(opts)
	assert.Equal(t, "status IN (?,?) AND result_json IS NULL AND (id LIKE ? OR goal LIKE ? OR last_error LIKE ? OR final_result LIKE ?)", clause)
	assert.Len(t, args, 6)
	assert.Equal(t, "%docs%", args[2])
}
