// Package mysqltest provides a scripted database/sql driver for tests. Each
// test declares the exact sequence of statements it expects and the driver
// fails on the first mismatch.
package mysqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

func (t operationType) String() string {
	switch t {
	case opExec:
		return "exec"
	case opQuery:
		return "query"
	case opBegin:
		return "begin"
	case opCommit:
		return "commit"
	case opRollback:
		return "rollback"
	default:
		return "unknown"
	}
}

// Operation 是一次预期的数据库调用。
type Operation struct {
	typ    operationType
	query  string
	result Result
	rows   Rows
	err    error
	check  func(args []driver.Value) error
}

// WithError 让该操作返回指定错误。
func (o Operation) WithError(err error) Operation {
	o.err = err
	return o
}

// WithArgs 校验调用参数。
func (o Operation) WithArgs(check func(args []driver.Value) error) Operation {
	o.check = check
	return o
}

// Result 是 Exec 的返回值。
type Result struct {
	LastInsertID int64
	Affected     int64
}

func (r Result) LastInsertId() (int64, error) { return r.LastInsertID, nil }
func (r Result) RowsAffected() (int64, error) { return r.Affected, nil }

// Rows 是 Query 的返回值。
type Rows struct {
	Columns []string
	Values  [][]driver.Value
}

// Exec 预期一次 Exec 调用。
func Exec(query string, result Result) Operation {
	return Operation{typ: opExec, query: query, result: result}
}

// Query 预期一次 Query 调用。
func Query(query string, rows Rows) Operation {
	return Operation{typ: opQuery, query: query, rows: rows}
}

// Begin 预期开启事务。
func Begin() Operation { return Operation{typ: opBegin} }

// Commit 预期提交事务。
func Commit() Operation { return Operation{typ: opCommit} }

// Rollback 预期回滚事务。
func Rollback() Operation { return Operation{typ: opRollback} }

// Driver 按顺序消费预期操作。
type Driver struct {
	mu  sync.Mutex
	ops []Operation
	idx int
}

var driverSeq atomic.Int32

// NewDB 注册一个新的脚本化驱动并打开连接。
func NewDB(t *testing.T, ops ...Operation) (*sql.DB, *Driver) {
	t.Helper()

	drv := &Driver{ops: ops}
	name := fmt.Sprintf("mysqltest-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { db.Close() })
	return db, drv
}

// AssertConsumed 断言所有预期操作都已执行。
func (d *Driver) AssertConsumed(t *testing.T) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", d.idx, len(d.ops))
	}
}

// Open 实现 driver.Driver。
func (d *Driver) Open(string) (driver.Conn, error) {
	return &conn{driver: d}, nil
}

func (d *Driver) next(expected operationType, query string, args []driver.NamedValue) (*Operation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected %s: %s", expected, Normalize(query))
	}
	op := &d.ops[d.idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %s, got %s", op.typ, expected)
	}
	d.idx++
	if op.query != "" {
		want, got := Normalize(op.query), Normalize(query)
		if want != got {
			return nil, fmt.Errorf("unexpected query. want %q got %q", want, got)
		}
	}
	if op.check != nil {
		values := make([]driver.Value, len(args))
		for i, arg := range args {
			values[i] = arg.Value
		}
		if err := op.check(values); err != nil {
			return nil, err
		}
	}
	return op, nil
}

type conn struct {
	driver *Driver
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "", nil)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &tx{driver: c.driver}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query, args)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query, args)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &rows{columns: op.rows.Columns, values: op.rows.Values}, nil
}

func (c *conn) Ping(context.Context) error { return nil }

type tx struct {
	driver *Driver
}

func (t *tx) Commit() error {
	op, err := t.driver.next(opCommit, "", nil)
	if err != nil {
		return err
	}
	return op.err
}

func (t *tx) Rollback() error {
	op, err := t.driver.next(opRollback, "", nil)
	if err != nil {
		return err
	}
	return op.err
}

type rows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *rows) Columns() []string { return r.columns }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

// Normalize 压缩空白字符，便于比较 SQL。
func Normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
