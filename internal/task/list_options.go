package task

import (
	"slices"
	"strings"
	"time"
)

const (
	// DefaultListLimit 是未指定 limit 时返回的条数。
	DefaultListLimit = 20
	// MaxListLimit 是单次查询允许返回的最大条数。
	MaxListLimit = 100
)

// ListOptions 描述列表与统计查询的筛选条件。时间戳为 unix 秒，零值表示不限。
type ListOptions struct {
	Limit     int
	Offset    int
	Statuses  []Status
	Since     int64
	Until     int64
	HasResult *bool
	Ascending bool
	Query     string
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

// WithLimit 限制返回条数，超出 MaxListLimit 时截断。
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

// WithOffset 跳过前 n 条匹配结果。
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// WithStatuses 只保留给定状态的任务，未知状态会被忽略。
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) { opts.Statuses = append([]Status(nil), statuses...) }
}

// WithUpdatedSince 只保留 UpdatedAt >= ts 的任务。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.Since = unixOrZero(ts) }
}

// WithUpdatedUntil 只保留 UpdatedAt <= ts 的任务。
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.Until = unixOrZero(ts) }
}

// WithResultPresence 按是否已有执行结果筛选。
func WithResultPresence(hasResult bool) ListOption {
	return func(opts *ListOptions) { opts.HasResult = &hasResult }
}

// WithAscending 按更新时间从旧到新排序，默认从新到旧。
func WithAscending() ListOption {
	return func(opts *ListOptions) { opts.Ascending = true }
}

// WithQuery 对 ID、任务描述、错误信息与最终结果做不区分大小写的子串匹配。
func WithQuery(query string) ListOption {
	return func(opts *ListOptions) { opts.Query = query }
}

func newListOptions(opts ...ListOption) ListOptions {
	var options ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.normalize()
	return options
}

// normalize 修正越界取值并去重状态列表。
func (opts *ListOptions) normalize() {
	switch {
	case opts.Limit <= 0:
		opts.Limit = DefaultListLimit
	case opts.Limit > MaxListLimit:
		opts.Limit = MaxListLimit
	}
	opts.Offset = max(opts.Offset, 0)
	opts.Query = strings.TrimSpace(opts.Query)

	var statuses []Status
	for _, status := range opts.Statuses {
		if IsValidStatus(status) && !slices.Contains(statuses, status) {
			statuses = append(statuses, status)
		}
	}
	opts.Statuses = statuses
}

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}
