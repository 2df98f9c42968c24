package orchestrator

import (
	"context"
	"time"

	"ClawAgent/internal/correlator"
	"ClawAgent/internal/tools"
)

// AgentDispatcher 执行能力调用并返回外部结果。
type AgentDispatcher interface {
	DispatchAgent(ctx context.Context, call *tools.AgentCall) (correlator.Result, error)
}

// CorrelatedDispatcher 通过关联器把能力调用交给外部执行方。
type CorrelatedDispatcher struct {
	correlator *correlator.Correlator
	timeout    time.Duration
}

// NewCorrelatedDispatcher 创建分发器，timeout 为 0 时使用关联器默认值。
func NewCorrelatedDispatcher(c *correlator.Correlator, timeout time.Duration) *CorrelatedDispatcher {
	return &CorrelatedDispatcher{correlator: c, timeout: timeout}
}

// DispatchAgent 实现 AgentDispatcher 接口。
func (d *CorrelatedDispatcher) DispatchAgent(ctx context.Context, call *tools.AgentCall) (correlator.Result, error) {
	return d.correlator.Request(ctx, correlator.Request{
		Capability:  call.Capability,
		Action:      call.Action,
		Params:      call.Params,
		Destructive: call.Destructive,
	}, d.timeout)
}

var _ AgentDispatcher = (*CorrelatedDispatcher)(nil)
