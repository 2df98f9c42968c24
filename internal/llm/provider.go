package llm

import "sync"

// ModelRole 标识模型在编排中的用途。
type ModelRole string

const (
	ModelPrimary   ModelRole = "primary"
	ModelSecondary ModelRole = "secondary"
	ModelSubagent  ModelRole = "subagent"
)

// Provider 按角色返回可调用的模型，未配置时返回 nil。
type Provider interface {
	Model(role ModelRole) Client
}

// Roles 是基于 map 的 Provider 实现。
type Roles struct {
	mu     sync.RWMutex
	models map[ModelRole]Client
}

// NewRoles 创建角色映射。
func NewRoles(models map[ModelRole]Client) *Roles {
	cloned := make(map[ModelRole]Client, len(models))
	for role, client := range models {
		if client != nil {
			cloned[role] = client
		}
	}
	return &Roles{models: cloned}
}

// Set 绑定或解除某个角色的模型。
func (r *Roles) Set(role ModelRole, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.models == nil {
		r.models = make(map[ModelRole]Client)
	}
	if client == nil {
		delete(r.models, role)
		return
	}
	r.models[role] = client
}

// Model 实现 Provider 接口。
func (r *Roles) Model(role ModelRole) Client {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[role]
}

// Resolve 依次尝试多个角色，返回第一个已配置的模型。
func Resolve(p Provider, roles ...ModelRole) Client {
	if p == nil {
		return nil
	}
	for _, role := range roles {
		if client := p.Model(role); client != nil {
			return client
		}
	}
	return nil
}

var _ Provider = (*Roles)(nil)
