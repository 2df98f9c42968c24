package llm

import "context"

// Role 表示对话消息的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Message 描述发送给大模型的一条消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Invoke(ctx context.Context, messages []Message) (string, error)
}

// ClientFunc 允许以函数形式实现 Client。
type ClientFunc func(ctx context.Context, messages []Message) (string, error)

// Invoke 实现 Client 接口。
func (f ClientFunc) Invoke(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}

// System 构造系统消息。
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// Human 构造用户消息。
func Human(content string) Message { return Message{Role: RoleHuman, Content: content} }

// Assistant 构造助手消息。
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }
