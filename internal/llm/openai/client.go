package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "ClawAgent/internal/errors"
	"ClawAgent/internal/llm"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModelName   = "gpt-4o-mini"
	defaultTimeout     = 60 * time.Second
	defaultTemperature = 0.2
)

// Config 描述了调用 OpenAI 兼容 Chat Completions API 所需的信息。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Client 通过 HTTP 调用 OpenAI 兼容的大模型服务。
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	return &Client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       model,
		temperature: temperature,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Model 返回请求使用的模型名称。
func (c *Client) Model() string { return c.model }

// Invoke 发送完整的消息序列并返回助手回复文本。
func (c *Client) Invoke(ctx context.Context, messages []llm.Message) (string, error) {
	payload, err := c.buildPayload(messages)
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &llm.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", xerrors.New(xerrors.CodeModelFatal, "OpenAI 响应中没有有效的 choices")
	}

	return decoded.Choices[0].Message.Content, nil
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *Client) buildPayload(messages []llm.Message) ([]byte, error) {
	wire := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		wire = append(wire, wireMessage{Role: wireRole(msg.Role), Content: msg.Content})
	}

	body := map[string]any{
		"model":       c.model,
		"messages":    wire,
		"temperature": c.temperature,
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	return encoded, nil
}

func wireRole(role llm.Role) string {
	switch role {
	case llm.RoleSystem:
		return "system"
	case llm.RoleAssistant:
		return "assistant"
	default:
		return "user"
	}
}

var _ llm.Client = (*Client)(nil)
