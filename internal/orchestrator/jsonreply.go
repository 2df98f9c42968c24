package orchestrator

import (
	"encoding/json"
	"errors"
	"strings"
)

var errNoJSON = errors.New("reply contains no JSON value")

// stripFences 去掉模型常包裹在回复外的 Markdown 代码块。
func stripFences(reply string) string {
	trimmed := strings.TrimSpace(reply)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
		trimmed = trimmed[nl+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// extractJSON 返回回复中第一个 open 与最后一个 close 之间的片段。
func extractJSON(reply string, open, close byte) (string, error) {
	text := stripFences(reply)
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, close)
	if start < 0 || end <= start {
		return "", errNoJSON
	}
	return text[start : end+1], nil
}

// parseStringArray 解析 JSON 字符串数组，任何非字符串元素都视为失败。
func parseStringArray(reply string) ([]string, error) {
	raw, err := extractJSON(reply, '[', ']')
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// parseVerdict 解析 {"verdict": "..."}，无法识别时返回 false。
func parseVerdict(reply string) (Verdict, bool) {
	raw, err := extractJSON(reply, '{', '}')
	if err != nil {
		return "", false
	}
	var decoded struct {
		Verdict string `json:"verdict"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return "", false
	}
	v := Verdict(strings.ToLower(strings.TrimSpace(decoded.Verdict)))
	if !v.valid() {
		return "", false
	}
	return v, true
}
