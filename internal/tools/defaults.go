package tools

import (
	"errors"
	"fmt"
)

var descriptorModes = map[string]bool{"full": true, "balanced": true}

func validateDOMAutomation(params map[string]any) error {
	if _, ok := params["actions"].([]any); !ok {
		return errors.New("dom.automation: actions must be an array")
	}
	if raw, present := params["descriptorMode"]; present && raw != nil {
		mode, ok := raw.(string)
		if !ok || !descriptorModes[mode] {
			return fmt.Errorf("dom.automation: descriptorMode must be \"full\" or \"balanced\", got %v", raw)
		}
	}
	return nil
}

func defaultDefinitions() []Definition {
	return []Definition{
		{Name: "tab.navigate", Capability: "tab", Action: "navigate",
			Description: "Navigate a tab to a URL.",
			Required:    []string{"url"}, Optional: []string{"tabId"}},
		{Name: "tab.open", Capability: "tab", Action: "open",
			Description: "Open a new tab, optionally at a URL.",
			Optional:    []string{"url"}},
		{Name: "tab.close", Capability: "tab", Action: "close",
			Description: "Close a tab.",
			Required:    []string{"tabId"}},
		{Name: "tab.switch", Capability: "tab", Action: "switch",
			Description: "Make a tab the active tab.",
			Required:    []string{"tabId"}},
		{Name: "tab.list", Capability: "tab", Action: "list",
			Description: "List open tabs with their ids, urls and titles."},
		{Name: "filesystem.read", Capability: "filesystem", Action: "read",
			Description: "Read a file from the workspace.",
			Required:    []string{"path"}},
		{Name: "filesystem.write", Capability: "filesystem", Action: "write",
			Description: "Write content to a file in the workspace.",
			Required:    []string{"path", "content"}},
		{Name: "filesystem.list", Capability: "filesystem", Action: "list",
			Description: "List the entries of a workspace directory.",
			Required:    []string{"path"}},
		{Name: "filesystem.delete", Capability: "filesystem", Action: "delete",
			Description: "Delete a file from the workspace.",
			Required:    []string{"path"}, Destructive: true},
		{Name: "dom.automation", Capability: "dom", Action: "automation",
			Description: "Run a sequence of DOM actions (click, type, extract) in a tab.",
			Required:    []string{"actions"},
			Optional:    []string{"tabId", "timeoutMs", "returnMode", "descriptorMode"},
			Validate:    validateDOMAutomation},
		{Name: "memory.search", Capability: "memory", Action: "search",
			Description: "Search long-term memory for relevant notes.",
			Required:    []string{"query"}, Optional: []string{"limit"}},
		{Name: "dailylog.append", Capability: "dailylog", Action: "append",
			Description: "Append an entry to today's activity log.",
			Required:    []string{"entry"}},
	}
}

// DefaultCatalog 返回内置工具目录。
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultDefinitions()...)
	if err != nil {
		panic(err)
	}
	return c
}
