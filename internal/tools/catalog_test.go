package tools

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "ClawAgent/internal/errors"
)

func TestDescribeKeepsDeclarationOrder(t *testing.T) {
	out := DefaultCatalog().Describe()
	lines := strings.Split(strings.TrimSpace(out), "\n")

	require.Len(t, lines, len(defaultDefinitions())+1)
	assert.Equal(t, "tab.navigate: Navigate a tab to a URL. (params: url, tabId?)", lines[0])
	assert.Equal(t, "tab.list: List open tabs with their ids, urls and titles.", lines[4])
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "terminalExec: "))
	assert.Contains(t, lines[len(lines)-1], "(params: command, args?, cwd?)")
}

func TestExtendRejectsDuplicates(t *testing.T) {
	base := DefaultCatalog()
	_, err := base.Extend(Definition{Name: "tab.list", Capability: "tab", Action: "list"})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeConflict, xerrors.CodeOf(err))

	_, err = base.Extend(Definition{Name: TerminalTool})
	require.Error(t, err)

	extended, err := base.Extend(Definition{Name: "clipboard.read", Capability: "clipboard", Action: "read", Description: "Read the clipboard."})
	require.NoError(t, err)
	assert.Equal(t, base.Len()+1, extended.Len())
	_, found := base.Lookup("clipboard.read")
	assert.False(t, found)
}

func TestLoadDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	content := `tools:
  - name: clipboard.write
    description: Write text to the clipboard.
    required: [text]
  - name: downloads.purge
    capability: downloads
    action: purge
    description: Remove all downloads.
    destructive: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "clipboard", defs[0].Capability)
	assert.Equal(t, "write", defs[0].Action)

	catalog, err := DefaultCatalog().Extend(defs...)
	require.NoError(t, err)
	call, ok := catalog.Parse(`{"tool":"downloads.purge"}`).(*AgentCall)
	require.True(t, ok)
	assert.True(t, call.Destructive)

	missing, ok := catalog.Parse(`{"tool":"clipboard.write"}`).(*InvalidCall)
	require.True(t, ok)
	assert.Equal(t, "Missing params: text", missing.Error)
}

func TestLoadDefinitionsErrors(t *testing.T) {
	_, err := LoadDefinitions(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tools:\n  - name: nodot\n"), 0o600))
	_, err = LoadDefinitions(path)
	require.Error(t, err)
}
