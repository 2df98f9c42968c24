package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ClawAgent/internal/config"
	"ClawAgent/internal/orchestrator"
)

func TestToolsCommandPrintsCatalog(t *testing.T) {
	dir := t.TempDir()
	defs := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(defs, []byte(`tools:
  - name: calendar.read
    description: Read calendar entries.
    required: [date]
`), 0o644))
	path := filepath.Join(dir, "claw.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tools": {"definitions_path": "tools.yaml"}}`), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"tools", "--config", path})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	assert.Contains(t, out.String(), "terminal")
	assert.Contains(t, out.String(), "calendar.read")
}

func TestLimitsFromOverridesOnlySetFields(t *testing.T) {
	limits := limitsFrom(config.OrchestratorConfig{StepCap: 5, ObservationLimit: 100})
	defaults := orchestrator.DefaultLimits()

	assert.Equal(t, 5, limits.StepCap)
	assert.Equal(t, 100, limits.ObservationLimit)
	assert.Equal(t, defaults.MaxToolIterations, limits.MaxToolIterations)
	assert.Equal(t, defaults.NodeVisitBail, limits.NodeVisitBail)
}

func TestBuildModelsRejectsMissingKey(t *testing.T) {
	t.Setenv("CLAW_TEST_MISSING_KEY", "")
	_, err := buildModels(config.LLMConfig{Primary: config.ModelConfig{
		Provider: "openai",
		OpenAI:   config.OpenAIConfig{APIKeyEnv: "CLAW_TEST_MISSING_KEY", Model: "m"},
	}})
	require.Error(t, err)

	roles, err := buildModels(config.LLMConfig{})
	require.NoError(t, err)
	assert.NotNil(t, roles)
}

func TestOpenBridgeRejectsUnknownDriver(t *testing.T) {
	_, err := openBridge(context.Background(), config.BridgeConfig{Driver: "grpc"})
	require.Error(t, err)

	b, err := openBridge(context.Background(), config.BridgeConfig{Driver: "memory", Buffer: 4})
	require.NoError(t, err)
	require.NoError(t, b.Close())
}
