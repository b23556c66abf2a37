package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "claude", cfg.Agent.Binary)
	assert.Equal(t, 3, cfg.Defaults.MaxHealAttempts)
}

func TestLoad_ParsesYAMLAndFillsMissingFields(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".relay"), 0o755))
	yaml := "agent:\n  binary: custom-claude\ndefaults:\n  max_heal_attempts: 7\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".relay", "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "custom-claude", cfg.Agent.Binary)
	assert.Equal(t, 7, cfg.Defaults.MaxHealAttempts)
	assert.Equal(t, "sonnet", cfg.Agent.Model, "unset fields still fall back to default")
	assert.Equal(t, 5, cfg.Defaults.BatchSizeFallback)
}

func TestPollingInterval_ConvertsSecondsToDuration(t *testing.T) {
	cfg := Default()
	cfg.Supervisor.PollingIntervalSeconds = 10
	assert.Equal(t, 10*time.Second, cfg.PollingInterval())
}

func TestToOrchestrationConfig_ParsesDecimalBudgets(t *testing.T) {
	cfg := Default()
	oc, err := cfg.ToOrchestrationConfig()
	require.NoError(t, err)
	assert.True(t, oc.Budget.MaxTotal.Equal(decimal.NewFromInt(50)))
	assert.True(t, oc.Budget.MaxPerBatch.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 4*time.Hour, oc.WallClockCap)
	assert.Equal(t, 5*time.Minute, oc.StalenessThreshold)
}

func TestToOrchestrationConfig_RejectsUnparseableBudget(t *testing.T) {
	cfg := Default()
	cfg.Defaults.MaxTotalUSD = "not-a-number"
	_, err := cfg.ToOrchestrationConfig()
	assert.Error(t, err)
}
