// Package config loads supervisor-level settings (agent binary location,
// polling cadence, polling attempt limit) and the default
// OrchestrationConfig new orchestrations start from, via a YAML file under
// the project root with viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/relaygo/relay/internal/runner"
	"github.com/relaygo/relay/internal/workflow"
)

// Config is the full supervisor configuration: process-level settings plus
// the orchestration defaults new runs inherit unless overridden.
type Config struct {
	Agent       AgentConfig        `mapstructure:"agent"`
	Supervisor  SupervisorConfig   `mapstructure:"supervisor"`
	Defaults    OrchestrationDefaults `mapstructure:"defaults"`
}

// AgentConfig locates the subprocess C5 spawns.
type AgentConfig struct {
	Binary string `mapstructure:"binary"`
	Model  string `mapstructure:"model"`
}

// SupervisorConfig holds C6's own loop parameters, kept distinct from
// per-orchestration config since they govern the runner process, not any
// one orchestration's business rules.
type SupervisorConfig struct {
	PollingIntervalSeconds int `mapstructure:"polling_interval_seconds"`
	MaxPollingAttempts     int `mapstructure:"max_polling_attempts"`
}

// OrchestrationDefaults mirrors workflow.OrchestrationConfig's fields in
// YAML-friendly form (plain seconds/strings instead of time.Duration and
// decimal.Decimal, which viper/mapstructure do not decode directly).
type OrchestrationDefaults struct {
	AutoMerge              bool   `mapstructure:"auto_merge"`
	AutoHealEnabled        bool   `mapstructure:"auto_heal_enabled"`
	MaxHealAttempts        int    `mapstructure:"max_heal_attempts"`
	PauseBetweenBatches    bool   `mapstructure:"pause_between_batches"`
	BatchSizeFallback      int    `mapstructure:"batch_size_fallback"`
	MaxTotalUSD            string `mapstructure:"max_total_usd"`
	MaxPerBatchUSD         string `mapstructure:"max_per_batch_usd"`
	HealingBudgetUSD       string `mapstructure:"healing_budget_usd"`
	DecisionBudgetUSD      string `mapstructure:"decision_budget_usd"`
	WallClockCapHours      int    `mapstructure:"wall_clock_cap_hours"`
	StalenessThresholdMins int    `mapstructure:"staleness_threshold_minutes"`
}

// Load reads <projectDir>/.relay/config.yaml, falling back to Default()
// when the file is absent, and fills any zero-valued field left over
// after unmarshal with the documented default.
func Load(projectDir string) (*Config, error) {
	configPath := filepath.Join(projectDir, ".relay", "config.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Default(), nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Default returns the documented out-of-the-box configuration.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Binary: "claude",
			Model:  "sonnet",
		},
		Supervisor: SupervisorConfig{
			PollingIntervalSeconds: int(runner.DefaultPollingInterval / time.Second),
			MaxPollingAttempts:     runner.DefaultMaxPollingAttempts,
		},
		Defaults: OrchestrationDefaults{
			AutoMerge:              false,
			AutoHealEnabled:        true,
			MaxHealAttempts:        3,
			PauseBetweenBatches:    false,
			BatchSizeFallback:      5,
			MaxTotalUSD:            "50",
			MaxPerBatchUSD:         "10",
			HealingBudgetUSD:       "5",
			DecisionBudgetUSD:      "0",
			WallClockCapHours:      4,
			StalenessThresholdMins: 5,
		},
	}
}

func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Agent.Binary == "" {
		cfg.Agent.Binary = d.Agent.Binary
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = d.Agent.Model
	}
	if cfg.Supervisor.PollingIntervalSeconds == 0 {
		cfg.Supervisor.PollingIntervalSeconds = d.Supervisor.PollingIntervalSeconds
	}
	if cfg.Supervisor.MaxPollingAttempts == 0 {
		cfg.Supervisor.MaxPollingAttempts = d.Supervisor.MaxPollingAttempts
	}
	if cfg.Defaults.MaxHealAttempts == 0 {
		cfg.Defaults.MaxHealAttempts = d.Defaults.MaxHealAttempts
	}
	if cfg.Defaults.BatchSizeFallback == 0 {
		cfg.Defaults.BatchSizeFallback = d.Defaults.BatchSizeFallback
	}
	if cfg.Defaults.MaxTotalUSD == "" {
		cfg.Defaults.MaxTotalUSD = d.Defaults.MaxTotalUSD
	}
	if cfg.Defaults.MaxPerBatchUSD == "" {
		cfg.Defaults.MaxPerBatchUSD = d.Defaults.MaxPerBatchUSD
	}
	if cfg.Defaults.HealingBudgetUSD == "" {
		cfg.Defaults.HealingBudgetUSD = d.Defaults.HealingBudgetUSD
	}
	if cfg.Defaults.WallClockCapHours == 0 {
		cfg.Defaults.WallClockCapHours = d.Defaults.WallClockCapHours
	}
	if cfg.Defaults.StalenessThresholdMins == 0 {
		cfg.Defaults.StalenessThresholdMins = d.Defaults.StalenessThresholdMins
	}
}

// PollingInterval returns the supervisor's polling cadence as a Duration.
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.Supervisor.PollingIntervalSeconds) * time.Second
}

// ToOrchestrationConfig converts the YAML-friendly defaults into the
// workflow.OrchestrationConfig new orchestrations are seeded with,
// parsing its decimal budget fields.
func (c *Config) ToOrchestrationConfig() (workflow.OrchestrationConfig, error) {
	maxTotal, err := decimal.NewFromString(c.Defaults.MaxTotalUSD)
	if err != nil {
		return workflow.OrchestrationConfig{}, fmt.Errorf("max_total_usd: %w", err)
	}
	maxPerBatch, err := decimal.NewFromString(c.Defaults.MaxPerBatchUSD)
	if err != nil {
		return workflow.OrchestrationConfig{}, fmt.Errorf("max_per_batch_usd: %w", err)
	}
	healingBudget, err := decimal.NewFromString(c.Defaults.HealingBudgetUSD)
	if err != nil {
		return workflow.OrchestrationConfig{}, fmt.Errorf("healing_budget_usd: %w", err)
	}
	decisionBudget := decimal.Zero
	if c.Defaults.DecisionBudgetUSD != "" {
		decisionBudget, err = decimal.NewFromString(c.Defaults.DecisionBudgetUSD)
		if err != nil {
			return workflow.OrchestrationConfig{}, fmt.Errorf("decision_budget_usd: %w", err)
		}
	}

	return workflow.OrchestrationConfig{
		AutoMerge:           c.Defaults.AutoMerge,
		AutoHealEnabled:     c.Defaults.AutoHealEnabled,
		MaxHealAttempts:     c.Defaults.MaxHealAttempts,
		PauseBetweenBatches: c.Defaults.PauseBetweenBatches,
		BatchSizeFallback:   c.Defaults.BatchSizeFallback,
		Budget: workflow.Budget{
			MaxTotal:       maxTotal,
			MaxPerBatch:    maxPerBatch,
			HealingBudget:  healingBudget,
			DecisionBudget: decisionBudget,
		},
		WallClockCap:       time.Duration(c.Defaults.WallClockCapHours) * time.Hour,
		StalenessThreshold: time.Duration(c.Defaults.StalenessThresholdMins) * time.Minute,
	}, nil
}
