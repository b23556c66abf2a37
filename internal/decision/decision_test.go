package decision

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygo/relay/internal/workflow"
)

func baseConfig() workflow.OrchestrationConfig {
	return workflow.OrchestrationConfig{
		AutoHealEnabled: true,
		MaxHealAttempts: 2,
		Budget: workflow.Budget{
			MaxTotal: decimal.NewFromFloat(5.0),
		},
	}
}

func TestDecide_InactiveOrchestration_Idle(t *testing.T) {
	d := Decide(Input{Active: false})
	assert.Equal(t, workflow.ActionIdle, d.Action)
}

func TestDecide_Determinism_P1(t *testing.T) {
	input := Input{
		Active:       true,
		Step:         workflow.Step{Current: workflow.PhaseDesign, Status: workflow.StepInProgress},
		Config:       baseConfig(),
		StartedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:          time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC),
		TotalCostUSD: decimal.NewFromFloat(1.0),
	}
	d1 := Decide(input)
	d2 := Decide(input)
	assert.Equal(t, d1, d2)
}

func TestDecide_BudgetExceeded_Fails(t *testing.T) {
	input := Input{
		Active:       true,
		Step:         workflow.Step{Current: workflow.PhaseImplement, Status: workflow.StepInProgress},
		Config:       baseConfig(),
		StartedAt:    time.Now().Add(-time.Hour),
		Now:          time.Now(),
		TotalCostUSD: decimal.NewFromFloat(5.01),
		Batches:      workflow.BatchTracking{Total: 1, Current: 0, Items: []workflow.BatchItem{{Index: 0, Status: workflow.BatchRunning}}},
	}
	d := Decide(input)
	assert.Equal(t, workflow.ActionFail, d.Action)
}

func TestDecide_WallClockExceeded_NeedsAttention_P6(t *testing.T) {
	input := Input{
		Active:       true,
		Step:         workflow.Step{Current: workflow.PhaseDesign, Status: workflow.StepInProgress},
		Config:       baseConfig(),
		StartedAt:    time.Now().Add(-5 * time.Hour),
		Now:          time.Now(),
		TotalCostUSD: decimal.Zero,
	}
	d := Decide(input)
	assert.Equal(t, workflow.ActionNeedsAttention, d.Action)
	assert.Equal(t, "duration_exceeded", d.Reason)
	assert.ElementsMatch(t, []workflow.RecoveryAction{workflow.RecoveryRetry, workflow.RecoveryAbort}, d.RecoveryOptions)
}

func TestDecide_ImplementNoBatches_InitializesBatches(t *testing.T) {
	input := Input{
		Active:    true,
		Step:      workflow.Step{Current: workflow.PhaseImplement, Status: workflow.StepInProgress},
		Config:    baseConfig(),
		StartedAt: time.Now(),
		Now:       time.Now(),
		Batches:   workflow.BatchTracking{Total: 0},
	}
	d := Decide(input)
	assert.Equal(t, workflow.ActionInitializeBatches, d.Action)
}

func TestDecide_PendingBatchNoWorkflow_Spawns(t *testing.T) {
	input := Input{
		Active: true,
		Step:   workflow.Step{Current: workflow.PhaseImplement, Status: workflow.StepInProgress},
		Config: baseConfig(),
		Now:    time.Now(), StartedAt: time.Now(),
		Batches: workflow.BatchTracking{
			Total: 2, Current: 0,
			Items: []workflow.BatchItem{
				{Index: 0, Section: "Core", TaskIDs: []string{"T001", "T002"}, Status: workflow.BatchPending},
				{Index: 1, Section: "Misc", TaskIDs: []string{"T003"}, Status: workflow.BatchPending},
			},
		},
	}
	d := Decide(input)
	require.Equal(t, workflow.ActionSpawn, d.Action)
	assert.Equal(t, "flow.implement", d.Skill)
	assert.Contains(t, d.Context, `"Core"`)
	assert.Contains(t, d.Context, "T001, T002")
}

func TestDecide_RunningBatchWorkflowCompleted_AdvancesBatch(t *testing.T) {
	input := Input{
		Active: true,
		Step:   workflow.Step{Current: workflow.PhaseImplement, Status: workflow.StepInProgress},
		Config: baseConfig(),
		Now:    time.Now(), StartedAt: time.Now(),
		Batches: workflow.BatchTracking{
			Total: 2, Current: 0,
			Items: []workflow.BatchItem{
				{Index: 0, Section: "Core", Status: workflow.BatchRunning},
				{Index: 1, Section: "Misc", Status: workflow.BatchPending},
			},
		},
		Workflow: &workflow.WorkflowSnapshot{Status: workflow.WorkflowCompleted},
	}
	d := Decide(input)
	assert.Equal(t, workflow.ActionAdvanceBatch, d.Action)
	assert.Equal(t, 0, d.BatchIndex)
	assert.False(t, d.PauseAfterAdvance)
}

func TestDecide_AllBatchesDoneStepNotComplete_ForcesStepComplete(t *testing.T) {
	input := Input{
		Active: true,
		Step:   workflow.Step{Current: workflow.PhaseImplement, Status: workflow.StepInProgress},
		Config: baseConfig(),
		Now:    time.Now(), StartedAt: time.Now(),
		Batches: workflow.BatchTracking{
			Total: 1, Current: 0,
			Items: []workflow.BatchItem{{Index: 0, Status: workflow.BatchCompleted}},
		},
	}
	d := Decide(input)
	assert.Equal(t, workflow.ActionForceStepComplete, d.Action)
}

func TestDecide_StepCompleteNonTerminal_Transitions(t *testing.T) {
	input := Input{
		Active: true,
		Step:   workflow.Step{Current: workflow.PhaseDesign, Status: workflow.StepComplete},
		Config: baseConfig(),
		Now:    time.Now(), StartedAt: time.Now(),
	}
	d := Decide(input)
	assert.Equal(t, workflow.ActionTransition, d.Action)
	assert.Equal(t, workflow.PhaseAnalyze, d.NextStep)
}

func TestDecide_MergeStepComplete_Completes(t *testing.T) {
	input := Input{
		Active: true,
		Step:   workflow.Step{Current: workflow.PhaseMerge, Status: workflow.StepComplete},
		Config: baseConfig(),
		Now:    time.Now(), StartedAt: time.Now(),
	}
	d := Decide(input)
	assert.Equal(t, workflow.ActionComplete, d.Action)
}

// Scenario 3 (heal exhaustion): heal attempts 1 and 2 heal, attempt 3 recovers.
func TestDecide_HealExhaustion_Scenario3(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxHealAttempts = 2

	mkInput := func(healAttempts int) Input {
		return Input{
			Active: true,
			Step:   workflow.Step{Current: workflow.PhaseImplement, Status: workflow.StepInProgress},
			Config: cfg,
			Now:    time.Now(), StartedAt: time.Now(),
			Batches: workflow.BatchTracking{
				Total: 1, Current: 0,
				Items: []workflow.BatchItem{{Index: 0, Status: workflow.BatchFailed, HealAttempts: healAttempts}},
			},
		}
	}

	d1 := Decide(mkInput(0))
	assert.Equal(t, workflow.ActionHealBatch, d1.Action)

	d2 := Decide(mkInput(1))
	assert.Equal(t, workflow.ActionHealBatch, d2.Action)

	d3 := Decide(mkInput(2))
	assert.Equal(t, workflow.ActionRecoverFailed, d3.Action)
	assert.ElementsMatch(t, []workflow.RecoveryAction{workflow.RecoveryRetry, workflow.RecoverySkip, workflow.RecoveryAbort}, d3.RecoveryOptions)
}

// Scenario 6 (user gate before merge).
func TestDecide_UserGatePendingBeforeMerge_Scenario6(t *testing.T) {
	cfg := baseConfig()
	cfg.AutoMerge = true
	input := Input{
		Active:            true,
		Step:              workflow.Step{Current: workflow.PhaseVerify, Status: workflow.StepComplete},
		Config:            cfg,
		Now:               time.Now(),
		StartedAt:         time.Now(),
		HasUserGate:       true,
		UserGateConfirmed: false,
	}
	d := Decide(input)
	assert.Equal(t, workflow.ActionWaitUserGate, d.Action)

	input.UserGateConfirmed = true
	d2 := Decide(input)
	assert.Equal(t, workflow.ActionTransition, d2.Action)
	assert.Equal(t, workflow.PhaseMerge, d2.NextStep)
}

func TestDecide_VerifyCompleteAutoMergeDisabled_WaitMerge(t *testing.T) {
	cfg := baseConfig()
	cfg.AutoMerge = false
	input := Input{
		Active: true,
		Step:   workflow.Step{Current: workflow.PhaseVerify, Status: workflow.StepComplete},
		Config: cfg,
		Now:    time.Now(), StartedAt: time.Now(),
	}
	d := Decide(input)
	assert.Equal(t, workflow.ActionWaitMerge, d.Action)
}

func TestDecide_WorkflowFailedOutsideImplement_NeedsAttention(t *testing.T) {
	input := Input{
		Active:   true,
		Step:     workflow.Step{Current: workflow.PhaseDesign, Status: workflow.StepInProgress},
		Config:   baseConfig(),
		Now:      time.Now(), StartedAt: time.Now(),
		Workflow: &workflow.WorkflowSnapshot{Status: workflow.WorkflowFailed},
	}
	d := Decide(input)
	assert.Equal(t, workflow.ActionNeedsAttention, d.Action)
	assert.ElementsMatch(t, []workflow.RecoveryAction{workflow.RecoveryRetry, workflow.RecoverySkip, workflow.RecoveryAbort}, d.RecoveryOptions)
}

func TestDecide_LookupFailures_WaitWithBackoff(t *testing.T) {
	input := Input{
		Active: true,
		Step:   workflow.Step{Current: workflow.PhaseDesign, Status: workflow.StepInProgress},
		Config: baseConfig(),
		Now:    time.Now(), StartedAt: time.Now(),
		LookupFailures: 3,
	}
	d := Decide(input)
	assert.Equal(t, workflow.ActionWaitWithBackoff, d.Action)
	assert.Equal(t, int64(8000), d.BackoffMs)
}

func TestDecide_CatchAll_UnknownStatus(t *testing.T) {
	input := Input{
		Active: true,
		Step:   workflow.Step{Current: workflow.PhaseDesign, Status: workflow.StepSkipped},
		Config: baseConfig(),
		Now:    time.Now(), StartedAt: time.Now(),
	}
	d := Decide(input)
	assert.Equal(t, workflow.ActionNeedsAttention, d.Action)
	assert.Equal(t, "unknown_status", d.Reason)
}
