// Package heal implements C7, the Auto-Heal Coordinator, with its two entry
// points: post-workflow reconciliation (sync step status with a terminal
// workflow's outcome) and batch heal (invoke an external healing routine
// and fold its verdict into BatchTracking).
//
// Grounded on the teacher's internal/executor/executor.go
// updateStateAndRoadmap (the pattern of reading current state, comparing
// against an external signal, and writing back only the fields that
// changed) and its retry/heal bookkeeping around SoftFailureDecision.
package heal

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/relaygo/relay/internal/statestore"
	"github.com/relaygo/relay/internal/stepsetter"
	"github.com/relaygo/relay/internal/workflow"
)

// skillToPhase maps a completed skill name back to the phase it executed,
// per spec.md §4.7(a) ("flow.design -> design, ...").
func skillToPhase(skill string) (workflow.Phase, bool) {
	for _, p := range []workflow.Phase{
		workflow.PhaseDesign, workflow.PhaseAnalyze, workflow.PhaseImplement,
		workflow.PhaseVerify, workflow.PhaseMerge,
	} {
		if p.Skill() == skill {
			return p, true
		}
	}
	return "", false
}

// Coordinator wires the two C7 entry points to the store and the step setter.
type Coordinator struct {
	Store  *statestore.Store
	Setter stepsetter.Setter
}

// New constructs a Coordinator.
func New(store *statestore.Store, setter stepsetter.Setter) *Coordinator {
	return &Coordinator{Store: store, Setter: setter}
}

// ReconcileWorkflow implements spec.md §4.7(a). terminalStatus must be
// WorkflowCompleted or WorkflowFailed. It never forces a step change when
// the expected step (derived from completedSkill) differs from the
// current step — such a mismatch is logged by the caller and is a no-op
// here.
func (c *Coordinator) ReconcileWorkflow(ctx context.Context, orchestrationID, completedSkill string, terminalStatus workflow.WorkflowStatus, workflowID string) error {
	if terminalStatus != workflow.WorkflowCompleted && terminalStatus != workflow.WorkflowFailed {
		return fmt.Errorf("reconcile: terminalStatus must be completed or failed, got %q", terminalStatus)
	}

	expectedPhase, ok := skillToPhase(completedSkill)
	if !ok {
		return fmt.Errorf("reconcile: unrecognized skill %q", completedSkill)
	}

	step, err := c.Store.ReadStep()
	if err != nil {
		return err
	}
	if step == nil || step.Current != expectedPhase {
		return nil // expected step differs from current: no-op, per §4.7(a)
	}

	wantStatus := workflow.StepComplete
	if terminalStatus == workflow.WorkflowFailed {
		wantStatus = workflow.StepFailed
	}
	if step.Status != wantStatus {
		if err := c.Setter.SetStep(ctx, step.Current, wantStatus, step.Index); err != nil {
			return err
		}
	}

	state, err := c.Store.ReadDashboardState()
	if err != nil {
		return err
	}
	if state == nil {
		state = workflow.NewDashboardState()
	}
	if state.LastWorkflow != nil && state.LastWorkflow.ID == workflowID {
		state.LastWorkflow.Status = terminalStatus
	}
	return c.Store.WriteDashboardState(orchestrationID, state)
}

// HealResult is the external healing routine's verdict, per spec.md §4.7(b).
type HealResult struct {
	Success      bool
	ResultStatus HealOutcome
	SessionID    string
	CostUSD      decimal.Decimal
	DurationMs   int64
	ErrorMessage string
}

// HealOutcome is the closed set of healing verdicts.
type HealOutcome string

const (
	HealFixed   HealOutcome = "fixed"
	HealPartial HealOutcome = "partial"
	HealFailed  HealOutcome = "failed"
)

// HealFunc invokes the external (black-box) healing routine for one batch.
type HealFunc func(ctx context.Context, section string, taskIDs []string, previousWorkflowID, sessionID string, healingBudget decimal.Decimal) (HealResult, error)

// HealBatch implements spec.md §4.7(b): invoke heal for the batch at
// batchIndex, then fold its verdict into state. On success+fixed: mark
// healed, record the healer's session as HealerExecutionID, and advance
// the batch cursor if eligible. Otherwise: increment healAttempts, and
// mark the whole orchestration failed once healAttempts reaches the
// configured ceiling.
func (c *Coordinator) HealBatch(ctx context.Context, orchestrationID string, batchIndex int, cfg workflow.OrchestrationConfig, previousWorkflowID, sessionID string, heal HealFunc) (HealResult, error) {
	state, err := c.Store.ReadDashboardState()
	if err != nil {
		return HealResult{}, err
	}
	if state == nil || batchIndex < 0 || batchIndex >= len(state.Batches.Items) {
		return HealResult{}, fmt.Errorf("heal: batch %d out of range", batchIndex)
	}
	item := &state.Batches.Items[batchIndex]

	result, err := heal(ctx, item.Section, item.TaskIDs, previousWorkflowID, sessionID, cfg.Budget.HealingBudget)
	if err != nil {
		return HealResult{}, err
	}

	if result.Success && result.ResultStatus == HealFixed {
		item.Status = workflow.BatchHealed
		item.HealerExecutionID = result.SessionID
		if batchIndex == state.Batches.Current && state.Batches.Current < state.Batches.Total-1 {
			state.Batches.Current++
		}
	} else {
		item.HealAttempts++
		if item.HealAttempts >= cfg.MaxHealAttempts {
			if state.Active != nil {
				state.Active.Status = workflow.OrchFailed
			}
			state.RecoveryContext = &workflow.RecoveryContext{
				Issue:            fmt.Sprintf("batch %d exhausted heal attempts: %s", batchIndex, result.ErrorMessage),
				Options:          []workflow.RecoveryAction{workflow.RecoveryRetry, workflow.RecoverySkip, workflow.RecoveryAbort},
				FailedWorkflowID: previousWorkflowID,
			}
		}
	}

	state.Cost.Total = state.Cost.Total.Add(result.CostUSD)
	if state.Cost.PerBatch == nil {
		state.Cost.PerBatch = map[string]decimal.Decimal{}
	}
	state.Cost.PerBatch[item.Section] = state.Cost.PerBatch[item.Section].Add(result.CostUSD)

	if err := c.Store.WriteDashboardState(orchestrationID, state); err != nil {
		return HealResult{}, err
	}
	return result, nil
}
