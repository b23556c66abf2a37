// Package decision implements C4: a pure, total function from one snapshot
// of orchestration state to the single next Action the runner should take.
// It performs no I/O and reads no clock except Input.Now, so it is trivial
// to property-test and impossible to make flaky.
//
// Grounded on the teacher's internal/executor/executor.go soft-failure
// decision logic (runSoftFailureAnalysis returning a closed
// SoftFailureDecision enum: RetryWithGuidance / MarkComplete /
// EscalateToHuman), generalized from "one binary retry/escalate choice"
// to the full gate-ordered decision table of spec.md §4.4.
package decision

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/relaygo/relay/internal/workflow"
)

// Input is decide's sole argument: everything it is allowed to look at.
type Input struct {
	Active bool

	Step    workflow.Step
	Config  workflow.OrchestrationConfig
	Batches workflow.BatchTracking
	// Workflow is nil when there is no workflow currently tracked for the
	// step/batch under consideration.
	Workflow *workflow.WorkflowSnapshot

	Now          time.Time
	TotalCostUSD decimal.Decimal
	StartedAt    time.Time

	// LookupFailures counts consecutive failed attempts to resolve a
	// previously-stored workflow ID to a WorkflowSnapshot; nonzero signals
	// "a workflow was spawned but its status can't currently be read",
	// distinct from "no workflow was ever spawned for this step".
	LookupFailures int

	// HasUserGate/UserGateConfirmed describe the phase definition and its
	// runtime confirmation state; only consulted for the verify->merge edge.
	HasUserGate       bool
	UserGateConfirmed bool
}

// Decision is the total output: a closed tagged union over workflow.Action,
// carrying only the fields each action actually uses.
type Decision struct {
	Action            workflow.Action
	Reason            string
	Skill             string
	NextStep          workflow.Phase
	NextIndex         int
	Context           string
	BatchIndex        int
	PauseAfterAdvance bool
	ErrorMessage      string
	RecoveryOptions   []workflow.RecoveryAction
	BackoffMs         int64
}

const maxBackoffMs = 30000

// Decide maps input to the single next action per spec.md §4.4's gate order:
// gates 1-3, then (if step.current == implement) the batch sub-matrix, then
// the workflow-state sub-matrix, then the step-completion sub-matrix, and
// finally a catch-all that never leaves a state unresolved.
func Decide(input Input) Decision {
	if !input.Active {
		return Decision{Action: workflow.ActionIdle, Reason: "no active orchestration"}
	}

	if input.Config.Budget.MaxTotal.IsPositive() && input.TotalCostUSD.GreaterThanOrEqual(input.Config.Budget.MaxTotal) {
		return Decision{
			Action: workflow.ActionFail,
			Reason: "budget exceeded",
			ErrorMessage: fmt.Sprintf("totalCostUsd %s >= maxTotal %s",
				input.TotalCostUSD.String(), input.Config.Budget.MaxTotal.String()),
		}
	}

	wallClockCap := input.Config.WallClockCap
	if wallClockCap <= 0 {
		wallClockCap = workflow.DefaultWallClockCap
	}
	if !input.StartedAt.IsZero() && input.Now.Sub(input.StartedAt) > wallClockCap {
		return Decision{
			Action:          workflow.ActionNeedsAttention,
			Reason:          "duration_exceeded",
			RecoveryOptions: []workflow.RecoveryAction{workflow.RecoveryRetry, workflow.RecoveryAbort},
		}
	}

	if input.Step.Current == workflow.PhaseImplement {
		if d := batchSubMatrix(input); d != nil {
			return *d
		}
	}

	if d := workflowStateSubMatrix(input); d != nil {
		return *d
	}

	if d := stepCompletionSubMatrix(input); d != nil {
		return *d
	}

	return Decision{
		Action: workflow.ActionNeedsAttention,
		Reason: "unknown_state",
		ErrorMessage: fmt.Sprintf(
			"step=%s/%s batches.current=%d/%d workflow=%v lookupFailures=%d",
			input.Step.Current, input.Step.Status, input.Batches.Current, input.Batches.Total,
			input.Workflow, input.LookupFailures),
	}
}

// staleThreshold resolves the configured staleness window, falling back to
// the documented default.
func staleThreshold(cfg workflow.OrchestrationConfig) time.Duration {
	if cfg.StalenessThreshold > 0 {
		return cfg.StalenessThreshold
	}
	return workflow.DefaultStalenessThreshold
}

// healBudgetRemaining reports whether the current batch is still eligible
// for an automatic heal attempt (reused by both the batch sub-matrix and
// the workflow-state sub-matrix's failed-workflow fallback, so the same
// predicate governs both entry points into heal_batch per spec.md §4.4).
func healBudgetRemaining(input Input) bool {
	item := input.Batches.CurrentItem()
	return item != nil && input.Config.AutoHealEnabled && item.HealAttempts < input.Config.MaxHealAttempts
}

// batchSubMatrix implements spec.md §4.4's batch sub-matrix. A nil return
// means "no decision here, fall through to the workflow-state sub-matrix".
func batchSubMatrix(input Input) *Decision {
	b := input.Batches

	if b.Total == 0 {
		return &Decision{Action: workflow.ActionInitializeBatches, Reason: "implement phase has no batch plan yet"}
	}

	allDone := b.AllDone()
	if allDone {
		if input.Step.Status != workflow.StepComplete {
			return &Decision{Action: workflow.ActionForceStepComplete, Reason: "all batches completed or healed"}
		}
		return nil // fall through: outer matrix will transition to verify
	}

	item := b.CurrentItem()
	if item == nil {
		return nil
	}
	last := b.IsLast()

	switch item.Status {
	case workflow.BatchRunning:
		if input.Workflow != nil {
			switch input.Workflow.Status {
			case workflow.WorkflowRunning:
				return nil // outer matrix emits wait
			case workflow.WorkflowCompleted:
				return advanceBatchDecision(input, last)
			}
		}
		return nil // failed/stale/cancelled/unknown: defer to workflow-state sub-matrix

	case workflow.BatchCompleted, workflow.BatchHealed:
		return advanceBatchDecision(input, last)

	case workflow.BatchPending:
		if input.Workflow == nil {
			return &Decision{
				Action:  workflow.ActionSpawn,
				Reason:  "pending batch has no workflow",
				Skill:   workflow.PhaseImplement.Skill(),
				Context: batchContext(item, input.Config),
			}
		}
		return nil

	case workflow.BatchFailed:
		if healBudgetRemaining(input) {
			return &Decision{Action: workflow.ActionHealBatch, Reason: "batch failed, heal budget remaining", BatchIndex: b.Current}
		}
		return &Decision{
			Action:          workflow.ActionRecoverFailed,
			Reason:          "batch failed, heal budget exhausted",
			RecoveryOptions: []workflow.RecoveryAction{workflow.RecoveryRetry, workflow.RecoverySkip, workflow.RecoveryAbort},
		}
	}

	return &Decision{Action: workflow.ActionWait, Reason: "batch in unrecognized state"}
}

// advanceBatchDecision builds the advance_batch decision shared by the
// "running batch whose workflow finished" and "already completed/healed
// batch" branches of the batch sub-matrix.
func advanceBatchDecision(input Input, last bool) *Decision {
	return &Decision{
		Action:            workflow.ActionAdvanceBatch,
		Reason:            "batch finished",
		BatchIndex:        input.Batches.Current,
		PauseAfterAdvance: input.Config.PauseBetweenBatches && !last,
	}
}

// batchContext builds the spawn prompt restricting a flow.implement
// subprocess to exactly one batch's section and task IDs.
func batchContext(item *workflow.BatchItem, cfg workflow.OrchestrationConfig) string {
	ctx := fmt.Sprintf("Execute only the %q section (%s). Do NOT work on tasks from other sections.",
		item.Section, joinTaskIDs(item.TaskIDs))
	if cfg.AdditionalContext != "" {
		ctx += "\n\n" + cfg.AdditionalContext
	}
	return ctx
}

func joinTaskIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		out += id
	}
	return out
}

// workflowStateSubMatrix implements spec.md §4.4 item 5. A nil return means
// "evaluate the step-completion sub-matrix instead".
func workflowStateSubMatrix(input Input) *Decision {
	if input.Workflow == nil {
		if input.LookupFailures > 0 {
			backoff := int64(1000)
			for i := 0; i < input.LookupFailures && backoff < maxBackoffMs; i++ {
				backoff *= 2
			}
			if backoff > maxBackoffMs {
				backoff = maxBackoffMs
			}
			return &Decision{
				Action:    workflow.ActionWaitWithBackoff,
				Reason:    "stored workflow id did not resolve to a snapshot",
				BackoffMs: backoff,
			}
		}
		return nil
	}

	switch input.Workflow.Status {
	case workflow.WorkflowRunning:
		if !input.Workflow.LastActivityAt.IsZero() &&
			input.Now.Sub(input.Workflow.LastActivityAt) > staleThreshold(input.Config) {
			return &Decision{Action: workflow.ActionRecoverStale, Reason: "workflow running but no recent activity"}
		}
		return &Decision{Action: workflow.ActionWait, Reason: "workflow running"}

	case workflow.WorkflowWaitingForInput:
		return &Decision{Action: workflow.ActionWait, Reason: "workflow waiting for input"}

	case workflow.WorkflowFailed:
		if input.Step.Current == workflow.PhaseImplement && healBudgetRemaining(input) {
			return &Decision{Action: workflow.ActionHealBatch, Reason: "workflow failed, heal budget remaining", BatchIndex: input.Batches.Current}
		}
		return &Decision{
			Action:          workflow.ActionNeedsAttention,
			Reason:          "workflow failed",
			RecoveryOptions: []workflow.RecoveryAction{workflow.RecoveryRetry, workflow.RecoverySkip, workflow.RecoveryAbort},
		}

	case workflow.WorkflowCancelled:
		return &Decision{
			Action:          workflow.ActionNeedsAttention,
			Reason:          "workflow cancelled",
			RecoveryOptions: []workflow.RecoveryAction{workflow.RecoveryRetry, workflow.RecoverySkip, workflow.RecoveryAbort},
		}

	case workflow.WorkflowCompleted:
		if input.Step.Current != workflow.PhaseImplement {
			return nil // evaluate step-completion sub-matrix
		}
		return nil // unexpected (batch matrix should have handled it); catch-all will report it if truly stuck
	}

	return nil
}

// stepCompletionSubMatrix implements spec.md §4.4 item 6.
func stepCompletionSubMatrix(input Input) *Decision {
	switch input.Step.Status {
	case workflow.StepComplete:
		next, hasNext := input.Step.Current.Next()
		if !hasNext || next == workflow.PhaseComplete {
			return &Decision{Action: workflow.ActionComplete, Reason: "final step complete"}
		}
		if input.Step.Current == workflow.PhaseVerify && next == workflow.PhaseMerge {
			if input.HasUserGate && !input.UserGateConfirmed {
				return &Decision{Action: workflow.ActionWaitUserGate, Reason: "verify complete, awaiting user gate confirmation"}
			}
			if !input.Config.AutoMerge {
				return &Decision{Action: workflow.ActionWaitMerge, Reason: "verify complete, autoMerge disabled"}
			}
			return &Decision{Action: workflow.ActionTransition, Reason: "verify complete, merging", NextStep: workflow.PhaseMerge, NextIndex: next.Index()}
		}
		return &Decision{Action: workflow.ActionTransition, Reason: "step complete", NextStep: next, NextIndex: next.Index()}

	case workflow.StepFailed, workflow.StepBlocked:
		return &Decision{
			Action:          workflow.ActionRecoverFailed,
			Reason:          fmt.Sprintf("step %s", input.Step.Status),
			RecoveryOptions: []workflow.RecoveryAction{workflow.RecoveryRetry, workflow.RecoveryAbort},
		}

	case workflow.StepInProgress:
		if input.Workflow == nil {
			return &Decision{Action: workflow.ActionSpawn, Reason: "step in progress with no workflow", Skill: input.Step.Current.Skill()}
		}
		return nil

	case workflow.StepNotStarted, "":
		if input.Step.Current == workflow.PhaseImplement && input.Batches.Total == 0 {
			return &Decision{Action: workflow.ActionInitializeBatches, Reason: "implement not started, no batch plan"}
		}
		return &Decision{Action: workflow.ActionSpawn, Reason: "step not started", Skill: input.Step.Current.Skill()}

	case workflow.StepPending, workflow.StepSkipped:
		return &Decision{
			Action: workflow.ActionNeedsAttention,
			Reason: "unknown_status",
		}
	}

	return &Decision{Action: workflow.ActionNeedsAttention, Reason: "unknown_status"}
}
