// Package workflow holds the domain types shared by every orchestration
// component: the pipeline Step, the implement-phase BatchTracking, the
// persisted DashboardState, and the ephemeral WorkflowSnapshot view a
// subprocess is observed through.
package workflow

import (
	"time"

	"github.com/shopspring/decimal"
)

// Budget holds the cost ceilings for one orchestration. Amounts are decimal
// to avoid float64 drift across hundreds of incremental cost updates (P5:
// totalCostUsd must be monotonically non-decreasing and compared exactly
// against maxTotal at the budget gate).
type Budget struct {
	MaxPerBatch     decimal.Decimal `json:"maxPerBatch"`
	MaxTotal        decimal.Decimal `json:"maxTotal"`
	HealingBudget   decimal.Decimal `json:"healingBudget"`
	DecisionBudget  decimal.Decimal `json:"decisionBudget"`
}

// OrchestrationConfig is immutable for the lifetime of one orchestration.
type OrchestrationConfig struct {
	AutoMerge           bool          `json:"autoMerge"`
	AutoHealEnabled     bool          `json:"autoHealEnabled"`
	MaxHealAttempts     int           `json:"maxHealAttempts"`
	PauseBetweenBatches bool          `json:"pauseBetweenBatches"`
	BatchSizeFallback   int           `json:"batchSizeFallback"`
	SkipDesign          bool          `json:"skipDesign"`
	SkipAnalyze         bool          `json:"skipAnalyze"`
	SkipImplement       bool          `json:"skipImplement"`
	SkipVerify          bool          `json:"skipVerify"`
	AdditionalContext   string        `json:"additionalContext"`
	Budget              Budget        `json:"budget"`

	// WallClockCap and StalenessThreshold are configurable rather than
	// hardcoded constants (spec.md §9 Open Questions), defaulting to 4h
	// and 5m respectively. See internal/config for defaults/overrides.
	WallClockCap       time.Duration `json:"wallClockCap"`
	StalenessThreshold time.Duration `json:"stalenessThreshold"`
}

// Step is the primary signal of phase completion, maintained by external
// sub-commands and, in specific cases, by the core.
type Step struct {
	Current Phase      `json:"current"`
	Index   int        `json:"index"`
	Status  StepStatus `json:"status"`
}

// BatchItem is one contiguous group of incomplete tasks executed by a single
// flow.implement workflow.
type BatchItem struct {
	Index        int         `json:"index"`
	Section      string      `json:"section"`
	TaskIDs      []string    `json:"taskIds"`
	Status       BatchStatus `json:"status"`
	HealAttempts int         `json:"healAttempts"`
	WorkflowID   string      `json:"workflowId,omitempty"`
	// HealerExecutionID is set when C7 heals a batch (4.7(b)): the healer's
	// own session ID, kept distinct from WorkflowID so a healed batch
	// retains both the original and the healer's execution identity.
	HealerExecutionID string `json:"healerExecutionId,omitempty"`
}

// BatchTracking is the implement-phase plan: an ordered list of batches and
// a cursor into it.
type BatchTracking struct {
	Total   int         `json:"total"`
	Current int         `json:"current"`
	Items   []BatchItem `json:"items"`
}

// CurrentItem returns a pointer to the batch at Current, or nil if out of range.
func (b *BatchTracking) CurrentItem() *BatchItem {
	if b.Current < 0 || b.Current >= len(b.Items) {
		return nil
	}
	return &b.Items[b.Current]
}

// IsLast reports whether Current is the last batch in the plan.
func (b *BatchTracking) IsLast() bool {
	return b.Total > 0 && b.Current == b.Total-1
}

// AllDone reports whether every batch has reached a terminal completed state.
func (b *BatchTracking) AllDone() bool {
	if b.Total == 0 {
		return false
	}
	for _, item := range b.Items {
		if item.Status != BatchCompleted && item.Status != BatchHealed {
			return false
		}
	}
	return true
}

// CostTracking holds total and per-batch accumulated cost.
type CostTracking struct {
	Total    decimal.Decimal            `json:"total"`
	PerBatch map[string]decimal.Decimal `json:"perBatch"`
}

// LastWorkflowRef is the dashboard's cached pointer at the most recently
// spawned subprocess.
type LastWorkflowRef struct {
	ID     string         `json:"id"`
	Skill  string          `json:"skill"`
	Status WorkflowStatus `json:"status"`
}

// DecisionLogEntry is one append-only record of a decision the runner acted on.
type DecisionLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Reason    string    `json:"reason"`
}

// RecoveryContext is attached to a DashboardState when the orchestration is
// in needs_attention, describing what went wrong and what the human can do.
type RecoveryContext struct {
	Issue            string           `json:"issue"`
	Options          []RecoveryAction `json:"options"`
	FailedWorkflowID string           `json:"failedWorkflowId,omitempty"`
}

// ActiveOrchestration is the non-null payload of DashboardState.active.
type ActiveOrchestration struct {
	ID        string              `json:"id"`
	StartedAt time.Time           `json:"startedAt"`
	Status    OrchestrationStatus `json:"status"`
	Config    OrchestrationConfig `json:"config"`
}

// DashboardState is the full persisted view of one project's orchestration.
type DashboardState struct {
	Active          *ActiveOrchestration `json:"active"`
	Batches         BatchTracking        `json:"batches"`
	Cost            CostTracking         `json:"cost"`
	LastWorkflow    *LastWorkflowRef     `json:"lastWorkflow"`
	DecisionLog     []DecisionLogEntry   `json:"decisionLog"`
	RecoveryContext *RecoveryContext     `json:"recoveryContext,omitempty"`
}

// NewDashboardState returns the documented safe-parse defaults: empty
// batches, zeroed cost, nil lastWorkflow, empty decision log.
func NewDashboardState() *DashboardState {
	return &DashboardState{
		Active:      nil,
		Batches:     BatchTracking{},
		Cost:        CostTracking{Total: decimal.Zero, PerBatch: map[string]decimal.Decimal{}},
		LastWorkflow: nil,
		DecisionLog: []DecisionLogEntry{},
	}
}

// WorkflowSnapshot is the ephemeral, derived view of one subprocess: the core
// does not own the subprocess, only this view, produced by PID inspection
// plus session-journal classification (internal/health).
type WorkflowSnapshot struct {
	ID             string
	Status         WorkflowStatus
	SessionID      string
	CostUSD        decimal.Decimal
	Error          string
	LastActivityAt time.Time
}

// SpawnIntent is the file-backed mutex asserting a spawn is in progress.
// Expires 30s after Timestamp.
type SpawnIntent struct {
	Skill           string    `json:"skill"`
	OrchestrationID string    `json:"orchestrationId"`
	Timestamp       time.Time `json:"timestamp"`
}

// SpawnIntentTTL is the window after which a SpawnIntent file is considered
// dead (spec.md §3 invariants, §5 timeouts).
const SpawnIntentTTL = 30 * time.Second

// Expired reports whether the intent is older than SpawnIntentTTL as of now.
func (s SpawnIntent) Expired(now time.Time) bool {
	return now.Sub(s.Timestamp) > SpawnIntentTTL
}

// RunnerMarker is the file-backed liveness record for C8's reconciliation.
type RunnerMarker struct {
	OrchestrationID string    `json:"orchestrationId"`
	PID             int       `json:"pid"`
	StartedAt       time.Time `json:"startedAt"`
}

// DefaultWallClockCap and DefaultStalenessThreshold are the spec's named
// constants, used when config does not override them.
const (
	DefaultWallClockCap       = 4 * time.Hour
	DefaultStalenessThreshold = 5 * time.Minute
	OrphanGracePeriod         = 2 * time.Minute
)
