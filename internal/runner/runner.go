// Package runner implements C6, the Runner Loop: the one long-lived
// goroutine per orchestration that ties C1-C5, C7, and C8's sibling
// components (statestore, health, decision, spawner, heal, stepsetter,
// fsnotifywatch, registry) into the fixed poll/decide/dispatch cycle of
// spec.md §4.6.
//
// Grounded on the teacher's internal/executor/executor.go RunLoop (the
// read-state -> decide -> dispatch -> sleep shape, and its reliance on a
// generation-style supersession check at the top of every iteration)
// generalized from "iterate phases of one plan" to "iterate decisions of
// one orchestration, across process restarts".
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/relaygo/relay/internal/batchplan"
	"github.com/relaygo/relay/internal/decision"
	"github.com/relaygo/relay/internal/fsnotifywatch"
	"github.com/relaygo/relay/internal/health"
	"github.com/relaygo/relay/internal/heal"
	"github.com/relaygo/relay/internal/registry"
	"github.com/relaygo/relay/internal/spawner"
	"github.com/relaygo/relay/internal/statestore"
	"github.com/relaygo/relay/internal/stepsetter"
	"github.com/relaygo/relay/internal/workflow"
)

// DefaultPollingInterval and DefaultMaxPollingAttempts are spec.md §4.6's
// named defaults, overridable per deployment via internal/config.
const (
	DefaultPollingInterval     = 5 * time.Second
	DefaultMaxPollingAttempts = 500
)

// HealFunc is re-exported so callers wiring a Runner don't need to import
// internal/heal just to supply the healing routine.
type HealFunc = heal.HealFunc

// Options configures one Runner instance. Fields left zero take the
// documented default.
type Options struct {
	ProjectID          string
	MarkerDir          string // holds runner-<orchestrationId>.json markers
	WorkDir            string // working directory handed to spawned subprocesses
	TasksPath          string // markdown task document C1 parses on initialize_batches
	PollingInterval    time.Duration
	MaxPollingAttempts int
	Heal               HealFunc
}

// Runner drives one orchestration's decide/dispatch loop from creation to
// a terminal state or supersession.
type Runner struct {
	fs afero.Fs
	opt Options

	store    *statestore.Store
	checker  *health.Checker
	spawn    *spawner.Spawner
	healer   *heal.Coordinator
	setter   stepsetter.Setter
	runners  *registry.RunnerRegistry
	wfReg    *registry.WorkflowRegistry
	watcher  *fsnotifywatch.Watcher

	Now func() time.Time
}

// New constructs a Runner. watcher may be nil, in which case the loop
// falls back to pure polling per spec.md §4.6 step 2.
func New(
	fs afero.Fs,
	store *statestore.Store,
	checker *health.Checker,
	spawn *spawner.Spawner,
	healer *heal.Coordinator,
	setter stepsetter.Setter,
	runners *registry.RunnerRegistry,
	wfReg *registry.WorkflowRegistry,
	watcher *fsnotifywatch.Watcher,
	opt Options,
) *Runner {
	if opt.PollingInterval <= 0 {
		opt.PollingInterval = DefaultPollingInterval
	}
	if opt.MaxPollingAttempts <= 0 {
		opt.MaxPollingAttempts = DefaultMaxPollingAttempts
	}
	return &Runner{
		fs: fs, opt: opt,
		store: store, checker: checker, spawn: spawn, healer: healer,
		setter: setter, runners: runners, wfReg: wfReg, watcher: watcher,
		Now: time.Now,
	}
}

func (r *Runner) markerPath(orchestrationID string) string {
	return filepath.Join(r.opt.MarkerDir, "runner-"+orchestrationID+".json")
}

// Run implements spec.md §4.6's lifecycle. It returns when the
// orchestration reaches a terminal state, is superseded by a newer
// generation, or maxPollingAttempts is exhausted.
func (r *Runner) Run(ctx context.Context, orchestrationID string) error {
	gen := r.runners.NextGeneration(orchestrationID)

	if err := r.writeMarker(orchestrationID); err != nil {
		return fmt.Errorf("runner: writing marker: %w", err)
	}
	defer r.cleanupMarker(orchestrationID, gen)

	var wake <-chan fsnotifywatch.Event
	if r.watcher != nil {
		wake = r.watcher.Events
	}

	for attempt := 0; attempt < r.opt.MaxPollingAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !r.runners.IsCurrent(orchestrationID, gen) {
			return nil // superseded: exit without cleanup, per spec.md §5
		}

		done, err := r.step(ctx, orchestrationID)
		if err != nil {
			// An error escaping an iteration fails the orchestration, with
			// the error text kept as the recovery context's issue.
			if state, rerr := r.store.ReadDashboardState(); rerr == nil && state != nil && state.Active != nil &&
				state.Active.ID == orchestrationID && !state.Active.Status.IsTerminal() {
				state.Active.Status = workflow.OrchFailed
				state.RecoveryContext = &workflow.RecoveryContext{Issue: err.Error()}
				_ = r.store.WriteDashboardState(orchestrationID, state)
			}
			return err
		}
		if done {
			return nil
		}

		sleepInterval := r.opt.PollingInterval
		if state, _ := r.store.ReadDashboardState(); state != nil && state.Active != nil {
			switch state.Active.Status {
			case workflow.OrchNeedsAttn, workflow.OrchPaused, workflow.OrchWaitingMerge:
				sleepInterval = 2 * r.opt.PollingInterval
			}
		}
		r.sleep(ctx, sleepInterval, wake)
	}
	return nil
}

// step executes exactly one loop iteration: read -> decide -> dispatch.
// The bool return reports whether the runner should exit (terminal state
// or an orchestration mismatch).
func (r *Runner) step(ctx context.Context, orchestrationID string) (bool, error) {
	state, err := r.store.ReadDashboardState()
	if err != nil {
		return false, err
	}
	if state == nil || state.Active == nil || state.Active.ID != orchestrationID {
		return true, nil
	}
	if state.Active.Status.IsTerminal() {
		return true, nil
	}

	step, err := r.store.ReadStep()
	if err != nil {
		return false, err
	}
	if step == nil {
		step = &workflow.Step{Current: workflow.PhaseDesign, Status: workflow.StepNotStarted}
	}

	snapshot, lookupFailed := r.resolveSnapshot(orchestrationID, state)

	if state.LastWorkflow != nil && state.LastWorkflow.Status == workflow.WorkflowRunning &&
		snapshot != nil && snapshot.Status != workflow.WorkflowRunning && snapshot.Status != workflow.WorkflowWaitingForInput {
		if err := r.healer.ReconcileWorkflow(ctx, orchestrationID, state.LastWorkflow.Skill, snapshot.Status, state.LastWorkflow.ID); err != nil {
			return false, err
		}
		state, err = r.store.ReadDashboardState()
		if err != nil {
			return false, err
		}
	}

	totalCost := state.Cost.Total
	lookupFailures := 0
	if lookupFailed {
		lookupFailures = 1
	}

	d := decision.Decide(decision.Input{
		Active:         true,
		Step:           *step,
		Config:         state.Active.Config,
		Batches:        state.Batches,
		Workflow:       snapshot,
		Now:            r.Now(),
		TotalCostUSD:   totalCost,
		StartedAt:      state.Active.StartedAt,
		LookupFailures: lookupFailures,
	})

	if d.Action != workflow.ActionWait && d.Action != workflow.ActionIdle {
		state.DecisionLog = append(state.DecisionLog, workflow.DecisionLogEntry{
			Timestamp: r.Now(), Action: d.Action, Reason: d.Reason,
		})
		if err := r.store.WriteDashboardState(orchestrationID, state); err != nil {
			return false, err
		}
	}

	return r.dispatch(ctx, orchestrationID, d, state, step)
}

// resolveSnapshot implements "resolve the current workflow snapshot": C3's
// PID+journal classification is the only source of truth, run fresh every
// iteration, with the result written back into the registry so both
// decision.Decide (via the returned snapshot) and C5's own active-workflow
// gate (via WorkflowRegistry.IsActive) see the workflow's real status
// instead of the fabricated "still running" that Spawn records at launch.
// The bool return is true when a workflow was expected (state.LastWorkflow
// is set) but health couldn't resolve it — the "lookup failure" signal C4's
// backoff branch acts on.
func (r *Runner) resolveSnapshot(orchestrationID string, state *workflow.DashboardState) (*workflow.WorkflowSnapshot, bool) {
	if state.LastWorkflow == nil {
		return nil, false
	}

	rec := health.ProcessRecord{JournalPath: filepath.Join(r.opt.MarkerDir, state.LastWorkflow.ID+".jsonl")}
	if pid, ok := r.spawn.LauncherPID(orchestrationID); ok {
		rec.LauncherPID = pid
	}

	status, journal := r.checker.Classify(rec, 0)
	snap := translateHealth(status, journal, r.Now())
	if snap == nil {
		return nil, true
	}
	snap.ID = state.LastWorkflow.ID

	if snap.Status == workflow.WorkflowCompleted || snap.Status == workflow.WorkflowFailed {
		r.wfReg.Clear(orchestrationID)
	} else {
		r.wfReg.Put(orchestrationID, *snap)
	}
	return snap, false
}

// translateHealth maps C3's (Status, JournalStatus) pair to the
// WorkflowStatus the decision function understands, honoring the ordering
// rule of spec.md §4.3: the journal's verdict wins once the process is dead.
func translateHealth(status health.Status, journal health.JournalStatus, now time.Time) *workflow.WorkflowSnapshot {
	switch status {
	case health.StatusUnknown:
		return nil
	case health.StatusDead:
		if journal == health.JournalCompleted {
			return &workflow.WorkflowSnapshot{Status: workflow.WorkflowCompleted, LastActivityAt: now}
		}
		return &workflow.WorkflowSnapshot{Status: workflow.WorkflowFailed, LastActivityAt: now}
	case health.StatusStale:
		return &workflow.WorkflowSnapshot{Status: workflow.WorkflowRunning, LastActivityAt: now.Add(-health.StalenessThreshold * 2)}
	default: // StatusRunning
		if journal == health.JournalWaitingForInput {
			return &workflow.WorkflowSnapshot{Status: workflow.WorkflowWaitingForInput, LastActivityAt: now}
		}
		if journal == health.JournalCompleted {
			return &workflow.WorkflowSnapshot{Status: workflow.WorkflowCompleted, LastActivityAt: now}
		}
		return &workflow.WorkflowSnapshot{Status: workflow.WorkflowRunning, LastActivityAt: now}
	}
}

// dispatch implements spec.md §4.6's dispatch table.
func (r *Runner) dispatch(ctx context.Context, orchestrationID string, d decision.Decision, state *workflow.DashboardState, step *workflow.Step) (bool, error) {
	switch d.Action {
	case workflow.ActionIdle, workflow.ActionWait, workflow.ActionWaitWithBackoff, workflow.ActionWaitUserGate:
		return false, nil

	case workflow.ActionSpawn:
		_, err := r.spawn.Spawn(ctx, orchestrationID, d.Skill, d.Context, r.opt.WorkDir)
		return false, err

	case workflow.ActionTransition:
		if err := r.setter.SetStep(ctx, d.NextStep, workflow.StepInProgress, d.NextIndex); err != nil {
			return false, err
		}
		if d.NextStep != workflow.PhaseMerge || state.Active.Config.AutoMerge {
			_, err := r.spawn.Spawn(ctx, orchestrationID, d.NextStep.Skill(), "", r.opt.WorkDir)
			return false, err
		}
		return false, nil

	case workflow.ActionAdvanceBatch:
		return false, r.advanceBatch(orchestrationID, state, d)

	case workflow.ActionHealBatch:
		if r.opt.Heal == nil {
			return false, fmt.Errorf("runner: heal_batch dispatched but no heal routine configured")
		}
		previousWorkflowID := ""
		if state.LastWorkflow != nil {
			previousWorkflowID = state.LastWorkflow.ID
		}
		_, err := r.healer.HealBatch(ctx, orchestrationID, d.BatchIndex, state.Active.Config, previousWorkflowID, "", r.opt.Heal)
		return false, err

	case workflow.ActionInitializeBatches:
		return false, r.initializeBatches(ctx, orchestrationID, state)

	case workflow.ActionForceStepComplete:
		return false, r.setter.SetStep(ctx, step.Current, workflow.StepComplete, step.Index)

	case workflow.ActionPause:
		return false, r.setActiveStatus(orchestrationID, state, workflow.OrchPaused)
	case workflow.ActionNeedsAttention:
		return false, r.needsAttention(orchestrationID, state, d)
	case workflow.ActionComplete:
		return true, r.setActiveStatus(orchestrationID, state, workflow.OrchCompleted)
	case workflow.ActionFail:
		return true, r.setActiveStatus(orchestrationID, state, workflow.OrchFailed)

	case workflow.ActionWaitMerge:
		return false, r.setActiveStatus(orchestrationID, state, workflow.OrchWaitingMerge)

	case workflow.ActionRecoverStale, workflow.ActionRecoverFailed:
		return false, r.needsAttention(orchestrationID, state, d)

	default:
		return false, fmt.Errorf("runner: no dispatch rule for action %q", d.Action)
	}
}

func (r *Runner) setActiveStatus(orchestrationID string, state *workflow.DashboardState, status workflow.OrchestrationStatus) error {
	if state.Active == nil {
		return nil
	}
	state.Active.Status = status
	return r.store.WriteDashboardState(orchestrationID, state)
}

// needsAttention records why the orchestration stalled alongside the
// status transition, so a human-facing command (e.g. the CLI's "recover")
// has something concrete to act on instead of a bare needs_attention flag.
func (r *Runner) needsAttention(orchestrationID string, state *workflow.DashboardState, d decision.Decision) error {
	if state.Active == nil {
		return nil
	}
	state.Active.Status = workflow.OrchNeedsAttn
	state.RecoveryContext = &workflow.RecoveryContext{
		Issue:   d.Reason,
		Options: d.RecoveryOptions,
	}
	if state.LastWorkflow != nil {
		state.RecoveryContext.FailedWorkflowID = state.LastWorkflow.ID
	}
	return r.store.WriteDashboardState(orchestrationID, state)
}

func (r *Runner) advanceBatch(orchestrationID string, state *workflow.DashboardState, d decision.Decision) error {
	if d.BatchIndex < 0 || d.BatchIndex >= len(state.Batches.Items) {
		return fmt.Errorf("runner: advance_batch index %d out of range", d.BatchIndex)
	}
	item := &state.Batches.Items[d.BatchIndex]
	if item.Status != workflow.BatchHealed {
		item.Status = workflow.BatchCompleted
	}
	if d.BatchIndex == state.Batches.Current && state.Batches.Current < state.Batches.Total-1 {
		state.Batches.Current++
	}
	if d.PauseAfterAdvance && state.Active != nil {
		state.Active.Status = workflow.OrchPaused
	}
	return r.store.WriteDashboardState(orchestrationID, state)
}

// initializeBatches implements the initialize_batches dispatch rule: C1
// parses the task document and the plan is folded into BatchTracking.
func (r *Runner) initializeBatches(ctx context.Context, orchestrationID string, state *workflow.DashboardState) error {
	doc, err := afero.ReadFile(r.fs, r.opt.TasksPath)
	if err != nil {
		return fmt.Errorf("runner: reading task document: %w", err)
	}
	plan := batchplan.Plan(string(doc), state.Active.Config.BatchSizeFallback)

	items := make([]workflow.BatchItem, len(plan.Batches))
	for i, b := range plan.Batches {
		items[i] = workflow.BatchItem{Index: i, Section: b.Name, TaskIDs: b.TaskIDs, Status: workflow.BatchPending}
	}
	state.Batches = workflow.BatchTracking{Total: len(items), Current: 0, Items: items}
	return r.store.WriteDashboardState(orchestrationID, state)
}

func (r *Runner) writeMarker(orchestrationID string) error {
	marker := struct {
		OrchestrationID string    `json:"orchestrationId"`
		PID             int       `json:"pid"`
		StartedAt       time.Time `json:"startedAt"`
	}{OrchestrationID: orchestrationID, PID: processPID(), StartedAt: r.Now()}
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return err
	}
	path := r.markerPath(orchestrationID)
	tmp := path + ".tmp"
	if err := afero.WriteFile(r.fs, tmp, data, 0o644); err != nil {
		return err
	}
	return r.fs.Rename(tmp, path)
}

func processPID() int {
	return os.Getpid()
}

func (r *Runner) cleanupMarker(orchestrationID string, gen int) {
	if !r.runners.IsCurrent(orchestrationID, gen) {
		return // superseded: the newer runner owns the marker now
	}
	_ = r.fs.Remove(r.markerPath(orchestrationID))
	r.wfReg.Clear(orchestrationID)
}

// sleep blocks for interval, or until wake delivers an event in categories
// {tasks, workflow, state}, or until ctx is cancelled — whichever comes
// first.
func (r *Runner) sleep(ctx context.Context, interval time.Duration, wake <-chan fsnotifywatch.Event) {
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case ev, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			switch ev.Category {
			case fsnotifywatch.CategoryTasks, fsnotifywatch.CategoryWorkflow, fsnotifywatch.CategoryState:
				return
			}
		}
	}
}
