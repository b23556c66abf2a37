package runner

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygo/relay/internal/agentcli"
	"github.com/relaygo/relay/internal/health"
	"github.com/relaygo/relay/internal/heal"
	"github.com/relaygo/relay/internal/registry"
	"github.com/relaygo/relay/internal/spawner"
	"github.com/relaygo/relay/internal/statestore"
	"github.com/relaygo/relay/internal/stepsetter"
	"github.com/relaygo/relay/internal/workflow"
)

type fakeLauncher struct{ nextPID int }

func (f *fakeLauncher) Launch(ctx context.Context, opts agentcli.LaunchOptions) (*agentcli.Handle, error) {
	f.nextPID++
	return &agentcli.Handle{LauncherPID: 20000 + f.nextPID, JournalPath: opts.JournalPath}, nil
}

type testRig struct {
	fs      afero.Fs
	store   *statestore.Store
	r       *Runner
	wfReg   *registry.WorkflowRegistry
	runners *registry.RunnerRegistry
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	fs := afero.NewMemMapFs()
	store := statestore.New(fs, "/proj/.relay/state")
	setter := stepsetter.NewDirectSetter(store)
	wfReg := registry.NewWorkflowRegistry()
	runners := registry.NewRunnerRegistry()
	// The spawner's intent lock is a real OS file lock, so its directory
	// must exist on disk; its intent and PID files still go to fs.
	sp := spawner.New(fs, t.TempDir(), &fakeLauncher{}, store, wfReg)
	checker := &health.Checker{Now: time.Now, IsAlive: func(int) bool { return false }}
	healer := heal.New(store, setter)

	r := New(fs, store, checker, sp, healer, setter, runners, wfReg, nil, Options{
		ProjectID: "proj", MarkerDir: "/proj/.relay/run", WorkDir: "/proj", TasksPath: "/proj/.relay/tasks.md",
		MaxPollingAttempts: 2,
		PollingInterval:    5 * time.Millisecond,
	})
	return &testRig{fs: fs, store: store, r: r, wfReg: wfReg, runners: runners}
}

func seedActive(t *testing.T, store *statestore.Store, orchestrationID string, cfg workflow.OrchestrationConfig) {
	t.Helper()
	state := workflow.NewDashboardState()
	state.Active = &workflow.ActiveOrchestration{ID: orchestrationID, StartedAt: time.Now(), Status: workflow.OrchRunning, Config: cfg}
	require.NoError(t, store.WriteDashboardState(orchestrationID, state))
}

func TestStep_SpawnsWhenStepNotStarted(t *testing.T) {
	rig := newTestRig(t)
	seedActive(t, rig.store, "orch-1", workflow.OrchestrationConfig{})
	require.NoError(t, rig.store.WriteStepDirect(&workflow.Step{Current: workflow.PhaseDesign, Status: workflow.StepNotStarted}))

	done, err := rig.r.step(context.Background(), "orch-1")
	require.NoError(t, err)
	assert.False(t, done)

	state, err := rig.store.ReadDashboardState()
	require.NoError(t, err)
	require.NotNil(t, state.LastWorkflow)
	assert.Equal(t, "flow.design", state.LastWorkflow.Skill)
	assert.Equal(t, workflow.ActionSpawn, state.DecisionLog[len(state.DecisionLog)-1].Action)
}

func TestStep_ExitsWhenActiveAbsent(t *testing.T) {
	rig := newTestRig(t)
	done, err := rig.r.step(context.Background(), "orch-missing")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestStep_ExitsWhenOrchestrationIDMismatched(t *testing.T) {
	rig := newTestRig(t)
	seedActive(t, rig.store, "orch-1", workflow.OrchestrationConfig{})
	done, err := rig.r.step(context.Background(), "orch-2")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestStep_ExitsWhenTerminal(t *testing.T) {
	rig := newTestRig(t)
	seedActive(t, rig.store, "orch-1", workflow.OrchestrationConfig{})
	state, err := rig.store.ReadDashboardState()
	require.NoError(t, err)
	state.Active.Status = workflow.OrchCompleted
	require.NoError(t, rig.store.WriteDashboardState("orch-1", state))

	done, err := rig.r.step(context.Background(), "orch-1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestStep_TransitionAdvancesStepAndSpawnsNext(t *testing.T) {
	rig := newTestRig(t)
	seedActive(t, rig.store, "orch-1", workflow.OrchestrationConfig{})
	require.NoError(t, rig.store.WriteStepDirect(&workflow.Step{Current: workflow.PhaseDesign, Status: workflow.StepComplete, Index: 0}))

	_, err := rig.r.step(context.Background(), "orch-1")
	require.NoError(t, err)

	step, err := rig.store.ReadStep()
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseAnalyze, step.Current)
	assert.Equal(t, workflow.StepInProgress, step.Status)

	state, err := rig.store.ReadDashboardState()
	require.NoError(t, err)
	require.NotNil(t, state.LastWorkflow)
	assert.Equal(t, "flow.analyze", state.LastWorkflow.Skill)
}

func TestStep_InitializeBatchesParsesTaskDocument(t *testing.T) {
	rig := newTestRig(t)
	seedActive(t, rig.store, "orch-1", workflow.OrchestrationConfig{})
	require.NoError(t, rig.store.WriteStepDirect(&workflow.Step{Current: workflow.PhaseImplement, Status: workflow.StepInProgress, Index: workflow.PhaseImplement.Index()}))
	require.NoError(t, afero.WriteFile(rig.fs, "/proj/.relay/tasks.md", []byte(
		"## auth\n- [ ] T001 add login\n\n## billing\n- [ ] T002 add invoice\n"), 0o644))

	_, err := rig.r.step(context.Background(), "orch-1")
	require.NoError(t, err)

	state, err := rig.store.ReadDashboardState()
	require.NoError(t, err)
	require.Equal(t, 2, state.Batches.Total)
	assert.Equal(t, "auth", state.Batches.Items[0].Section)
	assert.Equal(t, workflow.BatchPending, state.Batches.Items[0].Status)
}

func TestStep_AdvanceBatchMarksCompletedAndIncrementsCursor(t *testing.T) {
	rig := newTestRig(t)
	seedActive(t, rig.store, "orch-1", workflow.OrchestrationConfig{})
	require.NoError(t, rig.store.WriteStepDirect(&workflow.Step{Current: workflow.PhaseImplement, Status: workflow.StepInProgress, Index: workflow.PhaseImplement.Index()}))
	state, err := rig.store.ReadDashboardState()
	require.NoError(t, err)
	state.Batches = workflow.BatchTracking{
		Total: 2, Current: 0,
		Items: []workflow.BatchItem{
			{Index: 0, Section: "auth", Status: workflow.BatchCompleted},
			{Index: 1, Section: "billing", Status: workflow.BatchPending},
		},
	}
	require.NoError(t, rig.store.WriteDashboardState("orch-1", state))

	_, err = rig.r.step(context.Background(), "orch-1")
	require.NoError(t, err)

	got, err := rig.store.ReadDashboardState()
	require.NoError(t, err)
	assert.Equal(t, 1, got.Batches.Current)
}

func TestStep_BudgetExceededFailsOrchestration(t *testing.T) {
	rig := newTestRig(t)
	cfg := workflow.OrchestrationConfig{Budget: workflow.Budget{MaxTotal: decimal.NewFromInt(10)}}
	seedActive(t, rig.store, "orch-1", cfg)
	state, err := rig.store.ReadDashboardState()
	require.NoError(t, err)
	state.Cost.Total = decimal.NewFromInt(10)
	require.NoError(t, rig.store.WriteDashboardState("orch-1", state))
	require.NoError(t, rig.store.WriteStepDirect(&workflow.Step{Current: workflow.PhaseDesign, Status: workflow.StepInProgress}))

	done, err := rig.r.step(context.Background(), "orch-1")
	require.NoError(t, err)
	assert.True(t, done, "fail is terminal")

	got, err := rig.store.ReadDashboardState()
	require.NoError(t, err)
	assert.Equal(t, workflow.OrchFailed, got.Active.Status)
}

func TestStep_NeedsAttentionRecordsRecoveryContext(t *testing.T) {
	rig := newTestRig(t)
	cfg := workflow.OrchestrationConfig{MaxHealAttempts: 1, AutoHealEnabled: true}
	seedActive(t, rig.store, "orch-1", cfg)
	require.NoError(t, rig.store.WriteStepDirect(&workflow.Step{Current: workflow.PhaseImplement, Status: workflow.StepInProgress, Index: workflow.PhaseImplement.Index()}))
	state, err := rig.store.ReadDashboardState()
	require.NoError(t, err)
	state.Batches = workflow.BatchTracking{
		Total: 1, Current: 0,
		Items: []workflow.BatchItem{
			{Index: 0, Section: "auth", Status: workflow.BatchFailed, HealAttempts: 1},
		},
	}
	require.NoError(t, rig.store.WriteDashboardState("orch-1", state))

	_, err = rig.r.step(context.Background(), "orch-1")
	require.NoError(t, err)

	got, err := rig.store.ReadDashboardState()
	require.NoError(t, err)
	assert.Equal(t, workflow.OrchNeedsAttn, got.Active.Status)
	require.NotNil(t, got.RecoveryContext)
	assert.NotEmpty(t, got.RecoveryContext.Issue)
	assert.Contains(t, got.RecoveryContext.Options, workflow.RecoveryRetry)
}

func TestResolveSnapshot_DeadProcessWithCompletedJournalClearsRegistry(t *testing.T) {
	rig := newTestRig(t)
	seedActive(t, rig.store, "orch-1", workflow.OrchestrationConfig{})
	snap, err := rig.r.spawn.Spawn(context.Background(), "orch-1", "flow.design", "", "/proj")
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.True(t, rig.wfReg.IsActive("orch-1"))

	state, err := rig.store.ReadDashboardState()
	require.NoError(t, err)
	require.NotNil(t, state.LastWorkflow)

	journalPath := "/proj/.relay/run/" + state.LastWorkflow.ID + ".jsonl"
	require.NoError(t, afero.WriteFile(rig.fs, journalPath, []byte(`{"type":"result"}`+"\n"), 0o644))

	got, lookupFailed := rig.r.resolveSnapshot("orch-1", state)
	require.NotNil(t, got)
	assert.False(t, lookupFailed)
	assert.Equal(t, workflow.WorkflowCompleted, got.Status)
	assert.False(t, rig.wfReg.IsActive("orch-1"), "a terminal status must clear the registry, not cache running forever")
}

func TestResolveSnapshot_DeadProcessWithoutEndMarkerIsFailed(t *testing.T) {
	rig := newTestRig(t)
	seedActive(t, rig.store, "orch-1", workflow.OrchestrationConfig{})
	snap, err := rig.r.spawn.Spawn(context.Background(), "orch-1", "flow.design", "", "/proj")
	require.NoError(t, err)
	require.NotNil(t, snap)

	state, err := rig.store.ReadDashboardState()
	require.NoError(t, err)

	got, lookupFailed := rig.r.resolveSnapshot("orch-1", state)
	require.NotNil(t, got)
	assert.False(t, lookupFailed)
	assert.Equal(t, workflow.WorkflowFailed, got.Status)
	assert.False(t, rig.wfReg.IsActive("orch-1"))
}

func TestResolveSnapshot_NoPIDAndNoJournalIsLookupFailure(t *testing.T) {
	rig := newTestRig(t)
	seedActive(t, rig.store, "orch-1", workflow.OrchestrationConfig{})
	state, err := rig.store.ReadDashboardState()
	require.NoError(t, err)
	state.LastWorkflow = &workflow.LastWorkflowRef{ID: "wf-ghost", Skill: "flow.design", Status: workflow.WorkflowRunning}
	require.NoError(t, rig.store.WriteDashboardState("orch-1", state))

	got, lookupFailed := rig.r.resolveSnapshot("orch-1", state)
	assert.Nil(t, got)
	assert.True(t, lookupFailed)
}

func TestCleanupMarker_SupersededRunnerLeavesNewerMarkerInPlace(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.r.writeMarker("orch-1"))
	staleGen := rig.runners.NextGeneration("orch-1") // this runner's own generation
	rig.runners.NextGeneration("orch-1")             // a newer runner supersedes it

	rig.r.cleanupMarker("orch-1", staleGen)

	exists, err := afero.Exists(rig.fs, "/proj/.relay/run/runner-orch-1.json")
	require.NoError(t, err)
	assert.True(t, exists, "a superseded runner must not delete the newer runner's marker")
}

func TestCleanupMarker_CurrentGenerationRemovesMarker(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.r.writeMarker("orch-1"))
	gen := rig.runners.NextGeneration("orch-1")

	rig.r.cleanupMarker("orch-1", gen)

	exists, err := afero.Exists(rig.fs, "/proj/.relay/run/runner-orch-1.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRun_CompletesWithinMaxPollingAttempts(t *testing.T) {
	rig := newTestRig(t)
	seedActive(t, rig.store, "orch-1", workflow.OrchestrationConfig{})
	require.NoError(t, rig.store.WriteStepDirect(&workflow.Step{Current: workflow.PhaseDesign, Status: workflow.StepInProgress}))

	done := make(chan error, 1)
	go func() { done <- rig.r.Run(context.Background(), "orch-1") }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return within its polling attempt budget")
	}
}
