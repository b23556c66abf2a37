// Package spawner implements C5, the Workflow Spawner: the only place this
// module starts a subprocess for an orchestration. It enforces a
// cross-process spawn-intent mutex, an in-process active-workflow check,
// and guaranteed intent-file cleanup around the launch.
//
// Grounded on the teacher's internal/llm/claude.go Execute (subprocess
// launch, stdout pipe, PID capture) for step 4, and on the go.mod manifests
// under other_examples/ (compozy-compozy, goadesign-goa-ai,
// blueman82-conductor, okx-cdk-erigon) for gofrs/flock, the cross-process
// file lock this package uses to make the intent-file check-then-write
// atomic across two runner processes racing the same orchestration.
package spawner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"

	"github.com/relaygo/relay/internal/agentcli"
	"github.com/relaygo/relay/internal/idgen"
	"github.com/relaygo/relay/internal/registry"
	"github.com/relaygo/relay/internal/statestore"
	"github.com/relaygo/relay/internal/workflow"
)

// Locker is the cross-process mutex abstraction around the intent-file
// check-then-write race. NewFlockLocker backs it with a real OS file lock
// for production; tests substitute an in-memory locker so they don't need
// a real filesystem under afero.NewMemMapFs().
type Locker interface {
	TryLockContext(ctx context.Context, retry time.Duration) (bool, error)
	Unlock() error
}

// Launcher is the subset of agentcli.Launcher's behavior Spawn depends on;
// tests substitute a fake that never touches os/exec.
type Launcher interface {
	Launch(ctx context.Context, opts agentcli.LaunchOptions) (*agentcli.Handle, error)
}

// Spawner owns the intent-file directory and the launcher used to start
// subprocesses.
type Spawner struct {
	fs       afero.Fs
	dir      string // directory holding <orchestrationId>.intent and .pid files
	launcher Launcher
	store    *statestore.Store
	wfReg    *registry.WorkflowRegistry
	newLock  func(path string) Locker

	Now func() time.Time
}

// New constructs a Spawner backed by real OS file locks. dir is typically
// .relay/run/.
func New(fs afero.Fs, dir string, launcher Launcher, store *statestore.Store, wfReg *registry.WorkflowRegistry) *Spawner {
	return &Spawner{fs: fs, dir: dir, launcher: launcher, store: store, wfReg: wfReg, Now: time.Now, newLock: NewFlockLocker}
}

// NewFlockLocker backs Locker with gofrs/flock, a real cross-process
// advisory file lock, so two runner processes racing the same
// orchestration's spawn-intent file cannot both observe "no intent" at once.
func NewFlockLocker(path string) Locker {
	return flock.New(path)
}

func (s *Spawner) intentPath(orchestrationID string) string {
	return filepath.Join(s.dir, orchestrationID+".intent")
}

func (s *Spawner) lockPath(orchestrationID string) string {
	return filepath.Join(s.dir, orchestrationID+".intent.lock")
}

func (s *Spawner) pidPath(orchestrationID string) string {
	return filepath.Join(s.dir, orchestrationID+".pid")
}

// Spawn implements spec.md §4.5's six steps. A nil, nil return means
// "another actor is mid-spawn or a workflow is already active": the caller
// should treat this exactly like the decision function's wait.
func (s *Spawner) Spawn(ctx context.Context, orchestrationID, skill, spawnContext, workDir string) (*workflow.WorkflowSnapshot, error) {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create run directory: %w", err)
	}

	// Step 1 & 3 are one atomic region under a cross-process lock: it guards
	// the check-intent / write-intent race between two runner processes
	// that both observe no live intent at the same instant.
	fileLock := s.newLock(s.lockPath(orchestrationID))
	locked, err := fileLock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return nil, nil // another actor holds the lock right now
	}
	defer fileLock.Unlock()

	intent, err := s.readIntent(orchestrationID)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	if intent != nil && !intent.Expired(now) {
		return nil, nil // a spawn is genuinely in progress elsewhere
	}
	if intent != nil {
		_ = s.fs.Remove(s.intentPath(orchestrationID)) // stale (>30s): clear it
	}

	// Step 2: active check against the in-process registry.
	if s.wfReg.IsActive(orchestrationID) {
		return nil, nil
	}

	// Step 3: write the intent.
	if err := s.writeIntent(orchestrationID, skill, now); err != nil {
		return nil, err
	}
	// Step 5: guaranteed cleanup, regardless of what happens below.
	defer s.fs.Remove(s.intentPath(orchestrationID))

	// Step 4: launch.
	workflowID := idgen.NewWorkflowID()
	journalPath := filepath.Join(s.dir, workflowID+".jsonl")
	handle, err := s.launcher.Launch(ctx, agentcli.LaunchOptions{
		Skill:       skill,
		Context:     spawnContext,
		WorkDir:     workDir,
		JournalPath: journalPath,
	})
	if err != nil {
		return nil, fmt.Errorf("launch failed: %w", err)
	}

	if err := s.writePIDRecord(orchestrationID, workflow.RunnerMarker{
		OrchestrationID: orchestrationID,
		PID:             handle.LauncherPID,
		StartedAt:       now,
	}); err != nil {
		return nil, err
	}

	snapshot := workflow.WorkflowSnapshot{
		ID:             workflowID,
		Status:         workflow.WorkflowRunning,
		LastActivityAt: now,
	}
	s.wfReg.Put(orchestrationID, snapshot)

	// Step 6: update the dashboard's lastWorkflow pointer.
	if err := s.updateLastWorkflow(orchestrationID, workflowID, skill); err != nil {
		return nil, err
	}

	return &snapshot, nil
}

func (s *Spawner) readIntent(orchestrationID string) (*workflow.SpawnIntent, error) {
	data, err := afero.ReadFile(s.fs, s.intentPath(orchestrationID))
	if err != nil {
		return nil, nil
	}
	var intent workflow.SpawnIntent
	if err := json.Unmarshal(data, &intent); err != nil {
		return nil, nil // unparseable intent is treated as absent
	}
	return &intent, nil
}

func (s *Spawner) writeIntent(orchestrationID, skill string, now time.Time) error {
	intent := workflow.SpawnIntent{Skill: skill, OrchestrationID: orchestrationID, Timestamp: now}
	data, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	tmp := s.intentPath(orchestrationID) + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return err
	}
	return s.fs.Rename(tmp, s.intentPath(orchestrationID))
}

func (s *Spawner) writePIDRecord(orchestrationID string, marker workflow.RunnerMarker) error {
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.pidPath(orchestrationID) + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return err
	}
	return s.fs.Rename(tmp, s.pidPath(orchestrationID))
}

func (s *Spawner) updateLastWorkflow(orchestrationID, workflowID, skill string) error {
	state, err := s.store.ReadDashboardState()
	if err != nil {
		return err
	}
	if state == nil {
		state = workflow.NewDashboardState()
	}
	state.LastWorkflow = &workflow.LastWorkflowRef{ID: workflowID, Skill: skill, Status: workflow.WorkflowRunning}
	return s.store.WriteDashboardState(orchestrationID, state)
}

// LauncherPID returns the PID persisted for orchestrationID's most recently
// spawned workflow. internal/runner uses this to classify the workflow's
// real status via internal/health even after a dashboard restart, when no
// in-process agentcli.Handle survives to poll.
func (s *Spawner) LauncherPID(orchestrationID string) (int, bool) {
	data, err := afero.ReadFile(s.fs, s.pidPath(orchestrationID))
	if err != nil {
		return 0, false
	}
	var marker workflow.RunnerMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return 0, false
	}
	return marker.PID, true
}

// Cancel sends SIGTERM to the recorded PID, waits a grace period, and
// escalates to SIGKILL if the process is still alive, then removes the PID
// record. Calling Cancel twice is safe: the second call finds no PID
// record and returns nil (R3 idempotence).
func (s *Spawner) Cancel(orchestrationID string, grace time.Duration, isAlive func(pid int) bool) error {
	data, err := afero.ReadFile(s.fs, s.pidPath(orchestrationID))
	if err != nil {
		return nil // nothing to cancel
	}
	var marker workflow.RunnerMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return s.fs.Remove(s.pidPath(orchestrationID))
	}

	proc, err := os.FindProcess(marker.PID)
	if err == nil {
		_ = proc.Signal(syscall.SIGTERM)
		if grace > 0 {
			time.Sleep(grace)
		}
		if isAlive != nil && isAlive(marker.PID) {
			_ = proc.Signal(syscall.SIGKILL)
		}
	}
	return s.fs.Remove(s.pidPath(orchestrationID))
}
