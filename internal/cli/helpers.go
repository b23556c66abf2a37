package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/afero"

	"github.com/relaygo/relay/internal/agentcli"
	"github.com/relaygo/relay/internal/config"
	"github.com/relaygo/relay/internal/display"
	"github.com/relaygo/relay/internal/fsnotifywatch"
	"github.com/relaygo/relay/internal/heal"
	"github.com/relaygo/relay/internal/health"
	"github.com/relaygo/relay/internal/registry"
	"github.com/relaygo/relay/internal/runner"
	"github.com/relaygo/relay/internal/spawner"
	"github.com/relaygo/relay/internal/statestore"
	"github.com/relaygo/relay/internal/stepsetter"
	"github.com/relaygo/relay/internal/workspace"
)

// rig bundles every component the CLI wires together, assembled once per
// invocation from the workspace found at or above the current directory.
type rig struct {
	root    string
	cfg     *config.Config
	store   *statestore.Store
	checker *health.Checker
	spawn   *spawner.Spawner
	healer  *heal.Coordinator
	setter  stepsetter.Setter
	runners *registry.RunnerRegistry
	wfReg   *registry.WorkflowRegistry
	disp    *display.Display
}

// findWorkspace locates the .relay/ root, passing workspace.Find's error
// (including its ErrNoWorkspace sentinel) through unchanged.
func findWorkspace() (string, error) {
	root, err := workspace.Find()
	if err != nil {
		return "", err
	}
	return root, nil
}

// buildRig assembles the shared component graph every command other than
// init needs. Callers that also need a Runner should call newRunner.
func buildRig(root string) (*rig, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	fs := afero.NewOsFs()
	store := statestore.New(fs, workspace.StateDir(root))
	checker := health.NewChecker()

	wfReg := registry.NewWorkflowRegistry()
	runners := registry.NewRunnerRegistry()

	launcher := agentcli.NewLauncher(cfg.Agent.Binary)
	spawn := spawner.New(fs, workspace.RunDir(root), launcher, store, wfReg)
	setter := stepsetter.NewCommandSetter(setterBinaryPath())
	healer := heal.New(store, setter)

	return &rig{
		root:    root,
		cfg:     cfg,
		store:   store,
		checker: checker,
		spawn:   spawn,
		healer:  healer,
		setter:  setter,
		runners: runners,
		wfReg:   wfReg,
		disp:    display.NewWithOptions(noColor),
	}, nil
}

// newRunner constructs the C6 Runner Loop from a rig, optionally watching
// the workspace's state/run/tasks paths for early wakeup.
func (r *rig) newRunner(heal runner.HealFunc) (*runner.Runner, error) {
	watcher, err := fsnotifywatch.New(workspace.StateDir(r.root), workspace.RunDir(r.root), filepath.Dir(workspace.TasksPath(r.root)))
	if err != nil {
		watcher = nil
	}

	pollingInterval := r.cfg.PollingInterval()
	opt := runner.Options{
		ProjectID:          r.root,
		MarkerDir:          workspace.RunDir(r.root),
		WorkDir:            r.root,
		TasksPath:          workspace.TasksPath(r.root),
		PollingInterval:    pollingInterval,
		MaxPollingAttempts: r.cfg.Supervisor.MaxPollingAttempts,
		Heal:               heal,
	}

	return runner.New(afero.NewOsFs(), r.store, r.checker, r.spawn, r.healer, r.setter, r.runners, r.wfReg, watcher, opt), nil
}

// setterBinaryPath resolves the relay-setter helper binary, preferring one
// installed alongside the currently running relay binary so a relative
// PATH lookup can't pick up a stale version from a different install.
func setterBinaryPath() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "relay-setter")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return "relay-setter"
}

// agentHealFunc builds the HealFunc C7 invokes for a failed batch: it
// launches the agent binary against the "flow.heal" skill and blocks until
// the subprocess reports completion, a fixed point of spec.md §4.7(b)'s
// "healing is itself a synchronous subprocess call, not another tracked
// workflow".
func (r *rig) agentHealFunc() runner.HealFunc {
	launcher := agentcli.NewLauncher(r.cfg.Agent.Binary)
	return func(ctx context.Context, section string, taskIDs []string, previousWorkflowID, sessionID string, healingBudget decimal.Decimal) (heal.HealResult, error) {
		journalPath := filepath.Join(workspace.JournalDir(r.root), "heal-"+section+".jsonl")
		handle, err := launcher.Launch(ctx, agentcli.LaunchOptions{
			Skill:       "flow.heal",
			Context:     strings.Join(taskIDs, ","),
			WorkDir:     r.root,
			Model:       r.cfg.Agent.Model,
			JournalPath: journalPath,
		})
		if err != nil {
			return heal.HealResult{Success: false, ResultStatus: heal.HealFailed, ErrorMessage: err.Error()}, nil
		}

		deadline := time.Now().Add(r.cfg.PollingInterval() * time.Duration(r.cfg.Supervisor.MaxPollingAttempts))
		for {
			summary := handle.Summary()
			if summary.Completed {
				outcome := heal.HealFixed
				if summary.Failed {
					outcome = heal.HealFailed
				}
				return heal.HealResult{
					Success:      !summary.Failed,
					ResultStatus: outcome,
					SessionID:    summary.SessionID,
					CostUSD:      summary.CostUSD,
					ErrorMessage: summary.FailureDetail,
				}, nil
			}
			if ctx.Err() != nil {
				return heal.HealResult{Success: false, ResultStatus: heal.HealFailed, ErrorMessage: ctx.Err().Error()}, nil
			}
			if time.Now().After(deadline) {
				return heal.HealResult{Success: false, ResultStatus: heal.HealFailed, ErrorMessage: "heal timed out"}, nil
			}
			time.Sleep(r.cfg.PollingInterval())
		}
	}
}
