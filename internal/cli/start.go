package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/relaygo/relay/internal/idgen"
	"github.com/relaygo/relay/internal/workflow"
)

var startModel string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Begin (or resume) the orchestration loop",
	Long: `Start runs C6, the Runner Loop, in the foreground: it seeds a fresh
orchestration if none is active, or resumes the one already recorded in
.relay/state/dashboard-state.json, then polls, decides, and dispatches
until the orchestration reaches a terminal state.

Each phase is executed by a freshly spawned agent subprocess. Implementation
runs in batches, auto-healing a failed batch up to the configured attempt
limit before escalating to needs_attention.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := findWorkspace()
		if err != nil {
			return err
		}

		r, err := buildRig(root)
		if err != nil {
			return err
		}
		if startModel != "" {
			r.cfg.Agent.Model = startModel
		}

		orchestrationID, err := ensureActiveOrchestration(r)
		if err != nil {
			return err
		}

		run, err := r.newRunner(r.agentHealFunc())
		if err != nil {
			return err
		}

		r.disp.Relay(fmt.Sprintf("orchestration %s", orchestrationID))

		ctx := context.Background()
		if err := run.Run(ctx, orchestrationID); err != nil {
			r.disp.Error(err.Error())
			return err
		}

		state, err := r.store.ReadDashboardState()
		if err != nil {
			return err
		}
		if state != nil && state.Active != nil {
			switch state.Active.Status {
			case workflow.OrchCompleted:
				r.disp.Complete(orchestrationID, state.Cost.Total.StringFixed(2))
			case workflow.OrchFailed:
				r.disp.Failed(orchestrationID, "see .relay/state/dashboard-state.json recoveryContext")
			default:
				r.disp.Info("Status", string(state.Active.Status))
				fmt.Println("Run 'relay start' again to continue, or 'relay status' to inspect.")
			}
		}

		return nil
	},
}

// ensureActiveOrchestration seeds DashboardState.Active and the initial
// Step on first start, or returns the already-active orchestration ID on
// resume. An orchestration in a terminal status is not resumed; a fresh
// one replaces it.
func ensureActiveOrchestration(r *rig) (string, error) {
	state, err := r.store.ReadDashboardState()
	if err != nil {
		return "", err
	}
	if state != nil && state.Active != nil && !state.Active.Status.IsTerminal() {
		return state.Active.ID, nil
	}

	orchConfig, err := r.cfg.ToOrchestrationConfig()
	if err != nil {
		return "", err
	}

	orchestrationID := idgen.NewOrchestrationID()
	fresh := workflow.NewDashboardState()
	fresh.Active = &workflow.ActiveOrchestration{
		ID:        orchestrationID,
		StartedAt: time.Now(),
		Status:    workflow.OrchRunning,
		Config:    orchConfig,
	}
	fresh.Cost = workflow.CostTracking{Total: decimal.Zero, PerBatch: map[string]decimal.Decimal{}}

	if err := r.store.WriteDashboardState(orchestrationID, fresh); err != nil {
		return "", err
	}
	if err := r.store.WriteStepDirect(&workflow.Step{Current: workflow.PhaseDesign, Status: workflow.StepNotStarted}); err != nil {
		return "", err
	}

	return orchestrationID, nil
}

func init() {
	startCmd.Flags().StringVar(&startModel, "model", "", "override the configured agent model for this run")
	rootCmd.AddCommand(startCmd)
}
