package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaygo/relay/internal/workflow"
)

var stopGraceSeconds int

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Cancel the active orchestration",
	Long: `Signal the currently spawned workflow (if any) to terminate, then mark
the orchestration cancelled. A cancelled orchestration is terminal per
spec.md's invariant that terminal states are final: start a new one with
'relay start' after init-ing a fresh task document, or edit tasks.md and
run 'relay init --force' first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := findWorkspace()
		if err != nil {
			return err
		}

		r, err := buildRig(root)
		if err != nil {
			return err
		}

		state, err := r.store.ReadDashboardState()
		if err != nil {
			return err
		}
		if state == nil || state.Active == nil {
			r.disp.Warning("no active orchestration")
			return nil
		}
		if state.Active.Status.IsTerminal() {
			r.disp.Info("Status", fmt.Sprintf("orchestration already %s", state.Active.Status))
			return nil
		}

		grace := time.Duration(stopGraceSeconds) * time.Second
		if err := r.spawn.Cancel(state.Active.ID, grace, r.checker.IsAlive); err != nil {
			r.disp.Warning(fmt.Sprintf("cancel signal: %v", err))
		}

		state.Active.Status = workflow.OrchCancelled
		if err := r.store.WriteDashboardState(state.Active.ID, state); err != nil {
			return err
		}

		r.disp.Success(fmt.Sprintf("orchestration %s cancelled", state.Active.ID))
		return nil
	},
}

func init() {
	stopCmd.Flags().IntVar(&stopGraceSeconds, "grace", 10, "seconds to wait after SIGTERM before SIGKILL")
	rootCmd.AddCommand(stopCmd)
}
