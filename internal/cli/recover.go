package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaygo/relay/internal/workflow"
)

var recoverCmd = &cobra.Command{
	Use:   "recover [retry|skip|abort]",
	Short: "Resolve a needs_attention orchestration",
	Long: `Apply one of the options a needs_attention orchestration's recovery
context offered:

  retry   Clear the failed workflow so the next 'relay start' respawns it
  skip    Mark the current batch healed and move past it
  abort   Mark the orchestration failed (terminal)

Run 'relay status' first to see the exact issue and offered options.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		choice := workflow.RecoveryAction(args[0])

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
			return fmt.Errorf("no active orchestration")
		}
		if state.Active.Status != workflow.OrchNeedsAttn {
			return fmt.Errorf("orchestration is %s, not needs_attention", state.Active.Status)
		}
		if state.RecoveryContext == nil {
			return fmt.Errorf("orchestration has no recovery context recorded")
		}

		if !offersOption(state.RecoveryContext.Options, choice) {
			return fmt.Errorf("%q is not an offered option (offered: %v)", choice, state.RecoveryContext.Options)
		}

		switch choice {
		case workflow.RecoveryRetry:
			state.LastWorkflow = nil
			state.Active.Status = workflow.OrchRunning
		case workflow.RecoverySkip:
			if item := state.Batches.CurrentItem(); item != nil {
				item.Status = workflow.BatchHealed
			}
			state.LastWorkflow = nil
			state.Active.Status = workflow.OrchRunning
		case workflow.RecoveryAbort:
			state.Active.Status = workflow.OrchFailed
		default:
			return fmt.Errorf("unrecognized recovery choice %q", choice)
		}

		state.RecoveryContext = nil
		if err := r.store.WriteDashboardState(state.Active.ID, state); err != nil {
			return err
		}

		r.disp.Success(fmt.Sprintf("applied %q; run 'relay start' to continue", choice))
		return nil
	},
}

func offersOption(options []workflow.RecoveryAction, choice workflow.RecoveryAction) bool {
	for _, o := range options {
		if o == choice {
			return true
		}
	}
	return false
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}
