package cli

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/relaygo/relay/internal/reconcile"
	"github.com/relaygo/relay/internal/registry"
	"github.com/relaygo/relay/internal/workspace"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Reconcile stale runner markers left by a crashed supervisor",
	Long: `Scan .relay/run/ for runner-<id>.json markers (C8, the Reconciler): a
marker whose PID belongs to this process is claimed and its generation
bumped; any other marker is deleted as an orphan, since PIDs are reused and
a foreign PID proves nothing about liveness (spec.md §4.8). Orchestrations
left active with no live runner are reported so 'relay start' can resume
them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := findWorkspace()
		if err != nil {
			return err
		}

		r, err := buildRig(root)
		if err != nil {
			return err
		}

		runners := registry.NewRunnerRegistry()
		rec := reconcile.New(afero.NewOsFs(), workspace.RunDir(root), runners)

		outcomes, err := rec.Reconcile()
		if err != nil {
			return err
		}

		if len(outcomes) == 0 {
			r.disp.Success("no stale runner markers found")
			return nil
		}

		for _, o := range outcomes {
			switch o.Kind {
			case reconcile.OutcomeOrphanDeleted:
				r.disp.Warning(fmt.Sprintf("removed orphaned marker for orchestration %s (%s)", o.OrchestrationID, o.Path))
			case reconcile.OutcomeClaimed:
				r.disp.Info("Claimed", fmt.Sprintf("orchestration %s (%s)", o.OrchestrationID, o.Path))
			case reconcile.OutcomeUnparseable:
				r.disp.Warning(fmt.Sprintf("removed unparseable marker %s", o.Path))
			}
		}

		relaunchable := reconcile.Relaunchable(outcomes)
		if len(relaunchable) == 0 {
			return nil
		}

		state, err := r.store.ReadDashboardState()
		if err == nil && state != nil && state.Active != nil && !state.Active.Status.IsTerminal() {
			for _, id := range relaunchable {
				if id == state.Active.ID {
					r.disp.Info("Next", "run 'relay start' to resume orchestration "+id)
				}
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
