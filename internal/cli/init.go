package cli

import (
	"github.com/spf13/cobra"

	"github.com/relaygo/relay/internal/workspace"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Lay out a new .relay/ workspace in the current directory",
	Long: `Initialize a new relay workspace.

Creates:
  .relay/
  ├── config.yaml   Supervisor and orchestration-default settings
  ├── tasks.md      The task document C1 plans implementation batches from
  ├── state/        dashboard-state.json and step-state.json
  ├── run/          spawn intents, PID records, runner markers, workflow journals
  └── journal/      heal-subprocess session journals

After init, edit .relay/tasks.md and run 'relay start'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return workspace.Init(initForce)
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing workspace")
	rootCmd.AddCommand(initCmd)
}
