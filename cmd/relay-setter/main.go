// Command relay-setter is the external setter the core shells out to for
// the single operation it is allowed to use to mutate step-state.json:
// set_step(current, status, index). Keeping this in its own binary means
// the long-running core process never has raw write access to that file;
// it only gets to ask this binary, which validates the same way, to do it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/relaygo/relay/internal/statestore"
	"github.com/relaygo/relay/internal/stepsetter"
	"github.com/relaygo/relay/internal/workflow"
	"github.com/relaygo/relay/internal/workspace"
)

var (
	flagCurrent string
	flagStatus  string
	flagIndex   int
)

var rootCmd = &cobra.Command{
	Use:   "relay-setter",
	Short: "Validated writer for .relay/state/step-state.json",
}

var setStepCmd = &cobra.Command{
	Use:   "set-step",
	Short: "Set the current phase, status, and index",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := workspace.Find()
		if err != nil {
			return err
		}
		store := statestore.New(afero.NewOsFs(), workspace.StateDir(root))
		setter := stepsetter.NewDirectSetter(store)
		return setter.SetStep(cmd.Context(), workflow.Phase(flagCurrent), workflow.StepStatus(flagStatus), flagIndex)
	},
}

func init() {
	setStepCmd.Flags().StringVar(&flagCurrent, "current", "", "phase name")
	setStepCmd.Flags().StringVar(&flagStatus, "status", "", "step status")
	setStepCmd.Flags().IntVar(&flagIndex, "index", 0, "phase index")
	_ = setStepCmd.MarkFlagRequired("current")
	_ = setStepCmd.MarkFlagRequired("status")

	rootCmd.AddCommand(setStepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
