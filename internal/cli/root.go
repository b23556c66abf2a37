package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set via ldflags at release time.
	Version = "dev"
	cfgFile string
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Autonomous multi-phase workflow orchestration",
	Long: `relay drives a fixed five-phase pipeline (design, analyze, implement,
verify, merge) to completion across restarts, spawning one agent
subprocess per phase, auto-healing failed implementation batches, and
persisting its decisions so a crashed supervisor can resume exactly
where it left off.

Core commands:
  relay init     Lay out a new .relay/ workspace
  relay start    Begin (or resume) the orchestration loop
  relay status   Show the current phase, batch, and cost
  relay recover  Resolve a needs_attention orchestration
  relay stop     Cancel the active orchestration
  relay doctor   Reconcile stale runner markers from a crashed supervisor`,
	Version: Version,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (not read: settings always come from .relay/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.SetVersionTemplate(fmt.Sprintf("relay version %s\n", Version))
}

func exitError(msg string) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	os.Exit(1)
}
