package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/relaygo/relay/internal/workflow"
)

var statusVerbose bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current phase, batch, and cost",
	Long: `Show the orchestration's current position: active phase, implement-phase
batch cursor, accumulated cost, and the most recently spawned workflow.

Use --verbose to also list every batch and the full decision log.`,
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

		bold := color.New(color.Bold).SprintFunc()
		dim := color.New(color.FgHiBlack).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()

		if state == nil || state.Active == nil {
			fmt.Printf("%s No active orchestration\n\n", yellow("!"))
			fmt.Println("Run 'relay start' to begin one.")
			return nil
		}

		step, err := r.store.ReadStep()
		if err != nil {
			return err
		}
		if step == nil {
			step = &workflow.Step{Current: workflow.PhaseDesign, Status: workflow.StepNotStarted}
		}

		fmt.Printf("%s\n%s\n\n", bold(state.Active.ID), dim("relay v"+Version))

		fmt.Println(bold("Position:"))
		fmt.Printf("  Phase:   %s (%s)\n", step.Current, step.Status)
		fmt.Printf("  Status:  %s\n", statusColor(state.Active.Status, green, yellow))
		fmt.Printf("  Started: %s\n", state.Active.StartedAt.Format("2006-01-02 15:04:05"))
		fmt.Println()

		if state.Batches.Total > 0 {
			barWidth := 20
			completed := 0
			for _, item := range state.Batches.Items {
				if item.Status == workflow.BatchCompleted || item.Status == workflow.BatchHealed {
					completed++
				}
			}
			bar := progressBar(completed, state.Batches.Total, barWidth)
			pct := int(float64(completed) / float64(state.Batches.Total) * 100)
			fmt.Printf("Batches: [%s] %d%% (%d/%d)\n\n", bar, pct, completed, state.Batches.Total)
		}

		fmt.Println(bold("Cost:"))
		fmt.Printf("  Total: $%s (max $%s)\n", state.Cost.Total.StringFixed(2), state.Active.Config.Budget.MaxTotal.StringFixed(2))
		fmt.Println()

		if state.LastWorkflow != nil {
			fmt.Println(bold("Last workflow:"))
			fmt.Printf("  %s -> %s (%s)\n", state.LastWorkflow.ID, state.LastWorkflow.Status, state.LastWorkflow.Skill)
			fmt.Println()
		}

		if state.RecoveryContext != nil {
			fmt.Println(bold(yellow("Needs attention:")))
			fmt.Printf("  %s\n", state.RecoveryContext.Issue)
			opts := make([]string, len(state.RecoveryContext.Options))
			for i, o := range state.RecoveryContext.Options {
				opts[i] = string(o)
			}
			fmt.Printf("  Options: %s\n", strings.Join(opts, ", "))
			fmt.Println("  Run 'relay recover <option>' to resolve.")
			fmt.Println()
		}

		if statusVerbose {
			fmt.Println(bold("Batches:"))
			for _, item := range state.Batches.Items {
				icon := "○"
				switch item.Status {
				case workflow.BatchCompleted, workflow.BatchHealed:
					icon = green("✓")
				case workflow.BatchRunning:
					icon = yellow("◐")
				case workflow.BatchFailed:
					icon = color.New(color.FgRed).SprintFunc()("✗")
				}
				fmt.Printf("  %s %d: %s (%d tasks, %d heal attempts)\n", icon, item.Index, item.Section, len(item.TaskIDs), item.HealAttempts)
			}
			fmt.Println()

			fmt.Println(bold("Decision log:"))
			for _, entry := range state.DecisionLog {
				fmt.Printf("  %s %-20s %s\n", entry.Timestamp.Format("15:04:05"), entry.Action, dim(entry.Reason))
			}
			fmt.Println()
		}

		return nil
	},
}

func statusColor(status workflow.OrchestrationStatus, green, yellow func(a ...interface{}) string) string {
	switch status {
	case workflow.OrchCompleted:
		return green(string(status))
	case workflow.OrchFailed, workflow.OrchNeedsAttn:
		return yellow(string(status))
	default:
		return string(status)
	}
}

func progressBar(completed, total, width int) string {
	if total == 0 {
		return strings.Repeat("░", width)
	}
	filled := completed * width / total
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func init() {
	statusCmd.Flags().BoolVarP(&statusVerbose, "verbose", "v", false, "list every batch and the full decision log")
	rootCmd.AddCommand(statusCmd)
}
