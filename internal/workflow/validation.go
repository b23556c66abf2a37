package workflow

import "fmt"

// Validate enforces the invariants of spec.md §3 that are checkable without
// other state (cross-entity invariants like "at most one running lastWorkflow"
// are enforced at the call sites that have both halves in scope).
func (d *DashboardState) Validate() error {
	if d.Batches.Total > 0 && d.Batches.Current >= d.Batches.Total {
		return fmt.Errorf("batches.current (%d) must be < batches.total (%d)", d.Batches.Current, d.Batches.Total)
	}
	for _, item := range d.Batches.Items {
		if item.HealAttempts < 0 {
			return fmt.Errorf("batch %d: healAttempts cannot be negative", item.Index)
		}
	}
	if d.Active != nil {
		switch d.Active.Status {
		case OrchRunning, OrchPaused, OrchWaitingMerge, OrchNeedsAttn, OrchCompleted, OrchFailed, OrchCancelled:
		default:
			return fmt.Errorf("active.status: unrecognized status %q", d.Active.Status)
		}
	}
	return nil
}

// ValidateMaxHealAttempts checks a single batch item against the config
// ceiling (spec.md §3 invariant: every BatchItem.healAttempts <= maxHealAttempts).
func ValidateMaxHealAttempts(item BatchItem, cfg OrchestrationConfig) error {
	if item.HealAttempts > cfg.MaxHealAttempts {
		return fmt.Errorf("batch %d: healAttempts (%d) exceeds maxHealAttempts (%d)",
			item.Index, item.HealAttempts, cfg.MaxHealAttempts)
	}
	return nil
}
