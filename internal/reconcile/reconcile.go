// Package reconcile implements C8, the Reconciler: a one-shot startup scan
// of the runner-marker directory that resolves leftover markers from a
// previous process lifetime before the runner loop starts accepting new
// orchestrations.
//
// Grounded on the teacher's internal/workspace package (scanning a
// directory of on-disk markers at startup and classifying each one) and
// its afero-backed filesystem seam for testability.
package reconcile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/relaygo/relay/internal/registry"
)

// Marker is the on-disk RunnerMarker, per spec.md §3/§4.8/§6.
type Marker struct {
	OrchestrationID string `json:"orchestrationId"`
	PID             int    `json:"pid"`
	StartedAt       string `json:"startedAt"`
}

// Outcome records what happened to one marker during reconciliation.
type Outcome struct {
	Path            string
	OrchestrationID string
	Kind            OutcomeKind
}

// OutcomeKind classifies a single marker's disposition.
type OutcomeKind string

const (
	// OutcomeOrphanDeleted: foreign PID, marker removed without liveness
	// verification (PIDs are reusable — spec.md §4.8).
	OutcomeOrphanDeleted OutcomeKind = "orphan_deleted"
	// OutcomeClaimed: marker's PID matches our own process (same-process
	// restart reconciliation); we now own it at the current generation.
	OutcomeClaimed OutcomeKind = "claimed"
	// OutcomeUnparseable: marker content did not parse; removed.
	OutcomeUnparseable OutcomeKind = "unparseable"
)

// Reconciler performs the C8 startup scan.
type Reconciler struct {
	fs      afero.Fs
	dir     string
	ownPID  int
	runners *registry.RunnerRegistry
}

// New constructs a Reconciler over dir (the project's runner-marker
// directory), scoped to the calling process's own PID.
func New(fs afero.Fs, dir string, runners *registry.RunnerRegistry) *Reconciler {
	return &Reconciler{fs: fs, dir: dir, ownPID: os.Getpid(), runners: runners}
}

// markerFilePrefix/Suffix match spec.md §6's file layout:
// runner-<orchestrationId>.json.
const (
	markerFilePrefix = "runner-"
	markerFileSuffix = ".json"
)

// Reconcile scans dir for runner markers and resolves each one per
// spec.md §4.8. Relaunchable returns the orchestration IDs of every
// orphan marker found, so the caller may optionally relaunch them.
func (r *Reconciler) Reconcile() ([]Outcome, error) {
	entries, err := afero.ReadDir(r.fs, r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var outcomes []Outcome
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, markerFilePrefix) || !strings.HasSuffix(name, markerFileSuffix) {
			continue
		}
		path := filepath.Join(r.dir, name)
		outcome := r.reconcileOne(path)
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (r *Reconciler) reconcileOne(path string) Outcome {
	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return Outcome{Path: path, Kind: OutcomeUnparseable}
	}

	var marker Marker
	if err := json.Unmarshal(data, &marker); err != nil || marker.OrchestrationID == "" {
		_ = r.fs.Remove(path)
		return Outcome{Path: path, Kind: OutcomeUnparseable}
	}

	if marker.PID != r.ownPID {
		// Foreign PID: treat as orphaned without verifying liveness,
		// since PIDs are reusable (spec.md §4.8).
		_ = r.fs.Remove(path)
		return Outcome{Path: path, OrchestrationID: marker.OrchestrationID, Kind: OutcomeOrphanDeleted}
	}

	// Same-PID: claim it at the current generation (same-process restart
	// reconciliation — only plausible path to a matching PID).
	if r.runners != nil {
		r.runners.NextGeneration(marker.OrchestrationID)
	}
	return Outcome{Path: path, OrchestrationID: marker.OrchestrationID, Kind: OutcomeClaimed}
}

// Relaunchable filters outcomes down to the orchestration IDs whose
// markers were dropped as orphans, which the dashboard may choose to
// relaunch.
func Relaunchable(outcomes []Outcome) []string {
	var ids []string
	for _, o := range outcomes {
		if o.Kind == OutcomeOrphanDeleted && o.OrchestrationID != "" {
			ids = append(ids, o.OrchestrationID)
		}
	}
	return ids
}
