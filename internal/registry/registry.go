// Package registry holds the in-process caches the design notes call out
// (spec.md §9): the active-workflow cache consulted by C5's active check,
// and the runner-generation counters C6 uses to settle dashboard-restart
// races safely. Both are scoped to one supervisor process and are always
// safe to lose on restart, since C8 rebuilds authoritative state from the
// filesystem at startup.
//
// Grounded on the teacher's promotion path for sourcegraph/conc (already an
// indirect dependency of the teacher's go.mod via cobra/viper's own
// transitive graph): this package is what gives it a direct, exercised call
// site — panic-safe per-orchestration goroutine supervision for the runner
// loop started by C6.
package registry

import (
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/relaygo/relay/internal/workflow"
)

// WorkflowRegistry is the cache C5's active check consults before spawning:
// "is there already a workflow in {running, waiting_for_input} for this
// orchestration?" without re-deriving it from disk on every call.
type WorkflowRegistry struct {
	mu    sync.Mutex
	byOrc map[string]workflow.WorkflowSnapshot
}

// NewWorkflowRegistry returns an empty registry.
func NewWorkflowRegistry() *WorkflowRegistry {
	return &WorkflowRegistry{byOrc: map[string]workflow.WorkflowSnapshot{}}
}

// Put records the latest known snapshot for an orchestration.
func (r *WorkflowRegistry) Put(orchestrationID string, snapshot workflow.WorkflowSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byOrc[orchestrationID] = snapshot
}

// Clear removes any recorded snapshot for an orchestration (on termination).
func (r *WorkflowRegistry) Clear(orchestrationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byOrc, orchestrationID)
}

// IsActive reports whether the last known snapshot for orchestrationID is
// still running or waiting for input — the gate C5 step 2 checks before
// spawning a second concurrent workflow for the same orchestration.
func (r *WorkflowRegistry) IsActive(orchestrationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.byOrc[orchestrationID]
	if !ok {
		return false
	}
	return snap.Status == workflow.WorkflowRunning || snap.Status == workflow.WorkflowWaitingForInput
}

// RunnerRegistry tracks a monotonic generation counter per orchestration,
// so an old runner that hasn't noticed a restart yet can tell it has been
// superseded and exit cleanly instead of racing a newer runner for the
// same orchestration.
type RunnerRegistry struct {
	mu         sync.Mutex
	generation map[string]int
	wg         conc.WaitGroup
}

// NewRunnerRegistry returns an empty registry.
func NewRunnerRegistry() *RunnerRegistry {
	return &RunnerRegistry{generation: map[string]int{}}
}

// NextGeneration increments and returns the new generation for an
// orchestration, superseding whichever generation is currently running.
func (r *RunnerRegistry) NextGeneration(orchestrationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation[orchestrationID]++
	return r.generation[orchestrationID]
}

// IsCurrent reports whether gen is still the live generation for
// orchestrationID; a runner loop checks this after every wake-up and exits
// as soon as it is false.
func (r *RunnerRegistry) IsCurrent(orchestrationID string, gen int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation[orchestrationID] == gen
}

// Go runs fn under the registry's conc.WaitGroup: a panic inside fn is
// caught and re-panicked from Wait() on the supervising goroutine instead
// of crashing the whole process silently.
func (r *RunnerRegistry) Go(fn func()) {
	r.wg.Go(fn)
}

// Wait blocks until every goroutine started via Go has returned, and
// re-panics if any of them panicked.
func (r *RunnerRegistry) Wait() {
	r.wg.Wait()
}
