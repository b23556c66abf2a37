package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaygo/relay/internal/workflow"
)

func TestWorkflowRegistry_IsActive_UnknownOrchestration(t *testing.T) {
	r := NewWorkflowRegistry()
	assert.False(t, r.IsActive("orch-1"))
}

func TestWorkflowRegistry_IsActive_RunningAndWaitingForInput(t *testing.T) {
	r := NewWorkflowRegistry()
	r.Put("orch-1", workflow.WorkflowSnapshot{Status: workflow.WorkflowRunning})
	assert.True(t, r.IsActive("orch-1"))

	r.Put("orch-1", workflow.WorkflowSnapshot{Status: workflow.WorkflowWaitingForInput})
	assert.True(t, r.IsActive("orch-1"))
}

func TestWorkflowRegistry_IsActive_FalseOnceCompleted(t *testing.T) {
	r := NewWorkflowRegistry()
	r.Put("orch-1", workflow.WorkflowSnapshot{Status: workflow.WorkflowCompleted})
	assert.False(t, r.IsActive("orch-1"))
}

func TestWorkflowRegistry_Clear(t *testing.T) {
	r := NewWorkflowRegistry()
	r.Put("orch-1", workflow.WorkflowSnapshot{Status: workflow.WorkflowRunning})
	r.Clear("orch-1")
	assert.False(t, r.IsActive("orch-1"))
}

func TestRunnerRegistry_GenerationSupersedesOlder(t *testing.T) {
	r := NewRunnerRegistry()
	gen1 := r.NextGeneration("orch-1")
	assert.True(t, r.IsCurrent("orch-1", gen1))

	gen2 := r.NextGeneration("orch-1")
	assert.False(t, r.IsCurrent("orch-1", gen1))
	assert.True(t, r.IsCurrent("orch-1", gen2))
}

func TestRunnerRegistry_IndependentOrchestrations(t *testing.T) {
	r := NewRunnerRegistry()
	genA := r.NextGeneration("orch-a")
	genB := r.NextGeneration("orch-b")
	assert.True(t, r.IsCurrent("orch-a", genA))
	assert.True(t, r.IsCurrent("orch-b", genB))
}

func TestRunnerRegistry_GoAndWait(t *testing.T) {
	r := NewRunnerRegistry()
	done := make(chan struct{})
	r.Go(func() { close(done) })
	r.Wait()
	<-done
}
