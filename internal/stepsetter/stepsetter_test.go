package stepsetter

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygo/relay/internal/statestore"
	"github.com/relaygo/relay/internal/workflow"
)

func TestValidate_RejectsMismatchedIndex(t *testing.T) {
	err := Validate(workflow.PhaseImplement, workflow.StepInProgress, 0)
	assert.Error(t, err)
}

func TestValidate_AcceptsMatchingIndex(t *testing.T) {
	err := Validate(workflow.PhaseImplement, workflow.StepInProgress, workflow.PhaseImplement.Index())
	assert.NoError(t, err)
}

func TestValidate_RejectsUnrecognizedStatus(t *testing.T) {
	err := Validate(workflow.PhaseDesign, workflow.StepStatus("bogus"), 0)
	assert.Error(t, err)
}

func TestValidate_CompleteSkipsIndexCheck(t *testing.T) {
	err := Validate(workflow.PhaseComplete, workflow.StepComplete, 99)
	assert.NoError(t, err)
}

func TestDirectSetter_WritesValidatedStep(t *testing.T) {
	store := statestore.New(afero.NewMemMapFs(), "/proj/.relay/state")
	setter := NewDirectSetter(store)

	err := setter.SetStep(context.Background(), workflow.PhaseAnalyze, workflow.StepComplete, workflow.PhaseAnalyze.Index())
	require.NoError(t, err)

	step, err := store.ReadStep()
	require.NoError(t, err)
	require.NotNil(t, step)
	assert.Equal(t, workflow.PhaseAnalyze, step.Current)
	assert.Equal(t, workflow.StepComplete, step.Status)
}

func TestDirectSetter_RejectsInvalidInput(t *testing.T) {
	store := statestore.New(afero.NewMemMapFs(), "/proj/.relay/state")
	setter := NewDirectSetter(store)

	err := setter.SetStep(context.Background(), workflow.PhaseAnalyze, workflow.StepComplete, 0)
	assert.Error(t, err)

	step, err := store.ReadStep()
	require.NoError(t, err)
	assert.Nil(t, step, "a rejected set_step must not write a file")
}
