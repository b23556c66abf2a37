package reconcile

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygo/relay/internal/registry"
)

func writeMarker(t *testing.T, fs afero.Fs, path string, m Marker) {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, path, data, 0o644))
}

func TestReconcile_ForeignPIDIsDeletedAsOrphanWithoutLivenessCheck(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/proj/.state/workflows"
	writeMarker(t, fs, dir+"/runner-orch-1.json", Marker{OrchestrationID: "orch-1", PID: 999999})

	r := New(fs, dir, registry.NewRunnerRegistry())
	outcomes, err := r.Reconcile()
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeOrphanDeleted, outcomes[0].Kind)
	assert.Equal(t, "orch-1", outcomes[0].OrchestrationID)

	exists, err := afero.Exists(fs, dir+"/runner-orch-1.json")
	require.NoError(t, err)
	assert.False(t, exists, "orphan marker must be removed")

	assert.Equal(t, []string{"orch-1"}, Relaunchable(outcomes))
}

func TestReconcile_SamePIDIsClaimedAndBumpsGeneration(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/proj/.state/workflows"
	writeMarker(t, fs, dir+"/runner-orch-2.json", Marker{OrchestrationID: "orch-2", PID: os.Getpid()})

	runners := registry.NewRunnerRegistry()
	r := New(fs, dir, runners)
	outcomes, err := r.Reconcile()
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeClaimed, outcomes[0].Kind)

	assert.True(t, runners.IsCurrent("orch-2", 1), "claiming must set the active generation")
	assert.Empty(t, Relaunchable(outcomes))
}

func TestReconcile_UnparseableMarkerIsDeleted(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/proj/.state/workflows"
	require.NoError(t, afero.WriteFile(fs, dir+"/runner-orch-3.json", []byte("{not json"), 0o644))

	r := New(fs, dir, registry.NewRunnerRegistry())
	outcomes, err := r.Reconcile()
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeUnparseable, outcomes[0].Kind)

	exists, err := afero.Exists(fs, dir+"/runner-orch-3.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReconcile_IgnoresNonMarkerFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/proj/.state/workflows"
	require.NoError(t, afero.WriteFile(fs, dir+"/dashboard-state.json", []byte("{}"), 0o644))

	r := New(fs, dir, registry.NewRunnerRegistry())
	outcomes, err := r.Reconcile()
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestReconcile_EmptyDirectoryIsNotAnError(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := New(fs, "/proj/.state/workflows-missing", registry.NewRunnerRegistry())
	outcomes, err := r.Reconcile()
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}
