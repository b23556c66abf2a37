package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })
}

func TestFind_LocatesWorkspaceAtCwd(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(Path(root), 0o755))
	chdir(t, root)

	found, err := Find()
	require.NoError(t, err)

	wantReal, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	gotReal, err := filepath.EvalSymlinks(found)
	require.NoError(t, err)
	assert.Equal(t, wantReal, gotReal)
}

func TestFind_LocatesWorkspaceFromNestedSubdirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(Path(root), 0o755))
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	chdir(t, nested)

	found, err := Find()
	require.NoError(t, err)

	wantReal, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	gotReal, err := filepath.EvalSymlinks(found)
	require.NoError(t, err)
	assert.Equal(t, wantReal, gotReal)
}

func TestFind_ReturnsErrNoWorkspaceWhenAbsent(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := Find()
	assert.ErrorIs(t, err, ErrNoWorkspace)
}

func TestPathHelpers_JoinRelayDirCorrectly(t *testing.T) {
	root := "/proj"
	assert.Equal(t, "/proj/.relay", Path(root))
	assert.Equal(t, "/proj/.relay/config.yaml", ConfigPath(root))
	assert.Equal(t, "/proj/.relay/state", StateDir(root))
	assert.Equal(t, "/proj/.relay/run", RunDir(root))
	assert.Equal(t, "/proj/.relay/journal", JournalDir(root))
	assert.Equal(t, "/proj/.relay/tasks.md", TasksPath(root))
}
