// Package workspace locates and lays out the project-local .relay/
// directory: state documents (internal/statestore), runner markers and
// spawn intents (internal/spawner, internal/runner), and the task document
// C1 plans batches from.
//
// Grounded on the teacher's Find/Path (walk up from cwd looking for a
// dotdir), repointed from a single .ralph/config.yaml+prompts/ layout onto
// .relay/config.yaml plus the state/ and run/ directories C2 and C5 read
// and write.
package workspace

import (
	"errors"
	"os"
	"path/filepath"
)

// RelayDir is the project-local directory name this module looks for.
const RelayDir = ".relay"

var ErrNoWorkspace = errors.New("no relay workspace found (run 'relay init' first)")
var ErrWorkspaceExists = errors.New("relay workspace already exists (use --force to overwrite)")

// Find walks up from cwd looking for a .relay/ directory.
func Find() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, RelayDir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoWorkspace
		}
		dir = parent
	}
}

// Path returns the .relay directory path for a workspace root.
func Path(root string) string {
	return filepath.Join(root, RelayDir)
}

// ConfigPath returns config.yaml's path.
func ConfigPath(root string) string {
	return filepath.Join(root, RelayDir, "config.yaml")
}

// StateDir returns the directory C2 reads/writes dashboard-state.json and
// step-state.json in.
func StateDir(root string) string {
	return filepath.Join(root, RelayDir, "state")
}

// RunDir returns the directory C5 and C8 keep spawn intents, PID records,
// and runner markers in.
func RunDir(root string) string {
	return filepath.Join(root, RelayDir, "run")
}

// JournalDir returns the directory heal subprocesses write their
// stream-json session journals to; spawned workflows write theirs in RunDir.
func JournalDir(root string) string {
	return filepath.Join(root, RelayDir, "journal")
}

// TasksPath returns the markdown task document C1 plans batches from.
func TasksPath(root string) string {
	return filepath.Join(root, RelayDir, "tasks.md")
}
