// Package statestore implements C2: atomic read/write of the dashboard-state
// and step-state documents, plus the append-only decision log.
//
// Grounded on the teacher's internal/state/json_state.go
// (LoadStateJSON/SaveStateJSON: write-temp-then-rename, defaults applied on
// load) generalized from a single state.json to the two documents of
// spec.md §4.2, and made filesystem-injectable via spf13/afero so tests run
// against an in-memory fs instead of real temp directories.
package statestore

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/spf13/afero"

	"github.com/relaygo/relay/internal/workflow"
)

const (
	dashboardStateFile = "dashboard-state.json"
	stepStateFile      = "step-state.json"
)

// Store owns the two documents of §4.2 under one project-local directory
// (conventionally .relay/state/).
type Store struct {
	fs  afero.Fs
	dir string

	mu      sync.Mutex
	perOrch map[string]*sync.Mutex
}

// New creates a Store rooted at dir on fs. Pass afero.NewOsFs() for real
// disk I/O, or afero.NewMemMapFs() in tests.
func New(fs afero.Fs, dir string) *Store {
	return &Store{
		fs:      fs,
		dir:     dir,
		perOrch: map[string]*sync.Mutex{},
	}
}

func (s *Store) dashboardPath() string {
	return s.dir + "/" + dashboardStateFile
}

func (s *Store) stepPath() string {
	return s.dir + "/" + stepStateFile
}

// lockFor returns (creating if necessary) the in-process mutex serializing
// writes for one orchestration (spec.md §5 "a per-orchestration mutex
// guards the sequence read state -> compute delta -> write state").
func (s *Store) lockFor(orchestrationID string) *sync.Mutex {
	if orchestrationID == "" {
		orchestrationID = "_none_"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.perOrch[orchestrationID]
	if !ok {
		m = &sync.Mutex{}
		s.perOrch[orchestrationID] = m
	}
	return m
}

// ReadDashboardState returns the parsed document, or nil when the file is
// absent or the JSON is unparseable. A parseable document with missing
// optional fields is safe-parsed: defaults are filled in rather than
// propagating a zero-value document.
func (s *Store) ReadDashboardState() (*workflow.DashboardState, error) {
	data, err := afero.ReadFile(s.fs, s.dashboardPath())
	if err != nil {
		// absent or unreadable: treated the same, per §7 taxonomy 1
		return nil, nil
	}

	var raw workflow.DashboardState
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil // unparseable: readers return null, never panic
	}
	applyDashboardDefaults(&raw)
	return &raw, nil
}

// applyDashboardDefaults fills documented defaults for fields a partial
// document may omit (§4.2 "fills required fields with documented defaults").
func applyDashboardDefaults(d *workflow.DashboardState) {
	if d.Cost.PerBatch == nil {
		d.Cost.PerBatch = map[string]decimal.Decimal{}
	}
	if d.DecisionLog == nil {
		d.DecisionLog = []workflow.DecisionLogEntry{}
	}
}

// WriteDashboardState persists state atomically (write-temp, rename) under
// the per-orchestration mutex. orchestrationID should be state.Active.ID
// when present; callers writing a state with no active orchestration (e.g.
// clearing it) should pass the orchestration that just terminated so the
// write still serializes against any in-flight sibling write.
func (s *Store) WriteDashboardState(orchestrationID string, state *workflow.DashboardState) error {
	lock := s.lockFor(orchestrationID)
	lock.Lock()
	defer lock.Unlock()
	return s.writeDashboardStateLocked(state)
}

func (s *Store) writeDashboardStateLocked(state *workflow.DashboardState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("refusing to persist invalid dashboard state: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal dashboard state: %w", err)
	}
	return atomicWrite(s.fs, s.dashboardPath(), data)
}

// AppendDecision rewrites the full dashboard-state document with one more
// decision log entry. The log is append-only (P3): existing entries are
// never mutated or dropped.
func (s *Store) AppendDecision(orchestrationID string, entry workflow.DecisionLogEntry) error {
	lock := s.lockFor(orchestrationID)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.ReadDashboardState()
	if err != nil {
		return err
	}
	if state == nil {
		state = workflow.NewDashboardState()
	}
	state.DecisionLog = append(state.DecisionLog, entry)
	return s.writeDashboardStateLocked(state)
}

// ReadStep returns the parsed step document, or nil when absent/unparseable.
func (s *Store) ReadStep() (*workflow.Step, error) {
	data, err := afero.ReadFile(s.fs, s.stepPath())
	if err != nil {
		return nil, nil
	}
	var step workflow.Step
	if err := json.Unmarshal(data, &step); err != nil {
		return nil, nil
	}
	return &step, nil
}

// WriteStepDirect persists step-state.json atomically. Per spec.md §4.2 the
// core normally writes step state only through the external setter
// (internal/stepsetter), which calls this method; it is also the seam tests
// use to establish step state without shelling out to a binary.
func (s *Store) WriteStepDirect(step *workflow.Step) error {
	data, err := json.MarshalIndent(step, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal step state: %w", err)
	}
	return atomicWrite(s.fs, s.stepPath(), data)
}

// atomicWrite writes data to a sibling temp file and renames it over path,
// so a reader never observes a partially written document (grounded on the
// teacher's internal/state/json_state.go SaveStateJSON).
func atomicWrite(fs afero.Fs, path string, data []byte) error {
	dir := parentDir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create state directory %s: %w", dir, err)
	}

	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("cannot write temp file %s: %w", tmp, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("cannot rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

func parentDir(path string) string {
	idx := -1
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "."
	}
	return path[:idx]
}
