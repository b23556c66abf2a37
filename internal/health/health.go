// Package health implements C3, the Process-Health Supervisor: it classifies
// a workflow's subprocess as running, stale, dead, or unknown from PID
// liveness plus a session-journal staleness/end-marker check, without ever
// owning the subprocess itself.
//
// Grounded on the teacher's internal/llm/output.go (stream-event/record
// classification: FailureSignal, the regex end-markers scanned out of
// Claude's stream-json output) generalized from "detect a failure signal
// in a live stream" to "classify a journal file already on disk by its
// last records".
package health

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/relaygo/relay/internal/workflow"
)

// StalenessThreshold is the default activity-freshness window (spec.md §4.3),
// overridable per orchestration via workflow.OrchestrationConfig.StalenessThreshold.
const StalenessThreshold = workflow.DefaultStalenessThreshold

// journalTailBytes bounds how much of the session journal the classifier
// reads: the last ~10 KB, per spec.md §4.3.
const journalTailBytes = 10 * 1024

// Status is C3's output: running / stale / dead / unknown.
type Status string

const (
	StatusRunning Status = "running"
	StatusStale   Status = "stale"
	StatusDead    Status = "dead"
	StatusUnknown Status = "unknown"
)

// JournalStatus is the session-file classifier's own, finer-grained output,
// used to distinguish a graceful end from a crash once all PIDs are gone.
type JournalStatus string

const (
	JournalCompleted        JournalStatus = "completed"
	JournalWaitingForInput  JournalStatus = "waiting_for_input"
	JournalRunning          JournalStatus = "running"
	JournalStale            JournalStatus = "stale"
	JournalUnknown          JournalStatus = "unknown" // journal absent or unreadable
)

// ProcessRecord is the PID bookkeeping for one workflow: the launcher PID
// (the agent binary's own PID, since this module execs it directly rather
// than wrapping a separate child process). Zero if not recorded.
type ProcessRecord struct {
	LauncherPID int
	JournalPath string
}

// pids returns the non-zero PIDs recorded for this workflow.
func (p ProcessRecord) pids() []int {
	var out []int
	if p.LauncherPID > 0 {
		out = append(out, p.LauncherPID)
	}
	return out
}

// Checker classifies ProcessRecords. The Now and IsAlive fields are
// swappable for deterministic tests.
type Checker struct {
	Now     func() time.Time
	IsAlive func(pid int) bool
}

// NewChecker returns a Checker using wall-clock time and real PID liveness.
func NewChecker() *Checker {
	return &Checker{Now: time.Now, IsAlive: isAliveUnix}
}

// isAliveUnix sends the null signal (signal 0): success, or EPERM (exists,
// owned by someone else), means alive; ESRCH or any other lookup failure
// means dead. Grounded on the standard Unix liveness idiom used throughout
// the pack's process-supervision code paths (no single teacher file owns
// this, since the teacher always shells out and waits rather than polling
// a detached PID, but the null-signal technique is the stdlib-idiomatic
// choice and needs only os and syscall: os.FindProcess always succeeds on
// Unix, so the signal call is the actual liveness test).
func isAliveUnix(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if err == syscall.EPERM {
		return true
	}
	return false
}

// Classify implements spec.md §4.3's full decision table, honoring the
// ordering rule: the journal is classified before concluding "failed"/"dead"
// at the workflow-status level, so a gracefully-ended process whose PIDs
// have already exited is never mistaken for a crash.
func (c *Checker) Classify(rec ProcessRecord, threshold time.Duration) (Status, JournalStatus) {
	if threshold <= 0 {
		threshold = StalenessThreshold
	}
	now := c.Now()
	js := c.classifyJournal(rec.JournalPath, now, threshold)

	pids := rec.pids()
	if len(pids) == 0 {
		return StatusUnknown, js
	}

	anyAlive := false
	for _, pid := range pids {
		if c.IsAlive(pid) {
			anyAlive = true
			break
		}
	}

	if !anyAlive {
		return StatusDead, js
	}

	fresh := c.journalFresh(rec.JournalPath, now, threshold)
	if fresh {
		return StatusRunning, js
	}
	return StatusStale, js
}

func (c *Checker) journalFresh(path string, now time.Time, threshold time.Duration) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime()) <= threshold
}

// classifyJournal reads the journal's tail and applies the end-marker /
// freshness rules of spec.md §4.3.
func (c *Checker) classifyJournal(path string, now time.Time, threshold time.Duration) JournalStatus {
	if path == "" {
		return JournalUnknown
	}
	info, err := os.Stat(path)
	if err != nil {
		return JournalUnknown
	}

	tail, err := readTail(path, journalTailBytes)
	if err != nil {
		return JournalUnknown
	}

	fresh := now.Sub(info.ModTime()) <= threshold

	if recordsIndicateCompletion(tail) {
		return JournalCompleted
	}
	if recordsIndicateWaitingForInput(tail) && fresh {
		return JournalWaitingForInput
	}
	if fresh {
		return JournalRunning
	}
	return JournalStale
}

// readTail returns up to n trailing bytes of the file at path.
func readTail(path string, n int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	offset := int64(0)
	if size > n {
		offset = size - n
	}
	if _, err := f.Seek(offset, 0); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}

// journalRecord is the minimal structured shape this classifier looks for
// in each line of the session journal: a JSON-lines stream of records, each
// optionally carrying type/subtype/status/role fields.
type journalRecord struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Status  string `json:"status"`
	Role    string `json:"role"`
	Hook    string `json:"hook_event_name"`
}

// recordsIndicateCompletion scans tail's lines for any definitive end-marker:
// a stop-hook record, a type:"result" record, a subtype:"turn_duration"
// record, a type:"summary" record, or a last-parseable-line that is an
// assistant text response.
func recordsIndicateCompletion(tail []byte) bool {
	lines := splitLines(tail)
	var lastParsed *journalRecord
	for _, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var rec journalRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		lastParsed = &rec
		if rec.Hook != "" {
			return true
		}
		if rec.Type == "result" || rec.Subtype == "turn_duration" || rec.Type == "summary" {
			return true
		}
	}
	return lastParsed != nil && lastParsed.Role == "assistant" && lastParsed.Type != "tool_use"
}

// recordsIndicateWaitingForInput scans for a status:"needs_input" marker.
func recordsIndicateWaitingForInput(tail []byte) bool {
	for _, line := range splitLines(tail) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var rec journalRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Status == "needs_input" {
			return true
		}
	}
	return false
}

func splitLines(tail []byte) [][]byte {
	return bytes.Split(tail, []byte("\n"))
}
