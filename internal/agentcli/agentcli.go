// Package agentcli is the one place this module shells out to the external
// agent binary and reads its stream-json output. Everything above this
// package only ever sees a workflow.WorkflowSnapshot; nothing above this
// package touches os/exec, a PID, or a journal file directly.
//
// Grounded on the teacher's internal/llm/claude.go (binary resolution,
// buildArgs, the cmdReader wrapper that waits for the subprocess on Close)
// and internal/llm/output.go's stream-json record shapes (StreamEvent /
// MessageContent / ContentBlock / UsageBlock), unified into one coherent
// reader instead of reproducing that file's drifted ParseStream signatures.
package agentcli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// LaunchOptions describes one subprocess invocation.
type LaunchOptions struct {
	Skill       string   // e.g. "flow.implement"
	Context     string   // optional free-text appended to the prompt
	WorkDir     string   // the project's working directory
	Model       string
	JournalPath string // where the raw stream is tee'd for internal/health
}

// Launcher resolves and invokes the agent binary.
type Launcher struct {
	BinaryPath string
}

// NewLauncher resolves binaryPath to an absolute path, trying PATH and a
// short list of common install locations before giving up and returning
// the original string (to fail later with a clear error).
func NewLauncher(binaryPath string) *Launcher {
	if binaryPath == "" {
		binaryPath = "relay-agent"
	}
	return &Launcher{BinaryPath: resolveBinaryPath(binaryPath)}
}

func resolveBinaryPath(binaryPath string) string {
	if filepath.IsAbs(binaryPath) {
		return binaryPath
	}
	if path, err := exec.LookPath(binaryPath); err == nil {
		return path
	}
	home, _ := os.UserHomeDir()
	commonPaths := []string{
		filepath.Join(home, ".relay", "local", binaryPath),
		"/usr/local/bin/" + binaryPath,
		"/opt/homebrew/bin/" + binaryPath,
	}
	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return binaryPath
}

// notFoundError matches the teacher's pattern of a remediation-bearing error
// rather than a bare "not found".
func notFoundError(binary string) error {
	return fmt.Errorf(`%s not found in PATH

Add its install directory to PATH, or set agent.binary to an absolute path
in the relay config file.`, binary)
}

func (l *Launcher) buildArgs(opts LaunchOptions) []string {
	args := []string{"-p", opts.Skill}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	args = append(args, "--output-format", "stream-json", "--verbose")
	if opts.Context != "" {
		args = append(args, "--context", opts.Context)
	}
	return args
}

// Handle is the live view of one launched subprocess: its PID plus a
// continuously-updated summary the caller can poll without blocking on
// process exit. The core never calls Wait directly — internal/health and
// internal/decision only ever consult Summary(). spec.md §4.3 allows for
// "one or two PIDs: a launcher and the agent process" for agents that fork
// a detached child; this launcher execs the agent binary directly, so the
// process it starts is the agent process and there is only ever one PID
// to track.
type Handle struct {
	LauncherPID int
	JournalPath string

	cmd *exec.Cmd

	mu      sync.Mutex
	summary Summary
	waitErr error
	waited  bool
}

// Summary is the parsed, continuously-updated view of the subprocess's
// progress, derived from its stream-json output.
type Summary struct {
	SessionID      string
	CostUSD        decimal.Decimal
	Completed      bool
	Failed         bool
	FailureDetail  string
	LastActivityAt time.Time
}

// Launch starts the agent binary in the background and returns immediately;
// a goroutine drains its stdout into both the journal file (for
// internal/health's staleness/end-marker classification) and an in-memory
// Summary (for direct cost/session-id reads without re-parsing the file).
func (l *Launcher) Launch(ctx context.Context, opts LaunchOptions) (*Handle, error) {
	cmd := exec.CommandContext(ctx, l.BinaryPath, l.buildArgs(opts)...)
	cmd.Dir = opts.WorkDir
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("cannot create stdout pipe: %w", err)
	}

	journal, err := os.Create(opts.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("cannot create session journal %s: %w", opts.JournalPath, err)
	}

	if err := cmd.Start(); err != nil {
		journal.Close()
		if strings.Contains(err.Error(), "executable file not found") {
			return nil, notFoundError(l.BinaryPath)
		}
		return nil, fmt.Errorf("cannot start agent binary: %w", err)
	}

	h := &Handle{
		LauncherPID: cmd.Process.Pid,
		JournalPath: opts.JournalPath,
		cmd:         cmd,
		summary:     Summary{LastActivityAt: time.Now()},
	}

	go h.drain(stdout, journal)

	return h, nil
}

// drain tees stdout to the journal file line by line and updates Summary
// as recognizable stream-json records arrive. It never returns an error to
// the caller: a malformed line is simply not reflected in the summary, and
// the journal file itself remains the source of truth for internal/health.
func (h *Handle) drain(stdout io.ReadCloser, journal *os.File) {
	defer journal.Close()
	defer stdout.Close()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		fmt.Fprintln(journal, string(line))

		var event streamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		h.applyEvent(event)
	}

	h.mu.Lock()
	h.waitErr = h.cmd.Wait()
	h.waited = true
	h.mu.Unlock()
}

// streamEvent mirrors the teacher's StreamEvent/MessageContent/ContentBlock/
// UsageBlock shapes, extended with the session/cost fields this domain
// needs that the teacher's chat-oriented schema didn't track.
type streamEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	CostUSD   *float64        `json:"cost_usd"`
	Result    string          `json:"result,omitempty"`
	Message   *messageContent `json:"message,omitempty"`
}

type messageContent struct {
	Content []contentBlock `json:"content,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func (h *Handle) applyEvent(event streamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.summary.LastActivityAt = time.Now()
	if event.SessionID != "" {
		h.summary.SessionID = event.SessionID
	}
	if event.CostUSD != nil {
		h.summary.CostUSD = decimal.NewFromFloat(*event.CostUSD)
	}
	switch {
	case event.Type == "result", event.Subtype == "turn_duration", event.Type == "summary":
		h.summary.Completed = true
	}
	if event.Message != nil {
		for _, block := range event.Message.Content {
			if block.Type == "text" && strings.Contains(block.Text, "###TASK_FAILED") {
				h.summary.Failed = true
				h.summary.FailureDetail = block.Text
			}
		}
	}
}

// Summary returns a copy of the handle's current view.
func (h *Handle) Summary() Summary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.summary
}

// Signal sends an OS signal to the launcher PID, used by the spawner's
// pause/cancel path (SIGTERM first, SIGKILL after a grace period).
func (h *Handle) Signal(sig os.Signal) error {
	proc, err := os.FindProcess(h.LauncherPID)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}
