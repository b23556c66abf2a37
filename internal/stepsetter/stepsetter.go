// Package stepsetter implements the single operation the core is allowed to
// use to mutate step-state.json: set_step(current, status, index). Per
// spec.md §9's resolved Open Question, this module always goes through the
// external setter (a separate small binary, invoked via exec) rather than
// editing the file directly, because the setter validates its input before
// writing.
//
// Grounded on the teacher's internal/cli command pattern (one cobra command
// per externally-invoked operation, e.g. internal/cli/add_phase.go) adapted
// to a single-purpose setter binary instead of a full CLI surface.
package stepsetter

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/relaygo/relay/internal/statestore"
	"github.com/relaygo/relay/internal/workflow"
)

// Setter is what the runner depends on; CommandSetter is the production
// implementation, DirectSetter is used by the setter binary's own main and
// by tests that want to skip the subprocess hop.
type Setter interface {
	SetStep(ctx context.Context, current workflow.Phase, status workflow.StepStatus, index int) error
}

// CommandSetter shells out to a configured binary that performs the
// validated write, so the running core process never edits step-state.json
// itself.
type CommandSetter struct {
	BinaryPath string
}

// NewCommandSetter returns a Setter that invokes binaryPath as a
// subprocess for every call.
func NewCommandSetter(binaryPath string) *CommandSetter {
	return &CommandSetter{BinaryPath: binaryPath}
}

func (c *CommandSetter) SetStep(ctx context.Context, current workflow.Phase, status workflow.StepStatus, index int) error {
	cmd := exec.CommandContext(ctx, c.BinaryPath,
		"set-step",
		"--current", string(current),
		"--status", string(status),
		"--index", strconv.Itoa(index),
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("step setter failed: %w: %s", err, string(out))
	}
	return nil
}

// DirectSetter validates and writes step-state.json without shelling out.
// It is what the setter binary's own main wires up, and is also what tests
// exercise directly since spawning a real subprocess in a unit test buys
// nothing here.
type DirectSetter struct {
	Store *statestore.Store
}

// NewDirectSetter returns a Setter backed by store, performing the same
// validation the external binary is expected to perform.
func NewDirectSetter(store *statestore.Store) *DirectSetter {
	return &DirectSetter{Store: store}
}

func (d *DirectSetter) SetStep(ctx context.Context, current workflow.Phase, status workflow.StepStatus, index int) error {
	if err := Validate(current, status, index); err != nil {
		return err
	}
	return d.Store.WriteStepDirect(&workflow.Step{Current: current, Status: status, Index: index})
}

// Validate enforces the shape set_step is documented to accept: a
// recognized phase whose index matches, and a recognized status.
func Validate(current workflow.Phase, status workflow.StepStatus, index int) error {
	if current != workflow.PhaseComplete && current.Index() == -1 {
		return fmt.Errorf("set_step: unrecognized phase %q", current)
	}
	if current != workflow.PhaseComplete && current.Index() != index {
		return fmt.Errorf("set_step: index %d does not match phase %q (expected %d)", index, current, current.Index())
	}
	switch status {
	case workflow.StepNotStarted, workflow.StepPending, workflow.StepInProgress,
		workflow.StepComplete, workflow.StepFailed, workflow.StepBlocked, workflow.StepSkipped:
	default:
		return fmt.Errorf("set_step: unrecognized status %q", status)
	}
	return nil
}
