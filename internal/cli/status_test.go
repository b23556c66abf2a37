package cli

import (
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/relaygo/relay/internal/workflow"
)

func TestProgressBar_EmptyTotalIsAllUnfilled(t *testing.T) {
	assert.Equal(t, "░░░░", progressBar(0, 0, 4))
}

func TestProgressBar_PartialFillRoundsDown(t *testing.T) {
	assert.Equal(t, "██░░░░░░░░", progressBar(1, 4, 10))
}

func TestProgressBar_FullCompletionFillsEntireWidth(t *testing.T) {
	assert.Equal(t, "████", progressBar(4, 4, 4))
}

func TestProgressBar_OverCompleteClampsToWidth(t *testing.T) {
	assert.Equal(t, "████", progressBar(9, 4, 4))
}

func TestStatusColor_CompletedIsGreenFailedAndNeedsAttnAreYellow(t *testing.T) {
	color.NoColor = true
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	assert.Equal(t, "completed", statusColor(workflow.OrchCompleted, green, yellow))
	assert.Equal(t, "failed", statusColor(workflow.OrchFailed, green, yellow))
	assert.Equal(t, "needs_attention", statusColor(workflow.OrchNeedsAttn, green, yellow))
	assert.Equal(t, "running", statusColor(workflow.OrchRunning, green, yellow))
}
