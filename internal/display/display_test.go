package display

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaygo/relay/internal/workflow"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	old := os.Stdout
	os.Stdout = w
	fn()
	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

func TestTruncate_ShortStringUnchanged(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 10))
}

func TestTruncate_LongStringGetsEllipsis(t *testing.T) {
	out := Truncate("this is a very long line of text", 10)
	assert.Len(t, out, 10)
	assert.Contains(t, out, "...")
}

func TestCleanText_CollapsesWhitespaceAndNewlines(t *testing.T) {
	assert.Equal(t, "a b c", CleanText("a\nb   c"))
}

func TestNoColorTheme_PassesThroughWithoutEscapeCodes(t *testing.T) {
	th := NoColorTheme()
	assert.Equal(t, "hello", th.Success("hello"))
	assert.Equal(t, "hello", th.RelayText("hello"))
	assert.Equal(t, "", th.Dim())
}

func TestDisplay_SuccessWritesSymbolAndMessage(t *testing.T) {
	d := NewWithOptions(true)
	out := captureStdout(t, func() {
		d.Success("batch complete")
	})
	assert.Contains(t, out, SymbolSuccess)
	assert.Contains(t, out, "batch complete")
}

func TestDisplay_SpawnedWritesSkillAndWorkflowID(t *testing.T) {
	d := NewWithOptions(true)
	out := captureStdout(t, func() {
		d.Spawned("implement", "wf-123")
	})
	assert.Contains(t, out, "implement")
	assert.Contains(t, out, "wf-123")
	assert.Contains(t, out, GutterWorkflow)
}

func TestDisplay_HealWritesAttemptCounter(t *testing.T) {
	d := NewWithOptions(true)
	out := captureStdout(t, func() {
		d.Heal("auth", 2, 3, "partial")
	})
	assert.Contains(t, out, "auth")
	assert.Contains(t, out, "2/3")
	assert.Contains(t, out, "partial")
}

func TestDisplay_NeedsAttentionListsOptions(t *testing.T) {
	d := NewWithOptions(true)
	out := captureStdout(t, func() {
		d.NeedsAttention("workflow stalled", []workflow.RecoveryAction{workflow.RecoveryRetry, workflow.RecoverySkip})
	})
	assert.Contains(t, out, "workflow stalled")
	assert.Contains(t, out, "retry")
	assert.Contains(t, out, "skip")
}

func TestDisplay_RelayBoxRendersAllLines(t *testing.T) {
	d := NewWithOptions(true)
	out := captureStdout(t, func() {
		d.RelayBox("TITLE", "line one", "line two")
	})
	assert.Contains(t, out, "TITLE")
	assert.Contains(t, out, "line one")
	assert.Contains(t, out, "line two")
}

func TestDisplay_WrapTextSplitsLongLines(t *testing.T) {
	d := NewWithOptions(true)
	lines := d.wrapText("one two three four five six seven eight nine ten eleven twelve", 20)
	assert.True(t, len(lines) > 1)
	for _, l := range lines {
		assert.LessOrEqual(t, len(l), 20)
	}
}
