// Package display provides unified CLI output formatting, visually
// separating supervisor-level decision/dispatch narration from a spawned
// workflow's own streamed output.
package display

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/relaygo/relay/internal/workflow"
)

// Display handles all CLI output with visual hierarchy.
type Display struct {
	theme     *Theme
	termWidth int
	noColor   bool
}

// New creates a new Display instance with color enabled.
func New() *Display {
	return NewWithOptions(false)
}

// NewWithOptions creates a Display with the given no-color setting.
func NewWithOptions(noColor bool) *Display {
	d := &Display{
		termWidth: getTerminalWidth(),
		noColor:   noColor,
	}
	if noColor {
		d.theme = NoColorTheme()
	} else {
		d.theme = DefaultTheme()
	}
	return d
}

func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < 40 {
		return 80
	}
	if width > 120 {
		return 120
	}
	return width
}

// Relay prints a boxed message for supervisor-level orchestration output.
func (d *Display) Relay(lines ...string) {
	d.RelayBox("RELAY", lines...)
}

// RelayBox prints a boxed message with a custom title.
func (d *Display) RelayBox(title string, lines ...string) {
	if len(lines) == 0 {
		return
	}

	width := d.termWidth - 2
	titleLen := len(title) + 4
	remainingWidth := width - titleLen
	if remainingWidth < 0 {
		remainingWidth = 0
	}

	topLine := BoxTopLeft + BoxHorizontal + " " + title + " " + strings.Repeat(BoxHorizontal, remainingWidth) + BoxTopRight
	fmt.Println(d.theme.RelayBorder(topLine))

	for _, line := range lines {
		paddedLine := d.padRight(line, width-2)
		fmt.Println(d.theme.RelayBorder(BoxVertical) + " " + d.theme.RelayText(paddedLine) + " " + d.theme.RelayBorder(BoxVertical))
	}

	bottomLine := BoxBottomLeft + strings.Repeat(BoxHorizontal, width) + BoxBottomRight
	fmt.Println(d.theme.RelayBorder(bottomLine))
}

// RelayStatus prints a single-line status message (no box).
func (d *Display) RelayStatus(symbol, message string) {
	timestamp := time.Now().Format("[15:04:05]")
	fmt.Printf("%s %s %s\n", d.theme.RelayBorder(timestamp), symbol, d.theme.RelayText(message))
}

// Success prints a success message with a green checkmark.
func (d *Display) Success(message string) {
	d.RelayStatus(d.theme.Success(SymbolSuccess), message)
}

// Error prints an error message with a red X.
func (d *Display) Error(message string) {
	d.RelayStatus(d.theme.Error(SymbolError), message)
}

// Warning prints a warning message with a yellow triangle.
func (d *Display) Warning(message string) {
	d.RelayStatus(d.theme.Warning(SymbolWarning), message)
}

// Info prints a labeled info message.
func (d *Display) Info(label, message string) {
	d.RelayStatus(d.theme.Info(label+":"), message)
}

// Decision narrates a single entry from the decision log: the action C4
// chose and the reason it gave.
func (d *Display) Decision(action workflow.Action, reason string) {
	timestamp := time.Now().Format("[15:04:05]")
	fmt.Printf("%s %s %s %s\n",
		d.theme.RelayBorder(timestamp),
		d.theme.Info(string(action)),
		d.theme.Dim("—"),
		d.theme.RelayText(reason))
}

// wrapText wraps text to maxWidth, returning up to 5 lines.
func (d *Display) wrapText(text string, maxWidth int) []string {
	if maxWidth <= 0 {
		maxWidth = 80
	}

	text = strings.TrimSpace(text)
	if len(text) <= maxWidth {
		return []string{text}
	}

	var lines []string
	words := strings.Fields(text)
	var currentLine strings.Builder

	for _, word := range words {
		if currentLine.Len()+len(word)+1 > maxWidth {
			if currentLine.Len() > 0 {
				lines = append(lines, currentLine.String())
				currentLine.Reset()
			}
		}
		if currentLine.Len() > 0 {
			currentLine.WriteString(" ")
		}
		currentLine.WriteString(word)
	}
	if currentLine.Len() > 0 {
		lines = append(lines, currentLine.String())
	}

	if len(lines) > 5 {
		lines = lines[:5]
		if len(lines[4]) > maxWidth-3 {
			lines[4] = lines[4][:maxWidth-3]
		}
		lines[4] = lines[4] + "..."
	}

	return lines
}

// Spawned prints a notice that C5 launched a subprocess for a skill.
func (d *Display) Spawned(skill, workflowID string) {
	timestamp := time.Now().Format("[15:04:05]")
	fmt.Printf("%s %s %s\n",
		d.theme.WorkflowTimestamp(timestamp),
		d.theme.WorkflowTimestamp(GutterWorkflow),
		d.theme.WorkflowText(fmt.Sprintf("spawned %s (%s)", skill, workflowID)))
}

// WorkflowStatus prints a spawned workflow's terminal outcome.
func (d *Display) WorkflowStatus(workflowID string, status workflow.WorkflowStatus) {
	timestamp := time.Now().Format("[15:04:05]")
	fmt.Printf("%s %s%s %s\n",
		IndentBody,
		d.theme.WorkflowTimestamp(timestamp),
		d.theme.WorkflowTimestamp(" "+GutterDot),
		d.theme.WorkflowText(fmt.Sprintf("%s -> %s", workflowID, status)))
}

// BatchProgress prints the implement-phase batch cursor.
func (d *Display) BatchProgress(current, total int, section string, status workflow.BatchStatus) {
	line := fmt.Sprintf("batch %d/%d: %s [%s]", current+1, total, section, status)
	d.RelayStatus(d.theme.Info(SymbolPartial), line)
}

// Heal narrates a C7 healing attempt and its outcome.
func (d *Display) Heal(section string, attempt, maxAttempts int, outcome string) {
	timestamp := time.Now().Format("[15:04:05]")
	fmt.Printf("%s %s %s\n",
		d.theme.Dim(timestamp),
		d.theme.HealGutter(GutterHeal),
		d.theme.HealText(fmt.Sprintf("healing %q (attempt %d/%d): %s", section, attempt, maxAttempts, outcome)))
}

// NeedsAttention prints the recovery context attached when an
// orchestration stalls.
func (d *Display) NeedsAttention(issue string, options []workflow.RecoveryAction) {
	opts := make([]string, len(options))
	for i, o := range options {
		opts[i] = string(o)
	}
	d.Warning(fmt.Sprintf("%s (options: %s)", issue, strings.Join(opts, ", ")))
}

// Complete prints the orchestration-complete banner.
func (d *Display) Complete(orchestrationID string, totalCostUSD string) {
	d.Success(fmt.Sprintf("orchestration %s complete (cost: $%s)", orchestrationID, totalCostUSD))
}

// Failed prints the orchestration-failed banner.
func (d *Display) Failed(orchestrationID, reason string) {
	d.Error(fmt.Sprintf("orchestration %s failed: %s", orchestrationID, reason))
}

// SectionBreak prints a horizontal separator.
func (d *Display) SectionBreak() {
	fmt.Println(d.theme.Separator(strings.Repeat(SectionBreak, d.termWidth)))
}

// Theme returns the current theme for external use.
func (d *Display) Theme() *Theme {
	return d.theme
}

func (d *Display) padRight(s string, width int) string {
	if width < 0 {
		width = 0
	}
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

// Truncate truncates text to max length with an ellipsis.
func Truncate(s string, max int) string {
	s = CleanText(s)
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// CleanText removes newlines and collapses repeated spaces.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return strings.TrimSpace(s)
}
