package display

import "github.com/fatih/color"

// Box drawing characters
const (
	BoxTopLeft     = "┌"
	BoxTopRight    = "┐"
	BoxBottomLeft  = "└"
	BoxBottomRight = "┘"
	BoxHorizontal  = "─"
	BoxVertical    = "│"
	SectionBreak   = "━"
)

// Status symbols
const (
	SymbolSuccess = "✓"
	SymbolError   = "✗"
	SymbolWarning = "⚠"
	SymbolResume  = "↻"
	SymbolPending = "○"
	SymbolPartial = "◐"
)

// Gutter markers prefixing narrated event lines.
const (
	GutterWorkflow = "▸"
	GutterHeal     = "◆"
	GutterDot      = "·"
)

// IndentBody is the indentation for narrated workflow-status output.
const IndentBody = "  "

// Theme holds all color functions for consistent styling.
type Theme struct {
	// Supervisor-level narration (prominent)
	RelayBorder func(a ...interface{}) string
	RelayLabel  func(a ...interface{}) string
	RelayText   func(a ...interface{}) string

	// Spawned-workflow output (subdued)
	WorkflowTimestamp func(a ...interface{}) string
	WorkflowText      func(a ...interface{}) string

	// Heal-routine output (distinct styling)
	HealGutter func(a ...interface{}) string
	HealText   func(a ...interface{}) string

	// Status indicators
	Success func(a ...interface{}) string
	Error   func(a ...interface{}) string
	Warning func(a ...interface{}) string
	Info    func(a ...interface{}) string

	// Structural elements
	Bold      func(a ...interface{}) string
	Dim       func(a ...interface{}) string
	Separator func(a ...interface{}) string
}

// DefaultTheme creates the default color theme.
func DefaultTheme() *Theme {
	return &Theme{
		RelayBorder: color.New(color.FgCyan).SprintFunc(),
		RelayLabel:  color.New(color.FgCyan, color.Bold).SprintFunc(),
		RelayText:   color.New(color.FgWhite).SprintFunc(),

		WorkflowTimestamp: color.New(color.FgHiBlack).SprintFunc(),
		WorkflowText:      color.New(color.FgWhite).SprintFunc(),

		HealGutter: color.New(color.FgMagenta).SprintFunc(),
		HealText:   color.New(color.FgWhite).SprintFunc(),

		Success: color.New(color.FgGreen).SprintFunc(),
		Error:   color.New(color.FgRed).SprintFunc(),
		Warning: color.New(color.FgYellow).SprintFunc(),
		Info:    color.New(color.FgCyan).SprintFunc(),

		Bold:      color.New(color.Bold).SprintFunc(),
		Dim:       color.New(color.FgHiBlack).SprintFunc(),
		Separator: color.New(color.FgCyan).SprintFunc(),
	}
}

// NoColorTheme creates a theme without colors (for --no-color or non-TTY).
func NoColorTheme() *Theme {
	identity := func(a ...interface{}) string {
		if len(a) == 0 {
			return ""
		}
		return a[0].(string)
	}
	return &Theme{
		RelayBorder:       identity,
		RelayLabel:        identity,
		RelayText:         identity,
		WorkflowTimestamp: identity,
		WorkflowText:      identity,
		HealGutter:        identity,
		HealText:          identity,
		Success:           identity,
		Error:             identity,
		Warning:           identity,
		Info:              identity,
		Bold:              identity,
		Dim:               identity,
		Separator:         identity,
	}
}
