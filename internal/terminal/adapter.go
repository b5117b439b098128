// Package terminal is the interactive adapter the orchestrator consults:
// conflict prompts, diff rendering and user-facing logging. Indentation is
// carried on the adapter value and threaded explicitly through calls.
package terminal

import (
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/kiln-dev/kiln/internal/conflict"
	"github.com/kiln-dev/kiln/internal/vfs"
)

var (
	addedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#73F59F"))
	removedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	cursorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
)

// Adapter implements the interactive collaborator surface on a real
// terminal.
type Adapter struct {
	in          io.Reader
	out         io.Writer
	logger      *log.Logger
	depth       int
	interactive bool
	fallback    conflict.Action
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithInput overrides the prompt input stream.
func WithInput(in io.Reader) Option {
	return func(a *Adapter) { a.in = in }
}

// WithOutput overrides the output stream.
func WithOutput(out io.Writer) Option {
	return func(a *Adapter) { a.out = out }
}

// WithLogger overrides the adapter logger.
func WithLogger(logger *log.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// NonInteractive answers every conflict prompt with the given action instead
// of asking. Used for unattended runs.
func NonInteractive(action conflict.Action) Option {
	return func(a *Adapter) {
		a.interactive = false
		a.fallback = action
	}
}

// New builds an adapter bound to stdin/stdout.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		in:          os.Stdin,
		out:         os.Stdout,
		interactive: true,
		fallback:    conflict.ActionSkip,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = log.NewWithOptions(a.out, log.Options{ReportTimestamp: false})
	}
	return a
}

// Logger exposes the structured logger for other components.
func (a *Adapter) Logger() *log.Logger { return a.logger }

// WithIndent returns a derived adapter whose messages render one level
// deeper.
func (a *Adapter) WithIndent() *Adapter {
	clone := *a
	clone.depth = a.depth + 1
	return &clone
}

// Log emits one user-facing message at the adapter's indentation level.
func (a *Adapter) Log(msg string) {
	indent := strings.Repeat("  ", a.depth)
	for _, line := range strings.Split(msg, "\n") {
		fmt.Fprintf(a.out, "%s%s\n", indent, line)
	}
}

// RenderDiff produces a colored line diff between on-disk and staged
// contents.
func (a *Adapter) RenderDiff(old, new []byte) string {
	dmp := diffmatchpatch.New()
	srcRunes, dstRunes, lines := dmp.DiffLinesToRunes(string(old), string(new))
	diffs := dmp.DiffCharsToLines(dmp.DiffMainRunes(srcRunes, dstRunes, false), lines)

	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			b.WriteString(addedStyle.Render(prefixLines("+", d.Text)))
		case diffmatchpatch.DiffDelete:
			b.WriteString(removedStyle.Render(prefixLines("-", d.Text)))
		default:
			b.WriteString(prefixLines(" ", d.Text))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func prefixLines(prefix, text string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		b.WriteString(prefix)
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// PromptConflict asks the user how to resolve one conflicting record.
func (a *Adapter) PromptConflict(path string, state vfs.State) (conflict.Action, error) {
	if !a.interactive {
		return a.fallback, nil
	}
	model := newConflictModel(path, state)
	program := tea.NewProgram(model, tea.WithInput(a.in), tea.WithOutput(a.out))
	final, err := program.Run()
	if err != nil {
		return "", fmt.Errorf("terminal: conflict prompt: %w", err)
	}
	chosen, ok := final.(conflictModel)
	if !ok || chosen.choice == "" {
		return conflict.ActionAbort, nil
	}
	return chosen.choice, nil
}

// conflictChoice is one selectable answer in the prompt.
type conflictChoice struct {
	key    string
	label  string
	action conflict.Action
}

var conflictChoices = []conflictChoice{
	{"y", "overwrite", conflict.ActionForce},
	{"n", "skip", conflict.ActionSkip},
	{"d", "show diff", conflict.ActionDiff},
	{"x", "abort", conflict.ActionAbort},
}

// conflictModel is a minimal Elm-architecture prompt: cursor over the four
// resolution choices, hotkeys as shortcuts.
type conflictModel struct {
	path   string
	state  vfs.State
	cursor int
	choice conflict.Action
}

func newConflictModel(path string, state vfs.State) conflictModel {
	return conflictModel{path: path, state: state}
}

func (m conflictModel) Init() tea.Cmd { return nil }

func (m conflictModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(conflictChoices)-1 {
			m.cursor++
		}
	case "enter":
		m.choice = conflictChoices[m.cursor].action
		return m, tea.Quit
	case "ctrl+c", "esc":
		m.choice = conflict.ActionAbort
		return m, tea.Quit
	default:
		for _, c := range conflictChoices {
			if key.String() == c.key {
				m.choice = c.action
				return m, tea.Quit
			}
		}
	}
	return m, nil
}

func (m conflictModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("conflict %s (%s)", m.path, m.state)))
	b.WriteByte('\n')
	for i, c := range conflictChoices {
		cursor := "  "
		line := fmt.Sprintf("[%s] %s", c.key, c.label)
		if i == m.cursor {
			cursor = cursorStyle.Render("> ")
			line = cursorStyle.Render(line)
		}
		b.WriteString(cursor)
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
