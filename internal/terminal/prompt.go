package terminal

import (
	"fmt"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// Question is one free-text prompt shown to the user.
type Question struct {
	Name    string
	Message string
	Default string
}

// Prompt asks the questions in order and returns the answers keyed by
// question name. Non-interactive adapters answer with the defaults.
func (a *Adapter) Prompt(questions []Question) (map[string]string, error) {
	answers := make(map[string]string, len(questions))
	if !a.interactive {
		for _, q := range questions {
			answers[q.Name] = q.Default
		}
		return answers, nil
	}
	for _, q := range questions {
		model := newQuestionModel(q)
		program := tea.NewProgram(model, tea.WithInput(a.in), tea.WithOutput(a.out))
		final, err := program.Run()
		if err != nil {
			return nil, fmt.Errorf("terminal: prompt %s: %w", q.Name, err)
		}
		qm, ok := final.(questionModel)
		if !ok || qm.cancelled {
			return nil, fmt.Errorf("terminal: prompt %s: cancelled", q.Name)
		}
		answer := qm.input.Value()
		if answer == "" {
			answer = q.Default
		}
		answers[q.Name] = answer
	}
	return answers, nil
}

type questionModel struct {
	question  Question
	input     textinput.Model
	cancelled bool
	done      bool
}

func newQuestionModel(q Question) questionModel {
	input := textinput.New()
	input.Placeholder = q.Default
	input.Focus()
	return questionModel{question: q, input: input}
}

func (m questionModel) Init() tea.Cmd { return textinput.Blink }

func (m questionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter":
			m.done = true
			return m, tea.Quit
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m questionModel) View() string {
	return titleStyle.Render(m.question.Message) + "\n" + m.input.View() + "\n"
}
