package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Confirm asks a yes/no question on stderr. hint tells the user how to skip
// the question when the terminal is not interactive.
func Confirm(question, hint string) (bool, error) {
	if err := RequireInteraction(hint); err != nil {
		return false, fmt.Errorf("confirmation required: %w", err)
	}
	m := &confirmModel{question: question}
	if _, err := tea.NewProgram(m, tea.WithOutput(os.Stderr)).Run(); err != nil {
		return false, fmt.Errorf("confirm prompt: %w", err)
	}
	if m.cancelled {
		return false, ErrCancelled
	}
	return m.confirmed, nil
}

// Prompt asks for a line of text on stderr. An empty answer returns
// placeholder.
func Prompt(label, placeholder, hint string) (string, error) {
	if err := RequireInteraction(hint); err != nil {
		return "", fmt.Errorf("input required: %w", err)
	}

	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.Focus()
	ti.PromptStyle = AccentStyle
	ti.TextStyle = lipgloss.NewStyle()

	m := &promptModel{label: label, input: ti}
	if _, err := tea.NewProgram(m, tea.WithOutput(os.Stderr)).Run(); err != nil {
		return "", fmt.Errorf("text prompt: %w", err)
	}
	if m.cancelled {
		return "", ErrCancelled
	}
	if v := strings.TrimSpace(m.input.Value()); v != "" {
		return v, nil
	}
	return placeholder, nil
}

type confirmModel struct {
	question  string
	confirmed bool
	cancelled bool
	done      bool
}

func (m *confirmModel) Init() tea.Cmd { return nil }

func (m *confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "y", "Y":
		m.confirmed, m.done = true, true
		return m, tea.Quit
	case "n", "N", "enter":
		m.done = true
		return m, tea.Quit
	case "ctrl+c", "esc":
		m.cancelled = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *confirmModel) View() string {
	if m.done || m.cancelled {
		return ""
	}
	return AccentStyle.Render("?") + " " + m.question + " " + MutedStyle.Render("[y/N]") + " "
}

type promptModel struct {
	label     string
	input     textinput.Model
	cancelled bool
	submitted bool
}

func (m *promptModel) Init() tea.Cmd { return textinput.Blink }

func (m *promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter":
			m.submitted = true
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

func (m *promptModel) View() string {
	if m.submitted || m.cancelled {
		return ""
	}
	return AccentStyle.Render("?") + " " + m.label + "\n" + m.input.View() + "\n"
}
