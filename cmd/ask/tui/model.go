// Package tui is the interactive terminal front end of cmd/ask.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mffacts/mffacts/engine/domain"
)

// Asker answers one question. rag.Service satisfies it.
type Asker interface {
	AnswerQuery(ctx context.Context, query string) domain.Answer
}

// Entry is one exchange shown in the history pane. History is display
// only; every question is answered on its own.
type Entry struct {
	Question string
	Answer   domain.Answer
}

type answerMsg Entry

// Model is the Bubble Tea model.
type Model struct {
	ctx      context.Context
	asker    Asker
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	history  []Entry
	pending  string
	ready    bool
}

// New creates the model. ctx bounds every question asked through it.
func New(ctx context.Context, asker Asker) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about exit load, expense ratio, SIP, NAV or AUM"
	ti.CharLimit = domain.MaxQueryLength
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{ctx: ctx, asker: asker, input: ti, viewport: viewport.New(0, 0), spinner: sp}
}

// History returns the exchanges so far, oldest first.
func (m Model) History() []Entry { return m.history }

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, frame := historyStyle.GetFrameSize()
		// title, input box and status line
		reserved := 1 + 3 + 1
		m.viewport.Width = max(20, msg.Width-frame)
		m.viewport.Height = max(3, msg.Height-reserved-frame)
		m.input.Width = max(10, msg.Width-6)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.pending != "" {
				return m, nil
			}
			m.pending = q
			m.input.Reset()
			m.refresh()
			return m, tea.Batch(m.spinner.Tick, m.ask(q))
		}

	case answerMsg:
		m.history = append(m.history, Entry(msg))
		m.pending = ""
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.pending == "" {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// ask runs the query off the UI goroutine.
func (m Model) ask(q string) tea.Cmd {
	ctx, asker := m.ctx, m.asker
	return func() tea.Msg {
		return answerMsg{Question: q, Answer: asker.AnswerQuery(ctx, q)}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	status := statusStyle.Render("Enter to ask · PgUp/PgDn to scroll · Esc to quit")
	if m.pending != "" {
		status = m.spinner.View() + " " + statusStyle.Render("Looking that up...")
	}
	return titleStyle.Render("Mutual fund facts") + "\n" +
		historyStyle.Render(m.viewport.View()) + "\n" +
		inputStyle.Render(m.input.View()) + "\n" +
		status
}

func (m Model) renderHistory() string {
	if len(m.history) == 0 && m.pending == "" {
		return mutedStyle.Render("Facts only, sourced from the official scheme pages. No investment advice.")
	}
	var b strings.Builder
	for i, e := range m.history {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(renderEntry(e, m.viewport.Width))
	}
	if m.pending != "" {
		if len(m.history) > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(questionStyle.Render("You: ") + m.pending)
	}
	return b.String()
}

func renderEntry(e Entry, width int) string {
	answerStyle := lipgloss.NewStyle().Width(max(20, width-2))
	if e.Answer.Refused {
		answerStyle = answerStyle.Foreground(lipgloss.Color("11"))
	}
	lines := []string{
		questionStyle.Render("You: ") + e.Question,
		answerStyle.Render(e.Answer.Answer),
	}
	if e.Answer.Citation != nil {
		lines = append(lines, mutedStyle.Render(fmt.Sprintf("Source: %s", *e.Answer.Citation)))
	}
	lines = append(lines, mutedStyle.Render("As of "+e.Answer.Timestamp))
	return strings.Join(lines, "\n")
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	historyStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	questionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)
