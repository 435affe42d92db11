// Package snapshotui is a terminal browser over the local journal: a
// file list on the left, and the selected file's recorded operation
// history (the diff chunks applied at each version) on the right.
// Adapted from the teacher's split-pane diff viewer idiom, reading
// internal/journal instead of a chunk store.
package snapshotui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"carya/internal/journal"
	"carya/internal/wire"
)

var (
	colorAccent = lipgloss.Color("#61AFEF")
	colorMuted  = lipgloss.Color("#888888")
	colorAdd    = lipgloss.Color("#9CFFB9")
	colorRemove = lipgloss.Color("#FF9C9C")

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Padding(0, 1)
	mutedStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	listStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).Padding(0, 1)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	addStyle      = lipgloss.NewStyle().Foreground(colorAdd)
	removeStyle   = lipgloss.NewStyle().Foreground(colorRemove)
)

type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Quit   key.Binding
	Select key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Up:     key.NewBinding(key.WithKeys("up", "k")),
		Down:   key.NewBinding(key.WithKeys("down", "j")),
		Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c", "esc")),
		Select: key.NewBinding(key.WithKeys("enter")),
	}
}

// Run launches the journal browser and blocks until the user quits.
func Run(store *journal.Store) error {
	files, err := store.ListFileSummaries()
	if err != nil {
		return fmt.Errorf("snapshotui: list files: %w", err)
	}
	m := newModel(store, files)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

type model struct {
	store   *journal.Store
	files   []wire.FileMetadata
	history []wire.Operation
	cursor  int
	keys    keyMap
	detail  viewport.Model
	width   int
	height  int
	ready   bool
	err     error
}

func newModel(store *journal.Store, files []wire.FileMetadata) *model {
	return &model{
		store: store,
		files: files,
		keys:  defaultKeys(),
		detail: viewport.New(40, 20),
	}
}

func (m *model) Init() tea.Cmd {
	return m.loadHistory()
}

func (m *model) loadHistory() tea.Cmd {
	return func() tea.Msg {
		if len(m.files) == 0 {
			return historyMsg{nil, nil}
		}
		ops, err := m.store.History(m.files[m.cursor].ID)
		return historyMsg{ops, err}
	}
}

type historyMsg struct {
	ops []wire.Operation
	err error
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.detail.Width = m.width*2/3 - 4
		m.detail.Height = m.height - 4
		m.ready = true
		return m, nil

	case historyMsg:
		m.history = msg.ops
		m.err = msg.err
		m.detail.SetContent(renderHistory(m.history))
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
				return m, m.loadHistory()
			}
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.files)-1 {
				m.cursor++
				return m, m.loadHistory()
			}
		}
	}

	var cmd tea.Cmd
	m.detail, cmd = m.detail.Update(msg)
	return m, cmd
}

func renderHistory(ops []wire.Operation) string {
	if len(ops) == 0 {
		return mutedStyle.Render("no recorded operations")
	}
	var b strings.Builder
	for _, op := range ops {
		fmt.Fprintf(&b, "version %d  %s\n", op.Version, op.CreatedAt.Format("2006-01-02 15:04:05"))
		for _, c := range op.Chunks {
			switch c.Type {
			case wire.ChunkAdd:
				b.WriteString(addStyle.Render(fmt.Sprintf("  +%d: %q", c.Position, c.Text)))
			case wire.ChunkRemove:
				b.WriteString(removeStyle.Render(fmt.Sprintf("  -%d: len %d", c.Position, c.Len)))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *model) View() string {
	if !m.ready {
		return "loading..."
	}

	var list strings.Builder
	for i, f := range m.files {
		line := fmt.Sprintf("%s (v%d)", f.WorkspacePath, f.Version)
		if i == m.cursor {
			list.WriteString(selectedStyle.Render("> " + line))
		} else {
			list.WriteString("  " + line)
		}
		list.WriteString("\n")
	}
	if len(m.files) == 0 {
		list.WriteString(mutedStyle.Render("no files tracked yet"))
	}

	listPane := listStyle.Width(m.width/3 - 2).Height(m.height - 4).Render(list.String())
	detailPane := listStyle.Render(m.detail.View())

	title := titleStyle.Render("sync history")
	body := lipgloss.JoinHorizontal(lipgloss.Top, listPane, detailPane)
	footer := mutedStyle.Render("↑/↓ select file  •  q quit")
	return lipgloss.JoinVertical(lipgloss.Left, title, body, footer)
}
