// Package mergeui implements reconciler.DiffModal with an interactive
// three-way merge dialog: local text and remote text shown side by
// side, with an editable buffer the user resolves into the merged
// result. Modeled on the teacher's split-viewport diff viewer, with a
// bubbles/textarea merge pane in place of a second read-only viewport.
package mergeui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rivo/uniseg"
)

var (
	colorLocal  = lipgloss.Color("#9CFFB9")
	colorRemote = lipgloss.Color("#FF9C9C")
	colorMuted  = lipgloss.Color("#888888")
	colorTitle  = lipgloss.Color("#61AFEF")

	paneTitleStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	mutedStyle     = lipgloss.NewStyle().Foreground(colorMuted)
	paneStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Resolver implements reconciler.DiffModal by launching an interactive
// merge dialog for each conflict.
type Resolver struct{}

// New returns a Resolver.
func New() *Resolver {
	return &Resolver{}
}

// Resolve runs the merge dialog and returns the user's merged text. The
// merge decision itself has no deadline: ctx only governs whether the
// call can be abandoned from outside (e.g. the surrounding process
// shutting down) via its Done channel, checked once before the program
// starts.
func (r *Resolver) Resolve(ctx context.Context, path, local, remote string, localMtime, remoteMtime time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m := newModel(path, local, remote, localMtime, remoteMtime)
	p := tea.NewProgram(m, tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("mergeui: run dialog: %w", err)
	}

	result := final.(*model)
	if result.aborted {
		return "", fmt.Errorf("mergeui: merge aborted for %s", path)
	}
	return result.merge.Value(), nil
}

type keyMap struct {
	Accept key.Binding
	Abort  key.Binding
	Toggle key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Accept: key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "accept merge")),
		Abort:  key.NewBinding(key.WithKeys("ctrl+c", "esc"), key.WithHelp("esc", "abort")),
		Toggle: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch pane")),
	}
}

type model struct {
	path                    string
	localMtime, remoteMtime time.Time

	localView  viewport.Model
	remoteView viewport.Model
	merge      textarea.Model

	keys    keyMap
	width   int
	height  int
	ready   bool
	aborted bool
}

func newModel(path, local, remote string, localMtime, remoteMtime time.Time) *model {
	ta := textarea.New()
	ta.SetValue(local)
	ta.Focus()
	ta.ShowLineNumbers = false

	localView := viewport.New(40, 10)
	localView.SetContent(local)
	remoteView := viewport.New(40, 10)
	remoteView.SetContent(remote)

	return &model{
		path:        path,
		localMtime:  localMtime,
		remoteMtime: remoteMtime,
		localView:   localView,
		remoteView:  remoteView,
		merge:       ta,
		keys:        defaultKeys(),
	}
}

func (m *model) Init() tea.Cmd {
	return textarea.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		paneWidth := m.width / 3
		contentHeight := m.height - 6
		m.localView.Width, m.localView.Height = paneWidth-4, contentHeight
		m.remoteView.Width, m.remoteView.Height = paneWidth-4, contentHeight
		m.merge.SetWidth(m.width - paneWidth*2 - 4)
		m.merge.SetHeight(contentHeight)
		m.ready = true
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Abort):
			m.aborted = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Accept):
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.merge, cmd = m.merge.Update(msg)
	return m, cmd
}

func (m *model) View() string {
	if !m.ready {
		return "loading merge dialog..."
	}

	title := paneTitleStyle.Foreground(colorTitle).Render(fmt.Sprintf("Resolve conflict: %s", m.path))

	localTitle := paneTitleStyle.Foreground(colorLocal).Render(
		fmt.Sprintf("local (%s)", m.localMtime.Format("15:04:05")))
	remoteTitle := paneTitleStyle.Foreground(colorRemote).Render(
		fmt.Sprintf("remote (%s)", m.remoteMtime.Format("15:04:05")))
	mergeTitle := paneTitleStyle.Render("merged (edit me)")

	localPane := paneStyle.BorderForeground(colorLocal).Render(
		lipgloss.JoinVertical(lipgloss.Left, localTitle, m.localView.View()))
	remotePane := paneStyle.BorderForeground(colorRemote).Render(
		lipgloss.JoinVertical(lipgloss.Left, remoteTitle, m.remoteView.View()))
	mergePane := paneStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left, mergeTitle, m.merge.View()))

	cursorCol := graphemeColumn(m.merge.Value(), m.merge.Line())
	status := mutedStyle.Render(fmt.Sprintf("line %d, col %d  •  ctrl+s accept  •  esc abort", m.merge.Line()+1, cursorCol+1))

	body := lipgloss.JoinHorizontal(lipgloss.Top, localPane, remotePane, mergePane)
	return lipgloss.JoinVertical(lipgloss.Left, title, body, status)
}

// graphemeColumn returns the number of grapheme clusters in line lineIdx
// of text, i.e. the zero-based column just past the line's end,
// counting clusters rather than runes so combining marks and ZWJ
// sequences occupy one column.
func graphemeColumn(text string, lineIdx int) int {
	lines := strings.Split(text, "\n")
	if lineIdx < 0 || lineIdx >= len(lines) {
		return 0
	}
	count := 0
	gr := uniseg.NewGraphemes(lines[lineIdx])
	for gr.Next() {
		count++
	}
	return count
}
