// Package preview follows a rotator in the terminal.
package preview

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"broadcast-graphics/onair/internal/rotation"
)

const (
	tickEvery   = 250 * time.Millisecond
	bodyExcerpt = 280
	minWidth    = 40
)

var (
	colorAccent = lipgloss.Color("#E4002B")
	colorDim    = lipgloss.Color("#7A7A7A")
)

// Styles used by the preview.
type Styles struct {
	Header   lipgloss.Style
	Phase    lipgloss.Style
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Body     lipgloss.Style
	Dim      lipgloss.Style
	Frame    lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(colorAccent).Padding(0, 1),
		Phase:    lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		Title:    lipgloss.NewStyle().Bold(true),
		Subtitle: lipgloss.NewStyle().Italic(true),
		Body:     lipgloss.NewStyle(),
		Dim:      lipgloss.NewStyle().Foreground(colorDim),
		Frame:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorDim).Padding(0, 1),
	}
}

// Controller is the part of a rotator the preview drives.
type Controller interface {
	Name() string
	Subscribe(buffer int) (<-chan rotation.Snapshot, func())
	SetVisible(visible bool)
	Refresh()
}

type snapshotMsg rotation.Snapshot

type closedMsg struct{}

type tickMsg time.Time

// Model renders the latest snapshot of one rotator.
type Model struct {
	ctrl     Controller
	interval time.Duration
	snaps    <-chan rotation.Snapshot
	cancel   func()

	snap    rotation.Snapshot
	visible bool
	closed  bool
	now     time.Time
	width   int

	styles Styles
	bar    progress.Model
}

// New subscribes to ctrl. interval is the rotation interval, used for the
// countdown bar. Close releases the subscription.
func New(ctrl Controller, interval time.Duration) Model {
	snaps, cancel := ctrl.Subscribe(4)
	return Model{
		ctrl:     ctrl,
		interval: interval,
		snaps:    snaps,
		cancel:   cancel,
		visible:  true,
		width:    80,
		now:      time.Now(),
		styles:   DefaultStyles(),
		bar: progress.New(
			progress.WithSolidFill(string(colorAccent)),
			progress.WithoutPercentage(),
		),
	}
}

// Close releases the snapshot subscription.
func (m Model) Close() {
	m.cancel()
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForSnapshot(m.snaps), tick())
}

func waitForSnapshot(snaps <-chan rotation.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-snaps
		if !ok {
			return closedMsg{}
		}
		return snapshotMsg(s)
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "v":
			m.visible = !m.visible
			m.ctrl.SetVisible(m.visible)
		case "r":
			m.ctrl.Refresh()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = max(msg.Width, minWidth)
		return m, nil

	case snapshotMsg:
		m.snap = rotation.Snapshot(msg)
		return m, waitForSnapshot(m.snaps)

	case closedMsg:
		m.closed = true
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		return m, tick()
	}
	return m, nil
}

func (m Model) View() string {
	s := m.styles
	var b strings.Builder

	header := fmt.Sprintf("%s  #%d", m.ctrl.Name(), m.snap.Seq)
	b.WriteString(s.Header.Render(header))
	b.WriteString("  ")
	b.WriteString(s.Phase.Render(strings.ToUpper(m.snap.Phase.String())))
	if !m.snap.Visible {
		b.WriteString(s.Dim.Render("  (paused)"))
	}
	if m.closed {
		b.WriteString(s.Dim.Render("  (stopped)"))
	}
	b.WriteString("\n")

	b.WriteString(s.Dim.Render(fmt.Sprintf("item %d of %d, %d displayable",
		m.snap.Index+1, m.snap.Total, m.snap.Displayable)))
	b.WriteString("\n")

	m.bar.Width = m.width - 4
	b.WriteString(m.bar.ViewAs(m.countdown()))
	b.WriteString("\n\n")

	inner := m.width - 4
	if item := m.snap.Item; item != nil {
		var card strings.Builder
		card.WriteString(s.Title.Width(inner).Render(item.Title))
		if item.Subtitle != "" {
			card.WriteString("\n" + s.Subtitle.Width(inner).Render(item.Subtitle))
		}
		if body := Excerpt(item.ContentText, bodyExcerpt); body != "" {
			card.WriteString("\n\n" + s.Body.Width(inner).Render(body))
		}
		b.WriteString(s.Frame.Render(card.String()))
	} else {
		b.WriteString(s.Frame.Render(s.Dim.Width(inner).Render("nothing to display")))
	}

	b.WriteString("\n")
	b.WriteString(s.Dim.Render("q quit  v toggle visibility  r refresh"))
	return b.String()
}

// countdown is the share of the rotation interval already spent on the
// current item; it stays at zero while transitioning or hidden.
func (m Model) countdown() float64 {
	if m.interval <= 0 || m.snap.Transitioning || !m.snap.Visible || m.snap.UpdatedAt.IsZero() {
		return 0
	}
	f := float64(m.now.Sub(m.snap.UpdatedAt)) / float64(m.interval)
	return min(max(f, 0), 1)
}

// Excerpt collapses whitespace and cuts s to at most n runes.
func Excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}

// Run shows the preview until the user quits or ctx is cancelled.
func Run(ctx context.Context, ctrl Controller, interval time.Duration) error {
	m := New(ctrl, interval)
	defer m.Close()

	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
