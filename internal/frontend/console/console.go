// Package console is a Bubbletea-driven Frontend, rendering an aggregate
// progress bar (or one bar per segment) plus the link-acquisition tally. Grounded on the
// teacher's internal/tui package (progressChan + tickCmd pattern,
// bubbles/progress bars, lipgloss Dracula palette), simplified from its
// multi-download dashboard down to the single run this tool drives.
package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/uloget/uloget/internal/logging"
	"github.com/uloget/uloget/internal/model"
)

var (
	colorPrimary = lipgloss.Color("#bd93f9")
	colorSuccess = lipgloss.Color("#50fa7b")
	colorError   = lipgloss.Color("#ff5555")
	colorWarning = lipgloss.Color("#ffb86c")
	colorSubtext = lipgloss.Color("#6272a4")

	titleStyle = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	statsStyle = lipgloss.NewStyle().Foreground(colorSubtext)
	errStyle   = lipgloss.NewStyle().Foreground(colorError)
	logStyle   = lipgloss.NewStyle().Foreground(colorSubtext).Italic(true)
)

type tickMsg time.Time

type updateMsg struct {
	parts      []model.Snapshot
	stats      model.Statistics
	total      int64
	downloaded int64
}

type logMsg struct {
	level logging.Level
	text  string
}

type stopMsg struct{}

// Console is a Frontend backed by a Bubbletea program.
type Console struct {
	program      *tea.Program
	done         chan struct{}
	showAllParts bool
}

// New returns a Console that renders a single aggregate progress bar.
func New() *Console { return &Console{done: make(chan struct{})} }

// NewWithPartsProgress returns a Console that renders one progress bar per
// segment instead of a single aggregate bar.
func NewWithPartsProgress() *Console {
	return &Console{done: make(chan struct{}), showAllParts: true}
}

func (c *Console) Run(ctx context.Context) error {
	m := newRootModel(ctx, c.showAllParts)
	c.program = tea.NewProgram(m, tea.WithContext(ctx))
	_, err := c.program.Run()
	close(c.done)
	return err
}

func (c *Console) Update(parts []model.Snapshot, stats model.Statistics, total, downloaded int64) {
	if c.program == nil {
		return
	}
	c.program.Send(updateMsg{parts: parts, stats: stats, total: total, downloaded: downloaded})
}

func (c *Console) Log(level logging.Level, msg string) {
	if c.program == nil {
		return
	}
	c.program.Send(logMsg{level: level, text: msg})
}

func (c *Console) Stop() {
	if c.program == nil {
		return
	}
	c.program.Send(stopMsg{})
	<-c.done
}

type rootModel struct {
	ctx          context.Context
	bars         map[int]progress.Model
	order        []int
	aggregateBar progress.Model
	showAllParts bool
	parts        []model.Snapshot
	stats        model.Statistics
	total        int64
	downloaded   int64
	logs         []string
	quitting     bool
}

func newRootModel(ctx context.Context, showAllParts bool) rootModel {
	return rootModel{
		ctx:          ctx,
		bars:         map[int]progress.Model{},
		aggregateBar: progress.New(progress.WithDefaultGradient()),
		showAllParts: showAllParts,
	}
}

func (m rootModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m rootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case updateMsg:
		m.parts = msg.parts
		m.stats = msg.stats
		m.total = msg.total
		m.downloaded = msg.downloaded
		for _, p := range msg.parts {
			if _, ok := m.bars[p.Index]; !ok {
				m.bars[p.Index] = progress.New(progress.WithDefaultGradient())
				m.order = append(m.order, p.Index)
			}
		}
		return m, nil

	case logMsg:
		m.logs = append(m.logs, fmt.Sprintf("%s: %s", msg.level, msg.text))
		if len(m.logs) > 8 {
			m.logs = m.logs[len(m.logs)-8:]
		}
		return m, nil

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		return m, tickCmd()

	case stopMsg:
		m.quitting = true
		return m, tea.Quit

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m rootModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("uloget") + "\n\n")

	if m.showAllParts {
		for _, idx := range m.order {
			seg := snapshotFor(m.parts, idx)
			pct := 0.0
			if seg.To >= seg.From {
				size := float64(seg.To-seg.From) + 1
				pct = float64(seg.Cur-seg.From) / size
			}
			bar := m.bars[idx]
			label := fmt.Sprintf("part %-3d %s", idx, statusLabel(seg.Status))
			b.WriteString(label + " " + bar.ViewAs(clamp01(pct)) + "\n")
		}
	} else {
		pct := 0.0
		if m.total > 0 {
			pct = float64(m.downloaded) / float64(m.total)
		}
		b.WriteString("total    " + m.aggregateBar.ViewAs(clamp01(pct)) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(statsStyle.Render(fmt.Sprintf(
		"downloaded %d/%d bytes | links ok=%d bad=%d limited=%d blocked=%d net=%d",
		m.downloaded, m.total, m.stats.OK, m.stats.Bad, m.stats.Limited, m.stats.Blocked, m.stats.Net,
	)) + "\n")

	for _, l := range m.logs {
		b.WriteString(logStyle.Render(l) + "\n")
	}

	if m.quitting {
		b.WriteString("\n")
	}
	return b.String()
}

func snapshotFor(parts []model.Snapshot, idx int) model.Snapshot {
	for _, p := range parts {
		if p.Index == idx {
			return p
		}
	}
	return model.Snapshot{Index: idx}
}

func statusLabel(s model.PartStatus) string {
	switch s {
	case model.PartWaiting:
		return statsStyle.Render("waiting")
	case model.PartRunning:
		return titleStyle.Render("running")
	case model.PartCompleted:
		return lipgloss.NewStyle().Foreground(colorSuccess).Render("done")
	case model.PartError:
		return errStyle.Render("error")
	default:
		return lipgloss.NewStyle().Foreground(colorWarning).Render("?")
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
