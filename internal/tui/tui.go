package tui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/basket/taskcopilot/internal/config"
	"github.com/basket/taskcopilot/internal/persistence"
)

const (
	titleWidth   = 36
	detailsWidth = 48
	barWidth     = 24
)

// Fetcher reads one dashboard snapshot. It must not hold a write lock.
type Fetcher func(ctx context.Context) (*persistence.Dashboard, error)

type Options struct {
	Fetch   Fetcher
	Refresh time.Duration
	// Compact drops the activity panel.
	Compact bool
	// Title names what is being watched, usually the stream or the db path.
	Title string
	// Changes, when set, triggers an early refresh on database writes.
	Changes <-chan config.ChangeEvent
}

type model struct {
	ctx     context.Context
	opts    Options
	snap    *persistence.Dashboard
	err     error
	width   int
	bar     progress.Model
	loading bool
	// static renders a single snapshot with no key hints.
	static bool
}

type tickMsg time.Time

type snapshotMsg struct {
	snap *persistence.Dashboard
	err  error
}

type changeMsg struct{}

func newModel(ctx context.Context, opts Options) model {
	if opts.Refresh <= 0 {
		opts.Refresh = 5 * time.Second
	}
	return model{
		ctx:     ctx,
		opts:    opts,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth), progress.WithoutPercentage()),
		loading: true,
	}
}

func (m model) tickCmd() tea.Cmd {
	return tea.Tick(m.opts.Refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) fetchCmd() tea.Cmd {
	ctx, fetch := m.ctx, m.opts.Fetch
	return func() tea.Msg {
		snap, err := fetch(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m model) waitChange() tea.Cmd {
	ch := m.opts.Changes
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changeMsg{}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), m.tickCmd(), m.waitChange())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetchCmd()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(max(msg.Width/4, 10), 40)
	case tickMsg:
		return m, tea.Batch(m.fetchCmd(), m.tickCmd())
	case changeMsg:
		return m, tea.Batch(m.fetchCmd(), m.waitChange())
	case snapshotMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
		}
	}
	return m, nil
}

// Render draws one snapshot the way the live view would, for non-terminal
// output and `tc watch --once`.
func Render(snap *persistence.Dashboard, opts Options) string {
	m := newModel(context.Background(), opts)
	m.snap, m.loading, m.static = snap, false, true
	return m.View()
}

// Run shows the dashboard until the user quits or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	if opts.Fetch == nil {
		return errors.New("tui: no dashboard fetcher")
	}
	defer bestEffortResetTTY()

	p := tea.NewProgram(newModel(ctx, opts), tea.WithAltScreen())

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		<-done
		return nil
	case err := <-done:
		return err
	}
}
