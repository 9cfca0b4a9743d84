// internal/tui/app.go
//
// This is the watch view for shipyard. It polls the dashboard feed and
// follows The Elm Architecture the way bubbletea expects:
//
// 1. Model: the narrated lines seen so far plus the latest run snapshot
// 2. Update: feed polls, spinner ticks, key presses and resizes
// 3. View: header, phase panel, scrolling narration, footer
//
// The flow is: Poll -> feedMsg -> Update -> New Model -> View -> Screen

package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/shipyard/internal/eventbridge"
	"github.com/kingrea/shipyard/internal/pipeline"
)

const (
	defaultRefreshInterval = time.Second
	defaultMaxLines        = 1000
	pollTimeout            = 3 * time.Second

	// Assumed terminal size until the first WindowSizeMsg arrives.
	defaultWidth  = 80
	defaultHeight = 24
)

// Feed is the read side of the dashboard feed. eventbridge.Client
// satisfies it.
type Feed interface {
	Events(ctx context.Context, since int64) (eventbridge.EventsPage, error)
	Run(ctx context.Context) (pipeline.RunState, bool, error)
}

// Option customizes App construction for tests and alternate runtimes.
type Option func(*App)

// WithRefreshInterval sets how often the feed is polled.
func WithRefreshInterval(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithMaxLines bounds the narration kept in memory.
func WithMaxLines(n int) Option {
	return func(a *App) {
		if n > 0 {
			a.maxLines = n
		}
	}
}

type feedMsg struct {
	page   eventbridge.EventsPage
	run    pipeline.RunState
	hasRun bool
	err    error
}

type pollTickMsg struct{}

// App is the watch model.
type App struct {
	feed     Feed
	interval time.Duration
	maxLines int

	spinner  spinner.Model
	viewport viewport.Model
	ready    bool

	cursor int64
	lines  []string
	run    pipeline.RunState
	hasRun bool
	err    error

	// Window size (we get this from bubbletea)
	width  int
	height int
}

// NewApp creates a watch model over feed.
func NewApp(feed Feed, opts ...Option) *App {
	s := spinner.New(spinner.WithSpinner(spinner.Dot))
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	app := &App{
		feed:     feed,
		interval: defaultRefreshInterval,
		maxLines: defaultMaxLines,
		spinner:  s,
		width:    defaultWidth,
		height:   defaultHeight,
		viewport: viewport.New(defaultWidth-4, defaultHeight-headerHeight-footerHeight),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	return app
}

// Run starts the program and blocks until the user quits or ctx ends.
func Run(ctx context.Context, feed Feed, opts ...Option) error {
	program := tea.NewProgram(NewApp(feed, opts...), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Init kicks off the spinner and the first poll.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.poll())
}

// Update handles all messages.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return a, tea.Quit
		}
		var cmd tea.Cmd
		a.viewport, cmd = a.viewport.Update(msg)
		return a, cmd

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.viewport.Width = max(20, msg.Width-4)
		a.viewport.Height = max(3, msg.Height-headerHeight-footerHeight)
		a.ready = true
		a.refreshViewport()
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case feedMsg:
		a.applyFeed(msg)
		return a, a.schedulePoll()

	case pollTickMsg:
		return a, a.poll()
	}
	return a, nil
}

func (a *App) applyFeed(msg feedMsg) {
	a.err = msg.err
	if msg.err != nil {
		return
	}
	if msg.hasRun {
		a.run = msg.run
		a.hasRun = true
	}
	if len(msg.page.Events) == 0 {
		return
	}
	for _, evt := range msg.page.Events {
		if evt.Seq <= a.cursor {
			continue
		}
		a.lines = append(a.lines, fmt.Sprintf("%s %s", evt.Timestamp.Local().Format("15:04:05"), evt.Text))
		a.cursor = evt.Seq
	}
	if extra := len(a.lines) - a.maxLines; extra > 0 {
		a.lines = append([]string(nil), a.lines[extra:]...)
	}
	a.refreshViewport()
}

func (a *App) refreshViewport() {
	atBottom := a.viewport.AtBottom()
	a.viewport.SetContent(strings.Join(a.lines, "\n"))
	if atBottom || !a.ready {
		a.viewport.GotoBottom()
	}
}

func (a *App) poll() tea.Cmd {
	feed := a.feed
	since := a.cursor
	return func() tea.Msg {
		if feed == nil {
			return feedMsg{err: fmt.Errorf("tui: no feed configured")}
		}
		ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
		defer cancel()
		page, err := feed.Events(ctx, since)
		if err != nil {
			return feedMsg{err: err}
		}
		run, ok, err := feed.Run(ctx)
		if err != nil {
			return feedMsg{err: err}
		}
		return feedMsg{page: page, run: run, hasRun: ok}
	}
}

func (a *App) schedulePoll() tea.Cmd {
	return tea.Tick(a.interval, func(time.Time) tea.Msg {
		return pollTickMsg{}
	})
}
