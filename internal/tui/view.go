package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/shipyard/internal/pipeline"
)

const (
	headerHeight = 6
	footerHeight = 2
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
)

// View renders the whole screen.
func (a *App) View() string {
	header := titleStyle.Render("SHIPYARD")
	sections := []string{header, a.renderPhasePanel(), a.renderNarration(), a.renderFooter()}
	return strings.Join(sections, "\n")
}

func (a *App) renderPhasePanel() string {
	width := max(20, a.width-4)
	if !a.hasRun {
		return panelStyle.Width(width).Render(fmt.Sprintf("%s Waiting for the first run…", a.spinner.View()))
	}
	run := a.run
	lines := []string{fmt.Sprintf("%s · %s", run.Feature.Name, run.Status)}
	lines = append(lines, phaseLine(run, a.spinner.View()))
	if next := upcoming(run.CurrentPhase); len(next) > 0 {
		lines = append(lines, dimStyle.Render("Next: "+strings.Join(next, " → ")))
	}
	if run.StatusReason != "" {
		lines = append(lines, warnStyle.Render(run.StatusReason))
	}
	return panelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func phaseLine(run pipeline.RunState, spin string) string {
	phases := pipeline.Phases()
	pos := run.CurrentPhase.Index()
	line := fmt.Sprintf("Phase: %s (%d/%d)", run.CurrentPhase.Title(), pos+1, len(phases))
	if last, ok := run.LastAttempt(); ok && last.Phase == run.CurrentPhase {
		line += fmt.Sprintf(" · attempt %d", last.Attempt)
	}
	if run.Status == pipeline.StatusRunning {
		line = spin + " " + line
	}
	return line
}

// upcoming lists at most three phases after p within one run.
func upcoming(p pipeline.Phase) []string {
	var names []string
	for next := p.Next(); next != pipeline.PhasePlan && len(names) < 3; next = next.Next() {
		names = append(names, next.Title())
	}
	return names
}

func (a *App) renderNarration() string {
	if len(a.lines) == 0 {
		return dimStyle.Render("No narration yet.")
	}
	return a.viewport.View()
}

func (a *App) renderFooter() string {
	if a.err != nil {
		return warnStyle.Render(fmt.Sprintf("⚠ feed: %v", a.err))
	}
	return dimStyle.Render(fmt.Sprintf("%d line(s) · ↑/↓ scroll · q quit", len(a.lines)))
}
