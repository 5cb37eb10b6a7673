package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
)

// layoutHeights returns the epoch viewport height so that rendering and
// resize share a single source of truth.
func (m *Dashboard) layoutHeights() int {
	// One header row, one status row, four rows of epoch panel chrome.
	const fixedRows = 1 + 1 + 4
	h := m.height - m.chartsRowHeight() - fixedRows
	if h < 3 {
		h = 3
	}
	return h
}

func (m *Dashboard) resizeEpochView() {
	w := m.width - 4
	if w < 20 {
		w = 20
	}
	m.epochView.Width = w
	m.epochView.Height = m.layoutHeights()
	m.refreshEpochView()
}

func (m *Dashboard) View(width, height int) string {
	if width <= 0 || height <= 0 {
		return "Starting dashboard..."
	}
	if width < 40 || height < 16 {
		return "Terminal too small. Resize to at least 40x16."
	}
	if width != m.width || height != m.height {
		m.width = width
		m.height = height
		m.resizeEpochView()
	}

	sections := []string{
		m.renderHeader(),
		m.renderChartsRow(),
	}
	if m.showHelp {
		sections = append(sections, m.renderHelpSection())
	} else {
		sections = append(sections, m.renderEpochSection())
	}
	sections = append(sections, m.renderStatusLine())

	return lipgloss.NewStyle().MaxHeight(height).Render(
		lipgloss.JoinVertical(lipgloss.Left, sections...))
}

// renderBranding renders "SegDAC" with a blue to green gradient.
func renderBranding() string {
	letters := []struct {
		ch  string
		hex string
	}{
		{"S", "#2196F3"},
		{"e", "#1CA9D9"},
		{"g", "#18BCBF"},
		{"D", "#13CFA4"},
		{"A", "#0FE28A"},
		{"C", "#0AF570"},
	}

	var b strings.Builder
	for _, l := range letters {
		b.WriteString(lipgloss.NewStyle().
			Background(ColorNavy).
			Foreground(lipgloss.Color(l.hex)).
			Bold(true).
			Render(l.ch))
	}
	return b.String()
}

func (m *Dashboard) renderHeader() string {
	parts := []string{renderBranding()}

	if m.haveSnapshot {
		name := m.snapshot.Run.Name
		if name == "" {
			name = m.snapshot.Run.ID
		}
		parts = append(parts, chartTitleStyle.Render(name))
		parts = append(parts, m.renderStatusBadge())
		if m.snapshot.EndEpoch > 0 {
			parts = append(parts, legendValueStyle.Render(
				fmt.Sprintf("epoch %d/%d", m.snapshot.Epoch+1, m.snapshot.EndEpoch)))
		}
		if m.snapshot.BestIoU > 0 {
			parts = append(parts, bestMarkStyle.Render(
				fmt.Sprintf("best mIoU %.4f", m.snapshot.BestIoU)))
		}
	} else {
		parts = append(parts, helpStyle.Render("waiting for run stats"))
	}

	return strings.Join(parts, "  ")
}

func (m *Dashboard) renderStatusBadge() string {
	switch m.snapshot.Run.Status {
	case run.StatusRunning:
		return statusRunningStyle.Render("● running")
	case run.StatusFinished:
		return statusFinishedStyle.Render("● finished")
	case run.StatusStopped:
		return statusStoppedStyle.Render("● stopped")
	default:
		return statusErrorStyle.Render("● " + m.snapshot.Run.Status)
	}
}

func (m *Dashboard) renderEpochSection() string {
	frame := sectionStyle
	if m.activeSection == sectionEpochs {
		frame = activeSectionStyle
	}

	var stats string
	if n := len(m.epochs); n > 0 {
		stats = fmt.Sprintf("%d epochs", n)
	}
	title := panelTitle(m.width-2, "Epoch History", stats)

	if len(m.epochs) == 0 {
		return frame.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left,
			title, helpStyle.Render("No data available")))
	}

	header := legendLabelStyle.Render(epochRowHeader())
	return frame.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left,
		title, header, m.epochView.View()))
}

func (m *Dashboard) renderEpochRows() string {
	rows := make([]string, 0, len(m.epochs))
	for _, es := range m.epochs {
		rows = append(rows, formatEpochRow(es))
	}
	return strings.Join(rows, "\n")
}

func epochRowHeader() string {
	return fmt.Sprintf("%5s  %7s  %7s  %7s  %8s  %7s  %7s  %9s",
		"epoch", "source", "target", "total", "lr", "mIoU", "best", "time")
}

func formatEpochRow(es run.EpochSummary) string {
	miou := "      -"
	if es.Validated {
		miou = fmt.Sprintf("%7.4f", es.MeanIoU)
	}
	return fmt.Sprintf("%5d  %7.3f  %7.3f  %7.3f  %8.5f  %s  %7.4f  %9s",
		es.Epoch+1, es.SourceLoss, es.TargetLoss, es.TotalLoss, es.LR,
		miou, es.BestIoU, es.Duration.Round(100*time.Millisecond))
}

func (m *Dashboard) renderHelpSection() string {
	style := sectionStyle.Width(m.width - 2)
	title := chartTitleStyle.Render("Keys")

	bindings := []key.Binding{
		m.keys.Help,
		m.keys.Escape,
		m.keys.NextSection,
		m.keys.PrevSection,
		m.keys.Up,
		m.keys.Down,
		m.keys.IntervalUp,
		m.keys.IntervalDown,
		m.keys.Pause,
		m.keys.Quit,
		m.keys.ForceQuit,
	}

	innerHeight := m.layoutHeights() + 1
	lines := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		lines = append(lines, fmt.Sprintf("%s %s",
			legendValueStyle.Render(fmt.Sprintf("%-10s", h.Key)),
			helpStyle.Render(h.Desc)))
	}
	for len(lines) < innerHeight {
		lines = append(lines, "")
	}
	if len(lines) > innerHeight {
		lines = lines[:innerHeight]
	}

	return style.Render(lipgloss.JoinVertical(lipgloss.Left,
		title, strings.Join(lines, "\n")))
}

// keyHint picks the bottom-bar key summary that fits the width.
func (m *Dashboard) keyHint(w int) string {
	switch {
	case m.showHelp:
		return "ESC: Close"
	case w < 60:
		return "Tab • Space • u • ? • q"
	case w < 80:
		return "?: Help • Tab: Section • Space: Pause • q: Quit"
	case w < 120:
		return "?: Help • Tab: Section • ↑↓: Scroll • u/U: Refresh • Space: Pause • q: Quit"
	default:
		return "?: Help • Tab: Switch section • ↑↓/Wheel: Scroll epochs • u/U: Refresh rate • Space: Pause • q: Quit"
	}
}

// refreshBadge reports pause state or the current update cadence.
func (m *Dashboard) refreshBadge(tiny, compact bool) string {
	switch {
	case m.paused:
		return "⏸ Paused"
	case tiny:
		return ""
	case compact:
		return formatInterval(m.interval)
	default:
		return "Update: " + formatInterval(m.interval)
	}
}

// connDot colors a dot by stats-feed health: red when the last fetch
// failed, amber when refreshes have gone quiet, green otherwise.
func (m *Dashboard) connDot() string {
	hex := "#44FF44"
	switch {
	case !m.lastTickOK:
		hex = "#FF4444"
	case time.Since(m.lastTickAt) > 3*m.interval:
		hex = "#FFAA00"
	}
	dot := lipgloss.NewStyle().Background(ColorNavy).Foreground(lipgloss.Color(hex)).Render("●")
	return dot + " stats"
}

// renderStatusLine draws the bottom bar: active section on the left, key
// hints in the middle, refresh state and branding on the right.
func (m *Dashboard) renderStatusLine() string {
	w := m.width
	tiny := w < 60
	compact := w < 80

	section := "Charts"
	if m.activeSection == sectionEpochs {
		section = "Epochs"
	}
	left := fmt.Sprintf("[%s]", section)
	if tiny {
		left = section[:min(5, len(section))]
	}

	var right []string
	if m.lastError != "" {
		right = append(right, lipgloss.NewStyle().
			Background(ColorNavy).
			Foreground(lipgloss.Color("#FF5E5E")).
			Faint(true).
			Render("stats error"))
	}
	if !tiny {
		right = append(right, m.connDot())
	}
	if badge := m.refreshBadge(tiny, compact); badge != "" {
		right = append(right, badge)
	}
	right = append(right, renderBranding())

	return threeColumnBar(w, left, m.keyHint(w), strings.Join(right, "  "))
}

// threeColumnBar lays left, center, and right text on one navy bar. The
// center absorbs whatever width the edges leave over.
func threeColumnBar(w int, left, center, right string) string {
	bar := lipgloss.NewStyle().Background(ColorNavy).Foreground(ColorWhite)
	if w < 20 {
		return bar.Width(w).Render(left)
	}

	lw := lipgloss.Width(left) + 2
	rw := lipgloss.Width(right) + 2
	if lw+rw >= w {
		lw = min(10, w/3)
		rw = min(15, w/3)
	}
	cw := max(0, w-lw-rw)

	if lipgloss.Width(left) > lw {
		left = left[:max(0, lw-1)]
	}
	if lipgloss.Width(center) > cw {
		r := []rune(center)
		center = string(r[:max(0, min(len(r), cw-1))])
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		bar.Align(lipgloss.Left).Width(lw).Render(left),
		bar.Align(lipgloss.Center).Width(cw).Render(center),
		bar.Align(lipgloss.Right).Width(rw).Render(right))
}

func formatInterval(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%gs", d.Seconds())
	}
	return d.String()
}
