package tui

import (
	"fmt"
	"strings"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"
)

const (
	chartLegendWidth = 18
	chartColGap      = 1
)

// chartBarHeight is the bar area height; narrow terminals get a shorter one.
func (m *Dashboard) chartBarHeight() int {
	h := 8
	if m.width < 80 {
		h = 6
	}
	return h
}

// chartsRowHeight is the full height of the charts row including borders.
func (m *Dashboard) chartsRowHeight() int {
	return m.chartBarHeight() + 3
}

// renderChartsRow renders the loss and mIoU panels side by side. On very
// narrow terminals the mIoU panel is dropped instead of squeezing both
// below readability.
func (m *Dashboard) renderChartsRow() string {
	active := m.activeSection == sectionCharts

	if m.width < 70 {
		return m.renderLossPanel(m.width-2, active)
	}

	leftWidth := (m.width - 2*2 - chartColGap) / 2
	rightWidth := m.width - 2*2 - chartColGap - leftWidth

	loss := m.renderLossPanel(leftWidth, active)
	miou := m.renderMIoUPanel(rightWidth, active)
	gap := strings.Repeat(" ", chartColGap)

	return lipgloss.JoinHorizontal(lipgloss.Top, loss, gap, miou)
}

// panelTitle renders a chart header, right-aligning stats when they fit.
func panelTitle(width int, name, stats string) string {
	if stats != "" {
		if pad := width - 2 - len(name) - len(stats); pad > 0 {
			name += strings.Repeat(" ", pad) + stats
		}
	}
	return chartTitleStyle.Render(name)
}

func (m *Dashboard) renderLossPanel(width int, active bool) string {
	frame := sectionStyle
	if active {
		frame = activeSectionStyle
	}

	var stats string
	if n := len(m.sourceLoss); n > 0 {
		stats = fmt.Sprintf("Steps %d-%d", m.sourceLoss[0].Step, m.sourceLoss[n-1].Step)
	}
	title := panelTitle(width, "Step Loss", stats)

	body := helpStyle.Render("No data available")
	if len(m.sourceLoss) > 0 {
		body = m.renderLossChart(width - 2)
	}

	return frame.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

func (m *Dashboard) renderMIoUPanel(width int, active bool) string {
	frame := sectionStyle
	if active {
		frame = activeSectionStyle
	}

	var stats string
	if len(m.miou) > 0 {
		stats = fmt.Sprintf("%d passes", len(m.miou))
	}
	title := panelTitle(width, "Validation mIoU", stats)

	body := helpStyle.Render("No data available")
	if len(m.miou) > 0 {
		body = m.renderMIoUChart(width - 2)
	}

	return frame.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

// plotWidth is the bar area width once the legend column is carved off.
func plotWidth(chartWidth int) int {
	w := chartWidth - chartLegendWidth - 2
	if w < 20 {
		w = 20
	}
	return w
}

// barWindow maps a series of n points onto a plot that fits capacity bars:
// short series are left-padded with blanks, long ones show the newest tail.
func barWindow(n, capacity int) (pad, start int) {
	if n < capacity {
		return capacity - n, 0
	}
	return 0, n - capacity
}

func newBarArea(width, height int) *barchart.Model {
	bc := barchart.New(width, height, barchart.WithBarGap(1), barchart.WithBarWidth(1), barchart.WithNoAxis())
	return &bc
}

// solid renders a block of color: bar cells have no glyphs of their own.
func solid(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c).Background(c)
}

func pushBlank(bc *barchart.Model, style lipgloss.Style) {
	bc.Push(barchart.BarData{Values: []barchart.BarValue{{Name: "EMPTY", Style: style}}})
}

// renderLossChart draws stacked source+target loss bars, one bar per train
// step, windowed to the bars that fit.
func (m *Dashboard) renderLossChart(chartWidth int) string {
	height := m.chartBarHeight()
	width := plotWidth(chartWidth)

	// The target series can be sparse: steps where the confident fraction
	// kept the mixed loss at zero still appear in the source series.
	targetByStep := make(map[int64]float64, len(m.targetLoss))
	for _, sc := range m.targetLoss {
		targetByStep[sc.Step] = sc.Value
	}

	pad, start := barWindow(len(m.sourceLoss), width/3)

	bc := newBarArea(width, height)
	srcBar := solid(ColorBlue)
	tgtBar := solid(ColorOrange)
	blank := solid(ColorGray)

	for i := 0; i < pad; i++ {
		pushBlank(bc, blank)
	}
	for _, sc := range m.sourceLoss[start:] {
		values := []barchart.BarValue{{Name: "source", Value: sc.Value, Style: srcBar}}
		if tgt, ok := targetByStep[sc.Step]; ok && tgt > 0 {
			values = append(values, barchart.BarValue{Name: "target", Value: tgt, Style: tgtBar})
		}
		bc.Push(barchart.BarData{Values: values})
	}
	bc.Draw()

	latest := m.sourceLoss[len(m.sourceLoss)-1]
	latestTgt := targetByStep[latest.Step]

	legend := []string{
		sourceLossStyle.Render(fmt.Sprintf("%-7s%8.3f", "source", latest.Value)),
		targetLossStyle.Render(fmt.Sprintf("%-7s%8.3f", "target", latestTgt)),
		helpStyle.Render(strings.Repeat("─", chartLegendWidth-3)),
		legendValueStyle.Render(fmt.Sprintf("%-7s%8.3f", "total", latest.Value+latestTgt)),
		legendLabelStyle.Render(fmt.Sprintf("%-7s%8d", "epoch", latest.Epoch+1)),
	}
	if m.haveSnapshot {
		legend = append(legend,
			legendLabelStyle.Render(fmt.Sprintf("%-7s%8.5f", "lr", m.snapshot.LR)))
	}

	return joinChartAndLegend(bc.View(), legend, width, height)
}

// renderMIoUChart draws one bar per validation pass. The best pass so far is
// highlighted.
func (m *Dashboard) renderMIoUChart(chartWidth int) string {
	height := m.chartBarHeight()
	width := plotWidth(chartWidth)

	pad, start := barWindow(len(m.miou), width/3)

	var best float64
	for _, sc := range m.miou {
		if sc.Value > best {
			best = sc.Value
		}
	}

	bc := newBarArea(width, height)
	miouBar := solid(ColorGreen)
	bestBar := solid(ColorYellow)
	blank := solid(ColorGray)

	for i := 0; i < pad; i++ {
		pushBlank(bc, blank)
	}
	for _, sc := range m.miou[start:] {
		style := miouBar
		if best > 0 && sc.Value == best {
			style = bestBar
		}
		bc.Push(barchart.BarData{Values: []barchart.BarValue{{Name: "miou", Value: sc.Value, Style: style}}})
	}
	bc.Draw()

	latest := m.miou[len(m.miou)-1]
	bestShown := best
	if m.haveSnapshot && m.snapshot.BestIoU > bestShown {
		bestShown = m.snapshot.BestIoU
	}

	legend := []string{
		miouBarStyle.Render(fmt.Sprintf("%-6s%9.4f", "last", latest.Value)),
		bestMarkStyle.Render(fmt.Sprintf("%-6s%9.4f", "best", bestShown)),
		helpStyle.Render(strings.Repeat("─", chartLegendWidth-3)),
		legendLabelStyle.Render(fmt.Sprintf("%-6s%9d", "epoch", latest.Epoch+1)),
	}

	return joinChartAndLegend(bc.View(), legend, width, height)
}

// joinChartAndLegend lines up the bar area and the legend column row by row.
func joinChartAndLegend(plot string, legend []string, width, rows int) string {
	plotRows := strings.Split(plot, "\n")
	out := make([]string, 0, rows)
	for i := 0; i < rows; i++ {
		var left, right string
		if i < len(plotRows) {
			left = plotRows[i]
		}
		if i < len(legend) {
			right = legend[i]
		}
		if w := lipgloss.Width(left); w < width {
			left += strings.Repeat(" ", width-w)
		}
		out = append(out, left+"  "+right)
	}
	return strings.Join(out, "\n")
}
