package tui

import (
	"slices"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
)

type section int

const (
	sectionCharts section = iota
	sectionEpochs
	sectionCount
)

// tickMsg fires when the next refresh is due.
type tickMsg time.Time

// refreshMsg carries one refresh worth of data from the stats querier. A nil
// snapshot means the snapshot query failed; series fields keep whatever
// queries succeeded so a partial failure still updates most of the screen.
type refreshMsg struct {
	snapshot   *run.Snapshot
	epochs     []run.EpochSummary
	sourceLoss []run.Scalar
	targetLoss []run.Scalar
	miou       []run.Scalar
	fetchErr   string
}

// Dashboard is the single page of the training dashboard. It polls a
// run.StatsQuerier, either the in-process trainer stats or a stats socket
// client, and renders loss charts, the validation curve, and epoch history.
type Dashboard struct {
	stats   run.StatsQuerier
	keys    KeyMap
	history int

	interval      time.Duration
	intervalSteps []time.Duration
	intervalIdx   int

	width  int
	height int

	activeSection section
	paused        bool
	showHelp      bool
	fetching  bool

	snapshot     run.Snapshot
	haveSnapshot bool
	epochs       []run.EpochSummary
	sourceLoss   []run.Scalar
	targetLoss   []run.Scalar
	miou         []run.Scalar

	epochView  viewport.Model
	lastTickOK bool
	lastTickAt time.Time
	lastError  string
}

// NewDashboard creates the dashboard page. Zero interval and history fall
// back to the shared defaults.
func NewDashboard(stats run.StatsQuerier, interval time.Duration, history int) *Dashboard {
	if interval <= 0 {
		interval = run.DefaultUpdateInterval
	}
	if history <= 0 {
		history = run.DefaultHistory
	}

	steps := []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		5 * time.Second,
		10 * time.Second,
		30 * time.Second,
	}
	idx := slices.Index(steps, interval)
	if idx < 0 {
		idx = 2
	}

	return &Dashboard{
		stats:         stats,
		keys:          DefaultKeyMap(),
		history:       history,
		interval:      interval,
		intervalSteps: steps,
		intervalIdx:   idx,
		activeSection: sectionCharts,
		epochView:     viewport.New(80, 10),
		lastTickOK:    true,
		lastTickAt:    time.Now(),
	}
}

func (m *Dashboard) ID() string { return "dashboard" }

func (m *Dashboard) Init() tea.Cmd {
	m.fetching = true
	return tea.Batch(m.fetchCmd(), m.tickCmd())
}

func (m *Dashboard) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Dashboard) fetchCmd() tea.Cmd {
	stats := m.stats
	history := m.history
	if stats == nil {
		return func() tea.Msg { return refreshMsg{fetchErr: "no stats source"} }
	}

	return func() tea.Msg {
		msg := refreshMsg{}

		// collectErr records the first query error encountered.
		collectErr := func(err error) {
			if err != nil && msg.fetchErr == "" {
				msg.fetchErr = err.Error()
			}
		}

		if snap, err := stats.Snapshot(); err == nil {
			msg.snapshot = &snap
		} else {
			collectErr(err)
		}

		if rows, err := stats.EpochSummaries(history); err == nil {
			msg.epochs = rows
		} else {
			collectErr(err)
		}

		if sc, err := stats.ScalarSeries(run.PhaseTrain, "loss/source", history); err == nil {
			msg.sourceLoss = sc
		} else {
			collectErr(err)
		}

		if sc, err := stats.ScalarSeries(run.PhaseTrain, "loss/target", history); err == nil {
			msg.targetLoss = sc
		} else {
			collectErr(err)
		}

		if sc, err := stats.ScalarSeries(run.PhaseVal, "miou", history); err == nil {
			msg.miou = sc
		} else {
			collectErr(err)
		}

		return msg
	}
}

func (m *Dashboard) applyRefresh(msg refreshMsg) {
	m.lastTickAt = time.Now()
	m.lastTickOK = msg.fetchErr == ""
	m.lastError = msg.fetchErr

	if msg.snapshot != nil {
		m.snapshot = *msg.snapshot
		m.haveSnapshot = true
	}
	if msg.epochs != nil {
		m.epochs = msg.epochs
	}
	if msg.sourceLoss != nil {
		m.sourceLoss = msg.sourceLoss
	}
	if msg.targetLoss != nil {
		m.targetLoss = msg.targetLoss
	}
	if msg.miou != nil {
		m.miou = msg.miou
	}

	m.refreshEpochView()
}

// refreshEpochView rewrites the viewport content, keeping the latest epoch
// visible unless the user has scrolled away from the bottom.
func (m *Dashboard) refreshEpochView() {
	atBottom := m.epochView.AtBottom()
	m.epochView.SetContent(m.renderEpochRows())
	if atBottom {
		m.epochView.GotoBottom()
	}
}
