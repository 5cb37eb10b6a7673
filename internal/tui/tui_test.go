package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
)

type countingStats struct {
	snapshotCalls int
	epochsCalls   int
	seriesCalls   int

	snapshot    run.Snapshot
	snapshotErr error
	epochs      []run.EpochSummary
	series      map[string][]run.Scalar
}

func (s *countingStats) Snapshot() (run.Snapshot, error) {
	s.snapshotCalls++
	if s.snapshotErr != nil {
		return run.Snapshot{}, s.snapshotErr
	}
	return s.snapshot, nil
}

func (s *countingStats) EpochSummaries(_ int) ([]run.EpochSummary, error) {
	s.epochsCalls++
	return s.epochs, nil
}

func (s *countingStats) ScalarSeries(phase, name string, _ int) ([]run.Scalar, error) {
	s.seriesCalls++
	return s.series[phase+"/"+name], nil
}

func testStats() *countingStats {
	series := map[string][]run.Scalar{}
	for step := 0; step < 6; step++ {
		series["train/loss/source"] = append(series["train/loss/source"], run.Scalar{
			RunID: "r1", Phase: run.PhaseTrain, Name: "loss/source",
			Step: int64(step), Epoch: step / 3, Value: 2.0 - 0.1*float64(step),
		})
		series["train/loss/target"] = append(series["train/loss/target"], run.Scalar{
			RunID: "r1", Phase: run.PhaseTrain, Name: "loss/target",
			Step: int64(step), Epoch: step / 3, Value: 0.5,
		})
	}
	series["val/miou"] = []run.Scalar{
		{RunID: "r1", Phase: run.PhaseVal, Name: "miou", Step: 0, Epoch: 1, Value: 0.31},
	}

	return &countingStats{
		snapshot: run.Snapshot{
			Run:        run.Run{ID: "r1", Name: "shift_test", Status: run.StatusRunning},
			Epoch:      1,
			EndEpoch:   4,
			TrainStep:  6,
			LR:         0.01,
			SourceLoss: 1.5,
			TargetLoss: 0.5,
			TotalLoss:  2.0,
			MeanIoU:    0.31,
			BestIoU:    0.31,
			UpdatedAt:  time.Now(),
		},
		epochs: []run.EpochSummary{
			{RunID: "r1", Epoch: 0, SourceLoss: 2.0, TargetLoss: 0.6, TotalLoss: 2.6,
				LR: 0.01, Duration: 1200 * time.Millisecond},
			{RunID: "r1", Epoch: 1, SourceLoss: 1.5, TargetLoss: 0.5, TotalLoss: 2.0,
				LR: 0.01, Validated: true, MeanIoU: 0.31, BestIoU: 0.31,
				Duration: 1500 * time.Millisecond},
		},
		series: series,
	}
}

func TestTick_PausedSkipsFetch(t *testing.T) {
	t.Parallel()

	stats := testStats()
	m := NewDashboard(stats, time.Second, 10)
	m.paused = true

	cmd, _ := m.Update(tickMsg(time.Now()))

	if cmd == nil {
		t.Fatal("expected a re-tick command while paused")
	}
	if m.fetching {
		t.Fatal("no fetch should be scheduled while paused")
	}
	if stats.snapshotCalls != 0 {
		t.Fatalf("snapshot calls = %d, want 0 while paused", stats.snapshotCalls)
	}
}

func TestTick_SecondTickWhileFetchInFlight(t *testing.T) {
	t.Parallel()

	stats := testStats()
	m := NewDashboard(stats, time.Millisecond, 10)
	m.fetching = true

	cmd, _ := m.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("expected a re-tick command while a fetch is in flight")
	}

	msg := cmd()
	if _, ok := msg.(tickMsg); !ok {
		t.Fatalf("expected re-tick, got %T", msg)
	}
	if stats.snapshotCalls != 0 {
		t.Fatalf("snapshot calls = %d, want 0 while fetch in flight", stats.snapshotCalls)
	}
}

func TestTick_FetchAppliesData(t *testing.T) {
	t.Parallel()

	stats := testStats()
	m := NewDashboard(stats, time.Second, 10)

	m.Update(tickMsg(time.Now()))
	if !m.fetching {
		t.Fatal("expected async fetch to be in flight after tick")
	}

	msg := m.fetchCmd()()
	m.Update(msg)

	if m.fetching {
		t.Fatal("tick should be marked done after data arrives")
	}
	if !m.haveSnapshot {
		t.Fatal("snapshot not applied")
	}
	if m.snapshot.Run.Name != "shift_test" {
		t.Fatalf("run name = %q, want shift_test", m.snapshot.Run.Name)
	}
	if got := len(m.epochs); got != 2 {
		t.Fatalf("epochs = %d, want 2", got)
	}
	if got := len(m.sourceLoss); got != 6 {
		t.Fatalf("source loss points = %d, want 6", got)
	}
	if got := len(m.miou); got != 1 {
		t.Fatalf("miou points = %d, want 1", got)
	}
	if !m.lastTickOK {
		t.Fatal("lastTickOK should be true after a clean fetch")
	}
	if stats.snapshotCalls != 1 || stats.epochsCalls != 1 || stats.seriesCalls != 3 {
		t.Fatalf("querier calls = %d/%d/%d, want 1/1/3",
			stats.snapshotCalls, stats.epochsCalls, stats.seriesCalls)
	}
}

func TestFetch_CollectsFirstError(t *testing.T) {
	t.Parallel()

	stats := testStats()
	stats.snapshotErr = errors.New("stats socket closed")
	m := NewDashboard(stats, time.Second, 10)

	raw := m.fetchCmd()()
	msg, ok := raw.(refreshMsg)
	if !ok {
		t.Fatalf("expected refreshMsg, got %T", raw)
	}
	if !strings.Contains(msg.fetchErr, "socket closed") {
		t.Fatalf("fetchErr = %q, want the snapshot error", msg.fetchErr)
	}
	if msg.snapshot != nil {
		t.Fatal("failed snapshot query should leave snapshot nil")
	}
	if got := len(msg.sourceLoss); got != 6 {
		t.Fatalf("partial data dropped: source loss points = %d, want 6", got)
	}

	m.applyRefresh(msg)
	if m.lastTickOK {
		t.Fatal("lastTickOK should be false after a failed fetch")
	}
	if m.lastError == "" {
		t.Fatal("lastError should record the failure")
	}
}

func TestKeys_SectionCycleAndPause(t *testing.T) {
	t.Parallel()

	m := NewDashboard(testStats(), time.Second, 10)

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if m.activeSection != sectionEpochs {
		t.Fatalf("active section = %d, want epochs after tab", m.activeSection)
	}
	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if m.activeSection != sectionCharts {
		t.Fatalf("active section = %d, want charts after wrap", m.activeSection)
	}
	m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	if m.activeSection != sectionEpochs {
		t.Fatalf("active section = %d, want epochs after shift+tab", m.activeSection)
	}

	m.Update(tea.KeyMsg{Type: tea.KeySpace})
	if !m.paused {
		t.Fatal("space should pause refresh")
	}
	m.Update(tea.KeyMsg{Type: tea.KeySpace})
	if m.paused {
		t.Fatal("space should resume refresh")
	}
}

func TestKeys_IntervalClampsAtBounds(t *testing.T) {
	t.Parallel()

	m := NewDashboard(testStats(), 2*time.Second, 10)

	faster := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'u'}}
	slower := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'U'}}

	m.Update(faster)
	if m.interval != time.Second {
		t.Fatalf("interval = %v, want 1s after one step faster", m.interval)
	}

	for i := 0; i < 10; i++ {
		m.Update(faster)
	}
	if m.interval != 500*time.Millisecond {
		t.Fatalf("interval = %v, want clamp at 500ms", m.interval)
	}

	for i := 0; i < 10; i++ {
		m.Update(slower)
	}
	if m.interval != 30*time.Second {
		t.Fatalf("interval = %v, want clamp at 30s", m.interval)
	}
}

func TestKeys_QuitReturnsQuitCmd(t *testing.T) {
	t.Parallel()

	m := NewDashboard(testStats(), time.Second, 10)

	cmd, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q should return a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q should quit")
	}
}

func TestView_RendersDashboardSections(t *testing.T) {
	t.Parallel()

	m := NewDashboard(testStats(), time.Second, 10)
	m.Update(tickMsg(time.Now()))
	m.Update(m.fetchCmd()())
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	out := m.View(120, 40)
	for _, want := range []string{"Step Loss", "Validation mIoU", "Epoch History", "shift_test"} {
		if !strings.Contains(out, want) {
			t.Fatalf("view missing %q", want)
		}
	}

	narrow := m.View(60, 20)
	if !strings.Contains(narrow, "Step Loss") {
		t.Fatal("narrow view should keep the loss panel")
	}
	if strings.Contains(narrow, "Validation mIoU") {
		t.Fatal("narrow view should drop the mIoU panel")
	}

	if out := m.View(30, 10); !strings.Contains(out, "Terminal too small") {
		t.Fatalf("tiny view = %q, want size warning", out)
	}
}

func TestView_EmptyShowsPlaceholders(t *testing.T) {
	t.Parallel()

	m := NewDashboard(&countingStats{}, time.Second, 10)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})

	out := m.View(100, 30)
	if !strings.Contains(out, "No data available") {
		t.Fatal("empty dashboard should show the no-data placeholder")
	}
	if !strings.Contains(out, "waiting for run stats") {
		t.Fatal("empty dashboard should show the waiting header")
	}
}

func TestView_HelpOverlayListsKeys(t *testing.T) {
	t.Parallel()

	m := NewDashboard(testStats(), time.Second, 10)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'?'}})

	out := m.View(100, 30)
	if !strings.Contains(out, "faster refresh") {
		t.Fatal("help overlay should list the refresh bindings")
	}

	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if m.showHelp {
		t.Fatal("esc should close help")
	}
}

func TestEpochRow_Format(t *testing.T) {
	t.Parallel()

	validated := run.EpochSummary{
		Epoch: 4, SourceLoss: 1.234, TargetLoss: 0.5, TotalLoss: 1.734,
		LR: 0.01, Validated: true, MeanIoU: 0.31, BestIoU: 0.35,
		Duration: 1500 * time.Millisecond,
	}
	row := formatEpochRow(validated)
	if !strings.Contains(row, "0.3100") {
		t.Fatalf("row %q missing mIoU", row)
	}
	if !strings.HasPrefix(row, "    5") {
		t.Fatalf("row %q should show the 1-based epoch", row)
	}

	plain := formatEpochRow(run.EpochSummary{Epoch: 0, SourceLoss: 2, TargetLoss: 0.6, TotalLoss: 2.6, LR: 0.01})
	if !strings.Contains(plain, "-") {
		t.Fatalf("row %q should mark skipped validation", plain)
	}
}

type stubPage struct {
	id      string
	navTo   string
	inits   int
	lastMsg tea.Msg
}

func (p *stubPage) ID() string    { return p.id }
func (p *stubPage) Init() tea.Cmd { p.inits++; return nil }

func (p *stubPage) Update(msg tea.Msg) (tea.Cmd, *Navigation) {
	p.lastMsg = msg
	if p.navTo != "" {
		return nil, &Navigation{To: p.navTo}
	}
	return nil, nil
}

func (p *stubPage) View(_, _ int) string { return p.id }

func TestApp_RoutesToActivePage(t *testing.T) {
	t.Parallel()

	a := &stubPage{id: "a", navTo: "b"}
	b := &stubPage{id: "b"}
	app := NewApp(a, b)

	if got := app.View(); got != "a" {
		t.Fatalf("view = %q, want first page", got)
	}

	app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})
	if b.inits != 1 {
		t.Fatalf("page b inits = %d, want 1", b.inits)
	}
	if got := app.View(); got != "b" {
		t.Fatalf("view = %q, want b", got)
	}
}
