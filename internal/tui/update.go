package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

func (m *Dashboard) Update(msg tea.Msg) (tea.Cmd, *Navigation) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeEpochView()
		return nil, nil

	case tickMsg:
		// Freeze refresh while paused so charts and scroll position hold
		// still.
		if m.paused {
			return m.tickCmd(), nil
		}

		if m.fetching {
			return m.tickCmd(), nil
		}
		m.fetching = true
		return tea.Batch(m.fetchCmd(), m.tickCmd()), nil

	case refreshMsg:
		m.fetching = false
		m.applyRefresh(msg)
		return nil, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		m.handleMouse(msg)
		return nil, nil
	}

	return nil, nil
}

func (m *Dashboard) handleKey(msg tea.KeyMsg) (tea.Cmd, *Navigation) {
	switch {
	case key.Matches(msg, m.keys.ForceQuit), key.Matches(msg, m.keys.Quit):
		return tea.Quit, nil

	case key.Matches(msg, m.keys.Escape):
		if m.showHelp {
			m.showHelp = false
		}

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp

	case key.Matches(msg, m.keys.Pause):
		m.paused = !m.paused

	case key.Matches(msg, m.keys.IntervalUp):
		if m.intervalIdx > 0 {
			m.intervalIdx--
			m.interval = m.intervalSteps[m.intervalIdx]
		}

	case key.Matches(msg, m.keys.IntervalDown):
		if m.intervalIdx < len(m.intervalSteps)-1 {
			m.intervalIdx++
			m.interval = m.intervalSteps[m.intervalIdx]
		}

	case key.Matches(msg, m.keys.NextSection):
		m.activeSection = (m.activeSection + 1) % sectionCount

	case key.Matches(msg, m.keys.PrevSection):
		m.activeSection = (m.activeSection + sectionCount - 1) % sectionCount

	case key.Matches(msg, m.keys.Up):
		if m.activeSection == sectionEpochs {
			m.epochView.ScrollUp(1)
		}

	case key.Matches(msg, m.keys.Down):
		if m.activeSection == sectionEpochs {
			m.epochView.ScrollDown(1)
		}
	}

	return nil, nil
}

func (m *Dashboard) handleMouse(msg tea.MouseMsg) {
	if msg.Action != tea.MouseActionPress {
		return
	}
	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.epochView.ScrollUp(3)
	case tea.MouseButtonWheelDown:
		m.epochView.ScrollDown(3)
	}
}
