// Package tui renders the live training dashboard: loss and mIoU charts,
// the epoch history, and run status, fed by the stats socket of a running
// training process.
package tui

import tea "github.com/charmbracelet/bubbletea"

// Page is a full-screen view hosted by the App router.
type Page interface {
	ID() string
	Init() tea.Cmd
	Update(msg tea.Msg) (tea.Cmd, *Navigation)
	View(width, height int) string
}

// Navigation asks the App to switch pages.
type Navigation struct {
	To string
}

// App is the top-level Bubble Tea model. It owns the terminal size and
// forwards everything else to the active page.
type App struct {
	pages  []Page
	active int
	width  int
	height int
}

// NewApp builds the router. The first page starts active.
func NewApp(pages ...Page) *App {
	return &App{pages: pages}
}

func (a *App) current() (Page, bool) {
	if a.active < 0 || a.active >= len(a.pages) {
		return nil, false
	}
	return a.pages[a.active], true
}

func (a *App) Init() tea.Cmd {
	p, ok := a.current()
	if !ok {
		return nil
	}
	return p.Init()
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if size, ok := msg.(tea.WindowSizeMsg); ok {
		a.width = size.Width
		a.height = size.Height
	}

	p, ok := a.current()
	if !ok {
		return a, nil
	}

	cmd, jump := p.Update(msg)
	if jump == nil {
		return a, cmd
	}
	for i, candidate := range a.pages {
		if candidate.ID() == jump.To {
			a.active = i
			return a, tea.Batch(cmd, candidate.Init())
		}
	}
	// Unknown target, stay put.
	return a, cmd
}

func (a *App) View() string {
	p, ok := a.current()
	if !ok {
		return ""
	}
	return p.View(a.width, a.height)
}
