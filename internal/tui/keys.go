package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings for the dashboard.
type KeyMap struct {
	Quit         key.Binding
	ForceQuit    key.Binding
	Help         key.Binding
	Escape       key.Binding
	NextSection  key.Binding
	PrevSection  key.Binding
	Up           key.Binding
	Down         key.Binding
	IntervalUp   key.Binding
	IntervalDown key.Binding
	Pause        key.Binding
}

func bind(label, help string, keys ...string) key.Binding {
	return key.NewBinding(key.WithKeys(keys...), key.WithHelp(label, help))
}

// DefaultKeyMap is the dashboard's stock set of bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit:         bind("q", "quit", "q"),
		ForceQuit:    bind("ctrl+c", "force quit", "ctrl+c"),
		Help:         bind("?", "help", "?", "h"),
		Escape:       bind("esc", "close help", "esc"),
		NextSection:  bind("tab", "next section", "tab"),
		PrevSection:  bind("shift+tab", "previous section", "shift+tab"),
		Up:           bind("up/k", "scroll up", "up", "k"),
		Down:         bind("down/j", "scroll down", "down", "j"),
		IntervalUp:   bind("u", "faster refresh", "u"),
		IntervalDown: bind("U", "slower refresh", "U"),
		Pause:        bind("space", "pause refresh", " "),
	}
}
