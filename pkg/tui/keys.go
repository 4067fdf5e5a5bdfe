package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap определяет клавиатурные сокращения чата.
type KeyMap struct {
	Quit       key.Binding
	Cancel     key.Binding
	Send       key.Binding
	Approve    key.Binding
	Always     key.Binding
	Deny       key.Binding
	ScrollUp   key.Binding
	ScrollDown key.Binding
	ToggleHelp key.Binding
}

// ShortHelp реализует help.KeyMap интерфейс.
func (km KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{km.Send, km.Cancel, km.ToggleHelp, km.Quit}
}

// FullHelp реализует help.KeyMap интерфейс.
func (km KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{km.Send, km.Cancel, km.Quit},
		{km.Approve, km.Always, km.Deny},
		{km.ScrollUp, km.ScrollDown, km.ToggleHelp},
	}
}

// DefaultKeyMap возвращает дефолтный KeyMap.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("Ctrl+C", "quit"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("Esc", "cancel run"),
		),
		Send: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("Enter", "send"),
		),
		Approve: key.NewBinding(
			key.WithKeys("y"),
			key.WithHelp("y", "allow once"),
		),
		Always: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "allow for session"),
		),
		Deny: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "deny"),
		),
		ScrollUp: key.NewBinding(
			key.WithKeys("ctrl+u", "pgup"),
			key.WithHelp("Ctrl+U", "scroll up"),
		),
		ScrollDown: key.NewBinding(
			key.WithKeys("ctrl+d", "pgdown"),
			key.WithHelp("Ctrl+D", "scroll down"),
		),
		ToggleHelp: key.NewBinding(
			key.WithKeys("ctrl+h"),
			key.WithHelp("Ctrl+H", "toggle help"),
		),
	}
}
