// Package keys contains keybinding definitions.
//
// The cockpit forwards every key to the attached session except the few
// bound here, so each binding uses a chord that shells and editors rarely
// need.
package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keybindings for the cockpit.
type KeyMap struct {
	// Detach leaves the cockpit. The session keeps running under serve;
	// under run it is closed.
	Detach key.Binding

	// Panels
	ToggleWorkflow key.Binding
	ToggleLog      key.Binding

	// Dismiss leaves the cockpit once the session has exited.
	Dismiss key.Binding
}

// DefaultKeyMap returns the default keybindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Detach: key.NewBinding(
			key.WithKeys("ctrl+]"),
			key.WithHelp("ctrl+]", "detach"),
		),
		ToggleWorkflow: key.NewBinding(
			key.WithKeys("ctrl+o"),
			key.WithHelp("ctrl+o", "workflow"),
		),
		ToggleLog: key.NewBinding(
			key.WithKeys("ctrl+x"),
			key.WithHelp("ctrl+x", "logs"),
		),
		Dismiss: key.NewBinding(
			key.WithKeys("enter", "q", "esc"),
			key.WithHelp("enter/q", "close"),
		),
	}
}

// ShortHelp returns the bindings shown in the status bar.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Detach, k.ToggleWorkflow, k.ToggleLog}
}
