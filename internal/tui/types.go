package tui

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"

	"github.com/mabhi256/nbtspec/internal/schema"
)

type Model struct {
	// Data
	doc *schema.Document

	// UI State
	currentTab TabType
	width      int
	height     int

	selections map[TabType]int
	detail     viewport.Model
	ready      bool

	// Key bindings
	keys KeyMap
}

type TabType int

const (
	TypesTab TabType = iota
	CompoundsTab
	StatsTab
)

const TabCount = int(StatsTab) + 1

var tabNames = map[TabType]string{
	TypesTab:     "Types",
	CompoundsTab: "Compounds",
	StatsTab:     "Stats",
}

type KeyMap struct {
	Tab1     key.Binding
	Tab2     key.Binding
	Tab3     key.Binding
	NextTab  key.Binding
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Quit     key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Tab1:     key.NewBinding(key.WithKeys("1")),
		Tab2:     key.NewBinding(key.WithKeys("2")),
		Tab3:     key.NewBinding(key.WithKeys("3")),
		NextTab:  key.NewBinding(key.WithKeys("tab")),
		Up:       key.NewBinding(key.WithKeys("up", "k")),
		Down:     key.NewBinding(key.WithKeys("down", "j")),
		PageUp:   key.NewBinding(key.WithKeys("pgup", "b")),
		PageDown: key.NewBinding(key.WithKeys("pgdown", "f")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c")),
	}
}
