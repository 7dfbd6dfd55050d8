package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mabhi256/nbtspec/internal/schema"
	"github.com/mabhi256/nbtspec/utils"
)

const listWidth = 34

func initialModel(doc *schema.Document) *Model {
	return &Model{
		doc:        doc,
		currentTab: TypesTab,
		selections: make(map[TabType]int),
		keys:       DefaultKeyMap(),
	}
}

// Run opens the schema browser.
func Run(doc *schema.Document) error {
	program := tea.NewProgram(initialModel(doc), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	return nil
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.detail = viewport.New(msg.Width-listWidth-4, msg.Height-4)
			m.ready = true
		} else {
			m.detail.Width = msg.Width - listWidth - 4
			m.detail.Height = msg.Height - 4
		}
		m.refreshDetail()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Tab1):
			m.currentTab = TypesTab
			m.refreshDetail()
		case key.Matches(msg, m.keys.Tab2):
			m.currentTab = CompoundsTab
			m.refreshDetail()
		case key.Matches(msg, m.keys.Tab3):
			m.currentTab = StatsTab

		case key.Matches(msg, m.keys.NextTab):
			utils.CycleEnumPtr(&m.currentTab, 1, StatsTab)
			m.refreshDetail()

		case key.Matches(msg, m.keys.Up):
			m.moveSelection(-1)
		case key.Matches(msg, m.keys.Down):
			m.moveSelection(1)

		case key.Matches(msg, m.keys.PageUp):
			m.detail.HalfViewUp()
		case key.Matches(msg, m.keys.PageDown):
			m.detail.HalfViewDown()
		}
	}

	return m, nil
}

func (m *Model) listLen() int {
	switch m.currentTab {
	case TypesTab:
		return len(m.doc.Types)
	case CompoundsTab:
		return len(m.doc.CompoundTypes)
	default:
		return 0
	}
}

func (m *Model) moveSelection(direction int) {
	count := m.listLen()
	if count == 0 {
		return
	}
	selected := m.selections[m.currentTab] + direction
	if selected < 0 {
		selected = 0
	}
	if selected >= count {
		selected = count - 1
	}
	m.selections[m.currentTab] = selected
	m.refreshDetail()
}

func (m *Model) refreshDetail() {
	if !m.ready {
		return
	}
	m.detail.SetContent(m.renderDetail())
	m.detail.GotoTop()
}

func (m *Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.renderHeader()

	var body string
	if m.currentTab == StatsTab {
		body = m.RenderStats()
	} else {
		list := m.renderList()
		body = lipgloss.JoinHorizontal(lipgloss.Top, list, " ", m.detail.View())
	}

	help := utils.MutedStyle.Render("1/2/3 tabs · ↑/↓ select · pgup/pgdn scroll · q quit")
	return lipgloss.JoinVertical(lipgloss.Left, header, body, help)
}

func (m *Model) renderHeader() string {
	var tabs []string
	for tab := TypesTab; tab <= StatsTab; tab++ {
		style := utils.TabInactiveStyle
		if tab == m.currentTab {
			style = utils.TabActiveStyle
		}
		tabs = append(tabs, style.Render(tabNames[tab]))
	}
	counts := utils.MutedStyle.Render(fmt.Sprintf(
		"%d entities · %d types · %d compounds",
		len(m.doc.Entities), len(m.doc.Types), len(m.doc.CompoundTypes)))
	return strings.Join(tabs, "  ") + "  " + counts
}

func (m *Model) renderList() string {
	selected := m.selections[m.currentTab]
	visible := m.height - 4
	if visible < 1 {
		visible = 1
	}
	start := 0
	if selected >= visible {
		start = selected - visible + 1
	}

	var lines []string
	for i := start; i < m.listLen() && len(lines) < visible; i++ {
		name := utils.PadRight(utils.TruncateString(m.itemName(i), listWidth-2), listWidth-2)
		if i == selected {
			lines = append(lines, selectedItemStyle.Render("▸ "+name))
		} else {
			lines = append(lines, itemStyle.Render("  "+name))
		}
	}
	return lipgloss.NewStyle().Width(listWidth).Render(strings.Join(lines, "\n"))
}

func (m *Model) itemName(index int) string {
	if m.currentTab == TypesTab {
		return m.doc.Types[index].Name
	}
	return m.doc.CompoundTypes[index].Name
}
