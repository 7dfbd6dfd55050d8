package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mabhi256/nbtspec/utils"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Bold(true)

	keyStyle      = lipgloss.NewStyle().Foreground(utils.TextColor)
	primStyle     = lipgloss.NewStyle().Foreground(utils.GoodLightColor)
	refStyle      = lipgloss.NewStyle().Foreground(utils.InfoLightColor)
	optionalStyle = lipgloss.NewStyle().Foreground(utils.WarningColor)

	selectedItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFFFFF")).
				Background(utils.InfoColor)
	itemStyle = lipgloss.NewStyle().Foreground(utils.TextColor)
)
