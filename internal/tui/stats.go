package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"

	"github.com/mabhi256/nbtspec/internal/nbt"
	"github.com/mabhi256/nbtspec/utils"
)

const statsBarCount = 10

// RenderStats charts the largest compound definitions by entry count and
// prints aggregate numbers for the document.
func (m *Model) RenderStats() string {
	type sized struct {
		name    string
		entries int
	}

	var sizes []sized
	totalEntries := 0
	optionalEntries := 0
	count := func(name string, c *nbt.Compound) {
		if c == nil {
			return
		}
		sizes = append(sizes, sized{name: name, entries: c.Len()})
		totalEntries += c.Len()
		for _, key := range c.Keys() {
			entry, _ := c.Entry(key)
			if entry.Optional {
				optionalEntries++
			}
		}
	}
	for _, row := range m.doc.Types {
		count(row.Name, row.Nbt)
	}
	for _, row := range m.doc.CompoundTypes {
		count(row.Name, row.Compound)
	}

	sort.Slice(sizes, func(i, j int) bool {
		if sizes[i].entries != sizes[j].entries {
			return sizes[i].entries > sizes[j].entries
		}
		return sizes[i].name < sizes[j].name
	})
	if len(sizes) > statsBarCount {
		sizes = sizes[:statsBarCount]
	}

	chartWidth := m.width - 4
	if chartWidth < 30 {
		chartWidth = 30
	}
	chartHeight := m.height - 8
	if chartHeight < 6 {
		chartHeight = 6
	}
	if chartHeight > 16 {
		chartHeight = 16
	}

	bc := barchart.New(chartWidth, chartHeight)
	barStyle := lipgloss.NewStyle().Foreground(utils.InfoColor)
	for _, s := range sizes {
		bc.Push(barchart.BarData{
			Label: utils.TruncateString(s.name, 12),
			Values: []barchart.BarValue{
				{Name: s.name, Value: float64(s.entries), Style: barStyle},
			},
		})
	}
	bc.Draw()

	summary := utils.MutedStyle.Render(fmt.Sprintf(
		"%d entries across all schemas, %d optional", totalEntries, optionalEntries))
	title := titleStyle.Render("Largest compound schemas (entry count)")

	return strings.Join([]string{title, "", bc.View(), "", summary}, "\n")
}
