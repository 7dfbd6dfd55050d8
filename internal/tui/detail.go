package tui

import (
	"fmt"
	"strings"

	"github.com/mabhi256/nbtspec/internal/nbt"
	"github.com/mabhi256/nbtspec/internal/schema"
	"github.com/mabhi256/nbtspec/utils"
)

func (m *Model) renderDetail() string {
	switch m.currentTab {
	case TypesTab:
		if len(m.doc.Types) == 0 {
			return utils.MutedStyle.Render("No types in this document.")
		}
		row := m.doc.Types[m.selections[TypesTab]]
		return renderTypeRow(row)

	case CompoundsTab:
		if len(m.doc.CompoundTypes) == 0 {
			return utils.MutedStyle.Render("No compound types in this document.")
		}
		row := m.doc.CompoundTypes[m.selections[CompoundsTab]]
		return renderCompoundRow(row.Name, nil, row.Compound)

	default:
		return ""
	}
}

func renderTypeRow(row schema.TypeRow) string {
	return renderCompoundRow(row.Name, row.Parent, row.Nbt)
}

func renderCompoundRow(name string, parent *string, c *nbt.Compound) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(name))
	if parent != nil {
		sb.WriteString(utils.MutedStyle.Render(" extends " + *parent))
	}
	sb.WriteString("\n\n")
	if c == nil {
		sb.WriteString(utils.MutedStyle.Render("(no NBT)"))
		return sb.String()
	}
	writeCompoundBody(&sb, c, "")
	return sb.String()
}

func writeCompoundBody(sb *strings.Builder, c *nbt.Compound, indent string) {
	for _, key := range c.Keys() {
		entry, _ := c.Entry(key)
		marker := "  "
		if entry.Optional {
			marker = optionalStyle.Render("? ")
		}
		fmt.Fprintf(sb, "%s%s%s: %s\n", indent, marker,
			keyStyle.Render(key), renderElement(entry.Value))
	}
	if c.UnknownKeys != nil {
		fmt.Fprintf(sb, "%s  %s: %s\n", indent,
			utils.MutedStyle.Render("<any key>"), renderElement(c.UnknownKeys))
	}
	for i, f := range c.Flattened {
		fmt.Fprintf(sb, "%s  %s %s\n", indent,
			utils.MutedStyle.Render(fmt.Sprintf("flattened[%d]:", i)), renderElement(f))
	}
	if c.Len() == 0 && c.UnknownKeys == nil && len(c.Flattened) == 0 {
		fmt.Fprintf(sb, "%s  %s\n", indent, utils.MutedStyle.Render("(empty)"))
	}
}

func renderElement(e nbt.Element) string {
	switch v := e.(type) {
	case nil:
		return utils.MutedStyle.Render("null")
	case nbt.Any:
		return utils.MutedStyle.Render("Any")
	case nbt.Primitive:
		return primStyle.Render(v.Kind.String())
	case *nbt.List:
		return "List<" + renderElement(v.Inner) + ">"
	case nbt.Either:
		return "Either<" + renderElement(v.Left) + ", " + renderElement(v.Right) + ">"
	case nbt.AnyCompound:
		return "Map<String, " + renderElement(v.Value) + ">"
	case nbt.Named:
		return refStyle.Render(v.Name)
	case nbt.Boxed:
		return refStyle.Render("↺ " + v.Name)
	case nbt.NestedEntity:
		return refStyle.Render("↺ Entity")
	case *nbt.Compound:
		return fmt.Sprintf("Compound{%d entries}", v.Len())
	default:
		return fmt.Sprintf("%T", e)
	}
}
