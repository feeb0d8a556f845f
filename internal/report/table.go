package report

import (
	"strings"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"

	"github.com/hylla/ideadispatch/internal/app"
)

// ThresholdTable renders the readiness checks as a bordered terminal table.
func ThresholdTable(decision app.GateDecision) string {
	rows := thresholdRows(decision)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("62"))).
		Headers("Check", "Required", "Actual", "Met").
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return style.Bold(true).Foreground(lipgloss.Color("230"))
			}
			if col == 3 && row >= 0 && row < len(rows) {
				if rows[row].check.Met {
					return style.Foreground(defaultPalette.ready)
				}
				return style.Foreground(defaultPalette.blocked)
			}
			return style
		})
	for _, row := range rows {
		t.Row(
			row.name,
			strings.TrimSpace(row.check.Comparator+" "+formatFloat(row.check.Required)),
			formatActual(row.check.Actual),
			yesNo(row.check.Met),
		)
	}
	return t.String()
}
