package report

import (
	"image/color"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/hylla/ideadispatch/internal/app"
)

// badgePalette holds the gate badge colors.
type badgePalette struct {
	fg       color.Color
	ready    color.Color
	advisory color.Color
	blocked  color.Color
}

var defaultPalette = badgePalette{
	fg:       lipgloss.Color("231"),
	ready:    lipgloss.Color("35"),
	advisory: lipgloss.Color("214"),
	blocked:  lipgloss.Color("160"),
}

// GateBadge renders a one-line status badge for a gate decision.
func GateBadge(decision app.GateDecision) string {
	label, bg := badgeLabel(decision)
	style := lipgloss.NewStyle().
		Bold(true).
		Padding(0, 1).
		Foreground(defaultPalette.fg).
		Background(bg)
	line := style.Render(label)
	if reason := strings.TrimSpace(decision.Reason); reason != "" {
		line += " " + lipgloss.NewStyle().Faint(true).Render(reason)
	}
	return line
}

// badgeLabel picks the label and background for one decision.
func badgeLabel(decision app.GateDecision) (string, color.Color) {
	switch {
	case decision.KillSwitch != nil:
		return "KILL SWITCH", defaultPalette.blocked
	case decision.Permitted && decision.Mode == app.GateModeOptionCReady:
		return "OPTION C READY", defaultPalette.ready
	default:
		return "ADVISORY", defaultPalette.advisory
	}
}
