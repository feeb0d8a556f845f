package tui

import (
	"fmt"
	"image/color"
	"sort"
	"strings"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/hylla/ideadispatch/internal/domain"
)

var (
	accentColor = lipgloss.Color("62")
	mutedColor  = lipgloss.Color("241")
	dimColor    = lipgloss.Color("239")
)

// stateColor matches the gate badge palette.
func stateColor(state domain.QueueState) color.Color {
	switch domain.NormalizeQueueState(state) {
	case domain.QueueStateProcessed:
		return lipgloss.Color("35")
	case domain.QueueStateBlocked:
		return lipgloss.Color("160")
	default:
		return lipgloss.Color("214")
	}
}

// View handles view.
func (m Model) View() tea.View {
	v := tea.NewView(m.render())
	v.AltScreen = true
	return v
}

// render builds the full screen as a string.
func (m Model) render() string {
	if m.err != nil {
		return "error: " + m.err.Error() + "\n\npress r to retry • q quit\n"
	}
	if !m.ready {
		return "loading..."
	}

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	mutedStyle := lipgloss.NewStyle().Foreground(mutedColor)
	statusStyle := lipgloss.NewStyle().Foreground(dimColor)

	title := titleStyle.Render("ideadispatch queue")
	if m.business != "" {
		title += mutedStyle.Render("  " + m.business)
	}
	header := []string{title, mutedStyle.Render(m.summaryLine()), ""}

	helpBubble := m.help
	helpLine := lipgloss.NewStyle().
		Foreground(mutedColor).
		BorderTop(true).
		BorderForeground(dimColor).
		Padding(0, 1).
		Width(max(0, m.width)).
		Render(helpBubble.View(m.keys))
	statusLine := statusStyle.Render(m.status)

	bodyHeight := 0
	if m.height > 0 {
		bodyHeight = max(1, m.height-len(header)-lipgloss.Height(helpLine)-1)
	}

	var body string
	switch m.mode {
	case modePacketInfo:
		body = m.renderPacketInfo()
	case modeConfirmTransition:
		body = m.renderConfirm()
	default:
		body = m.renderList(bodyHeight)
	}
	if bodyHeight > 0 {
		body = fitLines(body, bodyHeight)
	}

	return strings.Join(header, "\n") + "\n" + body + "\n" + statusLine + "\n" + helpLine
}

// summaryLine counts entries per state from the loaded document.
func (m Model) summaryLine() string {
	counts := map[domain.QueueState]int{}
	for _, entry := range m.entries {
		counts[domain.NormalizeQueueState(entry.QueueState)]++
	}
	return fmt.Sprintf("enqueued %d · processed %d · blocked %d · cycles %d · filter %s",
		counts[domain.QueueStateEnqueued],
		counts[domain.QueueStateProcessed],
		counts[domain.QueueStateBlocked],
		m.rollup.Rollup.CycleCount,
		m.filterLabel(),
	)
}

func (m Model) renderList(height int) string {
	visible := m.visibleEntries()
	if len(visible) == 0 {
		if m.filterLabel() == "all" {
			return "No queue entries yet."
		}
		return fmt.Sprintf("No %s entries.", m.filterLabel())
	}
	window := len(visible)
	if height > 0 {
		window = height
	}
	start, end := windowBounds(len(visible), m.selected, window)
	selectedStyle := lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	rows := make([]string, 0, end-start)
	for idx := start; idx < end; idx++ {
		entry := visible[idx]
		state := domain.NormalizeQueueState(entry.QueueState)
		badge := lipgloss.NewStyle().Foreground(stateColor(state)).Render(fmt.Sprintf("%-9s", state))
		line := fmt.Sprintf("%s %-24s %-20s %-3s %s",
			badge,
			truncate(entry.Packet.ArtifactID, 24),
			truncate(entry.Packet.RecommendedRoute, 20),
			entry.Packet.Priority,
			entry.DispatchedAt,
		)
		if idx == m.selected {
			rows = append(rows, selectedStyle.Render("› ")+line)
			continue
		}
		rows = append(rows, "  "+line)
	}
	return strings.Join(rows, "\n")
}

func (m Model) renderPacketInfo() string {
	entry, ok := m.selectedEntry()
	if !ok {
		return ""
	}
	width := max(24, m.width-4)
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accentColor).
		Padding(0, 1).
		Render(m.markdown.Render(packetMarkdown(entry), width-4))
}

func (m Model) renderConfirm() string {
	prompt := fmt.Sprintf("Mark %s as %s?\n\ny confirm • n cancel", m.pending.dispatchID, m.pending.to)
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(stateColor(m.pending.to)).
		Padding(0, 1).
		Render(prompt)
}

// packetMarkdown renders one entry for the packet view.
func packetMarkdown(entry domain.QueueEntry) string {
	p := entry.Packet
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", entry.DispatchID)
	fmt.Fprintf(&b, "- **State:** %s\n", domain.NormalizeQueueState(entry.QueueState))
	fmt.Fprintf(&b, "- **Artifact:** %s (%s → %s)\n", p.ArtifactID, p.BeforeSHA, p.AfterSHA)
	fmt.Fprintf(&b, "- **Route:** %s, %s, confidence %.2f\n", p.RecommendedRoute, p.Priority, p.Confidence)
	fmt.Fprintf(&b, "- **Root event:** %s (depth %d)\n", p.RootEventID, p.LineageDepth)
	fmt.Fprintf(&b, "- **Dispatched at:** %s\n", entry.DispatchedAt)

	section := func(title, text string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", title, text)
	}
	list := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n## %s\n\n", title)
		for _, item := range items {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	section("Current truth", p.CurrentTruth)
	section("Next scope", p.NextScopeNow)
	section("Why", p.Why)
	if p.IntendedOutcome != nil {
		section("Intended outcome", fmt.Sprintf("%s (%s, %s)", p.IntendedOutcome.Statement, p.IntendedOutcome.Type, p.IntendedOutcome.Source))
	}
	list("Location anchors", p.LocationAnchors)
	list("Evidence", p.EvidenceRefs)

	history := append([]domain.QueueTransition(nil), entry.History...)
	sort.SliceStable(history, func(i, j int) bool { return history[i].At < history[j].At })
	items := make([]string, 0, len(history))
	for _, step := range history {
		items = append(items, fmt.Sprintf("%s %s → %s by %s", step.At, step.From, step.To, step.Actor))
	}
	list("History", items)
	return b.String()
}

// fitLines pads or truncates content to exactly maxLines lines.
func fitLines(content string, maxLines int) string {
	if maxLines <= 0 {
		return ""
	}
	lines := strings.Split(content, "\n")
	switch {
	case len(lines) > maxLines:
		if maxLines == 1 {
			lines = []string{"…"}
		} else {
			lines = append(lines[:maxLines-1], "…")
		}
	case len(lines) < maxLines:
		lines = append(lines, make([]string, maxLines-len(lines))...)
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}
