// Package tui provides the interactive queue browser.
package tui

import (
	"context"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/key"
	tea "charm.land/bubbletea/v2"

	"github.com/hylla/ideadispatch/internal/app"
	"github.com/hylla/ideadispatch/internal/domain"
	"github.com/hylla/ideadispatch/internal/report"
)

// Service is the slice of app.Service the browser needs.
type Service interface {
	QueueState(context.Context) (domain.QueueStateDocument, error)
	Rollup(context.Context) app.RollupResult
	TransitionEntry(context.Context, string, domain.QueueState, string) (domain.QueueEntry, error)
}

// inputMode represents a selectable mode.
type inputMode int

const (
	modeNone inputMode = iota
	modePacketInfo
	modeConfirmTransition
)

// stateFilters is the filter cycle; the blank state shows every entry.
var stateFilters = []domain.QueueState{
	"",
	domain.QueueStateEnqueued,
	domain.QueueStateProcessed,
	domain.QueueStateBlocked,
}

// pendingTransition is a transition awaiting confirmation.
type pendingTransition struct {
	dispatchID string
	to         domain.QueueState
}

// Model is the bubbletea model for the queue browser.
type Model struct {
	svc Service

	ready  bool
	width  int
	height int
	err    error

	status string

	help help.Model
	keys keyMap

	actor         string
	markdownStyle string
	markdown      *report.Renderer

	business string
	entries  []domain.QueueEntry
	rollup   app.RollupResult

	filter   int
	selected int
	mode     inputMode
	pending  pendingTransition
	focusID  string
}

// loadedMsg carries one ledger read.
type loadedMsg struct {
	business string
	entries  []domain.QueueEntry
	rollup   app.RollupResult
	err      error
}

// actionMsg carries the outcome of one transition.
type actionMsg struct {
	err     error
	status  string
	focusID string
}

// NewModel constructs a queue browser over svc.
func NewModel(svc Service, opts ...Option) Model {
	h := help.New()
	h.ShowAll = false
	m := Model{
		svc:    svc,
		status: "loading...",
		help:   h,
		keys:   newKeyMap(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&m)
		}
	}
	m.markdown = report.NewRenderer(m.markdownStyle)
	return m
}

// Init handles init.
func (m Model) Init() tea.Cmd {
	return m.loadData
}

// Update updates state for the requested operation.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		m.height = msg.Height
		m.help.SetWidth(max(0, msg.Width-2))
		return m, nil

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "load failed"
			return m, nil
		}
		m.err = nil
		m.business = msg.business
		m.entries = msg.entries
		m.rollup = msg.rollup
		visible := m.visibleEntries()
		if focus := strings.TrimSpace(m.focusID); focus != "" {
			for idx, entry := range visible {
				if entry.DispatchID == focus {
					m.selected = idx
					break
				}
			}
			m.focusID = ""
		}
		m.selected = clamp(m.selected, 0, len(visible)-1)
		if m.status == "loading..." || m.status == "reloading..." {
			m.status = "ready"
		}
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.status = "error: " + msg.err.Error()
			return m, nil
		}
		m.status = msg.status
		m.focusID = msg.focusID
		return m, m.loadData

	case tea.KeyPressMsg:
		switch m.mode {
		case modePacketInfo:
			return m.handlePacketInfoKey(msg)
		case modeConfirmTransition:
			return m.handleConfirmKey(msg)
		default:
			return m.handleNormalModeKey(msg)
		}

	default:
		return m, nil
	}
}

// loadData reads the queue document and the rollup.
func (m Model) loadData() tea.Msg {
	ctx := context.Background()
	doc, err := m.svc.QueueState(ctx)
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{
		business: doc.Business,
		entries:  doc.Entries,
		rollup:   m.svc.Rollup(ctx),
	}
}

func (m Model) handleNormalModeKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.toggleHelp):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case msg.String() == "esc":
		m.help.ShowAll = false
		return m, nil
	case key.Matches(msg, m.keys.reload):
		m.status = "reloading..."
		return m, m.loadData
	case key.Matches(msg, m.keys.moveUp):
		m.selected = clamp(m.selected-1, 0, len(m.visibleEntries())-1)
		return m, nil
	case key.Matches(msg, m.keys.moveDown):
		m.selected = clamp(m.selected+1, 0, len(m.visibleEntries())-1)
		return m, nil
	case key.Matches(msg, m.keys.cycleFilter):
		m.filter = wrapIndex(m.filter, 1, len(stateFilters))
		m.selected = 0
		m.status = "filter: " + m.filterLabel()
		return m, nil
	case key.Matches(msg, m.keys.packetInfo):
		if _, ok := m.selectedEntry(); !ok {
			m.status = "no entry selected"
			return m, nil
		}
		m.mode = modePacketInfo
		return m, nil
	case key.Matches(msg, m.keys.markProcessed):
		return m.startTransition(domain.QueueStateProcessed)
	case key.Matches(msg, m.keys.markBlocked):
		return m.startTransition(domain.QueueStateBlocked)
	default:
		return m, nil
	}
}

func (m Model) handlePacketInfoKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.cancel), key.Matches(msg, m.keys.packetInfo):
		m.mode = modeNone
		return m, nil
	case key.Matches(msg, m.keys.markProcessed):
		m.mode = modeNone
		return m.startTransition(domain.QueueStateProcessed)
	case key.Matches(msg, m.keys.markBlocked):
		m.mode = modeNone
		return m.startTransition(domain.QueueStateBlocked)
	default:
		return m, nil
	}
}

func (m Model) handleConfirmKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.confirm):
		pending := m.pending
		m.mode = modeNone
		m.pending = pendingTransition{}
		m.status = fmt.Sprintf("marking %s %s...", pending.dispatchID, pending.to)
		return m, m.transitionCmd(pending)
	case key.Matches(msg, m.keys.cancel):
		m.mode = modeNone
		m.pending = pendingTransition{}
		m.status = "transition canceled"
		return m, nil
	default:
		return m, nil
	}
}

// startTransition asks for confirmation before moving the selected entry.
func (m Model) startTransition(to domain.QueueState) (tea.Model, tea.Cmd) {
	entry, ok := m.selectedEntry()
	if !ok {
		m.status = "no entry selected"
		return m, nil
	}
	if state := domain.NormalizeQueueState(entry.QueueState); state != domain.QueueStateEnqueued {
		m.status = fmt.Sprintf("%s is already %s", entry.DispatchID, state)
		return m, nil
	}
	m.mode = modeConfirmTransition
	m.pending = pendingTransition{dispatchID: entry.DispatchID, to: to}
	return m, nil
}

// transitionCmd runs one confirmed transition through the service.
func (m Model) transitionCmd(p pendingTransition) tea.Cmd {
	svc, actor := m.svc, m.actor
	return func() tea.Msg {
		entry, err := svc.TransitionEntry(context.Background(), p.dispatchID, p.to, actor)
		if err != nil {
			return actionMsg{err: fmt.Errorf("transition %s: %w", p.dispatchID, err)}
		}
		return actionMsg{
			status:  fmt.Sprintf("%s -> %s", entry.DispatchID, entry.QueueState),
			focusID: entry.DispatchID,
		}
	}
}

// visibleEntries returns entries matching the active state filter.
func (m Model) visibleEntries() []domain.QueueEntry {
	state := stateFilters[clamp(m.filter, 0, len(stateFilters)-1)]
	if state == "" {
		return m.entries
	}
	out := make([]domain.QueueEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		if domain.NormalizeQueueState(entry.QueueState) == state {
			out = append(out, entry)
		}
	}
	return out
}

func (m Model) selectedEntry() (domain.QueueEntry, bool) {
	visible := m.visibleEntries()
	if len(visible) == 0 {
		return domain.QueueEntry{}, false
	}
	return visible[clamp(m.selected, 0, len(visible)-1)], true
}

func (m Model) filterLabel() string {
	state := stateFilters[clamp(m.filter, 0, len(stateFilters)-1)]
	if state == "" {
		return "all"
	}
	return string(state)
}

// wrapIndex steps through a cyclic list.
func wrapIndex(current int, delta int, total int) int {
	if total <= 0 {
		return 0
	}
	next := (current + delta) % total
	if next < 0 {
		next += total
	}
	return next
}

// windowBounds returns an inclusive-exclusive list window that keeps selected visible.
func windowBounds(total, selected, windowSize int) (int, int) {
	if total <= 0 || windowSize <= 0 {
		return 0, 0
	}
	if total <= windowSize {
		return 0, total
	}
	selected = clamp(selected, 0, total-1)
	start := max(0, selected-windowSize/2)
	end := start + windowSize
	if end > total {
		end = total
		start = max(0, end-windowSize)
	}
	return start, end
}

func clamp(v, minV, maxV int) int {
	if maxV < minV {
		return minV
	}
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}
