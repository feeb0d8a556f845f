package tui

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"charm.land/bubbles/v2/key"
)

// keyMap represents the queue browser bindings.
type keyMap struct {
	quit          key.Binding
	reload        key.Binding
	toggleHelp    key.Binding
	moveUp        key.Binding
	moveDown      key.Binding
	packetInfo    key.Binding
	markProcessed key.Binding
	markBlocked   key.Binding
	cycleFilter   key.Binding
	confirm       key.Binding
	cancel        key.Binding
}

// KeyConfig carries optional binding overrides. Blank values keep the defaults.
type KeyConfig struct {
	MarkProcessed string
	MarkBlocked   string
	CycleFilter   string
}

// newKeyMap constructs the default key map.
func newKeyMap() keyMap {
	return keyMap{
		quit:          key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		reload:        key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
		toggleHelp:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
		moveUp:        key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "entry up")),
		moveDown:      key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "entry down")),
		packetInfo:    key.NewBinding(key.WithKeys("i", "enter"), key.WithHelp("i/enter", "packet info")),
		markProcessed: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "mark processed")),
		markBlocked:   key.NewBinding(key.WithKeys("b"), key.WithHelp("b", "mark blocked")),
		cycleFilter:   key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "cycle state filter")),
		confirm:       key.NewBinding(key.WithKeys("y", "enter"), key.WithHelp("y", "confirm")),
		cancel:        key.NewBinding(key.WithKeys("n", "esc"), key.WithHelp("n/esc", "cancel")),
	}
}

// applyConfig rebinds the configurable actions.
func (k *keyMap) applyConfig(cfg KeyConfig) {
	configureBinding(&k.markProcessed, cfg.MarkProcessed, "p", "mark processed")
	configureBinding(&k.markBlocked, cfg.MarkBlocked, "b", "mark blocked")
	configureBinding(&k.cycleFilter, cfg.CycleFilter, "f", "cycle state filter")
}

// configureBinding replaces keys and help text on one binding.
func configureBinding(b *key.Binding, raw, fallback, desc string) {
	keys, help := parseBindingKeys(raw, fallback)
	b.SetKeys(keys...)
	b.SetHelp(help, desc)
}

// parseBindingKeys turns one configured key into matcher keys and a help label.
func parseBindingKeys(raw, fallback string) ([]string, string) {
	value := raw
	if strings.TrimSpace(value) == "" && value != " " {
		value = fallback
	}
	if value == " " || strings.EqualFold(strings.TrimSpace(value), "space") {
		return []string{" ", "space"}, "space"
	}
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) == 1 {
		r, _ := utf8.DecodeRuneInString(value)
		if unicode.IsUpper(r) {
			return []string{value, "shift+" + string(unicode.ToLower(r))}, value
		}
		return []string{value}, value
	}
	return []string{strings.ToLower(value)}, value
}

// ShortHelp handles short help.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.packetInfo, k.markProcessed, k.markBlocked, k.cycleFilter, k.toggleHelp, k.quit}
}

// FullHelp handles full help.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.moveUp, k.moveDown, k.packetInfo, k.cycleFilter},
		{k.markProcessed, k.markBlocked, k.confirm, k.cancel},
		{k.reload, k.toggleHelp, k.quit},
	}
}
