package tui

import "strings"

// Option configures a Model.
type Option func(*Model)

// WithActor records who performs transitions made from the browser.
func WithActor(actor string) Option {
	return func(m *Model) {
		m.actor = strings.TrimSpace(actor)
	}
}

// WithKeyConfig applies binding overrides.
func WithKeyConfig(cfg KeyConfig) Option {
	return func(m *Model) {
		m.keys.applyConfig(cfg)
	}
}

// WithMarkdownStyle selects the glamour style for the packet view.
func WithMarkdownStyle(style string) Option {
	return func(m *Model) {
		m.markdownStyle = strings.TrimSpace(style)
	}
}
