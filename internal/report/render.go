package report

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// minWrapWidth keeps narrow terminals readable.
const minWrapWidth = 24

// Renderer renders markdown for terminals and recreates the renderer when wrap width changes.
type Renderer struct {
	style    string
	width    int
	renderer *glamour.TermRenderer
}

// NewRenderer builds one renderer for a glamour standard style ("dark", "light", "notty").
func NewRenderer(style string) *Renderer {
	style = strings.TrimSpace(style)
	if style == "" {
		style = "dark"
	}
	return &Renderer{style: style}
}

// Render converts markdown into ANSI-styled text. Render failures fall back to the raw markdown.
func (r *Renderer) Render(markdown string, width int) string {
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return ""
	}
	wrapWidth := max(width, minWrapWidth)
	if r.renderer == nil || r.width != wrapWidth {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(r.style),
			glamour.WithWordWrap(wrapWidth),
		)
		if err != nil {
			return markdown
		}
		r.renderer = renderer
		r.width = wrapWidth
	}
	rendered, err := r.renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimRight(rendered, "\n")
}
