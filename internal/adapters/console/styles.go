package console

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	primary = lipgloss.Color("#22d3ee")
	success = lipgloss.Color("#10B981")
	warning = lipgloss.Color("#F59E0B")
	failure = lipgloss.Color("#EF4444")
	muted   = lipgloss.Color("#6B7280")
)

type styles struct {
	title  lipgloss.Style
	ok     lipgloss.Style
	warn   lipgloss.Style
	err    lipgloss.Style
	muted  lipgloss.Style
	sender lipgloss.Style
	header lipgloss.Style
	cell   lipgloss.Style
	border lipgloss.Style
}

// newStyles binds the palette to w, so colors are dropped when w is not a terminal.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:  r.NewStyle().Bold(true).Foreground(primary),
		ok:     r.NewStyle().Foreground(success).Bold(true),
		warn:   r.NewStyle().Foreground(warning),
		err:    r.NewStyle().Foreground(failure).Bold(true),
		muted:  r.NewStyle().Foreground(muted),
		sender: r.NewStyle().Foreground(primary).Bold(true),
		header: r.NewStyle().Foreground(primary).Bold(true).Padding(0, 1),
		cell:   r.NewStyle().Padding(0, 1),
		border: r.NewStyle().Foreground(primary),
	}
}
