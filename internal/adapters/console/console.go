// Package console renders room session updates as terminal lines.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dkeye/meshvoice/internal/app/session"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

// Printer is a session.Listener that writes one line per update.
type Printer struct {
	mu    sync.Mutex
	out   io.Writer
	st    styles
	known map[domain.SessionID]string
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{
		out:   out,
		st:    newStyles(out),
		known: make(map[domain.SessionID]string),
	}
}

// Listen adapts the printer to session.Options.Listener.
func (p *Printer) Listen(u session.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if line := p.render(u); line != "" {
		fmt.Fprintln(p.out, line)
	}
}

func (p *Printer) render(u session.Update) string {
	switch u.Kind {
	case session.UpdateStatus:
		switch u.Status {
		case core.StatusOpen:
			return p.st.ok.Render("● connected")
		case core.StatusConnecting:
			return p.st.muted.Render("○ connecting…")
		default:
			return p.st.warn.Render("○ disconnected, retrying")
		}
	case session.UpdateDirectory:
		return p.directory(u.Participants)
	case session.UpdateVoice:
		if len(u.Voice) == 0 {
			return p.st.muted.Render("voice: nobody")
		}
		parts := make([]string, 0, len(u.Voice))
		for _, m := range u.Voice {
			parts = append(parts, fmt.Sprintf("%s (%s)", m.Name, m.State))
		}
		return p.st.title.Render("voice: ") + strings.Join(parts, ", ")
	case session.UpdateMedia:
		line := "mic: " + u.Media.State
		if u.Media.Muted {
			line += ", muted"
		}
		return p.st.muted.Render(line)
	case session.UpdateChat:
		return p.chatLine(u.Chat)
	case session.UpdateNotice:
		if u.Notice.Level == session.NoticeError {
			return p.st.err.Render("✗ " + u.Notice.Text)
		}
		return p.st.warn.Render("! " + u.Notice.Text)
	case session.UpdateRemoteStream:
		name := p.known[u.Peer]
		if name == "" {
			name = string(u.Peer)
		}
		return p.st.ok.Render("♪ hearing " + name)
	}
	return ""
}

// directory reports arrivals and departures against the previous roster.
func (p *Printer) directory(list []domain.Participant) string {
	next := make(map[domain.SessionID]string, len(list))
	var lines []string
	for _, m := range list {
		next[m.ID] = m.Name
		if _, ok := p.known[m.ID]; !ok {
			lines = append(lines, p.st.ok.Render("+ ")+m.Name)
		}
	}
	for id, name := range p.known {
		if _, ok := next[id]; !ok {
			lines = append(lines, p.st.warn.Render("- ")+name)
		}
	}
	p.known = next
	return strings.Join(lines, "\n")
}

func (p *Printer) chatLine(m domain.ChatMessage) string {
	ts := p.st.muted.Render(m.Timestamp.Local().Format(time.TimeOnly))
	return fmt.Sprintf("%s %s %s", ts, p.st.sender.Render(domain.DisplayName(m.SenderName)+":"), m.Content)
}

// Who renders the roster table for a snapshot.
func (p *Printer) Who(snap session.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, p.whoTable(snap))
}

func (p *Printer) whoTable(snap session.Snapshot) string {
	voice := make(map[domain.SessionID]domain.VoiceMember, len(snap.Voice))
	for _, m := range snap.Voice {
		voice[m.ID] = m
	}
	rows := [][]string{{snap.Name + " (you)", "self", snap.Media.State}}
	for _, m := range snap.Participants {
		v, ok := voice[m.ID]
		state := "-"
		role := "-"
		if ok {
			state = v.State.String()
			role = string(v.Role)
		}
		rows = append(rows, []string{m.Name, role, state})
	}
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(p.st.border).
		Headers("Name", "Role", "Voice").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.st.header
			}
			return p.st.cell
		})
	title := p.st.title.Render(fmt.Sprintf("room %s · %s", snap.Room, snap.Status))
	return title + "\n" + tbl.Render()
}
