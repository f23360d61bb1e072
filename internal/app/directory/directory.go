// Package directory keeps the local view of who is in the room and who is
// in voice. It is fed only by control-channel events and is not threadsafe:
// the room session loop owns it.
package directory

import (
	"slices"

	"github.com/dkeye/meshvoice/internal/domain"
)

type Directory struct {
	self    domain.SessionID
	names   map[domain.SessionID]string
	order   []domain.SessionID
	voice   map[domain.SessionID]struct{}
	voiceAt []domain.SessionID
}

func New() *Directory {
	d := &Directory{}
	d.Reset()
	return d
}

// Reset forgets everything, including the local id.
func (d *Directory) Reset() {
	d.self = ""
	d.names = make(map[domain.SessionID]string)
	d.order = nil
	d.voice = make(map[domain.SessionID]struct{})
	d.voiceAt = nil
}

// Seed replaces the room view with a relay snapshot. The local session is
// never listed as remote.
func (d *Directory) Seed(self domain.SessionID, participants []domain.Participant) {
	d.Reset()
	d.self = self
	for _, p := range participants {
		d.Join(p)
	}
}

func (d *Directory) Self() domain.SessionID { return d.self }

// Join records a remote participant. It reports whether the id was new;
// a known id only gets its name refreshed.
func (d *Directory) Join(p domain.Participant) bool {
	if p.ID == "" || p.ID == d.self {
		return false
	}
	name := domain.DisplayName(p.Name)
	if _, ok := d.names[p.ID]; ok {
		d.names[p.ID] = name
		return false
	}
	d.names[p.ID] = name
	d.order = append(d.order, p.ID)
	return true
}

// Leave removes a participant from the room and from voice.
func (d *Directory) Leave(id domain.SessionID) bool {
	d.UnmarkVoice(id)
	if _, ok := d.names[id]; !ok {
		return false
	}
	delete(d.names, id)
	d.order = slices.DeleteFunc(d.order, func(x domain.SessionID) bool { return x == id })
	return true
}

func (d *Directory) Contains(id domain.SessionID) bool {
	_, ok := d.names[id]
	return ok
}

func (d *Directory) Name(id domain.SessionID) (string, bool) {
	n, ok := d.names[id]
	return n, ok
}

// Rename updates a present participant's display name.
func (d *Directory) Rename(id domain.SessionID, name string) {
	if _, ok := d.names[id]; ok {
		d.names[id] = domain.DisplayName(name)
	}
}

// Participants lists remote participants in join order.
func (d *Directory) Participants() []domain.Participant {
	out := make([]domain.Participant, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, domain.Participant{ID: id, Name: d.names[id]})
	}
	return out
}

func (d *Directory) MarkVoice(id domain.SessionID) bool {
	if id == "" || id == d.self {
		return false
	}
	if _, ok := d.voice[id]; ok {
		return false
	}
	d.voice[id] = struct{}{}
	d.voiceAt = append(d.voiceAt, id)
	return true
}

func (d *Directory) UnmarkVoice(id domain.SessionID) bool {
	if _, ok := d.voice[id]; !ok {
		return false
	}
	delete(d.voice, id)
	d.voiceAt = slices.DeleteFunc(d.voiceAt, func(x domain.SessionID) bool { return x == id })
	return true
}

// ClearVoice drops all voice membership, keeping room presence.
func (d *Directory) ClearVoice() {
	d.voice = make(map[domain.SessionID]struct{})
	d.voiceAt = nil
}

func (d *Directory) InVoice(id domain.SessionID) bool {
	_, ok := d.voice[id]
	return ok
}

// Voice lists voice members in the order they were marked.
func (d *Directory) Voice() []domain.SessionID {
	return slices.Clone(d.voiceAt)
}
