package core

import (
	"sort"
	"sync"

	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

type roomEntry struct {
	seq uint64
	ms  MemberSession
}

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room  *domain.Room
	mu    sync.RWMutex
	seq   uint64
	bySID map[domain.SessionID]roomEntry
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:  room,
		bySID: make(map[domain.SessionID]roomEntry),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *roomImpl) AddMember(sid domain.SessionID, ms MemberSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.bySID[sid] = roomEntry{seq: r.seq, ms: ms}
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Str("name", ms.Meta().Name).Msg("member added")
}

func (r *roomImpl) RemoveMember(sid domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[sid]; !ok {
		return
	}
	delete(r.bySID, sid)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Msg("member removed")
}

func (r *roomImpl) Broadcast(from domain.SessionID, data Frame, includeSender bool) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for sid, e := range r.bySID {
		if sid == from && !includeSender {
			continue
		}
		if err := e.ms.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, e.ms)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) SendTo(sid domain.SessionID, data Frame) (PublishResult, error) {
	r.mu.RLock()
	e, ok := r.bySID[sid]
	r.mu.RUnlock()
	if !ok {
		return PublishResult{}, ErrUnknownMember
	}
	if err := e.ms.Signal().TrySend(data); err != nil {
		return PublishResult{Dropped: []MemberSession{e.ms}}, nil
	}
	return PublishResult{SendTo: 1}, nil
}

func (r *roomImpl) MembersSnapshot() []domain.Participant {
	r.mu.RLock()
	entries := make([]roomEntry, 0, len(r.bySID))
	for _, e := range r.bySID {
		entries = append(entries, e)
	}
	r.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]domain.Participant, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e.ms.Meta())
	}
	return out
}
