package capture

import "sync/atomic"

type TrackState int32

const (
	TrackStateLive TrackState = iota
	TrackStateMuted
	TrackStateStopped
)

// trackState is read by the pump goroutine and written by the owner.
type trackState struct {
	v atomic.Int32 // Zero by default (TrackStateLive)
}

func (s *trackState) Get() TrackState { return TrackState(s.v.Load()) }

// Set never revives a stopped track.
func (s *trackState) Set(to TrackState) {
	for {
		cur := s.v.Load()
		if TrackState(cur) == TrackStateStopped {
			return
		}
		if s.v.CompareAndSwap(cur, int32(to)) {
			return
		}
	}
}
