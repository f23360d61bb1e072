// Package media tracks whether the local participant is in voice and owns
// the captured stream while it is.
package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type State int

const (
	StateInactive State = iota
	StateAcquiring
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateAcquiring:
		return "acquiring"
	case StateActive:
		return "active"
	}
	return "unknown"
}

var ErrBusy = errors.New("voice already joining or active")

// Result is the outcome of one capture acquisition.
type Result struct {
	attempt uint64
	Stream  core.LocalStream
	Err     error
}

// Session is owned by the room session loop; it is not threadsafe.
type Session struct {
	provider core.CaptureProvider
	state    State
	attempt  uint64
	cancel   context.CancelFunc
	stream   core.LocalStream
}

func New(provider core.CaptureProvider) *Session {
	return &Session{provider: provider}
}

func (s *Session) State() State { return s.state }

// Begin starts acquiring capture in the background. done is called exactly
// once from another goroutine and must hand the Result back to the owner,
// which then calls Complete.
func (s *Session) Begin(ctx context.Context, done func(Result)) error {
	if s.state != StateInactive {
		return ErrBusy
	}
	s.attempt++
	s.state = StateAcquiring
	actx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	attempt := s.attempt
	go func() {
		stream, err := s.provider.Acquire(actx)
		done(Result{attempt: attempt, Stream: stream, Err: err})
	}()
	return nil
}

// Complete applies an acquisition result. It reports true when voice became
// active. Results of abandoned attempts are released and ignored.
func (s *Session) Complete(r Result) (bool, error) {
	if r.attempt != s.attempt || s.state != StateAcquiring {
		if r.Stream != nil {
			r.Stream.Stop()
		}
		log.Debug().Str("module", "media").Uint64("attempt", r.attempt).Msg("stale capture result released")
		return false, nil
	}
	s.cancel()
	s.cancel = nil
	if r.Err != nil || r.Stream == nil {
		s.state = StateInactive
		err := r.Err
		if err == nil {
			err = errors.New("no stream")
		}
		if !errors.Is(err, core.ErrCaptureDenied) {
			err = fmt.Errorf("%w: %v", core.ErrCaptureDenied, err)
		}
		return false, err
	}
	s.stream = r.Stream
	s.state = StateActive
	log.Info().Str("module", "media").Msg("capture active")
	return true, nil
}

// Leave stops capture or abandons a pending acquisition. It reports whether
// voice was active.
func (s *Session) Leave() bool {
	switch s.state {
	case StateAcquiring:
		s.cancel()
		s.cancel = nil
		s.attempt++
		s.state = StateInactive
		return false
	case StateActive:
		s.stream.Stop()
		s.stream = nil
		s.state = StateInactive
		log.Info().Str("module", "media").Msg("capture stopped")
		return true
	}
	return false
}

// Track returns the read-only view handed to peers, or nil when inactive.
func (s *Session) Track() core.TrackSource {
	if s.state != StateActive {
		return nil
	}
	return trackView{s.stream}
}

// ToggleMute flips the capture track. ok is false when there is no capture.
func (s *Session) ToggleMute() (muted bool, ok bool) {
	if s.state != StateActive {
		return false, false
	}
	enabled := !s.stream.Enabled()
	s.stream.SetEnabled(enabled)
	return !enabled, true
}

func (s *Session) Muted() bool {
	return s.state == StateActive && !s.stream.Enabled()
}

type trackView struct {
	src core.TrackSource
}

func (v trackView) Track() webrtc.TrackLocal { return v.src.Track() }
