package capture

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const opusPayloadType = 111

// Stream is a captured local audio track fed by a frameSource.
// It implements core.LocalStream.
type Stream struct {
	track  *webrtc.TrackLocalStaticRTP
	src    frameSource
	state  trackState
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger

	seq  uint16
	ts   uint32
	ssrc uint32
}

func newStream(id string, src frameSource, tick time.Duration) (*Stream, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: sampleRate,
		Channels:  channels,
	}, "audio", "meshvoice-"+id)
	if err != nil {
		return nil, err
	}
	s := &Stream{
		track:  track,
		src:    src,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: log.With().Str("module", "capture").Str("stream", id).Logger(),
		seq:    uint16(rand.Uint32()),
		ts:     rand.Uint32(),
		ssrc:   rand.Uint32(),
	}
	go s.pump(tick)
	return s, nil
}

func (s *Stream) Track() webrtc.TrackLocal { return s.track }

func (s *Stream) Enabled() bool { return s.state.Get() == TrackStateLive }

func (s *Stream) SetEnabled(on bool) {
	if on {
		s.state.Set(TrackStateLive)
	} else {
		s.state.Set(TrackStateMuted)
	}
}

// Stop ends the pump and releases the source. Safe to call more than once.
func (s *Stream) Stop() {
	s.once.Do(func() {
		s.state.v.Store(int32(TrackStateStopped))
		close(s.stop)
		<-s.done
		s.logger.Info().Msg("capture released")
	})
}

func (s *Stream) State() TrackState { return s.state.Get() }

func (s *Stream) pump(tick time.Duration) {
	defer close(s.done)
	defer s.src.Close()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	first := true
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		payload, samples, err := s.src.Next()
		if err != nil {
			s.logger.Error().Err(err).Msg("capture source failed, stopping pump")
			return
		}
		switch s.state.Get() {
		case TrackStateStopped:
			return
		case TrackStateMuted:
			s.ts += samples
			first = true
			continue
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         first,
				PayloadType:    opusPayloadType,
				SequenceNumber: s.seq,
				Timestamp:      s.ts,
				SSRC:           s.ssrc,
			},
			Payload: payload,
		}
		s.seq++
		s.ts += samples
		first = false
		if err := s.track.WriteRTP(pkt); err != nil {
			s.logger.Debug().Err(err).Msg("write RTP")
		}
	}
}
