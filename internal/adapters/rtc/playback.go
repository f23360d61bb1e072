package rtc

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// rtpSink is where remote packets end up.
type rtpSink interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

type drain struct {
	src     *webrtc.TrackRemote
	sink    rtpSink
	packets atomic.Uint64
	cancel  context.CancelFunc
}

// loop reads RTP packets from the remote track until it ends.
func (d *drain) loop(ctx context.Context, logger *zerolog.Logger) {
	defer func() {
		if d.sink != nil {
			if err := d.sink.Close(); err != nil {
				logger.Error().Err(err).Msg("close recording")
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("playback ctx done")
			return
		default:
		}
		pkt, _, err := d.src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("remote track ended")
			return
		}
		d.packets.Add(1)
		if d.sink == nil {
			continue
		}
		if err := d.sink.WriteRTP(pkt); err != nil {
			logger.Error().Err(err).Msg("recording write error, dropping sink")
			_ = d.sink.Close()
			d.sink = nil
		}
	}
}

// Playback drains remote audio, one drain per remote participant.
// With a directory set, each participant's audio is recorded as Ogg/Opus.
type Playback struct {
	dir string

	mu     sync.Mutex
	drains map[domain.SessionID]*drain
}

func NewPlayback(dir string) *Playback {
	return &Playback{dir: dir, drains: make(map[domain.SessionID]*drain)}
}

// Start begins draining track for sid, replacing any previous drain.
func (p *Playback) Start(ctx context.Context, sid domain.SessionID, track *webrtc.TrackRemote) {
	logger := log.With().Str("module", "rtc.playback").Str("peer", string(sid)).Logger()
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		logger.Warn().Str("kind", track.Kind().String()).Msg("ignoring non-audio track")
		return
	}
	dctx, cancel := context.WithCancel(ctx)
	d := &drain{src: track, cancel: cancel}
	if p.dir != "" {
		name := filepath.Join(p.dir, fmt.Sprintf("%s-%d.ogg", sid, track.SSRC()))
		w, err := oggwriter.New(name, 48000, 2)
		if err != nil {
			logger.Error().Err(err).Str("file", name).Msg("cannot record remote audio")
		} else {
			d.sink = w
			logger.Info().Str("file", name).Msg("recording remote audio")
		}
	}

	p.mu.Lock()
	if old, ok := p.drains[sid]; ok {
		logger.Info().Msg("replacing existing drain")
		old.cancel()
	}
	p.drains[sid] = d
	p.mu.Unlock()

	go d.loop(dctx, &logger)
}

func (p *Playback) Stop(sid domain.SessionID) {
	p.mu.Lock()
	d, ok := p.drains[sid]
	delete(p.drains, sid)
	p.mu.Unlock()
	if ok {
		d.cancel()
	}
}

// Packets reports how many RTP packets were received from sid.
func (p *Playback) Packets(sid domain.SessionID) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.drains[sid]; ok {
		return d.packets.Load()
	}
	return 0
}
