// Package capture produces the local audio stream sent to peers.
// There is no sound card here: the stream is either generated silence or
// an Ogg/Opus file played in a loop.
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/google/uuid"
)

const (
	SourceSilence = "silence"
	SourceOgg     = "ogg"
)

type Options struct {
	Source string
	File   string
	Tick   time.Duration
}

// Provider implements core.CaptureProvider.
type Provider struct {
	source string
	file   string
	tick   time.Duration
}

func NewProvider(opts Options) (*Provider, error) {
	switch opts.Source {
	case "", SourceSilence:
		opts.Source = SourceSilence
	case SourceOgg:
		if opts.File == "" {
			return nil, fmt.Errorf("capture source %q needs a file", SourceOgg)
		}
	default:
		return nil, fmt.Errorf("unknown capture source %q", opts.Source)
	}
	if opts.Tick <= 0 {
		opts.Tick = 20 * time.Millisecond
	}
	return &Provider{source: opts.Source, file: opts.File, tick: opts.Tick}, nil
}

func (p *Provider) Acquire(ctx context.Context) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var src frameSource = silenceSource{}
	if p.source == SourceOgg {
		ogg, err := openOgg(p.file)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrCaptureDenied, err)
		}
		src = ogg
	}
	s, err := newStream(uuid.NewString(), src, p.tick)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("%w: %v", core.ErrCaptureDenied, err)
	}
	return s, nil
}
