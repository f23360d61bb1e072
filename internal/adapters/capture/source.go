package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	sampleRate     = 48000
	channels       = 2
	samplesPerTick = sampleRate / 50 // 20ms
)

// opusSilence is a single 20ms Opus frame decoding to silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// frameSource yields Opus payloads and how many samples each covers.
type frameSource interface {
	Next() ([]byte, uint32, error)
	Close() error
}

type silenceSource struct{}

func (silenceSource) Next() ([]byte, uint32, error) { return opusSilence, samplesPerTick, nil }
func (silenceSource) Close() error                  { return nil }

// oggSource replays an Ogg/Opus file page by page, rewinding at EOF.
type oggSource struct {
	path        string
	file        *os.File
	reader      *oggreader.OggReader
	lastGranule uint64
}

func openOgg(path string) (*oggSource, error) {
	s := &oggSource{path: path}
	if err := s.rewind(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *oggSource) rewind() error {
	if s.file != nil {
		_ = s.file.Close()
	}
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	r, _, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("read ogg header: %w", err)
	}
	s.file, s.reader, s.lastGranule = f, r, 0
	return nil
}

func (s *oggSource) Next() ([]byte, uint32, error) {
	for attempt := 0; attempt < 2; attempt++ {
		page, header, err := s.reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if err := s.rewind(); err != nil {
				return nil, 0, err
			}
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		if bytes.HasPrefix(page, []byte("OpusTags")) {
			s.lastGranule = header.GranulePosition
			return s.Next()
		}
		samples := uint32(header.GranulePosition - s.lastGranule)
		s.lastGranule = header.GranulePosition
		if samples == 0 {
			samples = samplesPerTick
		}
		return page, samples, nil
	}
	return nil, 0, io.ErrUnexpectedEOF
}

func (s *oggSource) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
