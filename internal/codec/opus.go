package codec

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"

	"github.com/skald-audio/capture-service/internal/audio"
)

// Decoder decodes one speaker's Opus stream into pipeline PCM bytes.
// A Decoder carries codec state between frames and is not safe for
// concurrent use; create one per speaker stream.
type Decoder interface {
	Decode(opus []byte) ([]byte, error)
}

// Factory builds a fresh Decoder for a new speaker stream.
type Factory func() (Decoder, error)

// OpusDecoder wraps a libopus decoder configured for the pipeline
// format (48 kHz stereo).
type OpusDecoder struct {
	dec *gopus.Decoder
}

var _ Decoder = (*OpusDecoder)(nil)

// NewOpusDecoder creates a decoder for one speaker stream.
func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(audio.SampleRate, audio.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec}, nil
}

// NewOpus is a Factory returning OpusDecoder instances.
func NewOpus() (Decoder, error) {
	return NewOpusDecoder()
}

// Decode decodes one Opus frame into interleaved little-endian s16
// PCM. A standard 20 ms voice frame yields audio.FrameSize bytes.
func (d *OpusDecoder) Decode(opus []byte) ([]byte, error) {
	if len(opus) == 0 {
		return nil, fmt.Errorf("empty opus frame")
	}

	samples, err := d.dec.Decode(opus, audio.SamplesPerFrame, false)
	if err != nil {
		return nil, fmt.Errorf("failed to decode opus frame: %w", err)
	}
	return pcmBytes(samples), nil
}

// pcmBytes converts interleaved int16 samples to little-endian bytes.
func pcmBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*audio.BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}
