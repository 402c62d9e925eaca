package codec

import (
	"bytes"
	"testing"

	"github.com/skald-audio/capture-service/internal/audio"
)

func TestPCMBytes(t *testing.T) {
	samples := []int16{0, 1, -1, 256, -32768, 32767}

	got := pcmBytes(samples)
	want := []byte{
		0x00, 0x00, // 0
		0x01, 0x00, // 1
		0xFF, 0xFF, // -1
		0x00, 0x01, // 256
		0x00, 0x80, // -32768
		0xFF, 0x7F, // 32767
	}

	if !bytes.Equal(got, want) {
		t.Errorf("pcmBytes(%v) = %v, want %v", samples, got, want)
	}
}

func TestPCMBytesFrameSize(t *testing.T) {
	samples := make([]int16, audio.SamplesPerFrame*audio.Channels)

	if got := len(pcmBytes(samples)); got != audio.FrameSize {
		t.Errorf("full frame yields %d bytes, want %d", got, audio.FrameSize)
	}
}
