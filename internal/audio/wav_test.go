package audio

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	pcm := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, SamplesPerFrame)

	data, err := EncodeWAV(pcm)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	if len(data) != wavHeaderSize+len(pcm) {
		t.Errorf("encoded size = %d, want %d", len(data), wavHeaderSize+len(pcm))
	}

	h, err := ParseWAVHeader(data)
	if err != nil {
		t.Fatalf("ParseWAVHeader failed: %v", err)
	}
	if h.SampleRate != SampleRate {
		t.Errorf("sample rate = %d, want %d", h.SampleRate, SampleRate)
	}
	if h.NumChannels != Channels {
		t.Errorf("channels = %d, want %d", h.NumChannels, Channels)
	}
	if h.Subchunk2Size != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", h.Subchunk2Size, len(pcm))
	}
	if !bytes.Equal(data[wavHeaderSize:], pcm) {
		t.Error("payload does not match input PCM")
	}
}

func TestWriteWAV(t *testing.T) {
	frames := [][]byte{
		bytes.Repeat([]byte{0x11}, FrameSize),
		bytes.Repeat([]byte{0x22}, FrameSize),
	}

	path := filepath.Join(t.TempDir(), "scratch.wav")
	size, err := WriteWAV(path, frames)
	if err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read back file: %v", err)
	}
	if int64(len(data)) != size {
		t.Errorf("reported size %d, file size %d", size, len(data))
	}

	d, err := WAVDuration(data)
	if err != nil {
		t.Fatalf("WAVDuration failed: %v", err)
	}
	if d != 2*FrameDuration {
		t.Errorf("duration = %v, want %v", d, 2*FrameDuration)
	}
}

func TestParseWAVHeaderErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("RIFF")},
		{"wrong magic", bytes.Repeat([]byte{0x00}, wavHeaderSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseWAVHeader(tt.data); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
