package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

// wavHeaderSize is the byte size of the canonical 44-byte PCM header.
const wavHeaderSize = 44

// WAVHeader is the canonical RIFF/WAVE header for PCM data.
type WAVHeader struct {
	// RIFF chunk
	ChunkID   [4]byte // "RIFF"
	ChunkSize uint32  // file size - 8
	Format    [4]byte // "WAVE"

	// fmt chunk
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BytesPerSample
	BlockAlign    uint16 // NumChannels * BytesPerSample
	BitsPerSample uint16

	// data chunk
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

func newHeader(dataLen int) WAVHeader {
	h := WAVHeader{
		ChunkSize:     uint32(wavHeaderSize - 8 + dataLen),
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   Channels,
		SampleRate:    SampleRate,
		ByteRate:      SampleRate * Channels * BytesPerSample,
		BlockAlign:    Channels * BytesPerSample,
		BitsPerSample: BytesPerSample * 8,
		Subchunk2Size: uint32(dataLen),
	}
	copy(h.ChunkID[:], "RIFF")
	copy(h.Format[:], "WAVE")
	copy(h.Subchunk1ID[:], "fmt ")
	copy(h.Subchunk2ID[:], "data")
	return h
}

// EncodeWAV wraps raw pipeline PCM in a WAV container.
func EncodeWAV(pcm []byte) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, newHeader(len(pcm))); err != nil {
		return nil, fmt.Errorf("failed to encode WAV header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// WriteWAV writes PCM frames to path as one WAV file and returns the
// resulting file size.
func WriteWAV(path string, frames [][]byte) (int64, error) {
	var dataLen int
	for _, f := range frames {
		dataLen += len(f)
	}

	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create WAV file: %w", err)
	}
	defer out.Close()

	if err := binary.Write(out, binary.LittleEndian, newHeader(dataLen)); err != nil {
		return 0, fmt.Errorf("failed to write WAV header: %w", err)
	}
	for _, f := range frames {
		if _, err := out.Write(f); err != nil {
			return 0, fmt.Errorf("failed to write WAV data: %w", err)
		}
	}
	if err := out.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync WAV file: %w", err)
	}
	return int64(wavHeaderSize) + int64(dataLen), nil
}

// ParseWAVHeader parses and validates the header of a WAV file.
func ParseWAVHeader(data []byte) (*WAVHeader, error) {
	if len(data) < wavHeaderSize {
		return nil, fmt.Errorf("WAV data too short: %d bytes", len(data))
	}

	var h WAVHeader
	if err := binary.Read(bytes.NewReader(data[:wavHeaderSize]), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("failed to parse WAV header: %w", err)
	}

	if string(h.ChunkID[:]) != "RIFF" || string(h.Format[:]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file")
	}
	if string(h.Subchunk1ID[:]) != "fmt " {
		return nil, fmt.Errorf("missing fmt chunk")
	}
	if h.AudioFormat != 1 || h.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported WAV format: audio_format=%d bits=%d", h.AudioFormat, h.BitsPerSample)
	}
	return &h, nil
}

// WAVDuration returns the playback duration of an in-memory WAV file.
func WAVDuration(data []byte) (time.Duration, error) {
	h, err := ParseWAVHeader(data)
	if err != nil {
		return 0, err
	}
	if h.ByteRate == 0 {
		return 0, fmt.Errorf("invalid WAV byte rate")
	}
	return time.Duration(h.Subchunk2Size) * time.Second / time.Duration(h.ByteRate), nil
}
