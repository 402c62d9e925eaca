package audio

import (
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	tests := []struct {
		name  string
		bytes int
		want  time.Duration
	}{
		{"empty", 0, 0},
		{"one frame", FrameSize, FrameDuration},
		{"one second", SampleRate * Channels * BytesPerSample, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Duration(tt.bytes); got != tt.want {
				t.Errorf("Duration(%d) = %v, want %v", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestByteCount(t *testing.T) {
	if got := ByteCount(FrameDuration); got != FrameSize {
		t.Errorf("ByteCount(%v) = %d, want %d", FrameDuration, got, FrameSize)
	}
	if got := ByteCount(time.Second); got != SampleRate*Channels*BytesPerSample {
		t.Errorf("ByteCount(1s) = %d, want %d", got, SampleRate*Channels*BytesPerSample)
	}

	// Results must stay aligned to whole interleaved samples.
	if got := ByteCount(100 * time.Microsecond); got%(Channels*BytesPerSample) != 0 {
		t.Errorf("ByteCount(100µs) = %d, not sample aligned", got)
	}
}

func TestDurationByteCountRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{FrameDuration, 500 * time.Millisecond, 2 * time.Second} {
		if got := Duration(ByteCount(d)); got != d {
			t.Errorf("Duration(ByteCount(%v)) = %v", d, got)
		}
	}
}
