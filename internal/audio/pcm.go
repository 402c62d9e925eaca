package audio

import "time"

// PCM format constants for decoded voice audio. Every component that
// touches raw samples assumes this format.
const (
	// SampleRate is the decode sample rate in Hz.
	SampleRate = 48000

	// Channels is the number of interleaved channels.
	Channels = 2

	// BytesPerSample is the width of a single sample of one channel.
	BytesPerSample = 2

	// FrameDuration is the duration of one voice frame.
	FrameDuration = 20 * time.Millisecond

	// SamplesPerFrame is the per-channel sample count of one voice frame.
	SamplesPerFrame = 960

	// FrameSize is the byte size of one decoded voice frame.
	FrameSize = SamplesPerFrame * Channels * BytesPerSample

	// bytesPerSecond is the PCM data rate of the pipeline format.
	bytesPerSecond = SampleRate * Channels * BytesPerSample
)

// Duration returns the playback duration of n bytes of pipeline PCM.
func Duration(n int) time.Duration {
	return time.Duration(n) * time.Second / bytesPerSecond
}

// ByteCount returns the PCM byte count for a duration d, rounded down
// to a whole interleaved sample so the result never splits a frame of
// channels.
func ByteCount(d time.Duration) int {
	n := int(d * bytesPerSecond / time.Second)
	step := Channels * BytesPerSample
	return n - n%step
}
