package transcode

import (
	"fmt"
	"strings"
)

// Format selects the output container/codec.
type Format string

const (
	FormatWAV  Format = "wav"  // lossless PCM
	FormatFLAC Format = "flac" // lossless compressed
	FormatOGG  Format = "ogg"  // lossy Opus
)

// Quality selects a tier in the per-format bitrate/compression tables.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// flacCompressionLevels maps quality tiers to FLAC compression levels.
var flacCompressionLevels = map[Quality]string{
	QualityLow:    "0",
	QualityMedium: "5",
	QualityHigh:   "12",
}

// opusBitrates maps quality tiers to Opus target bitrates.
var opusBitrates = map[Quality]string{
	QualityLow:    "64k",
	QualityMedium: "96k",
	QualityHigh:   "128k",
}

// ParseFormat parses a configuration string into a Format. Matching is
// case-insensitive and ignores surrounding whitespace.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatWAV, FormatFLAC, FormatOGG:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// ParseQuality parses a configuration string into a Quality. Matching is
// case-insensitive and ignores surrounding whitespace.
func ParseQuality(s string) (Quality, error) {
	switch q := Quality(strings.ToLower(strings.TrimSpace(s))); q {
	case QualityLow, QualityMedium, QualityHigh:
		return q, nil
	}
	return "", fmt.Errorf("unknown quality %q", s)
}

// Extension returns the file extension without a leading dot.
func (f Format) Extension() string {
	return string(f)
}

// ContentType returns the MIME type for encoded files.
func (f Format) ContentType() string {
	switch f {
	case FormatFLAC:
		return "audio/flac"
	case FormatOGG:
		return "audio/ogg"
	default:
		return "audio/wav"
	}
}

// codecArgs returns the encoder arguments for the format at quality q.
func (f Format) codecArgs(q Quality) []string {
	switch f {
	case FormatFLAC:
		return []string{"-c:a", "flac", "-compression_level", flacCompressionLevels[q]}
	case FormatOGG:
		return []string{"-c:a", "libopus", "-b:a", opusBitrates[q]}
	default:
		return []string{"-c:a", "pcm_s16le"}
	}
}

// outputArgs returns the complete output-side argument list shared by
// every encode path. Identical output args are what make the buffered
// and streaming strategies byte-identical: metadata is stripped and
// bitexact muxing removes timestamps, encoder tags, and random ogg
// stream serials.
func outputArgs(f Format, q Quality) []string {
	args := []string{"-map_metadata", "-1", "-fflags", "+bitexact", "-flags:a", "+bitexact"}
	args = append(args, f.codecArgs(q)...)
	if f == FormatOGG {
		args = append(args, "-serial_offset", "1")
	}
	return append(args, "-f", string(f))
}
