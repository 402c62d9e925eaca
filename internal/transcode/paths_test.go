package transcode

import (
	"path/filepath"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain", input: "alice", expected: "alice"},
		{name: "mixed case kept", input: "Alice", expected: "Alice"},
		{name: "spaces replaced", input: "alice smith", expected: "alice_smith"},
		{name: "path separators replaced", input: "../etc/passwd", expected: "etc_passwd"},
		{name: "unicode replaced", input: "müller", expected: "m_ller"},
		{name: "dots and dashes kept", input: "a.b-c_d", expected: "a.b-c_d"},
		{name: "leading dots trimmed", input: "..hidden", expected: "hidden"},
		{name: "empty falls back", input: "", expected: "speaker"},
		{name: "all invalid falls back", input: "///", expected: "speaker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeName(tt.input); got != tt.expected {
				t.Errorf("SanitizeName(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSpeakerDir(t *testing.T) {
	tests := []struct {
		name        string
		displayName string
		speakerID   string
		expected    string
	}{
		{name: "plain", displayName: "alice", speakerID: "1001", expected: "alice_1001"},
		{name: "unsafe display name", displayName: "a/b c", speakerID: "42", expected: "a_b_c_42"},
		{name: "empty display name", displayName: "", speakerID: "42", expected: "speaker_42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SpeakerDir(tt.displayName, tt.speakerID); got != tt.expected {
				t.Errorf("SpeakerDir(%q, %q) = %q, expected %q",
					tt.displayName, tt.speakerID, got, tt.expected)
			}
		})
	}
}

func TestSegmentPath(t *testing.T) {
	got := SegmentPath("/data/recordings", "sess-1", "alice", "1001", 7, FormatFLAC)
	expected := filepath.Join("/data/recordings", "sess-1", "alice_1001", "segment_007.flac")
	if got != expected {
		t.Errorf("SegmentPath = %q, expected %q", got, expected)
	}
}

func TestSegmentFileNamePadding(t *testing.T) {
	tests := []struct {
		index    int
		expected string
	}{
		{0, "segment_000.wav"},
		{7, "segment_007.wav"},
		{42, "segment_042.wav"},
		{1234, "segment_1234.wav"},
	}

	for _, tt := range tests {
		if got := SegmentFileName(tt.index, FormatWAV); got != tt.expected {
			t.Errorf("SegmentFileName(%d) = %q, expected %q", tt.index, got, tt.expected)
		}
	}
}

func TestTrackPath(t *testing.T) {
	got := TrackPath("/data/recordings", "sess-1", "bob", "2002", FormatOGG)
	expected := filepath.Join("/data/recordings", "sess-1", "bob_2002", "track.ogg")
	if got != expected {
		t.Errorf("TrackPath = %q, expected %q", got, expected)
	}
}

func TestSessionDir(t *testing.T) {
	got := SessionDir("/data/recordings", "sess-9")
	expected := filepath.Join("/data/recordings", "sess-9")
	if got != expected {
		t.Errorf("SessionDir = %q, expected %q", got, expected)
	}
}
