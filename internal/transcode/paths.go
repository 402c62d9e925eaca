package transcode

import (
	"fmt"
	"path/filepath"
	"strings"
)

// trackBaseName names the per-speaker merged output of a batch export.
const trackBaseName = "track"

// SanitizeName reduces a display name to characters safe in file
// paths. Anything outside [A-Za-z0-9._-] becomes an underscore; empty
// results fall back to "speaker".
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	s := strings.Trim(b.String(), "._")
	if s == "" {
		return "speaker"
	}
	return s
}

// SpeakerDir returns the directory name for one speaker's segments.
// The speaker ID suffix keeps two participants with the same display
// name from colliding.
func SpeakerDir(displayName, speakerID string) string {
	return SanitizeName(displayName) + "_" + SanitizeName(speakerID)
}

// SessionDir returns the scratch directory for one session.
func SessionDir(root, sessionID string) string {
	return filepath.Join(root, SanitizeName(sessionID))
}

// SegmentFileName returns the zero-padded per-index file name, e.g.
// "segment_007.ogg".
func SegmentFileName(index int, f Format) string {
	return fmt.Sprintf("segment_%03d.%s", index, f.Extension())
}

// SegmentPath returns the full path for a segment. The (speaker,
// index) pair uniquely determines the path, so no file is ever written
// by two workers.
func SegmentPath(root, sessionID, displayName, speakerID string, index int, f Format) string {
	return filepath.Join(SessionDir(root, sessionID), SpeakerDir(displayName, speakerID), SegmentFileName(index, f))
}

// TrackPath returns the merged track file path for one speaker inside
// a session directory.
func TrackPath(root, sessionID, displayName, speakerID string, f Format) string {
	return filepath.Join(SessionDir(root, sessionID), SpeakerDir(displayName, speakerID), trackBaseName+"."+f.Extension())
}

// TrackFileIn returns the merged track path inside an existing speaker
// directory, for callers that hold the directory rather than the
// recordings root.
func TrackFileIn(speakerDir string, f Format) string {
	return filepath.Join(speakerDir, trackBaseName+"."+f.Extension())
}
