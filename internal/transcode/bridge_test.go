package transcode

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// findInputEnd returns the index just past the "-i <input>" pair, which
// separates input-side args from output-side args in an invocation.
func findInputEnd(t *testing.T, args []string) int {
	t.Helper()
	for i, a := range args {
		if a == "-i" {
			return i + 2
		}
	}
	t.Fatalf("no -i flag in args: %v", args)
	return -1
}

func TestEncodeStrategiesShareOutputArgs(t *testing.T) {
	// Both strategies must produce byte-identical files for the same
	// input, so everything after the input section has to match.
	for _, f := range []Format{FormatWAV, FormatFLAC, FormatOGG} {
		for _, q := range []Quality{QualityLow, QualityMedium, QualityHigh} {
			b := NewBridge(f, q)

			buffered := b.bufferedArgs("/tmp/scratch.wav", "/tmp/out."+f.Extension())
			streaming := b.streamArgs("/tmp/out." + f.Extension())

			bufTail := buffered[findInputEnd(t, buffered):]
			streamTail := streaming[findInputEnd(t, streaming):]

			if !reflect.DeepEqual(bufTail, streamTail) {
				t.Errorf("format %v quality %v: output args diverge\nbuffered:  %v\nstreaming: %v",
					f, q, bufTail, streamTail)
			}
		}
	}
}

func TestStreamArgsDescribePipelinePCM(t *testing.T) {
	b := NewBridge(FormatFLAC, QualityMedium)
	joined := strings.Join(b.streamArgs("/tmp/out.flac"), " ")

	for _, want := range []string{"-f s16le", "-ar 48000", "-ac 2", "-i pipe:0"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected stream args to contain %q, got %q", want, joined)
		}
	}
}

func TestBufferedArgsReadScratchWAV(t *testing.T) {
	b := NewBridge(FormatOGG, QualityHigh)
	args := b.bufferedArgs("/tmp/seg.ogg.scratch.wav", "/tmp/seg.ogg")
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-f wav -i /tmp/seg.ogg.scratch.wav") {
		t.Errorf("expected scratch WAV input, got %q", joined)
	}
	if args[len(args)-1] != "/tmp/seg.ogg" {
		t.Errorf("expected output path last, got %q", args[len(args)-1])
	}
}

func TestMergeArgsUseConcatDemuxer(t *testing.T) {
	b := NewBridge(FormatWAV, QualityMedium)
	args := b.mergeArgs("/tmp/track.wav.concat.txt", "/tmp/track.wav")
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-f concat -safe 0 -i /tmp/track.wav.concat.txt") {
		t.Errorf("expected concat demuxer input, got %q", joined)
	}

	// Merged tracks re-encode with the same output settings as segments.
	mergeTail := args[findInputEnd(t, args):]
	segTail := b.streamArgs("/tmp/track.wav")[findInputEnd(t, b.streamArgs("/tmp/track.wav")):]
	if !reflect.DeepEqual(mergeTail, segTail) {
		t.Errorf("merge output args diverge from segment output args\nmerge:   %v\nsegment: %v",
			mergeTail, segTail)
	}
}

func TestWriteConcatList(t *testing.T) {
	dir := t.TempDir()
	listPath := filepath.Join(dir, "list.txt")

	segments := []string{
		filepath.Join(dir, "segment_000.wav"),
		filepath.Join(dir, "o'hara.wav"),
	}
	if err := writeConcatList(listPath, segments); err != nil {
		t.Fatalf("writeConcatList failed: %v", err)
	}

	data, err := os.ReadFile(listPath)
	if err != nil {
		t.Fatalf("failed to read list: %v", err)
	}
	content := string(data)

	if !strings.HasPrefix(content, "ffconcat version 1.0\n") {
		t.Errorf("missing ffconcat header: %q", content)
	}
	if !strings.Contains(content, "file '"+segments[0]+"'") {
		t.Errorf("missing first segment entry: %q", content)
	}
	if !strings.Contains(content, `'\''`) {
		t.Errorf("apostrophe not escaped: %q", content)
	}

	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) != 3 {
		t.Errorf("expected header plus two entries, got %d lines", len(lines))
	}
}

func TestTrimOutput(t *testing.T) {
	if got := trimOutput("  short error  "); got != "short error" {
		t.Errorf("expected trimmed string, got %q", got)
	}

	long := strings.Repeat("x", 1000) + "tail"
	got := trimOutput(long)
	if len(got) > 520 {
		t.Errorf("expected bounded output, got %d bytes", len(got))
	}
	if !strings.HasSuffix(got, "tail") {
		t.Errorf("expected tail preserved, got %q", got[len(got)-20:])
	}
	if !strings.HasPrefix(got, "...") {
		t.Errorf("expected truncation marker, got %q", got[:8])
	}
}

func TestCheckBinaryMissing(t *testing.T) {
	b := NewBridge(FormatWAV, QualityMedium)
	b.bin = "definitely-not-a-real-binary-1b2c3d"

	if err := b.CheckBinary(); err == nil {
		t.Error("expected error for missing binary, got none")
	}
}
