package transcode

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/skald-audio/capture-service/internal/audio"
)

// Bridge invokes ffmpeg to encode pipeline PCM into the configured
// container format. A Bridge is stateless and safe for concurrent use;
// each call runs its own process.
type Bridge struct {
	bin     string
	format  Format
	quality Quality
}

// NewBridge creates a bridge for the given output format and quality.
func NewBridge(format Format, quality Quality) *Bridge {
	return &Bridge{bin: "ffmpeg", format: format, quality: quality}
}

// Format returns the bridge's output format.
func (b *Bridge) Format() Format {
	return b.format
}

// CheckBinary verifies that the ffmpeg binary is reachable.
func (b *Bridge) CheckBinary() error {
	if _, err := exec.LookPath(b.bin); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return nil
}

// Encode runs the buffer-then-encode strategy: frames are concatenated
// into a scratch WAV next to outPath, encoded in a single pass, and the
// scratch file is removed. Returns the encoded file size.
func (b *Bridge) Encode(ctx context.Context, frames [][]byte, outPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	scratch := outPath + ".scratch.wav"
	if _, err := audio.WriteWAV(scratch, frames); err != nil {
		return 0, fmt.Errorf("failed to write scratch file: %w", err)
	}
	defer os.Remove(scratch)

	if err := b.run(ctx, b.bufferedArgs(scratch, outPath)); err != nil {
		os.Remove(outPath)
		return 0, err
	}
	return fileSize(outPath)
}

// StreamEncode runs the streaming strategy over a closed segment's
// frames. Output is byte-identical to Encode for the same frames.
func (b *Bridge) StreamEncode(ctx context.Context, frames [][]byte, outPath string) (int64, error) {
	stream, err := b.StartStream(ctx, outPath)
	if err != nil {
		return 0, err
	}

	for _, frame := range frames {
		if err := stream.Write(frame); err != nil {
			stream.Abort()
			return 0, err
		}
	}
	return stream.Close()
}

// StartStream launches ffmpeg reading raw PCM from stdin and writing
// the encoded file to outPath.
func (b *Bridge) StartStream(ctx context.Context, outPath string) (*Stream, error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, b.bin, b.streamArgs(outPath)...)
	output := &strings.Builder{}
	cmd.Stdout = output
	cmd.Stderr = output

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open encoder stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	return &Stream{cmd: cmd, stdin: stdin, output: output, path: outPath}, nil
}

// MergeSegments concatenates already-encoded segment files into one
// track file, re-encoding with the bridge's output settings so mixed
// segment boundaries never leak into the container.
func (b *Bridge) MergeSegments(ctx context.Context, segmentPaths []string, outPath string) (int64, error) {
	if len(segmentPaths) == 0 {
		return 0, fmt.Errorf("no segments to merge")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	list := outPath + ".concat.txt"
	if err := writeConcatList(list, segmentPaths); err != nil {
		return 0, err
	}
	defer os.Remove(list)

	if err := b.run(ctx, b.mergeArgs(list, outPath)); err != nil {
		os.Remove(outPath)
		return 0, err
	}
	return fileSize(outPath)
}

// bufferedArgs builds the invocation for the buffer-then-encode path.
func (b *Bridge) bufferedArgs(scratch, outPath string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-f", "wav", "-i", scratch}
	args = append(args, outputArgs(b.format, b.quality)...)
	return append(args, outPath)
}

// streamArgs builds the invocation for the streaming path.
func (b *Bridge) streamArgs(outPath string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	args = append(args, rawInputArgs()...)
	args = append(args, "-i", "pipe:0")
	args = append(args, outputArgs(b.format, b.quality)...)
	return append(args, outPath)
}

// mergeArgs builds the invocation for the concat merge path.
func (b *Bridge) mergeArgs(list, outPath string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-f", "concat", "-safe", "0", "-i", list}
	args = append(args, outputArgs(b.format, b.quality)...)
	return append(args, outPath)
}

// rawInputArgs describes the pipeline PCM format to ffmpeg's raw
// demuxer.
func rawInputArgs() []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
	}
}

// run executes one ffmpeg invocation, capturing combined output for
// error reporting.
func (b *Bridge) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, b.bin, args...)
	var output strings.Builder
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, trimOutput(output.String()))
	}
	return nil
}

// writeConcatList writes an ffconcat list with quoted absolute paths.
func writeConcatList(path string, files []string) error {
	var sb strings.Builder
	sb.WriteString("ffconcat version 1.0\n")
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return fmt.Errorf("failed to resolve segment path: %w", err)
		}
		sb.WriteString("file '" + strings.ReplaceAll(abs, "'", `'\''`) + "'\n")
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}
	return nil
}

// trimOutput keeps ffmpeg's stderr tail readable inside error values.
func trimOutput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 512 {
		s = "..." + s[len(s)-512:]
	}
	return s
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat encoded file: %w", err)
	}
	return info.Size(), nil
}

// Stream is a running streaming-encode process. Frames written to it
// flow through ffmpeg's stdin; Write blocks when the encoder's input
// pipe is saturated and resumes when it drains.
type Stream struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	output *strings.Builder
	path   string
}

// Write feeds one PCM frame to the encoder.
func (s *Stream) Write(pcm []byte) error {
	if _, err := s.stdin.Write(pcm); err != nil {
		return fmt.Errorf("failed to write to encoder: %w", err)
	}
	return nil
}

// Close signals end of input, waits for the encoder to exit, and
// returns the encoded file size. Partial output is removed on failure.
func (s *Stream) Close() (int64, error) {
	if err := s.stdin.Close(); err != nil {
		s.cmd.Wait()
		os.Remove(s.path)
		return 0, fmt.Errorf("failed to close encoder stdin: %w", err)
	}

	if err := s.cmd.Wait(); err != nil {
		os.Remove(s.path)
		return 0, fmt.Errorf("ffmpeg failed: %w: %s", err, trimOutput(s.output.String()))
	}
	return fileSize(s.path)
}

// Abort kills the encoder and removes any partial output.
func (s *Stream) Abort() {
	s.stdin.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	os.Remove(s.path)
}
