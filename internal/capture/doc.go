// Package capture implements the per-channel recording pipeline. A
// manager owns one session per voice channel; each session fans
// incoming gateway traffic out to per-speaker tracks that decode Opus
// frames, split them into silence-bounded segments, encode closed
// segments through ffmpeg, and either upload them as they close
// (streaming mode) or retain them for a batch export at session stop.
package capture
