// Package audio defines the PCM sample format used across the capture
// pipeline and provides WAV container helpers for scratch files.
//
// All pipeline audio is little-endian signed 16-bit PCM, 48 kHz, stereo.
package audio
