// Package codec decodes per-speaker Opus voice streams into the
// pipeline PCM format.
package codec
