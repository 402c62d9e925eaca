// Package transcode bridges the capture pipeline to an external ffmpeg
// process. It encodes accumulated PCM into the configured container
// format either in one buffered pass over a scratch file or by
// streaming frames through stdin, and merges encoded segments into
// per-speaker track files for batch export. Both encode strategies
// produce byte-identical output for identical input.
package transcode
