// Package segment implements silence-gap segmentation of a speaker's
// decoded PCM stream. Frames accumulate into a segment until the gap
// since the previous frame exceeds the silence threshold; segments
// shorter than the minimum duration are discarded.
package segment
