// Package protocol implements parsing and encoding of the binary
// message format spoken by the voice gateway, covering speaker
// announcements and per-speaker Opus audio frames.
package protocol
