package protocol

import (
	"encoding/binary"
	"fmt"
)

// Wire constants for the voice gateway feed. Each message arrives as a
// single binary WebSocket frame starting with a one-byte type.
const (
	// Message types
	MsgTypeSpeaking = 0x01 // speaker identity announcement
	MsgTypeAudio    = 0x02 // one Opus voice frame

	// Flag bits carried by speaking messages
	FlagBot = 0x01

	// SequenceSize is the width of the audio sequence counter.
	SequenceSize = 4

	// Minimum payload sizes after the type byte
	speakingPayloadMin = 4 // id len + 1-byte id + name len + flags
	audioPayloadMin    = 6 // id len + 1-byte id + sequence

	// MaxSpeakerIDLen bounds the speaker ID field (one length byte).
	MaxSpeakerIDLen = 255
	// MaxDisplayNameLen bounds the display name field (one length byte).
	MaxDisplayNameLen = 255
)

// SpeakingEvent announces that a speaker has an active voice stream.
// Layout: [Type:1][IDLen:1][SpeakerID:n][NameLen:1][DisplayName:m][Flags:1]
type SpeakingEvent struct {
	SpeakerID   string // stable per-user identifier
	DisplayName string // name shown in the channel roster
	Bot         bool   // set when the speaker is an automated account
}

// AudioFrame carries one encoded Opus frame for a speaker.
// Layout: [Type:1][IDLen:1][SpeakerID:n][Sequence:4][Opus:rest]
type AudioFrame struct {
	SpeakerID string
	Sequence  uint32 // per-speaker frame counter
	Opus      []byte // encoded Opus payload (may be empty)
}

// Message is one decoded gateway message.
type Message struct {
	Type     uint8
	Speaking *SpeakingEvent // only set for speaking messages
	Audio    *AudioFrame    // only set for audio messages
}

// ParseMessage decodes a complete gateway message (type byte + payload).
func ParseMessage(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty gateway message")
	}

	msg := &Message{Type: data[0]}

	switch data[0] {
	case MsgTypeSpeaking:
		ev, err := ParseSpeakingPayload(data[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to parse speaking payload: %w", err)
		}
		msg.Speaking = ev

	case MsgTypeAudio:
		frame, err := ParseAudioPayload(data[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		msg.Audio = frame

	default:
		return nil, fmt.Errorf("unknown message type: 0x%02x", data[0])
	}

	return msg, nil
}

// ParseSpeakingPayload decodes a speaking message payload (the bytes
// after the type byte). Trailing bytes are rejected.
func ParseSpeakingPayload(data []byte) (*SpeakingEvent, error) {
	if len(data) < speakingPayloadMin {
		return nil, fmt.Errorf("speaking payload too short: expected at least %d bytes, got %d",
			speakingPayloadMin, len(data))
	}

	idLen := int(data[0])
	if idLen == 0 {
		return nil, fmt.Errorf("empty speaker ID")
	}

	nameOff := 1 + idLen
	if len(data) < nameOff+1 {
		return nil, fmt.Errorf("truncated speaker ID: expected %d bytes", idLen)
	}

	nameLen := int(data[nameOff])
	flagsOff := nameOff + 1 + nameLen
	if len(data) != flagsOff+1 {
		return nil, fmt.Errorf("speaking payload length mismatch: expected %d bytes, got %d",
			flagsOff+1, len(data))
	}

	return &SpeakingEvent{
		SpeakerID:   string(data[1:nameOff]),
		DisplayName: string(data[nameOff+1 : flagsOff]),
		Bot:         data[flagsOff]&FlagBot != 0,
	}, nil
}

// ParseAudioPayload decodes an audio message payload (the bytes after
// the type byte). The Opus bytes are copied, so callers may reuse the
// read buffer.
func ParseAudioPayload(data []byte) (*AudioFrame, error) {
	if len(data) < audioPayloadMin {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			audioPayloadMin, len(data))
	}

	idLen := int(data[0])
	if idLen == 0 {
		return nil, fmt.Errorf("empty speaker ID")
	}

	seqOff := 1 + idLen
	if len(data) < seqOff+SequenceSize {
		return nil, fmt.Errorf("truncated speaker ID: expected %d bytes", idLen)
	}

	frame := &AudioFrame{
		SpeakerID: string(data[1:seqOff]),
		Sequence:  binary.BigEndian.Uint32(data[seqOff : seqOff+SequenceSize]),
	}

	if opus := data[seqOff+SequenceSize:]; len(opus) > 0 {
		frame.Opus = make([]byte, len(opus))
		copy(frame.Opus, opus)
	}

	return frame, nil
}

// EncodeSpeaking encodes ev as a complete wire message.
func EncodeSpeaking(ev *SpeakingEvent) ([]byte, error) {
	if len(ev.SpeakerID) == 0 || len(ev.SpeakerID) > MaxSpeakerIDLen {
		return nil, fmt.Errorf("speaker ID length out of range: %d", len(ev.SpeakerID))
	}
	if len(ev.DisplayName) > MaxDisplayNameLen {
		return nil, fmt.Errorf("display name too long: %d bytes", len(ev.DisplayName))
	}

	buf := make([]byte, 0, 3+len(ev.SpeakerID)+len(ev.DisplayName)+1)
	buf = append(buf, MsgTypeSpeaking, byte(len(ev.SpeakerID)))
	buf = append(buf, ev.SpeakerID...)
	buf = append(buf, byte(len(ev.DisplayName)))
	buf = append(buf, ev.DisplayName...)

	var flags byte
	if ev.Bot {
		flags |= FlagBot
	}
	return append(buf, flags), nil
}

// EncodeAudio encodes frame as a complete wire message.
func EncodeAudio(frame *AudioFrame) ([]byte, error) {
	if len(frame.SpeakerID) == 0 || len(frame.SpeakerID) > MaxSpeakerIDLen {
		return nil, fmt.Errorf("speaker ID length out of range: %d", len(frame.SpeakerID))
	}

	buf := make([]byte, 0, 2+len(frame.SpeakerID)+SequenceSize+len(frame.Opus))
	buf = append(buf, MsgTypeAudio, byte(len(frame.SpeakerID)))
	buf = append(buf, frame.SpeakerID...)
	buf = binary.BigEndian.AppendUint32(buf, frame.Sequence)
	return append(buf, frame.Opus...), nil
}

// IsValidMessageType checks if the message type is known.
func IsValidMessageType(mtype uint8) bool {
	return mtype == MsgTypeSpeaking || mtype == MsgTypeAudio
}

// MessageTypeName converts a message type to a human-readable string.
func MessageTypeName(mtype uint8) string {
	switch mtype {
	case MsgTypeSpeaking:
		return "speaking"
	case MsgTypeAudio:
		return "audio"
	default:
		return fmt.Sprintf("unknown(0x%02x)", mtype)
	}
}

// String returns a human-readable representation of the speaking event.
func (e *SpeakingEvent) String() string {
	return fmt.Sprintf("Speaking{SpeakerID:%s, DisplayName:%q, Bot:%t}",
		e.SpeakerID, e.DisplayName, e.Bot)
}

// String returns a human-readable representation of the audio frame.
func (f *AudioFrame) String() string {
	return fmt.Sprintf("Audio{SpeakerID:%s, Sequence:%d, OpusLen:%d}",
		f.SpeakerID, f.Sequence, len(f.Opus))
}
