// Package frame implements the wire format of the chunked file-transfer
// messages exchanged over a size-bounded message channel.
//
// Every message starts with a one byte type tag. Extension and MIME type
// frames carry UTF-16 text after the tag. Payload frames carry a
// little-endian int32 total file size followed by one chunk of file bytes.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Tag identifies the kind of a frame.
type Tag uint8

const (
	// TagExtension carries the file extension as UTF-16 text.
	TagExtension Tag = 8
	// TagMimeType carries the MIME type as UTF-16 text.
	TagMimeType Tag = 9
	// TagPayload carries the declared total size and one chunk of file bytes.
	TagPayload Tag = 10
)

const (
	// TypeSize is the size of the leading type tag.
	TypeSize = 1
	// SizeFieldSize is the size of the total-size field of a payload frame.
	SizeFieldSize = 4
	// HeaderSize is the full header size of a payload frame.
	HeaderSize = TypeSize + SizeFieldSize
	// DefaultMaxMessageSize is the largest message the channel delivers.
	// Sender and receiver must agree on it or the chunk count is wrong.
	DefaultMaxMessageSize = 16 * 1024
)

var (
	// ErrEmptyFrame indicates a frame with no type tag.
	ErrEmptyFrame = errors.New("empty frame")
	// ErrUnknownTag indicates an unsupported leading type tag.
	ErrUnknownTag = errors.New("unknown frame type")
	// ErrShortHeader indicates a payload frame shorter than its header.
	ErrShortHeader = errors.New("payload frame shorter than header")
	// ErrMessageSizeTooSmall indicates a max message size that cannot hold a payload byte.
	ErrMessageSizeTooSmall = errors.New("max message size must exceed payload header")
)

// String returns a human readable tag name.
func (t Tag) String() string {
	switch t {
	case TagExtension:
		return "extension"
	case TagMimeType:
		return "mimetype"
	case TagPayload:
		return "payload"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the known tags.
func (t Tag) Valid() bool {
	switch t {
	case TagExtension, TagMimeType, TagPayload:
		return true
	}
	return false
}

// Frame is a decoded message.
type Frame struct {
	Tag Tag
	// Text is set for extension and MIME type frames.
	Text string
	// TotalSize is the declared total file size of a payload frame.
	TotalSize int32
	// Payload aliases the input buffer; copy it before the buffer is reused.
	Payload []byte
}

// PeekTag returns the type tag of buf without validating the rest of the frame.
func PeekTag(buf []byte) (Tag, error) {
	if len(buf) < TypeSize {
		return 0, ErrEmptyFrame
	}
	tag := Tag(buf[0])
	if !tag.Valid() {
		return tag, fmt.Errorf("%w: %d", ErrUnknownTag, buf[0])
	}
	return tag, nil
}

// Parse decodes a single frame.
func Parse(buf []byte) (Frame, error) {
	tag, err := PeekTag(buf)
	if err != nil {
		return Frame{}, err
	}

	switch tag {
	case TagExtension, TagMimeType:
		text, err := DecodeText(buf[TypeSize:])
		if err != nil {
			return Frame{}, fmt.Errorf("failed to decode %s text: %w", tag, err)
		}
		return Frame{Tag: tag, Text: text}, nil
	default:
		if len(buf) < HeaderSize {
			return Frame{}, fmt.Errorf("%w: got %d bytes", ErrShortHeader, len(buf))
		}
		total := int32(binary.LittleEndian.Uint32(buf[TypeSize:HeaderSize]))
		return Frame{Tag: tag, TotalSize: total, Payload: buf[HeaderSize:]}, nil
	}
}

// MaxPayloadSize returns the number of file bytes one payload frame can carry.
func MaxPayloadSize(maxMessageSize int) (int, error) {
	if maxMessageSize <= HeaderSize {
		return 0, fmt.Errorf("%w: %d", ErrMessageSizeTooSmall, maxMessageSize)
	}
	return maxMessageSize - HeaderSize, nil
}

// ExpectedChunks returns ceil(total / maxPayloadSize), or 0 for a non-positive total.
func ExpectedChunks(total int32, maxPayloadSize int) uint32 {
	if total <= 0 || maxPayloadSize <= 0 {
		return 0
	}
	t := int64(total)
	p := int64(maxPayloadSize)
	return uint32((t + p - 1) / p)
}
