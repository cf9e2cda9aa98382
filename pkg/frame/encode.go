package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmptyFile indicates an attempt to frame a file with no content.
	ErrEmptyFile = errors.New("file is empty")
	// ErrFileTooLarge indicates a file whose size does not fit the int32 size field.
	ErrFileTooLarge = errors.New("file too large for int32 size field")
	// ErrChunkTooLarge indicates a chunk that does not fit a single message.
	ErrChunkTooLarge = errors.New("chunk exceeds max payload size")
)

// EncodeExtension builds an extension frame.
func EncodeExtension(ext string) ([]byte, error) {
	return encodeTextFrame(TagExtension, ext)
}

// EncodeMimeType builds a MIME type frame.
func EncodeMimeType(mimeType string) ([]byte, error) {
	return encodeTextFrame(TagMimeType, mimeType)
}

func encodeTextFrame(tag Tag, s string) ([]byte, error) {
	text, err := EncodeText(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s text: %w", tag, err)
	}
	buf := make([]byte, 0, TypeSize+len(text))
	buf = append(buf, byte(tag))
	return append(buf, text...), nil
}

// EncodePayload builds a payload frame declaring total and carrying chunk.
func EncodePayload(total int32, chunk []byte) []byte {
	buf := make([]byte, HeaderSize+len(chunk))
	buf[0] = byte(TagPayload)
	binary.LittleEndian.PutUint32(buf[TypeSize:HeaderSize], uint32(total))
	copy(buf[HeaderSize:], chunk)
	return buf
}

// Split frames a whole file for delivery: one extension frame, one MIME type
// frame, then as many payload frames as needed, each at most maxMessageSize
// bytes long.
func Split(data []byte, mimeType, ext string, maxMessageSize int) ([][]byte, error) {
	maxPayload, err := MaxPayloadSize(maxMessageSize)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if len(data) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, len(data))
	}

	extFrame, err := EncodeExtension(ext)
	if err != nil {
		return nil, err
	}
	mimeFrame, err := EncodeMimeType(mimeType)
	if err != nil {
		return nil, err
	}
	if len(extFrame) > maxMessageSize || len(mimeFrame) > maxMessageSize {
		return nil, fmt.Errorf("%w: metadata frame longer than %d bytes", ErrChunkTooLarge, maxMessageSize)
	}

	total := int32(len(data))
	chunks := ExpectedChunks(total, maxPayload)
	frames := make([][]byte, 0, 2+int(chunks))
	frames = append(frames, extFrame, mimeFrame)
	for off := 0; off < len(data); off += maxPayload {
		end := off + maxPayload
		if end > len(data) {
			end = len(data)
		}
		frames = append(frames, EncodePayload(total, data[off:end]))
	}
	return frames, nil
}
