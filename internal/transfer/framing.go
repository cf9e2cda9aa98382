package transfer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sheerbytes/dcfile/internal/bufpool"
)

// lengthPrefixSize is the size of the big-endian frame length written before
// each frame on byte streams.
const lengthPrefixSize = 4

// ErrFrameTooLarge indicates a length prefix beyond the max message size.
// The oversized frame has been skipped and the stream is still in sync.
var ErrFrameTooLarge = errors.New("frame exceeds max message size")

var (
	_ FrameSource = (*FrameReader)(nil)
	_ FrameSink   = (*FrameWriter)(nil)
)

// FrameReader reads length-prefixed frames from a byte stream, restoring the
// message boundaries a datagram channel would provide.
type FrameReader struct {
	r    io.Reader
	pool *bufpool.Pool
	hdr  [lengthPrefixSize]byte
	cur  []byte
}

// NewFrameReader reads frames of at most pool.BufSize() bytes from r.
func NewFrameReader(r io.Reader, pool *bufpool.Pool) *FrameReader {
	return &FrameReader{r: r, pool: pool}
}

// ReadFrame returns the next frame. The slice is reused by the next call.
// A clean end of stream between frames yields io.EOF; a stream cut inside a
// frame yields io.ErrUnexpectedEOF.
func (fr *FrameReader) ReadFrame(ctx context.Context) ([]byte, error) {
	fr.release()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if _, err := io.ReadFull(fr.r, fr.hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(fr.hdr[:])

	if int64(n) > int64(fr.pool.BufSize()) {
		if _, err := io.CopyN(io.Discard, fr.r, int64(n)); err != nil {
			return nil, noEOF(err)
		}
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	buf := fr.pool.Get()
	if _, err := io.ReadFull(fr.r, buf[:n]); err != nil {
		fr.pool.Put(buf)
		return nil, noEOF(err)
	}
	fr.cur = buf
	return buf[:n], nil
}

// Close returns the current buffer to the pool.
func (fr *FrameReader) Close() {
	fr.release()
}

func (fr *FrameReader) release() {
	if fr.cur != nil {
		fr.pool.Put(fr.cur)
		fr.cur = nil
	}
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// FrameWriter writes length-prefixed frames to a byte stream.
// It is safe for concurrent use; each frame is written with a single Write.
type FrameWriter struct {
	mu       sync.Mutex
	w        io.Writer
	maxFrame int
}

// NewFrameWriter writes frames of at most maxMessageSize bytes to w.
func NewFrameWriter(w io.Writer, maxMessageSize int) *FrameWriter {
	return &FrameWriter{w: w, maxFrame: maxMessageSize}
}

// WriteFrame writes one frame.
func (fw *FrameWriter) WriteFrame(ctx context.Context, frame []byte) error {
	if len(frame) > fw.maxFrame {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	buf := make([]byte, lengthPrefixSize+len(frame))
	binary.BigEndian.PutUint32(buf, uint32(len(frame)))
	copy(buf[lengthPrefixSize:], frame)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, err := fw.w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}
