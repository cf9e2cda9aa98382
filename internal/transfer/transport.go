package transfer

import (
	"context"
	"io"
)

// Transport represents an established peer-to-peer path.
// A Transport is typically created once per peer and can handle
// multiple concurrent connections.
type Transport interface {
	// Dial establishes a connection to the specified peer.
	Dial(ctx context.Context, peerID string) (Conn, error)

	// Accept waits for and accepts an incoming connection from another peer.
	Accept(ctx context.Context) (Conn, error)

	// Close closes the transport and all associated connections.
	Close() error
}

// Conn represents a connection between two peers that carries streams.
type Conn interface {
	// OpenStream opens a new bidirectional stream to the remote peer.
	OpenStream(ctx context.Context) (Stream, error)

	// AcceptStream waits for and accepts an incoming stream from the remote peer.
	AcceptStream(ctx context.Context) (Stream, error)

	// Close closes the connection and all associated streams.
	Close() error
}

// Stream is a bidirectional byte stream between two peers.
// Frames are carried over it with a length prefix, see FrameReader.
type Stream interface {
	io.Reader
	io.Writer
	// Close closes the stream. After Close is called, Read and Write operations
	// will return errors.
	Close() error
}

// StreamIDer exposes a transport-specific stream ID when available.
type StreamIDer interface {
	StreamID() uint64
}

// FrameSource delivers received frames one at a time, in arrival order.
// The returned slice is only valid until the next ReadFrame call.
// ReadFrame returns io.EOF once the peer has finished sending.
type FrameSource interface {
	ReadFrame(ctx context.Context) ([]byte, error)
}

// FrameSink sends frames to the peer. Message-oriented transports deliver
// each call as exactly one message.
type FrameSink interface {
	WriteFrame(ctx context.Context, frame []byte) error
}
