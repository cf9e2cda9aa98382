// Package transferquic carries frame streams over QUIC connections.
package transferquic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/sheerbytes/dcfile/internal/transfer"
)

var (
	_ transfer.Transport  = (*QUICTransport)(nil)
	_ transfer.Conn       = (*QUICConn)(nil)
	_ transfer.Stream     = (*QUICStream)(nil)
	_ transfer.StreamIDer = (*QUICStream)(nil)
)

// ErrWrongRole is returned when a dialer is asked to accept or a listener to dial.
var ErrWrongRole = errors.New("operation not supported by transport role")

// QUICTransport is a Transport implementation backed by QUIC.
// It acts as either a dialer (sender) or listener (receiver).
type QUICTransport struct {
	mu       sync.Mutex
	role     string         // "dialer" or "listener"
	conn     *quic.Conn     // For dialer: the established connection
	listener *quic.Listener // For listener: the listener
	logger   *slog.Logger
	closed   bool
}

// NewDialer creates a QUICTransport around an established connection.
func NewDialer(conn *quic.Conn, logger *slog.Logger) *QUICTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &QUICTransport{
		role:   "dialer",
		conn:   conn,
		logger: logger,
	}
}

// NewListener creates a QUICTransport that accepts connections from listener.
func NewListener(listener *quic.Listener, logger *slog.Logger) *QUICTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &QUICTransport{
		role:     "listener",
		listener: listener,
		logger:   logger,
	}
}

// Dial returns the established connection wrapped in QUICConn.
// peerID is ignored for QUIC.
func (t *QUICTransport) Dial(ctx context.Context, peerID string) (transfer.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, io.ErrClosedPipe
	}
	if t.role != "dialer" {
		return nil, fmt.Errorf("dial: %w", ErrWrongRole)
	}
	if t.conn == nil {
		return nil, fmt.Errorf("QUIC connection not available")
	}

	return &QUICConn{
		conn:   t.conn,
		logger: t.logger,
	}, nil
}

// Accept waits for the next QUIC connection.
func (t *QUICTransport) Accept(ctx context.Context) (transfer.Conn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, io.ErrClosedPipe
	}
	if t.role != "listener" {
		t.mu.Unlock()
		return nil, fmt.Errorf("accept: %w", ErrWrongRole)
	}
	listener := t.listener
	t.mu.Unlock()

	conn, err := listener.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to accept QUIC connection: %w", err)
	}

	logger := t.logger.With("remote_addr", conn.RemoteAddr().String())
	logger.Info("QUIC connection accepted")

	return &QUICConn{
		conn:   conn,
		logger: logger,
	}, nil
}

// Close closes the listener. A dialer's connection is owned by the caller.
func (t *QUICTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if t.role == "listener" && t.listener != nil {
		if err := t.listener.Close(); err != nil {
			return fmt.Errorf("failed to close QUIC listener: %w", err)
		}
	}
	return nil
}

// QUICConn wraps a quic.Conn and implements transfer.Conn.
type QUICConn struct {
	mu     sync.Mutex
	conn   *quic.Conn
	logger *slog.Logger
	closed bool
}

// RemoteAddr returns the peer address.
func (c *QUICConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// OpenStream opens a new bidirectional stream to the remote peer.
func (c *QUICConn) OpenStream(ctx context.Context) (transfer.Stream, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, io.ErrClosedPipe
	}
	conn := c.conn
	c.mu.Unlock()

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open QUIC stream: %w", err)
	}

	c.logger.Debug("QUIC stream opened", "stream_id", stream.StreamID())
	return &QUICStream{stream: stream}, nil
}

// AcceptStream waits for the next stream opened by the remote peer.
func (c *QUICConn) AcceptStream(ctx context.Context) (transfer.Stream, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, io.ErrClosedPipe
	}
	conn := c.conn
	c.mu.Unlock()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to accept QUIC stream: %w", err)
	}

	c.logger.Debug("QUIC stream accepted", "stream_id", stream.StreamID())
	return &QUICStream{stream: stream}, nil
}

// Close closes the connection and all associated streams.
func (c *QUICConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.conn.CloseWithError(0, ""); err != nil {
		return fmt.Errorf("failed to close QUIC connection: %w", err)
	}
	return nil
}

// QUICStream wraps a quic.Stream and implements transfer.Stream.
type QUICStream struct {
	mu          sync.Mutex
	stream      *quic.Stream
	closed      bool
	writeClosed bool
}

func (s *QUICStream) Read(p []byte) (int, error) {
	if s.isClosed() {
		return 0, io.ErrClosedPipe
	}
	return s.stream.Read(p)
}

func (s *QUICStream) Write(p []byte) (int, error) {
	if s.isClosed() {
		return 0, io.ErrClosedPipe
	}
	return s.stream.Write(p)
}

func (s *QUICStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// StreamID returns the QUIC stream ID.
func (s *QUICStream) StreamID() uint64 {
	return uint64(s.stream.StreamID())
}

// CloseWrite sends FIN after all written data, so the peer reads io.EOF once
// it has consumed every frame. Reading stays possible.
func (s *QUICStream) CloseWrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeClosed {
		return nil
	}
	s.writeClosed = true

	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("failed to close QUIC stream send side: %w", err)
	}
	return nil
}

// Close finishes the send side and stops reading.
func (s *QUICStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.stream.CancelRead(0)
	if s.writeClosed {
		return nil
	}
	s.writeClosed = true
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("failed to close QUIC stream: %w", err)
	}
	return nil
}
