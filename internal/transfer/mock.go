package transfer

import (
	"context"
	"io"
	"sync"
)

// MockTransport is an in-memory transport implementation for testing.
// It allows two MockTransport instances to connect to each other.
type MockTransport struct {
	mu             sync.Mutex
	peerID         string
	acceptChan     chan *mockConn
	peerAcceptChan chan *mockConn // Channel to send connections to peer
	connections    map[*mockConn]bool
	closed         bool
}

// NewMockPair creates a pair of MockTransport instances that can connect to each other.
func NewMockPair() (*MockTransport, *MockTransport) {
	t1Accept := make(chan *mockConn, 1)
	t2Accept := make(chan *mockConn, 1)

	t1 := &MockTransport{
		peerID:         "peer1",
		acceptChan:     t1Accept,
		peerAcceptChan: t2Accept,
		connections:    make(map[*mockConn]bool),
	}
	t2 := &MockTransport{
		peerID:         "peer2",
		acceptChan:     t2Accept,
		peerAcceptChan: t1Accept,
		connections:    make(map[*mockConn]bool),
	}
	return t1, t2
}

type mockConn struct {
	mu         sync.Mutex
	transport  *MockTransport
	other      *mockConn
	streamChan chan *mockStream
	streams    []*mockStream
	closed     bool
}

// mockStream is one direction of an io.Pipe pair per side.
type mockStream struct {
	mu     sync.Mutex
	reader *io.PipeReader
	writer *io.PipeWriter
	closed bool
}

var (
	_ Transport = (*MockTransport)(nil)
	_ Conn      = (*mockConn)(nil)
	_ Stream    = (*mockStream)(nil)
)

// Dial establishes a connection to the paired transport.
func (t *MockTransport) Dial(ctx context.Context, peerID string) (Conn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, io.ErrClosedPipe
	}
	t.mu.Unlock()

	local := &mockConn{transport: t, streamChan: make(chan *mockStream, 10)}
	remote := &mockConn{streamChan: make(chan *mockStream, 10)}
	local.other = remote
	remote.other = local

	select {
	case t.peerAcceptChan <- remote:
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, io.ErrClosedPipe
	}

	t.mu.Lock()
	t.connections[local] = true
	t.mu.Unlock()
	return local, nil
}

// Accept waits for a connection dialed by the paired transport.
func (t *MockTransport) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn := <-t.acceptChan:
		if conn == nil {
			return nil, io.ErrClosedPipe
		}
		conn.transport = t
		t.mu.Lock()
		t.connections[conn] = true
		t.mu.Unlock()
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the transport and all connections.
func (t *MockTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*mockConn, 0, len(t.connections))
	for conn := range t.connections {
		conns = append(conns, conn)
	}
	t.connections = nil
	t.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	return nil
}

func (c *mockConn) OpenStream(ctx context.Context) (Stream, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, io.ErrClosedPipe
	}
	c.mu.Unlock()

	// local writes -> remote reads, remote writes -> local reads
	lr, lw := io.Pipe()
	rr, rw := io.Pipe()
	local := &mockStream{reader: rr, writer: lw}
	remote := &mockStream{reader: lr, writer: rw}

	select {
	case c.other.streamChan <- remote:
	case <-ctx.Done():
		local.Close()
		remote.Close()
		return nil, ctx.Err()
	}

	c.mu.Lock()
	c.streams = append(c.streams, local)
	c.mu.Unlock()
	return local, nil
}

func (c *mockConn) AcceptStream(ctx context.Context) (Stream, error) {
	select {
	case stream := <-c.streamChan:
		c.mu.Lock()
		c.streams = append(c.streams, stream)
		c.mu.Unlock()
		return stream, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	streams := c.streams
	c.streams = nil
	c.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}
	if t := c.transport; t != nil {
		t.mu.Lock()
		delete(t.connections, c)
		t.mu.Unlock()
	}
	return nil
}

func (s *mockStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	reader := s.reader
	s.mu.Unlock()
	return reader.Read(p)
}

func (s *mockStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	writer := s.writer
	s.mu.Unlock()
	return writer.Write(p)
}

// CloseWrite signals EOF to the peer while keeping the read side open.
func (s *mockStream) CloseWrite() error {
	return s.writer.Close()
}

func (s *mockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.reader.Close()
	s.writer.Close()
	return nil
}
