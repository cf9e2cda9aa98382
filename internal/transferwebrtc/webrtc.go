// Package transferwebrtc carries frames over a WebRTC data channel, one
// data channel message per frame.
package transferwebrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sheerbytes/dcfile/internal/transfer"
)

var (
	_ transfer.FrameSource = (*Channel)(nil)
	_ transfer.FrameSink   = (*Channel)(nil)
)

const (
	// DefaultQueueSize is the number of received frames buffered ahead of the reader.
	DefaultQueueSize = 64

	maxBufferedAmount     = 1024 * 1024
	lowBufferedAmount     = 256 * 1024
	openTimeout           = 30 * time.Second
	flushPollInterval     = 10 * time.Millisecond
	closeHandshakeTimeout = 5 * time.Second
)

// ErrChannelClosed is returned when writing to a closed channel.
var ErrChannelClosed = errors.New("data channel closed")

// Channel wraps a DataChannel and exposes it as a frame source and sink.
type Channel struct {
	dc     *webrtc.DataChannel
	logger *slog.Logger

	frames  chan []byte
	opened  chan struct{}
	closed  chan struct{}
	drained chan struct{}

	openOnce  sync.Once
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewChannel wires dc's callbacks into a Channel. It must be called before
// dc opens, so no message is missed.
func NewChannel(dc *webrtc.DataChannel, queueSize int, logger *slog.Logger) *Channel {
	c := newChannel(queueSize, logger)
	c.dc = dc
	c.logger = c.logger.With("label", dc.Label())

	dc.SetBufferedAmountLowThreshold(lowBufferedAmount)
	dc.OnBufferedAmountLow(func() {
		select {
		case c.drained <- struct{}{}:
		default:
		}
	})
	dc.OnOpen(c.markOpen)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			c.logger.Warn("ignoring text data channel message")
			return
		}
		c.deliver(msg.Data)
	})
	dc.OnError(func(err error) {
		c.closeWith(err)
	})
	dc.OnClose(func() {
		c.closeWith(io.EOF)
	})
	return c
}

func newChannel(queueSize int, logger *slog.Logger) *Channel {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		logger:  logger,
		frames:  make(chan []byte, queueSize),
		opened:  make(chan struct{}),
		closed:  make(chan struct{}),
		drained: make(chan struct{}, 1),
	}
}

func (c *Channel) markOpen() {
	c.openOnce.Do(func() { close(c.opened) })
}

// deliver queues a copy of data. It blocks while the queue is full, which
// holds back the SCTP read loop and so the sender.
func (c *Channel) deliver(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case c.frames <- buf:
	case <-c.closed:
	}
}

func (c *Channel) closeWith(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.closed)
	})
}

func (c *Channel) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// WaitOpen blocks until the data channel is open.
func (c *Channel) WaitOpen(ctx context.Context) error {
	select {
	case <-c.opened:
		return nil
	case <-c.closed:
		return fmt.Errorf("data channel closed before open: %w", c.closeErr())
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(openTimeout):
		return errors.New("timeout waiting for data channel to open")
	}
}

// ReadFrame returns the next received frame. Frames queued before the channel
// closed are still returned; after that ReadFrame reports io.EOF.
func (c *Channel) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	default:
	}
	select {
	case f := <-c.frames:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		select {
		case f := <-c.frames:
			return f, nil
		default:
		}
		return nil, c.closeErr()
	}
}

// WriteFrame sends frame as one binary message, waiting while too much data
// is queued in the SCTP send buffer.
func (c *Channel) WriteFrame(ctx context.Context, frame []byte) error {
	if err := c.WaitOpen(ctx); err != nil {
		return err
	}
	for c.dc.BufferedAmount() > maxBufferedAmount {
		select {
		case <-c.drained:
		case <-c.closed:
			return ErrChannelClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := c.dc.Send(frame); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	return nil
}

// Flush waits until every sent frame has left the send buffer.
func (c *Channel) Flush(ctx context.Context) error {
	ticker := time.NewTicker(flushPollInterval)
	defer ticker.Stop()
	for c.dc.BufferedAmount() > 0 {
		select {
		case <-ticker.C:
		case <-c.closed:
			return ErrChannelClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// CloseSend flushes pending frames, closes the data channel and waits for
// the peer to acknowledge the close.
func (c *Channel) CloseSend(ctx context.Context) error {
	if err := c.Flush(ctx); err != nil {
		return err
	}
	if err := c.dc.Close(); err != nil {
		return fmt.Errorf("failed to close data channel: %w", err)
	}
	select {
	case <-c.closed:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(closeHandshakeTimeout):
		c.logger.Warn("data channel close not acknowledged")
	}
	return nil
}

// Close closes the data channel without flushing.
func (c *Channel) Close() error {
	c.closeWith(ErrChannelClosed)
	if c.dc == nil {
		return nil
	}
	return c.dc.Close()
}
