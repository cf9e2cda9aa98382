// Package wsframe carries protocol frames as binary WebSocket messages.
// One message is one frame, so the WebSocket message boundary plays the role
// of the data channel's message boundary.
package wsframe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sheerbytes/dcfile/internal/transfer"
)

const (
	// Path is the HTTP path the receiver serves frames on.
	Path = "/frames"

	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	closeWait    = 5 * time.Second
)

var (
	_ transfer.FrameSource = (*Conn)(nil)
	_ transfer.FrameSink   = (*Conn)(nil)
)

var dialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
}

// Conn is a WebSocket connection exchanging frames.
type Conn struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	writeMu   sync.Mutex
	watchOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(conn *websocket.Conn, maxMessageSize int, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	conn.SetReadLimit(int64(maxMessageSize))
	return &Conn{
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Dial establishes a WebSocket connection to a receiver.
// wsURL should be the full WebSocket URL including the path.
func Dial(ctx context.Context, wsURL string, maxMessageSize int, logger *slog.Logger) (*Conn, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket upgrade failed (%d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket upgrade failed (%d)", resp.StatusCode)
		}
		return nil, err
	}
	return newConn(conn, maxMessageSize, logger), nil
}

// watch ties the connection to ctx and keeps it alive with pings.
func (c *Conn) watch(ctx context.Context) {
	c.watchOnce.Do(func() {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		go func() {
			ticker := time.NewTicker(pingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					// Closing the connection forces ReadMessage() to unblock instantly
					c.conn.Close()
					return
				case <-c.done:
					return
				case <-ticker.C:
					c.writeMu.Lock()
					err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
					c.writeMu.Unlock()
					if err != nil {
						return
					}
				}
			}
		}()
	})
}

// ReadFrame returns the next binary message. A normal close by the peer
// yields io.EOF.
func (c *Conn) ReadFrame(ctx context.Context) ([]byte, error) {
	c.watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				return nil, fmt.Errorf("websocket message exceeds max message size: %w", err)
			}
			return nil, err
		}

		if messageType != websocket.BinaryMessage {
			c.logger.Warn("ignoring non-binary websocket message", "type", messageType)
			continue
		}
		// Any traffic proves the peer is alive.
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return message, nil
	}
}

// WriteFrame sends frame as one binary message.
func (c *Conn) WriteFrame(ctx context.Context, frame []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("websocket write failed: %w", err)
	}
	return nil
}

// CloseSend performs the closing handshake: it announces a normal close and
// waits briefly for the peer to acknowledge before closing the connection.
func (c *Conn) CloseSend() error {
	c.writeMu.Lock()
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	if err != nil {
		c.Close()
		return fmt.Errorf("websocket close failed: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(closeWait))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	return c.Close()
}

// Close closes the underlying connection without a closing handshake.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
