package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sheerbytes/dcfile/internal/bufpool"
	"github.com/sheerbytes/dcfile/internal/reassembly"
)

type writeCloser interface {
	CloseWrite() error
}

// SendStream opens one stream on conn, writes frames to it with a length
// prefix, and waits until the receiver has closed its side.
func SendStream(ctx context.Context, conn Conn, frames [][]byte, maxMessageSize int) error {
	stream, err := conn.OpenStream(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	if err := Send(ctx, NewFrameWriter(stream, maxMessageSize), frames); err != nil {
		return err
	}
	if cw, ok := stream.(writeCloser); ok {
		if err := cw.CloseWrite(); err != nil {
			return fmt.Errorf("failed to finish stream: %w", err)
		}
	}

	// The receiver closes the stream once every frame has been consumed.
	if _, err := io.Copy(io.Discard, stream); err != nil && !errors.Is(err, io.EOF) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, io.ErrClosedPipe) {
			return fmt.Errorf("failed waiting for receiver: %w", err)
		}
	}
	return ctx.Err()
}

// ReceiveStream accepts one stream on conn and feeds its frames into dec
// until the sender finishes. Frame buffers come from pool.
func ReceiveStream(ctx context.Context, conn Conn, pool *bufpool.Pool, dec *reassembly.Decoder, onFile FileHandler, logger *slog.Logger) (ReceiveStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return ReceiveStats{}, err
	}
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	if ider, ok := stream.(StreamIDer); ok {
		logger = logger.With("stream_id", ider.StreamID())
	}

	fr := NewFrameReader(stream, pool)
	defer fr.Close()
	return Receive(ctx, fr, dec, onFile, logger)
}
