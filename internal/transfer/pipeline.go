package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sheerbytes/dcfile/internal/reassembly"
)

// FileHandler consumes a completed file. Returning an error stops Receive.
type FileHandler func(ctx context.Context, file *reassembly.File) error

// ReceiveStats summarizes one Receive call.
type ReceiveStats struct {
	Frames   int
	Files    int
	Rejected int
}

// Receive feeds frames from src into dec in arrival order until the source is
// exhausted or ctx is done. Rejected frames are logged and counted; they never
// stop the loop. A transfer still in flight when the source ends is aborted.
func Receive(ctx context.Context, src FrameSource, dec *reassembly.Decoder, onFile FileHandler, logger *slog.Logger) (ReceiveStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var stats ReceiveStats

	for {
		buf, err := src.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, ErrFrameTooLarge) {
				stats.Rejected++
				logger.Warn("oversized frame skipped", "error", err)
				continue
			}
			if dec.Abort() {
				logger.Warn("frame source ended mid-transfer, transfer aborted", "error", err)
			}
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return stats, nil
			}
			return stats, fmt.Errorf("failed to read frame: %w", err)
		}
		stats.Frames++

		file, err := dec.Handle(buf)
		if err != nil {
			stats.Rejected++
			logger.Debug("frame rejected", "kind", reassembly.KindOf(err).String(), "error", err)
			continue
		}
		if file == nil {
			continue
		}
		stats.Files++
		if onFile != nil {
			if err := onFile(ctx, file); err != nil {
				return stats, fmt.Errorf("failed to handle file %s: %w", file.ID, err)
			}
		}
	}
}

// Send writes frames to sink in order.
func Send(ctx context.Context, sink FrameSink, frames [][]byte) error {
	for i, f := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sink.WriteFrame(ctx, f); err != nil {
			return fmt.Errorf("failed to send frame %d/%d: %w", i+1, len(frames), err)
		}
	}
	return nil
}
