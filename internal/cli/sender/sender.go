// Package sender implements the send command: it frames one file and
// delivers it to a receiver over the configured transport.
package sender

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sheerbytes/dcfile/internal/config"
	"github.com/sheerbytes/dcfile/internal/logging"
	"github.com/sheerbytes/dcfile/internal/quictransport"
	"github.com/sheerbytes/dcfile/internal/termio"
	"github.com/sheerbytes/dcfile/internal/transfer"
	"github.com/sheerbytes/dcfile/internal/transferquic"
	"github.com/sheerbytes/dcfile/internal/transferwebrtc"
	"github.com/sheerbytes/dcfile/internal/wsframe"
	"github.com/sheerbytes/dcfile/pkg/frame"
)

// Run parses args and sends one file.
func Run(ctx context.Context, args []string) error {
	cfg, err := config.ParseSenderConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	logger := logging.NewWithWriter(termio.Stderr(), "dcfile-send", cfg.LogLevel, cfg.LogFormat)

	res, err := Send(ctx, cfg, logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(termio.Stdout(), "sent %s (%s, %d bytes, %d frames) in %s\n",
		cfg.File, res.MimeType, res.Bytes, res.Frames, res.Duration.Round(time.Millisecond))
	return nil
}

// Result describes a delivered file.
type Result struct {
	MimeType  string
	Extension string
	Bytes     int
	Frames    int
	Duration  time.Duration
}

// Prepared is a file split into frames and ready to send.
type Prepared struct {
	MimeType  string
	Extension string
	Bytes     int
	Frames    [][]byte
}

// Prepare reads cfg.File and frames it. An explicit MIME type or extension
// wins; otherwise the type is detected from the content and the extension
// comes from the file name, then from the detected type.
func Prepare(cfg config.SenderConfig) (Prepared, error) {
	data, err := os.ReadFile(cfg.File)
	if err != nil {
		return Prepared{}, fmt.Errorf("failed to read %s: %w", cfg.File, err)
	}

	detected := mimetype.Detect(data)
	mimeType := strings.TrimSpace(cfg.MimeType)
	if mimeType == "" {
		mimeType, _, _ = strings.Cut(detected.String(), ";")
		mimeType = strings.TrimSpace(mimeType)
	}
	ext := strings.TrimPrefix(strings.TrimSpace(cfg.Extension), ".")
	if ext == "" {
		ext = strings.TrimPrefix(filepath.Ext(cfg.File), ".")
	}
	if ext == "" {
		ext = strings.TrimPrefix(detected.Extension(), ".")
	}

	frames, err := frame.Split(data, mimeType, ext, cfg.MaxMessageSize)
	if err != nil {
		return Prepared{}, fmt.Errorf("failed to frame %s: %w", cfg.File, err)
	}
	return Prepared{MimeType: mimeType, Extension: ext, Bytes: len(data), Frames: frames}, nil
}

// Send delivers cfg.File to cfg.Target and returns once the receiver has
// taken every frame.
func Send(ctx context.Context, cfg config.SenderConfig, logger *slog.Logger) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	p, err := Prepare(cfg)
	if err != nil {
		return Result{}, err
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	logger = logger.With("transport", cfg.Transport, "target", cfg.Target)
	logger.Info("sending file",
		"file", cfg.File,
		"mime_type", p.MimeType,
		"extension", p.Extension,
		"bytes", p.Bytes,
		"frames", len(p.Frames),
	)

	start := time.Now()
	switch cfg.Transport {
	case config.TransportQUIC:
		err = sendQUIC(ctx, cfg, p.Frames, logger)
	case config.TransportWebRTC:
		err = sendWebRTC(ctx, cfg, p.Frames, logger)
	default:
		err = sendWebSocket(ctx, cfg, p.Frames, logger)
	}
	if err != nil {
		return Result{}, err
	}

	res := Result{
		MimeType:  p.MimeType,
		Extension: p.Extension,
		Bytes:     p.Bytes,
		Frames:    len(p.Frames),
		Duration:  time.Since(start),
	}
	logger.Info("file sent", "bytes", res.Bytes, "frames", res.Frames, "duration", res.Duration)
	return res, nil
}

func sendWebSocket(ctx context.Context, cfg config.SenderConfig, frames [][]byte, logger *slog.Logger) error {
	conn, err := wsframe.Dial(ctx, targetURL("ws", cfg.Target, wsframe.Path), cfg.MaxMessageSize, logger)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if err := transfer.Send(ctx, conn, frames); err != nil {
		conn.Close()
		return err
	}
	return conn.CloseSend()
}

func sendQUIC(ctx context.Context, cfg config.SenderConfig, frames [][]byte, logger *slog.Logger) error {
	qconn, err := quictransport.Dial(ctx, hostPort(cfg.Target), logger)
	if err != nil {
		return err
	}
	t := transferquic.NewDialer(qconn, logger)
	defer t.Close()

	conn, err := t.Dial(ctx, "")
	if err != nil {
		qconn.CloseWithError(0, "")
		return err
	}
	defer conn.Close()
	return transfer.SendStream(ctx, conn, frames, cfg.MaxMessageSize)
}

func sendWebRTC(ctx context.Context, cfg config.SenderConfig, frames [][]byte, logger *slog.Logger) error {
	pcConfig := transferwebrtc.PeerConnectionConfig(cfg.STUNServers)
	peer, err := transferwebrtc.Dial(ctx, targetURL("http", cfg.Target, transferwebrtc.OfferPath), pcConfig, logger)
	if err != nil {
		return err
	}
	defer peer.Close()
	if err := transfer.Send(ctx, peer.Channel, frames); err != nil {
		return err
	}
	return peer.Channel.CloseSend(ctx)
}

// targetURL accepts either host:port or a full URL and returns a URL with
// the given scheme and path.
func targetURL(scheme, target, path string) string {
	host := hostPort(target)
	return scheme + "://" + host + path
}

// hostPort strips a scheme and path from target.
func hostPort(target string) string {
	target = strings.TrimSpace(target)
	if _, rest, ok := strings.Cut(target, "://"); ok {
		target = rest
	}
	host, _, _ := strings.Cut(target, "/")
	return host
}
