// Package receiver implements the recv command: it accepts frame channels on
// one transport, reassembles the files they carry and saves them to disk.
package receiver

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sheerbytes/dcfile/internal/bufpool"
	"github.com/sheerbytes/dcfile/internal/config"
	"github.com/sheerbytes/dcfile/internal/logging"
	"github.com/sheerbytes/dcfile/internal/progress"
	"github.com/sheerbytes/dcfile/internal/quictransport"
	"github.com/sheerbytes/dcfile/internal/reassembly"
	"github.com/sheerbytes/dcfile/internal/sink"
	"github.com/sheerbytes/dcfile/internal/termio"
	"github.com/sheerbytes/dcfile/internal/transfer"
	"github.com/sheerbytes/dcfile/internal/transferquic"
	"github.com/sheerbytes/dcfile/internal/transferwebrtc"
	"github.com/sheerbytes/dcfile/internal/wsframe"
)

const shutdownTimeout = 5 * time.Second

// Run parses args and receives files until ctx is done.
func Run(ctx context.Context, args []string) error {
	cfg, err := config.ParseReceiverConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	level := cfg.LogLevel
	live := cfg.Progress && progress.IsTTY(termio.Stdout())
	if live && logging.ParseLevel(level) < slog.LevelWarn {
		// Info lines would scroll the live table away.
		level = "warn"
	}
	logger := logging.NewWithWriter(termio.Stderr(), "dcfile-recv", level, cfg.LogFormat)
	r, err := New(cfg, logger)
	if err != nil {
		return err
	}
	if err := r.Listen(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("receiver listening", "addr", r.Addr(), "transport", cfg.Transport, "out_dir", r.sink.Path())
	if cfg.Progress {
		stop := progress.RenderReceiver(ctx, termio.Stdout(), r.Tracker().View, cancel)
		defer stop()
	}
	return r.Serve(ctx)
}

// Receiver owns the listener, the output directory and the progress tracker
// shared by every incoming frame channel.
type Receiver struct {
	cfg     config.ReceiverConfig
	logger  *slog.Logger
	sink    *sink.Dir
	tracker *progress.Tracker
	pool    *bufpool.Pool

	ln    net.Listener
	quicT *transferquic.QUICTransport
	addr  string
}

// New validates cfg and prepares the output directory.
func New(cfg config.ReceiverConfig, logger *slog.Logger) (*Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	dir, err := sink.NewDir(cfg.OutDir, logger)
	if err != nil {
		return nil, err
	}
	return &Receiver{
		cfg:     cfg,
		logger:  logger,
		sink:    dir,
		tracker: progress.NewTracker(cfg.Addr, dir.Path()),
		pool:    bufpool.New(cfg.MaxMessageSize),
	}, nil
}

// Tracker returns the progress tracker fed by every decoder.
func (r *Receiver) Tracker() *progress.Tracker {
	return r.tracker
}

// Addr returns the bound address once Listen has succeeded.
func (r *Receiver) Addr() string {
	return r.addr
}

// Listen binds the configured address.
func (r *Receiver) Listen() error {
	switch r.cfg.Transport {
	case config.TransportQUIC:
		qcfg := quictransport.WithStreamWindow(quictransport.DefaultServerQUICConfig(), r.cfg.QUICWindow)
		ln, err := quictransport.ListenWithConfig(r.cfg.Addr, r.logger, qcfg)
		if err != nil {
			return err
		}
		r.quicT = transferquic.NewListener(ln, r.logger)
		r.addr = ln.Addr().String()
	default:
		ln, err := net.Listen("tcp", r.cfg.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", r.cfg.Addr, err)
		}
		r.ln = ln
		r.addr = ln.Addr().String()
	}
	r.tracker.SetListen(r.addr)
	return nil
}

// Serve accepts frame channels until ctx is done. Listen must be called first.
func (r *Receiver) Serve(ctx context.Context) error {
	switch r.cfg.Transport {
	case config.TransportQUIC:
		return r.serveQUIC(ctx)
	case config.TransportWebRTC:
		pcConfig := transferwebrtc.PeerConnectionConfig(r.cfg.STUNServers)
		handler := transferwebrtc.NewAnswerHandler(ctx, pcConfig, r.logger, r.handleChannel)
		return r.serveHTTP(ctx, transferwebrtc.OfferPath, handler)
	default:
		handler := wsframe.NewHandler(r.cfg.MaxMessageSize, r.logger, r.handleWebSocket)
		return r.serveHTTP(ctx, wsframe.Path, handler)
	}
}

func (r *Receiver) serveHTTP(ctx context.Context, path string, handler http.Handler) error {
	if r.ln == nil {
		return errors.New("receiver is not listening")
	}
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(r.ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("server shutdown incomplete", "error", err)
			srv.Close()
		}
		return nil
	}
}

func (r *Receiver) serveQUIC(ctx context.Context) error {
	if r.quicT == nil {
		return errors.New("receiver is not listening")
	}
	defer r.quicT.Close()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := r.quicT.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.handleQUIC(ctx, conn)
		}()
	}
}

// newDecoder returns a decoder for one frame channel, reporting to the
// shared tracker.
func (r *Receiver) newDecoder(logger *slog.Logger) (*reassembly.Decoder, error) {
	return reassembly.NewDecoder(reassembly.Options{
		MaxMessageSize: r.cfg.MaxMessageSize,
		MaxFileSize:    r.cfg.MaxFileSize,
		Logger:         logger,
		OnStart:        r.tracker.Start,
		OnProgress:     r.tracker.Update,
	})
}

func (r *Receiver) save(_ context.Context, file *reassembly.File) error {
	path, err := r.sink.Save(file)
	if err != nil {
		return err
	}
	r.tracker.Saved(path)
	return nil
}

func (r *Receiver) receive(ctx context.Context, src transfer.FrameSource, logger *slog.Logger) {
	dec, err := r.newDecoder(logger)
	if err != nil {
		logger.Error("failed to create decoder", "error", err)
		return
	}
	stats, err := transfer.Receive(ctx, src, dec, r.save, logger)
	r.finish(stats, err, logger)
}

func (r *Receiver) finish(stats transfer.ReceiveStats, err error, logger *slog.Logger) {
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("frame channel ended with error", "error", err, "frames", stats.Frames, "files", stats.Files)
		return
	}
	logger.Info("frame channel closed", "frames", stats.Frames, "files", stats.Files, "rejected", stats.Rejected)
}

func (r *Receiver) handleWebSocket(ctx context.Context, conn *wsframe.Conn) {
	r.receive(ctx, conn, r.logger.With("transport", config.TransportWebSocket))
}

func (r *Receiver) handleChannel(ctx context.Context, ch *transferwebrtc.Channel) {
	r.receive(ctx, ch, r.logger.With("transport", config.TransportWebRTC))
}

// handleQUIC serves one stream per file until the peer closes the connection.
func (r *Receiver) handleQUIC(ctx context.Context, conn transfer.Conn) {
	defer conn.Close()
	logger := r.logger.With("transport", config.TransportQUIC)
	if ra, ok := conn.(interface{ RemoteAddr() string }); ok {
		logger = logger.With("remote_addr", ra.RemoteAddr())
	}
	dec, err := r.newDecoder(logger)
	if err != nil {
		logger.Error("failed to create decoder", "error", err)
		return
	}
	for {
		stats, err := transfer.ReceiveStream(ctx, conn, r.pool, dec, r.save, logger)
		if err != nil {
			if stats.Frames > 0 {
				r.finish(stats, err, logger)
			} else {
				logger.Debug("connection closed", "error", err)
			}
			return
		}
		r.finish(stats, nil, logger)
	}
}
