// Package reassembly rebuilds files from the tagged frames of the chunked
// file-transfer protocol.
//
// A Decoder owns exactly one PendingFile. The first frame of any kind that
// arrives while no transfer is in flight starts a new transfer. Payload
// frames are appended until the chunk count implied by the declared total
// size is reached, at which point Handle returns the assembled File.
package reassembly

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sheerbytes/dcfile/pkg/frame"
)

// Options configure a Decoder.
type Options struct {
	// MaxMessageSize must equal the sender's maximum frame size.
	// Default: frame.DefaultMaxMessageSize
	MaxMessageSize int

	// MaxFileSize rejects transfers declaring a larger total. 0 means no limit.
	MaxFileSize int64

	Logger *slog.Logger

	// Now and NewID are replaceable for tests.
	Now   func() time.Time
	NewID func() string

	// OnStart is called when a frame starts a new transfer.
	OnStart func(transferID string)
	// OnProgress is called after every payload frame that advanced or ended
	// the transfer, and when Abort drops a transfer (with State idle).
	OnProgress func(Progress)
	// OnComplete is called with every assembled file, after Handle releases
	// the decoder lock and before it returns.
	OnComplete func(*File)
	// OnError is called with every frame rejection or abandoned transfer.
	OnError func(*ProtocolError)
}

// File is a completed transfer.
type File struct {
	ID           string
	MimeType     string
	Extension    string
	Bytes        []byte
	DeclaredSize int32
	Metrics      Metrics
}

// Metrics are informational transfer statistics.
type Metrics struct {
	Chunks   uint32
	Duration time.Duration
	// BitrateKbps is expectedChunks*maxPayloadSize bytes over the duration in
	// milliseconds, i.e. roughly kilobytes per second.
	BitrateKbps int64
}

// Decoder is the receiver-side state machine for one frame channel.
// It is safe for concurrent use; frames are applied in the order Handle
// acquires the lock.
type Decoder struct {
	maxMessageSize int
	maxPayloadSize int
	maxFileSize    int64
	logger         *slog.Logger
	now            func() time.Time
	newID          func() string
	onStart        func(string)
	onProgress     func(Progress)
	onComplete     func(*File)
	onError        func(*ProtocolError)

	mu      sync.Mutex
	pending PendingFile
}

// NewDecoder creates an idle decoder.
func NewDecoder(opts Options) (*Decoder, error) {
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = frame.DefaultMaxMessageSize
	}
	maxPayload, err := frame.MaxPayloadSize(opts.MaxMessageSize)
	if err != nil {
		return nil, err
	}
	if opts.MaxFileSize < 0 {
		return nil, fmt.Errorf("invalid max file size %d", opts.MaxFileSize)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Decoder{
		maxMessageSize: opts.MaxMessageSize,
		maxPayloadSize: maxPayload,
		maxFileSize:    opts.MaxFileSize,
		logger:         opts.Logger,
		now:            opts.Now,
		newID:          opts.NewID,
		onStart:        opts.OnStart,
		onProgress:     opts.OnProgress,
		onComplete:     opts.OnComplete,
		onError:        opts.OnError,
	}, nil
}

// MaxPayloadSize returns the number of file bytes carried by a full payload frame.
func (d *Decoder) MaxPayloadSize() int {
	return d.maxPayloadSize
}

// Handle applies one received frame.
//
// It returns the assembled file when the frame completes a transfer, a
// *ProtocolError when the frame is rejected, and (nil, nil) while the
// transfer is still in progress. buf is not retained.
func (d *Decoder) Handle(buf []byte) (*File, error) {
	d.mu.Lock()
	file, started, progressed, err := d.handleLocked(buf)
	var id string
	var prog Progress
	if started || progressed {
		id = d.pending.ID
		prog = d.pending.progress()
	}
	d.mu.Unlock()

	if started && d.onStart != nil {
		d.onStart(id)
	}
	if progressed && d.onProgress != nil {
		d.onProgress(prog)
	}
	if file != nil && d.onComplete != nil {
		d.onComplete(file)
	}
	var perr *ProtocolError
	if d.onError != nil && errors.As(err, &perr) {
		d.onError(perr)
	}
	return file, err
}

func (d *Decoder) handleLocked(buf []byte) (file *File, started, progressed bool, err error) {
	f, err := frame.Parse(buf)
	if err != nil {
		if errors.Is(err, frame.ErrEmptyFrame) {
			return nil, false, false, d.reject(KindUnknownFrameType, "%v", err)
		}
		if errors.Is(err, frame.ErrUnknownTag) {
			return nil, false, false, d.reject(KindUnknownFrameType, "tag %d", buf[0])
		}
		return nil, false, false, d.reject(KindMalformedFrame, "%v", err)
	}
	// Chunk-count math assumes no payload frame exceeds the max message size.
	if f.Tag == frame.TagPayload && len(buf) > d.maxMessageSize {
		return nil, false, false, d.reject(KindMalformedFrame, "payload frame is %d bytes, max message size is %d", len(buf), d.maxMessageSize)
	}

	if !d.pending.Receiving() {
		d.pending = newPendingFile(d.newID(), d.now())
		started = true
		d.logger.Debug("received first frame of file", "transfer_id", d.pending.ID, "frame", f.Tag.String())
	}

	switch f.Tag {
	case frame.TagExtension:
		d.pending.Extension = f.Text
		d.logger.Debug("received file extension", "transfer_id", d.pending.ID, "extension", f.Text)
		return nil, started, false, nil
	case frame.TagMimeType:
		d.pending.MimeType = f.Text
		d.logger.Debug("received file mime type", "transfer_id", d.pending.ID, "mime_type", f.Text)
		return nil, started, false, nil
	case frame.TagPayload:
		file, err = d.applyPayload(f)
		return file, started, err == nil || KindOf(err).Aborts(), err
	default:
		// frame.Parse only returns known tags.
		return nil, started, false, d.reject(KindUnknownFrameType, "unhandled frame %s", f.Tag)
	}
}

func (d *Decoder) applyPayload(f frame.Frame) (*File, error) {
	p := &d.pending

	if !p.sizeKnown {
		if d.maxFileSize > 0 && int64(f.TotalSize) > d.maxFileSize {
			return nil, d.abandon(KindFileTooLarge, "declared %d bytes, limit is %d", f.TotalSize, d.maxFileSize)
		}
		p.DeclaredSize = f.TotalSize
		p.ExpectedChunks = frame.ExpectedChunks(f.TotalSize, d.maxPayloadSize)
		p.sizeKnown = true
	} else if f.TotalSize != p.DeclaredSize {
		return nil, d.abandon(KindTotalSizeChanged, "declared %d bytes, first payload declared %d", f.TotalSize, p.DeclaredSize)
	}

	chunk := make([]byte, len(f.Payload))
	copy(chunk, f.Payload)
	p.Chunks = append(p.Chunks, chunk)
	p.Received++
	p.ReceivedBytes += int64(len(chunk))

	d.logger.Debug("received file chunk",
		"transfer_id", p.ID,
		"chunks", p.Received,
		"expected_chunks", p.ExpectedChunks,
	)

	expected := int(p.ExpectedChunks)
	switch {
	case p.Received == expected:
		return d.complete(), nil
	case p.Received > expected:
		return nil, d.abandon(KindSizeMismatch, "%d/%d chunks", p.Received, p.ExpectedChunks)
	default:
		return nil, nil
	}
}

func (d *Decoder) complete() *File {
	p := &d.pending
	p.State = StateCompleted

	duration := d.now().Sub(p.StartedAt)
	var bitrate int64
	if ms := duration.Milliseconds(); ms > 0 {
		bitrate = int64(math.Round(float64(p.ExpectedChunks) * float64(d.maxPayloadSize) / float64(ms)))
	}

	file := &File{
		ID:           p.ID,
		MimeType:     p.MimeType,
		Extension:    p.Extension,
		Bytes:        bytes.Join(p.Chunks, nil),
		DeclaredSize: p.DeclaredSize,
		Metrics: Metrics{
			Chunks:      p.ExpectedChunks,
			Duration:    duration,
			BitrateKbps: bitrate,
		},
	}
	p.Chunks = nil

	if int64(len(file.Bytes)) != int64(p.DeclaredSize) {
		d.logger.Warn("assembled size differs from declared size",
			"transfer_id", p.ID,
			"bytes", len(file.Bytes),
			"declared", p.DeclaredSize,
		)
	}
	d.logger.Info("received complete file",
		"transfer_id", p.ID,
		"mime_type", p.MimeType,
		"extension", p.Extension,
		"bytes", len(file.Bytes),
		"duration", duration,
		"bitrate_kbps", bitrate,
	)
	return file
}

// abandon ends the transfer in flight with an error.
func (d *Decoder) abandon(kind ErrorKind, format string, args ...any) error {
	p := &d.pending
	p.State = StateErrored
	p.Chunks = nil
	err := newProtocolError(kind, p.ID, format, args...)
	d.logger.Error("transfer abandoned", "transfer_id", p.ID, "kind", kind.String(), "error", err.Err)
	return err
}

// reject drops a frame without touching the pending file.
func (d *Decoder) reject(kind ErrorKind, format string, args ...any) error {
	var id string
	if d.pending.Receiving() {
		id = d.pending.ID
	}
	err := newProtocolError(kind, id, format, args...)
	d.logger.Warn("frame dropped", "transfer_id", id, "kind", kind.String(), "error", err.Err)
	return err
}

// Abort forces the decoder back to idle without producing a file or an
// error. It reports whether a transfer was in flight.
func (d *Decoder) Abort() bool {
	d.mu.Lock()

	wasReceiving := d.pending.Receiving()
	prog := d.pending.progress()
	if wasReceiving {
		d.logger.Info("transfer aborted",
			"transfer_id", d.pending.ID,
			"chunks", d.pending.Received,
			"expected_chunks", d.pending.ExpectedChunks,
		)
	}
	d.pending = PendingFile{}
	d.mu.Unlock()

	if wasReceiving && d.onProgress != nil {
		prog.State = StateIdle
		d.onProgress(prog)
	}
	return wasReceiving
}

// State returns the current lifecycle state.
func (d *Decoder) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending.State
}

// Progress returns the progress of the current or last transfer.
func (d *Decoder) Progress() Progress {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending.progress()
}

// Snapshot returns a copy of the pending file. The chunk slices are shared
// and must not be modified.
func (d *Decoder) Snapshot() PendingFile {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := d.pending
	snap.Chunks = append([][]byte(nil), d.pending.Chunks...)
	return snap
}
