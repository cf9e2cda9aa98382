package reassembly

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sheerbytes/dcfile/pkg/frame"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestDecoder(t *testing.T, maxMessageSize int) (*Decoder, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	seq := 0
	dec, err := NewDecoder(Options{
		MaxMessageSize: maxMessageSize,
		Now:            clock.Now,
		NewID: func() string {
			seq++
			return fmt.Sprintf("t%d", seq)
		},
	})
	if err != nil {
		t.Fatalf("NewDecoder error: %v", err)
	}
	return dec, clock
}

func mustText(t *testing.T, tag frame.Tag, s string) []byte {
	t.Helper()
	var (
		buf []byte
		err error
	)
	if tag == frame.TagExtension {
		buf, err = frame.EncodeExtension(s)
	} else {
		buf, err = frame.EncodeMimeType(s)
	}
	if err != nil {
		t.Fatalf("encode %s: %v", tag, err)
	}
	return buf
}

func mustHandle(t *testing.T, dec *Decoder, buf []byte) *File {
	t.Helper()
	file, err := dec.Handle(buf)
	if err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	return file
}

func TestCompletesTwoChunkTransfer(t *testing.T) {
	dec, clock := newTestDecoder(t, 16)
	if dec.MaxPayloadSize() != 11 {
		t.Fatalf("expected max payload 11, got %d", dec.MaxPayloadSize())
	}

	data := []byte("abcdefghijklmnopqrst") // 20 bytes
	mustHandle(t, dec, mustText(t, frame.TagExtension, "txt"))
	mustHandle(t, dec, mustText(t, frame.TagMimeType, "text/plain"))

	if f := mustHandle(t, dec, frame.EncodePayload(20, data[:11])); f != nil {
		t.Fatal("expected no file after first chunk")
	}
	p := dec.Progress()
	if p.ExpectedChunks != 2 || p.Chunks != 1 {
		t.Fatalf("expected 1/2 chunks, got %d/%d", p.Chunks, p.ExpectedChunks)
	}
	if p.Fraction() != 0.5 {
		t.Fatalf("expected fraction 0.5, got %v", p.Fraction())
	}

	clock.Advance(2 * time.Millisecond)
	file := mustHandle(t, dec, frame.EncodePayload(20, data[11:]))
	if file == nil {
		t.Fatal("expected completed file")
	}
	if !bytes.Equal(file.Bytes, data) {
		t.Fatalf("expected %q, got %q", data, file.Bytes)
	}
	if len(file.Bytes) != 20 {
		t.Fatalf("expected 20 bytes, got %d", len(file.Bytes))
	}
	if file.MimeType != "text/plain" || file.Extension != "txt" {
		t.Fatalf("unexpected metadata %q %q", file.MimeType, file.Extension)
	}
	if file.ID != "t1" {
		t.Fatalf("expected transfer id t1, got %s", file.ID)
	}
	if file.Metrics.Duration != 2*time.Millisecond {
		t.Fatalf("expected duration 2ms, got %s", file.Metrics.Duration)
	}
	// round(2 * 11 / 2)
	if file.Metrics.BitrateKbps != 11 {
		t.Fatalf("expected bitrate 11, got %d", file.Metrics.BitrateKbps)
	}

	snap := dec.Snapshot()
	if !snap.Valid() || snap.Receiving() {
		t.Fatalf("expected valid and not receiving, got state %s", snap.State)
	}
	if snap.Received != int(snap.ExpectedChunks) {
		t.Fatalf("expected received == expected, got %d/%d", snap.Received, snap.ExpectedChunks)
	}
}

func TestPayloadFrameCanStartTransfer(t *testing.T) {
	dec, _ := newTestDecoder(t, 16)

	file := mustHandle(t, dec, frame.EncodePayload(5, []byte("hello")))
	if file == nil {
		t.Fatal("expected completed single-chunk file")
	}
	if string(file.Bytes) != "hello" {
		t.Fatalf("unexpected bytes %q", file.Bytes)
	}
	if file.MimeType != "" || file.Extension != "" {
		t.Fatalf("expected empty metadata, got %q %q", file.MimeType, file.Extension)
	}
	if file.Metrics.BitrateKbps != 0 {
		t.Fatalf("expected zero bitrate for zero duration, got %d", file.Metrics.BitrateKbps)
	}
}

func TestThreePayloadFramesOverflow(t *testing.T) {
	// maxMessageSize 16 leaves 11 payload bytes per frame. The third frame
	// shrinks the declared total so the transfer overflows instead of completing.
	dec, _ := newTestDecoder(t, 16)
	mustHandle(t, dec, mustText(t, frame.TagExtension, "bin"))

	for i := 0; i < 2; i++ {
		if f := mustHandle(t, dec, frame.EncodePayload(33, make([]byte, 11))); f != nil {
			t.Fatalf("unexpected completion after frame %d", i+1)
		}
	}
	file, err := dec.Handle(frame.EncodePayload(20, make([]byte, 9)))
	if file != nil {
		t.Fatal("expected no file after the third frame")
	}
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	if dec.Snapshot().Valid() {
		t.Fatal("expected valid == false")
	}
}

func TestFrameAfterCompletionStartsNewTransfer(t *testing.T) {
	dec, _ := newTestDecoder(t, 16)
	for i := 0; i < 2; i++ {
		mustHandle(t, dec, frame.EncodePayload(20, make([]byte, 10)))
	}
	if !dec.Snapshot().Valid() {
		t.Fatal("expected completion by chunk count after two frames")
	}

	file, err := dec.Handle(frame.EncodePayload(20, make([]byte, 11)))
	if err != nil || file != nil {
		t.Fatalf("expected a new in-progress transfer, got file=%v err=%v", file, err)
	}
	if p := dec.Progress(); p.TransferID != "t2" || p.Chunks != 1 {
		t.Fatalf("unexpected progress %+v", p)
	}
}

func TestOverflowYieldsSizeMismatch(t *testing.T) {
	// A zero total expects no chunks, so the first payload overflows.
	dec, _ := newTestDecoder(t, 16)
	mustHandle(t, dec, mustText(t, frame.TagExtension, "bin"))

	file, err := dec.Handle(frame.EncodePayload(0, []byte("x")))
	if file != nil {
		t.Fatal("expected no file")
	}
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	if KindOf(err) != KindSizeMismatch {
		t.Fatalf("expected kind SizeMismatch, got %s", KindOf(err))
	}
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.TransferID != "t1" {
		t.Fatalf("expected ProtocolError for t1, got %#v", err)
	}

	snap := dec.Snapshot()
	if snap.State != StateErrored || snap.Valid() || snap.Receiving() {
		t.Fatalf("expected errored, got %s", snap.State)
	}
	if len(snap.Chunks) != 0 {
		t.Fatalf("expected chunks released, got %d", len(snap.Chunks))
	}
}

func TestStaleFrameAfterErrorStartsNewTransfer(t *testing.T) {
	dec, _ := newTestDecoder(t, 16)
	if _, err := dec.Handle(frame.EncodePayload(0, []byte("x"))); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}

	file, err := dec.Handle(frame.EncodePayload(20, make([]byte, 11)))
	if err != nil || file != nil {
		t.Fatalf("expected in-progress transfer, got file=%v err=%v", file, err)
	}
	snap := dec.Snapshot()
	if snap.ID != "t2" || snap.State != StateReceiving || snap.Received != 1 {
		t.Fatalf("expected new transfer t2 with one chunk, got %+v", snap)
	}
}

func TestExtensionFrameSetsExtensionOnly(t *testing.T) {
	dec, _ := newTestDecoder(t, 16)

	mustHandle(t, dec, mustText(t, frame.TagExtension, "png"))
	snap := dec.Snapshot()
	if snap.Extension != "png" {
		t.Fatalf("expected extension png, got %q", snap.Extension)
	}
	if len(snap.Chunks) != 0 || snap.ExpectedChunks != 0 || snap.SizeKnown() {
		t.Fatalf("extension frame touched chunk state: %+v", snap)
	}

	mustHandle(t, dec, frame.EncodePayload(20, make([]byte, 11)))
	mustHandle(t, dec, mustText(t, frame.TagExtension, "jpg"))
	snap = dec.Snapshot()
	if snap.Extension != "jpg" || len(snap.Chunks) != 1 || snap.ExpectedChunks != 2 {
		t.Fatalf("unexpected state after mid-transfer extension: %+v", snap)
	}
}

func TestFirstFrameResetsAfterCompletion(t *testing.T) {
	for _, tag := range []frame.Tag{frame.TagExtension, frame.TagMimeType} {
		t.Run(tag.String(), func(t *testing.T) {
			dec, _ := newTestDecoder(t, 16)
			mustHandle(t, dec, mustText(t, frame.TagMimeType, "text/plain"))
			if f := mustHandle(t, dec, frame.EncodePayload(3, []byte("abc"))); f == nil {
				t.Fatal("expected completion")
			}

			mustHandle(t, dec, mustText(t, tag, "x"))
			snap := dec.Snapshot()
			if snap.State != StateReceiving || snap.Valid() {
				t.Fatalf("expected receiving, got %s", snap.State)
			}
			if len(snap.Chunks) != 0 || snap.Received != 0 || snap.SizeKnown() {
				t.Fatalf("expected reset chunks, got %+v", snap)
			}
			if tag == frame.TagExtension && snap.MimeType != "" {
				t.Fatalf("expected mime type reset, got %q", snap.MimeType)
			}
			if snap.ID != "t2" {
				t.Fatalf("expected new transfer id t2, got %s", snap.ID)
			}
		})
	}
}

func TestConsecutiveFirstFramesAreIdempotent(t *testing.T) {
	dec, _ := newTestDecoder(t, 16)
	mustHandle(t, dec, mustText(t, frame.TagExtension, "png"))
	mustHandle(t, dec, mustText(t, frame.TagMimeType, "image/png"))

	snap := dec.Snapshot()
	if len(snap.Chunks) != 0 || snap.Valid() {
		t.Fatalf("expected empty chunks and not valid, got %+v", snap)
	}
	if snap.Extension != "png" || snap.MimeType != "image/png" {
		t.Fatalf("expected both metadata values kept, got %q %q", snap.Extension, snap.MimeType)
	}
	// Only the first frame starts a transfer.
	if snap.ID != "t1" {
		t.Fatalf("expected transfer t1, got %s", snap.ID)
	}
}

func TestUnknownTagLeavesPendingFileUnchanged(t *testing.T) {
	dec, _ := newTestDecoder(t, 16)
	mustHandle(t, dec, mustText(t, frame.TagExtension, "png"))
	mustHandle(t, dec, frame.EncodePayload(20, make([]byte, 11)))
	before := dec.Snapshot()

	for _, buf := range [][]byte{{0x42, 1, 2, 3}, {}, nil} {
		file, err := dec.Handle(buf)
		if file != nil {
			t.Fatal("expected no file")
		}
		if !errors.Is(err, ErrUnknownFrameType) {
			t.Fatalf("expected ErrUnknownFrameType, got %v", err)
		}
		if KindOf(err).Aborts() {
			t.Fatal("unknown frame type must not abort the transfer")
		}
	}

	after := dec.Snapshot()
	if after.ID != before.ID || after.State != before.State || after.Received != before.Received ||
		after.Extension != before.Extension || after.ExpectedChunks != before.ExpectedChunks ||
		len(after.Chunks) != len(before.Chunks) {
		t.Fatalf("pending file changed: before=%+v after=%+v", before, after)
	}
}

func TestUnknownTagWhileIdleDoesNotStartTransfer(t *testing.T) {
	dec, _ := newTestDecoder(t, 16)
	_, err := dec.Handle([]byte{0x01})
	if !errors.Is(err, ErrUnknownFrameType) {
		t.Fatalf("expected ErrUnknownFrameType, got %v", err)
	}
	if dec.State() != StateIdle {
		t.Fatalf("expected idle, got %s", dec.State())
	}
}

func TestMalformedFramesAreDropped(t *testing.T) {
	dec, _ := newTestDecoder(t, 16)
	mustHandle(t, dec, frame.EncodePayload(20, make([]byte, 11)))

	tests := []struct {
		name string
		buf  []byte
	}{
		{"short header", []byte{byte(frame.TagPayload), 20, 0}},
		{"oversized", frame.EncodePayload(20, make([]byte, 12))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dec.Handle(tt.buf)
			if !errors.Is(err, ErrMalformedFrame) {
				t.Fatalf("expected ErrMalformedFrame, got %v", err)
			}
			p := dec.Progress()
			if p.State != StateReceiving || p.Chunks != 1 {
				t.Fatalf("expected untouched transfer, got %+v", p)
			}
		})
	}
}

func TestExpectedChunksPinnedOnFirstPayload(t *testing.T) {
	dec, _ := newTestDecoder(t, 16)
	mustHandle(t, dec, frame.EncodePayload(30, make([]byte, 11)))
	if p := dec.Progress(); p.ExpectedChunks != 3 {
		t.Fatalf("expected 3 chunks, got %d", p.ExpectedChunks)
	}

	_, err := dec.Handle(frame.EncodePayload(40, make([]byte, 11)))
	if !errors.Is(err, ErrTotalSizeChanged) {
		t.Fatalf("expected ErrTotalSizeChanged, got %v", err)
	}
	if !KindOf(err).Aborts() {
		t.Fatal("expected a changed total to abort the transfer")
	}
	if dec.State() != StateErrored {
		t.Fatalf("expected errored, got %s", dec.State())
	}
}

func TestMaxFileSize(t *testing.T) {
	dec, err := NewDecoder(Options{MaxMessageSize: 16, MaxFileSize: 10})
	if err != nil {
		t.Fatalf("NewDecoder error: %v", err)
	}
	_, err = dec.Handle(frame.EncodePayload(20, make([]byte, 11)))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	if dec.State() != StateErrored {
		t.Fatalf("expected errored, got %s", dec.State())
	}
}

func TestAbort(t *testing.T) {
	dec, _ := newTestDecoder(t, 16)
	if dec.Abort() {
		t.Fatal("expected no transfer in flight")
	}

	mustHandle(t, dec, frame.EncodePayload(20, make([]byte, 11)))
	if !dec.Abort() {
		t.Fatal("expected an aborted transfer")
	}
	snap := dec.Snapshot()
	if snap.State != StateIdle || len(snap.Chunks) != 0 || snap.ID != "" {
		t.Fatalf("expected idle zero value, got %+v", snap)
	}

	// The next chunk starts a new transfer rather than completing the old one.
	file := mustHandle(t, dec, frame.EncodePayload(20, make([]byte, 11)))
	if file != nil {
		t.Fatal("expected in-progress transfer")
	}
	if p := dec.Progress(); p.TransferID != "t2" || p.Chunks != 1 {
		t.Fatalf("unexpected progress %+v", p)
	}
}

func TestHooks(t *testing.T) {
	var started []string
	var progress []Progress
	dec, err := NewDecoder(Options{
		MaxMessageSize: 16,
		NewID:          func() string { return "id" },
		OnStart:        func(id string) { started = append(started, id) },
		OnProgress:     func(p Progress) { progress = append(progress, p) },
	})
	if err != nil {
		t.Fatalf("NewDecoder error: %v", err)
	}

	frames, err := frame.Split(make([]byte, 20), "", "bin", 16)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	var file *File
	for _, f := range frames {
		if out := mustHandle(t, dec, f); out != nil {
			file = out
		}
	}
	if file == nil {
		t.Fatal("expected completed file")
	}
	if len(started) != 1 || started[0] != "id" {
		t.Fatalf("expected one start, got %v", started)
	}
	if len(progress) != 2 {
		t.Fatalf("expected two progress events, got %d", len(progress))
	}
	if progress[1].State != StateCompleted || progress[1].ReceivedBytes != 20 {
		t.Fatalf("unexpected final progress %+v", progress[1])
	}
}

func TestNewDecoderValidation(t *testing.T) {
	if _, err := NewDecoder(Options{MaxMessageSize: frame.HeaderSize}); !errors.Is(err, frame.ErrMessageSizeTooSmall) {
		t.Fatalf("expected ErrMessageSizeTooSmall, got %v", err)
	}
	if _, err := NewDecoder(Options{MaxFileSize: -1}); err == nil {
		t.Fatal("expected error for negative max file size")
	}
	dec, err := NewDecoder(Options{})
	if err != nil {
		t.Fatalf("NewDecoder error: %v", err)
	}
	if dec.MaxPayloadSize() != frame.DefaultMaxMessageSize-frame.HeaderSize {
		t.Fatalf("unexpected default max payload %d", dec.MaxPayloadSize())
	}
}

func TestProgressReportsEndedTransfers(t *testing.T) {
	var progress []Progress
	seq := 0
	dec, err := NewDecoder(Options{
		MaxMessageSize: 16,
		NewID: func() string {
			seq++
			return fmt.Sprintf("t%d", seq)
		},
		OnProgress: func(p Progress) { progress = append(progress, p) },
	})
	if err != nil {
		t.Fatalf("NewDecoder error: %v", err)
	}

	mustHandle(t, dec, frame.EncodePayload(30, make([]byte, 11)))
	if _, err := dec.Handle(frame.EncodePayload(40, make([]byte, 11))); !errors.Is(err, ErrTotalSizeChanged) {
		t.Fatalf("expected ErrTotalSizeChanged, got %v", err)
	}
	mustHandle(t, dec, frame.EncodePayload(30, make([]byte, 11)))
	if !dec.Abort() {
		t.Fatal("expected an aborted transfer")
	}

	want := []struct {
		id    string
		state State
	}{
		{"t1", StateReceiving},
		{"t1", StateErrored},
		{"t2", StateReceiving},
		{"t2", StateIdle},
	}
	if len(progress) != len(want) {
		t.Fatalf("expected %d progress events, got %d", len(want), len(progress))
	}
	for i, w := range want {
		if progress[i].TransferID != w.id || progress[i].State != w.state {
			t.Errorf("event %d: expected %s/%s, got %s/%s", i, w.id, w.state, progress[i].TransferID, progress[i].State)
		}
	}
}

func TestSplitDecodeAcrossChunkBoundaries(t *testing.T) {
	// maxMessageSize 16 leaves 11 payload bytes per frame.
	for _, size := range []int{1, 10, 11, 12, 21, 22, 23, 32, 33, 34, 110, 111, 200} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			data := make([]byte, size)
			for i := range data {
				data[i] = byte(i * 7)
			}
			frames, err := frame.Split(data, "a/b", "bin", 16)
			if err != nil {
				t.Fatalf("Split error: %v", err)
			}
			want := (size + 10) / 11
			if len(frames) != 2+want {
				t.Fatalf("expected %d frames, got %d", 2+want, len(frames))
			}

			dec, _ := newTestDecoder(t, 16)
			var file *File
			for i, f := range frames {
				out := mustHandle(t, dec, f)
				if out != nil && i != len(frames)-1 {
					t.Fatalf("completed early at frame %d", i)
				}
				file = out
			}
			if file == nil {
				t.Fatal("expected completed file")
			}
			if !bytes.Equal(file.Bytes, data) {
				t.Fatalf("bytes differ for size %d", size)
			}
			if int(file.Metrics.Chunks) != want {
				t.Fatalf("expected %d chunks, got %d", want, file.Metrics.Chunks)
			}
			if file.Extension != "bin" || file.MimeType != "a/b" {
				t.Fatalf("unexpected metadata %q %q", file.Extension, file.MimeType)
			}
		})
	}
}

func TestUnknownTagErrorNamesTagOnce(t *testing.T) {
	dec, _ := newTestDecoder(t, 16)
	mustHandle(t, dec, mustText(t, frame.TagExtension, "png"))

	_, err := dec.Handle([]byte{0xff, 1})
	if !errors.Is(err, ErrUnknownFrameType) {
		t.Fatalf("expected ErrUnknownFrameType, got %v", err)
	}
	if got, want := err.Error(), "transfer t1: unknown frame type: tag 255"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestTextFrameLongerThanMessageSizeIsAccepted(t *testing.T) {
	dec, _ := newTestDecoder(t, 16)
	buf := mustText(t, frame.TagMimeType, "application/vnd.example+json")
	if len(buf) <= 16 {
		t.Fatalf("expected a frame longer than 16 bytes, got %d", len(buf))
	}
	mustHandle(t, dec, buf)
	if snap := dec.Snapshot(); snap.MimeType != "application/vnd.example+json" {
		t.Fatalf("unexpected mime type %q", snap.MimeType)
	}
}

func TestCompleteAndErrorHooks(t *testing.T) {
	var files []*File
	var errs []*ProtocolError
	dec, err := NewDecoder(Options{
		MaxMessageSize: 16,
		NewID:          func() string { return "id" },
		OnComplete:     func(f *File) { files = append(files, f) },
		OnError:        func(e *ProtocolError) { errs = append(errs, e) },
	})
	if err != nil {
		t.Fatalf("NewDecoder error: %v", err)
	}

	mustHandle(t, dec, frame.EncodePayload(20, make([]byte, 11)))
	if len(files) != 0 || len(errs) != 0 {
		t.Fatalf("expected no events mid-transfer, got %d files %d errors", len(files), len(errs))
	}
	file := mustHandle(t, dec, frame.EncodePayload(20, make([]byte, 9)))
	if len(files) != 1 || files[0] != file {
		t.Fatalf("expected the returned file to be reported, got %v", files)
	}

	if _, err := dec.Handle([]byte{0x42}); err == nil {
		t.Fatal("expected an error for an unknown tag")
	}
	if _, err := dec.Handle(frame.EncodePayload(0, []byte("x"))); err == nil {
		t.Fatal("expected an error for an overflowing transfer")
	}
	if len(errs) != 2 {
		t.Fatalf("expected two error events, got %d", len(errs))
	}
	if errs[0].Kind != KindUnknownFrameType || errs[1].Kind != KindSizeMismatch {
		t.Fatalf("unexpected error kinds %s, %s", errs[0].Kind, errs[1].Kind)
	}
	if len(files) != 1 {
		t.Fatalf("expected no further files, got %d", len(files))
	}
}
