package reassembly

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a decoder's pending file.
type State uint8

const (
	// StateIdle: no transfer has started, or the last one was aborted.
	StateIdle State = iota
	// StateReceiving: a transfer is in flight.
	StateReceiving
	// StateCompleted: the last transfer produced a file.
	StateCompleted
	// StateErrored: the last transfer was abandoned.
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceiving:
		return "receiving"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// PendingFile accumulates one transfer's metadata and chunks.
type PendingFile struct {
	ID        string
	MimeType  string
	Extension string
	State     State

	// DeclaredSize and ExpectedChunks are pinned by the first payload frame.
	DeclaredSize   int32
	ExpectedChunks uint32
	sizeKnown      bool

	// Chunks holds payload fragments in arrival order. It is released once
	// the transfer completes or errors; Received keeps the count.
	Chunks        [][]byte
	Received      int
	ReceivedBytes int64

	StartedAt time.Time
}

// newPendingFile is the reset value applied by the first frame of a transfer.
func newPendingFile(id string, now time.Time) PendingFile {
	return PendingFile{
		ID:        id,
		State:     StateReceiving,
		StartedAt: now,
	}
}

// Receiving reports whether a transfer is in flight.
func (p PendingFile) Receiving() bool {
	return p.State == StateReceiving
}

// Valid reports whether the transfer completed.
func (p PendingFile) Valid() bool {
	return p.State == StateCompleted
}

// SizeKnown reports whether a payload frame has pinned the declared size.
func (p PendingFile) SizeKnown() bool {
	return p.sizeKnown
}

func (p PendingFile) progress() Progress {
	return Progress{
		TransferID:     p.ID,
		State:          p.State,
		Chunks:         p.Received,
		ExpectedChunks: p.ExpectedChunks,
		ReceivedBytes:  p.ReceivedBytes,
		DeclaredSize:   p.DeclaredSize,
	}
}

// Progress is a point-in-time view of a transfer for UI observers.
type Progress struct {
	TransferID     string
	State          State
	Chunks         int
	ExpectedChunks uint32
	ReceivedBytes  int64
	DeclaredSize   int32
}

// Fraction returns Chunks/ExpectedChunks clamped to [0, 1], or 0 before the
// size is known.
func (p Progress) Fraction() float64 {
	if p.ExpectedChunks == 0 {
		return 0
	}
	f := float64(p.Chunks) / float64(p.ExpectedChunks)
	if f > 1 {
		return 1
	}
	return f
}
