package reassembly

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a protocol error reported by the decoder.
type ErrorKind uint8

const (
	// KindUnknownFrameType: unsupported or missing type tag. The frame is dropped.
	KindUnknownFrameType ErrorKind = iota + 1
	// KindSizeMismatch: more chunks than the declared size allows. The transfer is abandoned.
	KindSizeMismatch
	// KindMalformedFrame: truncated header or oversized message. The frame is dropped.
	KindMalformedFrame
	// KindTotalSizeChanged: a payload frame disagrees with the pinned total. The transfer is abandoned.
	KindTotalSizeChanged
	// KindFileTooLarge: the declared total exceeds the configured limit. The transfer is abandoned.
	KindFileTooLarge
)

var (
	ErrUnknownFrameType = errors.New("unknown frame type")
	ErrSizeMismatch     = errors.New("received bigger file than advertised")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrTotalSizeChanged = errors.New("declared total size changed mid-transfer")
	ErrFileTooLarge     = errors.New("declared file size exceeds limit")
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnknownFrameType:
		return "UnknownFrameType"
	case KindSizeMismatch:
		return "SizeMismatch"
	case KindMalformedFrame:
		return "MalformedFrame"
	case KindTotalSizeChanged:
		return "TotalSizeChanged"
	case KindFileTooLarge:
		return "FileTooLarge"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindUnknownFrameType:
		return ErrUnknownFrameType
	case KindSizeMismatch:
		return ErrSizeMismatch
	case KindMalformedFrame:
		return ErrMalformedFrame
	case KindTotalSizeChanged:
		return ErrTotalSizeChanged
	case KindFileTooLarge:
		return ErrFileTooLarge
	default:
		return errors.New(k.String())
	}
}

// Aborts reports whether an error of this kind ends the transfer in flight.
func (k ErrorKind) Aborts() bool {
	switch k {
	case KindSizeMismatch, KindTotalSizeChanged, KindFileTooLarge:
		return true
	default:
		return false
	}
}

// ProtocolError is returned by Decoder.Handle for frames the decoder rejects.
// It matches its kind's sentinel with errors.Is.
type ProtocolError struct {
	Kind ErrorKind
	// TransferID is empty when no transfer was in flight.
	TransferID string
	Err        error
}

func newProtocolError(kind ErrorKind, transferID string, format string, args ...any) *ProtocolError {
	err := fmt.Errorf("%w: "+format, append([]any{kind.sentinel()}, args...)...)
	if kind == KindTotalSizeChanged {
		// A changed total is a size mismatch to callers that only know that kind.
		err = fmt.Errorf("%w: %w", ErrSizeMismatch, err)
	}
	return &ProtocolError{Kind: kind, TransferID: transferID, Err: err}
}

func (e *ProtocolError) Error() string {
	if e.TransferID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("transfer %s: %v", e.TransferID, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind of err, or 0 if err is not a ProtocolError.
func KindOf(err error) ErrorKind {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return 0
}
