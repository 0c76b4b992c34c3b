package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/glizzus/opuskit/internal/datalayer"
	"github.com/glizzus/opuskit/internal/ogg"
	"github.com/glizzus/opuskit/internal/opus"
	"github.com/glizzus/opuskit/internal/pcm"
)

// Kind classifies why a pipeline did not complete.
type Kind int

const (
	KindUnknown Kind = iota
	KindInputNotFound
	KindUnsupportedContainer
	KindCorruptHeader
	KindCorruptStream
	KindUnsupportedConfig
	KindInvalidFrameSize
	KindDecodeFailure
	KindEncodeFailure
	KindOutputWriteFailure
	KindCancelled
	KindContractViolation
)

func (k Kind) String() string {
	switch k {
	case KindInputNotFound:
		return "input not found"
	case KindUnsupportedContainer:
		return "unsupported container"
	case KindCorruptHeader:
		return "corrupt header"
	case KindCorruptStream:
		return "corrupt stream"
	case KindUnsupportedConfig:
		return "unsupported config"
	case KindInvalidFrameSize:
		return "invalid frame size"
	case KindDecodeFailure:
		return "decode failure"
	case KindEncodeFailure:
		return "encode failure"
	case KindOutputWriteFailure:
		return "output write failure"
	case KindCancelled:
		return "cancelled"
	case KindContractViolation:
		return "contract violation"
	}
	return "unknown"
}

var (
	ErrCancelled      = errors.New("pipeline cancelled")
	ErrAlreadyStarted = errors.New("pipeline already started")
)

// Error is the failure reported to a pipeline's completion.
type Error struct {
	Kind  Kind
	Phase Phase
	Err   error
	// PartialPath is where partial output was kept, if it was.
	PartialPath string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s while %s", e.Kind, e.Phase)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.PartialPath != "" {
		msg += " (partial output kept at " + e.PartialPath + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrCancelled) match any cancellation.
func (e *Error) Is(target error) bool {
	return target == ErrCancelled && e.Kind == KindCancelled
}

var _ error = (*Error)(nil)

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf classifies err, looking through wrapping.
func KindOf(err error) Kind {
	var pe *Error
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &pe):
		return pe.Kind
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, opus.ErrDecodeFailure):
		return KindDecodeFailure
	case errors.Is(err, opus.ErrEncodeFailure):
		return KindEncodeFailure
	case errors.Is(err, opus.ErrInvalidFrameSize):
		return KindInvalidFrameSize
	case errors.Is(err, opus.ErrUnsupportedConfig):
		return KindUnsupportedConfig
	case errors.Is(err, ogg.ErrGranuleOrder), errors.Is(err, ErrAlreadyStarted):
		return KindContractViolation
	case errors.Is(err, ogg.ErrCorruptHeader):
		return KindCorruptHeader
	case errors.Is(err, ogg.ErrUnsupportedContainer), errors.Is(err, pcm.ErrUnsupportedFormat):
		return KindUnsupportedContainer
	case errors.Is(err, datalayer.ErrNotFound), errors.Is(err, datalayer.ErrInvalidLocator):
		return KindInputNotFound
	case errors.Is(err, ogg.ErrCorruptStream), errors.Is(err, opus.ErrInvalidPacket):
		return KindCorruptStream
	}
	return KindUnknown
}

// classify wraps err in an Error, keeping an existing classification and
// falling back to kind when nothing more specific is known.
func classify(kind Kind, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if k := KindOf(err); k != KindUnknown {
		kind = k
	}
	return newError(kind, err)
}
