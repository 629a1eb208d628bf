package endoscope

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrFragmentTooShort = errors.New("datagram shorter than fragment header")
	ErrStaleFragment    = errors.New("fragment belongs to a frame older than the last completed frame")
	ErrRejectedPart     = errors.New("part index beyond the frame's declared part count")
	ErrFrameTooLarge    = errors.New("accumulated frame exceeds maximum size")
	ErrUnknownStrategy  = errors.New("unknown frame assembly strategy")
	ErrSessionClosed    = errors.New("session closed")
)

// NoDataTimeoutError is returned when the video socket stays silent for the whole
// read timeout. The caller decides whether to retry, reconnect or give up.
type NoDataTimeoutError struct {
	After time.Duration
}

func (e *NoDataTimeoutError) Error() string {
	return fmt.Sprintf("no video data received for %v", e.After)
}

// Timeout lets callers treat the error like a net.Error timeout.
func (e *NoDataTimeoutError) Timeout() bool { return true }

// DecodeError means an assembled frame is not a valid image. The frame is dropped.
type DecodeError struct {
	FrameID int64
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("frame %d: decode failed: %v", e.FrameID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// MissingPartError is returned by Assemble for a frame that is not complete.
// Seeing it outside of tests indicates a bug in the caller.
type MissingPartError struct {
	FrameID int64
	Part    int
}

func (e *MissingPartError) Error() string {
	if e.Part < 0 {
		return fmt.Sprintf("frame %d: part count unknown", e.FrameID)
	}
	return fmt.Sprintf("frame %d: missing part %d", e.FrameID, e.Part)
}
