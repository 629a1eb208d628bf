package endoscope

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrDuplicatePart is returned by Push for a fragment that added nothing new.
var ErrDuplicatePart = errors.New("duplicate part")

// FrameAssemblyStrategy turns resolved fragments into frames. Each firmware
// generation of the camera marks frame boundaries differently.
type FrameAssemblyStrategy interface {
	Name() string
	// Push consumes one fragment and returns a frame when the fragment finished one.
	Push(frameID int64, f *Fragment) (*Frame, error)
	Reset()
}

// NewStrategy creates the strategy registered under kind.
func NewStrategy(kind string, config *Config) (FrameAssemblyStrategy, error) {
	switch kind {
	case StrategyCounted, StrategyAuto:
		return NewCountedStrategy(config.MaxPendingFrames), nil
	case StrategyMarker:
		return NewMarkerStrategy(config.JPEGMarker, config.MaxFrameBytes), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, kind)
	}
}

// CountedStrategy reassembles frames from part indices and the terminal fragment's part count.
type CountedStrategy struct {
	Table         *ReassemblyTable
	lastCompleted int64
	haveCompleted bool
}

func NewCountedStrategy(maxPending int) *CountedStrategy {
	return &CountedStrategy{Table: NewReassemblyTable(maxPending)}
}

func (s *CountedStrategy) Name() string { return StrategyCounted }

func (s *CountedStrategy) Push(frameID int64, f *Fragment) (*Frame, error) {
	// everything below the last completed frame was evicted and can never complete
	if s.haveCompleted && frameID < s.lastCompleted {
		return nil, ErrStaleFragment
	}
	// the pending bound may have evicted the emitted entry, the frame is still done
	if s.haveCompleted && frameID == s.lastCompleted && !s.Table.Contains(frameID) {
		return nil, ErrDuplicatePart
	}

	evictedBefore := s.Table.Evicted()
	switch s.Table.Insert(frameID, f) {
	case InsertRejected:
		return nil, ErrRejectedPart
	case InsertEmitted:
		return nil, ErrDuplicatePart
	case InsertDuplicate:
		if !s.Table.IsComplete(frameID) {
			return nil, ErrDuplicatePart
		}
	}

	if !s.Table.IsComplete(frameID) {
		return nil, nil
	}

	data, err := s.Table.Assemble(frameID)
	if err != nil {
		return nil, err
	}
	frame := &Frame{
		ID:    frameID,
		Data:  data,
		Aux:   s.Table.Aux(frameID),
		Parts: s.Table.Parts(frameID),
	}
	s.Table.MarkEmitted(frameID)
	s.Table.EvictOlderThan(frameID)
	frame.Skipped = int(s.Table.Evicted() - evictedBefore)

	s.lastCompleted = frameID
	s.haveCompleted = true
	return frame, nil
}

// Evicted returns how many incomplete frames the table dropped so far.
func (s *CountedStrategy) Evicted() uint64 {
	return s.Table.Evicted()
}

// LastCompleted returns the id of the newest emitted frame.
func (s *CountedStrategy) LastCompleted() (int64, bool) {
	return s.lastCompleted, s.haveCompleted
}

func (s *CountedStrategy) Reset() {
	s.Table.Reset()
	s.lastCompleted = 0
	s.haveCompleted = false
}

// MarkerStrategy is for the first firmware generation, which has no usable
// part framing. A start of image marker anywhere in a payload closes the frame
// accumulated so far. Frames may come out truncated or corrupted.
type MarkerStrategy struct {
	Marker        []byte
	MaxFrameBytes int

	buf     []byte
	frameID int64
	aux     [4]byte
	parts   int
	started bool
}

func NewMarkerStrategy(marker []byte, maxFrameBytes int) *MarkerStrategy {
	if len(marker) == 0 {
		marker = DefaultJPEGMarker
	}
	return &MarkerStrategy{Marker: marker, MaxFrameBytes: maxFrameBytes}
}

func (s *MarkerStrategy) Name() string { return StrategyMarker }

func (s *MarkerStrategy) Push(frameID int64, f *Fragment) (*Frame, error) {
	idx := bytes.Index(f.Payload, s.Marker)
	if idx < 0 {
		if !s.started {
			// nothing to attach this to until the first marker shows up
			return nil, nil
		}
		if s.MaxFrameBytes > 0 && len(s.buf)+len(f.Payload) > s.MaxFrameBytes {
			s.drop()
			return nil, ErrFrameTooLarge
		}
		s.buf = append(s.buf, f.Payload...)
		s.parts++
		return nil, nil
	}

	var frame *Frame
	if s.started {
		data := append(s.buf, f.Payload[:idx]...)
		if len(data) > 0 {
			frame = &Frame{
				ID:    s.frameID,
				Data:  data,
				Aux:   s.aux,
				Parts: s.parts,
			}
		}
	}

	s.buf = append(make([]byte, 0, 2*len(f.Payload)), f.Payload[idx:]...)
	s.frameID = frameID
	s.aux = f.Aux
	s.parts = 1
	s.started = true
	return frame, nil
}

func (s *MarkerStrategy) drop() {
	s.buf = nil
	s.parts = 0
	s.started = false
}

func (s *MarkerStrategy) Reset() {
	s.drop()
	s.frameID = 0
	s.aux = [4]byte{}
}
