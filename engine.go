package endoscope

import (
	"encoding/binary"
	"errors"
	"image"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("endoscope")

// Frame is one reassembled JPEG image.
type Frame struct {
	ID   int64
	Data []byte
	Aux  [4]byte
	// Parts is the number of fragments the frame was built from.
	Parts int
	// Skipped counts incomplete frames discarded while this one was being assembled.
	Skipped int
	// Image is set when the decode gate is enabled.
	Image image.Image
}

// Rotation is the orientation hint the camera attached to the frame.
func (f *Frame) Rotation() uint16 {
	return binary.BigEndian.Uint16(f.Aux[0:2])
}

// Engine runs every video datagram through fragment decoding, counter resolution,
// assembly and the decode gate. It is not safe for concurrent use.
type Engine struct {
	Config   *Config
	Strategy FrameAssemblyStrategy
	Resolver SequenceResolver
	Counters [CounterMax]uint64
	fragment Fragment
}

// NewEngine creates an engine using config.Strategy. "auto" starts out counted.
func NewEngine(config *Config) (*Engine, error) {
	strategy, err := NewStrategy(config.Strategy, config)
	if err != nil {
		return nil, err
	}
	return NewEngineWithStrategy(config, strategy), nil
}

func NewEngineWithStrategy(config *Config, strategy FrameAssemblyStrategy) *Engine {
	return &Engine{
		Config:   config,
		Strategy: strategy,
	}
}

// SetStrategy swaps the assembly strategy and forgets all partial state.
func (e *Engine) SetStrategy(strategy FrameAssemblyStrategy) {
	log.Infof("[%s] switching frame assembly from %s to %s", e.Config.Name, e.Strategy.Name(), strategy.Name())
	e.Strategy = strategy
	e.Resolver.Reset()
}

// ReceivePacket processes one video datagram. It returns a frame when the datagram
// completed one. Malformed input is counted and reported but never fatal; the
// only error a caller should act on beyond logging is *DecodeError.
func (e *Engine) ReceivePacket(packetData []byte) (*Frame, error) {
	e.Counters[CounterNumFragmentsReceived]++

	f := &e.fragment
	if err := ReadFragment(packetData, f); err != nil {
		log.Errorf("[%s] ignoring invalid fragment of %d bytes: %v", e.Config.Name, len(packetData), err)
		e.Counters[CounterNumFragmentsInvalid]++
		return nil, err
	}

	frameID := e.Resolver.Next(f.Frame)
	log.Debugf("[%s] fragment frame %d (raw %d) part %d end %v, %d bytes", e.Config.Name, frameID, f.Frame, f.Part, f.FrameEnd, len(f.Payload))

	evictedBefore := e.evicted()
	frame, err := e.Strategy.Push(frameID, f)
	e.Counters[CounterNumFramesEvicted] += e.evicted() - evictedBefore
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicatePart):
		log.Debugf("[%s] duplicate part %d of frame %d", e.Config.Name, f.Part, frameID)
		e.Counters[CounterNumFragmentsDuplicate]++
		return nil, nil
	case errors.Is(err, ErrStaleFragment):
		log.Debugf("[%s] ignoring stale fragment of frame %d", e.Config.Name, frameID)
		e.Counters[CounterNumFragmentsStale]++
		return nil, err
	default:
		log.Errorf("[%s] ignoring fragment of frame %d: %v", e.Config.Name, frameID, err)
		e.Counters[CounterNumFragmentsInvalid]++
		return nil, err
	}
	if frame == nil {
		return nil, nil
	}

	if e.Config.DecodeFunction != nil {
		img, err := e.Config.DecodeFunction(frame.Data)
		if err != nil {
			log.Warningf("[%s] dropping frame %d: image corrupted: %v", e.Config.Name, frame.ID, err)
			e.Counters[CounterNumFramesDecodeFailed]++
			return nil, &DecodeError{FrameID: frame.ID, Err: err}
		}
		frame.Image = img
	}

	log.Debugf("[%s] completed frame %d from %d parts (%d bytes)", e.Config.Name, frame.ID, frame.Parts, len(frame.Data))
	e.Counters[CounterNumFramesCompleted]++
	return frame, nil
}

// evicted reads the eviction count of strategies that keep a reassembly table.
func (e *Engine) evicted() uint64 {
	if s, ok := e.Strategy.(interface{ Evicted() uint64 }); ok {
		return s.Evicted()
	}
	return 0
}

func (e *Engine) Reset() {
	e.Strategy.Reset()
	e.Resolver.Reset()
	e.Counters = [CounterMax]uint64{}
}

const (
	CounterNumFragmentsReceived = iota
	CounterNumFragmentsInvalid
	CounterNumFragmentsStale
	CounterNumFragmentsDuplicate
	CounterNumFramesCompleted
	CounterNumFramesEvicted
	CounterNumFramesDecodeFailed
	CounterNumFramesDropped
	CounterMax
)

// CounterNames labels the counters for stats output.
var CounterNames = [CounterMax]string{
	"fragments received",
	"fragments invalid",
	"fragments stale",
	"fragments duplicate",
	"frames completed",
	"frames evicted",
	"frames decode failed",
	"frames dropped",
}
