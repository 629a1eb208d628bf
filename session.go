package endoscope

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Session owns everything needed to talk to one camera: the video and control
// sockets, the reassembly engine and the last battery reading. Only one
// goroutine may read frames; the control client may be used from anywhere.
type Session struct {
	Config  *Config
	Engine  *Engine
	Control *ControlClient
	Info    DeviceInfo

	video       *net.UDPConn
	control     *net.UDPConn
	videoAddr   *net.UDPAddr
	controlAddr *net.UDPAddr
	buf         []byte

	lastBatteryPoll time.Time
	mu              sync.Mutex
	battery         float64
	batteryOK       bool

	closeOnce sync.Once
	closed    atomic.Bool
}

// Dial binds the local video and control ports and prepares a session with the camera.
// Nothing is sent until Start.
func Dial(config *Config) (*Session, error) {
	videoAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(config.DeviceHost, strconv.Itoa(config.VideoPort)))
	if err != nil {
		return nil, fmt.Errorf("resolve video address: %w", err)
	}
	controlAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(config.DeviceHost, strconv.Itoa(config.ControlPort)))
	if err != nil {
		return nil, fmt.Errorf("resolve control address: %w", err)
	}

	engine, err := NewEngine(config)
	if err != nil {
		return nil, err
	}

	video, err := net.ListenUDP("udp", &net.UDPAddr{Port: config.LocalVideoPort})
	if err != nil {
		return nil, fmt.Errorf("bind video port %d: %w", config.LocalVideoPort, err)
	}
	control, err := net.ListenUDP("udp", &net.UDPAddr{Port: config.LocalControlPort})
	if err != nil {
		video.Close()
		return nil, fmt.Errorf("bind control port %d: %w", config.LocalControlPort, err)
	}

	log.Infof("[%s] video %s -> %s, control %s -> %s", config.Name, video.LocalAddr(), videoAddr, control.LocalAddr(), controlAddr)
	return &Session{
		Config:      config,
		Engine:      engine,
		Control:     NewControlClient(config.Name, control, controlAddr, config.ControlTimeout),
		video:       video,
		control:     control,
		videoAddr:   videoAddr,
		controlAddr: controlAddr,
		buf:         make([]byte, MaxDatagramBytes),
	}, nil
}

// Start queries the device, picks the assembly strategy when configured as auto,
// asks for the stream and sets the initial LED brightness. Only failing to
// send the start command is an error; the control channel is best effort.
func (s *Session) Start(ctx context.Context) error {
	info, err := s.Control.DeviceInfo(ctx)
	if err != nil {
		log.Warningf("[%s] device info unavailable: %v", s.Config.Name, err)
	} else {
		s.Info = info
		log.Infof("[%s] device %s %s firmware %s, %dx%d@%d, protocol %d", s.Config.Name, info.Company, info.Model, info.Firmware, info.Width, info.Height, info.FPS, info.Protocol)
		if s.Config.Strategy == StrategyAuto && info.Strategy() != s.Engine.Strategy.Name() {
			strategy, err := NewStrategy(info.Strategy(), s.Config)
			if err != nil {
				return err
			}
			s.Engine.SetStrategy(strategy)
		}
	}

	s.pollBattery(ctx)

	if err := s.SendStart(); err != nil {
		return err
	}

	if s.Config.InitialBrightness >= 0 {
		if err := s.Control.SetBrightness(ctx, s.Config.InitialBrightness); err != nil {
			log.Warningf("[%s] setting brightness failed: %v", s.Config.Name, err)
		}
	}
	return nil
}

// SendStart asks the camera to stream to the local video port. UDP loses
// some of these, so it is sent Config.StartRepeat times.
func (s *Session) SendStart() error {
	for i := 0; i < s.Config.StartRepeat; i++ {
		if _, err := s.video.WriteToUDP(StartStreamCommand, s.videoAddr); err != nil {
			return fmt.Errorf("send start command: %w", err)
		}
	}
	return nil
}

// ReadFrame receives datagrams until one completes a frame. It returns a
// *NoDataTimeoutError when the camera stays silent for Config.VideoTimeout.
// Broken datagrams and undecodable frames are logged and skipped.
func (s *Session) ReadFrame(ctx context.Context) (*Frame, error) {
	// wake the blocked read when ctx ends
	stop := context.AfterFunc(ctx, func() {
		s.video.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.closed.Load() {
			return nil, ErrSessionClosed
		}

		if err := s.video.SetReadDeadline(time.Now().Add(s.Config.VideoTimeout)); err != nil {
			return nil, err
		}
		// ctx may have ended before the new deadline replaced the one set on cancel
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, from, err := s.video.ReadFromUDP(s.buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if s.closed.Load() {
				return nil, ErrSessionClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, &NoDataTimeoutError{After: s.Config.VideoTimeout}
			}
			return nil, err
		}
		if s.Config.StrictSource && !from.IP.Equal(s.videoAddr.IP) {
			log.Debugf("[%s] ignoring video datagram from %s", s.Config.Name, from)
			continue
		}

		frame, err := s.Engine.ReceivePacket(s.buf[:n])
		if err != nil || frame == nil {
			// already counted and logged by the engine
			continue
		}

		// a frame boundary is the safe point for control traffic
		if s.Config.BatteryPollInterval > 0 && time.Since(s.lastBatteryPoll) >= s.Config.BatteryPollInterval {
			s.pollBattery(ctx)
		}
		return frame, nil
	}
}

// Run feeds frames into q until ctx ends, the session closes or the camera goes
// silent. Frames the consumer is too slow for are dropped from q.
func (s *Session) Run(ctx context.Context, q *FrameQueue) error {
	for {
		frame, err := s.ReadFrame(ctx)
		if err != nil {
			return err
		}
		if q.Push(frame) {
			s.Engine.Counters[CounterNumFramesDropped]++
			log.Debugf("[%s] display too slow, dropped oldest queued frame", s.Config.Name)
		}
	}
}

func (s *Session) pollBattery(ctx context.Context) {
	s.lastBatteryPoll = time.Now()
	percent, ok := s.Control.Battery(ctx)

	s.mu.Lock()
	s.battery, s.batteryOK = percent, ok
	s.mu.Unlock()

	if ok {
		log.Infof("[%s] battery %.0f%%", s.Config.Name, percent)
	}
	if s.Config.BatteryFunction != nil {
		s.Config.BatteryFunction(s.Config.Context, percent, ok)
	}
}

// Battery returns the last battery reading. ok is false while it is unknown.
func (s *Session) Battery() (percent float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.battery, s.batteryOK
}

// LocalVideoAddr is the address the camera streams to.
func (s *Session) LocalVideoAddr() net.Addr {
	return s.video.LocalAddr()
}

// LocalControlAddr is the address control replies arrive at.
func (s *Session) LocalControlAddr() net.Addr {
	return s.control.LocalAddr()
}

// Close sends the stop command once, without waiting for anything, and releases
// both sockets. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if _, werr := s.video.WriteToUDP(StopStreamCommand, s.videoAddr); werr != nil {
			log.Warningf("[%s] sending stop command failed: %v", s.Config.Name, werr)
		}
		err = errors.Join(s.video.Close(), s.control.Close())
		log.Infof("[%s] session closed", s.Config.Name)
	})
	return err
}
