// Package device emulates the camera side of the protocol so the client can be
// exercised without hardware.
package device

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/op/go-logging"

	"github.com/jakecoffman/endoscope"
)

var log = logging.MustGetLogger("device")

// Config describes the emulated camera.
type Config struct {
	Name string
	// Protocol 1 sends no frame end flags, 2 marks the terminal fragment of every frame.
	Protocol int
	Width    int
	Height   int
	FPS      int
	Angle    uint16
	PartSize int
	// Battery is reported as percent*100.
	Battery int
	// Info is returned verbatim for the device info query when set.
	Info string

	// LossPercent drops datagrams, DuplicatePercent repeats them, Reorder shuffles the parts of a frame.
	LossPercent      int
	DuplicatePercent int
	Reorder          bool
	Seed             int64
}

func NewDefaultConfig() Config {
	return Config{
		Name:     "fakescope",
		Protocol: 2,
		Width:    640,
		Height:   480,
		FPS:      20,
		Angle:    270,
		PartSize: 1024,
		Battery:  8500,
	}
}

// Emulator serves the control port and streams test pattern frames on the
// video port to whoever sent the start command last.
type Emulator struct {
	Config  Config
	video   net.PacketConn
	control net.PacketConn
	rand    *rand.Rand

	mu         sync.Mutex
	client     net.Addr
	streaming  bool
	brightness int
	sentFrames [][]byte
	keepSent   bool
}

// Listen binds the emulator's video and control ports, e.g. "127.0.0.1:0".
func Listen(videoAddr, controlAddr string, config Config) (*Emulator, error) {
	video, err := net.ListenPacket("udp", videoAddr)
	if err != nil {
		return nil, fmt.Errorf("listen video %s: %w", videoAddr, err)
	}
	control, err := net.ListenPacket("udp", controlAddr)
	if err != nil {
		video.Close()
		return nil, fmt.Errorf("listen control %s: %w", controlAddr, err)
	}
	e := New(config)
	e.video, e.control = video, control
	return e, nil
}

// New creates an emulator without sockets. Only Datagrams is usable on it.
func New(config Config) *Emulator {
	if config.PartSize <= 0 {
		config.PartSize = endoscope.MaxDatagramBytes - endoscope.FragmentHeaderBytes
	}
	if config.FPS <= 0 {
		config.FPS = 20
	}
	return &Emulator{
		Config: config,
		rand:   rand.New(rand.NewSource(config.Seed)),
	}
}

func (e *Emulator) VideoAddr() *net.UDPAddr {
	return e.video.LocalAddr().(*net.UDPAddr)
}

func (e *Emulator) ControlAddr() *net.UDPAddr {
	return e.control.LocalAddr().(*net.UDPAddr)
}

// Streaming reports whether a client started the stream and has not stopped it.
func (e *Emulator) Streaming() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streaming
}

// Brightness is the last LED brightness a client set.
func (e *Emulator) Brightness() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.brightness
}

// KeepSent makes the emulator remember every JPEG it streams, for tests.
func (e *Emulator) KeepSent() {
	e.mu.Lock()
	e.keepSent = true
	e.mu.Unlock()
}

// Sent returns the JPEGs streamed so far when KeepSent was called.
func (e *Emulator) Sent() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.sentFrames...)
}

// Serve runs until ctx ends. It closes both sockets before returning.
func (e *Emulator) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		e.serveControl()
	}()
	go func() {
		defer wg.Done()
		e.serveVideoCommands()
	}()
	go func() {
		defer wg.Done()
		e.stream(ctx)
	}()

	<-ctx.Done()
	e.video.Close()
	e.control.Close()
	wg.Wait()
	return ctx.Err()
}

func (e *Emulator) serveControl() {
	buf := make([]byte, endoscope.MaxDatagramBytes)
	for {
		n, from, err := e.control.ReadFrom(buf)
		if err != nil {
			return
		}
		query := endoscope.ParseResponse(bytes.TrimSpace(buf[:n]))
		reply := e.reply(query)
		if reply == "" {
			log.Warningf("[%s] unknown control query %q", e.Config.Name, buf[:n])
			continue
		}
		if _, err := e.control.WriteTo([]byte(reply), from); err != nil {
			log.Errorf("[%s] control reply: %v", e.Config.Name, err)
		}
	}
}

func (e *Emulator) reply(query endoscope.Response) string {
	switch "type=" + query.Type() {
	case endoscope.QueryDeviceInfo:
		if e.Config.Info != "" {
			return e.Config.Info
		}
		return fmt.Sprintf("type=2002&protocol=%d&w=%d&h=%d&fps=%d&ratio=4:3&angle=%d&hardware=V1.1&company=emulated&id=0000&firmware=1820220727&ssid=%s&dn=Y8&bl=%d",
			e.Config.Protocol, e.Config.Width, e.Config.Height, e.Config.FPS, e.Config.Angle, e.Config.Name, e.Config.Battery/100)
	case endoscope.QueryBattery:
		return fmt.Sprintf("type=2001&data=%d", e.Config.Battery)
	case endoscope.QueryBrightness:
		value, _ := query.Int("value")
		e.mu.Lock()
		e.brightness = value
		e.mu.Unlock()
		return fmt.Sprintf("type=2003&value=%d", value)
	}
	return ""
}

func (e *Emulator) serveVideoCommands() {
	buf := make([]byte, endoscope.MaxDatagramBytes)
	for {
		n, from, err := e.video.ReadFrom(buf)
		if err != nil {
			return
		}
		switch {
		case bytes.Equal(buf[:n], endoscope.StartStreamCommand):
			e.mu.Lock()
			if !e.streaming {
				log.Infof("[%s] streaming to %s", e.Config.Name, from)
			}
			e.client, e.streaming = from, true
			e.mu.Unlock()
		case bytes.Equal(buf[:n], endoscope.StopStreamCommand):
			e.mu.Lock()
			e.streaming = false
			e.mu.Unlock()
			log.Infof("[%s] stream stopped by %s", e.Config.Name, from)
		default:
			log.Debugf("[%s] unknown video command % x", e.Config.Name, buf[:n])
		}
	}
}

func (e *Emulator) stream(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(e.Config.FPS))
	defer ticker.Stop()

	var counter uint8
	var n int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		client, streaming := e.client, e.streaming
		e.mu.Unlock()
		if !streaming {
			continue
		}

		jpeg, err := TestPattern(e.Config.Width, e.Config.Height, n)
		if err != nil {
			log.Errorf("[%s] test pattern: %v", e.Config.Name, err)
			return
		}
		n++
		e.mu.Lock()
		if e.keepSent {
			e.sentFrames = append(e.sentFrames, jpeg)
		}
		e.mu.Unlock()

		for _, datagram := range e.Datagrams(counter, jpeg) {
			if _, err := e.video.WriteTo(datagram, client); err != nil {
				if !strings.Contains(err.Error(), "closed") {
					log.Errorf("[%s] video send: %v", e.Config.Name, err)
				}
				return
			}
		}
		counter++
	}
}

// Datagrams splits jpeg for the wire and applies the configured impairments.
func (e *Emulator) Datagrams(counter uint8, jpeg []byte) [][]byte {
	var aux [4]byte
	endoscope.SetRotation(&aux, e.Config.Angle)
	datagrams := endoscope.SplitFrame(counter, jpeg, e.Config.PartSize, aux)
	if e.Config.Protocol == 1 {
		for _, d := range datagrams {
			d[1], d[3] = 0, 0
		}
	}
	if e.Config.Reorder {
		e.rand.Shuffle(len(datagrams), func(i, j int) {
			datagrams[i], datagrams[j] = datagrams[j], datagrams[i]
		})
	}

	out := datagrams[:0:0]
	for _, d := range datagrams {
		if e.Config.LossPercent > 0 && e.rand.Intn(100) < e.Config.LossPercent {
			continue
		}
		out = append(out, d)
		if e.Config.DuplicatePercent > 0 && e.rand.Intn(100) < e.Config.DuplicatePercent {
			out = append(out, d)
		}
	}
	return out
}
