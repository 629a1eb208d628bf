// Package sink forwards what a session produces to other systems: frames to
// NATS, device state to a Redis shadow hash.
package sink

import (
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/jakecoffman/endoscope"
)

// FramePublisher publishes every assembled frame as a JPEG message.
type FramePublisher struct {
	nc      *nats.Conn
	subject string
}

func NewFramePublisher(nc *nats.Conn, device string) *FramePublisher {
	return &FramePublisher{nc: nc, subject: FrameSubject(device)}
}

// FrameSubject is endoscope.frames.<device>.
func FrameSubject(device string) string {
	return "endoscope.frames." + token(device)
}

func (p *FramePublisher) Subject() string {
	return p.subject
}

func (p *FramePublisher) Publish(frame *endoscope.Frame) error {
	return p.nc.PublishMsg(frameMsg(p.subject, frame))
}

func frameMsg(subject string, frame *endoscope.Frame) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = frame.Data
	msg.Header.Set("Content-Type", "image/jpeg")
	msg.Header.Set("Frame-Id", strconv.FormatInt(frame.ID, 10))
	msg.Header.Set("Rotation", strconv.Itoa(int(frame.Rotation())))
	msg.Header.Set("Parts", strconv.Itoa(frame.Parts))
	return msg
}

// token makes s usable as a single subject or key token.
func token(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
