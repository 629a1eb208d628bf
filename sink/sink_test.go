package sink

import (
	"testing"

	"github.com/jakecoffman/endoscope"
)

func TestSubjectAndKey(t *testing.T) {
	if s := FrameSubject("bench-1"); s != "endoscope.frames.bench-1" {
		t.Error(s)
	}
	if s := FrameSubject("lab.scope 2"); s != "endoscope.frames.lab_scope_2" {
		t.Error("dots and spaces must not split the subject:", s)
	}
	if s := FrameSubject(""); s != "endoscope.frames.unknown" {
		t.Error(s)
	}
	if k := ShadowKey("bench:1"); k != "endoscope:shadow:bench_1" {
		t.Error(k)
	}
}

func TestFrameMsg(t *testing.T) {
	frame := &endoscope.Frame{ID: 300, Data: []byte{0xFF, 0xD8}, Parts: 4}
	endoscope.SetRotation(&frame.Aux, 90)

	msg := frameMsg("endoscope.frames.x", frame)
	if msg.Subject != "endoscope.frames.x" || string(msg.Data) != string(frame.Data) {
		t.Error("subject", msg.Subject, "data", msg.Data)
	}
	for key, expected := range map[string]string{
		"Content-Type": "image/jpeg",
		"Frame-Id":     "300",
		"Rotation":     "90",
		"Parts":        "4",
	} {
		if v := msg.Header.Get(key); v != expected {
			t.Error(key, "=", v, "expected", expected)
		}
	}
}

func TestFields(t *testing.T) {
	info := infoFields(endoscope.DeviceInfo{Protocol: 2, Width: 640, Model: "Y8"})
	if info["protocol"] != 2 || info["width"] != 640 || info["model"] != "Y8" {
		t.Error(info)
	}

	var counters [endoscope.CounterMax]uint64
	counters[endoscope.CounterNumFramesCompleted] = 12
	fields := counterFields(counters)
	if len(fields) != endoscope.CounterMax {
		t.Error("expected a field per counter", fields)
	}
	if fields["frames_completed"] != uint64(12) {
		t.Error("frames completed", fields["frames_completed"])
	}
}
