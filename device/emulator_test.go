package device

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/jakecoffman/endoscope"
)

func TestTestPattern(t *testing.T) {
	jpeg, err := TestPattern(64, 48, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(jpeg, endoscope.DefaultJPEGMarker) {
		t.Error("pattern should start with the JFIF marker", jpeg[:10])
	}
	img, err := endoscope.DecodeJPEG(jpeg)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 48 {
		t.Error("size", img.Bounds())
	}
	if again := withJFIF(jpeg); !bytes.Equal(again, jpeg) {
		t.Error("JFIF header inserted twice")
	}
}

func TestDatagrams(t *testing.T) {
	config := NewDefaultConfig()
	config.PartSize = 100
	e := New(config)

	data := bytes.Repeat([]byte{1, 2, 3}, 100)
	datagrams := e.Datagrams(9, data)
	if len(datagrams) != 3 {
		t.Fatal("expected 3 datagrams got", len(datagrams))
	}
	var f endoscope.Fragment
	endoscope.ReadFragment(datagrams[2], &f)
	if !f.FrameEnd || f.Part != 2 || f.Frame != 9 || f.Rotation() != 270 {
		t.Error("terminal fragment", f)
	}

	config.Protocol = 1
	for _, d := range New(config).Datagrams(9, data) {
		if d[1] != 0 || d[3] != 0 {
			t.Error("protocol 1 sends no end flags", d[:4])
		}
	}

	config.Protocol = 2
	config.LossPercent = 100
	if d := New(config).Datagrams(9, data); len(d) != 0 {
		t.Error("total loss sent", len(d))
	}

	config.LossPercent = 0
	config.DuplicatePercent = 100
	if d := New(config).Datagrams(9, data); len(d) != 6 {
		t.Error("expected every datagram twice, got", len(d))
	}
}

func TestEmulator_Control(t *testing.T) {
	config := NewDefaultConfig()
	em, err := Listen("127.0.0.1:0", "127.0.0.1:0", config)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go em.Serve(ctx)

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	client := endoscope.NewControlClient("test", conn, em.ControlAddr(), time.Second)

	info, err := client.DeviceInfo(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.Protocol != 2 || info.Width != 640 || info.Angle != 270 || info.SSID != "fakescope" {
		t.Error("info", info)
	}
	if percent, ok := client.Battery(ctx); !ok || percent != 85 {
		t.Error("battery", percent, ok)
	}
	if err := client.SetBrightness(ctx, 40); err != nil {
		t.Fatal(err)
	}
	if em.Brightness() != 40 {
		t.Error("brightness", em.Brightness())
	}

	video, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer video.Close()
	video.WriteTo(endoscope.StartStreamCommand, em.VideoAddr())

	video.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, endoscope.MaxDatagramBytes)
	n, _, err := video.ReadFrom(buf)
	if err != nil {
		t.Fatal("no video after start", err)
	}
	var f endoscope.Fragment
	if err := endoscope.ReadFragment(buf[:n], &f); err != nil {
		t.Error(err)
	}
	if !em.Streaming() {
		t.Error("emulator not streaming")
	}
}
