package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/op/go-logging"

	"github.com/jakecoffman/endoscope"
	"github.com/jakecoffman/endoscope/device"
)

var log = logging.MustGetLogger("fakescope")

var listen = flag.String("listen", "0.0.0.0", "address to serve on")
var videoPort = flag.Int("video", endoscope.DefaultVideoPort, "video port")
var controlPort = flag.Int("control", endoscope.DefaultControlPort, "control port")
var protocol = flag.Int("protocol", 2, "1 for marker framed firmware, 2 for counted")
var fps = flag.Int("fps", 20, "frames per second")
var angle = flag.Int("angle", 270, "rotation hint sent with every frame")
var battery = flag.Int("battery", 8500, "battery level in percent*100")
var loss = flag.Int("loss", 0, "percent of datagrams to drop")
var duplicate = flag.Int("duplicate", 0, "percent of datagrams to send twice")
var reorder = flag.Bool("reorder", false, "shuffle the parts of every frame")
var loglevel = flag.Int("loglevel", int(logging.INFO), "log level (5 for debug)")

func main() {
	flag.Parse()

	logging.SetLevel(logging.Level(*loglevel), "")

	config := device.NewDefaultConfig()
	config.Protocol = *protocol
	config.FPS = *fps
	config.Angle = uint16(*angle)
	config.Battery = *battery
	config.LossPercent = *loss
	config.DuplicatePercent = *duplicate
	config.Reorder = *reorder

	emulator, err := device.Listen(
		net.JoinHostPort(*listen, strconv.Itoa(*videoPort)),
		net.JoinHostPort(*listen, strconv.Itoa(*controlPort)),
		config,
	)
	if err != nil {
		log.Fatal(err)
	}
	log.Infof("video on %s, control on %s", emulator.VideoAddr(), emulator.ControlAddr())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := emulator.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(err)
		os.Exit(1)
	}
}
