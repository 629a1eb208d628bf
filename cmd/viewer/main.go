package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/color"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/op/go-logging"
	"github.com/redis/go-redis/v9"
	"gocv.io/x/gocv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jakecoffman/endoscope"
	"github.com/jakecoffman/endoscope/sink"
	"github.com/jakecoffman/endoscope/ui"
)

var log = logging.MustGetLogger("viewer")

var configPath = flag.String("config", "", "yaml configuration file")
var host = flag.String("host", "", "camera address (overrides config)")
var strategy = flag.String("strategy", "", "frame assembly: counted, marker or auto (overrides config)")
var loglevel = flag.Int("loglevel", int(logging.INFO), "log level (5 for debug)")
var logFile = flag.String("logfile", "", "also log to this file, rotated")
var snapshotDir = flag.String("snapshots", ".", "directory snapshots are written to")
var retries = flag.Int("retries", 3, "times to restart the stream after the camera went silent")
var natsURL = flag.String("nats", "", "publish frames to this NATS server")
var redisAddr = flag.String("redis", "", "mirror device state into this Redis server")

type viewer struct {
	session   *endoscope.Session
	state     *ui.State
	window    *gocv.Window
	publisher *sink.FramePublisher
	shadow    *sink.Shadow
	last      *endoscope.Frame
}

func main() {
	flag.Parse()

	setupLogging(logging.Level(*loglevel), *logFile)

	config, err := endoscope.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *host != "" {
		config.DeviceHost = *host
	}
	if *strategy != "" {
		config.Strategy = *strategy
	}
	if err := config.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	// gocv decodes for display, no need to decode twice
	config.DecodeFunction = nil

	v := &viewer{state: ui.NewState(config.InitialBrightness)}
	config.Context = v
	config.BatteryFunction = batteryChanged

	if *natsURL != "" {
		nc, err := nats.Connect(*natsURL)
		if err != nil {
			log.Fatalf("connect to NATS: %v", err)
		}
		defer nc.Close()
		v.publisher = sink.NewFramePublisher(nc, config.Name)
		log.Infof("publishing frames on %s", v.publisher.Subject())
	}
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatalf("connect to Redis: %v", err)
		}
		defer rdb.Close()
		v.shadow = sink.NewShadow(rdb, config.Name, sink.DefaultShadowTTL)
		log.Infof("mirroring device state into %s", v.shadow.Key())
	}

	if err := v.run(config); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func setupLogging(level logging.Level, file string) {
	format := logging.MustStringFormatter(`%{time:15:04:05.000} %{module} %{level:.4s} %{message}`)
	backends := []logging.Backend{
		logging.NewBackendFormatter(logging.NewLogBackend(os.Stderr, "", 0), format),
	}
	if file != "" {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    25,
			MaxAge:     7,
			MaxBackups: 5,
		}
		backends = append(backends, logging.NewBackendFormatter(logging.NewLogBackend(rotator, "", 0), format))
	}
	logging.SetBackend(backends...)
	logging.SetLevel(level, "")
}

func (v *viewer) run(config *endoscope.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()

	session, err := endoscope.Dial(config)
	if err != nil {
		return err
	}
	defer session.Close()
	v.session = session

	if err := session.Start(ctx); err != nil {
		return err
	}
	if v.shadow != nil && session.Info.Protocol != 0 {
		if err := v.shadow.UpdateInfo(ctx, session.Info); err != nil {
			log.Warningf("shadow: %v", err)
		}
	}

	v.window = gocv.NewWindow("Video Stream")
	defer v.window.Close()

	queue := endoscope.NewFrameQueue(config.QueueSize)
	runErr := make(chan error, 1)
	go func() {
		runErr <- v.intake(ctx, queue)
		queue.Close()
	}()

	for {
		select {
		case err := <-runErr:
			if errors.Is(err, context.Canceled) || errors.Is(err, endoscope.ErrSessionClosed) {
				return nil
			}
			return err
		default:
		}

		if frame, ok := queue.TryPop(); ok {
			v.show(frame)
		}

		switch v.state.HandleKey(v.window.WaitKey(5)) {
		case ui.ActionQuit:
			cancel()
			return nil
		case ui.ActionSnapshot:
			v.snapshot()
		case ui.ActionBrightness:
			brightness := v.state.Brightness
			go func() {
				if err := session.Control.SetBrightness(ctx, brightness); err != nil {
					log.Warningf("set brightness %d: %v", brightness, err)
				}
			}()
		}
	}
}

// intake reads frames until the session ends, restarting the stream a few
// times when the camera goes quiet.
func (v *viewer) intake(ctx context.Context, queue *endoscope.FrameQueue) error {
	attempts := 0
	for {
		err := v.session.Run(ctx, queue)
		var timeout *endoscope.NoDataTimeoutError
		if !errors.As(err, &timeout) {
			return err
		}
		attempts++
		if attempts > *retries {
			return fmt.Errorf("giving up: %w", err)
		}
		log.Warningf("%v, restarting stream (%d/%d)", err, attempts, *retries)
		if err := v.session.SendStart(); err != nil {
			return err
		}
	}
}

func (v *viewer) show(frame *endoscope.Frame) {
	img, err := render(frame, v.state)
	if err != nil {
		log.Warningf("%v", err)
		return
	}
	defer img.Close()

	if percent, ok := v.session.Battery(); ok {
		gocv.PutText(&img, fmt.Sprintf("%.0f%%", percent), image.Pt(10, 24), gocv.FontHersheySimplex, 0.6, color.RGBA{0, 255, 0, 0}, 2)
	}
	v.window.IMShow(img)
	v.last = frame

	if v.publisher != nil {
		if err := v.publisher.Publish(frame); err != nil {
			log.Warningf("publish frame %d: %v", frame.ID, err)
		}
	}
}

// render decodes the frame, masks it to the circular lens image unless full
// frame is on and rotates it upright.
func render(frame *endoscope.Frame, state *ui.State) (gocv.Mat, error) {
	img, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err == nil && img.Empty() {
		img.Close()
		err = errors.New("empty image")
	}
	if err != nil {
		return gocv.NewMat(), &endoscope.DecodeError{FrameID: frame.ID, Err: err}
	}

	rows, cols := img.Rows(), img.Cols()
	center := image.Pt(cols/2, rows/2)

	if !state.FullFrame {
		mask := gocv.Zeros(rows, cols, gocv.MatTypeCV8U)
		defer mask.Close()
		gocv.Circle(&mask, center, rows/2, color.RGBA{255, 255, 255, 0}, -1)
		masked := gocv.NewMat()
		gocv.BitwiseAndWithMask(img, img, &masked, mask)
		img.Close()
		img = masked
	}
	defer img.Close()

	rotation := gocv.GetRotationMatrix2D(center, float64(state.DisplayRotation(frame.Rotation())), 1)
	defer rotation.Close()
	out := gocv.NewMat()
	gocv.WarpAffine(img, &out, rotation, image.Pt(cols, rows))
	return out, nil
}

// snapshot writes the last shown frame's JPEG as the camera sent it.
func (v *viewer) snapshot() {
	if v.last == nil {
		log.Warning("no frame to save yet")
		return
	}
	name := filepath.Join(*snapshotDir, fmt.Sprintf("frame-%s-%d.jpg", time.Now().Format("20060102-150405"), v.last.ID))
	if err := os.WriteFile(name, v.last.Data, 0o644); err != nil {
		log.Errorf("save snapshot: %v", err)
		return
	}
	log.Infof("wrote %d bytes to %s", len(v.last.Data), name)
}

// batteryChanged runs on the intake goroutine at a frame boundary, so reading
// the engine counters here is safe.
func batteryChanged(c interface{}, percent float64, ok bool) {
	v := c.(*viewer)
	if v.shadow == nil || v.session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := v.shadow.UpdateBattery(ctx, percent, ok); err != nil {
		log.Warningf("shadow: %v", err)
	}
	if err := v.shadow.UpdateCounters(ctx, v.session.Engine.Counters); err != nil {
		log.Warningf("shadow: %v", err)
	}
}
