//go:build test

package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/op/go-logging"

	"github.com/jakecoffman/endoscope"
	"github.com/jakecoffman/endoscope/device"
)

// to profile, run `./soak -cpuprofile=prof -iterations=8000`, then run `go tool pprof soak prof`
var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to file")
var iterations = flag.Int("iterations", -1, "number of frames to send")
var loglevel = flag.Int("loglevel", int(logging.ERROR), "log level (5 for debug)")
var loss = flag.Int("loss", 5, "percent of datagrams to drop")
var duplicate = flag.Int("duplicate", 5, "percent of datagrams to send twice")

const numPatterns = 16

var patterns [numPatterns][]byte
var emulator *device.Emulator
var engine *endoscope.Engine
var sent, received int

func main() {
	flag.Parse()

	logging.SetLevel(logging.Level(*loglevel), "endoscope")

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	initialize()

	var quit bool

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT)

	go func() {
		<-signals
		quit = true
		close(signals)
	}()

	if *iterations > 0 {
		for i := 0; i < *iterations; i++ {
			if quit {
				break
			}
			iteration(i)
		}
	} else {
		for i := 0; !quit; i++ {
			iteration(i)
		}
	}

	fmt.Printf("\n%d of %d frames survived\n", received, sent)
	for i, name := range endoscope.CounterNames {
		fmt.Printf("%s: %d\n", name, engine.Counters[i])
	}
}

func initialize() {
	for i := range patterns {
		jpeg, err := device.TestPattern(320, 240, i)
		if err != nil {
			log.Fatal(err)
		}
		patterns[i] = jpeg
	}

	deviceConfig := device.NewDefaultConfig()
	deviceConfig.PartSize = 700
	deviceConfig.LossPercent = *loss
	deviceConfig.DuplicatePercent = *duplicate
	deviceConfig.Reorder = true
	emulator = device.New(deviceConfig)

	config := endoscope.NewDefaultConfig()
	config.Name = "soak"
	var err error
	engine, err = endoscope.NewEngine(config)
	if err != nil {
		log.Fatal(err)
	}
}

func iteration(i int) {
	expected := patterns[i%numPatterns]
	sent++
	for _, datagram := range emulator.Datagrams(uint8(i), expected) {
		frame, err := engine.ReceivePacket(datagram)
		if err != nil {
			log.Fatal("frame ", i, ": ", err)
		}
		if frame == nil {
			continue
		}
		if frame.ID != int64(i) {
			log.Fatal("expected frame ", i, " got ", frame.ID)
		}
		if !bytes.Equal(frame.Data, expected) {
			log.Fatal("frame ", i, " corrupted, ", len(frame.Data), " bytes instead of ", len(expected))
		}
		if frame.Rotation() != emulator.Config.Angle {
			log.Fatal("frame ", i, " rotation ", frame.Rotation(), " expected ", emulator.Config.Angle)
		}
		received++
	}
	fmt.Print(".")
}
