package main

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/op/go-logging"

	"github.com/jakecoffman/endoscope"
)

const testMaxPacketBytes = endoscope.MaxDatagramBytes

var engines []*endoscope.Engine

func main() {
	logging.SetLevel(logging.CRITICAL, "endoscope")

	numIterations := -1

	if len(os.Args) > 1 {
		var err error
		numIterations, err = strconv.Atoi(os.Args[1])
		if err != nil {
			panic("argument 2 must be an integer")
		}
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

	if numIterations > 0 {
		for i := 0; i < numIterations; i++ {
			if quit {
				break
			}
			iteration()
		}
	} else {
		for i := 0; !quit; i++ {
			iteration()
		}
	}
}

func initialize() {
	for _, strategy := range []string{endoscope.StrategyCounted, endoscope.StrategyMarker} {
		config := endoscope.NewDefaultConfig()
		config.Name = strategy
		config.Strategy = strategy
		config.MaxFrameBytes = 64 * 1024
		engine, err := endoscope.NewEngine(config)
		if err != nil {
			panic(err)
		}
		engines = append(engines, engine)
	}
}

func iteration() {
	fmt.Print(".")

	packetData := make([]byte, testMaxPacketBytes)
	packetBytes := rand.Intn(testMaxPacketBytes-1) + 1
	for i := 0; i < packetBytes; i++ {
		packetData[i] = byte(rand.Int() % 256)
	}
	// give the marker strategy something to split on now and then
	if packetBytes > 32 && rand.Intn(10) == 0 {
		copy(packetData[endoscope.FragmentHeaderBytes+rand.Intn(16):], endoscope.DefaultJPEGMarker)
	}

	for _, engine := range engines {
		engine.ReceivePacket(packetData[:packetBytes])
	}
}
