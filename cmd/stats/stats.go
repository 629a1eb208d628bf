//go:build test

package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/op/go-logging"

	"github.com/jakecoffman/endoscope"
)

const testFrameBytes = 2900
const testPartBytes = 290

var engine *endoscope.Engine
var datagramIndex int

func main() {
	logging.SetLevel(logging.ERROR, "endoscope")

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
			iteration(i)
		}
	} else {
		for i := 0; !quit; i++ {
			iteration(i)
		}
	}
}

func initialize() {
	config := endoscope.NewDefaultConfig()
	config.Name = "stats"
	config.DecodeFunction = nil

	var err error
	engine, err = endoscope.NewEngine(config)
	if err != nil {
		log.Fatal(err)
	}
}

func iteration(i int) {
	data := generateFrameData(i)
	for _, datagram := range endoscope.SplitFrame(uint8(i), data, testPartBytes, [4]byte{}) {
		// every seventh datagram is lost, so some frames never complete
		datagramIndex++
		if datagramIndex%7 == 0 {
			continue
		}
		if _, err := engine.ReceivePacket(datagram); err != nil {
			log.Fatal(err)
		}
	}

	if i%100 == 99 {
		printStats(i + 1)
	}
}

func generateFrameData(i int) []byte {
	data := make([]byte, testFrameBytes-i%testPartBytes)
	for j := range data {
		data[j] = byte((i + j) % 256)
	}
	return data
}

func printStats(frames int) {
	fmt.Printf("%d frames sent\n", frames)
	for i, name := range endoscope.CounterNames {
		fmt.Printf("  %-22s %d\n", name, engine.Counters[i])
	}
}
