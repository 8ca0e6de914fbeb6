package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/raffitch/flowmeter/pkg/config"
	"github.com/raffitch/flowmeter/pkg/device"
	"github.com/raffitch/flowmeter/pkg/metrics"
	"github.com/raffitch/flowmeter/pkg/run"
	"github.com/raffitch/flowmeter/pkg/server"
)

// inactivityTick is how often the time-driven stop conditions are checked.
// It only needs to be comfortably shorter than the auto-stop window.
const inactivityTick = 250 * time.Millisecond

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use mocked device instead of serial port")
		addrFlag   = flag.String("addr", "", "Listen address override (host:port)")
	)
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Command line overrides
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *addrFlag != "" {
		cfg.Server.Addr = *addrFlag
	}

	var dev device.Device
	if *mockFlag {
		dev = device.NewMock(cfg)
		log.Print("Using mocked device")
	} else {
		dev = device.New(cfg.Serial.Port, cfg.Serial.Baud, device.DefaultBufferSize)
	}

	if err := dev.Connect(); err != nil {
		log.Fatalf("Failed to connect to device: %v", err)
	}

	ctrl := run.New(cfg)
	srv := server.New(cfg)

	// Client commands. Starts and stops go to the controller; reset goes
	// to the device and is confirmed through its ack stream.
	srv.HandleStart(func(volume float64) error {
		return ctrl.Start(run.Target{Volume: volume})
	})
	srv.HandleStop(ctrl.Stop)
	srv.HandleReset(func() error {
		return dev.Send(device.CmdReset)
	})

	ctrl.OnResult(func(res run.Result) {
		metrics.RunsCompleted.WithLabelValues(string(res.Reason)).Inc()
		srv.BroadcastResult(res)
		log.Printf("run stopped (%s): delta=%d elapsed=%.1fs ppl=%.1f",
			res.Reason, res.Delta, res.Elapsed, res.PulsesPerLiter)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		intr := make(chan os.Signal, 1)
		signal.Notify(intr, os.Interrupt)
		<-intr
		log.Print("Shutting down")
		cancel()
	}()

	srv.Status("serial-open")

	framesDone := make(chan struct{})
	go func() {
		defer close(framesDone)
		for f := range dev.Frames() {
			metrics.FramesReceived.Inc()
			metrics.CurrentPulses.Set(float64(f.Pulses))
			srv.SetPulses(f.Pulses)
			ctrl.Observe(f)
		}
		// Transport gone; a half-finished run yields no result.
		ctrl.Abandon()
	}()

	acksDone := make(chan struct{})
	go func() {
		defer close(acksDone)
		for a := range dev.Acks() {
			switch a {
			case device.AckReset:
				ctrl.NoteReset()
				srv.Status("counter-reset")
			case device.AckWeightError:
				log.Print("Device reports weight sensor unavailable")
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(inactivityTick)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				ctrl.CheckInactivity(now)
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := srv.ListenAndServe(ctx); err != nil {
		log.Printf("Server error: %v", err)
	}

	// Close the device last so the frame and ack readers drain cleanly.
	if err := dev.Close(); err != nil {
		log.Printf("Failed to close device: %v", err)
	}
	<-framesDone
	<-acksDone
}
