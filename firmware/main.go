//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"runtime/interrupt"
	"time"

	"github.com/raffitch/flowmeter/pkg/firmware"
)

// bootClock reports monotonic time since power-on.
type bootClock struct{}

func (bootClock) NowMicros() uint64 { return uint64(time.Now().UnixNano() / 1000) }
func (bootClock) NowMillis() uint64 { return uint64(time.Now().UnixNano() / 1e6) }

// irqGate masks all interrupts for the duration of a shared-state access.
// Single core, single edge source: a global mask is the whole story.
type irqGate struct {
	state interrupt.State
}

func (g *irqGate) Suspend() { g.state = interrupt.Disable() }
func (g *irqGate) Resume()  { interrupt.Restore(g.state) }

// valvePin adapts the relay output pin to the session's valve interface.
type valvePin struct {
	pin machine.Pin
}

func (v valvePin) Open()  { v.pin.High() }
func (v valvePin) Close() { v.pin.Low() }

func main() {
	uart := machine.UART0
	uart.Configure(machine.UARTConfig{BaudRate: UART_BAUD_RATE})

	clock := bootClock{}
	gate := &irqGate{}
	counter := firmware.NewPulseCounter(gate, DEBOUNCE_US)

	// Attach the edge interrupt first so no pulses are lost during the
	// (slow) amplifier initialization.
	PIN_PULSE.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	PIN_PULSE.SetInterrupt(machine.PinRising, func(machine.Pin) {
		counter.HandleEdge(clock.NowMicros())
	})

	PIN_VALVE.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_VALVE.Low()

	sampler := firmware.NewWeightSampler(newHX711(PIN_HX_SCK, PIN_HX_DT), clock, COUNTS_PER_GRAM)

	sess := firmware.NewSession(counter, sampler, valvePin{pin: PIN_VALVE}, clock, uart, uart, FRAME_INTERVAL_MS)
	sess.Begin()

	for {
		sess.Step()
		// Short sleep keeps the loop responsive without starving the
		// scheduler.
		time.Sleep(100 * time.Microsecond)
	}
}
